package models

// FetchOutcome is the result class of one upstream call for one gap
type FetchOutcome int

const (
	// FetchOK means the API returned usable points
	FetchOK FetchOutcome = iota
	// FetchEmptyConfirmed means the API succeeded but had no usable points
	FetchEmptyConfirmed
	// FetchFailed means the call failed; the gap stays open
	FetchFailed
)

func (o FetchOutcome) String() string {
	switch o {
	case FetchOK:
		return "ok"
	case FetchEmptyConfirmed:
		return "empty_confirmed"
	case FetchFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CacheStatus grades how much of a requested range an offline cache covers
type CacheStatus string

const (
	CacheComplete CacheStatus = "complete"
	CachePartial  CacheStatus = "partial"
	CacheMissing  CacheStatus = "missing"
)
