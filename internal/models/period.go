package models

import "time"

// Period is the part of a requested range that falls inside one calendar month
type Period struct {
	Start int64  // unix seconds, inclusive
	End   int64  // unix seconds, inclusive
	Month string // YYYY-MM, UTC
}

// MonthKey formats the UTC calendar month of a unix timestamp
func MonthKey(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01")
}

// SplitMonthly splits [start, end] into consecutive calendar-month periods.
// Periods do not overlap and together cover the range exactly.
func SplitMonthly(start, end int64) []Period {
	if end < start {
		return nil
	}

	var periods []Period
	cursor := start
	for cursor <= end {
		t := time.Unix(cursor, 0).UTC()
		nextMonth := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC).Unix()

		periodEnd := nextMonth - 1
		if periodEnd > end {
			periodEnd = end
		}

		periods = append(periods, Period{Start: cursor, End: periodEnd, Month: MonthKey(cursor)})
		cursor = nextMonth
	}
	return periods
}
