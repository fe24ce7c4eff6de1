package models

import (
	"fmt"
	"time"
)

// Gap is an inclusive range of missing aligned timestamps
type Gap struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Timestamps lists the aligned slots covered by the gap
func (g Gap) Timestamps(interval int64) []int64 {
	return ExpectedTimestamps(g.Start, g.End, interval)
}

// Slots returns how many aligned slots the gap spans
func (g Gap) Slots(interval int64) int {
	if interval <= 0 || g.End < g.Start {
		return 0
	}
	return int((g.End-g.Start)/interval) + 1
}

func (g Gap) String() string {
	return fmt.Sprintf("%s..%s",
		time.Unix(g.Start, 0).UTC().Format(time.RFC3339),
		time.Unix(g.End, 0).UTC().Format(time.RFC3339))
}
