// Package daterange decomposes open-ended scan spans into bounded
// calendar-month buckets, each small enough to be a single task.
package daterange

import "github.com/tweetwatch/scan-worker/api/types"

// Range is an inclusive date interval.
type Range struct {
	From  types.Date
	ToInc types.Date
}

// ToExclusive returns the exclusive upper bound of the range.
func (r Range) ToExclusive() types.Date {
	return r.ToInc.AddDays(1)
}

// Window converts the range to a scan window for the given profile.
func (r Range) Window(profileID int64) types.ScanWindow {
	return types.ScanWindow{
		ProfileID: profileID,
		DateFrom:  r.From,
		DateToInc: r.ToInc,
	}
}

// MonthBuckets splits [from, toInc] into contiguous, non-overlapping
// calendar-month buckets. The first and last buckets are clipped to the given
// bounds; every bucket in between covers a whole month. An inverted span
// (from after toInc) yields no buckets.
func MonthBuckets(from, toInc types.Date) []Range {
	if from.After(toInc) {
		return nil
	}

	var buckets []Range
	cursor := from
	for {
		monthEnd := cursor.MonthEnd()
		if !monthEnd.Before(toInc) {
			return append(buckets, Range{From: cursor, ToInc: toInc})
		}
		buckets = append(buckets, Range{From: cursor, ToInc: monthEnd})
		cursor = monthEnd.AddDays(1)
	}
}
