// Package chunker splits calendar date ranges into bounded, contiguous chunks.
package chunker

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format accepted by ParseDate
const DateLayout = "2006-01-02"

// DefaultChunkDays is the chunk width used when none is configured
const DefaultChunkDays = 7

// DateChunk is one sub-interval of a range. End of chunk i equals Start of chunk i+1.
type DateChunk struct {
	Start time.Time
	End   time.Time
}

func (c DateChunk) String() string {
	return fmt.Sprintf("[%s, %s]", c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339))
}

// MalformedInputError reports an input that could not be interpreted
type MalformedInputError struct {
	Field string
	Value string
	Err   error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// ParseDate parses a YYYY-MM-DD calendar date in UTC
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, &MalformedInputError{Field: field, Value: value, Err: err}
	}
	return t, nil
}

// ParseRange parses both bounds and checks their order
func ParseRange(start, end string) (time.Time, time.Time, error) {
	s, err := ParseDate("start_date", start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	e, err := ParseDate("end_date", end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, &MalformedInputError{
			Field: "end_date",
			Value: end,
			Err:   fmt.Errorf("before start_date %s", start),
		}
	}
	return s, e, nil
}

// Split partitions [startDate 00:00:00, endDate 23:59:59] into chunks of at most
// days calendar days. The last chunk is truncated to the end of endDate.
// Callers guarantee endDate is not before startDate; days <= 0 means DefaultChunkDays.
func Split(startDate, endDate time.Time, days int) []DateChunk {
	if days <= 0 {
		days = DefaultChunkDays
	}

	start := dayStart(startDate)
	end := dayStart(endDate).Add(24*time.Hour - time.Second)

	var chunks []DateChunk
	for cur := start; ; {
		next := cur.AddDate(0, 0, days)
		if !next.Before(end) {
			chunks = append(chunks, DateChunk{Start: cur, End: end})
			return chunks
		}
		chunks = append(chunks, DateChunk{Start: cur, End: next})
		cur = next
	}
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
