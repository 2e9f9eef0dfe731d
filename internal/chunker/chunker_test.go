package chunker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate("date", s)
	require.NoError(t, err)
	return d
}

func TestSplit_Month(t *testing.T) {
	chunks := Split(date(t, "2024-01-01"), date(t, "2024-01-31"), 7)
	require.Len(t, chunks, 5)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), chunks[0].Start)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), chunks[0].End)
	assert.Equal(t, time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC), chunks[4].Start)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC), chunks[4].End)
}

func TestSplit_ShorterThanChunk(t *testing.T) {
	chunks := Split(date(t, "2024-03-10"), date(t, "2024-03-12"), 7)
	require.Len(t, chunks, 1)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), chunks[0].Start)
	assert.Equal(t, time.Date(2024, 3, 12, 23, 59, 59, 0, time.UTC), chunks[0].End)
}

func TestSplit_SingleDay(t *testing.T) {
	chunks := Split(date(t, "2024-02-29"), date(t, "2024-02-29"), 7)
	require.Len(t, chunks, 1)
	assert.Equal(t, 24*time.Hour-time.Second, chunks[0].End.Sub(chunks[0].Start))
}

func TestSplit_ExactWidth(t *testing.T) {
	chunks := Split(date(t, "2024-01-01"), date(t, "2024-01-07"), 7)
	assert.Len(t, chunks, 1)

	chunks = Split(date(t, "2024-01-01"), date(t, "2024-01-08"), 7)
	require.Len(t, chunks, 2)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), chunks[1].Start)
	assert.Equal(t, time.Date(2024, 1, 8, 23, 59, 59, 0, time.UTC), chunks[1].End)
}

func TestSplit_DefaultWidth(t *testing.T) {
	assert.Equal(t, Split(date(t, "2024-01-01"), date(t, "2024-02-15"), DefaultChunkDays),
		Split(date(t, "2024-01-01"), date(t, "2024-02-15"), 0))
}

// Chunks must be ascending, contiguous and cover exactly the requested range.
func TestSplit_Properties(t *testing.T) {
	starts := []string{"2023-12-25", "2024-01-01", "2024-02-28", "2024-06-30"}
	spans := []int{0, 1, 6, 7, 8, 30, 100, 400}
	widths := []int{1, 2, 3, 7, 10, 31}

	for _, s := range starts {
		for _, span := range spans {
			for _, w := range widths {
				start := date(t, s)
				end := start.AddDate(0, 0, span)
				chunks := Split(start, end, w)

				require.NotEmpty(t, chunks)
				assert.Equal(t, start, chunks[0].Start)
				assert.Equal(t, end.Add(24*time.Hour-time.Second), chunks[len(chunks)-1].End)

				for i, c := range chunks {
					assert.True(t, c.Start.Before(c.End), "chunk %d of %s+%d/%d is empty", i, s, span, w)
					assert.LessOrEqual(t, c.End.Sub(c.Start), time.Duration(w)*24*time.Hour)
					if i > 0 {
						assert.Equal(t, chunks[i-1].End, c.Start, "gap before chunk %d", i)
					}
				}
			}
		}
	}
}

func TestParseRange(t *testing.T) {
	s, e, err := ParseRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.True(t, s.Before(e))

	_, _, err = ParseRange("2024-13-01", "2024-01-31")
	var malformed *MalformedInputError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "start_date", malformed.Field)

	_, _, err = ParseRange("2024-02-01", "2024-01-31")
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "end_date", malformed.Field)

	_, _, err = ParseRange("2024-01-01", "yesterday")
	require.Error(t, err)
}
