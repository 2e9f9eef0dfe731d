// Package aggregate ranks reply authors by the number of distinct discussions
// they joined, then by their total number of replies.
package aggregate

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/slackreports/pkg/models"
)

// DefaultTopN is used whenever the requested size is not a positive integer
const DefaultTopN = 10

// Stats is a running ReplierStat mapping that remembers first-seen author order
type Stats struct {
	byAuthor map[string]*models.ReplierStat
	order    []string
}

// NewStats returns an empty mapping
func NewStats() *Stats {
	return &Stats{byAuthor: make(map[string]*models.ReplierStat)}
}

// GetOrInsert returns the stat of author, inserting a zero value on first access
func (s *Stats) GetOrInsert(author string) *models.ReplierStat {
	if st, ok := s.byAuthor[author]; ok {
		return st
	}
	st := &models.ReplierStat{}
	s.byAuthor[author] = st
	s.order = append(s.order, author)
	return st
}

// Len is the number of authors seen so far
func (s *Stats) Len() int {
	return len(s.order)
}

// Fold adds the replies of messages to the running mapping. Self-replies are
// ignored; an author's discussions grow once per parent, responses once per reply.
func (s *Stats) Fold(messages []models.Message) {
	for _, msg := range messages {
		credited := make(map[string]struct{})
		for _, reply := range msg.Replies {
			if reply.Author == msg.Author {
				continue
			}
			st := s.GetOrInsert(reply.Author)
			st.Responses++
			if _, ok := credited[reply.Author]; !ok {
				credited[reply.Author] = struct{}{}
				st.Discussions++
			}
		}
	}
}

// Rank sorts by discussions then responses, both descending, keeping first-seen
// order for ties, and truncates to topN (DefaultTopN when topN <= 0).
func (s *Stats) Rank(topN int) []models.RankedReplier {
	if topN <= 0 {
		topN = DefaultTopN
	}

	ranked := make([]models.RankedReplier, 0, len(s.order))
	for _, author := range s.order {
		ranked = append(ranked, models.RankedReplier{AuthorID: author, Stat: *s.byAuthor[author]})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Stat, ranked[j].Stat
		if a.Discussions != b.Discussions {
			return a.Discussions > b.Discussions
		}
		return a.Responses > b.Responses
	})

	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

// Rank computes the top-repliers ranking of messages in one pass
func Rank(messages []models.Message, topN int) []models.RankedReplier {
	s := NewStats()
	s.Fold(messages)
	return s.Rank(topN)
}

// ValidateTopN interprets a caller-supplied size, falling back to DefaultTopN
// for anything that is not a positive integer.
func ValidateTopN(v any) int {
	var n int64
	switch t := v.(type) {
	case int:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case float64:
		if t != math.Trunc(t) || t > math.MaxInt32 {
			return DefaultTopN
		}
		n = int64(t)
	case json.Number:
		parsed, err := t.Int64()
		if err != nil {
			return DefaultTopN
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return DefaultTopN
		}
		n = parsed
	default:
		return DefaultTopN
	}

	if n <= 0 || n > math.MaxInt32 {
		return DefaultTopN
	}
	return int(n)
}
