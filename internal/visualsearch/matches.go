package visualsearch

import "iter"

type Match struct {
	ContentSign string
	Score       float64
	// Rank is the 1-based position in the remote response.
	Rank  int
	Brief string
}

// Matches is a finite, single-pass cursor over search results in the order
// the remote index returned them. Once consumed it stays empty.
type Matches struct {
	items   []Match
	next    int
	hasMore bool
}

// NewMatches wraps items in a cursor, numbering ranks by position.
func NewMatches(items []Match, hasMore bool) *Matches {
	for i := range items {
		items[i].Rank = i + 1
	}
	return &Matches{items: items, hasMore: hasMore}
}

func (m *Matches) Next() (Match, bool) {
	if m == nil || m.next >= len(m.items) {
		return Match{}, false
	}
	match := m.items[m.next]
	m.next++
	return match, true
}

// Remaining is the number of matches not yet consumed.
func (m *Matches) Remaining() int {
	if m == nil {
		return 0
	}
	return len(m.items) - m.next
}

// HasMore reports whether the remote index holds matches beyond this page.
func (m *Matches) HasMore() bool {
	return m != nil && m.hasMore
}

// All drains the cursor.
func (m *Matches) All() iter.Seq[Match] {
	return func(yield func(Match) bool) {
		for {
			match, ok := m.Next()
			if !ok || !yield(match) {
				return
			}
		}
	}
}
