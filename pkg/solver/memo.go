package solver

import (
	"sort"
	"strconv"
	"strings"

	"github.com/layerforge/layerforge/pkg/types"
)

// deadEndMemo remembers partial assignments whose subtrees were fully
// explored without a solution, so the same dead end is not re-derived
// within one Solve call. Bounded, FIFO eviction.
type deadEndMemo struct {
	limit   int
	seen    map[string]bool
	inOrder []string
}

func newDeadEndMemo(limit int) *deadEndMemo {
	return &deadEndMemo{
		limit: limit,
		seen:  make(map[string]bool),
	}
}

func (m *deadEndMemo) contains(assignment types.Assignment) bool {
	return m.seen[signature(assignment)]
}

func (m *deadEndMemo) add(assignment types.Assignment) {
	sig := signature(assignment)
	if m.seen[sig] {
		return
	}

	if len(m.inOrder) >= m.limit {
		oldest := m.inOrder[0]
		m.inOrder = m.inOrder[1:]
		delete(m.seen, oldest)
	}

	m.seen[sig] = true
	m.inOrder = append(m.inOrder, sig)
}

// signature renders a partial assignment as a canonical string key
func signature(assignment types.Assignment) string {
	layerIDs := make([]int, 0, len(assignment))
	for id := range assignment {
		layerIDs = append(layerIDs, id)
	}
	sort.Ints(layerIDs)

	var b strings.Builder
	for i, id := range layerIDs {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Itoa(id))
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(assignment[id].ID))
	}
	return b.String()
}
