package batch

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/turtacn/stockscan/pkg/types/job"
)

// ShuffleFunc has the signature of rand.Shuffle.
type ShuffleFunc func(n int, swap func(i, j int))

// NewShuffle returns a ShuffleFunc drawing from src. The returned func
// serialises access, so it is safe for concurrent use even though src is
// not.
func NewShuffle(src rand.Source) ShuffleFunc {
	var mu sync.Mutex
	r := rand.New(src)
	return func(n int, swap func(i, j int)) {
		mu.Lock()
		defer mu.Unlock()
		r.Shuffle(n, swap)
	}
}

// SortItems returns a reordered copy of items; the input is never touched.
//
//   - speed: descending Priority, stable on ties.
//   - quality: ascending Priority, stable on ties.
//   - balanced: a uniform shuffle drawn from shuffle (rand.Shuffle if nil).
//
// An unknown mode keeps submission order.
func SortItems(items []job.Item, mode job.PriorityMode, shuffle ShuffleFunc) []job.Item {
	order := sortOrder(items, mode, shuffle)
	out := make([]job.Item, len(order))
	for i, idx := range order {
		out[i] = items[idx]
	}
	return out
}

// sortOrder is SortItems over submission indices, so the orchestrator can
// put results back in submission order.
func sortOrder(items []job.Item, mode job.PriorityMode, shuffle ShuffleFunc) []int {
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}

	switch mode {
	case job.PrioritySpeed:
		sort.SliceStable(order, func(a, b int) bool {
			return items[order[a]].Priority > items[order[b]].Priority
		})
	case job.PriorityQuality:
		sort.SliceStable(order, func(a, b int) bool {
			return items[order[a]].Priority < items[order[b]].Priority
		})
	case job.PriorityBalanced:
		if shuffle == nil {
			shuffle = rand.Shuffle
		}
		shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}
