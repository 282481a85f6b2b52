package ranking

import "slices"

// boundedHeap keeps the limit greatest items seen so far. The root is the
// smallest kept item, so a candidate only has to beat the root to get in.
type boundedHeap[T any] struct {
	items []T
	limit int
	cmp   func(a, b T) int
}

func newBoundedHeap[T any](limit int, cmp func(a, b T) int) *boundedHeap[T] {
	return &boundedHeap[T]{items: make([]T, 0, limit), limit: limit, cmp: cmp}
}

func (h *boundedHeap[T]) offer(item T) {
	if len(h.items) < h.limit {
		h.items = append(h.items, item)
		h.siftUp(len(h.items) - 1)
		return
	}
	if h.cmp(item, h.items[0]) <= 0 {
		return
	}
	h.items[0] = item
	h.siftDown(0)
}

func (h *boundedHeap[T]) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.cmp(h.items[i], h.items[parent]) >= 0 {
			return
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *boundedHeap[T]) siftDown(i int) {
	n := len(h.items)
	for {
		smallest := i
		left, right := 2*i+1, 2*i+2
		if left < n && h.cmp(h.items[left], h.items[smallest]) < 0 {
			smallest = left
		}
		if right < n && h.cmp(h.items[right], h.items[smallest]) < 0 {
			smallest = right
		}
		if smallest == i {
			return
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}

// sorted returns the kept items greatest first.
func (h *boundedHeap[T]) sorted() []T {
	out := slices.Clone(h.items)
	slices.SortFunc(out, func(a, b T) int { return h.cmp(b, a) })
	return out
}

// topK returns the limit greatest items by cmp, greatest first, in
// O(n log limit).
func topK[T any](items []T, limit int, cmp func(a, b T) int) []T {
	if limit <= 0 {
		return nil
	}
	h := newBoundedHeap(min(limit, len(items)), cmp)
	for _, it := range items {
		h.offer(it)
	}
	return h.sorted()
}
