// This file implements FIFO eviction.

package eviction

// fifo evicts in first-insertion order. Reads and rewrites do not change the order.
type fifo struct {
	// order holds keys oldest first.
	order []string

	// tracked mirrors order for O(1) membership checks.
	tracked map[string]struct{}
}

func newFIFO() *fifo {
	return &fifo{tracked: make(map[string]struct{})}
}

func (f *fifo) Touch(string) {}

func (f *fifo) Insert(k string) {
	if _, ok := f.tracked[k]; ok {
		return
	}
	f.order = append(f.order, k)
	f.tracked[k] = struct{}{}
}

func (f *fifo) Remove(k string) {
	if _, ok := f.tracked[k]; !ok {
		return
	}
	delete(f.tracked, k)
	for i, v := range f.order {
		if v == k {
			f.order = append(f.order[:i], f.order[i+1:]...)
			return
		}
	}
}

func (f *fifo) Victim() string {
	if len(f.order) == 0 {
		return ""
	}
	k := f.order[0]
	f.order = f.order[1:]
	delete(f.tracked, k)
	return k
}

func (f *fifo) Len() int { return len(f.tracked) }
