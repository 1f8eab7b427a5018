// This file implements LFU eviction.

package eviction

/*
lfu groups keys into buckets by use count. Inside a bucket keys are kept in the
order they reached that count, so the victim among equally used keys is the one
that has been sitting at the lowest count the longest.
*/
type lfu struct {
	counts  map[string]int
	buckets map[int][]string

	// minCount is the smallest count with a non-empty bucket, or 0 when empty.
	minCount int
}

func newLFU() *lfu {
	return &lfu{
		counts:  make(map[string]int),
		buckets: make(map[int][]string),
	}
}

func (l *lfu) Touch(k string) {
	c, ok := l.counts[k]
	if !ok {
		return
	}
	l.unbucket(k, c)
	l.counts[k] = c + 1
	l.buckets[c+1] = append(l.buckets[c+1], k)
	if l.minCount == c && len(l.buckets[c]) == 0 {
		l.minCount = c + 1
	}
}

func (l *lfu) Insert(k string) {
	if _, ok := l.counts[k]; ok {
		l.Touch(k)
		return
	}
	l.counts[k] = 1
	l.buckets[1] = append(l.buckets[1], k)
	l.minCount = 1
}

func (l *lfu) Remove(k string) {
	c, ok := l.counts[k]
	if !ok {
		return
	}
	l.unbucket(k, c)
	delete(l.counts, k)
	if l.minCount == c && len(l.buckets[c]) == 0 {
		l.recomputeMin()
	}
}

func (l *lfu) Victim() string {
	if len(l.counts) == 0 {
		return ""
	}
	if len(l.buckets[l.minCount]) == 0 {
		l.recomputeMin()
	}
	b := l.buckets[l.minCount]
	k := b[0]
	l.Remove(k)
	return k
}

func (l *lfu) Len() int { return len(l.counts) }

func (l *lfu) unbucket(k string, c int) {
	b := l.buckets[c]
	for i, v := range b {
		if v == k {
			b = append(b[:i], b[i+1:]...)
			break
		}
	}
	if len(b) == 0 {
		delete(l.buckets, c)
		return
	}
	l.buckets[c] = b
}

func (l *lfu) recomputeMin() {
	l.minCount = 0
	for c := range l.buckets {
		if l.minCount == 0 || c < l.minCount {
			l.minCount = c
		}
	}
}
