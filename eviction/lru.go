// This file implements LRU eviction.

package eviction

// lruNode is one tracked key in the recency list.
type lruNode struct {
	key   string
	newer *lruNode
	older *lruNode
}

/*
lru keeps keys in a doubly-linked list ordered by last use.

front is the most recently used key, back the least recently used one. Every read or
write moves the key to the front, so the back is always the key with the smallest
last-access time. Keys used at the same instant keep the order in which they were used,
which makes ties deterministic.
*/
type lru struct {
	nodes map[string]*lruNode
	front *lruNode
	back  *lruNode
}

func newLRU() *lru {
	return &lru{nodes: make(map[string]*lruNode)}
}

func (l *lru) Touch(k string) {
	if n, ok := l.nodes[k]; ok {
		l.unlink(n)
		l.pushFront(n)
	}
}

func (l *lru) Insert(k string) {
	if n, ok := l.nodes[k]; ok {
		l.unlink(n)
		l.pushFront(n)
		return
	}
	n := &lruNode{key: k}
	l.nodes[k] = n
	l.pushFront(n)
}

func (l *lru) Remove(k string) {
	if n, ok := l.nodes[k]; ok {
		l.unlink(n)
		delete(l.nodes, k)
	}
}

func (l *lru) Victim() string {
	if l.back == nil {
		return ""
	}
	n := l.back
	l.unlink(n)
	delete(l.nodes, n.key)
	return n.key
}

func (l *lru) Len() int { return len(l.nodes) }

func (l *lru) pushFront(n *lruNode) {
	n.newer = nil
	n.older = l.front
	if l.front != nil {
		l.front.newer = n
	}
	l.front = n
	if l.back == nil {
		l.back = n
	}
}

func (l *lru) unlink(n *lruNode) {
	if n.newer != nil {
		n.newer.older = n.older
	} else {
		l.front = n.older
	}
	if n.older != nil {
		n.older.newer = n.newer
	} else {
		l.back = n.newer
	}
	n.newer, n.older = nil, nil
}
