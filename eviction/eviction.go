package eviction

/*
This file defines how a bounded cache decides what to remove when it runs out of space.
*/

/*
Policy is the interface that all eviction strategies must follow.

The cache does NOT care how eviction works internally. It reports events and asks
for a victim when it is full. Policies are not safe for concurrent use; the owning
cache calls them under its own lock.
*/
type Policy interface {

	// Touch is called whenever a live key is read.
	// LRU moves it to the front, LFU bumps its counter, FIFO ignores it.
	Touch(string)

	// Insert is called whenever a key is written, new or not.
	// Rewriting a key that is already tracked is a use of that key.
	Insert(string)

	// Remove drops a key that left the cache for a reason other than eviction
	// (explicit delete, expiry, clear).
	Remove(string)

	// Victim picks the key to evict and stops tracking it.
	// It returns "" when nothing is tracked.
	Victim() string

	// Len reports how many keys are tracked.
	Len() int
}

// PolicyType is a simple identifier for supported eviction strategies.
type PolicyType string

const (
	// LRU (Least Recently Used): evicts the key whose last access is the oldest.
	LRU PolicyType = "LRU"

	// LFU (Least Frequently Used): evicts the key that has been accessed the fewest times.
	LFU PolicyType = "LFU"

	// FIFO (First In First Out): evicts the oldest inserted key, regardless of access.
	FIFO PolicyType = "FIFO"
)

// New creates the policy for t. Unknown types fall back to LRU.
func New(t PolicyType) Policy {
	switch t {
	case LFU:
		return newLFU()
	case FIFO:
		return newFIFO()
	default:
		return newLRU()
	}
}
