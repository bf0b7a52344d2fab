// Package exhash implements a generic, dynamic-depth extendible hash
// table: a directory of power-of-two size whose slots point at buckets,
// where a full bucket splits by growing its local depth instead of
// rehashing the whole table.
package exhash

import (
	"log/slog"
	"sync"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// bucket holds up to capacity key/value pairs that all share the same low
// localDepth bits of their key's hash.
type bucket[K comparable, V any] struct {
	localDepth int
	capacity   int
	items      []entry[K, V]
}

func newBucket[K comparable, V any](capacity, localDepth int) *bucket[K, V] {
	return &bucket[K, V]{
		localDepth: localDepth,
		capacity:   capacity,
		items:      make([]entry[K, V], 0, capacity),
	}
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, e := range b.items {
		if e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, e := range b.items {
		if e.key == key {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}

func (b *bucket[K, V]) isFull() bool {
	return len(b.items) >= b.capacity
}

// insert updates key in place if present, appends if there is room, or
// reports false if the bucket is full and the insert must split-and-retry.
func (b *bucket[K, V]) insert(key K, value V) bool {
	for i, e := range b.items {
		if e.key == key {
			b.items[i].value = value
			return true
		}
	}
	if b.isFull() {
		return false
	}
	b.items = append(b.items, entry[K, V]{key: key, value: value})
	return true
}

// Table is a thread-safe extendible hash table keyed by K, holding values
// of type V. A single mutex guards the whole table; see §5 of the
// replacer/hash-table design this package implements — finer-grained
// per-bucket locking is a valid optimization but isn't needed here.
type Table[K comparable, V any] struct {
	mu sync.Mutex

	bucketCapacity int
	globalDepth    int
	numBuckets     int
	directory      []*bucket[K, V]
	hash           HashFunc[K]
	logger         *slog.Logger
}

// New creates a table with the given per-bucket capacity and key hash
// function. Panics if bucketCapacity < 1 — a zero-capacity bucket can
// never hold an item, so this is a programmer error, not a runtime one.
func New[K comparable, V any](bucketCapacity int, hash HashFunc[K]) *Table[K, V] {
	if bucketCapacity < 1 {
		panic(errInvalidCapacity("New", bucketCapacity))
	}
	return &Table[K, V]{
		bucketCapacity: bucketCapacity,
		globalDepth:    0,
		numBuckets:     1,
		directory:      []*bucket[K, V]{newBucket[K, V](bucketCapacity, 0)},
		hash:           hash,
		logger:         slog.Default(),
	}
}

// SetLogger overrides the debug logger used for directory-doubling and
// bucket-split traces. A nil logger disables logging.
func (t *Table[K, V]) SetLogger(logger *slog.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger = logger
}

func (t *Table[K, V]) slotOf(key K) int {
	mask := (1 << t.globalDepth) - 1
	return int(t.hash(key)) & mask
}

// Find returns the value stored for key, if any.
func (t *Table[K, V]) Find(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.directory[t.slotOf(key)].find(key)
}

// Remove deletes key if present and reports whether it was found. Buckets
// are never merged and the directory never shrinks.
func (t *Table[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.directory[t.slotOf(key)].remove(key)
}

// Insert stores value under key, updating in place if key already exists.
// If the target bucket is full, the directory doubles (if necessary) and
// the bucket splits, possibly more than once, until the insert fits.
func (t *Table[K, V]) Insert(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		idx := t.slotOf(key)
		b := t.directory[idx]
		if b.insert(key, value) {
			return
		}

		if b.localDepth == t.globalDepth {
			t.growDirectory()
		}
		t.splitBucket(idx)
	}
}

// growDirectory doubles the directory, mirroring each existing slot into
// its new upper half, and increments the global depth.
func (t *Table[K, V]) growDirectory() {
	size := len(t.directory)
	grown := make([]*bucket[K, V], size*2)
	copy(grown, t.directory)
	copy(grown[size:], t.directory)
	t.directory = grown
	t.globalDepth++

	if t.logger != nil {
		t.logger.Debug("exhash directory doubled", "global_depth", t.globalDepth, "num_buckets", t.numBuckets)
	}
}

// splitBucket splits the bucket at directory slot idx into itself (at
// depth+1) and a new sibling, redirecting the directory slots that should
// now point at the sibling and redistributing the bucket's items between
// the two by the depth-th bit of each key's hash.
//
// Which slots currently point at the splitting bucket is read straight off
// the directory (pointer identity) rather than recomputed from a sampled
// item's hash — an equivalent, simpler reading of the same invariant the
// original implementation exploits: every slot referencing a bucket shares
// its low localDepth bits.
func (t *Table[K, V]) splitBucket(idx int) {
	b := t.directory[idx]
	depth := b.localDepth
	b.localDepth = depth + 1

	sibling := newBucket[K, V](t.bucketCapacity, depth+1)
	t.numBuckets++

	splitBit := 1 << depth
	for i := range t.directory {
		if t.directory[i] == b && i&splitBit != 0 {
			t.directory[i] = sibling
		}
	}

	kept := b.items[:0:0]
	for _, e := range b.items {
		if int(t.hash(e.key))&splitBit != 0 {
			sibling.items = append(sibling.items, e)
		} else {
			kept = append(kept, e)
		}
	}
	b.items = kept

	if t.logger != nil {
		t.logger.Debug("exhash bucket split", "local_depth", b.localDepth, "num_buckets", t.numBuckets)
	}
}

// GlobalDepth returns the number of directory index bits currently in use.
func (t *Table[K, V]) GlobalDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalDepth
}

// LocalDepth returns the local depth of the bucket referenced by the given
// directory slot.
func (t *Table[K, V]) LocalDepth(slot int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.directory[slot].localDepth
}

// NumBuckets returns the number of distinct buckets currently allocated.
func (t *Table[K, V]) NumBuckets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numBuckets
}

// Len returns the total number of key/value pairs stored in the table.
func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	t.forEachBucket(func(b *bucket[K, V]) {
		n += len(b.items)
	})
	return n
}

// ForEach calls fn for every stored key/value pair, stopping early if fn
// returns false. fn is called while the table's mutex is held, so it must
// not call back into the table.
func (t *Table[K, V]) ForEach(fn func(key K, value V) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stop := false
	t.forEachBucket(func(b *bucket[K, V]) {
		if stop {
			return
		}
		for _, e := range b.items {
			if !fn(e.key, e.value) {
				stop = true
				return
			}
		}
	})
}

// Clear resets the table to its initial single-bucket, zero-depth state.
func (t *Table[K, V]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.globalDepth = 0
	t.numBuckets = 1
	t.directory = []*bucket[K, V]{newBucket[K, V](t.bucketCapacity, 0)}
}

// forEachBucket visits each distinct bucket in the directory exactly once.
// Caller must hold t.mu.
func (t *Table[K, V]) forEachBucket(fn func(*bucket[K, V])) {
	seen := make(map[*bucket[K, V]]bool, t.numBuckets)
	for _, b := range t.directory {
		if seen[b] {
			continue
		}
		seen[b] = true
		fn(b)
	}
}
