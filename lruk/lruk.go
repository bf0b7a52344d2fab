// Package lruk implements the LRU-K frame replacement policy: a buffer
// frame is evicted by preferring frames referenced fewer than K times,
// choosing among them the one first seen longest ago, and only falling back
// to classic recency once every evictable frame has been referenced K times.
package lruk

import (
	"container/list"
	"log/slog"
	"sync"
)

// frameRecord is the per-frame bookkeeping entry. It lives in exactly one
// of the replacer's two lists at a time.
type frameRecord struct {
	frameID     int
	accessCount int
	evictable   bool
	inHistory   bool // true while accessCount < k
}

// Replacer tracks reference history for up to numFrames frames and selects
// an eviction victim on demand. It is the Go-native shape of BusTub's
// LRUKReplacer: two ordered lists instead of one, so eviction stays O(1)
// amortized without needing a priority queue over K-distances.
//
//   - history holds frames seen fewer than K times, ordered by first access
//     (front = most recently inserted, back = oldest, same policy
//     twoq_replacer.go uses for its A1 probationary queue).
//   - cache holds frames seen K or more times, ordered by most recent
//     access (front = MRU), same as lru_replacer.go.
//
// Every exported method takes replacer's single mutex for its full
// duration; there is no partial-lock fast path.
type Replacer struct {
	mu sync.Mutex

	numFrames int
	k         int

	history *list.List
	cache   *list.List
	index   map[int]*list.Element

	currSize int
	logger   *slog.Logger
}

// NewReplacer creates a replacer for numFrames frames, evicting frames from
// history before a frame has been referenced k times.
func NewReplacer(numFrames, k int) *Replacer {
	if numFrames < 1 {
		panic(&ReplacerError{Code: ErrCodeInvalidArgument, Op: "NewReplacer", Message: "num_frames must be >= 1"})
	}
	if k < 1 {
		panic(&ReplacerError{Code: ErrCodeInvalidArgument, Op: "NewReplacer", Message: "k must be >= 1"})
	}

	return &Replacer{
		numFrames: numFrames,
		k:         k,
		history:   list.New(),
		cache:     list.New(),
		index:     make(map[int]*list.Element),
		logger:    slog.Default(),
	}
}

// SetLogger overrides the debug logger used for eviction/promotion traces.
// A nil logger disables logging.
func (r *Replacer) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RecordAccess registers a reference to frameID, creating its record on
// first sight. If the replacer is already tracking numFrames records and
// frameID is new, the access is dropped: the buffer pool is expected to
// evict before recording an access for an untracked frame at capacity.
// This matches the original LRUKReplacer::RecordAccess, which takes the
// same drop-on-full path rather than forcing an eviction.
func (r *Replacer) RecordAccess(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if frameID < 0 || frameID >= r.numFrames {
		panic(errInvalidFrame("RecordAccess", frameID, r.numFrames))
	}

	elem, tracked := r.index[frameID]
	if !tracked {
		if len(r.index) >= r.numFrames {
			return
		}
		rec := &frameRecord{frameID: frameID, accessCount: 1, inHistory: true}
		elem = r.history.PushFront(rec)
		r.index[frameID] = elem
	} else {
		rec := elem.Value.(*frameRecord)
		rec.accessCount++
		if !rec.inHistory {
			r.cache.MoveToFront(elem)
			return
		}
	}

	rec := elem.Value.(*frameRecord)
	if rec.accessCount >= r.k {
		r.history.Remove(elem)
		rec.inHistory = false
		r.index[frameID] = r.cache.PushFront(rec)
		if r.logger != nil {
			r.logger.Debug("lruk promote", "frame_id", frameID, "access_count", rec.accessCount)
		}
	}
}

// SetEvictable marks frameID as eligible (or not) for eviction. A no-op if
// the frame is untracked.
func (r *Replacer) SetEvictable(frameID int, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if frameID < 0 || frameID >= r.numFrames {
		panic(errInvalidFrame("SetEvictable", frameID, r.numFrames))
	}

	elem, tracked := r.index[frameID]
	if !tracked {
		return
	}

	rec := elem.Value.(*frameRecord)
	switch {
	case rec.evictable && !evictable:
		r.currSize--
	case !rec.evictable && evictable:
		r.currSize++
	}
	rec.evictable = evictable
}

// Remove deletes a tracked frame's history outright. The frame must be
// evictable; removing a pinned frame is a programmer error and panics.
// A no-op if the frame is untracked.
func (r *Replacer) Remove(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if frameID < 0 || frameID >= r.numFrames {
		panic(errInvalidFrame("Remove", frameID, r.numFrames))
	}

	elem, tracked := r.index[frameID]
	if !tracked {
		return
	}

	rec := elem.Value.(*frameRecord)
	if !rec.evictable {
		panic(errNotEvictable("Remove", frameID))
	}

	if rec.inHistory {
		r.history.Remove(elem)
	} else {
		r.cache.Remove(elem)
	}
	delete(r.index, frameID)
	r.currSize--
}

// Evict selects and removes one evictable frame, preferring history over
// cache, and the oldest first-access within history or the least-recently
// referenced within cache. Returns false if no evictable frame exists.
func (r *Replacer) Evict() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem := oldestEvictable(r.history); elem != nil {
		return r.evictElement(elem), true
	}
	if elem := oldestEvictable(r.cache); elem != nil {
		return r.evictElement(elem), true
	}
	return 0, false
}

// Size returns the number of currently evictable frames.
func (r *Replacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currSize
}

// oldestEvictable scans l from the back (the earliest-inserted / least-
// recently-touched end for both history and cache) for the first evictable
// record.
func oldestEvictable(l *list.List) *list.Element {
	for e := l.Back(); e != nil; e = e.Prev() {
		if e.Value.(*frameRecord).evictable {
			return e
		}
	}
	return nil
}

func (r *Replacer) evictElement(e *list.Element) int {
	rec := e.Value.(*frameRecord)
	if rec.inHistory {
		r.history.Remove(e)
	} else {
		r.cache.Remove(e)
	}
	delete(r.index, rec.frameID)
	r.currSize--

	if r.logger != nil {
		r.logger.Debug("lruk evict", "frame_id", rec.frameID, "from_history", rec.inHistory)
	}
	return rec.frameID
}
