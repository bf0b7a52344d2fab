package storage

import "github.com/hexenginedb/hexengine/lruk"

// LRUKReplacerAdapter adapts lruk.Replacer to this package's Replacer
// interface. The buffer pool manager only ever calls Pin/Unpin/Victim/Size
// (it has no notion of "K"), so the adapter folds those calls into the
// RecordAccess/SetEvictable/Evict sequence an LRU-K replacer expects:
// fetching a page both records a reference and pins it, unpinning just
// flips the evictable flag back on.
type LRUKReplacerAdapter struct {
	inner *lruk.Replacer
}

// NewLRUKReplacerAdapter creates an LRU-K-backed Replacer for capacity
// frames, evicting a frame from history before it has been referenced k
// times.
func NewLRUKReplacerAdapter(capacity uint32, k uint32) *LRUKReplacerAdapter {
	return &LRUKReplacerAdapter{inner: lruk.NewReplacer(int(capacity), int(k))}
}

// Pin records a reference to frameID and marks it non-evictable.
func (a *LRUKReplacerAdapter) Pin(frameID uint32) {
	a.inner.RecordAccess(int(frameID))
	a.inner.SetEvictable(int(frameID), false)
}

// Unpin marks frameID evictable again. It does not record a fresh access:
// the buffer pool manager already recorded one on the matching Pin/fetch.
func (a *LRUKReplacerAdapter) Unpin(frameID uint32) {
	a.inner.SetEvictable(int(frameID), true)
}

// Victim selects a frame to evict using the LRU-K policy.
func (a *LRUKReplacerAdapter) Victim() (uint32, bool) {
	frameID, ok := a.inner.Evict()
	return uint32(frameID), ok
}

// Size returns the number of evictable frames.
func (a *LRUKReplacerAdapter) Size() uint32 {
	return uint32(a.inner.Size())
}
