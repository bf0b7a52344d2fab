package storage

import (
	"github.com/hexenginedb/hexengine/exhash"
)

// pageTableBucketCapacity bounds how many pages a single extendible hash
// bucket holds before it splits. Kept small: each shard only ever holds a
// fraction of the buffer pool's pages.
const pageTableBucketCapacity = 4

// ShardedPageTable provides a thread-safe, sharded hash table for pages
// Reduces lock contention by partitioning the page table into multiple
// shards, each of which is itself a full extendible hash table with its
// own mutex and its own directory/bucket structure rather than a plain Go
// map, so directory doubling and bucket splitting happen independently per
// shard under that shard's own single mutex.
type ShardedPageTable struct {
	shards []*PageTableShard
	numShards uint32
}

// PageTableShard represents a single shard, backed by an extendible hash
// table keyed by page ID.
type PageTableShard struct {
	table *exhash.Table[uint32, *Page]
}

// NewShardedPageTable creates a new sharded page table
// numShards should be a power of 2 for efficient modulo operations
// Recommended: 64-256 shards for good parallelism
func NewShardedPageTable(numShards uint32) *ShardedPageTable {
	return NewShardedPageTableWithHash(numShards, "xxhash")
}

// NewShardedPageTableWithHash is NewShardedPageTable plus an explicit choice
// of hash family for each shard's extendible hash table. hashName is one of
// "xxhash" (default) or "farm"; any other value falls back to xxhash.
func NewShardedPageTableWithHash(numShards uint32, hashName string) *ShardedPageTable {
	if numShards == 0 {
		numShards = 64 // Default to 64 shards
	}

	hashFn := exhash.HashUint32
	if hashName == "farm" {
		hashFn = exhash.HashUint32Farm
	}

	shards := make([]*PageTableShard, numShards)
	for i := uint32(0); i < numShards; i++ {
		shards[i] = &PageTableShard{
			table: exhash.New[uint32, *Page](pageTableBucketCapacity, hashFn),
		}
	}

	return &ShardedPageTable{
		shards: shards,
		numShards: numShards,
	}
}

// getShard returns the shard for a given page ID
func (spt *ShardedPageTable) getShard(pageId uint32) *PageTableShard {
	// Plain modulo for every shard count; no bitwise AND path is taken
	return spt.shards[pageId%spt.numShards]
}

// Get retrieves a page from the table
func (spt *ShardedPageTable) Get(pageId uint32) (*Page, bool) {
	return spt.getShard(pageId).table.Find(pageId)
}

// Put adds or updates a page in the table
func (spt *ShardedPageTable) Put(pageId uint32, page *Page) {
	spt.getShard(pageId).table.Insert(pageId, page)
}

// Delete removes a page from the table
func (spt *ShardedPageTable) Delete(pageId uint32) {
	spt.getShard(pageId).table.Remove(pageId)
}

// Size returns the total number of pages across all shards
func (spt *ShardedPageTable) Size() int {
	total := 0
	for _, shard := range spt.shards {
		total += shard.table.Len()
	}
	return total
}

// GetAll returns all pages (useful for iteration)
// This visits every shard's table and should be used sparingly
func (spt *ShardedPageTable) GetAll() []*Page {
	pages := make([]*Page, 0, spt.Size())
	for _, shard := range spt.shards {
		shard.table.ForEach(func(_ uint32, page *Page) bool {
			pages = append(pages, page)
			return true
		})
	}
	return pages
}

// Clear removes all pages from all shards
func (spt *ShardedPageTable) Clear() {
	for _, shard := range spt.shards {
		shard.table.Clear()
	}
}

// ForEach executes a function for each page in the table
// The function is called while holding the shard's table lock, so it
// should be fast.
func (spt *ShardedPageTable) ForEach(fn func(pageId uint32, page *Page) bool) {
	for _, shard := range spt.shards {
		keepGoing := true
		shard.table.ForEach(func(pageId uint32, page *Page) bool {
			keepGoing = fn(pageId, page)
			return keepGoing
		})
		if !keepGoing {
			return
		}
	}
}
