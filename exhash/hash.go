package exhash

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	farm "github.com/dgryski/go-farm"
)

// HashFunc computes a 64-bit hash for a table key. The table only ever
// looks at the low bits of the result, so any function here is a valid
// choice as long as it is deterministic for a given key.
type HashFunc[K comparable] func(key K) uint64

// HashUint32 hashes a uint32 key with xxhash, the same hash family
// dgraph-io/ristretto uses for its own cache keys (z.KeyToHash). This is
// the default for a page-id-keyed table such as the buffer pool's page
// table.
func HashUint32(key uint32) uint64 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], key)
	return xxhash.Sum64(buf[:])
}

// HashUint32Farm is HashUint32's drop-in alternate, using the farmhash
// family ristretto also carries as an indirect dependency. Selectable via
// Config.PageTableHash = "farm" when an engine wants to compare hash
// distributions without recompiling.
func HashUint32Farm(key uint32) uint64 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], key)
	return farm.Hash64(buf[:])
}

// HashString hashes a string key with xxhash.
func HashString(key string) uint64 {
	return xxhash.Sum64String(key)
}

// HashBytes hashes a []byte key with xxhash. []byte is not a comparable
// type, so this is for tables keyed by a fixed-size array or a wrapper
// type rather than []byte directly.
func HashBytes(key []byte) uint64 {
	return xxhash.Sum64(key)
}
