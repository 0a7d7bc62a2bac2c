// Misses are answered without taking the cache lock whenever possible: a Bloom filter remembers every key that was
// edited (or replayed) since the last journal rewrite. Bloom filters can't forget keys, so removed keys stay in the
// filter until the next rewrite rebuilds it from the live entries.

package cache

import (
	"iter"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const keyFilterFalsePositiveRate = 0.01

// keyFilter is a thread-safe Bloom filter over cache keys. A nil filter admits every key.
type keyFilter struct {
	mux      sync.RWMutex
	capacity uint
	filter   *bloom.BloomFilter
}

// newKeyFilter returns nil when `capacity` is zero, which disables filtering.
func newKeyFilter(capacity uint) *keyFilter {
	if capacity == 0 {
		return nil
	}
	return &keyFilter{capacity: capacity, filter: bloom.NewWithEstimates(capacity, keyFilterFalsePositiveRate)}
}

// Add records the key as possibly present.
func (f *keyFilter) Add(key string) {
	if f == nil {
		return
	}
	f.mux.Lock()
	defer f.mux.Unlock()
	f.filter.AddString(key)
}

// MayContain returns false only if the key was never added since the last reset.
func (f *keyFilter) MayContain(key string) bool {
	if f == nil {
		return true
	}
	f.mux.RLock()
	defer f.mux.RUnlock()
	return f.filter.TestString(key)
}

// Reset replaces the filter content with the given keys.
func (f *keyFilter) Reset(keys iter.Seq[string]) {
	if f == nil {
		return
	}
	filter := bloom.NewWithEstimates(f.capacity, keyFilterFalsePositiveRate)
	for key := range keys {
		filter.AddString(key)
	}
	f.mux.Lock()
	defer f.mux.Unlock()
	f.filter = filter
}
