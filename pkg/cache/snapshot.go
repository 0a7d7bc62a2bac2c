package cache

import (
	"os"

	"github.com/nobletooth/kache/pkg/utils"
)

// Snapshot is a read lease on a committed value. The file stays in place until the snapshot is closed, even if the
// key is removed or evicted meanwhile.
type Snapshot struct {
	cache    *DiskCache
	entry    *entry
	path     string
	released bool // Guarded by cache.mux.
}

// Key returns the key this snapshot was taken of.
func (s *Snapshot) Key() string {
	return s.entry.key
}

// File returns the path of the committed value.
func (s *Snapshot) File() string {
	return s.path
}

// Open opens the committed value for reading.
func (s *Snapshot) Open() (*os.File, error) {
	return os.Open(s.path)
}

// Close releases the lease. Closing twice is a no-op.
func (s *Snapshot) Close() error {
	c := s.cache
	c.mux.Lock()
	defer c.mux.Unlock()
	if s.released {
		return nil
	}
	s.released = true

	e := s.entry
	if e.openSnapshots <= 0 {
		utils.RaiseInvariant("cache", "snapshot_underflow", "Released a snapshot of an entry without snapshots.",
			"key", e.key)
		return nil
	}
	e.openSnapshots--
	if e.zombie && !e.hasLeases() {
		c.purge(e)
	}
	return nil
}
