package cache

import "errors"

var (
	// ErrInvalidConfig is returned by Open when the options can't describe a working cache.
	ErrInvalidConfig = errors.New("invalid cache config")
	// ErrInvalidKey is returned for keys that can't be journaled, e.g. empty or containing whitespace.
	ErrInvalidKey = errors.New("invalid cache key")
	// ErrKeyNotFound is returned by Get for keys that are absent, mid-edit or removed.
	ErrKeyNotFound = errors.New("key was not found")
	// ErrLeaseConflict is returned by Edit while another editor or a snapshot holds the key.
	ErrLeaseConflict = errors.New("key is leased")
	// ErrWritesSuspended is returned by Edit while the journal is faulty or the last cleanup failed.
	ErrWritesSuspended = errors.New("cache writes are suspended")
	// ErrClosed is returned by every operation on a closed cache.
	ErrClosed = errors.New("cache is closed")
	// ErrNoStagingFile is returned when committing an editor whose staging file doesn't exist.
	ErrNoStagingFile = errors.New("editor has no staging file")
)
