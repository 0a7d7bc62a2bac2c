package cache

import (
	"errors"
	"fmt"
	"os"
)

// Editor is the exclusive write lease on a key. Write the new value to File(), then Commit or Abort.
// The editor is done after the first Commit / Abort; later calls are no-ops.
type Editor struct {
	cache *DiskCache
	entry *entry
	done  bool // Guarded by cache.mux.
}

// Key returns the edited key.
func (ed *Editor) Key() string {
	return ed.entry.key
}

// File returns the path of the staging file, creating the cache dir and an empty staging file if needed.
func (ed *Editor) File() (string, error) {
	path := ed.cache.stagingPath(ed.entry)
	if err := os.MkdirAll(ed.cache.opts.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create staging file for %s: %w", ed.entry.key, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to create staging file for %s: %w", ed.entry.key, err)
	}
	return path, nil
}

// Commit publishes the staging file as the key's value. Editors detached by Close, or whose key was removed
// meanwhile, are discarded instead.
func (ed *Editor) Commit() error {
	ed.cache.mux.Lock()
	defer ed.cache.mux.Unlock()
	return ed.complete(true)
}

// Abort discards the staging file; a previously committed value stays readable.
func (ed *Editor) Abort() error {
	ed.cache.mux.Lock()
	defer ed.cache.mux.Unlock()
	return ed.complete(false)
}

// CommitAndGet commits and atomically opens a snapshot of the new value.
func (ed *Editor) CommitAndGet() (*Snapshot, error) {
	ed.cache.mux.Lock()
	defer ed.cache.mux.Unlock()
	if err := ed.complete(true); err != nil {
		return nil, err
	}
	if ed.cache.state == closed {
		return nil, ErrClosed
	}
	return ed.cache.get(ed.entry.key)
}

// complete finishes the lease. NOTE: Caller should acquire lock.
func (ed *Editor) complete(success bool) error {
	if ed.done {
		return nil
	}
	ed.done = true
	if ed.entry.editor != ed {
		return nil
	}
	err := ed.cache.commitEntry(ed, success)
	if errors.Is(err, ErrNoStagingFile) {
		ed.cache.logger.Warn("Committed an editor that never wrote a staging file; aborting instead.",
			"key", ed.entry.key)
	}
	return err
}
