// Kache is a disk backed LRU cache. Every value lives in its own file inside the cache directory, and the metadata
// (which keys are committed, which are being written, how big they are) is kept in a write-ahead journal so that a
// restarted process can rebuild its index without trusting half written files.
//
// Writers get an exclusive Editor per key and stream their bytes to a staging file; committing renames the staging
// file over the committed one. Readers get reference counted Snapshots that pin the committed file until released.
// All metadata transitions happen under a single mutex per cache; payload bytes are read and written outside it.

package cache

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nobletooth/kache/pkg/journal"
	"github.com/nobletooth/kache/pkg/utils"
)

const (
	DefaultCleanupFraction  = 0.9
	DefaultRewriteThreshold = 2000
)

// Options configures a DiskCache.
type Options struct {
	Dir        string // Directory owned by the cache; created on first use.
	MaxSize    int64  // Bound on the total size of committed values, in bytes.
	AppVersion int    // Journals written with a different app version are discarded.
	// CleanupFraction is the fraction of MaxSize that trimming shrinks the cache to; defaults to 0.9.
	CleanupFraction float64
	// RewriteThreshold is the number of journal appends after which the journal is compacted; defaults to 2000.
	RewriteThreshold int
	// KeyFilterCapacity is the expected number of keys for the negative lookup filter; 0 disables the filter.
	KeyFilterCapacity uint
}

type lifecycle uint8

const (
	uninitialized lifecycle = iota
	ready
	closed
)

// DiskCache is a size bounded, journaled key-value cache over a directory.
type DiskCache struct {
	opts   Options
	logger *slog.Logger
	mux    sync.Mutex // Guards everything below, including entry and lease state.

	state       lifecycle
	isClosed    atomic.Bool // Mirrors `state == closed` for lock-free checks.
	filterReady atomic.Bool // The key filter reflects the loaded journal.

	table           *entryTable
	size            int64 // Sum of lengths of readable entries.
	sink            *journal.Sink
	opsSinceRewrite int
	hasJournalError bool // Sticky until the next successful rewrite.
	trimFailed      bool
	rebuildFailed   bool

	compactor *compactor
	filter    *keyFilter

	openSink func(path string, onFault func(error)) (*journal.Sink, error)
	rewrite  func(dir string, header journal.Header, records iter.Seq[journal.Record]) error
}

// Open validates the options and returns a cache over `opts.Dir`. The directory and its journal are loaded lazily
// by the first operation, which also starts background maintenance; Close stops it.
func Open(opts Options) (*DiskCache, error) {
	if opts.CleanupFraction == 0 {
		opts.CleanupFraction = DefaultCleanupFraction
	}
	if opts.RewriteThreshold == 0 {
		opts.RewriteThreshold = DefaultRewriteThreshold
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: expected a non-empty directory", ErrInvalidConfig)
	}
	if opts.MaxSize <= 0 {
		return nil, fmt.Errorf("%w: expected a positive max size, got %d", ErrInvalidConfig, opts.MaxSize)
	}
	if opts.CleanupFraction <= 0 || opts.CleanupFraction >= 1 {
		return nil, fmt.Errorf("%w: cleanup fraction must be in (0, 1), got %v", ErrInvalidConfig, opts.CleanupFraction)
	}
	if opts.RewriteThreshold < 0 {
		return nil, fmt.Errorf("%w: expected a positive rewrite threshold, got %d",
			ErrInvalidConfig, opts.RewriteThreshold)
	}

	c := &DiskCache{
		opts:     opts,
		logger:   slog.With("module", "cache", "dir", opts.Dir),
		table:    newEntryTable(),
		filter:   newKeyFilter(opts.KeyFilterCapacity),
		openSink: journal.OpenSink,
		rewrite:  journal.Rewrite,
	}
	c.compactor = newCompactor(c.cleanup)
	return c, nil
}

// Dir returns the directory owned by the cache.
func (c *DiskCache) Dir() string {
	return c.opts.Dir
}

func (c *DiskCache) cleanPath(e *entry) string {
	return filepath.Join(c.opts.Dir, e.fileName)
}

func (c *DiskCache) stagingPath(e *entry) string {
	return filepath.Join(c.opts.Dir, e.fileName+stagingSuffix)
}

// prepare fails on closed caches and lazily loads the journal. NOTE: Caller should acquire lock.
func (c *DiskCache) prepare() error {
	switch c.state {
	case closed:
		return ErrClosed
	case ready:
		return nil
	}
	if err := c.initialize(); err != nil {
		return fmt.Errorf("failed to initialize disk cache in %s: %w", c.opts.Dir, err)
	}
	c.state = ready
	c.filterReady.Store(true)
	c.compactor.Start()
	return nil
}

func (c *DiskCache) rewriteRequired() bool {
	return c.opsSinceRewrite >= c.opts.RewriteThreshold
}

// onJournalFault is called by the journal sink. It always runs under the cache lock since the sink is only used
// while holding it.
func (c *DiskCache) onJournalFault(err error) {
	c.hasJournalError = true
	journalFaults.Inc()
	c.logger.Error("Cache journal write failed; refusing new edits until it's rebuilt.", "err", err)
}

// Edit opens an exclusive write lease on the key. It fails with ErrLeaseConflict while another editor or any
// snapshot holds the key, and with ErrWritesSuspended while the journal can't be trusted to record the edit.
func (c *DiskCache) Edit(key string) (*Editor, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	c.mux.Lock()
	defer c.mux.Unlock()
	if err := c.prepare(); err != nil {
		return nil, err
	}

	e, found := c.table.Get(key)
	if found && e.hasLeases() {
		cacheEdits.WithLabelValues("conflict").Inc()
		return nil, fmt.Errorf("%w: %s", ErrLeaseConflict, key)
	}
	if c.trimFailed || c.rebuildFailed || c.hasJournalError {
		c.compactor.Schedule()
		cacheEdits.WithLabelValues("suspended").Inc()
		return nil, fmt.Errorf("%w: trimFailed=%t rebuildFailed=%t journalError=%t",
			ErrWritesSuspended, c.trimFailed, c.rebuildFailed, c.hasJournalError)
	}

	// Log the edit before handing out the lease, so a crash mid-write is replayed as an incomplete edit.
	c.sink.Append(journal.Dirty(key))
	if c.hasJournalError {
		c.compactor.Schedule()
		cacheEdits.WithLabelValues("suspended").Inc()
		return nil, fmt.Errorf("%w: failed to log the edit of %s", ErrWritesSuspended, key)
	}
	if !found {
		e = c.table.GetOrCreate(key)
	}
	editor := &Editor{cache: c, entry: e}
	e.editor = editor
	c.filter.Add(key)
	return editor, nil
}

// Get opens a read lease on the committed value of the key. The returned snapshot must be closed.
func (c *DiskCache) Get(key string) (*Snapshot, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if c.isClosed.Load() {
		return nil, ErrClosed
	}
	if c.filterReady.Load() && !c.filter.MayContain(key) {
		cacheLookups.WithLabelValues("filtered").Inc()
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}

	c.mux.Lock()
	defer c.mux.Unlock()
	if err := c.prepare(); err != nil {
		return nil, err
	}
	return c.get(key)
}

// get implements Get. NOTE: Caller should acquire lock.
func (c *DiskCache) get(key string) (*Snapshot, error) {
	e, found := c.table.Get(key)
	if !found || !e.readable || e.editor != nil || e.zombie {
		cacheLookups.WithLabelValues("miss").Inc()
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if _, err := os.Stat(c.cleanPath(e)); errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("Committed cache file vanished; dropping entry.", "key", key, "file", e.fileName)
		c.removeEntry(e)
		cacheLookups.WithLabelValues("miss").Inc()
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}

	e.openSnapshots++
	c.opsSinceRewrite++
	c.sink.Append(journal.Read(key))
	if c.rewriteRequired() {
		c.compactor.Schedule()
	}
	cacheLookups.WithLabelValues("hit").Inc()
	return &Snapshot{cache: c, entry: e, path: c.cleanPath(e)}, nil
}

// Remove deletes the key. Files pinned by outstanding leases are deleted once the last lease is closed.
// It returns false if the key wasn't present.
func (c *DiskCache) Remove(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c.mux.Lock()
	defer c.mux.Unlock()
	if err := c.prepare(); err != nil {
		return false, err
	}

	e, found := c.table.Peek(key)
	if !found || e.zombie {
		return false, nil
	}
	c.removeEntry(e)
	if c.size <= c.opts.MaxSize {
		c.trimFailed = false
	}
	return true, nil
}

// EvictAll removes every entry.
func (c *DiskCache) EvictAll() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if err := c.prepare(); err != nil {
		return err
	}
	for _, e := range c.table.Snapshot() {
		if !e.zombie {
			c.removeEntry(e)
		}
	}
	c.trimFailed = false
	return nil
}

// Size returns the total size of the committed values, in bytes.
func (c *DiskCache) Size() (int64, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if err := c.prepare(); err != nil {
		return 0, err
	}
	return c.size, nil
}

// Keys returns the readable keys from least to most recently used.
func (c *DiskCache) Keys() ([]string, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if err := c.prepare(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, c.table.Len())
	for e := range c.table.All() {
		if e.readable && !e.zombie {
			keys = append(keys, e.key)
		}
	}
	return keys, nil
}

// Flush trims the cache down to its cleanup target and syncs the journal to disk.
func (c *DiskCache) Flush() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if err := c.prepare(); err != nil {
		return err
	}
	c.trim()
	c.sink.Flush()
	return nil
}

// Close detaches in-flight editors, trims the cache, stops background maintenance and closes the journal.
// Closing a closed cache is a no-op.
func (c *DiskCache) Close() error {
	c.mux.Lock()
	if c.state == closed {
		c.mux.Unlock()
		return nil
	}
	if c.state == ready {
		// Editors still running are left to finish their writes, but their entries won't be committed.
		for _, e := range c.table.Snapshot() {
			if e.editor != nil {
				c.removeEntry(e)
			}
		}
		c.trim()
		c.sink.Flush()
		c.sink.Close()
	}
	c.sink = journal.Discard()
	c.state = closed
	c.isClosed.Store(true)
	c.compactor.Cancel()
	c.mux.Unlock()

	// The compactor may be waiting for the lock, so it must be waited for outside of it.
	c.compactor.Stop()
	c.logger.Debug("Closed disk cache.")
	return nil
}

// Delete closes the cache and removes every file in its directory.
func (c *DiskCache) Delete() error {
	if err := c.Close(); err != nil {
		return err
	}
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.removeAllFiles()
}

// removeEntry removes the entry, or turns it into a zombie if leases still pin its files.
// NOTE: Caller should acquire lock.
func (c *DiskCache) removeEntry(e *entry) {
	if !e.hasLeases() {
		c.purge(e)
		return
	}
	if e.zombie {
		return
	}
	e.zombie = true
	if e.readable {
		c.size -= e.length
		e.readable = false
	}
	if e.openSnapshots > 0 {
		// Make sure a crash before the last snapshot is released doesn't bring the key back. Editors have already
		// logged their own DIRTY line.
		c.sink.Append(journal.Dirty(e.key))
	}
}

// purge deletes the entry's files and drops it from the table. NOTE: Caller should acquire lock.
func (c *DiskCache) purge(e *entry) {
	if e.hasLeases() {
		utils.RaiseInvariant("cache", "purge_leased_entry", "Purging an entry with outstanding leases.",
			"key", e.key, "snapshots", e.openSnapshots, "editing", e.editor != nil)
	}
	if e.readable {
		c.size -= e.length
		e.readable = false
	}
	c.removeFile(c.cleanPath(e))
	c.removeFile(c.stagingPath(e))
	c.opsSinceRewrite++
	c.sink.Append(journal.Remove(e.key))
	c.table.Delete(e)
	if c.rewriteRequired() {
		c.compactor.Schedule()
	}
}

// commitEntry publishes or discards the editor's staging file. NOTE: Caller should acquire lock.
func (c *DiskCache) commitEntry(editor *Editor, success bool) error {
	e := editor.entry
	var commitErr error
	committed := false
	if success && !e.zombie {
		commitErr = c.publish(e)
		committed = commitErr == nil
	} else {
		c.removeFile(c.stagingPath(e))
	}
	e.editor = nil

	if e.zombie {
		c.purge(e)
		cacheEdits.WithLabelValues("aborted").Inc()
		return commitErr
	}

	c.opsSinceRewrite++
	if e.readable { // Either the new value, or the previous one that survives the aborted edit.
		c.sink.Append(journal.Clean(e.key, e.length))
	} else { // The key never had a value.
		c.sink.Append(journal.Remove(e.key))
		c.table.Delete(e)
	}
	if committed {
		cacheEdits.WithLabelValues("committed").Inc()
	} else {
		cacheEdits.WithLabelValues("aborted").Inc()
	}

	if c.size > c.opts.MaxSize || c.rewriteRequired() {
		c.compactor.Schedule()
	}
	return commitErr
}

// publish renames the staging file over the committed file and updates the size bookkeeping.
// NOTE: Caller should acquire lock.
func (c *DiskCache) publish(e *entry) error {
	stagingPath := c.stagingPath(e)
	info, err := os.Stat(stagingPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNoStagingFile, e.key)
	} else if err != nil {
		c.removeFile(stagingPath)
		return fmt.Errorf("failed to stat staging file of %s: %w", e.key, err)
	}
	if err := os.Rename(stagingPath, c.cleanPath(e)); err != nil {
		c.removeFile(stagingPath)
		return fmt.Errorf("failed to commit %s: %w", e.key, err)
	}
	if e.readable {
		c.size -= e.length
	}
	e.length = info.Size()
	e.readable = true
	c.size += e.length
	c.table.Touch(e)
	return nil
}

// trim evicts least recently used entries until the size is within the cleanup target.
// NOTE: Caller should acquire lock.
func (c *DiskCache) trim() {
	target := float64(c.opts.MaxSize) * c.opts.CleanupFraction
	for float64(c.size) > target {
		victim := c.table.Oldest(func(e *entry) bool { return e.readable && !e.zombie })
		if victim == nil {
			if !c.trimFailed {
				c.logger.Warn("Failed to trim disk cache; no evictable entries left.", "size", c.size)
			}
			c.trimFailed = true
			return
		}
		c.removeEntry(victim)
		cacheEvictedEntries.Inc()
	}
	c.trimFailed = false
}

// cleanup is the background maintenance pass: trim, then rebuild the journal if needed.
func (c *DiskCache) cleanup() {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.state != ready {
		return
	}
	c.trim()
	if c.rewriteRequired() || c.hasJournalError || c.rebuildFailed {
		if err := c.rebuildJournal(); err != nil {
			c.suspendJournal(err)
		}
	}
}

// removeFile deletes a file, tolerating files that don't exist.
func (c *DiskCache) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("Failed to remove cache file.", "path", path, "err", err)
	}
}

// removeAllFiles deletes every regular file directly under the cache directory.
func (c *DiskCache) removeAllFiles() error {
	dirEntries, err := os.ReadDir(c.opts.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to list cache dir: %w", err)
	}
	var errs error
	for _, dirEntry := range dirEntries {
		if !dirEntry.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(c.opts.Dir, dirEntry.Name())); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// removeStagingFiles deletes leftover staging files. NOTE: Only valid while no editor is live.
func (c *DiskCache) removeStagingFiles() {
	dirEntries, err := os.ReadDir(c.opts.Dir)
	if err != nil {
		c.logger.Warn("Failed to list cache dir for stale staging files.", "err", err)
		return
	}
	for _, dirEntry := range dirEntries {
		if dirEntry.Type().IsRegular() && strings.HasSuffix(dirEntry.Name(), stagingSuffix) {
			c.removeFile(filepath.Join(c.opts.Dir, dirEntry.Name()))
		}
	}
}
