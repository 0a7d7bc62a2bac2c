package cache

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/nobletooth/kache/pkg/journal"
	"github.com/nobletooth/kache/pkg/utils"
)

// initialize makes the cache dir usable: it replays the journal if there's a trustworthy one, and otherwise starts
// over from an empty directory. NOTE: Caller should acquire lock.
func (c *DiskCache) initialize() error {
	if err := os.MkdirAll(c.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	exists, err := journal.Recover(c.opts.Dir)
	if err != nil {
		return err
	}
	if exists {
		err := c.loadJournal()
		if err == nil {
			return nil
		}
		if !journal.IsFormatError(err) {
			// The files may be fine; leave them for the next attempt.
			return fmt.Errorf("failed to load journal: %w", err)
		}
		c.logger.Warn("Discarding cache directory with a corrupt journal.", "err", err)
		c.table = newEntryTable()
		c.size = 0
		if err := c.removeAllFiles(); err != nil {
			return fmt.Errorf("failed to discard cache dir: %w", err)
		}
	}
	return c.rebuildJournal()
}

// loadJournal rebuilds the entry table from the journal and opens it for appending.
// NOTE: Caller should acquire lock.
func (c *DiskCache) loadJournal() error {
	table := newEntryTable()
	pending := make(map[string]struct{}) // Keys with a DIRTY line not yet followed by CLEAN or REMOVE.
	stats, err := journal.ReplayFile(filepath.Join(c.opts.Dir, journal.FileName), c.opts.AppVersion,
		func(record journal.Record) {
			switch record.Op {
			case journal.OpClean:
				e := table.GetOrCreate(record.Key)
				e.readable = true
				e.length = record.Length
				delete(pending, record.Key)
			case journal.OpDirty:
				table.GetOrCreate(record.Key)
				pending[record.Key] = struct{}{}
			case journal.OpRead:
				table.Get(record.Key)
			case journal.OpRemove:
				if e, found := table.Peek(record.Key); found {
					table.Delete(e)
				}
				delete(pending, record.Key)
			}
		})
	if err != nil {
		return err
	}

	// Edits interrupted by the previous process can't be trusted; drop them together with their files.
	c.table = table
	c.size = 0
	for _, e := range table.Snapshot() {
		if _, dirty := pending[e.key]; dirty || !e.readable {
			c.removeFile(c.cleanPath(e))
			c.removeFile(c.stagingPath(e))
			table.Delete(e)
			continue
		}
		c.size += e.length
	}
	c.opsSinceRewrite = stats.Records - table.Len()
	c.removeStagingFiles()
	c.logger.Info("Loaded cache journal.", "entries", table.Len(), "size", humanize.Bytes(uint64(c.size)),
		"records", stats.Records, "dropped", len(pending))

	if stats.TornTail {
		c.logger.Warn("Cache journal ends with a partial line; rewriting it.")
		if err := c.rebuildJournal(); err != nil {
			c.suspendJournal(err)
			c.filter.Reset(c.liveKeys())
		}
		return nil
	}
	sink, err := c.openSink(filepath.Join(c.opts.Dir, journal.FileName), c.onJournalFault)
	if err != nil {
		c.suspendJournal(err)
		c.filter.Reset(c.liveKeys())
		return nil
	}
	c.sink = sink
	c.hasJournalError = false
	c.filter.Reset(c.liveKeys())
	if c.rewriteRequired() {
		c.compactor.Schedule()
	}
	return nil
}

// suspendJournal keeps the loaded table but stops writing the journal after it couldn't be rebuilt or reopened.
// Edits are refused until a cleanup pass manages to rebuild it. NOTE: Caller should acquire lock.
func (c *DiskCache) suspendJournal(err error) {
	c.logger.Error("Failed to rebuild cache journal; continuing without a journal.", "err", err)
	c.rebuildFailed = true
	c.sink = journal.Discard()
}

// rebuildJournal replaces the journal with the minimal set of records describing the current table and reopens it
// for appending. On failure the previous sink is left closed. NOTE: Caller should acquire lock.
func (c *DiskCache) rebuildJournal() error {
	if c.sink != nil {
		c.sink.Close()
	}

	for _, e := range c.table.Snapshot() {
		if e.zombie && !e.hasLeases() {
			utils.RaiseInvariant("cache", "orphan_zombie", "Found a zombie entry without leases.", "key", e.key)
			c.purge(e)
		}
	}
	records := make([]journal.Record, 0, c.table.Len())
	for e := range c.table.All() {
		switch {
		case e.editor != nil || e.zombie:
			records = append(records, journal.Dirty(e.key))
		case e.readable:
			records = append(records, journal.Clean(e.key, e.length))
		}
	}

	header := journal.Header{AppVersion: c.opts.AppVersion, EntryCount: len(records)}
	if err := c.rewrite(c.opts.Dir, header, slices.Values(records)); err != nil {
		journalRewrites.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to rewrite journal: %w", err)
	}
	sink, err := c.openSink(filepath.Join(c.opts.Dir, journal.FileName), c.onJournalFault)
	if err != nil {
		journalRewrites.WithLabelValues("failed").Inc()
		return errors.Join(errors.New("failed to reopen rewritten journal"), err)
	}

	c.sink = sink
	c.opsSinceRewrite = 0
	c.hasJournalError = false
	c.rebuildFailed = false
	c.filter.Reset(c.liveKeys())
	journalRewrites.WithLabelValues("ok").Inc()
	c.logger.Debug("Rewrote cache journal.", "records", len(records))
	return nil
}

// liveKeys yields every key in the table. NOTE: Caller should acquire lock.
func (c *DiskCache) liveKeys() iter.Seq[string] {
	return func(yield func(string) bool) {
		for e := range c.table.All() {
			if !yield(e.key) {
				return
			}
		}
	}
}
