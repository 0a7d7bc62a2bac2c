package journal

import (
	"bufio"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
)

// Rewrite replaces the journal inside `dir` with a compact one holding the given header and records.
// The new journal is first fully written and synced to journal.tmp, then swapped in with two renames:
// journal -> journal.backup, journal.tmp -> journal. A crash at any point leaves either the old or the new
// journal in place (possibly as journal.backup), both of which are recovered on the next load.
func Rewrite(dir string, header Header, records iter.Seq[Record]) error {
	tmpPath := filepath.Join(dir, TmpFileName)
	if err := writeJournalFile(tmpPath, header, records); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	livePath := filepath.Join(dir, FileName)
	backupPath := filepath.Join(dir, BackupFileName)
	if _, err := os.Stat(livePath); err == nil {
		if err := replaceFile(livePath, backupPath); err != nil {
			return fmt.Errorf("failed to back up journal: %w", err)
		}
		if err := replaceFile(tmpPath, livePath); err != nil {
			return fmt.Errorf("failed to swap in rewritten journal: %w", err)
		}
		if err := os.Remove(backupPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			// The backup is discarded on the next load anyway.
			slog.Warn("Failed to remove journal backup.", "path", backupPath, "err", err)
		}
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat journal: %w", err)
	}

	if err := replaceFile(tmpPath, livePath); err != nil {
		return fmt.Errorf("failed to install new journal: %w", err)
	}
	return nil
}

// writeJournalFile writes a complete journal to `path`, truncating anything that was there.
func writeJournalFile(path string, header Header, records iter.Seq[Record]) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create journal %s: %w", path, err)
	}
	writer := bufio.NewWriterSize(file, sinkBufferSize)
	writeErr := WriteHeader(writer, header)
	if writeErr == nil {
		for record := range records {
			if _, writeErr = writer.WriteString(record.String() + "\n"); writeErr != nil {
				break
			}
		}
	}
	if writeErr == nil {
		writeErr = writer.Flush()
	}
	if writeErr == nil {
		writeErr = file.Sync()
	}
	if err := errors.Join(writeErr, file.Close()); err != nil {
		return fmt.Errorf("failed to write journal %s: %w", path, err)
	}
	return nil
}

// replaceFile renames `from` to `to`, removing `to` first if it exists.
func replaceFile(from, to string) error {
	if err := os.Remove(to); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Rename(from, to)
}

// Recover settles the journal files left behind by an interrupted rewrite and reports whether a live journal
// exists afterwards. A stale journal.tmp is always dropped. A journal.backup is promoted when the live journal is
// missing (the crash happened between the two renames) and discarded otherwise.
func Recover(dir string) (bool, error) {
	tmpPath := filepath.Join(dir, TmpFileName)
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to remove stale %s: %w", TmpFileName, err)
	}

	livePath := filepath.Join(dir, FileName)
	backupPath := filepath.Join(dir, BackupFileName)
	_, liveErr := os.Stat(livePath)
	if liveErr != nil && !errors.Is(liveErr, os.ErrNotExist) {
		return false, fmt.Errorf("failed to stat journal: %w", liveErr)
	}
	if _, err := os.Stat(backupPath); err == nil {
		if liveErr == nil {
			if err := os.Remove(backupPath); err != nil {
				return false, fmt.Errorf("failed to discard journal backup: %w", err)
			}
		} else {
			if err := os.Rename(backupPath, livePath); err != nil {
				return false, fmt.Errorf("failed to promote journal backup: %w", err)
			}
			slog.Info("Promoted journal backup to live journal.", "dir", dir)
			return true, nil
		}
	}
	return liveErr == nil, nil
}
