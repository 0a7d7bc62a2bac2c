package journal

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHeader = "kache.journal\n1\n1\n0\n\n"

func collectReplay(t *testing.T, content string) ([]Record, ReplayStats, error) {
	t.Helper()
	var records []Record
	stats, err := Replay(strings.NewReader(content), 1 /*appVersion*/, func(r Record) {
		records = append(records, r)
	})
	return records, stats, err
}

func TestReplay(t *testing.T) {
	t.Run("records_in_order", func(t *testing.T) {
		records, stats, err := collectReplay(t, testHeader+"DIRTY a\nCLEAN a 3\nREAD a\nREMOVE a\n")
		assert.NoError(t, err)
		assert.Equal(t, []Record{Dirty("a"), Clean("a", 3), Read("a"), Remove("a")}, records)
		assert.Equal(t, 4, stats.Records)
		assert.False(t, stats.TornTail)
	})
	t.Run("empty_body", func(t *testing.T) {
		records, stats, err := collectReplay(t, testHeader)
		assert.NoError(t, err)
		assert.Empty(t, records)
		assert.Equal(t, 0, stats.Records)
	})
	t.Run("torn_tail", func(t *testing.T) {
		records, stats, err := collectReplay(t, testHeader+"DIRTY a\nCLEAN a 3\nCLEAN b")
		assert.NoError(t, err)
		assert.Equal(t, []Record{Dirty("a"), Clean("a", 3)}, records)
		assert.True(t, stats.TornTail)
	})
	t.Run("malformed_line", func(t *testing.T) {
		_, _, err := collectReplay(t, testHeader+"DIRTY a\nBOGUS a\nCLEAN a 3\n")
		assert.ErrorIs(t, err, ErrMalformedRecord)
	})
	t.Run("bad_header", func(t *testing.T) {
		_, _, err := collectReplay(t, "kache.journal\n1\n2\n0\n\nDIRTY a\n")
		assert.ErrorIs(t, err, ErrBadHeader)
	})
}

func TestRewrite(t *testing.T) {
	dir := t.TempDir()
	livePath := filepath.Join(dir, FileName)

	// First rewrite creates the journal.
	require.NoError(t, Rewrite(dir, Header{AppVersion: 1, EntryCount: 1}, slices.Values([]Record{Clean("a", 3)})))
	content, err := os.ReadFile(livePath)
	require.NoError(t, err)
	assert.Equal(t, "kache.journal\n1\n1\n1\n\nCLEAN a 3\n", string(content))

	// Second rewrite swaps the journal and leaves no temporary files behind.
	require.NoError(t, Rewrite(dir, Header{AppVersion: 1, EntryCount: 2},
		slices.Values([]Record{Clean("a", 3), Dirty("b")})))
	content, err = os.ReadFile(livePath)
	require.NoError(t, err)
	assert.Equal(t, "kache.journal\n1\n1\n2\n\nCLEAN a 3\nDIRTY b\n", string(content))
	assert.NoFileExists(t, filepath.Join(dir, TmpFileName))
	assert.NoFileExists(t, filepath.Join(dir, BackupFileName))

	// And the result replays to the same records.
	var records []Record
	stats, err := ReplayFile(livePath, 1 /*appVersion*/, func(r Record) { records = append(records, r) })
	assert.NoError(t, err)
	assert.Equal(t, 2, stats.Header.EntryCount)
	assert.Equal(t, []Record{Clean("a", 3), Dirty("b")}, records)
}

func TestRecover(t *testing.T) {
	write := func(t *testing.T, path, content string) {
		t.Helper()
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	t.Run("nothing_on_disk", func(t *testing.T) {
		exists, err := Recover(t.TempDir())
		assert.NoError(t, err)
		assert.False(t, exists)
	})
	t.Run("stale_tmp_is_dropped", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, TmpFileName), "half written")
		write(t, filepath.Join(dir, FileName), testHeader)
		exists, err := Recover(dir)
		assert.NoError(t, err)
		assert.True(t, exists)
		assert.NoFileExists(t, filepath.Join(dir, TmpFileName))
	})
	t.Run("backup_is_promoted", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, BackupFileName), testHeader+"CLEAN a 1\n")
		exists, err := Recover(dir)
		assert.NoError(t, err)
		assert.True(t, exists)
		content, err := os.ReadFile(filepath.Join(dir, FileName))
		require.NoError(t, err)
		assert.Equal(t, testHeader+"CLEAN a 1\n", string(content))
		assert.NoFileExists(t, filepath.Join(dir, BackupFileName))
	})
	t.Run("backup_is_discarded", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, BackupFileName), testHeader+"CLEAN old 1\n")
		write(t, filepath.Join(dir, FileName), testHeader+"CLEAN new 1\n")
		exists, err := Recover(dir)
		assert.NoError(t, err)
		assert.True(t, exists)
		content, err := os.ReadFile(filepath.Join(dir, FileName))
		require.NoError(t, err)
		assert.Equal(t, testHeader+"CLEAN new 1\n", string(content))
		assert.NoFileExists(t, filepath.Join(dir, BackupFileName))
	})
}

// failingWriter fails every write after the first `okWrites` writes.
type failingWriter struct {
	okWrites int
	written  []string
	closed   bool
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.okWrites <= 0 {
		return 0, errors.New("disk is full")
	}
	f.okWrites--
	f.written = append(f.written, string(p))
	return len(p), nil
}

func (f *failingWriter) Close() error {
	f.closed = true
	return nil
}

func TestSink(t *testing.T) {
	t.Run("appends_lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), FileName)
		sink, err := OpenSink(path, func(err error) { t.Errorf("unexpected fault: %v", err) })
		require.NoError(t, err)
		sink.Append(Dirty("a"))
		sink.Append(Clean("a", 10))
		sink.Flush()
		sink.Close()
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "DIRTY a\nCLEAN a 10\n", string(content))
	})
	t.Run("fault_is_reported_once", func(t *testing.T) {
		dest := &failingWriter{okWrites: 1}
		var faults []error
		sink := NewSink(dest, func(err error) { faults = append(faults, err) })
		sink.Append(Dirty("a"))
		assert.False(t, sink.Failed())
		sink.Append(Clean("a", 1))
		sink.Append(Remove("a"))
		sink.Flush()
		assert.True(t, sink.Failed())
		assert.Len(t, faults, 1)
		assert.Equal(t, []string{"DIRTY a\n"}, dest.written)
		sink.Close()
		assert.True(t, dest.closed)
		assert.Len(t, faults, 1)
	})
	t.Run("discard", func(t *testing.T) {
		sink := Discard()
		assert.True(t, sink.Discarding())
		sink.Append(Dirty("a"))
		sink.Flush()
		sink.Close()
		assert.False(t, sink.Failed())
	})
}
