package journal

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecord(t *testing.T) {
	for _, testCase := range []struct {
		name     string
		line     string
		expected Record
		wantErr  bool
	}{
		{name: "dirty", line: "DIRTY k1", expected: Dirty("k1")},
		{name: "clean", line: "CLEAN k1 1024", expected: Clean("k1", 1024)},
		{name: "clean_empty_value", line: "CLEAN k1 0", expected: Clean("k1", 0)},
		{name: "remove", line: "REMOVE k1", expected: Remove("k1")},
		{name: "read", line: "READ k1", expected: Read("k1")},
		{name: "unknown_op", line: "UPDATE k1", wantErr: true},
		{name: "missing_key", line: "DIRTY", wantErr: true},
		{name: "empty_key", line: "DIRTY ", wantErr: true},
		{name: "empty_line", line: "", wantErr: true},
		{name: "clean_without_length", line: "CLEAN k1", wantErr: true},
		{name: "clean_bad_length", line: "CLEAN k1 abc", wantErr: true},
		{name: "clean_negative_length", line: "CLEAN k1 -3", wantErr: true},
		{name: "dirty_extra_token", line: "DIRTY k1 12", wantErr: true},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			got, err := ParseRecord(testCase.line)
			if testCase.wantErr {
				assert.ErrorIs(t, err, ErrMalformedRecord)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, testCase.expected, got)
			// Formatting the parsed record must give back the same line.
			assert.Equal(t, testCase.line, got.String())
		})
	}
}

func TestHeader(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		buffer := new(bytes.Buffer)
		require.NoError(t, WriteHeader(buffer, Header{AppVersion: 3, EntryCount: 12}))
		assert.Equal(t, "kache.journal\n1\n3\n12\n\n", buffer.String())

		got, err := ReadHeader(bufio.NewReader(buffer), 3 /*appVersion*/)
		assert.NoError(t, err)
		assert.Equal(t, Header{AppVersion: 3, EntryCount: 12}, got)
	})
	for _, testCase := range []struct {
		name   string
		header string
	}{
		{name: "wrong_magic", header: "other.journal\n1\n3\n0\n\n"},
		{name: "wrong_format_version", header: "kache.journal\n2\n3\n0\n\n"},
		{name: "wrong_app_version", header: "kache.journal\n1\n4\n0\n\n"},
		{name: "bad_entry_count", header: "kache.journal\n1\n3\nmany\n\n"},
		{name: "negative_entry_count", header: "kache.journal\n1\n3\n-1\n\n"},
		{name: "missing_blank_line", header: "kache.journal\n1\n3\n0\nDIRTY k\n"},
		{name: "truncated", header: "kache.journal\n1\n"},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := ReadHeader(bufio.NewReader(strings.NewReader(testCase.header)), 3 /*appVersion*/)
			assert.ErrorIs(t, err, ErrBadHeader)
			assert.True(t, IsFormatError(err))
		})
	}
	t.Run("read_error", func(t *testing.T) {
		readErr := errors.New("input/output error")
		_, err := ReadHeader(bufio.NewReader(iotest.ErrReader(readErr)), 3 /*appVersion*/)
		assert.ErrorIs(t, err, readErr)
		assert.False(t, IsFormatError(err), "I/O failures don't make the journal corrupt")
	})
}
