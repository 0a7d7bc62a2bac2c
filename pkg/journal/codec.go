// Kache keeps the metadata of its disk cache in a line oriented journal. The journal starts with a header that is
// written once per full rewrite, followed by one record per metadata transition:
//
//	kache.journal
//	1
//	<app version>
//	<entry count>
//
//	DIRTY k1
//	CLEAN k1 1024
//	READ k1
//	REMOVE k1
//
// This module only encodes / decodes the header and the records; it doesn't own any files.

package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	Magic         = "kache.journal"
	FormatVersion = "1"

	FileName       = "journal"
	TmpFileName    = "journal.tmp"
	BackupFileName = "journal.backup"
)

var (
	ErrBadHeader       = errors.New("unexpected journal header")
	ErrMalformedRecord = errors.New("malformed journal record")
)

// Op is the operation token that starts every journal record.
type Op string

const (
	OpDirty  Op = "DIRTY"  // An edit lease was opened for the key.
	OpClean  Op = "CLEAN"  // The key was committed; carries the committed length.
	OpRemove Op = "REMOVE" // The key was deleted or is pending deletion.
	OpRead   Op = "READ"   // The key was read; only affects recency.
)

// Record is a single journal body line.
type Record struct {
	Op     Op
	Key    string
	Length int64 // Only meaningful for OpClean.
}

func Dirty(key string) Record  { return Record{Op: OpDirty, Key: key} }
func Remove(key string) Record { return Record{Op: OpRemove, Key: key} }
func Read(key string) Record   { return Record{Op: OpRead, Key: key} }

func Clean(key string, length int64) Record {
	return Record{Op: OpClean, Key: key, Length: length}
}

// String formats the record as a journal line, without the trailing newline.
func (r Record) String() string {
	if r.Op == OpClean {
		return string(r.Op) + " " + r.Key + " " + strconv.FormatInt(r.Length, 10)
	}
	return string(r.Op) + " " + r.Key
}

// ParseRecord decodes one journal line (without its trailing newline).
func ParseRecord(line string) (Record, error) {
	parts := strings.Split(line, " ")
	if len(parts) < 2 || parts[1] == "" {
		return Record{}, fmt.Errorf("%w: %q", ErrMalformedRecord, line)
	}
	op, key := Op(parts[0]), parts[1]
	switch op {
	case OpDirty, OpRemove, OpRead:
		if len(parts) != 2 {
			return Record{}, fmt.Errorf("%w: %q", ErrMalformedRecord, line)
		}
		return Record{Op: op, Key: key}, nil
	case OpClean:
		if len(parts) != 3 {
			return Record{}, fmt.Errorf("%w: %q", ErrMalformedRecord, line)
		}
		length, err := strconv.ParseInt(parts[2], 10 /*base*/, 64 /*bitSize*/)
		if err != nil || length < 0 {
			return Record{}, fmt.Errorf("%w: bad length in %q", ErrMalformedRecord, line)
		}
		return Record{Op: op, Key: key, Length: length}, nil
	default:
		return Record{}, fmt.Errorf("%w: unknown operation %q", ErrMalformedRecord, parts[0])
	}
}

// IsFormatError reports whether `err` means the journal content can't be trusted, as opposed to failing to read it.
func IsFormatError(err error) bool {
	return errors.Is(err, ErrBadHeader) || errors.Is(err, ErrMalformedRecord)
}

// Header is written at the top of every rewritten journal.
type Header struct {
	AppVersion int
	EntryCount int
}

// WriteHeader writes the header lines, including the blank separator line.
func WriteHeader(w io.Writer, h Header) error {
	_, err := fmt.Fprintf(w, "%s\n%s\n%d\n%d\n\n", Magic, FormatVersion, h.AppVersion, h.EntryCount)
	return err
}

// ReadHeader reads and validates the header against the expected app version.
// The entry count only has to be a well-formed non-negative number.
func ReadHeader(r *bufio.Reader, appVersion int) (Header, error) {
	var lines [5]string
	for i := range lines {
		line, err := r.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return Header{}, fmt.Errorf("%w: truncated at line %d", ErrBadHeader, i+1)
		} else if err != nil {
			return Header{}, fmt.Errorf("failed to read journal header: %w", err)
		}
		lines[i] = strings.TrimSuffix(line, "\n")
	}
	magic, version, appVersionLine, countLine, blank := lines[0], lines[1], lines[2], lines[3], lines[4]
	if magic != Magic || version != FormatVersion || appVersionLine != strconv.Itoa(appVersion) || blank != "" {
		return Header{}, fmt.Errorf("%w: [%s, %s, %s, %s, %s]",
			ErrBadHeader, magic, version, appVersionLine, countLine, blank)
	}
	count, err := strconv.Atoi(countLine)
	if err != nil || count < 0 {
		return Header{}, fmt.Errorf("%w: bad entry count %q", ErrBadHeader, countLine)
	}
	return Header{AppVersion: appVersion, EntryCount: count}, nil
}
