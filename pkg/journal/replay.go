package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReplayStats summarizes a journal replay.
type ReplayStats struct {
	Header   Header
	Records  int  // Number of body records applied.
	TornTail bool // The last line had no trailing newline and was skipped.
}

// Replay validates the header read from `r` and feeds every body record to `apply`, in order.
// A final line without a newline is what a crash in the middle of an append leaves behind; it is skipped and
// reported through ReplayStats.TornTail. Any other malformed line fails the whole replay.
func Replay(r io.Reader, appVersion int, apply func(Record)) (ReplayStats, error) {
	reader := bufio.NewReader(r)
	header, err := ReadHeader(reader, appVersion)
	if err != nil {
		return ReplayStats{}, err
	}

	stats := ReplayStats{Header: header}
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			if line != "" {
				stats.TornTail = true
			}
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read journal line %d: %w", stats.Records+1, err)
		}
		record, err := ParseRecord(strings.TrimSuffix(line, "\n"))
		if err != nil {
			return stats, err
		}
		apply(record)
		stats.Records++
	}
}

// ReplayFile opens the journal at `path` and replays it. See Replay.
func ReplayFile(path string, appVersion int, apply func(Record)) (ReplayStats, error) {
	file, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to open journal: %w", err)
	}
	defer func() { _ = file.Close() }()
	return Replay(file, appVersion, apply)
}
