package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const sinkBufferSize = 4096

// syncer is implemented by sinks backed by a real file, e.g. *os.File.
type syncer interface{ Sync() error }

// Sink appends records to the live journal. It comes in two variants: a real sink backed by a writer, and a
// discarding sink that accepts and drops everything. The discarding sink is installed when the journal can't be
// rebuilt, so that the cache keeps working with its metadata kept in memory only.
//
// A real sink never returns I/O errors to its caller. The first failure switches it into a failed state, further
// writes are dropped, and the failure is reported once through the `onFault` callback.
type Sink struct {
	mux        sync.Mutex
	discarding bool
	failed     bool
	dest       io.WriteCloser
	writer     *bufio.Writer
	onFault    func(error)
}

// OpenSink opens the journal at `path` for appending.
func OpenSink(path string, onFault func(error)) (*Sink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal for append: %w", err)
	}
	return NewSink(file, onFault), nil
}

// NewSink wraps an arbitrary destination as a journal sink.
func NewSink(dest io.WriteCloser, onFault func(error)) *Sink {
	return &Sink{dest: dest, writer: bufio.NewWriterSize(dest, sinkBufferSize), onFault: onFault}
}

// Discard returns a sink that drops every record.
func Discard() *Sink {
	return &Sink{discarding: true}
}

// Discarding reports whether the sink is the discarding variant.
func (s *Sink) Discarding() bool {
	return s.discarding
}

// Failed reports whether the sink has hit an I/O error.
func (s *Sink) Failed() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.failed
}

// fault records the first error and reports it. NOTE: Caller should acquire lock.
func (s *Sink) fault(err error) {
	if s.failed {
		return
	}
	s.failed = true
	if s.onFault != nil {
		s.onFault(err)
	}
}

// Append writes the record as a single line and pushes it to the OS.
func (s *Sink) Append(record Record) {
	if s.discarding {
		return
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.failed {
		return
	}
	if _, err := s.writer.WriteString(record.String() + "\n"); err != nil {
		s.fault(fmt.Errorf("failed to append journal record: %w", err))
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.fault(fmt.Errorf("failed to flush journal record: %w", err))
	}
}

// Flush pushes buffered records to the OS and syncs them to disk when the destination supports it.
func (s *Sink) Flush() {
	if s.discarding {
		return
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.failed {
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.fault(fmt.Errorf("failed to flush journal: %w", err))
		return
	}
	if file, ok := s.dest.(syncer); ok {
		if err := file.Sync(); err != nil {
			s.fault(fmt.Errorf("failed to sync journal: %w", err))
		}
	}
}

// Close flushes and closes the destination. Closing an already closed sink is a no-op.
func (s *Sink) Close() {
	if s.discarding {
		return
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.dest == nil {
		return
	}
	var flushErr error
	if !s.failed {
		flushErr = s.writer.Flush()
	}
	closeErr := s.dest.Close()
	s.dest = nil
	if err := errors.Join(flushErr, closeErr); err != nil {
		s.fault(fmt.Errorf("failed to close journal: %w", err))
	}
	s.failed = true // Nothing can be written after close.
}
