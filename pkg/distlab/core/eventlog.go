package core

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// EventKind enumerates the seven lines the event sink may emit, per
// spec §4.9. The formatter is the only place allowed to produce
// these lines — protocol code calls Emit at the points listed in
// §4.6/§4.7/§4.8 and nowhere else.
type EventKind int

const (
	EventStarted EventKind = iota
	EventReceivedAllStarted
	EventDone
	EventReceivedAllDone
	EventTransferIn
	EventTransferOut
	EventLoopOperation
)

// EventSink is a single append-only, line-flushed stream. pipes.log
// and events.log are each backed by one of these.
type EventSink struct {
	mu     sync.Mutex
	file   *os.File
	mirror io.Writer
}

// NewEventSink opens path for appending, creating it if necessary. If
// mirror is non-nil, every line is also written there (events.log
// mirrors to stdout; pipes.log does not).
func NewEventSink(path string, mirror io.Writer) (*EventSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("distlab: opening log %q: %w", path, err)
	}
	return &EventSink{file: f, mirror: mirror}, nil
}

// Close closes the underlying file.
func (s *EventSink) Close() error {
	return s.file.Close()
}

// Raw appends line verbatim and flushes immediately.
func (s *EventSink) Raw(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := bufio.NewWriter(s.file)
	_, _ = w.WriteString(line)
	_ = w.Flush()
	if s.mirror != nil {
		_, _ = io.WriteString(s.mirror, line)
	}
}

// EventLog formats and appends protocol events; it owns the events.log
// sink (mirrored to stdout per spec §6).
type EventLog struct {
	sink *EventSink
}

// NewEventLog wraps an EventSink as the events.log formatter.
func NewEventLog(sink *EventSink) *EventLog {
	return &EventLog{sink: sink}
}

// Emit formats a kind-specific line and appends it.
func (e *EventLog) Emit(kind EventKind, args ...interface{}) {
	e.sink.Raw(formatEvent(kind, args...))
}

func formatEvent(kind EventKind, args ...interface{}) string {
	switch kind {
	case EventStarted:
		// args: time, id
		return fmt.Sprintf("%d: process %d started\n", args[0], args[1])
	case EventReceivedAllStarted:
		// args: time, id
		return fmt.Sprintf("%d: process %d received all STARTED\n", args[0], args[1])
	case EventDone:
		// args: time, id
		return fmt.Sprintf("%d: process %d done\n", args[0], args[1])
	case EventReceivedAllDone:
		// args: time, id
		return fmt.Sprintf("%d: process %d received all DONE\n", args[0], args[1])
	case EventTransferOut:
		// args: time, src, dst, amount
		return fmt.Sprintf("%d: process %d transfer %d to %d\n", args[0], args[1], args[3], args[2])
	case EventTransferIn:
		// args: time, dst, src, amount
		return fmt.Sprintf("%d: process %d received %d from %d\n", args[0], args[1], args[3], args[2])
	case EventLoopOperation:
		// args: time, id, i, n
		return fmt.Sprintf("%d: process %d is doing operation %d out of %d\n", args[0], args[1], args[2], args[3])
	default:
		return fmt.Sprintf("unknown event kind %d\n", kind)
	}
}
