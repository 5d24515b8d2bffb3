package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/commitlock/vault/pkg/contracts"
)

// record is the line format the file sink writes.
type record struct {
	Event     contracts.EventType `json:"event"`
	Timestamp time.Time           `json:"timestamp"`
	Payload   json.RawMessage     `json:"payload"`
}

// FileSink streams vault events as JSON lines to a writer. Unlike Log
// it keeps nothing in memory, so it suits long-running deployments
// where the in-memory chain would grow without bound. It implements
// the vault's Emitter interface.
type FileSink struct {
	mu     sync.Mutex
	writer io.Writer
	clock  func() time.Time
}

// NewFileSink creates a sink writing to os.Stdout.
func NewFileSink() *FileSink {
	return NewFileSinkWithWriter(os.Stdout)
}

// NewFileSinkWithWriter creates a sink writing to w. A nil writer
// falls back to os.Stdout.
func NewFileSinkWithWriter(w io.Writer) *FileSink {
	if w == nil {
		w = os.Stdout
	}
	return &FileSink{writer: w, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (s *FileSink) WithClock(clock func() time.Time) *FileSink {
	s.clock = clock
	return s
}

// Emit writes one event line. Marshal failures are recorded as a
// placeholder payload so the stream stays dense.
func (s *FileSink) Emit(event contracts.EventType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{"marshal_error":true}`)
	}

	line, err := json.Marshal(record{Event: event, Timestamp: s.clock(), Payload: raw})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(append(line, '\n'))
}
