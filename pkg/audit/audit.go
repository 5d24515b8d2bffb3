// Package audit records every vault event in an append-only,
// hash-chained log. Each entry is chained to its predecessor over the
// JCS-canonicalized entry body, so the full event history can be
// verified after the fact.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/commitlock/vault/pkg/contracts"
)

const genesisHash = "genesis"

// Entry is an immutable, hash-chained audit record.
type Entry struct {
	Sequence    uint64              `json:"sequence"`
	Event       contracts.EventType `json:"event"`
	ContentHash string              `json:"content_hash"`
	PrevHash    string              `json:"prev_hash"`
	Timestamp   time.Time           `json:"timestamp"`
	Payload     json.RawMessage     `json:"payload"`
}

// Log is an append-only, hash-chained event log. It implements the
// vault's Emitter interface.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    func() time.Time
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{headHash: genesisHash, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Emit appends a vault event. Serialization failures are recorded as a
// placeholder payload rather than dropped; the chain must stay dense.
func (l *Log) Emit(event contracts.EventType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	_, _ = l.Append(event, raw)
}

// Append adds an entry and returns its sequence number.
func (l *Log) Append(event contracts.EventType, payload json.RawMessage) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries)) + 1
	hash, err := entryHash(seq, event, payload, l.headHash)
	if err != nil {
		return 0, err
	}

	l.entries = append(l.entries, Entry{
		Sequence:    seq,
		Event:       event,
		ContentHash: hash,
		PrevHash:    l.headHash,
		Timestamp:   l.clock(),
		Payload:     payload,
	})
	l.headHash = hash
	return seq, nil
}

// Get retrieves an entry by sequence number.
func (l *Log) Get(seq uint64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq == 0 || seq > uint64(len(l.entries)) {
		return nil, fmt.Errorf("audit entry %d not found", seq)
	}
	entry := l.entries[seq-1]
	return &entry, nil
}

// Entries returns a copy of the full log.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Head returns the current head hash.
func (l *Log) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Length returns the number of entries.
func (l *Log) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Verify walks the chain and recomputes every hash. Returns false with a
// reason at the first inconsistency.
func (l *Log) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := genesisHash
	for i, entry := range l.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		computed, err := entryHash(entry.Sequence, entry.Event, entry.Payload, entry.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d: %v", i+1, err)
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified"
}

func entryHash(seq uint64, event contracts.EventType, payload json.RawMessage, prevHash string) (string, error) {
	body, err := json.Marshal(struct {
		Seq      uint64              `json:"seq"`
		Event    contracts.EventType `json:"event"`
		Payload  json.RawMessage     `json:"payload"`
		PrevHash string              `json:"prev"`
	}{seq, event, payload, prevHash})
	if err != nil {
		return "", fmt.Errorf("marshal audit entry: %w", err)
	}
	canonical, err := jcs.Transform(body)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit entry: %w", err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}
