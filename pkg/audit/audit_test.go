package audit

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commitlock/vault/pkg/contracts"
)

func fixedClock() func() time.Time {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func TestLogAppendAndChain(t *testing.T) {
	l := NewLog().WithClock(fixedClock())

	seq, err := l.Append(contracts.EventCreated, json.RawMessage(`{"commitment_id":"commitment-1"}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = l.Append(contracts.EventSettled, json.RawMessage(`{"commitment_id":"commitment-1"}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	first, err := l.Get(1)
	require.NoError(t, err)
	assert.Equal(t, genesisHash, first.PrevHash)

	second, err := l.Get(2)
	require.NoError(t, err)
	assert.Equal(t, first.ContentHash, second.PrevHash)
	assert.Equal(t, second.ContentHash, l.Head())

	ok, reason := l.Verify()
	assert.True(t, ok, reason)
}

func TestLogGetOutOfRange(t *testing.T) {
	l := NewLog()
	_, err := l.Get(0)
	assert.Error(t, err)
	_, err = l.Get(1)
	assert.Error(t, err)
}

func TestLogDetectsTampering(t *testing.T) {
	l := NewLog().WithClock(fixedClock())
	for i := 0; i < 3; i++ {
		_, err := l.Append(contracts.EventCreated, json.RawMessage(`{"n":1}`))
		require.NoError(t, err)
	}

	// Rewrite an entry's payload behind the log's back.
	l.entries[1].Payload = json.RawMessage(`{"n":2}`)

	ok, reason := l.Verify()
	assert.False(t, ok)
	assert.Contains(t, reason, "hash mismatch")
}

func TestLogEmitMarshalFailure(t *testing.T) {
	l := NewLog().WithClock(fixedClock())

	// Channels cannot be marshaled; the entry must still be appended.
	l.Emit(contracts.EventCreated, make(chan int))

	require.Equal(t, 1, l.Length())
	entry, err := l.Get(1)
	require.NoError(t, err)
	assert.Contains(t, string(entry.Payload), "marshal_error")

	ok, _ := l.Verify()
	assert.True(t, ok)
}

func TestLogDeterministicHashes(t *testing.T) {
	a := NewLog().WithClock(fixedClock())
	b := NewLog().WithClock(fixedClock())

	payload := json.RawMessage(`{"commitment_id":"commitment-1","amount":1000}`)
	_, err := a.Append(contracts.EventCreated, payload)
	require.NoError(t, err)
	_, err = b.Append(contracts.EventCreated, payload)
	require.NoError(t, err)

	assert.Equal(t, a.Head(), b.Head())
}

func TestExporterGeneratePack(t *testing.T) {
	l := NewLog().WithClock(fixedClock())
	for i := 0; i < 5; i++ {
		_, err := l.Append(contracts.EventCreated, json.RawMessage(`{"n":1}`))
		require.NoError(t, err)
	}

	pack, checksum, err := NewExporter(l).GeneratePack(ExportRequest{StartSeq: 2, EndSeq: 4})
	require.NoError(t, err)

	sum := sha256.Sum256(pack)
	assert.Equal(t, hex.EncodeToString(sum[:]), checksum)

	r, err := zip.NewReader(bytes.NewReader(pack), int64(len(pack)))
	require.NoError(t, err)
	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"entries.json", "manifest.json"}, names)

	for _, f := range r.File {
		if f.Name != "entries.json" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		var entries []Entry
		require.NoError(t, json.NewDecoder(rc).Decode(&entries))
		require.NoError(t, rc.Close())
		require.Len(t, entries, 3)
		assert.Equal(t, uint64(2), entries[0].Sequence)
		assert.Equal(t, uint64(4), entries[2].Sequence)
	}
}

func TestExporterValidation(t *testing.T) {
	_, _, err := NewExporter(nil).GeneratePack(ExportRequest{})
	assert.ErrorIs(t, err, ErrLogNotConfigured)

	_, _, err = NewExporter(NewLog()).GeneratePack(ExportRequest{StartSeq: 5, EndSeq: 2})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestFileSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewFileSinkWithWriter(&buf).WithClock(fixedClock())

	sink.Emit(contracts.EventCreated, map[string]string{"commitment_id": "commitment-1"})
	sink.Emit(contracts.EventSettled, map[string]string{"commitment_id": "commitment-1"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, contracts.EventCreated, rec.Event)
	assert.Contains(t, string(rec.Payload), "commitment-1")
}
