package audit

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRange is returned when the sequence range is inverted.
	ErrInvalidRange = errors.New("audit: start sequence must not exceed end sequence")
	// ErrLogNotConfigured is returned when export is invoked without a
	// backing log (fail-closed).
	ErrLogNotConfigured = errors.New("audit: log not configured (fail-closed)")
)

// ExportRequest bounds which entries to export. Zero values mean
// unbounded on that side.
type ExportRequest struct {
	StartSeq uint64 `json:"start_seq"`
	EndSeq   uint64 `json:"end_seq"`
}

// Exporter produces verifiable evidence packs from the audit log.
type Exporter struct {
	log *Log
}

// NewExporter creates an exporter over the log.
func NewExporter(l *Log) *Exporter {
	return &Exporter{log: l}
}

// GeneratePack creates a zip bundle holding the selected entries and a
// manifest carrying the chain head, and returns the bundle with its
// sha256 checksum.
func (e *Exporter) GeneratePack(req ExportRequest) ([]byte, string, error) {
	if e.log == nil {
		return nil, "", ErrLogNotConfigured
	}
	if req.EndSeq != 0 && req.StartSeq > req.EndSeq {
		return nil, "", ErrInvalidRange
	}

	var selected []Entry
	for _, entry := range e.log.Entries() {
		if req.StartSeq != 0 && entry.Sequence < req.StartSeq {
			continue
		}
		if req.EndSeq != 0 && entry.Sequence > req.EndSeq {
			continue
		}
		selected = append(selected, entry)
	}

	entriesJSON, err := json.MarshalIndent(selected, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := map[string]any{
		"generated_at": time.Now().UTC(),
		"entry_count":  len(selected),
		"chain_head":   e.log.Head(),
		"range": map[string]uint64{
			"start": req.StartSeq,
			"end":   req.EndSeq,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("entries.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(entriesJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(hash[:]), nil
}
