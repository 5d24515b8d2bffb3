// Package attestation computes per-commitment health metrics and records
// verifier attestations, fee income, and realized drawdowns. Reporting
// only: nothing here mutates the commitment ledger.
package attestation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/commitlock/vault/pkg/contracts"
	"github.com/commitlock/vault/pkg/vault"
)

// ErrUnauthorized is returned when an unlisted verifier attests.
var ErrUnauthorized = errors.New("caller is not an authorized verifier")

// CommitmentReader is the narrow view of the ledger the engine needs.
type CommitmentReader interface {
	Commitment(ctx context.Context, id string) (*contracts.Commitment, error)
}

// Attestation is one verifier's signed-off observation of a commitment's
// value.
type Attestation struct {
	CommitmentID string    `json:"commitment_id"`
	Verifier     string    `json:"verifier"`
	Value        int64     `json:"value"`
	Timestamp    time.Time `json:"timestamp"`
}

// HealthMetrics summarizes a commitment's standing.
type HealthMetrics struct {
	CommitmentID    string    `json:"commitment_id"`
	InitialValue    int64     `json:"initial_value"`
	CurrentValue    int64     `json:"current_value"`
	DrawdownPercent int64     `json:"drawdown_percent"`
	ComplianceScore int64     `json:"compliance_score"` // 0-100
	TotalFees       int64     `json:"total_fees"`
	TotalDrawdown   int64     `json:"total_drawdown"`
	LastAttestation time.Time `json:"last_attestation"` // zero when none
}

// Authorizer gates who may attest and record financial figures.
type Authorizer interface {
	RequireAuthorized(caller string) error
}

// Engine tracks attestations and derives health metrics from the ledger.
type Engine struct {
	mu           sync.RWMutex
	reader       CommitmentReader
	authorizer   Authorizer
	attestations map[string][]Attestation
	fees         map[string]int64
	drawdowns    map[string]int64
	clock        func() time.Time
}

// NewEngine creates an engine over the given ledger view.
func NewEngine(reader CommitmentReader, authorizer Authorizer) *Engine {
	return &Engine{
		reader:       reader,
		authorizer:   authorizer,
		attestations: make(map[string][]Attestation),
		fees:         make(map[string]int64),
		drawdowns:    make(map[string]int64),
		clock:        time.Now,
	}
}

// WithClock overrides the clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Attest records a verifier's observation of a commitment's value.
// Authorized verifiers only; the commitment must exist.
func (e *Engine) Attest(ctx context.Context, verifier, commitmentID string, value int64) error {
	if err := e.authorizer.RequireAuthorized(verifier); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if _, err := e.reader.Commitment(ctx, commitmentID); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.attestations[commitmentID] = append(e.attestations[commitmentID], Attestation{
		CommitmentID: commitmentID,
		Verifier:     verifier,
		Value:        value,
		Timestamp:    e.clock(),
	})
	return nil
}

// Attestations returns the recorded attestations for a commitment,
// oldest first. Empty slice when none.
func (e *Engine) Attestations(commitmentID string) []Attestation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Attestation(nil), e.attestations[commitmentID]...)
}

// RecordFees adds realized fee income to a commitment's running total.
// Authorized callers only.
func (e *Engine) RecordFees(_ context.Context, caller, commitmentID string, amount int64) error {
	if err := e.authorizer.RequireAuthorized(caller); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fees[commitmentID] += amount
	return nil
}

// RecordDrawdown adds a realized drawdown to a commitment's running
// total. Authorized callers only.
func (e *Engine) RecordDrawdown(_ context.Context, caller, commitmentID string, amount int64) error {
	if err := e.authorizer.RequireAuthorized(caller); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drawdowns[commitmentID] += amount
	return nil
}

// HealthMetrics derives the current health summary for a commitment.
func (e *Engine) HealthMetrics(ctx context.Context, commitmentID string) (*HealthMetrics, error) {
	c, err := e.reader.Commitment(ctx, commitmentID)
	if err != nil {
		return nil, err
	}

	drawdown := vault.LossPercent(c.Principal, c.CurrentValue)
	if drawdown < 0 {
		drawdown = 0
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	var last time.Time
	if atts := e.attestations[commitmentID]; len(atts) > 0 {
		last = atts[len(atts)-1].Timestamp
	}

	return &HealthMetrics{
		CommitmentID:    commitmentID,
		InitialValue:    c.Principal,
		CurrentValue:    c.CurrentValue,
		DrawdownPercent: drawdown,
		ComplianceScore: complianceScore(drawdown, int64(c.Rules.MaxLossPercent)),
		TotalFees:       e.fees[commitmentID],
		TotalDrawdown:   e.drawdowns[commitmentID],
		LastAttestation: last,
	}, nil
}

// complianceScore starts at 100, loses a point per drawdown percent, and
// takes a flat 25-point penalty once the drawdown breaches the declared
// loss limit. Clamped to [0, 100].
func complianceScore(drawdownPercent, maxLossPercent int64) int64 {
	score := int64(100) - drawdownPercent
	if drawdownPercent > maxLossPercent {
		score -= 25
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
