// Package contracts holds the shared data model for the commitment vault:
// commitment records, the risk rules that govern them, and the event
// payloads the ledger emits. All amounts are integer minor units.
package contracts

import "time"

// CommitmentType categorizes the declared risk tier of a commitment.
type CommitmentType string

const (
	TypeSafe       CommitmentType = "SAFE"
	TypeBalanced   CommitmentType = "BALANCED"
	TypeAggressive CommitmentType = "AGGRESSIVE"
)

// Valid reports whether the type is one of the three enumerated tiers.
func (t CommitmentType) Valid() bool {
	switch t {
	case TypeSafe, TypeBalanced, TypeAggressive:
		return true
	}
	return false
}

// Status represents the lifecycle state of a commitment. Status only moves
// forward: a terminal state is never reversed.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSettled   Status = "SETTLED"
	StatusViolated  Status = "VIOLATED"
	StatusEarlyExit Status = "EARLY_EXIT"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// CommitmentRules declares the risk envelope a commitment is locked under.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type CommitmentRules struct {
	// DurationDays is the lock duration. Must be > 0.
	DurationDays uint32 `json:"duration_days"`

	// MaxLossPercent is the tolerated loss before the commitment is in
	// violation, 0-100 inclusive.
	MaxLossPercent uint32 `json:"max_loss_percent"`

	// CommitmentType is the declared risk tier.
	CommitmentType CommitmentType `json:"commitment_type"`

	// EarlyExitPenaltyPercent is stored with the commitment but not
	// interpreted by the core lifecycle engine; the early-exit payout
	// formula is an extension point.
	EarlyExitPenaltyPercent uint32 `json:"early_exit_penalty_percent"`

	// MinFeeThreshold is stored for forward compatibility with fee
	// accounting; unused by the lifecycle engine.
	MinFeeThreshold int64 `json:"min_fee_threshold"`
}

// Commitment is the persistent record of a locked position. Every field
// except CurrentValue, Status, and CertificateID is immutable after
// creation; CertificateID is set once when the certificate is minted.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Commitment struct {
	ID            string          `json:"id"`
	Owner         string          `json:"owner"`
	CertificateID uint64          `json:"certificate_id"` // 0 until minted
	Rules         CommitmentRules `json:"rules"`
	Principal     int64           `json:"principal_amount"`
	AssetID       string          `json:"asset_id"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CurrentValue  int64           `json:"current_value"`
	Status        Status          `json:"status"`
}

// Expired reports whether the commitment has reached maturity at the
// given instant.
func (c *Commitment) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ViolationDetails is the full result of a violation check.
type ViolationDetails struct {
	HasViolation     bool          `json:"has_violation"`
	LossViolated     bool          `json:"loss_violated"`
	DurationViolated bool          `json:"duration_violated"`
	LossPercent      int64         `json:"loss_percent"`
	TimeRemaining    time.Duration `json:"time_remaining"`
}
