package contracts

import "time"

// EventType identifies a ledger event.
type EventType string

const (
	EventCreated      EventType = "CREATED"
	EventViolated     EventType = "VIOLATED"
	EventSettled      EventType = "SETTLED"
	EventValueUpdated EventType = "VALUE_UPDATED"
)

// CreatedEvent is emitted after a commitment is created and its
// certificate minted.
type CreatedEvent struct {
	CommitmentID  string          `json:"commitment_id"`
	Owner         string          `json:"owner"`
	Amount        int64           `json:"amount"`
	AssetID       string          `json:"asset_id"`
	Rules         CommitmentRules `json:"rules"`
	CertificateID uint64          `json:"certificate_id"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ViolatedEvent is emitted whenever a violation check detects a rule
// breach. Detection does not change the commitment's status.
type ViolatedEvent struct {
	CommitmentID     string    `json:"commitment_id"`
	LossViolated     bool      `json:"loss_violated"`
	DurationViolated bool      `json:"duration_violated"`
	LossPercent      int64     `json:"loss_percent"`
	Timestamp        time.Time `json:"timestamp"`
}

// SettledEvent is emitted after a commitment is settled at maturity.
type SettledEvent struct {
	CommitmentID     string    `json:"commitment_id"`
	SettlementAmount int64     `json:"settlement_amount"`
	Timestamp        time.Time `json:"timestamp"`
}

// ValueUpdatedEvent is emitted when an authorized caller revalues a
// commitment.
type ValueUpdatedEvent struct {
	CommitmentID string    `json:"commitment_id"`
	OldValue     int64     `json:"old_value"`
	NewValue     int64     `json:"new_value"`
	Timestamp    time.Time `json:"timestamp"`
}
