package vault

import (
	"context"

	"github.com/commitlock/vault/pkg/contracts"
)

// AssetLedger is the token-transfer collaborator. Transfer failure aborts
// the whole enclosing operation.
type AssetLedger interface {
	// Balance returns owner's balance of the asset.
	Balance(ctx context.Context, assetID, owner string) (int64, error)

	// Transfer moves amount of the asset from one account to another.
	Transfer(ctx context.Context, assetID, from, to string, amount int64) error
}

// CertificateIssuer mints and settles the certificates that represent
// commitment ownership.
type CertificateIssuer interface {
	// Mint issues a certificate for a new commitment and returns its id.
	Mint(ctx context.Context, owner, commitmentID string, rules contracts.CommitmentRules, amount int64, assetID string) (uint64, error)

	// Settle marks the certificate inactive after its commitment is
	// settled.
	Settle(ctx context.Context, certificateID uint64) error
}

// AccessController gates the operations reserved for authorized callers.
type AccessController interface {
	// RequireAuthorized fails unless caller is the admin or on the
	// authorized-caller whitelist.
	RequireAuthorized(caller string) error

	// IsAuthorized reports whether caller is authorized.
	IsAuthorized(caller string) bool
}

// RateLimiter throttles callers per operation.
type RateLimiter interface {
	// Check fails when the caller has exhausted its budget for the
	// operation.
	Check(caller, operation string) error
}

// EmergencyControl is the system-wide pause gate.
type EmergencyControl interface {
	// RequireNotEmergency fails while emergency mode is engaged.
	RequireNotEmergency() error
}

// Emitter receives the events the ledger publishes after an operation
// commits.
type Emitter interface {
	Emit(event contracts.EventType, payload any)
}

// nopEmitter drops events when no sink is configured.
type nopEmitter struct{}

func (nopEmitter) Emit(contracts.EventType, any) {}

// nopLimiter admits every call.
type nopLimiter struct{}

func (nopLimiter) Check(string, string) error { return nil }

// nopEmergency never pauses.
type nopEmergency struct{}

func (nopEmergency) RequireNotEmergency() error { return nil }
