package vault

import "errors"

// Validation errors: the request is rejected before any state mutation.
var (
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInvalidDuration       = errors.New("duration must be at least one day")
	ErrInvalidMaxLoss        = errors.New("max loss percent must not exceed 100")
	ErrInvalidCommitmentType = errors.New("unknown commitment type")
	ErrAssetNotSupported     = errors.New("asset is not in the supported set")
	ErrExpiryOverflow        = errors.New("expiry timestamp overflows")
)

// State errors: rejected after existence/status checks, no mutation.
var (
	ErrNotFound       = errors.New("commitment not found")
	ErrAlreadyExists  = errors.New("commitment id already exists")
	ErrNotActive      = errors.New("commitment is not active")
	ErrNotExpired     = errors.New("commitment has not reached maturity")
	ErrAlreadySettled = errors.New("commitment is already settled")
)

// Authorization and gating errors.
var (
	ErrUnauthorized = errors.New("caller is not authorized")
	ErrEmergency    = errors.New("vault is in emergency mode")
	ErrRateLimited  = errors.New("operation rate limit exceeded")
)

// ErrReentrancy is returned when a mutating entry point is invoked while
// another mutating operation holds the guard. Guaranteed to have mutated
// nothing: the guard is the first check performed.
var ErrReentrancy = errors.New("reentrant call detected")

// External-call errors: raised during the interactions phase. The
// enclosing storage transaction is rolled back, so no effect of the
// failed operation is observable.
var (
	ErrTransferFailed    = errors.New("asset transfer failed")
	ErrCertificateFailed = errors.New("certificate operation failed")
)

// ErrNotImplemented marks declared extension points (early exit,
// allocation) whose financial formulas are not part of the lifecycle
// engine.
var ErrNotImplemented = errors.New("operation is an extension point without settled semantics")
