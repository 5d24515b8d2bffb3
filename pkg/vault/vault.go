// Package vault implements the commitment lifecycle engine: creation,
// violation detection, and settlement of time-locked asset commitments.
//
// Every mutating entry point follows checks-effects-interactions order
// under a reentrancy guard: inputs are validated first, storage effects
// run inside a single transaction, and external calls (asset transfer,
// certificate mint/settle) happen last while the guard is still held. An
// interaction failure rolls the transaction back, so a commitment is
// never observable half-created or half-settled.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/commitlock/vault/pkg/contracts"
	"github.com/commitlock/vault/pkg/store"
)

// Operation names used for rate limiting and logging.
const (
	OpCreateCommitment = "create_commitment"
	OpSettle           = "settle"
	OpUpdateValue      = "update_value"
	OpEarlyExit        = "early_exit"
	OpAllocate         = "allocate"
)

// Config wires the ledger's collaborators. Store, Assets, Certificates,
// and Access are required; the gates default to no-ops when nil.
type Config struct {
	Store        store.Store
	Assets       AssetLedger
	Certificates CertificateIssuer
	Access       AccessController
	Limiter      RateLimiter
	Emergency    EmergencyControl
	Emitters     []Emitter

	// VaultAccount is the escrow account commitments are locked under.
	VaultAccount string

	// SupportedAssets restricts creation to a whitelist when non-empty.
	SupportedAssets []string
}

// Ledger orchestrates the commitment lifecycle. Mutating operations are
// serialized by the reentrancy guard: independent callers run one at a
// time, and a callee re-entering the ledger mid-operation fails with
// ErrReentrancy rather than waiting.
type Ledger struct {
	store        store.Store
	assets       AssetLedger
	certs        CertificateIssuer
	access       AccessController
	limiter      RateLimiter
	emergency    EmergencyControl
	emitters     []Emitter
	guard        ReentrancyGuard
	vaultAccount string
	supported    map[string]bool // nil when no whitelist is configured
	clock        func() time.Time
	logger       *slog.Logger
}

// New creates a ledger from cfg.
func New(cfg Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("vault: store is required")
	}
	if cfg.Assets == nil {
		return nil, fmt.Errorf("vault: asset ledger is required")
	}
	if cfg.Certificates == nil {
		return nil, fmt.Errorf("vault: certificate issuer is required")
	}
	if cfg.Access == nil {
		return nil, fmt.Errorf("vault: access controller is required")
	}
	if cfg.VaultAccount == "" {
		return nil, fmt.Errorf("vault: vault account is required")
	}

	l := &Ledger{
		store:        cfg.Store,
		assets:       cfg.Assets,
		certs:        cfg.Certificates,
		access:       cfg.Access,
		limiter:      cfg.Limiter,
		emergency:    cfg.Emergency,
		emitters:     cfg.Emitters,
		vaultAccount: cfg.VaultAccount,
		clock:        time.Now,
		logger:       slog.Default().With("component", "vault"),
	}
	if l.limiter == nil {
		l.limiter = nopLimiter{}
	}
	if l.emergency == nil {
		l.emergency = nopEmergency{}
	}
	if len(cfg.SupportedAssets) > 0 {
		l.supported = make(map[string]bool, len(cfg.SupportedAssets))
		for _, a := range cfg.SupportedAssets {
			l.supported[a] = true
		}
	}
	return l, nil
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// GuardHeld reports whether a mutating operation is in flight.
func (l *Ledger) GuardHeld() bool {
	return l.guard.Held()
}

func (l *Ledger) emit(event contracts.EventType, payload any) {
	for _, e := range l.emitters {
		e.Emit(event, payload)
	}
}

// CreateCommitment locks amount of the asset under the given rules and
// returns the new commitment's id. The certificate is minted and the
// principal transferred into the vault before the operation commits.
func (l *Ledger) CreateCommitment(ctx context.Context, owner string, amount int64, assetID string, rules contracts.CommitmentRules) (string, error) {
	ctx, err := l.guard.Acquire(ctx)
	if err != nil {
		return "", err
	}
	id, evt, err := l.createLocked(ctx, owner, amount, assetID, rules)
	l.guard.Release()
	if err != nil {
		return "", err
	}

	l.logger.InfoContext(ctx, "commitment created",
		"commitment_id", id, "owner", owner, "asset", assetID, "amount", amount)
	l.emit(contracts.EventCreated, evt)
	return id, nil
}

func (l *Ledger) createLocked(ctx context.Context, owner string, amount int64, assetID string, rules contracts.CommitmentRules) (string, *contracts.CreatedEvent, error) {
	// Checks: nothing below mutates state until every gate has passed.
	if err := l.emergency.RequireNotEmergency(); err != nil {
		return "", nil, ErrEmergency
	}
	if err := l.limiter.Check(owner, OpCreateCommitment); err != nil {
		return "", nil, fmt.Errorf("%w: %s by %s", ErrRateLimited, OpCreateCommitment, owner)
	}
	if amount <= 0 {
		return "", nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	if err := ValidateRules(rules); err != nil {
		return "", nil, err
	}
	if l.supported != nil && !l.supported[assetID] {
		return "", nil, fmt.Errorf("%w: %s", ErrAssetNotSupported, assetID)
	}

	var (
		id  string
		evt *contracts.CreatedEvent
	)
	err := l.store.Update(ctx, func(tx store.Tx) error {
		// Counter snapshot for this call.
		total, err := tx.TotalCommitments()
		if err != nil {
			return err
		}
		tvl, err := tx.TotalValueLocked()
		if err != nil {
			return err
		}
		assetTVL, err := tx.AssetValueLocked(assetID)
		if err != nil {
			return err
		}

		id = CommitmentID(total)
		exists, err := tx.HasCommitment(id)
		if err != nil {
			return err
		}
		if exists {
			// Unreachable with a correctly monotonic counter.
			return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
		}

		now := l.clock()
		lockSeconds := int64(rules.DurationDays) * 86400
		if lockSeconds > math.MaxInt64/int64(time.Second) {
			return fmt.Errorf("%w: %d days", ErrExpiryOverflow, rules.DurationDays)
		}
		expiresAt := now.Add(time.Duration(lockSeconds) * time.Second)
		if expiresAt.Before(now) {
			return fmt.Errorf("%w: %d days", ErrExpiryOverflow, rules.DurationDays)
		}

		// Effects.
		c := &contracts.Commitment{
			ID:           id,
			Owner:        owner,
			Rules:        rules,
			Principal:    amount,
			AssetID:      assetID,
			CreatedAt:    now,
			ExpiresAt:    expiresAt,
			CurrentValue: amount,
			Status:       contracts.StatusActive,
		}
		if err := tx.PutCommitment(c); err != nil {
			return err
		}
		if err := tx.AppendOwnerCommitment(owner, id); err != nil {
			return err
		}
		if err := tx.SetTotalCommitments(total + 1); err != nil {
			return err
		}
		if err := tx.SetTotalValueLocked(tvl + amount); err != nil {
			return err
		}
		if err := tx.SetAssetValueLocked(assetID, assetTVL+amount); err != nil {
			return err
		}

		// Interactions, guard still held. A failure here returns an
		// error, which rolls back every effect above.
		if err := l.assets.Transfer(ctx, assetID, owner, l.vaultAccount, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		certID, err := l.certs.Mint(ctx, owner, id, rules, amount, assetID)
		if err != nil {
			// The principal already moved; send it back before the
			// storage rollback discards the commitment.
			l.compensateTransfer(ctx, assetID, l.vaultAccount, owner, amount)
			return fmt.Errorf("%w: mint: %v", ErrCertificateFailed, err)
		}
		c.CertificateID = certID
		if err := tx.PutCommitment(c); err != nil {
			return err
		}

		evt = &contracts.CreatedEvent{
			CommitmentID:  id,
			Owner:         owner,
			Amount:        amount,
			AssetID:       assetID,
			Rules:         rules,
			CertificateID: certID,
			Timestamp:     now,
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return id, evt, nil
}

// Settle pays out a matured commitment: the current value moves from the
// vault back to the owner, the certificate is marked inactive, and the
// status flips to Settled exactly once.
func (l *Ledger) Settle(ctx context.Context, id string) error {
	ctx, err := l.guard.Acquire(ctx)
	if err != nil {
		return err
	}
	evt, err := l.settleLocked(ctx, id)
	l.guard.Release()
	if err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "commitment settled",
		"commitment_id", id, "settlement_amount", evt.SettlementAmount)
	l.emit(contracts.EventSettled, evt)
	return nil
}

func (l *Ledger) settleLocked(ctx context.Context, id string) (*contracts.SettledEvent, error) {
	if err := l.emergency.RequireNotEmergency(); err != nil {
		return nil, ErrEmergency
	}

	var evt *contracts.SettledEvent
	err := l.store.Update(ctx, func(tx store.Tx) error {
		// Checks.
		c, err := tx.Commitment(id)
		if err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		if err := l.limiter.Check(c.Owner, OpSettle); err != nil {
			return fmt.Errorf("%w: %s for %s", ErrRateLimited, OpSettle, id)
		}
		now := l.clock()
		if !c.Expired(now) {
			return fmt.Errorf("%w: %s matures at %s", ErrNotExpired, id, c.ExpiresAt.Format(time.RFC3339))
		}
		if c.Status != contracts.StatusActive {
			if c.Status == contracts.StatusSettled {
				return fmt.Errorf("%w: %s", ErrAlreadySettled, id)
			}
			return fmt.Errorf("%w: %s is %s", ErrNotActive, id, c.Status)
		}

		// Effects.
		settlement := c.CurrentValue
		c.Status = contracts.StatusSettled
		if err := tx.PutCommitment(c); err != nil {
			return err
		}
		tvl, err := tx.TotalValueLocked()
		if err != nil {
			return err
		}
		if err := tx.SetTotalValueLocked(tvl - settlement); err != nil {
			return err
		}
		assetTVL, err := tx.AssetValueLocked(c.AssetID)
		if err != nil {
			return err
		}
		if err := tx.SetAssetValueLocked(c.AssetID, assetTVL-settlement); err != nil {
			return err
		}

		// Interactions, guard still held. A total-loss position settles
		// at zero: nothing to pay out, nothing to compensate.
		if settlement > 0 {
			if err := l.assets.Transfer(ctx, c.AssetID, l.vaultAccount, c.Owner, settlement); err != nil {
				return fmt.Errorf("%w: %v", ErrTransferFailed, err)
			}
		}
		if err := l.certs.Settle(ctx, c.CertificateID); err != nil {
			// Reclaim the payout so the rollback leaves the position
			// fully intact.
			if settlement > 0 {
				l.compensateTransfer(ctx, c.AssetID, c.Owner, l.vaultAccount, settlement)
			}
			return fmt.Errorf("%w: settle certificate %d: %v", ErrCertificateFailed, c.CertificateID, err)
		}

		evt = &contracts.SettledEvent{
			CommitmentID:     id,
			SettlementAmount: settlement,
			Timestamp:        now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evt, nil
}

// compensateTransfer reverses a completed transfer whose enclosing
// operation is aborting. Failure is logged, not returned: the original
// error is the one the caller must see.
func (l *Ledger) compensateTransfer(ctx context.Context, assetID, from, to string, amount int64) {
	if err := l.assets.Transfer(ctx, assetID, from, to, amount); err != nil {
		l.logger.ErrorContext(ctx, "compensating transfer failed",
			"asset", assetID, "from", from, "to", to, "amount", amount, "error", err)
	}
}

// CheckViolations reports whether the commitment currently breaches its
// loss limit or has passed maturity. Idempotent and non-mutating: a
// detected violation is published as an event but the stored status is
// untouched; persisting a Violated status is a separate liquidation
// concern.
func (l *Ledger) CheckViolations(ctx context.Context, id string) (bool, error) {
	details, err := l.ViolationDetails(ctx, id)
	if err != nil {
		return false, err
	}
	if details.HasViolation {
		l.logger.WarnContext(ctx, "violation detected",
			"commitment_id", id,
			"loss_violated", details.LossViolated,
			"duration_violated", details.DurationViolated,
			"loss_percent", details.LossPercent)
		l.emit(contracts.EventViolated, &contracts.ViolatedEvent{
			CommitmentID:     id,
			LossViolated:     details.LossViolated,
			DurationViolated: details.DurationViolated,
			LossPercent:      details.LossPercent,
			Timestamp:        l.clock(),
		})
	}
	return details.HasViolation, nil
}

// ViolationDetails returns the full violation breakdown for a
// commitment. A commitment in a terminal state reports no violation.
func (l *Ledger) ViolationDetails(ctx context.Context, id string) (contracts.ViolationDetails, error) {
	var details contracts.ViolationDetails
	err := l.store.View(ctx, func(tx store.Tx) error {
		c, err := tx.Commitment(id)
		if err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		details = DetectViolations(c, l.clock())
		return nil
	})
	return details, err
}

// UpdateValue revalues an active commitment. Reserved for authorized
// callers (the allocation engine); the TVL counters track the delta.
func (l *Ledger) UpdateValue(ctx context.Context, caller, id string, newValue int64) error {
	if err := l.access.RequireAuthorized(caller); err != nil {
		return err
	}
	ctx, err := l.guard.Acquire(ctx)
	if err != nil {
		return err
	}
	evt, err := l.updateValueLocked(ctx, caller, id, newValue)
	l.guard.Release()
	if err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "commitment revalued",
		"commitment_id", id, "old_value", evt.OldValue, "new_value", evt.NewValue, "caller", caller)
	l.emit(contracts.EventValueUpdated, evt)
	return nil
}

func (l *Ledger) updateValueLocked(ctx context.Context, caller, id string, newValue int64) (*contracts.ValueUpdatedEvent, error) {
	if err := l.emergency.RequireNotEmergency(); err != nil {
		return nil, ErrEmergency
	}
	if err := l.limiter.Check(caller, OpUpdateValue); err != nil {
		return nil, fmt.Errorf("%w: %s by %s", ErrRateLimited, OpUpdateValue, caller)
	}
	if newValue < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, newValue)
	}

	var evt *contracts.ValueUpdatedEvent
	err := l.store.Update(ctx, func(tx store.Tx) error {
		c, err := tx.Commitment(id)
		if err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		if c.Status != contracts.StatusActive {
			return fmt.Errorf("%w: %s is %s", ErrNotActive, id, c.Status)
		}

		old := c.CurrentValue
		c.CurrentValue = newValue
		if err := tx.PutCommitment(c); err != nil {
			return err
		}
		tvl, err := tx.TotalValueLocked()
		if err != nil {
			return err
		}
		if err := tx.SetTotalValueLocked(tvl - old + newValue); err != nil {
			return err
		}
		assetTVL, err := tx.AssetValueLocked(c.AssetID)
		if err != nil {
			return err
		}
		if err := tx.SetAssetValueLocked(c.AssetID, assetTVL-old+newValue); err != nil {
			return err
		}

		evt = &contracts.ValueUpdatedEvent{
			CommitmentID: id,
			OldValue:     old,
			NewValue:     newValue,
			Timestamp:    l.clock(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evt, nil
}

// EarlyExit is a declared extension point: the owner-initiated withdrawal
// before maturity has no settled penalty formula. The guard, emergency,
// existence, ownership, and status checks run; the financial settlement
// does not.
func (l *Ledger) EarlyExit(ctx context.Context, caller, id string) error {
	ctx, err := l.guard.Acquire(ctx)
	if err != nil {
		return err
	}
	defer l.guard.Release()

	if err := l.emergency.RequireNotEmergency(); err != nil {
		return ErrEmergency
	}
	if err := l.limiter.Check(caller, OpEarlyExit); err != nil {
		return fmt.Errorf("%w: %s by %s", ErrRateLimited, OpEarlyExit, caller)
	}
	return l.store.View(ctx, func(tx store.Tx) error {
		c, err := tx.Commitment(id)
		if err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		if c.Owner != caller {
			return fmt.Errorf("%w: only the owner may exit %s", ErrUnauthorized, id)
		}
		if c.Status != contracts.StatusActive {
			return fmt.Errorf("%w: %s is %s", ErrNotActive, id, c.Status)
		}
		return fmt.Errorf("%w: early exit", ErrNotImplemented)
	})
}

// Allocate is a declared extension point: moving locked liquidity into a
// yield strategy has no settled accounting. Authorization and existence
// checks run; the allocation itself does not.
func (l *Ledger) Allocate(ctx context.Context, caller, id, targetPool string, amount int64) error {
	if err := l.access.RequireAuthorized(caller); err != nil {
		return err
	}
	ctx, err := l.guard.Acquire(ctx)
	if err != nil {
		return err
	}
	defer l.guard.Release()

	if err := l.emergency.RequireNotEmergency(); err != nil {
		return ErrEmergency
	}
	if err := l.limiter.Check(caller, OpAllocate); err != nil {
		return fmt.Errorf("%w: %s by %s", ErrRateLimited, OpAllocate, caller)
	}
	return l.store.View(ctx, func(tx store.Tx) error {
		c, err := tx.Commitment(id)
		if err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		if c.Status != contracts.StatusActive {
			return fmt.Errorf("%w: %s is %s", ErrNotActive, id, c.Status)
		}
		return fmt.Errorf("%w: allocate", ErrNotImplemented)
	})
}

// Commitment returns the record for id.
func (l *Ledger) Commitment(ctx context.Context, id string) (*contracts.Commitment, error) {
	var c *contracts.Commitment
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		c, err = tx.Commitment(id)
		if err == store.ErrNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	})
	return c, err
}

// OwnerCommitments returns the ordered ids created by owner.
func (l *Ledger) OwnerCommitments(ctx context.Context, owner string) ([]string, error) {
	var ids []string
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.OwnerCommitments(owner)
		return err
	})
	return ids, err
}

// TotalCommitments returns the monotonic creation counter.
func (l *Ledger) TotalCommitments(ctx context.Context) (uint64, error) {
	var n uint64
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.TotalCommitments()
		return err
	})
	return n, err
}

// TotalValueLocked returns the sum of current value across all active
// commitments.
func (l *Ledger) TotalValueLocked(ctx context.Context) (int64, error) {
	var v int64
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		v, err = tx.TotalValueLocked()
		return err
	})
	return v, err
}

// AssetValueLocked returns the TVL partition for one asset.
func (l *Ledger) AssetValueLocked(ctx context.Context, assetID string) (int64, error) {
	var v int64
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		v, err = tx.AssetValueLocked(assetID)
		return err
	})
	return v, err
}
