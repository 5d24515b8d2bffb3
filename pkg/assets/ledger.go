// Package assets implements the token-transfer collaborator: a
// multi-asset balance ledger with a vault escrow account.
package assets

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInsufficientFunds is returned when a transfer exceeds the
	// sender's balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidTransfer is returned for non-positive amounts or empty
	// accounts.
	ErrInvalidTransfer = errors.New("invalid transfer")
)

type balanceKey struct {
	assetID string
	owner   string
}

// Ledger is an in-memory multi-asset balance ledger.
type Ledger struct {
	mu       sync.RWMutex
	balances map[balanceKey]int64

	// transferHook, when set, runs after a successful transfer. Used by
	// tests to simulate a callee that calls back into the vault.
	transferHook func(ctx context.Context, assetID, from, to string, amount int64) error
}

// NewLedger creates an empty asset ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[balanceKey]int64)}
}

// WithTransferHook installs a callback invoked after each successful
// transfer. An error from the hook fails the transfer.
func (l *Ledger) WithTransferHook(hook func(ctx context.Context, assetID, from, to string, amount int64) error) *Ledger {
	l.transferHook = hook
	return l
}

// Mint credits amount of the asset to owner. Bootstrap and test helper.
func (l *Ledger) Mint(assetID, owner string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[balanceKey{assetID, owner}] += amount
}

// Balance returns owner's balance of the asset.
func (l *Ledger) Balance(_ context.Context, assetID, owner string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[balanceKey{assetID, owner}], nil
}

// Transfer moves amount of the asset from one account to another.
func (l *Ledger) Transfer(ctx context.Context, assetID, from, to string, amount int64) error {
	if amount <= 0 || from == "" || to == "" {
		return fmt.Errorf("%w: %s -> %s amount %d", ErrInvalidTransfer, from, to, amount)
	}

	l.mu.Lock()
	fromKey := balanceKey{assetID, from}
	if l.balances[fromKey] < amount {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s has %d of %s, need %d", ErrInsufficientFunds, from, l.balances[fromKey], assetID, amount)
	}
	l.balances[fromKey] -= amount
	l.balances[balanceKey{assetID, to}] += amount
	l.mu.Unlock()

	if l.transferHook != nil {
		if err := l.transferHook(ctx, assetID, from, to, amount); err != nil {
			// Undo the movement so a failed hook leaves balances intact.
			l.mu.Lock()
			l.balances[fromKey] += amount
			l.balances[balanceKey{assetID, to}] -= amount
			l.mu.Unlock()
			return err
		}
	}
	return nil
}
