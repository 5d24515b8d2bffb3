package vault

import (
	"context"
	"sync"
	"sync/atomic"
)

type guardKey struct{}

// ReentrancyGuard serializes mutating ledger operations and rejects
// re-entry. Independent callers queue on the mutex and each proceed in
// turn; a nested call made from inside an in-flight operation carries
// the in-flight marker on its context and fails fast with ErrReentrancy
// instead of deadlocking.
type ReentrancyGuard struct {
	mu   sync.Mutex
	held atomic.Bool
}

// Acquire takes the guard, blocking behind other callers. It returns a
// context marked as in-flight; the interactions phase must pass that
// context to callees so a callback into the ledger is detected.
func (g *ReentrancyGuard) Acquire(ctx context.Context) (context.Context, error) {
	if ctx.Value(guardKey{}) != nil {
		return ctx, ErrReentrancy
	}
	g.mu.Lock()
	g.held.Store(true)
	return context.WithValue(ctx, guardKey{}, struct{}{}), nil
}

// Release frees the guard.
func (g *ReentrancyGuard) Release() {
	g.held.Store(false)
	g.mu.Unlock()
}

// Held reports whether a mutating operation is currently in flight.
func (g *ReentrancyGuard) Held() bool {
	return g.held.Load()
}
