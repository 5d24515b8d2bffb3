// Package certificate implements the certificate issuer: the registry of
// transferable tokens that represent commitment ownership. The vault
// holds the issuer handle and is its only minter; certificate transfer
// and lookup are owner-facing.
package certificate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/commitlock/vault/pkg/contracts"
)

var (
	// ErrTokenNotFound is returned when a certificate id has no record.
	ErrTokenNotFound = errors.New("certificate not found")

	// ErrAlreadySettled is returned when settling an inactive token.
	ErrAlreadySettled = errors.New("certificate already settled")

	// ErrNotOwner is returned when a transfer is attempted by a
	// non-owner.
	ErrNotOwner = errors.New("caller does not own certificate")

	// ErrTransferNotAllowed is returned while emergency mode blocks
	// transfers.
	ErrTransferNotAllowed = errors.New("certificate transfers are paused")

	// ErrInvalidMint is returned for structurally invalid mint requests.
	ErrInvalidMint = errors.New("invalid mint request")
)

// Metadata describes the commitment a certificate represents. Immutable
// after mint.
type Metadata struct {
	CommitmentID  string                   `json:"commitment_id"`
	Rules         contracts.CommitmentRules `json:"rules"`
	CreatedAt     time.Time                `json:"created_at"`
	ExpiresAt     time.Time                `json:"expires_at"`
	InitialAmount int64                    `json:"initial_amount"`
	AssetID       string                   `json:"asset_id"`
}

// Certificate is a registry entry. Active until its commitment settles.
type Certificate struct {
	TokenID  uint64   `json:"token_id"`
	Owner    string   `json:"owner"`
	Metadata Metadata `json:"metadata"`
	IsActive bool     `json:"is_active"`
}

// Registry is an in-memory certificate registry with monotonic token
// ids.
type Registry struct {
	mu        sync.RWMutex
	tokens    map[uint64]*Certificate
	byOwner   map[string][]uint64
	counter   uint64
	emergency bool
	clock     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tokens:  make(map[uint64]*Certificate),
		byOwner: make(map[string][]uint64),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Mint issues a certificate for a new commitment and returns its token
// id. Token ids start at 1 and increase monotonically.
func (r *Registry) Mint(_ context.Context, owner, commitmentID string, rules contracts.CommitmentRules, amount int64, assetID string) (uint64, error) {
	if owner == "" || commitmentID == "" || amount <= 0 {
		return 0, fmt.Errorf("%w: owner=%q commitment=%q amount=%d", ErrInvalidMint, owner, commitmentID, amount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.counter++
	tokenID := r.counter
	now := r.clock()
	r.tokens[tokenID] = &Certificate{
		TokenID: tokenID,
		Owner:   owner,
		Metadata: Metadata{
			CommitmentID:  commitmentID,
			Rules:         rules,
			CreatedAt:     now,
			ExpiresAt:     now.Add(time.Duration(rules.DurationDays) * 24 * time.Hour),
			InitialAmount: amount,
			AssetID:       assetID,
		},
		IsActive: true,
	}
	r.byOwner[owner] = append(r.byOwner[owner], tokenID)
	return tokenID, nil
}

// Settle marks a certificate inactive. Fails when already settled.
func (r *Registry) Settle(_ context.Context, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cert, ok := r.tokens[tokenID]
	if !ok {
		return fmt.Errorf("%w: token %d", ErrTokenNotFound, tokenID)
	}
	if !cert.IsActive {
		return fmt.Errorf("%w: token %d", ErrAlreadySettled, tokenID)
	}
	cert.IsActive = false
	return nil
}

// Transfer moves a certificate between owners. Blocked in emergency
// mode.
func (r *Registry) Transfer(from, to string, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.emergency {
		return ErrTransferNotAllowed
	}
	cert, ok := r.tokens[tokenID]
	if !ok {
		return fmt.Errorf("%w: token %d", ErrTokenNotFound, tokenID)
	}
	if cert.Owner != from {
		return fmt.Errorf("%w: token %d", ErrNotOwner, tokenID)
	}

	cert.Owner = to
	fromTokens := r.byOwner[from]
	for i, t := range fromTokens {
		if t == tokenID {
			r.byOwner[from] = append(fromTokens[:i:i], fromTokens[i+1:]...)
			break
		}
	}
	r.byOwner[to] = append(r.byOwner[to], tokenID)
	return nil
}

// SetEmergencyMode toggles the transfer pause.
func (r *Registry) SetEmergencyMode(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emergency = enabled
}

// Get returns the certificate for tokenID.
func (r *Registry) Get(tokenID uint64) (*Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cert, ok := r.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("%w: token %d", ErrTokenNotFound, tokenID)
	}
	out := *cert
	return &out, nil
}

// OwnerOf returns the current owner of tokenID.
func (r *Registry) OwnerOf(tokenID uint64) (string, error) {
	cert, err := r.Get(tokenID)
	if err != nil {
		return "", err
	}
	return cert.Owner, nil
}

// IsActive reports whether the certificate is still active.
func (r *Registry) IsActive(tokenID uint64) (bool, error) {
	cert, err := r.Get(tokenID)
	if err != nil {
		return false, err
	}
	return cert.IsActive, nil
}

// IsExpired reports whether the underlying commitment has matured.
func (r *Registry) IsExpired(tokenID uint64) (bool, error) {
	cert, err := r.Get(tokenID)
	if err != nil {
		return false, err
	}
	return !r.clock().Before(cert.Metadata.ExpiresAt), nil
}

// TotalSupply returns the number of certificates ever minted.
func (r *Registry) TotalSupply() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counter
}

// BalanceOf returns the number of certificates held by owner.
func (r *Registry) BalanceOf(owner string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byOwner[owner])
}

// TokensByOwner returns the token ids held by owner.
func (r *Registry) TokensByOwner(owner string) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]uint64(nil), r.byOwner[owner]...)
}
