package store

import (
	"context"
	"sync"

	"github.com/commitlock/vault/pkg/contracts"
)

// MemoryStore is an in-memory Store for tests and single-process
// deployments. Update stages writes in an overlay and applies them only
// when the transaction function succeeds.
type MemoryStore struct {
	mu          sync.RWMutex
	commitments map[string]contracts.Commitment
	ownerIndex  map[string][]string
	totalCount  uint64
	totalLocked int64
	assetLocked map[string]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		commitments: make(map[string]contracts.Commitment),
		ownerIndex:  make(map[string][]string),
		assetLocked: make(map[string]int64),
	}
}

// View implements Store.
func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{store: s})
}

// Update implements Store. Writes are staged in the Tx and applied
// atomically after fn returns nil.
func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:       s,
		commitments: make(map[string]contracts.Commitment),
		ownerIndex:  make(map[string][]string),
		assetLocked: make(map[string]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// memTx overlays staged writes on the store. A nil staged map marks a
// read-only transaction (View).
type memTx struct {
	store       *MemoryStore
	commitments map[string]contracts.Commitment
	ownerIndex  map[string][]string
	assetLocked map[string]int64
	totalCount  *uint64
	totalLocked *int64
}

func (t *memTx) apply() {
	for id, c := range t.commitments {
		t.store.commitments[id] = c
	}
	for owner, ids := range t.ownerIndex {
		t.store.ownerIndex[owner] = ids
	}
	for asset, v := range t.assetLocked {
		t.store.assetLocked[asset] = v
	}
	if t.totalCount != nil {
		t.store.totalCount = *t.totalCount
	}
	if t.totalLocked != nil {
		t.store.totalLocked = *t.totalLocked
	}
}

func (t *memTx) Commitment(id string) (*contracts.Commitment, error) {
	if t.commitments != nil {
		if c, ok := t.commitments[id]; ok {
			out := c
			return &out, nil
		}
	}
	if c, ok := t.store.commitments[id]; ok {
		out := c
		return &out, nil
	}
	return nil, ErrNotFound
}

func (t *memTx) HasCommitment(id string) (bool, error) {
	if t.commitments != nil {
		if _, ok := t.commitments[id]; ok {
			return true, nil
		}
	}
	_, ok := t.store.commitments[id]
	return ok, nil
}

func (t *memTx) PutCommitment(c *contracts.Commitment) error {
	if t.commitments == nil {
		return errReadOnly
	}
	t.commitments[c.ID] = *c
	return nil
}

func (t *memTx) OwnerCommitments(owner string) ([]string, error) {
	if t.ownerIndex != nil {
		if ids, ok := t.ownerIndex[owner]; ok {
			return append([]string(nil), ids...), nil
		}
	}
	return append([]string(nil), t.store.ownerIndex[owner]...), nil
}

func (t *memTx) AppendOwnerCommitment(owner, id string) error {
	if t.ownerIndex == nil {
		return errReadOnly
	}
	ids, err := t.OwnerCommitments(owner)
	if err != nil {
		return err
	}
	t.ownerIndex[owner] = append(ids, id)
	return nil
}

func (t *memTx) TotalCommitments() (uint64, error) {
	if t.totalCount != nil {
		return *t.totalCount, nil
	}
	return t.store.totalCount, nil
}

func (t *memTx) SetTotalCommitments(n uint64) error {
	if t.commitments == nil {
		return errReadOnly
	}
	t.totalCount = &n
	return nil
}

func (t *memTx) TotalValueLocked() (int64, error) {
	if t.totalLocked != nil {
		return *t.totalLocked, nil
	}
	return t.store.totalLocked, nil
}

func (t *memTx) SetTotalValueLocked(v int64) error {
	if t.commitments == nil {
		return errReadOnly
	}
	t.totalLocked = &v
	return nil
}

func (t *memTx) AssetValueLocked(assetID string) (int64, error) {
	if t.assetLocked != nil {
		if v, ok := t.assetLocked[assetID]; ok {
			return v, nil
		}
	}
	return t.store.assetLocked[assetID], nil
}

func (t *memTx) SetAssetValueLocked(assetID string, v int64) error {
	if t.assetLocked == nil {
		return errReadOnly
	}
	t.assetLocked[assetID] = v
	return nil
}
