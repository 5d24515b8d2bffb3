package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commitlock/vault/pkg/contracts"
)

// openBackends returns every store implementation the conformance suite
// runs against.
func openBackends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func sampleCommitment(id string) *contracts.Commitment {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &contracts.Commitment{
		ID:            id,
		Owner:         "alice",
		CertificateID: 7,
		Rules: contracts.CommitmentRules{
			DurationDays:   30,
			MaxLossPercent: 10,
			CommitmentType: contracts.TypeBalanced,
		},
		Principal:    1_000,
		AssetID:      "USDC",
		CreatedAt:    created,
		ExpiresAt:    created.Add(30 * 24 * time.Hour),
		CurrentValue: 950,
		Status:       contracts.StatusActive,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer func() { require.NoError(t, s.Close()) }()
			ctx := context.Background()
			want := sampleCommitment("commitment-1")

			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				return tx.PutCommitment(want)
			}))

			err := s.View(ctx, func(tx Tx) error {
				got, err := tx.Commitment("commitment-1")
				require.NoError(t, err)
				assert.Equal(t, want.ID, got.ID)
				assert.Equal(t, want.Owner, got.Owner)
				assert.Equal(t, want.CertificateID, got.CertificateID)
				assert.Equal(t, want.Rules, got.Rules)
				assert.Equal(t, want.Principal, got.Principal)
				assert.Equal(t, want.AssetID, got.AssetID)
				assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
				assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
				assert.Equal(t, want.CurrentValue, got.CurrentValue)
				assert.Equal(t, want.Status, got.Status)

				exists, err := tx.HasCommitment("commitment-1")
				require.NoError(t, err)
				assert.True(t, exists)
				exists, err = tx.HasCommitment("commitment-2")
				require.NoError(t, err)
				assert.False(t, exists)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer func() { require.NoError(t, s.Close()) }()

			err := s.View(context.Background(), func(tx Tx) error {
				_, err := tx.Commitment("missing")
				return err
			})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStorePutReplacesRecord(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer func() { require.NoError(t, s.Close()) }()
			ctx := context.Background()

			c := sampleCommitment("commitment-1")
			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				return tx.PutCommitment(c)
			}))

			c.CurrentValue = 500
			c.Status = contracts.StatusSettled
			c.CertificateID = 9
			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				return tx.PutCommitment(c)
			}))

			err := s.View(ctx, func(tx Tx) error {
				got, err := tx.Commitment("commitment-1")
				require.NoError(t, err)
				assert.Equal(t, int64(500), got.CurrentValue)
				assert.Equal(t, contracts.StatusSettled, got.Status)
				assert.Equal(t, uint64(9), got.CertificateID)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStoreOwnerIndexOrdering(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer func() { require.NoError(t, s.Close()) }()
			ctx := context.Background()

			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				for _, id := range []string{"commitment-1", "commitment-2", "commitment-3"} {
					if err := tx.AppendOwnerCommitment("alice", id); err != nil {
						return err
					}
				}
				return tx.AppendOwnerCommitment("bob", "commitment-4")
			}))

			err := s.View(ctx, func(tx Tx) error {
				ids, err := tx.OwnerCommitments("alice")
				require.NoError(t, err)
				assert.Equal(t, []string{"commitment-1", "commitment-2", "commitment-3"}, ids)

				ids, err = tx.OwnerCommitments("bob")
				require.NoError(t, err)
				assert.Equal(t, []string{"commitment-4"}, ids)

				ids, err = tx.OwnerCommitments("carol")
				require.NoError(t, err)
				assert.Empty(t, ids)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStoreCounters(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer func() { require.NoError(t, s.Close()) }()
			ctx := context.Background()

			// Counters default to zero before any write.
			err := s.View(ctx, func(tx Tx) error {
				total, err := tx.TotalCommitments()
				require.NoError(t, err)
				assert.Zero(t, total)
				tvl, err := tx.TotalValueLocked()
				require.NoError(t, err)
				assert.Zero(t, tvl)
				atvl, err := tx.AssetValueLocked("USDC")
				require.NoError(t, err)
				assert.Zero(t, atvl)
				return nil
			})
			require.NoError(t, err)

			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				if err := tx.SetTotalCommitments(3); err != nil {
					return err
				}
				if err := tx.SetTotalValueLocked(2_500); err != nil {
					return err
				}
				return tx.SetAssetValueLocked("USDC", 1_500)
			}))

			err = s.View(ctx, func(tx Tx) error {
				total, err := tx.TotalCommitments()
				require.NoError(t, err)
				assert.Equal(t, uint64(3), total)
				tvl, err := tx.TotalValueLocked()
				require.NoError(t, err)
				assert.Equal(t, int64(2_500), tvl)
				atvl, err := tx.AssetValueLocked("USDC")
				require.NoError(t, err)
				assert.Equal(t, int64(1_500), atvl)
				atvl, err = tx.AssetValueLocked("XLM")
				require.NoError(t, err)
				assert.Zero(t, atvl)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStoreUpdateRollsBackOnError(t *testing.T) {
	boom := errors.New("interaction failed")

	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer func() { require.NoError(t, s.Close()) }()
			ctx := context.Background()

			err := s.Update(ctx, func(tx Tx) error {
				if err := tx.PutCommitment(sampleCommitment("commitment-1")); err != nil {
					return err
				}
				if err := tx.SetTotalCommitments(1); err != nil {
					return err
				}
				if err := tx.AppendOwnerCommitment("alice", "commitment-1"); err != nil {
					return err
				}
				return boom
			})
			require.ErrorIs(t, err, boom)

			// None of the writes may be observable.
			err = s.View(ctx, func(tx Tx) error {
				exists, err := tx.HasCommitment("commitment-1")
				require.NoError(t, err)
				assert.False(t, exists)
				total, err := tx.TotalCommitments()
				require.NoError(t, err)
				assert.Zero(t, total)
				ids, err := tx.OwnerCommitments("alice")
				require.NoError(t, err)
				assert.Empty(t, ids)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestMemoryViewRejectsWrites(t *testing.T) {
	s := NewMemoryStore()
	err := s.View(context.Background(), func(tx Tx) error {
		return tx.PutCommitment(sampleCommitment("commitment-1"))
	})
	assert.ErrorIs(t, err, errReadOnly)
}
