package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/commitlock/vault/pkg/contracts"

	_ "github.com/lib/pq"
)

// PostgresStore persists the vault in PostgreSQL for multi-node
// deployments. Schema management is expected to run out of band; Migrate
// is provided for bootstrap and tests.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects to the database at dsn and runs migrations.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the vault schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS commitments (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		certificate_id BIGINT NOT NULL DEFAULT 0,
		duration_days INTEGER NOT NULL,
		max_loss_percent INTEGER NOT NULL,
		commitment_type TEXT NOT NULL,
		early_exit_penalty_percent INTEGER NOT NULL DEFAULT 0,
		min_fee_threshold BIGINT NOT NULL DEFAULT 0,
		principal BIGINT NOT NULL,
		asset_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		current_value BIGINT NOT NULL,
		status TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS owner_index (
		owner TEXT NOT NULL,
		position INTEGER NOT NULL,
		commitment_id TEXT NOT NULL,
		PRIMARY KEY (owner, position)
	);
	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS asset_tvl (
		asset_id TEXT PRIMARY KEY,
		value_locked BIGINT NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate vault schema: %w", err)
	}
	return nil
}

// View implements Store.
func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&postgresTx{ctx: ctx, tx: tx})
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&postgresTx{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error { return s.db.Close() }

type postgresTx struct {
	ctx context.Context
	tx  *sql.Tx
}

const pgCommitmentCols = `id, owner, certificate_id, duration_days, max_loss_percent,
	commitment_type, early_exit_penalty_percent, min_fee_threshold,
	principal, asset_id, created_at, expires_at, current_value, status`

func (t *postgresTx) Commitment(id string) (*contracts.Commitment, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+pgCommitmentCols+` FROM commitments WHERE id = $1`, id)

	var (
		c             contracts.Commitment
		ctype, status string
	)
	err := row.Scan(
		&c.ID, &c.Owner, &c.CertificateID,
		&c.Rules.DurationDays, &c.Rules.MaxLossPercent, &ctype,
		&c.Rules.EarlyExitPenaltyPercent, &c.Rules.MinFeeThreshold,
		&c.Principal, &c.AssetID, &c.CreatedAt, &c.ExpiresAt,
		&c.CurrentValue, &status,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan commitment: %w", err)
	}
	c.Rules.CommitmentType = contracts.CommitmentType(ctype)
	c.Status = contracts.Status(status)
	return &c, nil
}

func (t *postgresTx) HasCommitment(id string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(1) FROM commitments WHERE id = $1`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check commitment existence: %w", err)
	}
	return n > 0, nil
}

func (t *postgresTx) PutCommitment(c *contracts.Commitment) error {
	query := `INSERT INTO commitments (` + pgCommitmentCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			certificate_id = EXCLUDED.certificate_id,
			current_value = EXCLUDED.current_value,
			status = EXCLUDED.status`
	_, err := t.tx.ExecContext(t.ctx, query,
		c.ID, c.Owner, c.CertificateID,
		c.Rules.DurationDays, c.Rules.MaxLossPercent, string(c.Rules.CommitmentType),
		c.Rules.EarlyExitPenaltyPercent, c.Rules.MinFeeThreshold,
		c.Principal, c.AssetID, c.CreatedAt.UTC(), c.ExpiresAt.UTC(),
		c.CurrentValue, string(c.Status),
	)
	if err != nil {
		return fmt.Errorf("put commitment %s: %w", c.ID, err)
	}
	return nil
}

func (t *postgresTx) OwnerCommitments(owner string) ([]string, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT commitment_id FROM owner_index WHERE owner = $1 ORDER BY position ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("query owner index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *postgresTx) AppendOwnerCommitment(owner, id string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO owner_index (owner, position, commitment_id)
		 VALUES ($1, (SELECT COALESCE(MAX(position), -1) + 1 FROM owner_index WHERE owner = $2), $3)`,
		owner, owner, id)
	if err != nil {
		return fmt.Errorf("append owner index: %w", err)
	}
	return nil
}

func (t *postgresTx) TotalCommitments() (uint64, error) {
	v, err := t.counter("total_commitments")
	return uint64(v), err
}

func (t *postgresTx) SetTotalCommitments(n uint64) error {
	return t.setCounter("total_commitments", int64(n))
}

func (t *postgresTx) TotalValueLocked() (int64, error) {
	return t.counter("total_value_locked")
}

func (t *postgresTx) SetTotalValueLocked(v int64) error {
	return t.setCounter("total_value_locked", v)
}

func (t *postgresTx) AssetValueLocked(assetID string) (int64, error) {
	var v int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT value_locked FROM asset_tvl WHERE asset_id = $1`, assetID).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read asset tvl: %w", err)
	}
	return v, nil
}

func (t *postgresTx) SetAssetValueLocked(assetID string, v int64) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO asset_tvl (asset_id, value_locked) VALUES ($1, $2)
		 ON CONFLICT (asset_id) DO UPDATE SET value_locked = EXCLUDED.value_locked`,
		assetID, v)
	if err != nil {
		return fmt.Errorf("write asset tvl: %w", err)
	}
	return nil
}

func (t *postgresTx) counter(name string) (int64, error) {
	var v int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT value FROM counters WHERE name = $1`, name).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", name, err)
	}
	return v, nil
}

func (t *postgresTx) setCounter(name string, v int64) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO counters (name, value) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`,
		name, v)
	if err != nil {
		return fmt.Errorf("write counter %s: %w", name, err)
	}
	return nil
}
