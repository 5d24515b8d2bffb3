package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/commitlock/vault/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the vault in a SQLite database. Suitable for
// single-node deployments; Update maps directly onto a SQL transaction.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite vault database at
// path and runs migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// The engine serializes writers; a single connection avoids
	// SQLITE_BUSY on overlapping reads.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an existing database handle and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS commitments (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		certificate_id INTEGER NOT NULL DEFAULT 0,
		duration_days INTEGER NOT NULL,
		max_loss_percent INTEGER NOT NULL,
		commitment_type TEXT NOT NULL,
		early_exit_penalty_percent INTEGER NOT NULL DEFAULT 0,
		min_fee_threshold INTEGER NOT NULL DEFAULT 0,
		principal INTEGER NOT NULL,
		asset_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		current_value INTEGER NOT NULL,
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
		value INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS asset_tvl (
		asset_id TEXT PRIMARY KEY,
		value_locked INTEGER NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("migrate vault schema: %w", err)
	}
	return nil
}

// View implements Store.
func (s *SQLiteStore) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&sqliteTx{ctx: ctx, tx: tx})
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&sqliteTx{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

const sqliteCommitmentCols = `id, owner, certificate_id, duration_days, max_loss_percent,
	commitment_type, early_exit_penalty_percent, min_fee_threshold,
	principal, asset_id, created_at, expires_at, current_value, status`

func (t *sqliteTx) Commitment(id string) (*contracts.Commitment, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+sqliteCommitmentCols+` FROM commitments WHERE id = ?`, id)
	return scanCommitment(row)
}

func (t *sqliteTx) HasCommitment(id string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(1) FROM commitments WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check commitment existence: %w", err)
	}
	return n > 0, nil
}

func (t *sqliteTx) PutCommitment(c *contracts.Commitment) error {
	query := `INSERT INTO commitments (` + sqliteCommitmentCols + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			certificate_id = excluded.certificate_id,
			current_value = excluded.current_value,
			status = excluded.status`
	_, err := t.tx.ExecContext(t.ctx, query,
		c.ID, c.Owner, c.CertificateID,
		c.Rules.DurationDays, c.Rules.MaxLossPercent, string(c.Rules.CommitmentType),
		c.Rules.EarlyExitPenaltyPercent, c.Rules.MinFeeThreshold,
		c.Principal, c.AssetID,
		c.CreatedAt.UTC().Format(time.RFC3339Nano),
		c.ExpiresAt.UTC().Format(time.RFC3339Nano),
		c.CurrentValue, string(c.Status),
	)
	if err != nil {
		return fmt.Errorf("put commitment %s: %w", c.ID, err)
	}
	return nil
}

func (t *sqliteTx) OwnerCommitments(owner string) ([]string, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT commitment_id FROM owner_index WHERE owner = ? ORDER BY position ASC`, owner)
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

func (t *sqliteTx) AppendOwnerCommitment(owner, id string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO owner_index (owner, position, commitment_id)
		 VALUES (?, (SELECT COALESCE(MAX(position), -1) + 1 FROM owner_index WHERE owner = ?), ?)`,
		owner, owner, id)
	if err != nil {
		return fmt.Errorf("append owner index: %w", err)
	}
	return nil
}

func (t *sqliteTx) TotalCommitments() (uint64, error) {
	return t.counter("total_commitments")
}

func (t *sqliteTx) SetTotalCommitments(n uint64) error {
	return t.setCounter("total_commitments", int64(n))
}

func (t *sqliteTx) TotalValueLocked() (int64, error) {
	v, err := t.counter("total_value_locked")
	return int64(v), err
}

func (t *sqliteTx) SetTotalValueLocked(v int64) error {
	return t.setCounter("total_value_locked", v)
}

func (t *sqliteTx) AssetValueLocked(assetID string) (int64, error) {
	var v int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT value_locked FROM asset_tvl WHERE asset_id = ?`, assetID).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read asset tvl: %w", err)
	}
	return v, nil
}

func (t *sqliteTx) SetAssetValueLocked(assetID string, v int64) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO asset_tvl (asset_id, value_locked) VALUES (?, ?)
		 ON CONFLICT (asset_id) DO UPDATE SET value_locked = excluded.value_locked`,
		assetID, v)
	if err != nil {
		return fmt.Errorf("write asset tvl: %w", err)
	}
	return nil
}

func (t *sqliteTx) counter(name string) (uint64, error) {
	var v int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT value FROM counters WHERE name = ?`, name).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", name, err)
	}
	return uint64(v), nil
}

func (t *sqliteTx) setCounter(name string, v int64) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO counters (name, value) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET value = excluded.value`,
		name, v)
	if err != nil {
		return fmt.Errorf("write counter %s: %w", name, err)
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommitment(row rowScanner) (*contracts.Commitment, error) {
	var (
		c                    contracts.Commitment
		ctype, status        string
		createdAt, expiresAt string
	)
	err := row.Scan(
		&c.ID, &c.Owner, &c.CertificateID,
		&c.Rules.DurationDays, &c.Rules.MaxLossPercent, &ctype,
		&c.Rules.EarlyExitPenaltyPercent, &c.Rules.MinFeeThreshold,
		&c.Principal, &c.AssetID, &createdAt, &expiresAt,
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
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	return &c, nil
}
