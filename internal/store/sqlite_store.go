// Package store implements the Change Log & Snapshot Store (spec.md §4.4)
// on top of SQLite, grounded on the teacher's pkg/stores.SQLiteStore.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/openfroyo/froyo-guard/internal/changelog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLiteStore implements changelog.Store using SQLite. Writes are
// serialized through an explicit mutex in addition to SQLite's own
// _txlock=immediate/WAL tuning, because the write lock must also exclude
// concurrent in-process Apply/Revert calls (spec.md §5), not only
// cross-process writers.
type SQLiteStore struct {
	db   *sql.DB
	path string

	writeMu sync.Mutex
}

// New creates a new SQLite-backed store instance.
func New(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and applies pragma tuning.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateSnapshot opens a new snapshot row.
func (s *SQLiteStore) CreateSnapshot(ctx context.Context, snap *changelog.Snapshot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
		INSERT INTO snapshots (snapshot_id, created_at, description, system_info, restore_point_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(snapshot_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		snap.SnapshotID, snap.CreatedAt, snap.Description, snap.SystemInfoJSON, nullIfEmpty(snap.RestorePointID))
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves a snapshot by id.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*changelog.Snapshot, error) {
	query := `
		SELECT snapshot_id, created_at, description, system_info, restore_point_id
		FROM snapshots WHERE snapshot_id = ?
	`
	snap := &changelog.Snapshot{}
	var desc, rp sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(&snap.SnapshotID, &snap.CreatedAt, &desc, &snap.SystemInfoJSON, &rp)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	snap.Description = desc.String
	snap.RestorePointID = rp.String
	return snap, nil
}

// MostRecentSnapshot returns the most recently created snapshot.
func (s *SQLiteStore) MostRecentSnapshot(ctx context.Context) (*changelog.Snapshot, error) {
	query := `
		SELECT snapshot_id, created_at, description, system_info, restore_point_id
		FROM snapshots ORDER BY created_at DESC LIMIT 1
	`
	snap := &changelog.Snapshot{}
	var desc, rp sql.NullString
	err := s.db.QueryRowContext(ctx, query).Scan(&snap.SnapshotID, &snap.CreatedAt, &desc, &snap.SystemInfoJSON, &rp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get most recent snapshot: %w", err)
	}
	snap.Description = desc.String
	snap.RestorePointID = rp.String
	return snap, nil
}

// PutSnapshotPolicyStates persists the per-policy promised state captured
// at snapshot time.
func (s *SQLiteStore) PutSnapshotPolicyStates(ctx context.Context, snapshotID string, states []changelog.SnapshotPolicyState) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO snapshot_policies (snapshot_id, policy_id, is_applied, current_value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(snapshot_id, policy_id) DO UPDATE SET
			is_applied = excluded.is_applied,
			current_value = excluded.current_value
	`
	for _, st := range states {
		if _, err := tx.ExecContext(ctx, query, snapshotID, st.PolicyID, boolToInt(st.IsApplied), st.CurrentValue); err != nil {
			return fmt.Errorf("put snapshot policy state: %w", err)
		}
	}

	return tx.Commit()
}

// ListSnapshotPolicyStates returns the promised states for a snapshot.
func (s *SQLiteStore) ListSnapshotPolicyStates(ctx context.Context, snapshotID string) ([]changelog.SnapshotPolicyState, error) {
	query := `
		SELECT snapshot_id, policy_id, is_applied, current_value
		FROM snapshot_policies WHERE snapshot_id = ?
	`
	rows, err := s.db.QueryContext(ctx, query, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list snapshot policy states: %w", err)
	}
	defer rows.Close()

	var out []changelog.SnapshotPolicyState
	for rows.Next() {
		var st changelog.SnapshotPolicyState
		var applied int
		if err := rows.Scan(&st.SnapshotID, &st.PolicyID, &applied, &st.CurrentValue); err != nil {
			return nil, fmt.Errorf("scan snapshot policy state: %w", err)
		}
		st.IsApplied = applied != 0
		out = append(out, st)
	}
	return out, rows.Err()
}

// AppendChange journals one mutation attempt, transactionally associated
// with its enclosing snapshot row. An empty SnapshotID is replaced by the
// ad-hoc sentinel id, and a placeholder snapshot row is inserted under the
// change's SnapshotID if none exists yet.
func (s *SQLiteStore) AppendChange(ctx context.Context, change *changelog.ChangeRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if change.SnapshotID == "" {
		change.SnapshotID = changelog.AdhocSnapshotID
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (snapshot_id, created_at, description, system_info, restore_point_id)
		VALUES (?, ?, '', '{}', NULL)
		ON CONFLICT(snapshot_id) DO NOTHING
	`, change.SnapshotID, change.AppliedAt); err != nil {
		return fmt.Errorf("ensure snapshot row: %w", err)
	}

	op := change.Operation
	if op == "" {
		op = changelog.OperationApply
	}

	query := `
		INSERT INTO changes (
			change_id, policy_id, applied_at, mechanism, description,
			previous_state, new_state, success, error_message, snapshot_id, operation
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		change.ChangeID, change.PolicyID, change.AppliedAt, change.Mechanism, change.Description,
		change.PreviousState, change.NewState, boolToInt(change.Success), nullIfEmpty(change.ErrorMessage),
		change.SnapshotID, op,
	)
	if err != nil {
		return fmt.Errorf("failed to append change: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) scanChanges(rows *sql.Rows) ([]changelog.ChangeRecord, error) {
	defer rows.Close()
	var out []changelog.ChangeRecord
	for rows.Next() {
		var c changelog.ChangeRecord
		var errMsg sql.NullString
		var success int
		if err := rows.Scan(
			&c.ChangeID, &c.PolicyID, &c.AppliedAt, &c.Mechanism, &c.Description,
			&c.PreviousState, &c.NewState, &success, &errMsg, &c.SnapshotID, &c.Operation,
		); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Success = success != 0
		c.ErrorMessage = errMsg.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChangesForPolicy returns change records for one policy, reverse-chronological.
func (s *SQLiteStore) ChangesForPolicy(ctx context.Context, policyID string, limit, offset int) ([]changelog.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT change_id, policy_id, applied_at, mechanism, description,
		       previous_state, new_state, success, error_message, snapshot_id, operation
		FROM changes WHERE policy_id = ?
		ORDER BY applied_at DESC LIMIT ? OFFSET ?
	`, policyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes for policy: %w", err)
	}
	return s.scanChanges(rows)
}

// ChangesForSnapshot returns change records joined to a snapshot in
// persisted order.
func (s *SQLiteStore) ChangesForSnapshot(ctx context.Context, snapshotID string) ([]changelog.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT change_id, policy_id, applied_at, mechanism, description,
		       previous_state, new_state, success, error_message, snapshot_id, operation
		FROM changes WHERE snapshot_id = ?
		ORDER BY rowid ASC
	`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes for snapshot: %w", err)
	}
	return s.scanChanges(rows)
}

// AllChanges returns all change records, reverse-chronological and paged.
func (s *SQLiteStore) AllChanges(ctx context.Context, limit, offset int) ([]changelog.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT change_id, policy_id, applied_at, mechanism, description,
		       previous_state, new_state, success, error_message, snapshot_id, operation
		FROM changes ORDER BY applied_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	return s.scanChanges(rows)
}

// LatestChangeForPolicy returns the most recent successful change record
// for a policy, per spec.md §3's "most recent successful change record
// determines whether revert is meaningful" invariant.
func (s *SQLiteStore) LatestChangeForPolicy(ctx context.Context, policyID string) (*changelog.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT change_id, policy_id, applied_at, mechanism, description,
		       previous_state, new_state, success, error_message, snapshot_id, operation
		FROM changes WHERE policy_id = ? AND success = 1
		ORDER BY applied_at DESC LIMIT 1
	`, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest change: %w", err)
	}
	changes, err := s.scanChanges(rows)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, nil
	}
	return &changes[0], nil
}

// RecordAudit appends an operator-trail entry.
func (s *SQLiteStore) RecordAudit(ctx context.Context, action, actor, targetID, details string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, action, actor, nullIfEmpty(targetID), nullIfEmpty(details), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
