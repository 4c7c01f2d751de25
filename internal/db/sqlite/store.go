// Package sqlite implements db.Store on an embedded SQLite database file.
// Writers are serialized through a single connection, so every unit of work
// observes and updates the counters in a total order.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register the "sqlite" database/sql driver

	"github.com/kelaseh/backend/internal/db"
	"github.com/kelaseh/backend/internal/models"
)

var _ db.Store = (*Store)(nil)

const driverName = "sqlite"

type Store struct {
	DB              *sql.DB
	DefaultCapacity int
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{DB: sqlDB, DefaultCapacity: models.DefaultCapacity}
	if err := s.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	_ = s.DB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx db.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(&sqliteTx{tx: tx, def: s.DefaultCapacity}); err != nil {
		return err
	}
	return tx.Commit()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) GetQuota(ctx context.Context, officeID int64, branch int) (int, error) {
	return getQuota(ctx, s.DB, officeID, branch, s.DefaultCapacity)
}

func (s *Store) GetUsage(ctx context.Context, officeID int64, branch int, day string) (int, error) {
	return getUsage(ctx, s.DB, officeID, branch, day)
}

func getQuota(ctx context.Context, q querier, officeID int64, branch int, def int) (int, error) {
	var capacity int
	err := q.QueryRowContext(ctx, `SELECT capacity FROM capacity_quotas WHERE office_id = ? AND branch_number = ?`, officeID, branch).Scan(&capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return db.EffectiveCapacity(0, false, def), nil
	}
	if err != nil {
		return 0, err
	}
	return db.EffectiveCapacity(capacity, true, def), nil
}

func getUsage(ctx context.Context, q querier, officeID int64, branch int, day string) (int, error) {
	var used int
	err := q.QueryRowContext(ctx, `SELECT count_used FROM daily_usage WHERE office_id = ? AND branch_number = ? AND day = ?`, officeID, branch, day).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return used, err
}

type sqliteTx struct {
	tx  *sql.Tx
	def int
}

func (t *sqliteTx) GetQuota(ctx context.Context, officeID int64, branch int) (int, error) {
	return getQuota(ctx, t.tx, officeID, branch, t.def)
}

func (t *sqliteTx) GetUsage(ctx context.Context, officeID int64, branch int, day string) (int, error) {
	return getUsage(ctx, t.tx, officeID, branch, day)
}

func (t *sqliteTx) IncrementUsageIfBelowLimit(ctx context.Context, officeID int64, branch int, day string, limit int) (int, bool, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO daily_usage (office_id, branch_number, day, count_used, updated_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT (office_id, branch_number, day) DO NOTHING
	`, officeID, branch, day, time.Now().UTC())
	if err != nil {
		return 0, false, err
	}

	var count int
	err = t.tx.QueryRowContext(ctx, `
		UPDATE daily_usage
		SET count_used = count_used + 1, updated_at = ?
		WHERE office_id = ? AND branch_number = ? AND day = ? AND count_used < ?
		RETURNING count_used
	`, time.Now().UTC(), officeID, branch, day, limit).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}
	count, err = getUsage(ctx, t.tx, officeID, branch, day)
	return count, false, err
}

func (t *sqliteTx) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE code = ?)`, code).Scan(&exists)
	return exists, err
}

func (t *sqliteTx) InsertCase(ctx context.Context, c models.Case) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO cases (id, code, office_id, branch_number, owner_id, status, day,
			plaintiff_name, plaintiff_national_code, plaintiff_mobile, plaintiff_address,
			defendant_name, defendant_national_code, defendant_mobile, defendant_address,
			subject, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (code) DO NOTHING
	`, c.ID, c.Code, c.OfficeID, c.BranchNumber, c.OwnerID, c.Status, c.Day,
		c.Plaintiff.Name, c.Plaintiff.NationalCode, c.Plaintiff.Mobile, c.Plaintiff.Address,
		c.Defendant.Name, c.Defendant.NationalCode, c.Defendant.Mobile, c.Defendant.Address,
		c.Subject, c.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) SetQuota(ctx context.Context, q models.CapacityQuota) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO capacity_quotas (office_id, branch_number, capacity, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (office_id, branch_number) DO UPDATE SET
			capacity = excluded.capacity,
			updated_at = excluded.updated_at
	`, q.OfficeID, q.BranchNumber, q.Capacity, time.Now().UTC())
	return err
}

func (s *Store) ListUsage(ctx context.Context, officeID int64, day string) ([]models.BranchUsage, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT u.branch_number, u.count_used, q.capacity
		FROM daily_usage u
		LEFT JOIN capacity_quotas q ON q.office_id = u.office_id AND q.branch_number = u.branch_number
		WHERE u.office_id = ? AND u.day = ?
		ORDER BY u.branch_number ASC
	`, officeID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BranchUsage
	for rows.Next() {
		var (
			u        = models.BranchUsage{OfficeID: officeID, Day: day}
			capacity sql.NullInt64
		)
		if err := rows.Scan(&u.BranchNumber, &u.Used, &capacity); err != nil {
			return nil, err
		}
		u.Capacity = db.EffectiveCapacity(int(capacity.Int64), capacity.Valid, s.DefaultCapacity)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) PruneUsage(ctx context.Context, beforeDay string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM daily_usage WHERE day < ?`, beforeDay)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) GetCase(ctx context.Context, code string) (models.Case, error) {
	var c models.Case
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, code, office_id, branch_number, owner_id, status, day,
			plaintiff_name, plaintiff_national_code, plaintiff_mobile, plaintiff_address,
			defendant_name, defendant_national_code, defendant_mobile, defendant_address,
			subject, created_at
		FROM cases WHERE code = ?
	`, code).Scan(&c.ID, &c.Code, &c.OfficeID, &c.BranchNumber, &c.OwnerID, &c.Status, &c.Day,
		&c.Plaintiff.Name, &c.Plaintiff.NationalCode, &c.Plaintiff.Mobile, &c.Plaintiff.Address,
		&c.Defendant.Name, &c.Defendant.NationalCode, &c.Defendant.Mobile, &c.Defendant.Address,
		&c.Subject, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Case{}, db.ErrNotFound
	}
	return c, err
}

func (s *Store) SetCaseStatus(ctx context.Context, code string, status string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE cases SET status = ? WHERE code = ? AND status <> 'voided'`, status, code)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE code = ?)`, code).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return db.ErrNotFound
	}
	return db.ErrCaseVoided
}

func (s *Store) GetUser(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, name, office_id, branch_from, branch_to, active, updated_at FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Name, &u.OfficeID, &u.BranchFrom, &u.BranchTo, &u.Active, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, db.ErrNotFound
	}
	return u, err
}

func (s *Store) UpsertUser(ctx context.Context, u models.User) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO users (id, name, office_id, branch_from, branch_to, active, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			office_id = excluded.office_id,
			branch_from = excluded.branch_from,
			branch_to = excluded.branch_to,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, u.ID, u.Name, u.OfficeID, u.BranchFrom, u.BranchTo, u.Active, time.Now().UTC())
	return err
}

func (s *Store) InsertAudit(ctx context.Context, e models.AuditEvent) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, action, entity_id, office_id, created_at)
		VALUES (?,?,?,?,?,?)
	`, e.ID, e.ActorID, e.Action, e.EntityID, e.OfficeID, e.CreatedAt.UTC())
	return err
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, actor_id, action, entity_id, office_id, created_at
		FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?
	`, db.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityID, &e.OfficeID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    office_id INTEGER NOT NULL,
    branch_from INTEGER NOT NULL,
    branch_to INTEGER NOT NULL,
    active BOOLEAN NOT NULL DEFAULT 1,
    updated_at DATETIME NOT NULL,
    CHECK (branch_from > 0 AND branch_to >= branch_from)
);

CREATE TABLE IF NOT EXISTS capacity_quotas (
    office_id INTEGER NOT NULL,
    branch_number INTEGER NOT NULL,
    capacity INTEGER NOT NULL CHECK (capacity > 0),
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (office_id, branch_number)
);

CREATE TABLE IF NOT EXISTS daily_usage (
    office_id INTEGER NOT NULL,
    branch_number INTEGER NOT NULL,
    day TEXT NOT NULL,
    count_used INTEGER NOT NULL DEFAULT 0 CHECK (count_used >= 0),
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (office_id, branch_number, day)
);

CREATE INDEX IF NOT EXISTS idx_daily_usage_day ON daily_usage(day);

CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL UNIQUE,
    office_id INTEGER NOT NULL,
    branch_number INTEGER NOT NULL,
    owner_id INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive', 'voided')),
    day TEXT NOT NULL,
    plaintiff_name TEXT NOT NULL,
    plaintiff_national_code TEXT NOT NULL,
    plaintiff_mobile TEXT NOT NULL DEFAULT '',
    plaintiff_address TEXT NOT NULL DEFAULT '',
    defendant_name TEXT NOT NULL,
    defendant_national_code TEXT NOT NULL,
    defendant_mobile TEXT NOT NULL DEFAULT '',
    defendant_address TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_office_branch_day ON cases(office_id, branch_number, day);

CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    actor_id INTEGER NOT NULL,
    action TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    office_id INTEGER NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);
`
