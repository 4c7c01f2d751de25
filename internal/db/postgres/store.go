// Package postgres implements db.Store on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kelaseh/backend/internal/db"
	"github.com/kelaseh/backend/internal/models"
)

var _ db.Store = (*Store)(nil)

type Store struct {
	Pool            *pgxpool.Pool
	DefaultCapacity int
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool, DefaultCapacity: models.DefaultCapacity}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx db.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(&pgTx{tx: tx, def: s.DefaultCapacity}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) GetQuota(ctx context.Context, officeID int64, branch int) (int, error) {
	return getQuota(ctx, s.Pool, officeID, branch, s.DefaultCapacity)
}

func (s *Store) GetUsage(ctx context.Context, officeID int64, branch int, day string) (int, error) {
	return getUsage(ctx, s.Pool, officeID, branch, day)
}

func getQuota(ctx context.Context, q querier, officeID int64, branch int, def int) (int, error) {
	var capacity int
	err := q.QueryRow(ctx, `SELECT capacity FROM capacity_quotas WHERE office_id = $1 AND branch_number = $2`, officeID, branch).Scan(&capacity)
	if errors.Is(err, pgx.ErrNoRows) {
		return db.EffectiveCapacity(0, false, def), nil
	}
	if err != nil {
		return 0, err
	}
	return db.EffectiveCapacity(capacity, true, def), nil
}

func getUsage(ctx context.Context, q querier, officeID int64, branch int, day string) (int, error) {
	var used int
	err := q.QueryRow(ctx, `SELECT count_used FROM daily_usage WHERE office_id = $1 AND branch_number = $2 AND day = $3::date`, officeID, branch, day).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return used, err
}

type pgTx struct {
	tx  pgx.Tx
	def int
}

func (t *pgTx) GetQuota(ctx context.Context, officeID int64, branch int) (int, error) {
	return getQuota(ctx, t.tx, officeID, branch, t.def)
}

func (t *pgTx) GetUsage(ctx context.Context, officeID int64, branch int, day string) (int, error) {
	return getUsage(ctx, t.tx, officeID, branch, day)
}

// IncrementUsageIfBelowLimit relies on the UPDATE re-evaluating its WHERE
// clause against the latest committed row once the row lock is granted.
func (t *pgTx) IncrementUsageIfBelowLimit(ctx context.Context, officeID int64, branch int, day string, limit int) (int, bool, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO daily_usage (office_id, branch_number, day, count_used)
		VALUES ($1, $2, $3::date, 0)
		ON CONFLICT (office_id, branch_number, day) DO NOTHING
	`, officeID, branch, day)
	if err != nil {
		return 0, false, err
	}

	var count int
	err = t.tx.QueryRow(ctx, `
		UPDATE daily_usage
		SET count_used = count_used + 1, updated_at = NOW()
		WHERE office_id = $1 AND branch_number = $2 AND day = $3::date AND count_used < $4
		RETURNING count_used
	`, officeID, branch, day, limit).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}
	count, err = getUsage(ctx, t.tx, officeID, branch, day)
	return count, false, err
}

func (t *pgTx) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertCase(ctx context.Context, c models.Case) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO cases (id, code, office_id, branch_number, owner_id, status, day,
			plaintiff_name, plaintiff_national_code, plaintiff_mobile, plaintiff_address,
			defendant_name, defendant_national_code, defendant_mobile, defendant_address,
			subject, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7::date,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (code) DO NOTHING
	`, c.ID, c.Code, c.OfficeID, c.BranchNumber, c.OwnerID, c.Status, c.Day,
		c.Plaintiff.Name, c.Plaintiff.NationalCode, c.Plaintiff.Mobile, c.Plaintiff.Address,
		c.Defendant.Name, c.Defendant.NationalCode, c.Defendant.Mobile, c.Defendant.Address,
		c.Subject, c.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert case: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetQuota(ctx context.Context, q models.CapacityQuota) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO capacity_quotas (office_id, branch_number, capacity, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (office_id, branch_number) DO UPDATE SET
			capacity = EXCLUDED.capacity,
			updated_at = EXCLUDED.updated_at
	`, q.OfficeID, q.BranchNumber, q.Capacity)
	return err
}

func (s *Store) ListUsage(ctx context.Context, officeID int64, day string) ([]models.BranchUsage, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT u.branch_number, u.count_used, q.capacity
		FROM daily_usage u
		LEFT JOIN capacity_quotas q ON q.office_id = u.office_id AND q.branch_number = u.branch_number
		WHERE u.office_id = $1 AND u.day = $2::date
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
			capacity *int
		)
		if err := rows.Scan(&u.BranchNumber, &u.Used, &capacity); err != nil {
			return nil, err
		}
		u.Capacity = db.EffectiveCapacity(derefInt(capacity), capacity != nil, s.DefaultCapacity)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) PruneUsage(ctx context.Context, beforeDay string) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM daily_usage WHERE day < $1::date`, beforeDay)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) GetCase(ctx context.Context, code string) (models.Case, error) {
	var c models.Case
	err := s.Pool.QueryRow(ctx, `
		SELECT id, code, office_id, branch_number, owner_id, status, to_char(day, 'YYYY-MM-DD'),
			plaintiff_name, plaintiff_national_code, plaintiff_mobile, plaintiff_address,
			defendant_name, defendant_national_code, defendant_mobile, defendant_address,
			subject, created_at
		FROM cases WHERE code = $1
	`, code).Scan(&c.ID, &c.Code, &c.OfficeID, &c.BranchNumber, &c.OwnerID, &c.Status, &c.Day,
		&c.Plaintiff.Name, &c.Plaintiff.NationalCode, &c.Plaintiff.Mobile, &c.Plaintiff.Address,
		&c.Defendant.Name, &c.Defendant.NationalCode, &c.Defendant.Mobile, &c.Defendant.Address,
		&c.Subject, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Case{}, db.ErrNotFound
	}
	return c, err
}

func (s *Store) SetCaseStatus(ctx context.Context, code string, status string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE cases SET status = $1 WHERE code = $2 AND status <> 'voided'`, status, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE code = $1)`, code).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return db.ErrNotFound
	}
	return db.ErrCaseVoided
}

func (s *Store) GetUser(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	err := s.Pool.QueryRow(ctx, `
		SELECT id, name, office_id, branch_from, branch_to, active, updated_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.OfficeID, &u.BranchFrom, &u.BranchTo, &u.Active, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, db.ErrNotFound
	}
	return u, err
}

func (s *Store) UpsertUser(ctx context.Context, u models.User) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO users (id, name, office_id, branch_from, branch_to, active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			office_id = EXCLUDED.office_id,
			branch_from = EXCLUDED.branch_from,
			branch_to = EXCLUDED.branch_to,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`, u.ID, u.Name, u.OfficeID, u.BranchFrom, u.BranchTo, u.Active)
	return err
}

func (s *Store) InsertAudit(ctx context.Context, e models.AuditEvent) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action, entity_id, office_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.ID, e.ActorID, e.Action, e.EntityID, e.OfficeID, e.CreatedAt)
	return err
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, actor_id, action, entity_id, office_id, created_at
		FROM audit_log ORDER BY created_at DESC, id DESC LIMIT $1
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

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
