// Package db defines the persistence contract shared by the postgres, sqlite
// and memory backends.
package db

import (
	"context"
	"errors"

	"github.com/kelaseh/backend/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrCaseVoided is returned when a status change targets a voided case.
	ErrCaseVoided = errors.New("case is voided")
)

// CapacityReader serves the advisory reads used for branch selection.
type CapacityReader interface {
	// GetQuota returns the configured limit, or the store default when unset.
	GetQuota(ctx context.Context, officeID int64, branch int) (int, error)
	// GetUsage returns 0 when no counter exists for the day.
	GetUsage(ctx context.Context, officeID int64, branch int, day string) (int, error)
}

// CapacityStore adds the conditional increment. Implementations create the
// counter at zero when missing and increment only while the pre-increment
// value is strictly below limit, as a single isolated step.
type CapacityStore interface {
	CapacityReader
	IncrementUsageIfBelowLimit(ctx context.Context, officeID int64, branch int, day string, limit int) (int, bool, error)
}

// Tx is one unit of work. The counter row touched by IncrementUsageIfBelowLimit
// stays locked until the unit of work commits or rolls back.
type Tx interface {
	CapacityStore
	CodeExists(ctx context.Context, code string) (bool, error)
	// InsertCase reports false, without error, when the code is already taken.
	InsertCase(ctx context.Context, c models.Case) (bool, error)
}

type Store interface {
	CapacityReader
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close()

	SetQuota(ctx context.Context, q models.CapacityQuota) error
	ListUsage(ctx context.Context, officeID int64, day string) ([]models.BranchUsage, error)
	PruneUsage(ctx context.Context, beforeDay string) (int64, error)

	GetCase(ctx context.Context, code string) (models.Case, error)
	// SetCaseStatus refuses, with ErrCaseVoided, to change a voided case.
	SetCaseStatus(ctx context.Context, code string, status string) error

	GetUser(ctx context.Context, id int64) (models.User, error)
	UpsertUser(ctx context.Context, u models.User) error

	InsertAudit(ctx context.Context, e models.AuditEvent) error
	ListAudit(ctx context.Context, limit int) ([]models.AuditEvent, error)
}

// EffectiveCapacity resolves a configured limit against the store default.
func EffectiveCapacity(configured int, found bool, def int) int {
	if found && configured > 0 {
		return configured
	}
	if def > 0 {
		return def
	}
	return models.DefaultCapacity
}

func ClampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
