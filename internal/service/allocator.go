package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kelaseh/backend/internal/audit"
	"github.com/kelaseh/backend/internal/db"
	"github.com/kelaseh/backend/internal/metrics"
	"github.com/kelaseh/backend/internal/models"
)

const DefaultIssueAttempts = 8

const (
	outcomeSucceeded = "succeeded"
	outcomeRejected  = "rejected"
	outcomeExhausted = "exhausted"
	outcomeConflict  = "conflict"
	outcomeFailed    = "failed"
)

// IssueStore is the slice of db.Store the allocator needs.
type IssueStore interface {
	db.CapacityReader
	WithTx(ctx context.Context, fn func(tx db.Tx) error) error
}

// Allocator issues cases. The conditional increment and the case insert run
// in one unit of work, so a call either commits a counted slot together with
// its case or commits nothing. A call abandoned after commit keeps its slot.
type Allocator struct {
	Store       IssueStore
	Minter      Minter
	Audit       audit.Sink
	Validator   *validator.Validate
	Clock       Clock
	Location    *time.Location
	MaxAttempts int
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
	NewID       func() string
}

type IssueResult struct {
	Code   string      `json:"code"`
	Branch int         `json:"branch"`
	Case   models.Case `json:"case"`
}

// IssueCase picks a branch for caller, reserves one slot of today's capacity
// and persists a new case under a freshly minted code.
func (a *Allocator) IssueCase(ctx context.Context, caller models.CallerAuthorization, input models.CaseInput) (IssueResult, error) {
	start := time.Now()
	attempts := 0
	res, err := a.issue(ctx, caller, input, &attempts)
	a.Metrics.ObserveIssue(outcomeOf(err), attempts, time.Since(start))
	return res, err
}

func (a *Allocator) issue(ctx context.Context, caller models.CallerAuthorization, input models.CaseInput, attempts *int) (IssueResult, error) {
	input = NormalizeCaseInput(input)
	if len(caller.Branches) == 0 {
		return IssueResult{}, rejected("caller is not authorized for any branch", nil)
	}
	if err := ValidateCaseInput(a.validator(), input); err != nil {
		return IssueResult{}, rejected(err.Error(), err)
	}

	now := a.clock().Now()
	day := Day(now, a.Location)
	log := a.Logger.With().Int64("office_id", caller.OfficeID).Int64("user_id", caller.UserID).Str("day", day).Logger()

	for *attempts < a.maxAttempts() {
		*attempts++
		if err := ctx.Err(); err != nil {
			return IssueResult{}, failed("request cancelled", err)
		}

		branch, err := SelectBranch(ctx, a.Store, caller, day)
		if errors.Is(err, ErrExhausted) {
			return IssueResult{}, &AllocationError{Kind: KindExhausted, Reason: "capacity full", Err: ErrExhausted}
		}
		if err != nil {
			log.Error().Err(err).Msg("branch selection failed")
			return IssueResult{}, failed("storage unavailable", err)
		}

		limit, err := a.Store.GetQuota(ctx, caller.OfficeID, branch)
		if err != nil {
			log.Error().Err(err).Int("branch", branch).Msg("quota read failed")
			return IssueResult{}, failed("storage unavailable", err)
		}

		issued, err := a.reserveAndPersist(ctx, log, caller, branch, day, limit, now, input)
		if errors.Is(err, errLostRace) {
			a.Metrics.LostRace()
			log.Debug().Int("branch", branch).Int("attempt", *attempts).Msg("capacity slot taken concurrently, reselecting")
			continue
		}
		if errors.Is(err, ErrCodeSpaceExhausted) {
			log.Error().Err(err).Int("branch", branch).Msg("case code space saturated")
			return IssueResult{}, failed("case code space exhausted", err)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return IssueResult{}, failed("request cancelled", err)
			}
			log.Error().Err(err).Int("branch", branch).Msg("case persistence failed")
			return IssueResult{}, failed("storage unavailable", err)
		}

		a.recordAudit(ctx, issued, log)
		log.Info().Str("code", issued.Code).Int("branch", branch).Int("attempts", *attempts).Msg("case issued")
		return IssueResult{Code: issued.Code, Branch: branch, Case: issued}, nil
	}

	log.Warn().Int("attempts", *attempts).Msg("case issuance lost every attempt")
	return IssueResult{}, &AllocationError{Kind: KindConflict, Reason: "too many concurrent requests, retry", Err: ErrConflict}
}

// reserveAndPersist takes one slot on branch and inserts the case. A code
// collision on insert re-mints without touching the reserved slot.
func (a *Allocator) reserveAndPersist(ctx context.Context, log zerolog.Logger, caller models.CallerAuthorization, branch int, day string, limit int, now time.Time, input models.CaseInput) (models.Case, error) {
	var issued models.Case
	err := a.Store.WithTx(ctx, func(tx db.Tx) error {
		_, accepted, err := tx.IncrementUsageIfBelowLimit(ctx, caller.OfficeID, branch, day, limit)
		if err != nil {
			return fmt.Errorf("increment usage: %w", err)
		}
		if !accepted {
			return errLostRace
		}

		c := models.Case{
			ID:           a.newID(),
			OfficeID:     caller.OfficeID,
			BranchNumber: branch,
			OwnerID:      caller.UserID,
			Status:       models.CaseStatusActive,
			Day:          day,
			Plaintiff:    input.Plaintiff,
			Defendant:    input.Defendant,
			Subject:      input.Subject,
			CreatedAt:    now.UTC(),
		}
		for i := 0; i < a.Minter.maxAttempts(); i++ {
			code, err := a.Minter.MintUniqueCode(ctx, tx)
			if err != nil {
				return err
			}
			c.Code = code
			inserted, err := tx.InsertCase(ctx, c)
			if err != nil {
				return err
			}
			if inserted {
				issued = c
				return nil
			}
			a.Metrics.MintCollision()
			log.Debug().Str("code", code).Int("branch", branch).Msg("case code taken on insert, reminting")
		}
		return ErrCodeSpaceExhausted
	})
	return issued, err
}

func (a *Allocator) recordAudit(ctx context.Context, c models.Case, log zerolog.Logger) {
	if a.Audit == nil {
		return
	}
	ev := audit.NewEvent(c.OwnerID, models.ActionCaseIssued, c.Code, c.OfficeID, c.CreatedAt)
	if err := a.Audit.Record(ctx, ev); err != nil {
		log.Warn().Err(err).Str("code", c.Code).Msg("audit record failed")
	}
}

var defaultValidator = sync.OnceValue(NewValidator)

func (a *Allocator) validator() *validator.Validate {
	if a.Validator == nil {
		return defaultValidator()
	}
	return a.Validator
}

func (a *Allocator) clock() Clock {
	if a.Clock == nil {
		return SystemClock{}
	}
	return a.Clock
}

func (a *Allocator) maxAttempts() int {
	if a.MaxAttempts <= 0 {
		return DefaultIssueAttempts
	}
	return a.MaxAttempts
}

func (a *Allocator) newID() string {
	if a.NewID == nil {
		return uuid.NewString()
	}
	return a.NewID()
}

func outcomeOf(err error) string {
	switch KindOf(err) {
	case "":
		return outcomeSucceeded
	case KindRejected:
		return outcomeRejected
	case KindExhausted:
		return outcomeExhausted
	case KindConflict:
		return outcomeConflict
	default:
		return outcomeFailed
	}
}
