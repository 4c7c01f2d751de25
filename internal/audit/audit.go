// Package audit records who issued what. Sinks are best-effort: callers log
// a failed Record and carry on.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kelaseh/backend/internal/models"
)

type Sink interface {
	Record(ctx context.Context, e models.AuditEvent) error
}

func NewEvent(actorID int64, action string, entityID string, officeID int64, at time.Time) models.AuditEvent {
	return models.AuditEvent{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Action:    action,
		EntityID:  entityID,
		OfficeID:  officeID,
		CreatedAt: at.UTC(),
	}
}

type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Record(ctx context.Context, e models.AuditEvent) error {
	s.Logger.Info().
		Str("audit_id", e.ID).
		Int64("actor_id", e.ActorID).
		Str("action", e.Action).
		Str("entity_id", e.EntityID).
		Int64("office_id", e.OfficeID).
		Msg("audit")
	return nil
}

type Recorder interface {
	InsertAudit(ctx context.Context, e models.AuditEvent) error
}

// StoreSink persists events to the audit_log table.
type StoreSink struct {
	Store Recorder
}

func (s StoreSink) Record(ctx context.Context, e models.AuditEvent) error {
	return s.Store.InsertAudit(ctx, e)
}

// Multi fans an event out to every sink, even when an earlier one fails.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e models.AuditEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Record(context.Context, models.AuditEvent) error { return nil }
