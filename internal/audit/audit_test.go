package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kelaseh/backend/internal/models"
)

type collectSink struct {
	events []models.AuditEvent
	err    error
}

func (s *collectSink) Record(_ context.Context, e models.AuditEvent) error {
	s.events = append(s.events, e)
	return s.err
}

func TestMultiFansOutPastFailures(t *testing.T) {
	errStore := errors.New("audit_log unavailable")
	errLog := errors.New("log pipe closed")
	first := &collectSink{err: errStore}
	second := &collectSink{}
	third := &collectSink{err: errLog}

	ev := NewEvent(7, models.ActionCaseIssued, "123456", 1, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	err := Multi{first, second, third}.Record(context.Background(), ev)

	for i, s := range []*collectSink{first, second, third} {
		if len(s.events) != 1 || s.events[0].ID != ev.ID {
			t.Fatalf("sink %d: expected the event once, got %+v", i, s.events)
		}
	}
	if !errors.Is(err, errStore) || !errors.Is(err, errLog) {
		t.Fatalf("expected both sink errors joined, got %v", err)
	}
}

func TestMultiAllSucceed(t *testing.T) {
	s := &collectSink{}
	if err := (Multi{s, Nop{}}).Record(context.Background(), models.AuditEvent{ID: "x"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(s.events) != 1 {
		t.Fatalf("expected one event, got %d", len(s.events))
	}
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("IRST", 12600))
	a := NewEvent(7, models.ActionCaseIssued, "123456", 1, at)
	b := NewEvent(7, models.ActionCaseIssued, "123456", 1, at)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct event ids, got %q and %q", a.ID, b.ID)
	}
	if a.CreatedAt.Location() != time.UTC || !a.CreatedAt.Equal(at) {
		t.Fatalf("expected UTC timestamp, got %s", a.CreatedAt)
	}
}
