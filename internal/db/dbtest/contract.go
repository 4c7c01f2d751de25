// Package dbtest holds the behavioral contract every db.Store backend must meet.
package dbtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kelaseh/backend/internal/db"
	"github.com/kelaseh/backend/internal/models"
)

const testDay = "2026-03-01"

// Run executes the contract against stores produced by newStore. Each subtest
// gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) db.Store) {
	t.Helper()
	t.Run("QuotaDefault", func(t *testing.T) { testQuotaDefault(t, newStore(t)) })
	t.Run("UsageReadDoesNotCreate", func(t *testing.T) { testUsageRead(t, newStore(t)) })
	t.Run("ConditionalIncrement", func(t *testing.T) { testConditionalIncrement(t, newStore(t)) })
	t.Run("ConcurrentIncrement", func(t *testing.T) { testConcurrentIncrement(t, newStore(t)) })
	t.Run("RollbackUndoesWork", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("CaseCodeUnique", func(t *testing.T) { testCaseCodeUnique(t, newStore(t)) })
	t.Run("CaseStatus", func(t *testing.T) { testCaseStatus(t, newStore(t)) })
	t.Run("UsersAndAudit", func(t *testing.T) { testUsersAndAudit(t, newStore(t)) })
	t.Run("PruneUsage", func(t *testing.T) { testPruneUsage(t, newStore(t)) })
}

func increment(t *testing.T, s db.Store, office int64, branch int, day string, limit int) (int, bool) {
	t.Helper()
	var (
		count    int
		accepted bool
	)
	err := s.WithTx(context.Background(), func(tx db.Tx) error {
		var err error
		count, accepted, err = tx.IncrementUsageIfBelowLimit(context.Background(), office, branch, day, limit)
		return err
	})
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	return count, accepted
}

func testCase(code string) models.Case {
	return models.Case{
		ID:           "case-" + code,
		Code:         code,
		OfficeID:     1,
		BranchNumber: 1,
		OwnerID:      7,
		Status:       models.CaseStatusActive,
		Day:          testDay,
		Plaintiff:    models.Party{Name: "Ali", NationalCode: "0012345679"},
		Defendant:    models.Party{Name: "Sara", NationalCode: "0123456789"},
		CreatedAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func testQuotaDefault(t *testing.T, s db.Store) {
	ctx := context.Background()
	limit, err := s.GetQuota(ctx, 1, 1)
	if err != nil {
		t.Fatalf("get quota: %v", err)
	}
	if limit != models.DefaultCapacity {
		t.Fatalf("expected default %d, got %d", models.DefaultCapacity, limit)
	}
	if err := s.SetQuota(ctx, models.CapacityQuota{OfficeID: 1, BranchNumber: 1, Capacity: 25}); err != nil {
		t.Fatalf("set quota: %v", err)
	}
	if limit, _ = s.GetQuota(ctx, 1, 1); limit != 25 {
		t.Fatalf("expected 25, got %d", limit)
	}
	if err := s.SetQuota(ctx, models.CapacityQuota{OfficeID: 1, BranchNumber: 1, Capacity: 5}); err != nil {
		t.Fatalf("update quota: %v", err)
	}
	if limit, _ = s.GetQuota(ctx, 1, 1); limit != 5 {
		t.Fatalf("expected 5, got %d", limit)
	}
}

func testUsageRead(t *testing.T, s db.Store) {
	ctx := context.Background()
	used, err := s.GetUsage(ctx, 1, 1, testDay)
	if err != nil || used != 0 {
		t.Fatalf("expected 0 usage, got %d (%v)", used, err)
	}
	rows, err := s.ListUsage(ctx, 1, testDay)
	if err != nil {
		t.Fatalf("list usage: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("read must not create counters, got %+v", rows)
	}
}

func testConditionalIncrement(t *testing.T, s db.Store) {
	for i := 1; i <= 3; i++ {
		count, ok := increment(t, s, 1, 2, testDay, 3)
		if !ok || count != i {
			t.Fatalf("increment %d: count=%d ok=%v", i, count, ok)
		}
	}
	count, ok := increment(t, s, 1, 2, testDay, 3)
	if ok || count != 3 {
		t.Fatalf("expected refusal at limit, count=%d ok=%v", count, ok)
	}
	if count, ok = increment(t, s, 1, 2, "2026-03-02", 3); !ok || count != 1 {
		t.Fatalf("new day must start from zero, count=%d ok=%v", count, ok)
	}
	rows, err := s.ListUsage(context.Background(), 1, testDay)
	if err != nil {
		t.Fatalf("list usage: %v", err)
	}
	if len(rows) != 1 || rows[0].BranchNumber != 2 || rows[0].Used != 3 || rows[0].Capacity != models.DefaultCapacity {
		t.Fatalf("unexpected usage rows %+v", rows)
	}
}

func testConcurrentIncrement(t *testing.T, s db.Store) {
	const (
		workers = 40
		limit   = 15
	)
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(context.Background(), func(tx db.Tx) error {
				_, ok, err := tx.IncrementUsageIfBelowLimit(context.Background(), 5, 1, testDay, limit)
				if ok {
					accepted.Add(1)
				}
				return err
			})
			if err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()
	if accepted.Load() != limit {
		t.Fatalf("expected %d accepted increments, got %d", limit, accepted.Load())
	}
	used, _ := s.GetUsage(context.Background(), 5, 1, testDay)
	if used != limit {
		t.Fatalf("expected counter %d, got %d", limit, used)
	}
}

func testRollback(t *testing.T, s db.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx db.Tx) error {
		if _, ok, err := tx.IncrementUsageIfBelowLimit(ctx, 1, 1, testDay, 10); err != nil || !ok {
			t.Fatalf("increment: ok=%v err=%v", ok, err)
		}
		if ok, err := tx.InsertCase(ctx, testCase("123456")); err != nil || !ok {
			t.Fatalf("insert: ok=%v err=%v", ok, err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if used, _ := s.GetUsage(ctx, 1, 1, testDay); used != 0 {
		t.Fatalf("rollback left usage %d", used)
	}
	if _, err := s.GetCase(ctx, "123456"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("rollback left case, err=%v", err)
	}
}

func testCaseCodeUnique(t *testing.T, s db.Store) {
	ctx := context.Background()
	err := s.WithTx(ctx, func(tx db.Tx) error {
		exists, err := tx.CodeExists(ctx, "654321")
		if err != nil || exists {
			t.Fatalf("code should not exist: %v %v", exists, err)
		}
		ok, err := tx.InsertCase(ctx, testCase("654321"))
		if err != nil || !ok {
			t.Fatalf("insert: ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	err = s.WithTx(ctx, func(tx db.Tx) error {
		exists, err := tx.CodeExists(ctx, "654321")
		if err != nil || !exists {
			t.Fatalf("code should exist: %v %v", exists, err)
		}
		dup := testCase("654321")
		dup.ID = "case-other"
		dup.OfficeID = 2
		ok, err := tx.InsertCase(ctx, dup)
		if err != nil {
			return err
		}
		if ok {
			t.Fatalf("duplicate code accepted across offices")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	got, err := s.GetCase(ctx, "654321")
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if got.OfficeID != 1 || got.Plaintiff.NationalCode != "0012345679" || got.Day != testDay {
		t.Fatalf("unexpected case %+v", got)
	}
}

func testCaseStatus(t *testing.T, s db.Store) {
	ctx := context.Background()
	if err := s.SetCaseStatus(ctx, "111111", models.CaseStatusVoided); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_ = s.WithTx(ctx, func(tx db.Tx) error {
		_, err := tx.InsertCase(ctx, testCase("111111"))
		return err
	})
	if err := s.SetCaseStatus(ctx, "111111", models.CaseStatusInactive); err != nil {
		t.Fatalf("toggle status: %v", err)
	}
	if err := s.SetCaseStatus(ctx, "111111", models.CaseStatusVoided); err != nil {
		t.Fatalf("void: %v", err)
	}
	c, err := s.GetCase(ctx, "111111")
	if err != nil || c.Status != models.CaseStatusVoided {
		t.Fatalf("expected voided, got %+v (%v)", c, err)
	}
	for _, status := range []string{models.CaseStatusInactive, models.CaseStatusActive, models.CaseStatusVoided} {
		if err := s.SetCaseStatus(ctx, "111111", status); !errors.Is(err, db.ErrCaseVoided) {
			t.Fatalf("set %s on voided case: expected ErrCaseVoided, got %v", status, err)
		}
	}
	if c, _ = s.GetCase(ctx, "111111"); c.Status != models.CaseStatusVoided {
		t.Fatalf("voided case changed to %q", c.Status)
	}
}

func testUsersAndAudit(t *testing.T, s db.Store) {
	ctx := context.Background()
	if _, err := s.GetUser(ctx, 42); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	u := models.User{ID: 42, Name: "clerk", OfficeID: 3, BranchFrom: 2, BranchTo: 4, Active: true}
	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	u.BranchTo = 5
	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatalf("update user: %v", err)
	}
	got, err := s.GetUser(ctx, 42)
	if err != nil || got.BranchTo != 5 || !got.Active || got.OfficeID != 3 {
		t.Fatalf("unexpected user %+v (%v)", got, err)
	}

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, code := range []string{"100001", "100002"} {
		e := models.AuditEvent{ID: "ev-" + code, ActorID: 42, Action: models.ActionCaseIssued, EntityID: code, OfficeID: 3, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.InsertAudit(ctx, e); err != nil {
			t.Fatalf("insert audit: %v", err)
		}
	}
	events, err := s.ListAudit(ctx, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(events) != 2 || events[0].EntityID != "100002" {
		t.Fatalf("expected newest first, got %+v", events)
	}
}

func testPruneUsage(t *testing.T, s db.Store) {
	increment(t, s, 1, 1, "2026-01-01", 5)
	increment(t, s, 1, 1, "2026-02-01", 5)
	increment(t, s, 1, 1, testDay, 5)
	n, err := s.PruneUsage(context.Background(), "2026-02-15")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pruned, got %d", n)
	}
	if used, _ := s.GetUsage(context.Background(), 1, 1, testDay); used != 1 {
		t.Fatalf("prune removed current counter, usage=%d", used)
	}
}
