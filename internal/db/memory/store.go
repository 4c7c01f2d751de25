// Package memory provides an in-memory db.Store used for tests and ephemeral
// environments. Daily counters live in an arena keyed by (office, branch, day),
// each guarded by its own lock; there is no lock spanning offices or branches.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kelaseh/backend/internal/db"
	"github.com/kelaseh/backend/internal/models"
)

var _ db.Store = (*Store)(nil)

type quotaKey struct {
	office int64
	branch int
}

type usageKey struct {
	office int64
	branch int
	day    string
}

// counter is locked by a unit of work from its first increment until commit
// or rollback. value is only written under mu.
type counter struct {
	mu    sync.Mutex
	value int
	read  sync.RWMutex
}

func (c *counter) load() int {
	c.read.RLock()
	defer c.read.RUnlock()
	return c.value
}

func (c *counter) store(v int) {
	c.read.Lock()
	c.value = v
	c.read.Unlock()
}

type Store struct {
	DefaultCapacity int

	mu     sync.RWMutex
	quotas map[quotaKey]int
	usage  map[usageKey]*counter

	casesMu sync.Mutex
	cases   map[string]models.Case

	usersMu sync.RWMutex
	users   map[int64]models.User

	auditMu sync.Mutex
	audit   []models.AuditEvent
}

func NewStore() *Store {
	return &Store{
		DefaultCapacity: models.DefaultCapacity,
		quotas:          make(map[quotaKey]int),
		usage:           make(map[usageKey]*counter),
		cases:           make(map[string]models.Case),
		users:           make(map[int64]models.User),
	}
}

func (s *Store) Close() {}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) GetQuota(ctx context.Context, officeID int64, branch int) (int, error) {
	s.mu.RLock()
	capacity, ok := s.quotas[quotaKey{officeID, branch}]
	s.mu.RUnlock()
	return db.EffectiveCapacity(capacity, ok, s.DefaultCapacity), nil
}

func (s *Store) GetUsage(ctx context.Context, officeID int64, branch int, day string) (int, error) {
	s.mu.RLock()
	c, ok := s.usage[usageKey{officeID, branch, day}]
	s.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	return c.load(), nil
}

func (s *Store) counterFor(key usageKey) *counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.usage[key]
	if !ok {
		c = &counter{}
		s.usage[key] = c
	}
	return c
}

func (s *Store) WithTx(ctx context.Context, fn func(tx db.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{store: s, held: map[*counter]struct{}{}}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	tx.commit()
	return nil
}

type memTx struct {
	store *Store
	held  map[*counter]struct{}
	undo  []func()
	added []models.Case
}

func (t *memTx) GetQuota(ctx context.Context, officeID int64, branch int) (int, error) {
	return t.store.GetQuota(ctx, officeID, branch)
}

func (t *memTx) GetUsage(ctx context.Context, officeID int64, branch int, day string) (int, error) {
	return t.store.GetUsage(ctx, officeID, branch, day)
}

func (t *memTx) IncrementUsageIfBelowLimit(ctx context.Context, officeID int64, branch int, day string, limit int) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	c := t.store.counterFor(usageKey{officeID, branch, day})
	if _, ok := t.held[c]; !ok {
		c.mu.Lock()
		t.held[c] = struct{}{}
	}
	prev := c.value
	if prev >= limit {
		return prev, false, nil
	}
	c.store(prev + 1)
	t.undo = append(t.undo, func() { c.store(prev) })
	return prev + 1, true, nil
}

func (t *memTx) CodeExists(ctx context.Context, code string) (bool, error) {
	t.store.casesMu.Lock()
	defer t.store.casesMu.Unlock()
	_, ok := t.store.cases[code]
	return ok, nil
}

func (t *memTx) InsertCase(ctx context.Context, c models.Case) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	t.store.casesMu.Lock()
	defer t.store.casesMu.Unlock()
	if _, ok := t.store.cases[c.Code]; ok {
		return false, nil
	}
	t.store.cases[c.Code] = c
	code := c.Code
	t.undo = append(t.undo, func() {
		t.store.casesMu.Lock()
		delete(t.store.cases, code)
		t.store.casesMu.Unlock()
	})
	return true, nil
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.release()
}

func (t *memTx) commit() {
	t.release()
}

func (t *memTx) release() {
	for c := range t.held {
		c.mu.Unlock()
	}
	t.held = nil
	t.undo = nil
}

func (s *Store) SetQuota(ctx context.Context, q models.CapacityQuota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotas[quotaKey{q.OfficeID, q.BranchNumber}] = q.Capacity
	return nil
}

func (s *Store) ListUsage(ctx context.Context, officeID int64, day string) ([]models.BranchUsage, error) {
	s.mu.RLock()
	var out []models.BranchUsage
	for k, c := range s.usage {
		if k.office != officeID || k.day != day {
			continue
		}
		capacity, ok := s.quotas[quotaKey{k.office, k.branch}]
		out = append(out, models.BranchUsage{
			OfficeID:     k.office,
			BranchNumber: k.branch,
			Day:          k.day,
			Used:         c.load(),
			Capacity:     db.EffectiveCapacity(capacity, ok, s.DefaultCapacity),
		})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BranchNumber < out[j].BranchNumber })
	return out, nil
}

// PruneUsage skips counters currently held by a unit of work.
func (s *Store) PruneUsage(ctx context.Context, beforeDay string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, c := range s.usage {
		if k.day >= beforeDay {
			continue
		}
		if !c.mu.TryLock() {
			continue
		}
		delete(s.usage, k)
		c.mu.Unlock()
		n++
	}
	return n, nil
}

func (s *Store) GetCase(ctx context.Context, code string) (models.Case, error) {
	s.casesMu.Lock()
	defer s.casesMu.Unlock()
	c, ok := s.cases[code]
	if !ok {
		return models.Case{}, db.ErrNotFound
	}
	return c, nil
}

func (s *Store) SetCaseStatus(ctx context.Context, code string, status string) error {
	s.casesMu.Lock()
	defer s.casesMu.Unlock()
	c, ok := s.cases[code]
	if !ok {
		return db.ErrNotFound
	}
	if c.Status == models.CaseStatusVoided {
		return db.ErrCaseVoided
	}
	c.Status = status
	s.cases[code] = c
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (models.User, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, db.ErrNotFound
	}
	return u, nil
}

func (s *Store) UpsertUser(ctx context.Context, u models.User) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = u
	return nil
}

func (s *Store) InsertAudit(ctx context.Context, e models.AuditEvent) error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	limit = db.ClampLimit(limit)
	out := make([]models.AuditEvent, 0, limit)
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}

// CaseCount reports the number of stored cases.
func (s *Store) CaseCount() int {
	s.casesMu.Lock()
	defer s.casesMu.Unlock()
	return len(s.cases)
}
