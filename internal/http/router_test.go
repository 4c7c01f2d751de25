package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/kelaseh/backend/internal/audit"
	"github.com/kelaseh/backend/internal/config"
	"github.com/kelaseh/backend/internal/db/memory"
	"github.com/kelaseh/backend/internal/metrics"
	"github.com/kelaseh/backend/internal/models"
	"github.com/kelaseh/backend/internal/service"
)

const adminKey = "secret"

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type testServer struct {
	store  *memory.Store
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memory.NewStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sink := audit.StoreSink{Store: store}
	alloc := &service.Allocator{
		Store:    store,
		Audit:    sink,
		Clock:    fixedClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
		Location: time.UTC,
		Metrics:  m,
		Logger:   zerolog.Nop(),
	}
	cfg := config.Config{AdminKey: adminKey, CORSAllowed: "*", RequestTimeout: 5 * time.Second}
	r := Router(cfg, Deps{
		Store:     store,
		Allocator: alloc,
		Audit:     sink,
		Location:  time.UTC,
		Gatherer:  reg,
		Logger:    zerolog.Nop(),
	})
	ctx := context.Background()
	users := []models.User{
		{ID: 7, Name: "clerk", OfficeID: 1, BranchFrom: 1, BranchTo: 2, Active: true},
		{ID: 8, Name: "colleague", OfficeID: 1, BranchFrom: 1, BranchTo: 1, Active: true},
		{ID: 9, Name: "other office", OfficeID: 2, BranchFrom: 1, BranchTo: 1, Active: true},
		{ID: 10, Name: "retired", OfficeID: 1, BranchFrom: 1, BranchTo: 1, Active: false},
	}
	for _, u := range users {
		if err := store.UpsertUser(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	return &testServer{store: store, router: r}
}

func (s *testServer) do(t *testing.T, method, path string, user int64, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != 0 {
		req.Header.Set("X-User-Id", strconv.FormatInt(user, 10))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func validInput() models.CaseInput {
	return models.CaseInput{
		Plaintiff: models.Party{Name: "Ali Rezaei", NationalCode: "0012345679", Mobile: "09121234567"},
		Defendant: models.Party{Name: "Sara Ahmadi", NationalCode: "0123456789"},
		Subject:   "unpaid rent",
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, w.Body.String())
	}
	return env.Error.Code
}

func issue(t *testing.T, s *testServer, user int64) service.IssueResult {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/cases", user, validInput())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var res service.IssueResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return res
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/healthz", 0, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestCreateCase(t *testing.T) {
	s := newTestServer(t)
	res := issue(t, s, 7)
	if len(res.Code) != 6 || res.Branch != 1 || res.Case.OwnerID != 7 || res.Case.Day != "2026-03-01" {
		t.Fatalf("unexpected result %+v", res)
	}
	events, _ := s.store.ListAudit(context.Background(), 10)
	if len(events) != 1 || events[0].Action != models.ActionCaseIssued || events[0].EntityID != res.Code {
		t.Fatalf("expected issuance audit event, got %+v", events)
	}
}

func TestCreateCaseCallerErrors(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name string
		user int64
	}{
		{"missing", 0},
		{"unknown", 404},
		{"inactive", 10},
	}
	for _, tc := range cases {
		w := s.do(t, http.MethodPost, "/api/cases", tc.user, validInput())
		if w.Code != http.StatusUnauthorized || errorCode(t, w) != "UNAUTHORIZED" {
			t.Fatalf("%s: expected 401 UNAUTHORIZED, got %d %s", tc.name, w.Code, w.Body.String())
		}
	}
}

func TestCreateCaseValidation(t *testing.T) {
	s := newTestServer(t)
	in := validInput()
	in.Defendant.NationalCode = "1111111111"
	w := s.do(t, http.MethodPost, "/api/cases", 7, in)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "VALIDATION_ERROR" {
		t.Fatalf("expected 400 VALIDATION_ERROR, got %d %s", w.Code, w.Body.String())
	}
	if s.store.CaseCount() != 0 {
		t.Fatalf("rejected request stored a case")
	}
}

func TestCreateCaseCapacityFull(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	_ = s.store.SetQuota(ctx, models.CapacityQuota{OfficeID: 1, BranchNumber: 1, Capacity: 1})
	_ = s.store.SetQuota(ctx, models.CapacityQuota{OfficeID: 1, BranchNumber: 2, Capacity: 1})

	if res := issue(t, s, 7); res.Branch != 1 {
		t.Fatalf("expected branch 1, got %d", res.Branch)
	}
	if res := issue(t, s, 7); res.Branch != 2 {
		t.Fatalf("expected branch 2, got %d", res.Branch)
	}
	w := s.do(t, http.MethodPost, "/api/cases", 7, validInput())
	if w.Code != http.StatusTooManyRequests || errorCode(t, w) != "CAPACITY_FULL" {
		t.Fatalf("expected 429 CAPACITY_FULL, got %d %s", w.Code, w.Body.String())
	}
}

func TestCaseDetailsScopedToOffice(t *testing.T) {
	s := newTestServer(t)
	res := issue(t, s, 7)

	w := s.do(t, http.MethodGet, "/api/cases/"+res.Code, 8, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("same office lookup: expected 200, got %d", w.Code)
	}
	w = s.do(t, http.MethodGet, "/api/cases/"+res.Code, 9, nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != "NOT_FOUND" {
		t.Fatalf("other office lookup: expected 404, got %d", w.Code)
	}
	w = s.do(t, http.MethodGet, "/api/cases/999999", 7, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown code: expected 404, got %d", w.Code)
	}
}

func TestSetCaseStatus(t *testing.T) {
	s := newTestServer(t)
	res := issue(t, s, 7)
	path := "/api/cases/" + res.Code + "/status"

	if w := s.do(t, http.MethodPost, path, 8, gin.H{"status": "inactive"}); w.Code != http.StatusForbidden {
		t.Fatalf("non-owner: expected 403, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, path, 7, gin.H{"status": "archived"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad status: expected 400, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, path, 7, gin.H{"status": "inactive"}); w.Code != http.StatusOK {
		t.Fatalf("toggle: expected 200, got %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, path, 7, gin.H{"status": "voided"}); w.Code != http.StatusOK {
		t.Fatalf("void: expected 200, got %d", w.Code)
	}
	w := s.do(t, http.MethodPost, path, 7, gin.H{"status": "active"})
	if w.Code != http.StatusConflict || errorCode(t, w) != "INVALID_STATE" {
		t.Fatalf("voided is terminal: expected 409, got %d", w.Code)
	}

	used, _ := s.store.GetUsage(context.Background(), 1, res.Branch, res.Case.Day)
	if used != 1 {
		t.Fatalf("voiding must not free capacity, usage=%d", used)
	}
}

func TestCapacity(t *testing.T) {
	s := newTestServer(t)
	issue(t, s, 7)
	w := s.do(t, http.MethodGet, "/api/capacity", 7, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Day   string               `json:"day"`
		Items []models.BranchUsage `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Day != "2026-03-01" || len(body.Items) != 2 {
		t.Fatalf("unexpected capacity %+v", body)
	}
	if body.Items[0].Used != 1 || body.Items[0].Capacity != models.DefaultCapacity || body.Items[1].Used != 0 {
		t.Fatalf("unexpected items %+v", body.Items)
	}
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	key := []string{"X-Admin-Key", adminKey}

	if w := s.do(t, http.MethodPut, "/api/admin/users/20", 0, gin.H{"name": "x", "office_id": 3, "branch_from": 1, "branch_to": 2}); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing admin key: expected 401, got %d", w.Code)
	}
	w := s.do(t, http.MethodPut, "/api/admin/users/20", 0, gin.H{"name": "new clerk", "office_id": 3, "branch_from": 2, "branch_to": 1}, key...)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("inverted branch range: expected 400, got %d", w.Code)
	}
	w = s.do(t, http.MethodPut, "/api/admin/users/20", 0, gin.H{"name": "new clerk", "office_id": 3, "branch_from": 2, "branch_to": 3}, key...)
	if w.Code != http.StatusOK {
		t.Fatalf("upsert user: expected 200, got %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPut, "/api/admin/offices/3/branches/2/capacity", 0, gin.H{"capacity": 1}, key...)
	if w.Code != http.StatusOK {
		t.Fatalf("set capacity: expected 200, got %d %s", w.Code, w.Body.String())
	}
	if res := issue(t, s, 20); res.Branch != 2 {
		t.Fatalf("expected branch 2, got %d", res.Branch)
	}
	if res := issue(t, s, 20); res.Branch != 3 {
		t.Fatalf("expected overflow to branch 3, got %d", res.Branch)
	}

	w = s.do(t, http.MethodGet, "/api/admin/offices/3/usage?day=2026-03-01", 0, nil, key...)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"used":1`) {
		t.Fatalf("usage: got %d %s", w.Code, w.Body.String())
	}
	if w = s.do(t, http.MethodGet, "/api/admin/offices/3/usage?day=yesterday", 0, nil, key...); w.Code != http.StatusBadRequest {
		t.Fatalf("bad day: expected 400, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/admin/audit?limit=2", 0, nil, key...)
	var audits struct {
		Items []models.AuditEvent `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &audits); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(audits.Items) != 2 || audits.Items[0].Action != models.ActionCaseIssued {
		t.Fatalf("unexpected audit page %+v", audits.Items)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	issue(t, s, 7)
	w := s.do(t, http.MethodGet, "/metrics", 0, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `kelaseh_case_issue_total{outcome="succeeded"} 1`) {
		t.Fatalf("metrics missing issuance counter: %s", w.Body.String())
	}
}

// staleReads serves case reads from before a concurrent void.
type staleReads struct {
	*memory.Store
}

func (s staleReads) GetCase(ctx context.Context, code string) (models.Case, error) {
	c, err := s.Store.GetCase(ctx, code)
	if err == nil {
		c.Status = models.CaseStatusActive
	}
	return c, err
}

func TestSetCaseStatusAfterConcurrentVoid(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mem := memory.NewStore()
	ctx := context.Background()
	_ = mem.UpsertUser(ctx, models.User{ID: 7, OfficeID: 1, BranchFrom: 1, BranchTo: 1, Active: true})
	store := staleReads{Store: mem}
	alloc := &service.Allocator{
		Store:    store,
		Clock:    fixedClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
		Location: time.UTC,
		Logger:   zerolog.Nop(),
	}
	s := &testServer{store: mem, router: Router(config.Config{}, Deps{Store: store, Allocator: alloc, Location: time.UTC, Logger: zerolog.Nop()})}

	res := issue(t, s, 7)
	if err := mem.SetCaseStatus(ctx, res.Code, models.CaseStatusVoided); err != nil {
		t.Fatalf("void: %v", err)
	}
	w := s.do(t, http.MethodPost, "/api/cases/"+res.Code+"/status", 7, gin.H{"status": "inactive"})
	if w.Code != http.StatusConflict || errorCode(t, w) != "INVALID_STATE" {
		t.Fatalf("expected 409 INVALID_STATE, got %d %s", w.Code, w.Body.String())
	}
	if c, _ := mem.GetCase(ctx, res.Code); c.Status != models.CaseStatusVoided {
		t.Fatalf("voided case changed to %q", c.Status)
	}
}
