package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kelaseh/backend/internal/db"
	"github.com/kelaseh/backend/internal/models"
)

type userMap map[int64]models.User

func (m userMap) GetUser(_ context.Context, id int64) (models.User, error) {
	u, ok := m[id]
	if !ok {
		return models.User{}, db.ErrNotFound
	}
	return u, nil
}

type brokenUsers struct{}

func (brokenUsers) GetUser(context.Context, int64) (models.User, error) {
	return models.User{}, errors.New("connection reset")
}

func callerRouter(users UserLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Caller(users, zerolog.Nop()))
	r.GET("/whoami", func(c *gin.Context) {
		auth, _ := CallerFrom(c)
		c.JSON(http.StatusOK, auth)
	})
	return r
}

func TestCaller(t *testing.T) {
	users := userMap{
		7: {ID: 7, OfficeID: 1, BranchFrom: 2, BranchTo: 4, Active: true},
		8: {ID: 8, OfficeID: 1, BranchFrom: 1, BranchTo: 1, Active: false},
	}
	r := callerRouter(users)
	cases := []struct {
		header string
		status int
	}{
		{"7", http.StatusOK},
		{"8", http.StatusUnauthorized},
		{"99", http.StatusUnauthorized},
		{"abc", http.StatusUnauthorized},
		{"", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if tc.header != "" {
			req.Header.Set(UserIDHeader, tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Fatalf("header %q: expected %d, got %d", tc.header, tc.status, w.Code)
		}
	}
}

func TestCallerStoreError(t *testing.T) {
	r := callerRouter(brokenUsers{})
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(UserIDHeader, "7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestRequestIDEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestAdminKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AdminKey("k"))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for key, want := range map[string]int{"k": http.StatusNoContent, "wrong": http.StatusUnauthorized, "": http.StatusUnauthorized} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(AdminKeyHeader, key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("key %q: expected %d, got %d", key, want, w.Code)
		}
	}
}
