package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kelaseh/backend/internal/service"
)

func TestWriteAllocationError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&service.AllocationError{Kind: service.KindRejected, Reason: "plaintiff.name failed required"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{&service.AllocationError{Kind: service.KindExhausted, Err: service.ErrExhausted}, http.StatusTooManyRequests, "CAPACITY_FULL"},
		{&service.AllocationError{Kind: service.KindConflict, Reason: "retry", Err: service.ErrConflict}, http.StatusConflict, "CONFLICT"},
		{&service.AllocationError{Kind: service.KindFailed, Reason: "storage unavailable", Err: errors.New("dial tcp: refused")}, http.StatusInternalServerError, "ISSUE_FAILED"},
		{errors.New("unexpected"), http.StatusInternalServerError, "ISSUE_FAILED"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		writeAllocationError(c, tc.err)
		if w.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, w.Code)
		}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Details any    `json:"details"`
			} `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Error.Code != tc.code {
			t.Fatalf("%v: expected %s, got %s", tc.err, tc.code, env.Error.Code)
		}
		if tc.status == http.StatusInternalServerError && env.Error.Details != nil {
			t.Fatalf("failure details leaked: %v", env.Error.Details)
		}
		if tc.status == http.StatusConflict && w.Header().Get("Retry-After") == "" {
			t.Fatalf("conflict must carry Retry-After")
		}
	}
}
