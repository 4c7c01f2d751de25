package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/kelaseh/backend/internal/audit"
	"github.com/kelaseh/backend/internal/db"
	"github.com/kelaseh/backend/internal/http/middleware"
	"github.com/kelaseh/backend/internal/models"
	"github.com/kelaseh/backend/internal/service"
)

type Handler struct {
	Store          db.Store
	Allocator      *service.Allocator
	Audit          audit.Sink
	Validator      *validator.Validate
	Logger         zerolog.Logger
	Location       *time.Location
	Clock          service.Clock
	RequestTimeout time.Duration
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Issue a case
// @Description Reserves one slot of today's branch capacity and returns a new six-digit case code
// @Tags cases
// @Accept json
// @Produce json
// @Param X-User-Id header int true "Caller user id"
// @Param body body models.CaseInput true "Parties and subject"
// @Success 201 {object} service.IssueResult
// @Failure 400 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Failure 429 {object} map[string]any
// @Router /api/cases [post]
func (h *Handler) CreateCase(c *gin.Context) {
	auth, ok := middleware.CallerFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Caller not resolved", nil)
		return
	}
	var req models.CaseInput
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}

	ctx := c.Request.Context()
	if h.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RequestTimeout)
		defer cancel()
	}
	res, err := h.Allocator.IssueCase(ctx, auth, req)
	if err != nil {
		writeAllocationError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// @Summary Case details
// @Tags cases
// @Produce json
// @Param code path string true "Case code"
// @Success 200 {object} models.Case
// @Failure 404 {object} map[string]any
// @Router /api/cases/{code} [get]
func (h *Handler) CaseDetails(c *gin.Context) {
	auth, _ := middleware.CallerFrom(c)
	kc, ok := h.loadOfficeCase(c, auth)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, kc)
}

type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive voided"`
}

// @Summary Change case status
// @Description Toggle a case between active and inactive, or void it. Voiding is final and does not free capacity.
// @Tags cases
// @Accept json
// @Produce json
// @Param code path string true "Case code"
// @Param body body StatusRequest true "New status"
// @Success 200 {object} models.Case
// @Router /api/cases/{code}/status [post]
func (h *Handler) SetCaseStatus(c *gin.Context) {
	auth, _ := middleware.CallerFrom(c)
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	kc, ok := h.loadOfficeCase(c, auth)
	if !ok {
		return
	}
	if kc.OwnerID != auth.UserID {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "Only the issuing user may change this case", nil)
		return
	}
	if kc.Status == req.Status {
		c.JSON(http.StatusOK, kc)
		return
	}
	if kc.Status == models.CaseStatusVoided {
		writeError(c, http.StatusConflict, "INVALID_STATE", "Case is voided", nil)
		return
	}

	if err := h.Store.SetCaseStatus(c.Request.Context(), kc.Code, req.Status); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Case not found", nil)
			return
		}
		if errors.Is(err, db.ErrCaseVoided) {
			writeError(c, http.StatusConflict, "INVALID_STATE", "Case is voided", nil)
			return
		}
		h.Logger.Error().Err(err).Str("code", kc.Code).Msg("case status update failed")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to update case", nil)
		return
	}
	kc.Status = req.Status
	h.record(c.Request.Context(), auth.UserID, models.ActionCaseStatusChanged, kc.Code, kc.OfficeID)
	c.JSON(http.StatusOK, kc)
}

// @Summary Today's capacity
// @Description Usage and limit of every branch the caller may issue into
// @Tags capacity
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/capacity [get]
func (h *Handler) Capacity(c *gin.Context) {
	auth, _ := middleware.CallerFrom(c)
	day := h.today()
	items, err := service.BranchCapacity(c.Request.Context(), h.Store, auth, day)
	if err != nil {
		h.Logger.Error().Err(err).Int64("office_id", auth.OfficeID).Msg("capacity read failed")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to read capacity", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"day": day, "office_id": auth.OfficeID, "items": items})
}

// loadOfficeCase hides cases of other offices behind 404.
func (h *Handler) loadOfficeCase(c *gin.Context, auth models.CallerAuthorization) (models.Case, bool) {
	code := service.NormalizeDigits(c.Param("code"))
	kc, err := h.Store.GetCase(c.Request.Context(), code)
	if errors.Is(err, db.ErrNotFound) || (err == nil && kc.OfficeID != auth.OfficeID) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Case not found", nil)
		return models.Case{}, false
	}
	if err != nil {
		h.Logger.Error().Err(err).Str("code", code).Msg("case lookup failed")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load case", nil)
		return models.Case{}, false
	}
	return kc, true
}

func (h *Handler) today() string {
	clock := h.Clock
	if clock == nil {
		clock = service.SystemClock{}
	}
	return service.Day(clock.Now(), h.Location)
}

func (h *Handler) record(ctx context.Context, actor int64, action, entity string, office int64) {
	if h.Audit == nil {
		return
	}
	ev := audit.NewEvent(actor, action, entity, office, time.Now())
	if err := h.Audit.Record(ctx, ev); err != nil {
		h.Logger.Warn().Err(err).Str("action", action).Str("entity_id", entity).Msg("audit record failed")
	}
}

func writeAllocationError(c *gin.Context, err error) {
	var ae *service.AllocationError
	reason := "Case issuance failed"
	if errors.As(err, &ae) && ae.Reason != "" {
		reason = ae.Reason
	}
	switch service.KindOf(err) {
	case service.KindRejected:
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", reason)
	case service.KindExhausted:
		writeError(c, http.StatusTooManyRequests, "CAPACITY_FULL", "All authorized branches are full for today", nil)
	case service.KindConflict:
		c.Header("Retry-After", "1")
		writeError(c, http.StatusConflict, "CONFLICT", reason, nil)
	default:
		writeError(c, http.StatusInternalServerError, "ISSUE_FAILED", "Case issuance failed", nil)
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
