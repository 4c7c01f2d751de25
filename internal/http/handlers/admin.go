package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kelaseh/backend/internal/db"
	"github.com/kelaseh/backend/internal/models"
	"github.com/kelaseh/backend/internal/service"
)

// adminActor is the audit actor for changes made with the admin key.
const adminActor int64 = 0

type UserRequest struct {
	Name       string `json:"name" validate:"required,max=120"`
	OfficeID   int64  `json:"office_id" validate:"required,gt=0"`
	BranchFrom int    `json:"branch_from" validate:"required,gt=0"`
	BranchTo   int    `json:"branch_to" validate:"required,gtefield=BranchFrom"`
	Active     *bool  `json:"active"`
}

// @Summary Create or update a user
// @Tags admin
// @Accept json
// @Produce json
// @Param id path int true "User id"
// @Param body body UserRequest true "User"
// @Success 200 {object} models.User
// @Router /api/admin/users/{id} [put]
func (h *Handler) UpsertUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user id", nil)
		return
	}
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	u := models.User{
		ID:         id,
		Name:       req.Name,
		OfficeID:   req.OfficeID,
		BranchFrom: req.BranchFrom,
		BranchTo:   req.BranchTo,
		Active:     req.Active == nil || *req.Active,
	}
	if err := h.Store.UpsertUser(c.Request.Context(), u); err != nil {
		h.Logger.Error().Err(err).Int64("user_id", id).Msg("user upsert failed")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to save user", nil)
		return
	}
	h.record(c.Request.Context(), adminActor, models.ActionUserUpserted, strconv.FormatInt(id, 10), u.OfficeID)
	saved, err := h.Store.GetUser(c.Request.Context(), id)
	if err != nil {
		saved = u
	}
	c.JSON(http.StatusOK, saved)
}

type CapacityRequest struct {
	Capacity int `json:"capacity" validate:"required,gt=0,lte=10000"`
}

// @Summary Set branch capacity
// @Tags admin
// @Accept json
// @Produce json
// @Param office path int true "Office id"
// @Param branch path int true "Branch number"
// @Param body body CapacityRequest true "Daily capacity"
// @Success 200 {object} models.CapacityQuota
// @Router /api/admin/offices/{office}/branches/{branch}/capacity [put]
func (h *Handler) SetCapacity(c *gin.Context) {
	office, err := strconv.ParseInt(c.Param("office"), 10, 64)
	if err != nil || office <= 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid office id", nil)
		return
	}
	branch, err := strconv.Atoi(c.Param("branch"))
	if err != nil || branch <= 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid branch number", nil)
		return
	}
	var req CapacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	q := models.CapacityQuota{OfficeID: office, BranchNumber: branch, Capacity: req.Capacity}
	if err := h.Store.SetQuota(c.Request.Context(), q); err != nil {
		h.Logger.Error().Err(err).Int64("office_id", office).Int("branch", branch).Msg("quota update failed")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to save capacity", nil)
		return
	}
	h.record(c.Request.Context(), adminActor, models.ActionQuotaSet, strconv.Itoa(branch), office)
	c.JSON(http.StatusOK, q)
}

// @Summary Office usage for a day
// @Tags admin
// @Produce json
// @Param office path int true "Office id"
// @Param day query string false "Day as YYYY-MM-DD, defaults to today"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/admin/offices/{office}/usage [get]
func (h *Handler) OfficeUsage(c *gin.Context) {
	office, err := strconv.ParseInt(c.Param("office"), 10, 64)
	if err != nil || office <= 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid office id", nil)
		return
	}
	day := c.Query("day")
	if day == "" {
		day = h.today()
	} else if _, err := time.Parse(service.DayLayout, day); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "day must be YYYY-MM-DD", nil)
		return
	}
	items, err := h.Store.ListUsage(c.Request.Context(), office, day)
	if err != nil {
		h.Logger.Error().Err(err).Int64("office_id", office).Msg("usage list failed")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list usage", nil)
		return
	}
	if items == nil {
		items = []models.BranchUsage{}
	}
	c.JSON(http.StatusOK, gin.H{"day": day, "office_id": office, "items": items})
}

// @Summary Recent audit events
// @Tags admin
// @Produce json
// @Param limit query int false "Page size, 1 to 500"
// @Success 200 {object} map[string]any
// @Router /api/admin/audit [get]
func (h *Handler) AuditList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	limit = db.ClampLimit(limit)
	items, err := h.Store.ListAudit(c.Request.Context(), limit)
	if err != nil {
		h.Logger.Error().Err(err).Msg("audit list failed")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list audit events", nil)
		return
	}
	if items == nil {
		items = []models.AuditEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit})
}

// @Summary User details
// @Tags admin
// @Produce json
// @Param id path int true "User id"
// @Success 200 {object} models.User
// @Failure 404 {object} map[string]any
// @Router /api/admin/users/{id} [get]
func (h *Handler) UserDetails(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user id", nil)
		return
	}
	u, err := h.Store.GetUser(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "User not found", nil)
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load user", nil)
		return
	}
	c.JSON(http.StatusOK, u)
}
