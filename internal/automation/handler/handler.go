package handler

import (
	"net/http"

	"fieldservice_backend/internal/automation/service"
	"fieldservice_backend/internal/automation/transport"
	"fieldservice_backend/platform/httpkit"
	"fieldservice_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler handles HTTP requests for automation.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid id"
)

// New creates a new automation handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes mounts rule, queue and trigger management on an admin group and
// event intake on a protected group.
func (h *Handler) RegisterRoutes(admin *gin.RouterGroup, intake *gin.RouterGroup) {
	admin.GET("/rules", h.ListRules)
	admin.POST("/rules", h.CreateRule)
	admin.GET("/rules/:id", h.GetRule)
	admin.PUT("/rules/:id", h.UpdateRule)
	admin.POST("/rules/:id/activate", h.ActivateRule)
	admin.POST("/rules/:id/deactivate", h.DeactivateRule)
	admin.POST("/seed", h.Seed)

	admin.GET("/queue", h.ListQueue)
	admin.POST("/queue/:id/requeue", h.Requeue)

	admin.GET("/triggers", h.ListTriggers)

	intake.POST("/events", h.EmitEvent)
}

// ListRules lists the tenant's rules.
// GET /api/v1/admin/automation/rules
func (h *Handler) ListRules(c *gin.Context) {
	var req transport.ListRulesRequest
	if !h.bindQuery(c, &req) {
		return
	}
	locationID, ok := httpkit.MustGetLocation(c)
	if !ok {
		return
	}

	result, err := h.svc.ListRules(c.Request.Context(), locationID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetRule returns one rule.
// GET /api/v1/admin/automation/rules/:id
func (h *Handler) GetRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	locationID, ok := httpkit.MustGetLocation(c)
	if !ok {
		return
	}

	result, err := h.svc.GetRule(c.Request.Context(), locationID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// CreateRule creates a rule.
// POST /api/v1/admin/automation/rules
func (h *Handler) CreateRule(c *gin.Context) {
	var req transport.RuleRequest
	if !h.bindJSON(c, &req) {
		return
	}
	locationID, ok := httpkit.MustGetLocation(c)
	if !ok {
		return
	}

	result, err := h.svc.CreateRule(c.Request.Context(), locationID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}

// UpdateRule replaces a rule's definition.
// PUT /api/v1/admin/automation/rules/:id
func (h *Handler) UpdateRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.RuleRequest
	if !h.bindJSON(c, &req) {
		return
	}
	locationID, ok := httpkit.MustGetLocation(c)
	if !ok {
		return
	}

	result, err := h.svc.UpdateRule(c.Request.Context(), locationID, id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ActivateRule POST /api/v1/admin/automation/rules/:id/activate
func (h *Handler) ActivateRule(c *gin.Context) {
	h.setActive(c, true)
}

// DeactivateRule POST /api/v1/admin/automation/rules/:id/deactivate
func (h *Handler) DeactivateRule(c *gin.Context) {
	h.setActive(c, false)
}

func (h *Handler) setActive(c *gin.Context, active bool) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	locationID, ok := httpkit.MustGetLocation(c)
	if !ok {
		return
	}

	if httpkit.HandleError(c, h.svc.SetActive(c.Request.Context(), locationID, id, active)) {
		return
	}
	httpkit.OK(c, gin.H{"id": id, "isActive": active})
}

// Seed creates the default rules for the tenant.
// POST /api/v1/admin/automation/seed
func (h *Handler) Seed(c *gin.Context) {
	var req transport.SeedRequest
	if c.Request.ContentLength > 0 && !h.bindJSON(c, &req) {
		return
	}
	locationID, ok := httpkit.MustGetLocation(c)
	if !ok {
		return
	}

	result, err := h.svc.Seed(c.Request.Context(), locationID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ListQueue lists queue items, filtered by status.
// GET /api/v1/admin/automation/queue?status=dead-lettered
func (h *Handler) ListQueue(c *gin.Context) {
	var req transport.ListQueueRequest
	if !h.bindQuery(c, &req) {
		return
	}
	locationID, ok := httpkit.MustGetLocation(c)
	if !ok {
		return
	}

	result, err := h.svc.ListQueue(c.Request.Context(), locationID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Requeue moves a failed or dead-lettered item back to pending.
// POST /api/v1/admin/automation/queue/:id/requeue
func (h *Handler) Requeue(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	locationID, ok := httpkit.MustGetLocation(c)
	if !ok {
		return
	}

	if httpkit.HandleError(c, h.svc.Requeue(c.Request.Context(), locationID, id)) {
		return
	}
	httpkit.OK(c, gin.H{"id": id, "status": "pending"})
}

// ListTriggers lists scheduled triggers.
// GET /api/v1/admin/automation/triggers?entityId=
func (h *Handler) ListTriggers(c *gin.Context) {
	var req transport.ListTriggersRequest
	if !h.bindQuery(c, &req) {
		return
	}
	locationID, ok := httpkit.MustGetLocation(c)
	if !ok {
		return
	}

	result, err := h.svc.ListTriggers(c.Request.Context(), locationID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// EmitEvent accepts a domain event for automation.
// POST /api/v1/automation/events
func (h *Handler) EmitEvent(c *gin.Context) {
	var req transport.EmitEventRequest
	if !h.bindJSON(c, &req) {
		return
	}
	locationID, ok := httpkit.MustGetLocation(c)
	if !ok {
		return
	}

	result, err := h.svc.EmitEvent(c.Request.Context(), locationID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusAccepted, result)
}

func (h *Handler) bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	return h.validate(c, req)
}

func (h *Handler) bindQuery(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	return h.validate(c, req)
}

func (h *Handler) validate(c *gin.Context, req any) bool {
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return false
	}
	return true
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.Nil, false
	}
	return id, true
}
