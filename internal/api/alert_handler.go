package api

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"vigil-go/internal/domain"
	"vigil-go/internal/manager"
	"vigil-go/internal/store"
)

// AlertHandler handles HTTP requests for alert queries and lifecycle
// operations. Reads go straight to the store; writes go through the manager
// so they share the compare-and-set and audit path with the pipeline.
type AlertHandler struct {
	alerts  store.AlertStore
	manager *manager.Manager
	logger  *slog.Logger
}

// NewAlertHandler creates a new alert handler.
func NewAlertHandler(alerts store.AlertStore, mgr *manager.Manager, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{
		alerts:  alerts,
		manager: mgr,
		logger:  logger,
	}
}

// actorRequest is the optional body of lifecycle operations.
type actorRequest struct {
	Actor string `json:"actor"`
}

func parseActor(c *fiber.Ctx) string {
	var req actorRequest
	if err := c.BodyParser(&req); err == nil && req.Actor != "" {
		return req.Actor
	}
	return "operator"
}

// List handles GET /v1/alerts
// Returns alerts matching query parameters, newest first.
func (h *AlertHandler) List(c *fiber.Ctx) error {
	filter := domain.AlertFilter{
		ResourceID: c.Query("resource_id"),
		State:      domain.AlertState(c.Query("state")),
		Severity:   domain.Severity(c.Query("severity")),
		Kind:       domain.AlertKind(c.Query("kind")),
	}

	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return BadRequest(c, "since must be an RFC 3339 timestamp")
		}
		filter.Since = t
	}
	if until := c.Query("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return BadRequest(c, "until must be an RFC 3339 timestamp")
		}
		filter.Until = t
	}

	if limit := c.Query("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 {
			filter.Limit = l
		}
	}
	if offset := c.Query("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			filter.Offset = o
		}
	}
	if filter.Limit == 0 {
		filter.Limit = 100
	}

	alerts, err := h.alerts.List(c.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list alerts", "error", err)
		return InternalError(c, "failed to list alerts")
	}

	return Success(c, alerts)
}

// GetByID handles GET /v1/alerts/:id
func (h *AlertHandler) GetByID(c *fiber.Ctx) error {
	alert, err := h.alerts.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrAlertNotFound) {
			return NotFound(c, "alert not found")
		}
		h.logger.Error("failed to get alert", "alertID", c.Params("id"), "error", err)
		return InternalError(c, "failed to get alert")
	}

	return Success(c, alert)
}

// Acknowledge handles POST /v1/alerts/:id/acknowledge
func (h *AlertHandler) Acknowledge(c *fiber.Ctx) error {
	alert, err := h.manager.Acknowledge(c.Context(), c.Params("id"), parseActor(c))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return InvalidState(c, err.Error())
		}
		h.logger.Error("failed to acknowledge alert", "alertID", c.Params("id"), "error", err)
		return InternalError(c, "failed to acknowledge alert")
	}

	return Success(c, alert)
}

// Resolve handles POST /v1/alerts/:id/resolve
func (h *AlertHandler) Resolve(c *fiber.Ctx) error {
	alert, err := h.manager.Resolve(c.Context(), c.Params("id"), parseActor(c))
	if err != nil {
		if errors.Is(err, domain.ErrAlertNotFound) {
			return NotFound(c, "alert not found")
		}
		h.logger.Error("failed to resolve alert", "alertID", c.Params("id"), "error", err)
		return InternalError(c, "failed to resolve alert")
	}

	return Success(c, alert)
}

// Redeliver handles POST /v1/alerts/:id/redeliver
func (h *AlertHandler) Redeliver(c *fiber.Ctx) error {
	alert, err := h.manager.Redeliver(c.Context(), c.Params("id"), parseActor(c))
	if err != nil {
		if errors.Is(err, domain.ErrAlertNotFound) {
			return NotFound(c, "alert not found")
		}
		h.logger.Error("failed to redeliver alert", "alertID", c.Params("id"), "error", err)
		return InternalError(c, "failed to redeliver alert")
	}

	return Accepted(c, alert)
}

// Attempts handles GET /v1/alerts/:id/attempts
// Returns the notification attempt history for an alert, oldest first.
func (h *AlertHandler) Attempts(c *fiber.Ctx) error {
	attempts, err := h.manager.Attempts(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrAlertNotFound) {
			return NotFound(c, "alert not found")
		}
		h.logger.Error("failed to list attempts", "alertID", c.Params("id"), "error", err)
		return InternalError(c, "failed to list attempts")
	}

	return Success(c, attempts)
}
