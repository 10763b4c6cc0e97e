package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"vigil-go/internal/domain"
	"vigil-go/internal/manager"
)

// ResourceHandler handles resource-scoped operations and detector metadata.
type ResourceHandler struct {
	manager *manager.Manager
	logger  *slog.Logger
}

// NewResourceHandler creates a new resource handler.
func NewResourceHandler(mgr *manager.Manager, logger *slog.Logger) *ResourceHandler {
	return &ResourceHandler{
		manager: mgr,
		logger:  logger,
	}
}

// Deboard handles POST /v1/resources/:id/deboard
// Force-resolves every open alert for the resource and drops its subsequent
// samples.
func (h *ResourceHandler) Deboard(c *fiber.Ctx) error {
	resourceID := c.Params("id")
	resolved, err := h.manager.Deboard(c.Context(), resourceID, parseActor(c))
	if err != nil {
		h.logger.Error("failed to deboard resource", "resourceID", resourceID, "error", err)
		return InternalError(c, "failed to deboard resource")
	}

	return Success(c, map[string]interface{}{
		"resource_id":     resourceID,
		"alerts_resolved": resolved,
	})
}

// SecurityEventTypes handles GET /v1/security-event-types
// Lists the event types the detector can classify.
func (h *ResourceHandler) SecurityEventTypes(c *fiber.Ctx) error {
	return Success(c, domain.SecurityEventTypes)
}
