package api

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"vigil-go/internal/audit"
)

// AuditHandler handles HTTP requests for audit log queries and chain
// verification.
type AuditHandler struct {
	log    *audit.Log
	logger *slog.Logger
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(log *audit.Log, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		log:    log,
		logger: logger,
	}
}

// Range handles GET /v1/audit
// Returns audit records in sequence order. Query parameters "from" and "to"
// bound the sequence range; "to" omitted or 0 means to the end.
func (h *AuditHandler) Range(c *fiber.Ctx) error {
	from := uint64(1)
	if raw := c.Query("from"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parsed == 0 {
			return BadRequest(c, "from must be a positive integer")
		}
		from = parsed
	}

	to := uint64(0)
	if raw := c.Query("to"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return BadRequest(c, "to must be a non-negative integer")
		}
		to = parsed
	}

	records, err := h.log.Range(c.Context(), from, to)
	if err != nil {
		h.logger.Error("failed to read audit log", "error", err)
		return InternalError(c, "failed to read audit log")
	}

	return Success(c, records)
}

// Verify handles GET /v1/audit/verify
// Walks the whole chain recomputing hashes and reports integrity.
func (h *AuditHandler) Verify(c *fiber.Ctx) error {
	err := h.log.Verify(c.Context())
	if err == nil {
		return Success(c, map[string]interface{}{"intact": true})
	}
	if errors.Is(err, audit.ErrTamperDetected) {
		return Success(c, map[string]interface{}{
			"intact": false,
			"detail": err.Error(),
		})
	}

	h.logger.Error("audit verification failed", "error", err)
	return InternalError(c, "failed to verify audit log")
}
