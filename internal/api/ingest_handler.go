package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"vigil-go/internal/domain"
	"vigil-go/internal/ingest"
)

// IngestHandler handles HTTP requests for sample and security record ingestion.
type IngestHandler struct {
	service *ingest.Service
	logger  *slog.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(service *ingest.Service, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		service: service,
		logger:  logger,
	}
}

// IngestSample handles POST /v1/samples
// Receives a metric sample, validates it, and publishes to the message
// queue. Returns 202 Accepted; evaluation happens asynchronously.
func (h *IngestHandler) IngestSample(c *fiber.Ctx) error {
	var sample domain.MetricSample
	if err := c.BodyParser(&sample); err != nil {
		h.logger.Debug("failed to parse sample body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	if err := sample.Validate(); err != nil {
		h.logger.Debug("sample validation failed", "error", err)
		return ValidationError(c, err.Error())
	}

	if err := h.service.IngestSample(c.Context(), &sample); err != nil {
		h.logger.Error("failed to ingest sample",
			"resourceID", sample.ResourceID, "metric", sample.Metric, "error", err)
		return InternalError(c, "failed to ingest sample")
	}

	return Accepted(c, map[string]string{
		"status":      "accepted",
		"resource_id": sample.ResourceID,
		"metric":      sample.Metric,
	})
}

// IngestSecurityRecord handles POST /v1/security-records
// Receives a raw security record for asynchronous classification.
func (h *IngestHandler) IngestSecurityRecord(c *fiber.Ctx) error {
	var record domain.SecurityRecord
	if err := c.BodyParser(&record); err != nil {
		h.logger.Debug("failed to parse security record body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	if err := record.Validate(); err != nil {
		h.logger.Debug("security record validation failed", "error", err)
		return ValidationError(c, err.Error())
	}

	if err := h.service.IngestSecurityRecord(c.Context(), &record); err != nil {
		h.logger.Error("failed to ingest security record",
			"resourceID", record.ResourceID, "action", record.Action, "error", err)
		return InternalError(c, "failed to ingest security record")
	}

	return Accepted(c, map[string]string{
		"status":      "accepted",
		"resource_id": record.ResourceID,
	})
}
