package api

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"courier-go/internal/domain"
	"courier-go/internal/store"
)

// defaultListLimit bounds unpaginated listings.
const defaultListLimit = 50

// MessageHandler handles HTTP requests for ledger inspection and manual
// intervention. Operators use it to read failure text out of a message's
// headers and to re-arm a terminally failed message for a fresh round of
// retries.
type MessageHandler struct {
	store  store.MessageStore
	logger *slog.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(st store.MessageStore, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		store:  st,
		logger: logger,
	}
}

// parseKind reads and validates the :kind route parameter.
func parseKind(c *fiber.Ctx) (domain.Kind, bool) {
	kind := domain.Kind(c.Params("kind"))
	return kind, kind.IsValid()
}

// List handles GET /v1/messages/:kind
// Returns messages filtered by status (default: Failed).
func (h *MessageHandler) List(c *fiber.Ctx) error {
	kind, ok := parseKind(c)
	if !ok {
		return BadRequest(c, "kind must be 'outbound' or 'inbound'")
	}

	status := domain.Status(c.Query("status", string(domain.StatusFailed)))
	if !status.IsValid() {
		return BadRequest(c, "status must be 'Scheduled', 'Succeeded' or 'Failed'")
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 {
			limit = l
		}
	}

	messages, err := h.store.ListByStatus(c.Context(), kind, status, limit)
	if err != nil {
		h.logger.Error("failed to list messages", "kind", kind, "error", err)
		return InternalError(c, "failed to list messages")
	}

	return Success(c, messages)
}

// GetByID handles GET /v1/messages/:kind/:id
func (h *MessageHandler) GetByID(c *fiber.Ctx) error {
	kind, ok := parseKind(c)
	if !ok {
		return BadRequest(c, "kind must be 'outbound' or 'inbound'")
	}

	msg, err := h.store.GetByID(c.Context(), kind, c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			return NotFound(c, "message not found")
		}
		h.logger.Error("failed to get message", "kind", kind, "error", err)
		return InternalError(c, "failed to get message")
	}

	return Success(c, msg)
}

// Rearm handles POST /v1/messages/:kind/:id/rearm
// Resets a failed message so the retry scheduler picks it up again.
func (h *MessageHandler) Rearm(c *fiber.Ctx) error {
	kind, ok := parseKind(c)
	if !ok {
		return BadRequest(c, "kind must be 'outbound' or 'inbound'")
	}

	id := c.Params("id")
	if err := h.store.Rearm(c.Context(), kind, id); err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			return NotFound(c, "message not found")
		}
		h.logger.Error("failed to rearm message", "kind", kind, "id", id, "error", err)
		return InternalError(c, "failed to rearm message")
	}

	h.logger.Info("message re-armed", "kind", kind, "id", id)

	return Accepted(c, map[string]string{
		"id":     id,
		"status": string(domain.StatusScheduled),
	})
}
