package handler

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PoolURL/internal/app/model"
	"github.com/sifan077/PoolURL/internal/app/repository"
	"github.com/sifan077/PoolURL/internal/app/service"
	"go.uber.org/zap"
)

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger          *zap.Logger
	Bindings        service.BindingService
	Pool            service.TokenPool
	BaseURL         string
	PoolTarget      int
	AvailableTokens int
}

// APIHandler implements the management API endpoints.
type APIHandler struct {
	logger          *zap.Logger
	bindings        service.BindingService
	pool            service.TokenPool
	baseURL         string
	poolTarget      int
	availableTokens int
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	available := deps.AvailableTokens
	if available <= 0 {
		available = 4
	}
	return &APIHandler{
		logger:          logger,
		bindings:        deps.Bindings,
		pool:            deps.Pool,
		baseURL:         strings.TrimRight(deps.BaseURL, "/"),
		poolTarget:      deps.PoolTarget,
		availableTokens: available,
	}
}

// Register wires API routes onto the provided router.
func (h *APIHandler) Register(router fiber.Router) {
	api := router.Group("/api")
	{
		bindings := api.Group("/bindings")
		{
			bindings.Post("/", h.CreateBinding)
			bindings.Get("/", h.ListBindings)
			bindings.Get("/:id", h.GetBinding)
			bindings.Patch("/:id", h.UpdateBinding)
			bindings.Delete("/:id", h.DeleteBinding)
		}
		api.Get("/tokens/available", h.AvailableTokens)
		api.Post("/maintenance/replenish", h.Replenish)
	}
}

// CreateBindingRequest represents the request body for creating a binding.
type CreateBindingRequest struct {
	Destination string     `json:"destination"`
	Token       string     `json:"token,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// BindingResponse represents a binding returned by the API.
type BindingResponse struct {
	ID          uint64    `json:"id"`
	Token       string    `json:"token"`
	ShortURL    string    `json:"short_url"`
	Destination string    `json:"destination"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *APIHandler) toResponse(b *model.Binding) BindingResponse {
	return BindingResponse{
		ID:          b.ID,
		Token:       b.Token,
		ShortURL:    h.baseURL + "/" + b.Token,
		Destination: b.Destination,
		ExpiresAt:   b.ExpiresAt,
		CreatedAt:   b.CreatedAt,
	}
}

// CreateBinding handles POST /api/bindings
func (h *APIHandler) CreateBinding(c *fiber.Ctx) error {
	var req CreateBindingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.Destination == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "destination is required",
		})
	}

	binding, err := h.bindings.CreateBinding(requestContext(c), service.CreateBindingInput{
		Destination: req.Destination,
		Token:       req.Token,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		return h.writeError(c, "failed to create binding", err)
	}

	return c.Status(fiber.StatusCreated).JSON(h.toResponse(binding))
}

// ListBindings handles GET /api/bindings
func (h *APIHandler) ListBindings(c *fiber.Ctx) error {
	limit := 20
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed := c.QueryInt("limit"); parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed := c.QueryInt("offset"); parsed >= 0 {
			offset = parsed
		}
	}

	bindings, err := h.bindings.ListBindings(requestContext(c), limit, offset)
	if err != nil {
		return h.writeError(c, "failed to list bindings", err)
	}

	response := make([]BindingResponse, len(bindings))
	for i := range bindings {
		response[i] = h.toResponse(&bindings[i])
	}

	return c.JSON(fiber.Map{
		"bindings": response,
		"limit":    limit,
		"offset":   offset,
		"count":    len(response),
	})
}

// GetBinding handles GET /api/bindings/:id
func (h *APIHandler) GetBinding(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id must be a positive integer",
		})
	}

	binding, err := h.bindings.GetBinding(requestContext(c), id)
	if err != nil {
		return h.writeError(c, "failed to get binding", err)
	}
	return c.JSON(h.toResponse(binding))
}

// UpdateBindingRequest represents the request body for updating a binding.
type UpdateBindingRequest struct {
	Destination *string    `json:"destination,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// UpdateBinding handles PATCH /api/bindings/:id
func (h *APIHandler) UpdateBinding(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id must be a positive integer",
		})
	}

	var req UpdateBindingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	binding, err := h.bindings.UpdateBinding(requestContext(c), id, service.UpdateBindingInput{
		Destination: req.Destination,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		return h.writeError(c, "failed to update binding", err)
	}
	return c.JSON(h.toResponse(binding))
}

// DeleteBinding handles DELETE /api/bindings/:id
func (h *APIHandler) DeleteBinding(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id must be a positive integer",
		})
	}

	if err := h.bindings.DeleteBinding(requestContext(c), id); err != nil {
		return h.writeError(c, "failed to delete binding", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AvailableTokens handles GET /api/tokens/available
func (h *APIHandler) AvailableTokens(c *fiber.Ctx) error {
	reserved, err := h.pool.Available(requestContext(c), h.availableTokens)
	if err != nil {
		return h.writeError(c, "failed to list available tokens", err)
	}

	tokens := make([]string, len(reserved))
	for i, b := range reserved {
		tokens[i] = b.Token
	}
	return c.JSON(fiber.Map{"tokens": tokens})
}

// Replenish handles POST /api/maintenance/replenish. An optional target query overrides the configured size.
func (h *APIHandler) Replenish(c *fiber.Ctx) error {
	target := h.poolTarget
	if raw := c.Query("target"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "target must be a non-negative integer",
			})
		}
		target = parsed
	}

	created, err := h.pool.Replenish(requestContext(c), target)
	if err != nil {
		h.logger.Error("failed to replenish pool", zap.Int("created", created), zap.Error(err))
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"error":   "failed to replenish pool",
			"created": created,
			"target":  target,
		})
	}
	return c.JSON(fiber.Map{
		"created": created,
		"target":  target,
	})
}

func parseID(c *fiber.Ctx) (uint64, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidDestination), errors.Is(err, model.ErrInvalidToken):
		return fiber.StatusBadRequest
	case errors.Is(err, model.ErrTokenConflict):
		return fiber.StatusConflict
	case errors.Is(err, repository.ErrBindingNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, model.ErrTokenSpaceExhausted):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError maps domain errors to statuses. Client errors echo the cause; server errors are logged and hidden.
func (h *APIHandler) writeError(c *fiber.Ctx, msg string, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
		return c.Status(status).JSON(fiber.Map{
			"error": msg,
		})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
