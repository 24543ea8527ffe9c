package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PoolURL/internal/app/model"
	"github.com/sifan077/PoolURL/internal/app/service"
	"go.uber.org/zap"
)

// Resolver is the read path the redirect handler needs.
type Resolver interface {
	Resolve(ctx context.Context, token string) (service.Resolution, error)
}

// RedirectDeps groups dependencies required by redirect handlers.
type RedirectDeps struct {
	Logger      *zap.Logger
	Resolver    Resolver
	Usage       service.UsageRecorder
	NotFoundURL string
}

// RedirectHandler serves short-link redirects.
type RedirectHandler struct {
	logger      *zap.Logger
	resolver    Resolver
	usage       service.UsageRecorder
	notFoundURL string
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectHandler{
		logger:      logger,
		resolver:    deps.Resolver,
		usage:       deps.Usage,
		notFoundURL: deps.NotFoundURL,
	}
}

// Register wires redirect routes onto the provided router.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/u/:token", h.Redirect)
}

// Redirect handles GET /u/:token. Every miss lands on the not-found page.
func (h *RedirectHandler) Redirect(c *fiber.Ctx) error {
	tok := c.Params("token")
	ctx := requestContext(c)

	res, err := h.resolver.Resolve(ctx, tok)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			h.logger.Error("failed to resolve token", zap.String("token", tok), zap.Error(err))
		}
		return c.Redirect(h.notFoundURL, fiber.StatusFound)
	}

	if h.usage != nil {
		h.usage.Record(ctx, res.BindingID, time.Now())
	}

	h.logger.Debug("redirecting short link",
		zap.String("token", tok),
		zap.String("target", res.Destination),
		zap.Bool("cached", res.Cached),
	)
	return c.Redirect(res.Destination, fiber.StatusFound)
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
