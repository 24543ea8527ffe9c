package server

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PoolURL/config"
	"github.com/sifan077/PoolURL/internal/app/service"
	inthttp "github.com/sifan077/PoolURL/internal/http/handler"
	"github.com/sifan077/PoolURL/internal/http/middleware"
	"go.uber.org/zap"
)

// Dependencies bundles what the HTTP server needs. Postgres and Redis are optional and only feed health checks and rate limiting.
type Dependencies struct {
	Logger    *zap.Logger
	Postgres  *pgxpool.Pool
	Redis     redis.UniversalClient
	Bindings  service.BindingService
	Pool      service.TokenPool
	Resolver  inthttp.Resolver
	Usage     service.UsageRecorder
	Shortener config.ShortenerConfig
	RateLimit *middleware.RateLimitConfig
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with default routes.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "PoolURL",
		DisableStartupMessage: true,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App exposes the underlying Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.Logger(s.deps.Logger))
	s.app.Use(middleware.CORS(""))
}

func (s *Server) registerRoutes() {
	inthttp.NewHealthHandler(s.deps.Logger, s.healthChecks()).Register(s.app)

	inthttp.NewRedirectHandler(inthttp.RedirectDeps{
		Logger:      s.deps.Logger.Named("redirect"),
		Resolver:    s.deps.Resolver,
		Usage:       s.deps.Usage,
		NotFoundURL: s.deps.Shortener.NotFoundURL,
	}).Register(s.app)

	if s.deps.Redis != nil && s.deps.RateLimit != nil {
		s.app.Use("/api", middleware.RateLimit(s.deps.Redis, *s.deps.RateLimit, s.deps.Logger))
	}

	inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger:          s.deps.Logger.Named("api"),
		Bindings:        s.deps.Bindings,
		Pool:            s.deps.Pool,
		BaseURL:         s.deps.Shortener.BaseURL,
		PoolTarget:      s.deps.Shortener.ReservedPoolTarget,
		AvailableTokens: s.deps.Shortener.AvailableTokens,
	}).Register(s.app)
}

func (s *Server) healthChecks() map[string]inthttp.CheckFunc {
	checks := make(map[string]inthttp.CheckFunc)
	if s.deps.Postgres != nil {
		checks["postgres"] = s.deps.Postgres.Ping
	}
	if s.deps.Redis != nil {
		client := s.deps.Redis
		checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	}
	return checks
}
