package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sifan077/PoolURL/config"
	"github.com/sifan077/PoolURL/internal/app/cache"
	"github.com/sifan077/PoolURL/internal/app/model"
	"github.com/sifan077/PoolURL/internal/app/repository"
	"github.com/sifan077/PoolURL/internal/infra/prometheus"
	"go.uber.org/zap"
)

// Resolution is the hot-path answer for a token.
type Resolution struct {
	Destination string
	BindingID   uint64
	Cached      bool
}

// Resolver turns tokens into live destinations, consulting the redirect cache first.
type Resolver struct {
	repo        repository.BindingRepository
	cache       cache.RedirectCache
	tokenLength int
	logger      *zap.Logger
	now         func() time.Time
}

// NewResolver builds a Resolver. The cache is ignored unless cfg.UseCache is set.
func NewResolver(repo repository.BindingRepository, c cache.RedirectCache, cfg config.ShortenerConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.UseCache {
		c = nil
	}
	return &Resolver{
		repo:        repo,
		cache:       c,
		tokenLength: cfg.TokenLength,
		logger:      logger,
		now:         time.Now,
	}
}

// Resolve returns model.ErrNotFound for malformed, unknown, expired and reserved tokens.
// Cache failures degrade to a store lookup.
func (r *Resolver) Resolve(ctx context.Context, tok string) (Resolution, error) {
	if len(tok) != r.tokenLength {
		prometheus.ResolveTotal.WithLabelValues(prometheus.ResolveInvalidLength).Inc()
		return Resolution{}, model.ErrNotFound
	}

	if res, ok := r.fromCache(ctx, tok); ok {
		prometheus.ResolveTotal.WithLabelValues(prometheus.ResolveCacheHit).Inc()
		return res, nil
	}

	now := r.now()
	binding, err := r.repo.FindLiveByToken(ctx, tok, now)
	if err != nil {
		if errors.Is(err, repository.ErrBindingNotFound) {
			prometheus.ResolveTotal.WithLabelValues(prometheus.ResolveNotFound).Inc()
			return Resolution{}, model.ErrNotFound
		}
		prometheus.ResolveTotal.WithLabelValues(prometheus.ResolveError).Inc()
		return Resolution{}, fmt.Errorf("resolve %s: %w", tok, err)
	}

	prometheus.ResolveTotal.WithLabelValues(prometheus.ResolveStoreHit).Inc()
	r.populate(ctx, binding, now)
	return Resolution{Destination: binding.Destination, BindingID: binding.ID}, nil
}

func (r *Resolver) fromCache(ctx context.Context, tok string) (Resolution, bool) {
	if r.cache == nil {
		return Resolution{}, false
	}
	entry, ok, err := r.cache.Get(ctx, tok)
	if err != nil {
		r.logger.Warn("redirect cache read failed", zap.String("token", tok), zap.Error(err))
		return Resolution{}, false
	}
	if !ok {
		return Resolution{}, false
	}
	if entry.Destination == model.ReservedDestination {
		// Never serve the sentinel, whatever put it there.
		r.evict(ctx, tok)
		return Resolution{}, false
	}
	return Resolution{Destination: entry.Destination, BindingID: entry.BindingID, Cached: true}, true
}

// populate caches the binding for its remaining whole seconds of validity.
func (r *Resolver) populate(ctx context.Context, binding *model.Binding, now time.Time) {
	if r.cache == nil {
		return
	}
	ttl := binding.ExpiresAt.Sub(now).Truncate(time.Second)
	if ttl < time.Second {
		return
	}
	entry := cache.Entry{Destination: binding.Destination, BindingID: binding.ID}
	if err := r.cache.Set(ctx, binding.Token, entry, ttl); err != nil {
		r.logger.Warn("redirect cache write failed", zap.String("token", binding.Token), zap.Error(err))
	}
}

func (r *Resolver) evict(ctx context.Context, tok string) {
	if err := r.cache.Delete(ctx, tok); err != nil {
		r.logger.Warn("redirect cache evict failed", zap.String("token", tok), zap.Error(err))
	}
}

// CacheInvalidator evicts redirect cache entries after a binding changes.
type CacheInvalidator struct {
	cache  cache.RedirectCache
	logger *zap.Logger
}

// NewCacheInvalidator returns an invalidator for c. A nil cache makes every call a no-op.
func NewCacheInvalidator(c cache.RedirectCache, logger *zap.Logger) *CacheInvalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheInvalidator{cache: c, logger: logger}
}

// Invalidate deletes the entry for tok. Missing keys are fine; cache errors are only logged.
func (i *CacheInvalidator) Invalidate(ctx context.Context, tok string) {
	if i == nil || i.cache == nil {
		return
	}
	if err := i.cache.Delete(ctx, tok); err != nil {
		i.logger.Warn("redirect cache invalidation failed", zap.String("token", tok), zap.Error(err))
	}
}
