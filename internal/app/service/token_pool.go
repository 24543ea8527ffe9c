package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sifan077/PoolURL/config"
	"github.com/sifan077/PoolURL/internal/app/model"
	"github.com/sifan077/PoolURL/internal/app/repository"
	"github.com/sifan077/PoolURL/internal/app/token"
	"github.com/sifan077/PoolURL/internal/infra/prometheus"
	"go.uber.org/zap"
)

// TokenPool manages the standing inventory of reserved bindings.
type TokenPool interface {
	// ClaimReserved hands the lowest-id reserved binding to destination.
	// It returns repository.ErrNoReservedToken when the pool is empty or the row was claimed concurrently.
	ClaimReserved(ctx context.Context, destination string, expiresAt time.Time) (*model.Binding, error)
	// Replenish mints reserved bindings until the pool holds target rows and returns how many it created.
	Replenish(ctx context.Context, target int) (int, error)
	// Available returns up to n reserved bindings, minting the shortfall.
	Available(ctx context.Context, n int) ([]model.Binding, error)
	// CreateReservedToken mints one reserved binding.
	CreateReservedToken(ctx context.Context) (*model.Binding, error)
}

type tokenPool struct {
	repo     repository.BindingRepository
	minter   *minter
	validity time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewTokenPool returns a TokenPool minting through gen with the configured retry budget.
func NewTokenPool(repo repository.BindingRepository, gen token.Generator, cfg config.ShortenerConfig, logger *zap.Logger) TokenPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &tokenPool{
		repo:     repo,
		minter:   newMinter(repo, gen, cfg.MaxRetryDepth, logger),
		validity: cfg.Validity,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *tokenPool) ClaimReserved(ctx context.Context, destination string, expiresAt time.Time) (*model.Binding, error) {
	binding, err := p.repo.ClaimOneReserved(ctx, destination, expiresAt, p.now())
	if err != nil {
		return nil, err
	}
	p.logger.Debug("reserved token claimed",
		zap.String("token", binding.Token),
		zap.Uint64("binding_id", binding.ID),
	)
	return binding, nil
}

func (p *tokenPool) CreateReservedToken(ctx context.Context) (*model.Binding, error) {
	now := p.now()
	binding, err := p.minter.mint(ctx, model.ReservedDestination, now.Add(p.validity), now)
	if err != nil {
		return nil, fmt.Errorf("create reserved token: %w", err)
	}
	prometheus.BindingsCreatedTotal.WithLabelValues(prometheus.SourceReserved).Inc()
	return binding, nil
}

func (p *tokenPool) Replenish(ctx context.Context, target int) (int, error) {
	current, err := p.repo.CountReserved(ctx)
	if err != nil {
		return 0, fmt.Errorf("count reserved: %w", err)
	}

	missing := target - int(current)
	created := 0
	for ; created < missing; created++ {
		if _, err := p.CreateReservedToken(ctx); err != nil {
			prometheus.ReservedTokens.Set(float64(int(current) + created))
			return created, fmt.Errorf("replenish after %d of %d: %w", created, missing, err)
		}
	}

	prometheus.ReservedTokens.Set(float64(int(current) + created))
	if created > 0 {
		p.logger.Info("reserved pool replenished",
			zap.Int("created", created),
			zap.Int("target", target),
		)
	}
	return created, nil
}

func (p *tokenPool) Available(ctx context.Context, n int) ([]model.Binding, error) {
	if n <= 0 {
		return nil, nil
	}

	reserved, err := p.repo.ListReserved(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("list reserved: %w", err)
	}
	for len(reserved) < n {
		binding, err := p.CreateReservedToken(ctx)
		if err != nil {
			return reserved, err
		}
		reserved = append(reserved, *binding)
	}
	return reserved, nil
}
