package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sifan077/PoolURL/internal/app/model"
	"github.com/sifan077/PoolURL/internal/app/repository"
	"github.com/sifan077/PoolURL/internal/app/token"
	"github.com/sifan077/PoolURL/internal/infra/prometheus"
	"go.uber.org/zap"
)

// minter draws candidate tokens and inserts the first one no live binding holds.
type minter struct {
	repo        repository.BindingRepository
	gen         token.Generator
	maxAttempts int
	logger      *zap.Logger
}

func newMinter(repo repository.BindingRepository, gen token.Generator, maxAttempts int, logger *zap.Logger) *minter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &minter{repo: repo, gen: gen, maxAttempts: maxAttempts, logger: logger}
}

// mint inserts a binding for destination under a fresh token. It calls the generator at most maxAttempts times.
func (m *minter) mint(ctx context.Context, destination string, expiresAt, now time.Time) (*model.Binding, error) {
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		candidate := m.gen.Generate()
		prometheus.MintAttemptsTotal.Inc()

		binding := &model.Binding{
			Token:       candidate,
			Destination: destination,
			ExpiresAt:   expiresAt,
		}
		err := m.repo.InsertIfTokenFree(ctx, binding, now)
		if errors.Is(err, repository.ErrTokenTaken) {
			prometheus.MintCollisionsTotal.Inc()
			m.logger.Debug("token collision",
				zap.String("token", candidate),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		return binding, nil
	}

	prometheus.TokenSpaceExhaustedTotal.Inc()
	m.logger.Error("token space exhausted", zap.Int("attempts", m.maxAttempts))
	return nil, fmt.Errorf("%w: %d attempts", model.ErrTokenSpaceExhausted, m.maxAttempts)
}
