package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sifan077/PoolURL/config"
	"github.com/sifan077/PoolURL/internal/app/model"
	"github.com/sifan077/PoolURL/internal/app/repository"
	"github.com/sifan077/PoolURL/internal/app/token"
	"github.com/sifan077/PoolURL/internal/infra/prometheus"
	"go.uber.org/zap"
)

// BindingService defines behaviour-level operations on bindings.
type BindingService interface {
	CreateBinding(ctx context.Context, input CreateBindingInput) (*model.Binding, error)
	CreateWithGeneratedToken(ctx context.Context, destination string, expiresAt time.Time) (*model.Binding, error)
	CreateReservedToken(ctx context.Context) (*model.Binding, error)
	GetBinding(ctx context.Context, id uint64) (*model.Binding, error)
	ListBindings(ctx context.Context, limit, offset int) ([]model.Binding, error)
	UpdateBinding(ctx context.Context, id uint64, input UpdateBindingInput) (*model.Binding, error)
	DeleteBinding(ctx context.Context, id uint64) error
}

// CreateBindingInput captures data required to create a binding.
// An empty Token draws one from the pool; a nil ExpiresAt uses the configured validity.
type CreateBindingInput struct {
	Destination string
	Token       string
	ExpiresAt   *time.Time
}

// UpdateBindingInput captures fields that can be changed on an existing binding.
type UpdateBindingInput struct {
	Destination *string
	ExpiresAt   *time.Time
}

type bindingService struct {
	repo   repository.BindingRepository
	pool   TokenPool
	minter *minter
	cfg    config.ShortenerConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewBindingService returns a service implementation backed by the given repository and pool.
func NewBindingService(repo repository.BindingRepository, pool TokenPool, gen token.Generator, cfg config.ShortenerConfig, logger *zap.Logger) BindingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &bindingService{
		repo:   repo,
		pool:   pool,
		minter: newMinter(repo, gen, cfg.MaxRetryDepth, logger),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *bindingService) CreateBinding(ctx context.Context, input CreateBindingInput) (*model.Binding, error) {
	if err := model.ValidateDestination(input.Destination, s.cfg.MaxDestinationLength); err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.Validity)
	if input.ExpiresAt != nil {
		expiresAt = *input.ExpiresAt
	}

	if input.Token != "" {
		return s.createWithSuggestedToken(ctx, input.Token, input.Destination, expiresAt, now)
	}

	binding, err := s.pool.ClaimReserved(ctx, input.Destination, expiresAt)
	if err == nil {
		prometheus.BindingsCreatedTotal.WithLabelValues(prometheus.SourceClaimed).Inc()
		return binding, nil
	}
	if !errors.Is(err, repository.ErrNoReservedToken) {
		return nil, fmt.Errorf("claim reserved token: %w", err)
	}

	s.logger.Debug("reserved pool empty, minting", zap.String("destination", input.Destination))
	return s.CreateWithGeneratedToken(ctx, input.Destination, expiresAt)
}

func (s *bindingService) createWithSuggestedToken(ctx context.Context, tok, destination string, expiresAt, now time.Time) (*model.Binding, error) {
	if !token.Valid(tok, s.cfg.TokenLength) {
		return nil, fmt.Errorf("%w: want %d characters from [A-Za-z0-9]", model.ErrInvalidToken, s.cfg.TokenLength)
	}

	binding := &model.Binding{
		Token:       tok,
		Destination: destination,
		ExpiresAt:   expiresAt,
	}
	if err := s.repo.InsertIfTokenFree(ctx, binding, now); err != nil {
		if errors.Is(err, repository.ErrTokenTaken) {
			return nil, fmt.Errorf("%w: %s", model.ErrTokenConflict, tok)
		}
		return nil, fmt.Errorf("create binding: %w", err)
	}

	prometheus.BindingsCreatedTotal.WithLabelValues(prometheus.SourceSuggested).Inc()
	return binding, nil
}

func (s *bindingService) CreateWithGeneratedToken(ctx context.Context, destination string, expiresAt time.Time) (*model.Binding, error) {
	if err := model.ValidateDestination(destination, s.cfg.MaxDestinationLength); err != nil {
		return nil, err
	}

	binding, err := s.minter.mint(ctx, destination, expiresAt, s.now())
	if err != nil {
		return nil, fmt.Errorf("create binding: %w", err)
	}
	prometheus.BindingsCreatedTotal.WithLabelValues(prometheus.SourceMinted).Inc()
	return binding, nil
}

func (s *bindingService) CreateReservedToken(ctx context.Context) (*model.Binding, error) {
	return s.pool.CreateReservedToken(ctx)
}

// GetBinding hides reserved rows, which have no caller yet.
func (s *bindingService) GetBinding(ctx context.Context, id uint64) (*model.Binding, error) {
	binding, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get binding: %w", err)
	}
	if binding.IsReserved() {
		return nil, fmt.Errorf("get binding: %w", repository.ErrBindingNotFound)
	}
	return binding, nil
}

func (s *bindingService) ListBindings(ctx context.Context, limit, offset int) ([]model.Binding, error) {
	bindings, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	return bindings, nil
}

func (s *bindingService) UpdateBinding(ctx context.Context, id uint64, input UpdateBindingInput) (*model.Binding, error) {
	binding, err := s.GetBinding(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Destination != nil {
		if err := model.ValidateDestination(*input.Destination, s.cfg.MaxDestinationLength); err != nil {
			return nil, err
		}
		binding.Destination = *input.Destination
	}
	if input.ExpiresAt != nil {
		binding.ExpiresAt = *input.ExpiresAt
	}

	if err := s.repo.Update(ctx, binding, s.now()); err != nil {
		if errors.Is(err, repository.ErrTokenTaken) {
			return nil, fmt.Errorf("%w: %s", model.ErrTokenConflict, binding.Token)
		}
		return nil, fmt.Errorf("update binding: %w", err)
	}
	return binding, nil
}

func (s *bindingService) DeleteBinding(ctx context.Context, id uint64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	return nil
}
