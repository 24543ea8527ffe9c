package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PoolURL/config"
	"github.com/sifan077/PoolURL/internal/app/cache"
	"github.com/sifan077/PoolURL/internal/app/model"
	"github.com/sifan077/PoolURL/internal/app/repository"
	"github.com/sifan077/PoolURL/internal/app/token"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newServiceDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(repository.Models()...); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	if err := repository.EnsureIndexes(context.Background(), db); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	return db
}

func testShortenerConfig() config.ShortenerConfig {
	return config.ShortenerConfig{
		NotFoundURL:          "https://example.com/404",
		TokenLength:          5,
		Validity:             24 * time.Hour,
		ReservedPoolTarget:   3,
		MaxRetryDepth:        5,
		MaxDestinationLength: 255,
		AvailableTokens:      4,
	}
}

func testShortenerConfigWithCache() config.ShortenerConfig {
	cfg := testShortenerConfig()
	cfg.UseCache = true
	return cfg
}

// scriptedGenerator replays tokens in order, then falls back to random draws. It counts every call.
type scriptedGenerator struct {
	mu       sync.Mutex
	script   []string
	calls    int
	fallback token.Generator
}

func newScriptedGenerator(tokens ...string) *scriptedGenerator {
	return &scriptedGenerator{script: tokens, fallback: token.NewRandomGenerator(5)}
}

func (g *scriptedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.script) > 0 {
		next := g.script[0]
		g.script = g.script[1:]
		return next
	}
	return g.fallback.Generate()
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// constantGenerator always returns the same token.
type constantGenerator struct {
	mu    sync.Mutex
	value string
	calls int
}

func (g *constantGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.value
}

func (g *constantGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type stack struct {
	db       *gorm.DB
	repo     repository.BindingRepository
	usage    repository.UsageEventRepository
	pool     TokenPool
	bindings BindingService
	resolver *Resolver
	cache    *cache.RedisCache
	redis    *miniredis.Miniredis
}

func newStackForTest(t *testing.T, gen token.Generator, useCache bool) *stack {
	t.Helper()
	cfg := testShortenerConfig()
	cfg.UseCache = useCache

	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	redirects := cache.NewRedisCache(client, "redirect")

	db := newServiceDBForTest(t)
	repo := repository.NewBindingRepository(db, NewCacheInvalidator(redirects, nil))
	pool := NewTokenPool(repo, gen, cfg, nil)

	return &stack{
		db:       db,
		repo:     repo,
		usage:    repository.NewUsageEventRepository(db),
		pool:     pool,
		bindings: NewBindingService(repo, pool, gen, cfg, nil),
		resolver: NewResolver(repo, redirects, cfg, nil),
		cache:    redirects,
		redis:    m,
	}
}

func seedBinding(t *testing.T, repo repository.BindingRepository, tok, destination string, expiresAt time.Time) *model.Binding {
	t.Helper()
	b := &model.Binding{Token: tok, Destination: destination, ExpiresAt: expiresAt}
	if err := repo.InsertIfTokenFree(context.Background(), b, time.Now()); err != nil {
		t.Fatalf("seed %s: %v", tok, err)
	}
	return b
}
