package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sifan077/PoolURL/internal/app/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRepositoryDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
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

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	if err := EnsureIndexes(context.Background(), db); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	return db
}

type recordingInvalidator struct {
	mu     sync.Mutex
	tokens []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
}

func (r *recordingInvalidator) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tokens...)
}

func insertForTest(t *testing.T, repo BindingRepository, token, destination string, expiresAt time.Time) *model.Binding {
	t.Helper()
	b := &model.Binding{Token: token, Destination: destination, ExpiresAt: expiresAt}
	if err := repo.InsertIfTokenFree(context.Background(), b, time.Now().UTC()); err != nil {
		t.Fatalf("insert %s: %v", token, err)
	}
	return b
}
