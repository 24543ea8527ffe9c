// Package command provides the poolctl operator commands.
package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sifan077/PoolURL/config"
	"github.com/sifan077/PoolURL/internal/app/repository"
	"github.com/sifan077/PoolURL/internal/app/service"
	"github.com/sifan077/PoolURL/internal/app/token"
	"github.com/sifan077/PoolURL/internal/infra/logger"
	infraPostgres "github.com/sifan077/PoolURL/internal/infra/postgres"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const commandTimeout = 2 * time.Minute

// Env is what every command runs against.
type Env struct {
	DB        *gorm.DB
	Shortener config.ShortenerConfig
	Logger    *zap.Logger
}

// Opener builds an Env and returns a cleanup func.
type Opener func(ctx context.Context) (*Env, func(), error)

// App creates the CLI application. Output goes to out.
func App(open Opener, out io.Writer) *cli.App {
	if out == nil {
		out = os.Stdout
	}
	return &cli.App{
		Name:      "poolctl",
		Usage:     "PoolURL token pool maintenance",
		Writer:    out,
		ErrWriter: os.Stderr,
		Commands: []*cli.Command{
			replenishCommand(open),
			availableCommand(open),
			migrateCommand(open),
		},
	}
}

// PostgresOpener loads config, initialises logging and opens the configured database.
func PostgresOpener(ctx context.Context) (*Env, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.Init(logger.FromConfig(cfg))
	if err != nil {
		return nil, nil, err
	}

	db, err := infraPostgres.NewGorm(cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = sqlDB.Close()
		_ = logger.Sync()
	}
	return &Env{DB: db, Shortener: cfg.Shortener, Logger: log}, cleanup, nil
}

func (e *Env) pool() service.TokenPool {
	repo := repository.NewBindingRepository(e.DB, nil)
	gen := token.NewRandomGenerator(e.Shortener.TokenLength)
	return service.NewTokenPool(repo, gen, e.Shortener, e.Logger.Named("pool"))
}

// withEnv opens the environment for the duration of one command.
func withEnv(open Opener, run func(ctx context.Context, c *cli.Context, env *Env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, cancel := context.WithTimeout(c.Context, commandTimeout)
		defer cancel()

		env, cleanup, err := open(ctx)
		if err != nil {
			return fmt.Errorf("open environment: %w", err)
		}
		defer cleanup()
		if env.Logger == nil {
			env.Logger = zap.NewNop()
		}
		return run(ctx, c, env)
	}
}

func replenishCommand(open Opener) *cli.Command {
	return &cli.Command{
		Name:  "replenish",
		Usage: "Mint reserved tokens until the pool reaches its target size",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "target",
				Usage: "Pool size to reach (default: shortener.reserved_pool_target)",
			},
		},
		Action: withEnv(open, func(ctx context.Context, c *cli.Context, env *Env) error {
			target := env.Shortener.ReservedPoolTarget
			if c.IsSet("target") {
				target = c.Int("target")
			}
			if target < 0 {
				return fmt.Errorf("target must not be negative, got %d", target)
			}

			created, err := env.pool().Replenish(ctx, target)
			fmt.Fprintf(c.App.Writer, "created %d reserved tokens (target %d)\n", created, target)
			return err
		}),
	}
}

func availableCommand(open Opener) *cli.Command {
	return &cli.Command{
		Name:  "available",
		Usage: "Print reserved tokens, minting any shortfall",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "count",
				Usage: "Number of tokens (default: shortener.available_tokens)",
			},
		},
		Action: withEnv(open, func(ctx context.Context, c *cli.Context, env *Env) error {
			count := env.Shortener.AvailableTokens
			if c.IsSet("count") {
				count = c.Int("count")
			}

			reserved, err := env.pool().Available(ctx, count)
			for _, b := range reserved {
				fmt.Fprintln(c.App.Writer, b.Token)
			}
			return err
		}),
	}
}

func migrateCommand(open Opener) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the binding and usage tables",
		Action: withEnv(open, func(ctx context.Context, c *cli.Context, env *Env) error {
			if err := infraPostgres.Migrate(ctx, env.DB); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "schema up to date")
			return nil
		}),
	}
}
