package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sifan077/PoolURL/config"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultLifetime    = 5 * time.Minute
	applicationName    = "poolurl"
)

// PoolSettings are the connection pool limits shared by the pgx pool and GORM.
type PoolSettings struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// Settings parses the pool section of cfg. Empty durations keep their defaults.
func Settings(cfg config.PostgresConfig) (PoolSettings, error) {
	s := PoolSettings{
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: defaultLifetime,
	}
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"max_conn_lifetime", cfg.MaxConnLifetime, &s.MaxConnLifetime},
		{"max_conn_idle_time", cfg.MaxConnIdleTime, &s.MaxConnIdleTime},
		{"health_check_period", cfg.HealthCheckPeriod, &s.HealthCheckPeriod},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil || parsed < 0 {
			return s, fmt.Errorf("postgres: invalid %s %q", d.name, d.raw)
		}
		*d.dst = parsed
	}
	if s.MaxConns > 0 && s.MinConns > s.MaxConns {
		return s, fmt.Errorf("postgres: min_conns %d exceeds max_conns %d", s.MinConns, s.MaxConns)
	}
	return s, nil
}

// NewPool creates a pgx connection pool and verifies connectivity. The server uses it for readiness checks.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	settings, err := Settings(cfg)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if settings.MaxConns > 0 {
		poolCfg.MaxConns = settings.MaxConns
	}
	if settings.MinConns > 0 {
		poolCfg.MinConns = settings.MinConns
	}
	poolCfg.MaxConnLifetime = settings.MaxConnLifetime
	if settings.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = settings.MaxConnIdleTime
	}
	if settings.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = settings.HealthCheckPeriod
	}

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return pool, nil
}

// ConnString renders cfg as a postgres:// URL with escaped credentials.
func ConnString(cfg config.PostgresConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
		RawQuery: url.Values{
			"sslmode":          {sslMode},
			"application_name": {applicationName},
		}.Encode(),
	}
	switch {
	case cfg.Password != "":
		u.User = url.UserPassword(cfg.User, cfg.Password)
	case cfg.User != "":
		u.User = url.User(cfg.User)
	}
	return u.String()
}
