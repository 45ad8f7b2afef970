// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

// Package dbpool owns all database access for the ingestion core. It keeps
// two independently sized pools against the same PostgreSQL database: a
// blocking-mode database/sql pool (batch persistence, health checks) and a
// non-blocking pgx pool (high-fan-out ingestion, dedup). No other component
// opens connections directly.
package dbpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrPoolExhausted marks an acquisition failure (pool exhausted or connect
// timeout), as distinct from a query failure on an acquired connection.
var ErrPoolExhausted = errors.New("dbpool: connection acquisition failed")

var (
	acquiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wfb_dbpool_acquires_total",
		Help: "Connection acquisitions by mode and outcome.",
	}, []string{"mode", "outcome"})
	healthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wfb_dbpool_health_failures_total",
		Help: "Failed background health probes.",
	})
)

// ModeConfig sizes one pool mode.
type ModeConfig struct {
	MinConns       int           `koanf:"min_conns"`
	MaxConns       int           `koanf:"max_conns"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// Config holds connection settings for both pool modes.
type Config struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	SSLMode  string `koanf:"sslmode"`
	AppName  string `koanf:"app_name"`

	Blocking    ModeConfig `koanf:"blocking"`
	NonBlocking ModeConfig `koanf:"non_blocking"`

	HealthInterval time.Duration `koanf:"health_interval"`
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.AppName == "" {
		c.AppName = "weather-flick-batch"
	}
	if c.Blocking.MaxConns <= 0 {
		c.Blocking.MaxConns = 5
	}
	if c.Blocking.ConnectTimeout <= 0 {
		c.Blocking.ConnectTimeout = 10 * time.Second
	}
	if c.NonBlocking.MaxConns <= 0 {
		c.NonBlocking.MaxConns = 10
	}
	if c.NonBlocking.MinConns < 0 {
		c.NonBlocking.MinConns = 0
	}
	if c.NonBlocking.ConnectTimeout <= 0 {
		c.NonBlocking.ConnectTimeout = 10 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
}

// DSN renders the lib/pq connection string for the blocking pool.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=%s connect_timeout=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, c.AppName,
		int(c.Blocking.ConnectTimeout.Seconds()),
	)
}

// PgxDSN renders the URL-style DSN for the pgx pool.
func (c *Config) PgxDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&application_name=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode, c.AppName,
	)
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	BlockingHits      int64
	BlockingMisses    int64
	NonBlockingHits   int64
	NonBlockingMisses int64
	HealthFailures    int64
	Healthy           bool
}

// Pool is the process-wide connection manager. Construct one per database at
// the composition root and inject it into every component that needs it.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	db  *sql.DB       // blocking mode (lib/pq)
	pgx *pgxpool.Pool // non-blocking mode

	blockingHits      atomic.Int64
	blockingMisses    atomic.Int64
	nonBlockingHits   atomic.Int64
	nonBlockingMisses atomic.Int64
	healthFails       atomic.Int64
	unhealthy         atomic.Bool

	stopHealth context.CancelFunc
	healthDone chan struct{}

	mu     sync.Mutex
	closed bool
}

// New opens both pools and starts the background health loop. The context
// bounds initial connectivity checks only.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Pool, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("dbpool: opening blocking pool: %w", err)
	}
	db.SetMaxOpenConns(cfg.Blocking.MaxConns)
	db.SetMaxIdleConns(cfg.Blocking.MinConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Blocking.ConnectTimeout)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("dbpool: blocking pool ping: %w", err)
	}

	pgxCfg, err := pgxpool.ParseConfig(cfg.PgxDSN())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("dbpool: parsing pgx config: %w", err)
	}
	pgxCfg.MaxConns = int32(cfg.NonBlocking.MaxConns)
	pgxCfg.MinConns = int32(cfg.NonBlocking.MinConns)
	pgxCfg.ConnConfig.ConnectTimeout = cfg.NonBlocking.ConnectTimeout

	pgxPool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("dbpool: opening non-blocking pool: %w", err)
	}

	p := &Pool{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		pgx:        pgxPool,
		healthDone: make(chan struct{}),
	}

	healthCtx, stop := context.WithCancel(context.Background())
	p.stopHealth = stop
	go p.healthLoop(healthCtx)

	logger.Info("Connection pools opened",
		"host", cfg.Host, "database", cfg.Database,
		"blocking_max", cfg.Blocking.MaxConns, "non_blocking_max", cfg.NonBlocking.MaxConns)
	return p, nil
}

// AcquireBlocking leases a connection from the blocking pool. The caller owns
// the handle exclusively and must Close it on every exit path; prefer
// WithBlocking for scoped use.
func (p *Pool) AcquireBlocking(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.Blocking.ConnectTimeout)
	defer cancel()

	conn, err := p.db.Conn(acquireCtx)
	if err != nil {
		p.blockingMisses.Add(1)
		acquiresTotal.WithLabelValues("blocking", "miss").Inc()
		return nil, fmt.Errorf("%w: %w", ErrPoolExhausted, err)
	}
	p.blockingHits.Add(1)
	acquiresTotal.WithLabelValues("blocking", "hit").Inc()
	return conn, nil
}

// AcquireNonBlocking leases a connection from the pgx pool.
func (p *Pool) AcquireNonBlocking(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.NonBlocking.ConnectTimeout)
	defer cancel()

	conn, err := p.pgx.Acquire(acquireCtx)
	if err != nil {
		p.nonBlockingMisses.Add(1)
		acquiresTotal.WithLabelValues("non_blocking", "miss").Inc()
		return nil, fmt.Errorf("%w: %w", ErrPoolExhausted, err)
	}
	p.nonBlockingHits.Add(1)
	acquiresTotal.WithLabelValues("non_blocking", "hit").Inc()
	return conn, nil
}

// WithBlocking runs fn with a scoped blocking connection. The connection is
// returned to the pool on all exit paths, including panics.
func (p *Pool) WithBlocking(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := p.AcquireBlocking(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}

// WithNonBlocking runs fn with a scoped pgx connection.
func (p *Pool) WithNonBlocking(ctx context.Context, fn func(conn *pgxpool.Conn) error) error {
	conn, err := p.AcquireNonBlocking(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(conn)
}

// Pgx exposes the underlying pgx pool for components that manage their own
// transactions (dedup store).
func (p *Pool) Pgx() *pgxpool.Pool { return p.pgx }

// Stats returns the hit/miss/health counters.
func (p *Pool) Stats() Stats {
	return Stats{
		BlockingHits:      p.blockingHits.Load(),
		BlockingMisses:    p.blockingMisses.Load(),
		NonBlockingHits:   p.nonBlockingHits.Load(),
		NonBlockingMisses: p.nonBlockingMisses.Load(),
		HealthFailures:    p.healthFails.Load(),
		Healthy:           !p.unhealthy.Load(),
	}
}

// Healthy reports the result of the most recent health probe.
func (p *Pool) Healthy() bool { return !p.unhealthy.Load() }

// healthLoop probes liveness through the blocking pool at a fixed interval.
// A failed probe raises a warning and flips the health flag; it never
// crashes the process.
func (p *Pool) healthLoop(ctx context.Context) {
	defer close(p.healthDone)

	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.probe(ctx); err != nil {
				p.healthFails.Add(1)
				healthFailures.Inc()
				p.unhealthy.Store(true)
				p.logger.Warn("Database health check failed", "error", err)
			} else {
				p.unhealthy.Store(false)
			}
		}
	}
}

func (p *Pool) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Blocking.ConnectTimeout)
	defer cancel()

	var one int
	if err := p.db.QueryRowContext(probeCtx, "SELECT 1").Scan(&one); err != nil {
		return err
	}
	return nil
}

// Shutdown stops the health loop and closes both pools. Safe to call more
// than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.stopHealth()
	select {
	case <-p.healthDone:
	case <-ctx.Done():
	}

	p.pgx.Close()
	err := p.db.Close()
	p.logger.Info("Connection pools closed")
	return err
}
