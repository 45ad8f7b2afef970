// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package dbpool

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{Host: "localhost", Database: "wf"}
	cfg.applyDefaults()

	require.Equal(t, 5432, cfg.Port)
	require.Equal(t, "disable", cfg.SSLMode)
	require.Equal(t, "weather-flick-batch", cfg.AppName)
	require.Equal(t, 5, cfg.Blocking.MaxConns)
	require.Equal(t, 10, cfg.NonBlocking.MaxConns)
	require.Equal(t, 10*time.Second, cfg.Blocking.ConnectTimeout)
	require.Equal(t, 30*time.Second, cfg.HealthInterval)
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{
		Host:     "db.internal",
		Port:     5433,
		User:     "wf",
		Password: "pw",
		Database: "weather",
		SSLMode:  "require",
		AppName:  "wfb",
		Blocking: ModeConfig{ConnectTimeout: 7 * time.Second},
	}

	require.Equal(t,
		"host=db.internal port=5433 user=wf password=pw dbname=weather sslmode=require application_name=wfb connect_timeout=7",
		cfg.DSN())
	require.Equal(t,
		"postgres://wf:pw@db.internal:5433/weather?sslmode=require&application_name=wfb",
		cfg.PgxDSN())
}

// stubDriver hands out inert connections so blocking-pool semantics can be
// exercised without a server. Every query fails at Prepare, which is exactly
// what the health-probe failure test needs.
type stubDriver struct{}

func (stubDriver) Open(string) (driver.Conn, error) { return stubConn{}, nil }

type stubConn struct{}

func (stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("stub: no server") }
func (stubConn) Close() error                        { return nil }
func (stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("stub: no server") }

var registerStub sync.Once

func newBlockingTestPool(t *testing.T, maxConns int, acquireTimeout time.Duration, logger *slog.Logger) *Pool {
	t.Helper()
	registerStub.Do(func() { sql.Register("dbpool_stub", stubDriver{}) })

	db, err := sql.Open("dbpool_stub", "")
	require.NoError(t, err)
	db.SetMaxOpenConns(maxConns)
	t.Cleanup(func() { db.Close() })

	cfg := Config{Host: "localhost", Database: "wf"}
	cfg.applyDefaults()
	cfg.Blocking.MaxConns = maxConns
	cfg.Blocking.ConnectTimeout = acquireTimeout
	cfg.HealthInterval = 10 * time.Millisecond

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	}
	return &Pool{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		healthDone: make(chan struct{}),
	}
}

func TestAcquireBlocking_SecondAcquirerBlocksUntilRelease(t *testing.T) {
	p := newBlockingTestPool(t, 1, 2*time.Second, nil)
	ctx := context.Background()

	held, err := p.AcquireBlocking(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, p.db.Stats().InUse)

	acquired := make(chan error, 1)
	go func() {
		conn, err := p.AcquireBlocking(ctx)
		if err == nil {
			conn.Close()
		}
		acquired <- err
	}()

	select {
	case err := <-acquired:
		t.Fatalf("second acquirer must block while the pool is at capacity, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, held.Close())
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second acquirer did not unblock after release")
	}

	// Both handles are back: the pool is at its pre-acquisition state.
	require.Equal(t, 0, p.db.Stats().InUse)
	require.Equal(t, int64(2), p.Stats().BlockingHits)
	require.Zero(t, p.Stats().BlockingMisses)
}

func TestAcquireBlocking_ExhaustionIsATypedError(t *testing.T) {
	p := newBlockingTestPool(t, 1, 30*time.Millisecond, nil)
	ctx := context.Background()

	held, err := p.AcquireBlocking(ctx)
	require.NoError(t, err)
	defer held.Close()

	_, err = p.AcquireBlocking(ctx)
	require.ErrorIs(t, err, ErrPoolExhausted)
	require.Equal(t, int64(1), p.Stats().BlockingMisses)
}

func TestWithBlocking_ReleasesOnError(t *testing.T) {
	p := newBlockingTestPool(t, 1, time.Second, nil)
	ctx := context.Background()

	boom := errors.New("query failed")
	err := p.WithBlocking(ctx, func(conn *sql.Conn) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, p.db.Stats().InUse)

	// The handle went back: the next scoped use acquires immediately.
	require.NoError(t, p.WithBlocking(ctx, func(conn *sql.Conn) error { return nil }))
}

func TestHealthLoop_WarnsAndKeepsRunningOnProbeFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p := newBlockingTestPool(t, 1, time.Second, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go p.healthLoop(ctx)

	// Every probe fails against the stub driver; the loop must keep ticking.
	require.Eventually(t, func() bool {
		return p.Stats().HealthFailures >= 2
	}, time.Second, 5*time.Millisecond)
	require.False(t, p.Healthy())
	require.Contains(t, buf.String(), "Database health check failed")

	cancel()
	select {
	case <-p.healthDone:
	case <-time.After(time.Second):
		t.Fatal("health loop did not stop on cancellation")
	}
}
