package storage

import (
	"context"
	"database/sql"
	"math"
	"math/rand"
	"time"

	"github.com/cogmem/engine/internal/config"
	"github.com/cogmem/engine/internal/engerr"
)

// Pool is a bounded pool of reusable database handles layered over
// database/sql's native pooling. It adds an explicit checkout semaphore so
// exhaustion surfaces as engerr.PoolExhausted (spec.md §4.1) rather than
// blocking forever, and an exponential-backoff retry policy for opening
// the underlying connection.
type Pool struct {
	db     *sql.DB
	tokens chan struct{}
	cfg    config.PoolConfig
}

func newPool(ctx context.Context, dsn string, cfg config.PoolConfig) (*Pool, error) {
	if cfg.Max <= 0 {
		cfg.Max = 8
	}
	if cfg.Min < 0 {
		cfg.Min = 0
	}

	db, err := openWithRetry(ctx, dsn, cfg.Retry)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Max)
	db.SetMaxIdleConns(max(cfg.Min, 1))
	if cfg.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(cfg.IdleTimeout)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	return &Pool{
		db:     db,
		tokens: make(chan struct{}, cfg.Max),
		cfg:    cfg,
	}, nil
}

func openWithRetry(ctx context.Context, dsn string, retry config.RetryPolicy) (*sql.DB, error) {
	attempts := retry.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := retry.InitialBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	maxBackoff := retry.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Second
	}
	multiplier := retry.Multiplier
	if multiplier <= 1 {
		multiplier = 2.0
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		db, err := sql.Open("sqlite3", dsn)
		if err == nil {
			if pingErr := db.PingContext(ctx); pingErr == nil {
				return db, nil
			} else {
				lastErr = pingErr
				db.Close()
			}
		} else {
			lastErr = err
		}

		if attempt == attempts-1 {
			break
		}

		wait := time.Duration(math.Min(float64(maxBackoff), float64(backoff)*math.Pow(multiplier, float64(attempt))))
		jitter := time.Duration(rand.Int63n(int64(wait)/4 + 1))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait + jitter):
		}
	}
	return nil, lastErr
}

// Checkout blocks until a slot is available or the pool's connect_timeout
// elapses, returning engerr.PoolExhausted on timeout.
func (p *Pool) Checkout(ctx context.Context) (func(), error) {
	timeout := p.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case p.tokens <- struct{}{}:
		return func() { <-p.tokens }, nil
	case <-cctx.Done():
		return nil, &engerr.PoolExhausted{}
	}
}

// Close drains in-flight operations within shutdown_grace_period before
// forcing the underlying *sql.DB closed.
func (p *Pool) Close() error {
	grace := p.cfg.ShutdownGracePeriod
	if grace <= 0 {
		grace = 2 * time.Second
	}

	done := make(chan struct{})
	go func() {
		for len(p.tokens) > 0 {
			time.Sleep(10 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
	}
	return p.db.Close()
}
