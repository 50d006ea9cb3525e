package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WaitStrategy определяет рост задержки между попытками подключения.
type WaitStrategy int

const (
	// LinearWait - задержка растёт на InitialInterval
	LinearWait WaitStrategy = iota
	// ExponentialWait - задержка удваивается
	ExponentialWait
)

// HealthCheckOptions содержит опции ожидания БД.
type HealthCheckOptions struct {
	// MaxRetries - 0 означает ждать до отмены контекста
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Strategy        WaitStrategy
	PingTimeout     time.Duration
}

// DefaultHealthCheckOptions возвращает опции по умолчанию.
func DefaultHealthCheckOptions() HealthCheckOptions {
	return HealthCheckOptions{
		MaxRetries:      10,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Strategy:        ExponentialWait,
		PingTimeout:     5 * time.Second,
	}
}

// Pinger - всё, что умеет проверять соединение. *pgxpool.Pool подходит.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WaitForPool ждёт, пока пул начнёт отвечать на ping. Используется при
// старте воркера, когда БД поднимается вместе с ним.
func WaitForPool(ctx context.Context, p Pinger, opts HealthCheckOptions) error {
	return waitFor(ctx, opts, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
		defer cancel()
		return p.Ping(pingCtx)
	})
}

func waitFor(ctx context.Context, opts HealthCheckOptions, ping func(context.Context) error) error {
	attempt := 0
	interval := opts.InitialInterval

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled while waiting for database: %w", err)
		}

		attempt++
		err := ping(ctx)
		if err == nil {
			return nil
		}

		if opts.MaxRetries > 0 && attempt >= opts.MaxRetries {
			return fmt.Errorf("database not available after %d attempts: %w", attempt, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(interval):
		}
		interval = nextInterval(interval, opts)
	}
}

// HealthCheckPool проверяет пул простым запросом.
func HealthCheckPool(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("pool is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var one int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("simple query failed: %w", err)
	}
	if one != 1 {
		return fmt.Errorf("unexpected query result: got %d, want 1", one)
	}
	return nil
}

func nextInterval(current time.Duration, opts HealthCheckOptions) time.Duration {
	var next time.Duration
	switch opts.Strategy {
	case LinearWait:
		next = current + opts.InitialInterval
	case ExponentialWait:
		next = current * 2
	default:
		return opts.InitialInterval
	}
	if opts.MaxInterval > 0 && next > opts.MaxInterval {
		return opts.MaxInterval
	}
	return next
}
