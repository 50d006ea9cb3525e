package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// RetryConfig задаёт повторы транзакции при SQLITE_BUSY.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig возвращает настройки повторов по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// TxRunner выполняет функции внутри транзакции с гарантированным
// коммитом или откатом.
type TxRunner struct {
	DB    *sql.DB
	Retry RetryConfig
}

// NewTxRunner создает TxRunner с настройками повторов по умолчанию.
func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{DB: db, Retry: DefaultRetryConfig()}
}

// WithinTx выполняет fn в транзакции. Ошибка fn откатывает транзакцию.
// При SQLITE_BUSY вся транзакция повторяется с экспоненциальной задержкой.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	attempts := r.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := r.Retry.InitialDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = r.runOnce(ctx, fn)
		if err == nil || attempt == attempts || !IsBusy(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * r.Retry.Multiplier)
		if r.Retry.MaxDelay > 0 && delay > r.Retry.MaxDelay {
			delay = r.Retry.MaxDelay
		}
	}
	return err
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// IsBusy проверяет, является ли ошибка блокировкой БД.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "SQLITE_BUSY") ||
		strings.Contains(s, "database table is locked")
}
