package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Env  string `validate:"required,oneof=dev prod"`
	HTTP struct {
		Addr string `validate:"required"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
	Store struct {
		Driver        string `validate:"required,oneof=memory sqlite postgres redis"`
		SQLitePath    string `validate:"required_if=Driver sqlite"`
		PostgresDSN   string `validate:"required_if=Driver postgres"`
		RedisAddr     string `validate:"required_if=Driver redis"`
		RedisPassword string
		RedisDB       int `validate:"min=0,max=15"`
	}
	Worker struct {
		Concurrency int `validate:"min=1,max=1024"`
	}
	Poll struct {
		Interval time.Duration `validate:"min=10ms"`
		Batch    int           `validate:"min=1,max=10000"`
	}
	Retry struct {
		// MaxDelay caps computed retry delays; 0 disables the cap.
		MaxDelay time.Duration `validate:"min=0"`
	}
	Failure struct {
		Retention time.Duration `validate:"min=0"`
	}
	Telegram struct {
		Token           string
		AlertChatID     int64 `validate:"required_with=Token"`
		AlertsPerMinute int   `validate:"min=1"`
		AdminIDs        string
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds and validates the configuration from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{get: getenv}

	var c Config
	c.Env = p.str("ENV", "prod")
	c.HTTP.Addr = p.str("HTTP_ADDR", ":8080")
	c.Log.ConsoleLevel = strings.ToLower(p.str("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(p.str("LOG_FILE_LEVEL", "debug"))
	c.Log.File = p.str("LOG_FILE", "data/logs/jobretry.log")

	c.Store.Driver = strings.ToLower(p.str("STORE_DRIVER", "memory"))
	c.Store.SQLitePath = p.str("SQLITE_PATH", "")
	c.Store.PostgresDSN = p.str("POSTGRES_DSN", "")
	c.Store.RedisAddr = p.str("REDIS_ADDR", "")
	c.Store.RedisPassword = p.str("REDIS_PASSWORD", "")
	c.Store.RedisDB = p.int("REDIS_DB", 0)

	c.Worker.Concurrency = p.int("WORKER_CONCURRENCY", 8)
	c.Poll.Interval = p.duration("POLL_INTERVAL", time.Second)
	c.Poll.Batch = p.int("POLL_BATCH", 100)
	c.Retry.MaxDelay = p.duration("RETRY_MAX_DELAY", 0)
	c.Failure.Retention = p.duration("FAILURE_RETENTION", 7*24*time.Hour)

	c.Telegram.Token = p.str("TELEGRAM_BOT_TOKEN", "")
	c.Telegram.AlertChatID = p.int64("TELEGRAM_ALERT_CHAT_ID", 0)
	c.Telegram.AlertsPerMinute = p.int("TELEGRAM_ALERTS_PER_MINUTE", 20)
	c.Telegram.AdminIDs = p.str("TELEGRAM_ADMIN_IDS", "")

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// parser collects conversion errors so all bad keys are reported at once.
type parser struct {
	get  func(string) string
	errs []error
}

func (p *parser) str(k, def string) string {
	if v := strings.TrimSpace(p.get(k)); v != "" {
		return v
	}
	return def
}

func (p *parser) int(k string, def int) int {
	v := p.str(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func (p *parser) int64(k string, def int64) int64 {
	v := p.str(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func (p *parser) duration(k string, def time.Duration) time.Duration {
	v := p.str(k, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}
