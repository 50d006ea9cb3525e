package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"

	"jobretry/internal/adapter/httpapi"
	"jobretry/internal/adapter/maintenance"
	"jobretry/internal/adapter/telegram"
	"jobretry/internal/config"
	"jobretry/internal/event"
	"jobretry/internal/failure"
	"jobretry/internal/job"
	"jobretry/internal/jobs"
	"jobretry/internal/platform/logger"
	"jobretry/internal/plugin"
	"jobretry/internal/retry"
	"jobretry/internal/schedule"
	"jobretry/internal/worker"
)

// purgeSpec runs retention cleanup every 15 minutes (cron with seconds).
const purgeSpec = "0 */15 * * * *"

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "jobretry",
	})
	return &App{cfg: cfg, log: log}, nil
}

// Run starts the worker and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	defer func() { _ = logger.Close(a.log) }()
	a.log.Info("starting", slog.String("store", a.cfg.Store.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, release, err := openBackend(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer release()

	classes := job.NewRegistry()
	jobs.Register(classes, a.log)

	attempts := retry.NewAttemptStore(backend)
	scheduler := schedule.New(backend)
	engine := retry.NewEngine(attempts, scheduler, retry.Options{
		MaxDelay: a.cfg.Retry.MaxDelay,
		Logger:   a.log,
	})

	plugins := plugin.NewRegistry(classes, a.log)
	plugins.Register(retry.Fixed{}.Name(), func() any { return engine.Plugin(retry.Fixed{}) })
	plugins.Register(retry.Staged{}.Name(), func() any { return engine.Plugin(retry.Staged{}) })
	for class, unknown := range plugins.Validate() {
		a.log.Warn("job class declares unknown plugins", slog.String("class", class), slog.Any("plugins", unknown))
	}

	bus := event.NewBus()
	plugin.NewDispatcher(plugins).Attach(bus)

	reporters := failure.Fanout{backend, failure.NewLogReporter(a.log)}
	tg, err := a.telegramBot(backend, attempts)
	if err != nil {
		return err
	}
	if tg != nil {
		reporters = append(reporters, telegram.NewAlerter(tg, a.cfg.Telegram.AlertChatID, a.cfg.Telegram.AlertsPerMinute, a.log))
	}

	w := worker.New(worker.Config{Bus: bus, Reporter: reporters, Logger: a.log})

	// Jobs in flight finish after shutdown starts, so the pool does not share
	// the signal context.
	poolCtx, cancelPool := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelPool()
	pool := worker.NewPool(poolCtx, w, classes, a.cfg.Worker.Concurrency, 64, a.log)
	defer pool.Close()

	runner, err := a.maintenance(backend, pool)
	if err != nil {
		return err
	}

	srv := httpapi.NewServer(ctx, a.cfg.HTTP.Addr, httpapi.Deps{
		Store:      backend,
		Classes:    classes,
		Scheduler:  scheduler,
		Dispatcher: pool,
		Attempts:   attempts,
		Failures:   backend,
		Logger:     a.log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return runner.Run(gctx) })
	if tg != nil && a.cfg.Telegram.AdminIDs != "" {
		g.Go(func() error { return telegram.Run(gctx, tg) })
	}

	err = g.Wait()
	a.log.Info("stopping, draining worker pool")
	pool.Close()
	a.log.Info("stopped")
	return err
}

// telegramBot returns nil when no bot token is configured.
func (a *App) telegramBot(backend Backend, attempts *retry.AttemptStore) (*bot.Bot, error) {
	if a.cfg.Telegram.Token == "" {
		return nil, nil
	}
	var h telegram.HandlerFunc
	if ids := telegram.ParseAllowedIDs(a.cfg.Telegram.AdminIDs); len(ids) > 0 {
		cmds := telegram.NewCommands(backend, attempts, backend)
		h = telegram.Chain(cmds.Handle, telegram.NewACL(ids).Middleware)
	}
	b, err := telegram.NewBot(a.cfg.Telegram.Token, h, a.log)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return b, nil
}

func (a *App) maintenance(backend Backend, pool *worker.Pool) (*maintenance.Runner, error) {
	runner := maintenance.New(a.log)

	poller := schedule.NewPoller(backend, pool.Dispatch, schedule.PollerOptions{
		Batch:  a.cfg.Poll.Batch,
		Logger: a.log,
	})
	if err := runner.Every("delayed-poller", a.cfg.Poll.Interval, poller.Run, maintenance.Options{}); err != nil {
		return nil, err
	}

	if retention := a.cfg.Failure.Retention; retention > 0 {
		purge := func(ctx context.Context) error {
			n, err := backend.Purge(ctx, time.Now().Add(-retention))
			if err != nil {
				return err
			}
			if n > 0 {
				a.log.Info("purged failure records", slog.Int("count", n))
			}
			return nil
		}
		if err := runner.Cron("purge-failures", purgeSpec, purge, maintenance.Options{Timeout: time.Minute}); err != nil {
			return nil, err
		}
	}
	return runner, nil
}
