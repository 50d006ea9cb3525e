// Package maintenance запускает фоновые задачи воркера: опрос отложенных
// повторов по интервалу и очистку журнала сбоев по cron-расписанию.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskFunc - одна итерация фоновой задачи.
type TaskFunc func(ctx context.Context) error

// Options задачи.
type Options struct {
	// Timeout - ограничение на одну итерацию (необязательно).
	Timeout time.Duration
}

// Stats - счётчики выполнения одной задачи.
type Stats struct {
	Runs     int64
	Failures int64
	Skipped  int64
	LastErr  error
	LastRun  time.Time
}

type task struct {
	name    string
	fn      TaskFunc
	opts    Options
	running sync.Mutex

	mu    sync.Mutex
	stats Stats
}

// Runner владеет задачами и их жизненным циклом. Итерации одной задачи
// никогда не перекрываются: пока идёт предыдущая, следующая пропускается.
type Runner struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	tickers []ticker
	started bool
	runCtx  context.Context
	wg      sync.WaitGroup
}

type ticker struct {
	interval time.Duration
	task     *task
}

// New создает Runner.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "maintenance")
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger{logger: logger}),
		),
		logger: logger,
		tasks:  make(map[string]*task),
	}
}

// Every регистрирует задачу с фиксированным интервалом. Регистрация
// возможна только до Run.
func (r *Runner) Every(name string, interval time.Duration, fn TaskFunc, opts Options) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive, got %s", name, interval)
	}
	t, err := r.add(name, fn, opts)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.tickers = append(r.tickers, ticker{interval: interval, task: t})
	r.mu.Unlock()
	r.logger.Info("ticker task added", "name", name, "interval", interval)
	return nil
}

// Cron регистрирует задачу по расписанию с секундами, например
// "0 */10 * * * *" или "@hourly".
func (r *Runner) Cron(name, spec string, fn TaskFunc, opts Options) error {
	t, err := r.add(name, fn, opts)
	if err != nil {
		return err
	}
	// Контекст итераций cron берётся из Run.
	if _, err := r.cron.AddFunc(spec, func() { r.run(r.cronCtx(), t) }); err != nil {
		r.mu.Lock()
		delete(r.tasks, name)
		r.mu.Unlock()
		return fmt.Errorf("task %s: invalid schedule %q: %w", name, spec, err)
	}
	r.logger.Info("cron task added", "name", name, "schedule", spec)
	return nil
}

func (r *Runner) add(name string, fn TaskFunc, opts Options) (*task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil, fmt.Errorf("task %s: runner already started", name)
	}
	if _, dup := r.tasks[name]; dup {
		return nil, fmt.Errorf("task %s: already registered", name)
	}
	t := &task{name: name, fn: fn, opts: opts}
	r.tasks[name] = t
	return t, nil
}

// Run запускает все задачи и блокируется до отмены ctx, затем ждёт
// завершения текущих итераций.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runner already started")
	}
	r.started = true
	r.runCtx = ctx
	tickers := append([]ticker(nil), r.tickers...)
	count := len(r.tasks)
	r.mu.Unlock()

	r.logger.Info("starting maintenance", "tasks", count)
	r.cron.Start()
	for _, tk := range tickers {
		r.wg.Add(1)
		go r.loop(ctx, tk)
	}

	<-ctx.Done()
	stopped := r.cron.Stop()
	<-stopped.Done()
	r.wg.Wait()
	r.logger.Info("maintenance stopped")
	return nil
}

// RunOnce выполняет задачу немедленно, вне расписания.
func (r *Runner) RunOnce(ctx context.Context, name string) error {
	r.mu.Lock()
	t, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s: not registered", name)
	}
	return r.run(ctx, t)
}

// Stats возвращает копию счётчиков задачи.
func (r *Runner) Stats(name string) (Stats, bool) {
	r.mu.Lock()
	t, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats, true
}

func (r *Runner) loop(ctx context.Context, tk ticker) {
	defer r.wg.Done()
	tc := time.NewTicker(tk.interval)
	defer tc.Stop()
	for {
		select {
		case <-tc.C:
			_ = r.run(ctx, tk.task)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) cronCtx() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runCtx == nil {
		return context.Background()
	}
	return r.runCtx
}

// run выполняет одну итерацию с защитой от перекрытия и паники.
func (r *Runner) run(ctx context.Context, t *task) (err error) {
	if !t.running.TryLock() {
		t.mu.Lock()
		t.stats.Skipped++
		t.mu.Unlock()
		r.logger.Debug("skipping task, previous run still active", "name", t.name)
		return nil
	}
	defer t.running.Unlock()

	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("task panicked", "name", t.name, "panic", p)
			err = fmt.Errorf("task %s panicked: %v", t.name, p)
		}

		t.mu.Lock()
		t.stats.Runs++
		t.stats.LastRun = start
		t.stats.LastErr = err
		if err != nil {
			t.stats.Failures++
		}
		t.mu.Unlock()

		if err != nil {
			r.logger.Error("task failed", "name", t.name, "error", err, "duration", time.Since(start))
		} else {
			r.logger.Debug("task done", "name", t.name, "duration", time.Since(start))
		}
	}()

	return t.fn(ctx)
}

// cronLogger подключает логгер cron к slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
