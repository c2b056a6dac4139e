// Package control supervises the discovery and watcher goroutines of the engine.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vietddude/reactor/internal/automation/discovery"
	"github.com/vietddude/reactor/internal/automation/metrics"
	"github.com/vietddude/reactor/internal/automation/store"
	"github.com/vietddude/reactor/internal/automation/watcher"
	"github.com/vietddude/reactor/internal/core/domain"
	"github.com/vietddude/reactor/internal/infra/chain"
)

var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrNotStarted     = errors.New("engine not started")
)

// Config holds the settings handed to discovery and to every watcher.
type Config struct {
	Discovery discovery.Config
	Watcher   watcher.Config
}

// Engine owns the rule store, the discovery loop and one watcher per rule.
// It halts on the first engine-fatal error.
type Engine struct {
	cfg   Config
	gw    chain.Gateway
	exec  watcher.Executor
	store *store.Store
	log   *slog.Logger

	mu       sync.Mutex
	started  bool
	stopping bool
	cancel   context.CancelFunc
	watchers map[domain.RuleID]*watcher.Watcher
	err      error

	wg    sync.WaitGroup
	fatal chan error
	once  sync.Once
}

// NewEngine wires an engine. Recurring rules may execute many times, so the
// executed event is never used to retire them.
func NewEngine(cfg Config, gw chain.Gateway, exec watcher.Executor) *Engine {
	if cfg.Watcher.Mode == domain.ModeRecurring {
		cfg.Discovery.ExecutedEvent = ""
	}
	return &Engine{
		cfg:      cfg,
		gw:       gw,
		exec:     exec,
		store:    store.New(),
		log:      slog.Default().With("component", "engine"),
		watchers: make(map[domain.RuleID]*watcher.Watcher),
		fatal:    make(chan error, 1),
	}
}

// Start launches discovery and returns immediately. Watchers are spawned as
// rules are discovered.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	e.started = true
	e.cancel = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	disc := discovery.New(e.cfg.Discovery, e.gw, e.store, func(rule domain.Rule) {
		e.spawn(ctx, rule)
	})

	e.log.Info("Engine started",
		"registry", e.cfg.Discovery.Registry.Hex(),
		"executor", e.cfg.Discovery.Executor.Hex(),
		"mode", e.cfg.Watcher.Mode,
		"trigger", e.cfg.Watcher.Trigger,
	)

	go func() {
		defer e.wg.Done()
		if err := disc.Run(ctx); err != nil && ctx.Err() == nil {
			e.halt(fmt.Errorf("discovery: %w", err))
		}
	}()
	return nil
}

// Stop cancels discovery and every watcher and waits for them to exit. No
// execution starts after Stop returns.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if e.stopping {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	cancel := e.cancel
	e.mu.Unlock()

	e.log.Info("Stopping engine...")
	cancel()
	cancelled := e.store.CancelAll()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("Engine stopped", "watchers_cancelled", cancelled)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine stop: %w", ctx.Err())
	}
}

// Fatal delivers the error that halted the engine. It fires at most once.
func (e *Engine) Fatal() <-chan error {
	return e.fatal
}

// Err returns the error that halted the engine, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Running reports whether the engine is started, not stopping and not halted.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.stopping && e.err == nil
}

// ActiveRules returns the number of rules in the store.
func (e *Engine) ActiveRules() int {
	return e.store.Len()
}

// Watchers returns the number of running watchers.
func (e *Engine) Watchers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.watchers)
}

// Rules returns the active rules ordered by id.
func (e *Engine) Rules() []domain.Rule {
	return e.store.Snapshot()
}

// spawn starts the watcher of a freshly registered rule.
func (e *Engine) spawn(ctx context.Context, rule domain.Rule) {
	e.mu.Lock()
	if e.stopping || e.err != nil || ctx.Err() != nil {
		e.mu.Unlock()
		e.store.Remove(rule.ID)
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	if !e.store.Bind(rule.ID, cancel) {
		// Retired between registration and spawn.
		e.mu.Unlock()
		cancel()
		return
	}
	w := watcher.New(rule, e.cfg.Watcher, e.gw, e.exec)
	e.watchers[rule.ID] = w
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer cancel()

		final, err := w.Run(wctx)

		e.mu.Lock()
		delete(e.watchers, rule.ID)
		e.mu.Unlock()

		if err != nil {
			// The watcher already names the rule.
			e.halt(err)
			return
		}
		switch final {
		case domain.RuleStateExecuted, domain.RuleStateFailed:
			e.store.Retire(rule.ID)
			metrics.RulesFinished.WithLabelValues(string(final)).Inc()
			e.log.Info("Rule finished", "rule_id", rule.ID, "state", final, "checks", w.Checks())
		}
	}()
}

// halt records a fatal error and tears the engine down.
func (e *Engine) halt(err error) {
	e.once.Do(func() {
		e.mu.Lock()
		e.err = err
		cancel := e.cancel
		e.mu.Unlock()

		e.log.Error("Engine halted", "error", err)
		e.fatal <- err
		cancel()
		e.store.CancelAll()
	})
}
