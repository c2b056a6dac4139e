// Package watcher runs the per-rule condition state machine.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/reactor/internal/automation/metrics"
	"github.com/vietddude/reactor/internal/automation/retry"
	"github.com/vietddude/reactor/internal/core/domain"
	"github.com/vietddude/reactor/internal/infra/chain"
	"github.com/vietddude/reactor/internal/infra/chain/evm"
)

// Executor submits the action of a satisfied rule.
type Executor interface {
	Execute(ctx context.Context, rule domain.Rule, observed domain.StateSnapshot) (common.Hash, error)
}

// Gateway is the chain access a watcher needs.
type Gateway interface {
	chain.Reader
	chain.Subscriber
}

// Config holds watcher settings shared by every rule.
type Config struct {
	Mode         domain.ExecutionMode
	Trigger      domain.TriggerMode
	TriggerEvent string
	PollInterval time.Duration
	CheckTimeout time.Duration
	Backoff      *retry.ExponentialBackoff
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = domain.ModeOneShot
	}
	if c.Trigger == "" {
		c.Trigger = domain.TriggerEvent
	}
	if c.TriggerEvent == "" {
		c.TriggerEvent = "Transfer(address,address,uint256)"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 30 * time.Second
	}
	if c.Backoff == nil {
		c.Backoff = retry.Forever(time.Second, 30*time.Second)
	}
}

// Watcher drives one rule through Armed -> Checking -> {Satisfied, Armed}.
// All state lives on the goroutine running Run, so at most one execution is
// in flight per rule.
type Watcher struct {
	rule   domain.Rule
	cfg    Config
	gw     Gateway
	exec   Executor
	logger *slog.Logger

	state atomic.Value // domain.RuleState
	// lastSatisfied is the previous check outcome, used for edge triggering
	// in recurring mode.
	lastSatisfied bool
	checks        atomic.Int64
}

func New(rule domain.Rule, cfg Config, gw Gateway, exec Executor) *Watcher {
	cfg.applyDefaults()
	w := &Watcher{
		rule: rule,
		cfg:  cfg,
		gw:   gw,
		exec: exec,
		logger: slog.Default().With(
			"component", "watcher",
			"rule_id", rule.ID,
			"trigger", rule.Trigger.Hex(),
		),
	}
	w.state.Store(domain.RuleStateDiscovered)
	return w
}

// State returns the current state.
func (w *Watcher) State() domain.RuleState {
	return w.state.Load().(domain.RuleState)
}

// Checks returns the number of completed condition checks.
func (w *Watcher) Checks() int64 {
	return w.checks.Load()
}

// Rule returns the watched rule.
func (w *Watcher) Rule() domain.Rule {
	return w.rule
}

// Run watches until the rule reaches a terminal state or ctx is cancelled.
// It returns the final state; a non-nil error is engine-fatal.
func (w *Watcher) Run(ctx context.Context) (domain.RuleState, error) {
	metrics.ActiveWatchers.Inc()
	defer metrics.ActiveWatchers.Dec()

	w.transition(domain.RuleStateArmed, "watching")
	w.logger.Info("Rule armed", "mode", w.cfg.Mode, "trigger_mode", w.cfg.Trigger, "condition", w.rule.Condition.String())

	var (
		final domain.RuleState
		err   error
	)
	if w.cfg.Trigger == domain.TriggerPoll {
		final, err = w.poll(ctx)
	} else {
		final, err = w.listen(ctx)
	}

	if final == domain.RuleStateCancelled {
		w.transition(domain.RuleStateCancelled, "stopped")
		w.logger.Info("Watcher cancelled")
	}
	return final, err
}

// listen wakes on trigger events, re-subscribing with backoff when the
// gateway gives up on a stream.
func (w *Watcher) listen(ctx context.Context) (domain.RuleState, error) {
	filter := domain.EventFilter{
		Addresses: []common.Address{w.rule.Trigger},
		Topics:    [][]common.Hash{{evm.EventTopic(w.cfg.TriggerEvent)}},
	}

	attempt := 0
	for {
		sub, err := w.gw.SubscribeEvents(ctx, filter)
		switch {
		case errors.Is(err, domain.ErrSubscriptionUnsupported):
			w.logger.Warn("Trigger subscription unsupported, polling instead", "interval", w.cfg.PollInterval)
			return w.poll(ctx)
		case err == nil:
			attempt = 0
			var (
				final domain.RuleState
				done  bool
			)
			final, done, err = w.consume(ctx, sub)
			sub.Unsubscribe()
			if done {
				return final, err
			}
		}
		if ctx.Err() != nil {
			return domain.RuleStateCancelled, nil
		}

		delay := w.cfg.Backoff.GetDelay(attempt)
		attempt++
		metrics.Resubscribes.Inc()
		w.logger.Warn("Trigger stream lost, re-subscribing", "error", err, "attempt", attempt, "retry_in", delay)
		if !retry.Sleep(ctx, delay) {
			return domain.RuleStateCancelled, nil
		}
	}
}

// consume checks the condition once per wake signal. done reports that the
// watcher reached a final state; otherwise err is the stream failure.
func (w *Watcher) consume(ctx context.Context, sub chain.Subscription) (domain.RuleState, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return domain.RuleStateCancelled, true, nil
		case err := <-sub.Err():
			return "", false, err
		case batch, ok := <-sub.Batches():
			if !ok {
				select {
				case err := <-sub.Err():
					return "", false, err
				default:
					return "", false, errors.New("trigger stream closed")
				}
			}
			if !hasLiveLog(batch) {
				continue
			}
			// Queued wake signals collapse into this check; the read is
			// authoritative, the events are not.
			drain(sub)

			if final, done, err := w.check(ctx); done {
				return final, true, err
			}
		}
	}
}

func (w *Watcher) poll(ctx context.Context) (domain.RuleState, error) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if final, done, err := w.check(ctx); done {
			return final, err
		}
		select {
		case <-ctx.Done():
			return domain.RuleStateCancelled, nil
		case <-ticker.C:
		}
	}
}

// check runs one Checking step. done reports a final state.
func (w *Watcher) check(ctx context.Context) (domain.RuleState, bool, error) {
	if ctx.Err() != nil {
		return domain.RuleStateCancelled, true, nil
	}
	w.transition(domain.RuleStateChecking, "wake")

	readCtx, cancel := context.WithTimeout(ctx, w.cfg.CheckTimeout)
	snap, err := w.gw.ReadState(readCtx, w.rule.Trigger, w.rule.Condition.Query)
	cancel()
	w.checks.Add(1)
	if err != nil {
		if ctx.Err() != nil {
			return domain.RuleStateCancelled, true, nil
		}
		metrics.ConditionChecks.WithLabelValues("error").Inc()
		w.logger.Warn("Condition check failed", "error", err)
		w.transition(domain.RuleStateArmed, "read failed")
		return "", false, nil
	}

	satisfied, err := w.rule.Condition.Evaluate(snap.Value)
	if err != nil {
		metrics.ConditionChecks.WithLabelValues("error").Inc()
		w.logger.Warn("Condition evaluation failed", "error", err, "observed", snap.Value.String())
		w.transition(domain.RuleStateArmed, "evaluation failed")
		return "", false, nil
	}

	w.logger.Info("Condition checked",
		"observed", snap.Value.String(),
		"threshold", w.rule.Condition.Threshold.String(),
		"op", w.rule.Condition.Op.String(),
		"block", snap.BlockNumber,
		"satisfied", satisfied,
	)

	rising := satisfied && !w.lastSatisfied
	w.lastSatisfied = satisfied
	if !satisfied || (w.cfg.Mode == domain.ModeRecurring && !rising) {
		metrics.ConditionChecks.WithLabelValues("not_satisfied").Inc()
		w.transition(domain.RuleStateArmed, "not satisfied")
		return "", false, nil
	}
	metrics.ConditionChecks.WithLabelValues("satisfied").Inc()
	w.transition(domain.RuleStateSatisfied, "condition holds")

	return w.execute(ctx, *snap)
}

func (w *Watcher) execute(ctx context.Context, snap domain.StateSnapshot) (domain.RuleState, bool, error) {
	// A cancellation observed here wins over the pending execution.
	if ctx.Err() != nil {
		return domain.RuleStateCancelled, true, nil
	}
	w.transition(domain.RuleStateExecuting, "submitting")

	tx, err := w.exec.Execute(ctx, w.rule, snap)
	switch {
	case err == nil:
		w.transition(domain.RuleStateExecuted, "submitted")
		w.logger.Info("Rule executed", "tx", tx.Hex(), "observed", snap.Value.String(), "block", snap.BlockNumber)
	case errors.Is(err, domain.ErrClaimed):
		w.transition(domain.RuleStateExecuted, "claimed elsewhere")
		w.logger.Info("Rule executed by another replica", "block", snap.BlockNumber)
	default:
		w.transition(domain.RuleStateFailed, err.Error())
		w.logger.Error("Execution failed", "error", err)
		if domain.IsFatal(err) {
			return domain.RuleStateFailed, true, fmt.Errorf("rule %s: %w", w.rule.ID, err)
		}
	}

	final := w.State()
	if final.IsTerminal(w.cfg.Mode) {
		return final, true, nil
	}
	if final == domain.RuleStateFailed {
		// Allow the next satisfied check to fire again.
		w.lastSatisfied = false
	}
	w.transition(domain.RuleStateArmed, "recurring")
	return "", false, nil
}

func (w *Watcher) transition(to domain.RuleState, reason string) {
	from := w.State()
	t := domain.NewTransition(w.rule.ID, from, to, reason)
	if !t.IsValid() {
		w.logger.Error("Invalid rule transition", "from", from, "to", to, "error", domain.ErrInvalidTransition)
		return
	}
	w.state.Store(to)
	w.logger.Debug("Rule transition", "from", from, "to", to, "reason", reason)
}

func hasLiveLog(b domain.EventBatch) bool {
	for _, l := range b.Logs {
		if !l.Removed {
			return true
		}
	}
	return false
}

// drain discards wake signals already queued on sub.
func drain(sub chain.Subscription) {
	for {
		select {
		case _, ok := <-sub.Batches():
			if !ok {
				return
			}
		default:
			return
		}
	}
}
