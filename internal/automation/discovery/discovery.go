// Package discovery replays rule registrations from chain history and then
// follows new ones.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/reactor/internal/automation/metrics"
	"github.com/vietddude/reactor/internal/automation/retry"
	"github.com/vietddude/reactor/internal/core/domain"
	"github.com/vietddude/reactor/internal/infra/chain"
	"github.com/vietddude/reactor/internal/infra/chain/evm"
)

// Registrar is the part of the rule store discovery writes to.
type Registrar interface {
	TryRegister(rule domain.Rule) bool
	Retire(id domain.RuleID) bool
	IsRetired(id domain.RuleID) bool
	Get(id domain.RuleID) (domain.Rule, bool)
}

// SpawnFunc is called once for every rule TryRegister accepted.
type SpawnFunc func(rule domain.Rule)

// Config holds discovery settings.
type Config struct {
	Registry      common.Address
	StartBlock    uint64
	MaxBlockRange uint64
	FetchDetails  bool

	// Executor and ExecutedEvent enable execution replay: rules that already
	// executed on chain are retired before registrations are replayed.
	Executor      common.Address
	ExecutedEvent string

	DefaultCondition domain.Condition
	PollInterval     time.Duration
	Backoff          *retry.ExponentialBackoff
}

// Discovery turns RuleRegistered logs into store registrations.
type Discovery struct {
	cfg    Config
	gw     chain.Gateway
	store  Registrar
	spawn  SpawnFunc
	logger *slog.Logger
}

func New(cfg Config, gw chain.Gateway, store Registrar, spawn SpawnFunc) *Discovery {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.Forever(time.Second, 30*time.Second)
	}
	if spawn == nil {
		spawn = func(domain.Rule) {}
	}
	return &Discovery{
		cfg:    cfg,
		gw:     gw,
		store:  store,
		spawn:  spawn,
		logger: slog.Default().With("component", "discovery"),
	}
}

// Run replays history and then streams new registrations until ctx ends.
func (d *Discovery) Run(ctx context.Context) error {
	head, err := d.Replay(ctx)
	if err != nil {
		return err
	}
	return d.Follow(ctx, head+1)
}

// Replay processes every historical event up to the current head and returns
// the last block it covered. The live stream must start at the block after.
// A start block ahead of the head covers nothing, so the stream starts there.
func (d *Discovery) Replay(ctx context.Context) (uint64, error) {
	var head uint64
	err := d.withBackoff(ctx, "head", func() error {
		var err error
		head, err = d.gw.LatestBlock(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.ChainHead.Set(float64(head))

	from := d.cfg.StartBlock
	if from > head {
		d.logger.Info("Registry start block is ahead of chain head", "start_block", from, "head", head)
		return from - 1, nil
	}

	// Retire first so an executed one-shot rule is never spawned.
	if d.executionReplay() {
		n, err := d.replay(ctx, d.executedFilter(), from, head, d.handleExecuted)
		if err != nil {
			return 0, err
		}
		d.logger.Info("Execution history replayed", "from", from, "to", head, "events", n)
	}

	n, err := d.replay(ctx, d.registeredFilter(), from, head, d.handleRegistered)
	if err != nil {
		return 0, err
	}
	d.logger.Info("Registration history replayed", "from", from, "to", head, "events", n)
	return head, nil
}

// Follow streams events from block from onwards.
func (d *Discovery) Follow(ctx context.Context, from uint64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.follow(ctx, d.registeredFilter(), from, d.handleRegistered)
	})
	if d.executionReplay() {
		g.Go(func() error {
			return d.follow(ctx, d.executedFilter(), from, d.handleExecuted)
		})
	}
	return g.Wait()
}

func (d *Discovery) executionReplay() bool {
	return d.cfg.ExecutedEvent != "" && d.cfg.Executor != (common.Address{})
}

func (d *Discovery) registeredFilter() domain.EventFilter {
	return domain.EventFilter{
		Addresses: []common.Address{d.cfg.Registry},
		Topics:    [][]common.Hash{{evm.RuleRegisteredTopic}},
	}
}

func (d *Discovery) executedFilter() domain.EventFilter {
	return domain.EventFilter{
		Addresses: []common.Address{d.cfg.Executor},
		Topics:    [][]common.Hash{{evm.EventTopic(d.cfg.ExecutedEvent)}},
	}
}

// replay fetches [from, to] in windows of MaxBlockRange blocks.
func (d *Discovery) replay(
	ctx context.Context,
	filter domain.EventFilter,
	from, to uint64,
	handle func(context.Context, domain.Log, string),
) (int, error) {
	total := 0
	for start := from; start <= to; {
		end := to
		if d.cfg.MaxBlockRange > 0 && to-start >= d.cfg.MaxBlockRange {
			end = start + d.cfg.MaxBlockRange - 1
		}

		f := filter
		f.FromBlock, f.ToBlock = start, end
		var logs []domain.Log
		err := d.withBackoff(ctx, "eth_getLogs", func() error {
			var err error
			logs, err = d.gw.FetchEvents(ctx, f)
			return err
		})
		if err != nil {
			return total, err
		}
		metrics.GatewayBackfilledLogs.WithLabelValues("history").Add(float64(len(logs)))

		for _, l := range logs {
			handle(ctx, l, "history")
		}
		total += len(logs)

		if end == to {
			break
		}
		start = end + 1
	}
	return total, nil
}

// follow keeps a live subscription open, re-subscribing from the last seen
// block when the gateway gives up. Without push support it polls instead.
func (d *Discovery) follow(
	ctx context.Context,
	filter domain.EventFilter,
	from uint64,
	handle func(context.Context, domain.Log, string),
) error {
	next := from
	attempt := 0
	for {
		f := filter
		f.FromBlock = next
		sub, err := d.gw.SubscribeEvents(ctx, f)
		if errors.Is(err, domain.ErrSubscriptionUnsupported) {
			d.logger.Warn("Node does not support subscriptions, polling for events",
				"interval", d.cfg.PollInterval)
			return d.poll(ctx, filter, next, handle)
		}
		if err == nil {
			attempt = 0
			err = d.consume(ctx, sub, &next, handle)
			sub.Unsubscribe()
		}
		if ctx.Err() != nil {
			return nil
		}

		delay := d.cfg.Backoff.GetDelay(attempt)
		attempt++
		metrics.Resubscribes.Inc()
		d.logger.Warn("Event stream lost, re-subscribing",
			"error", err, "from_block", next, "retry_in", delay)
		if !retry.Sleep(ctx, delay) {
			return nil
		}
	}
}

func (d *Discovery) consume(
	ctx context.Context,
	sub chain.Subscription,
	next *uint64,
	handle func(context.Context, domain.Log, string),
) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case batch, ok := <-sub.Batches():
			if !ok {
				select {
				case err := <-sub.Err():
					return err
				default:
					return errors.New("event stream closed")
				}
			}
			for _, l := range batch.Logs {
				handle(ctx, l, "live")
				// Inclusive: the block may still hold logs not yet delivered.
				*next = max(*next, l.BlockNumber)
			}
		}
	}
}

func (d *Discovery) poll(
	ctx context.Context,
	filter domain.EventFilter,
	next uint64,
	handle func(context.Context, domain.Log, string),
) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		head, err := d.gw.LatestBlock(ctx)
		if err != nil {
			d.logger.Warn("Failed to read chain head", "error", err)
			continue
		}
		metrics.ChainHead.Set(float64(head))
		if head < next {
			continue
		}
		if _, err := d.replay(ctx, filter, next, head, handle); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Warn("Failed to poll events", "error", err)
			continue
		}
		next = head + 1
	}
}

func (d *Discovery) handleRegistered(ctx context.Context, l domain.Log, source string) {
	if l.Removed {
		return
	}
	rule, err := evm.DecodeRuleRegistered(l)
	if err != nil {
		metrics.RulesDiscovered.WithLabelValues(source, "malformed").Inc()
		d.logger.Warn("Skipping malformed registration", "tx", l.TxHash.Hex(), "error", err)
		return
	}

	// Cheap pre-check so duplicates skip the detail lookup. TryRegister
	// below stays the authority.
	if _, known := d.store.Get(rule.ID); known || d.store.IsRetired(rule.ID) {
		metrics.RulesDiscovered.WithLabelValues(source, "duplicate").Inc()
		return
	}

	if d.cfg.FetchDetails {
		d.fillDetails(ctx, &rule)
	}
	rule.Condition = d.condition(rule)

	if !d.store.TryRegister(rule) {
		metrics.RulesDiscovered.WithLabelValues(source, "duplicate").Inc()
		return
	}
	metrics.RulesDiscovered.WithLabelValues(source, "registered").Inc()
	d.logger.Info("Rule discovered",
		"rule_id", rule.ID,
		"owner", rule.Owner.Hex(),
		"trigger", rule.Trigger.Hex(),
		"condition", rule.Condition.String(),
		"block", rule.RegisteredBlock,
		"source", source,
	)
	d.spawn(rule)
}

func (d *Discovery) handleExecuted(ctx context.Context, l domain.Log, source string) {
	if l.Removed {
		return
	}
	id, err := evm.DecodeRuleID(l)
	if err != nil {
		d.logger.Warn("Skipping malformed execution event", "tx", l.TxHash.Hex(), "error", err)
		return
	}
	if d.store.IsRetired(id) {
		return
	}
	wasActive := d.store.Retire(id)
	metrics.RulesRetired.Inc()
	d.logger.Info("Rule retired", "rule_id", id, "block", l.BlockNumber, "was_watched", wasActive, "source", source)
}

func (d *Discovery) fillDetails(ctx context.Context, rule *domain.Rule) {
	data, err := evm.PackGetRule(rule.ID)
	if err == nil {
		var out []byte
		out, err = d.gw.CallContract(ctx, d.cfg.Registry, data)
		if err == nil {
			var details *evm.RuleDetails
			details, err = evm.DecodeRuleDetails(out)
			if err == nil {
				rule.ConditionPayload = details.ConditionPayload
				rule.ActionTarget = details.ActionTarget
				rule.ActionPayload = details.ActionPayload
				if rule.Trigger == (common.Address{}) {
					rule.Trigger = details.Trigger
				}
				return
			}
		}
	}
	d.logger.Warn("Rule details unavailable, using default condition", "rule_id", rule.ID, "error", err)
}

func (d *Discovery) condition(rule domain.Rule) domain.Condition {
	if len(rule.ConditionPayload) == 0 {
		return d.cfg.DefaultCondition
	}
	cond, err := domain.DecodeCondition(rule.ConditionPayload)
	if err != nil {
		d.logger.Warn("Undecodable condition payload, using default condition", "rule_id", rule.ID, "error", err)
		return d.cfg.DefaultCondition
	}
	return cond
}

// withBackoff retries fn until it succeeds or ctx ends.
func (d *Discovery) withBackoff(ctx context.Context, what string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := d.cfg.Backoff.GetDelay(attempt)
		d.logger.Warn("Chain query failed, retrying", "query", what, "error", err, "retry_in", delay)
		if !retry.Sleep(ctx, delay) {
			return fmt.Errorf("%s: %w", what, ctx.Err())
		}
	}
}
