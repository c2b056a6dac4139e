package evm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/reactor/internal/automation/metrics"
	"github.com/vietddude/reactor/internal/core/domain"
)

const (
	logBuffer     = 256
	maxBatchSize  = 128
	backfillLabel = "backfill"
)

var errSubscriptionClosed = errors.New("subscription closed by node")

// logSubscription wraps an eth_subscribe("logs") stream and re-establishes it
// after transport loss. On resume it backfills with eth_getLogs from the last
// delivered block (inclusive), so logs are never dropped but may be redelivered.
type logSubscription struct {
	gw     *Gateway
	filter domain.EventFilter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	batches chan domain.EventBatch
	errc    chan error

	client Client
	sub    ethereum.Subscription
	logs   chan types.Log

	// next is the lowest block whose logs may not have been delivered yet.
	next uint64
	// pending is set when [next, head] must be backfilled before live logs.
	pending bool
}

func newLogSubscription(g *Gateway, filter domain.EventFilter) *logSubscription {
	return &logSubscription{
		gw:      g,
		filter:  filter,
		done:    make(chan struct{}),
		batches: make(chan domain.EventBatch),
		errc:    make(chan error, 1),
		next:    filter.FromBlock,
		pending: filter.FromBlock > 0,
	}
}

func (s *logSubscription) Batches() <-chan domain.EventBatch { return s.batches }

func (s *logSubscription) Err() <-chan error { return s.errc }

// Unsubscribe stops delivery and waits for the pump goroutine to exit.
func (s *logSubscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// open establishes the node subscription. The first call binds the
// subscription lifetime to ctx.
func (s *logSubscription) open(ctx context.Context) error {
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(ctx)
	}

	client, err := s.gw.conn(s.ctx)
	if err != nil {
		return err
	}

	query := ethereum.FilterQuery{Addresses: s.filter.Addresses, Topics: s.filter.Topics}
	logs := make(chan types.Log, logBuffer)
	sub, err := client.SubscribeFilterLogs(s.ctx, query, logs)
	if err != nil {
		classified := Classify(err)
		if errors.Is(classified, domain.ErrNetwork) {
			s.gw.drop(client)
		}
		return fmt.Errorf("eth_subscribe: %w", classified)
	}

	if !s.pending && s.next == 0 {
		// Live-only subscription: remember where it started so a resume
		// knows which range to backfill.
		head, err := s.gw.LatestBlock(s.ctx)
		if err != nil {
			sub.Unsubscribe()
			return err
		}
		s.next = head + 1
	}

	s.client, s.sub, s.logs = client, sub, logs
	return nil
}

func (s *logSubscription) run() {
	defer close(s.done)
	defer close(s.batches)
	defer s.cancel()

	attempt := 0
	for {
		healthy, err := s.pump()
		s.sub.Unsubscribe()
		if s.ctx.Err() != nil {
			return
		}
		if healthy {
			attempt = 0
		}

		// Transport lost: drop the connection and resume with backoff.
		s.gw.drop(s.client)
		s.pending = true
		for {
			attempt++
			if attempt > s.gw.cfg.ResumeAttempts {
				s.errc <- fmt.Errorf("subscription gave up after %d resume attempts: %w", attempt-1, err)
				return
			}
			s.gw.log.Warn("Log subscription lost, resuming",
				"error", err, "attempt", attempt, "from_block", s.next)
			metrics.GatewayResumes.Inc()

			if !sleepCtx(s.ctx, resumeDelay(s.gw.cfg, attempt)) {
				return
			}
			if err = s.open(s.ctx); err == nil {
				break
			}
		}
	}
}

// pump backfills any pending range, then forwards live logs until the
// subscription fails or the context ends. healthy reports whether the
// subscription got past its backfill.
func (s *logSubscription) pump() (healthy bool, err error) {
	if s.pending {
		if err := s.backfill(); err != nil {
			return false, err
		}
		s.pending = false
	}

	for {
		select {
		case <-s.ctx.Done():
			return true, nil
		case err := <-s.sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			return true, Classify(err)
		case l := <-s.logs:
			batch := []domain.Log{fromLog(l)}
		drain:
			for len(batch) < maxBatchSize {
				select {
				case l := <-s.logs:
					batch = append(batch, fromLog(l))
				default:
					break drain
				}
			}
			if !s.deliver(batch) {
				return true, nil
			}
		}
	}
}

func (s *logSubscription) backfill() error {
	head, err := s.gw.LatestBlock(s.ctx)
	if err != nil {
		return err
	}
	if s.next > head {
		return nil
	}

	filter := s.filter
	filter.FromBlock, filter.ToBlock = s.next, head
	logs, err := s.gw.FetchEvents(s.ctx, filter)
	if err != nil {
		return err
	}
	metrics.GatewayBackfilledLogs.WithLabelValues(backfillLabel).Add(float64(len(logs)))

	if len(logs) > 0 && !s.deliver(logs) {
		return s.ctx.Err()
	}
	s.next = max(s.next, head+1)
	return nil
}

// deliver pushes one batch, advancing the resume point. It returns false
// when the subscription was cancelled first.
func (s *logSubscription) deliver(logs []domain.Log) bool {
	select {
	case s.batches <- domain.EventBatch{Logs: logs}:
	case <-s.ctx.Done():
		return false
	}
	// Resume from the last delivered block, inclusive: a block may still have
	// undelivered logs when the transport drops.
	s.next = max(s.next, logs[len(logs)-1].BlockNumber)
	return true
}

func resumeDelay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.ResumeDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(cfg.MaxResumeDelay) {
		return cfg.MaxResumeDelay
	}
	return time.Duration(delay)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
