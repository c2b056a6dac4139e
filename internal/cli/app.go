package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/reactor/internal/automation/discovery"
	"github.com/vietddude/reactor/internal/automation/executor"
	"github.com/vietddude/reactor/internal/automation/retry"
	"github.com/vietddude/reactor/internal/automation/watcher"
	"github.com/vietddude/reactor/internal/control"
	"github.com/vietddude/reactor/internal/core/config"
	"github.com/vietddude/reactor/internal/core/domain"
	"github.com/vietddude/reactor/internal/infra/chain/evm"
	redisclient "github.com/vietddude/reactor/internal/infra/redis"
	"github.com/vietddude/reactor/internal/infra/storage"
	"github.com/vietddude/reactor/internal/infra/storage/memory"
	"github.com/vietddude/reactor/internal/infra/storage/postgres"
)

// mustLoadConfig loads .env and the YAML config and installs the logger.
// Commands that only read (history, rules) skip validation of the signer.
func mustLoadConfig(validate bool) *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	if validate {
		if err := cfg.Validate(); err != nil {
			slog.Error("Invalid config", "error", err)
			os.Exit(1)
		}
	}
	return cfg
}

func openGateway(ctx context.Context, cfg *config.AppConfig) (*evm.Gateway, error) {
	dialers := []evm.DialFunc{evm.EthDialer(cfg.Chain.RPCURL)}
	for _, url := range cfg.Chain.FallbackURLs {
		dialers = append(dialers, evm.EthDialer(url))
	}
	return evm.NewGateway(ctx, evm.Config{
		RequestTimeout: cfg.Chain.RequestTimeout,
		ResumeAttempts: cfg.Chain.ResumeAttempts,
		ResumeDelay:    cfg.Resubscribe.InitialDelay,
		MaxResumeDelay: cfg.Resubscribe.MaxDelay,
	}, evm.Rotate(dialers...))
}

func engineConfig(cfg *config.AppConfig) (control.Config, error) {
	cond, err := cfg.Rules.DefaultCondition.Condition()
	if err != nil {
		return control.Config{}, err
	}
	backoff := retry.Forever(cfg.Resubscribe.InitialDelay, cfg.Resubscribe.MaxDelay)
	return control.Config{
		Discovery: discovery.Config{
			Registry:         common.HexToAddress(cfg.Registry.Address),
			StartBlock:       cfg.Registry.StartBlock,
			MaxBlockRange:    cfg.Registry.MaxBlockRange,
			FetchDetails:     cfg.Registry.FetchDetails,
			Executor:         common.HexToAddress(cfg.Executor.Address),
			ExecutedEvent:    cfg.Executor.ExecutedEvent,
			DefaultCondition: cond,
			PollInterval:     cfg.Rules.PollInterval,
			Backoff:          backoff,
		},
		Watcher: watcher.Config{
			Mode:         domain.ExecutionMode(cfg.Rules.Mode),
			Trigger:      domain.TriggerMode(cfg.Rules.Trigger),
			TriggerEvent: cfg.Rules.TriggerEvent,
			PollInterval: cfg.Rules.PollInterval,
			CheckTimeout: cfg.Rules.CheckTimeout,
			Backoff:      backoff,
		},
	}, nil
}

// deps holds the resources the executor depends on.
type deps struct {
	signer   *evm.Signer
	executor *executor.Executor
	journal  storage.JournalRepository

	db    *postgres.DB
	redis *redisclient.Client
}

func openDeps(ctx context.Context, cfg *config.AppConfig, gw *evm.Gateway) (*deps, error) {
	d := &deps{}

	chainID, err := gw.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	d.signer, err = evm.NewSigner(cfg.Executor.PrivateKey, chainID)
	if err != nil {
		return nil, err
	}

	strategy, err := retry.New(
		cfg.Retry.Policy,
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialDelay,
		cfg.Retry.MaxDelay,
		retry.SubmissionRetryable,
	)
	if err != nil {
		return nil, err
	}

	d.journal, err = d.openJournal(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var claims executor.Claimer
	if cfg.Redis.Enabled() {
		d.redis, err = redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			d.Close()
			return nil, err
		}
		owner := fmt.Sprintf("%s:%s", hostname(), uuid.NewString())
		claims = redisclient.NewClaimStore(d.redis, owner, cfg.Redis.ClaimTTL)
		slog.Info("Using Redis execution claims", "owner", owner)
	}

	d.executor = executor.New(executor.Config{
		Contract:      common.HexToAddress(cfg.Executor.Address),
		GasLimit:      cfg.Executor.GasLimit,
		ForwardAction: cfg.Executor.ForwardAction,
		Mode:          domain.ExecutionMode(cfg.Rules.Mode),
		Retry:         strategy,
	}, gw, d.signer, claims, d.journal)
	return d, nil
}

func (d *deps) openJournal(ctx context.Context, cfg *config.AppConfig) (storage.JournalRepository, error) {
	if !cfg.Database.Enabled() {
		slog.Info("Using memory execution journal")
		return memory.NewJournal(), nil
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d.db = db
	db.StartMetricsCollector(ctx)
	slog.Info("Using PostgreSQL execution journal")
	return postgres.NewJournalRepo(db), nil
}

func openDB(ctx context.Context, cfg *config.AppConfig) (*postgres.DB, error) {
	if !cfg.Database.Enabled() {
		return nil, errors.New("database.url is not configured")
	}
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close releases Redis and PostgreSQL connections. It is safe to call twice.
func (d *deps) Close() {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			slog.Warn("Failed to close Redis", "error", err)
		}
		d.redis = nil
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
		d.db = nil
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "reactor"
	}
	return h
}
