package config

import (
	"time"

	redisclient "github.com/vietddude/reactor/internal/infra/redis"
	"github.com/vietddude/reactor/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Logging     LoggingConfig      `yaml:"logging"`
	Chain       ChainConfig        `yaml:"chain"`
	Registry    RegistryConfig     `yaml:"registry"`
	Executor    ExecutorConfig     `yaml:"executor"`
	Rules       RulesConfig        `yaml:"rules"`
	Retry       RetryConfig        `yaml:"retry"`
	Resubscribe BackoffConfig      `yaml:"resubscribe"`
	Redis       redisclient.Config `yaml:"redis"`
	Database    postgres.Config    `yaml:"database"`
	Journal     JournalConfig      `yaml:"journal"`
}

// ServerConfig holds HTTP and gRPC health server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 = disabled
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ChainConfig holds the node connection settings.
type ChainConfig struct {
	RPCURL         string        `yaml:"rpc_url"` // ws(s):// for subscriptions, http(s):// falls back to polling
	FallbackURLs   []string      `yaml:"fallback_urls"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ResumeAttempts int           `yaml:"resume_attempts"`
}

// RegistryConfig describes the rule registry contract.
type RegistryConfig struct {
	Address       string `yaml:"address"`
	StartBlock    uint64 `yaml:"start_block"`     // 0 = earliest
	MaxBlockRange uint64 `yaml:"max_block_range"` // 0 = single query
	FetchDetails  bool   `yaml:"fetch_details"`
}

// ExecutorConfig describes the executor contract and the engine signing identity.
type ExecutorConfig struct {
	Address       string `yaml:"address"`
	PrivateKey    string `yaml:"private_key"`
	GasLimit      uint64 `yaml:"gas_limit"`
	ForwardAction bool   `yaml:"forward_action"`
	ExecutedEvent string `yaml:"executed_event"` // empty = no execution replay
}

// RulesConfig holds per-rule watcher behaviour.
type RulesConfig struct {
	Mode             string          `yaml:"mode"`    // one_shot, recurring
	Trigger          string          `yaml:"trigger"` // event, poll
	TriggerEvent     string          `yaml:"trigger_event"`
	PollInterval     time.Duration   `yaml:"poll_interval"`
	CheckTimeout     time.Duration   `yaml:"check_timeout"`
	DefaultCondition ConditionConfig `yaml:"default_condition"`
}

// ConditionConfig is the condition applied to rules whose payload cannot be decoded.
type ConditionConfig struct {
	Op        string `yaml:"op"`
	Threshold string `yaml:"threshold"` // base-10 integer in the smallest unit
}

// RetryConfig is the submission retry policy.
type RetryConfig struct {
	Policy       string        `yaml:"policy"` // none, fixed, exponential
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// BackoffConfig bounds a reconnect loop.
type BackoffConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// JournalConfig controls execution journal retention.
type JournalConfig struct {
	Retention time.Duration `yaml:"retention"` // 0 = keep forever
}
