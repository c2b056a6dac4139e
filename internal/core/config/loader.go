package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/reactor/internal/core/domain"
)

// Default watcher condition: native balance > 0.01 (18 decimals).
const defaultThreshold = "10000000000000000"

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expands environment variables and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Chain.RequestTimeout == 0 {
		c.Chain.RequestTimeout = 30 * time.Second
	}
	if c.Chain.ResumeAttempts == 0 {
		c.Chain.ResumeAttempts = 5
	}
	if c.Executor.GasLimit == 0 {
		c.Executor.GasLimit = 500_000
	}
	if c.Rules.Mode == "" {
		c.Rules.Mode = string(domain.ModeOneShot)
	}
	if c.Rules.Trigger == "" {
		c.Rules.Trigger = string(domain.TriggerEvent)
	}
	if c.Rules.TriggerEvent == "" {
		c.Rules.TriggerEvent = "Transfer(address,address,uint256)"
	}
	if c.Rules.PollInterval == 0 {
		c.Rules.PollInterval = 5 * time.Second
	}
	if c.Rules.CheckTimeout == 0 {
		c.Rules.CheckTimeout = 30 * time.Second
	}
	if c.Rules.DefaultCondition.Op == "" {
		c.Rules.DefaultCondition.Op = "gt"
	}
	if c.Rules.DefaultCondition.Threshold == "" {
		c.Rules.DefaultCondition.Threshold = defaultThreshold
	}
	if c.Retry.Policy == "" {
		c.Retry.Policy = "none"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = 2 * time.Second
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 60 * time.Second
	}
	if c.Resubscribe.InitialDelay == 0 {
		c.Resubscribe.InitialDelay = time.Second
	}
	if c.Resubscribe.MaxDelay == 0 {
		c.Resubscribe.MaxDelay = 30 * time.Second
	}
	if c.Redis.ClaimTTL == 0 {
		c.Redis.ClaimTTL = 30 * 24 * time.Hour
	}
}

// Validate checks the settings the engine cannot run without.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("chain.rpc_url is required"))
	}
	if !common.IsHexAddress(c.Registry.Address) {
		errs = append(errs, fmt.Errorf("registry.address %q is not a hex address", c.Registry.Address))
	}
	if !common.IsHexAddress(c.Executor.Address) {
		errs = append(errs, fmt.Errorf("executor.address %q is not a hex address", c.Executor.Address))
	}
	switch domain.ExecutionMode(c.Rules.Mode) {
	case domain.ModeOneShot, domain.ModeRecurring:
	default:
		errs = append(errs, fmt.Errorf("rules.mode %q must be one_shot or recurring", c.Rules.Mode))
	}
	switch domain.TriggerMode(c.Rules.Trigger) {
	case domain.TriggerEvent, domain.TriggerPoll:
	default:
		errs = append(errs, fmt.Errorf("rules.trigger %q must be event or poll", c.Rules.Trigger))
	}
	switch c.Retry.Policy {
	case "none", "fixed", "exponential":
	default:
		errs = append(errs, fmt.Errorf("retry.policy %q must be none, fixed or exponential", c.Retry.Policy))
	}
	if _, err := c.Rules.DefaultCondition.Condition(); err != nil {
		errs = append(errs, err)
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"chain.request_timeout", c.Chain.RequestTimeout},
		{"rules.poll_interval", c.Rules.PollInterval},
		{"rules.check_timeout", c.Rules.CheckTimeout},
		{"retry.initial_delay", c.Retry.InitialDelay},
		{"retry.max_delay", c.Retry.MaxDelay},
		{"resubscribe.initial_delay", c.Resubscribe.InitialDelay},
		{"resubscribe.max_delay", c.Resubscribe.MaxDelay},
		{"journal.retention", c.Journal.Retention},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", d.key, d.val))
		}
	}
	return errors.Join(errs...)
}

// Condition converts the configured default into a native-balance condition.
func (c ConditionConfig) Condition() (domain.Condition, error) {
	op, err := domain.ParseOp(c.Op)
	if err != nil {
		return domain.Condition{}, fmt.Errorf("rules.default_condition: %w", err)
	}
	threshold, ok := new(big.Int).SetString(c.Threshold, 10)
	if !ok || threshold.Sign() < 0 {
		return domain.Condition{}, fmt.Errorf("rules.default_condition: invalid threshold %q", c.Threshold)
	}
	return domain.Condition{
		Op:        op,
		Threshold: threshold,
		Query:     domain.StateQuery{Kind: domain.QueryNativeBalance},
	}, nil
}
