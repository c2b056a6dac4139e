package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/reactor/internal/core/domain"
)

func TestLoad_EnvSubstitution(t *testing.T) {
	// Setup env var
	os.Setenv("TEST_EXECUTOR_KEY", "0xdeadbeef")
	defer os.Unsetenv("TEST_EXECUTOR_KEY")

	// Create temp config file
	configContent := `
chain:
  rpc_url: wss://node.example/ws
executor:
  private_key: ${TEST_EXECUTOR_KEY}
`
	tmpFile, err := os.CreateTemp("", "config_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write([]byte(configContent)); err != nil {
		t.Fatalf("Failed to write to temp file: %v", err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Executor.PrivateKey != "0xdeadbeef" {
		t.Errorf("Expected private key 0xdeadbeef, got %s", cfg.Executor.PrivateKey)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("chain:\n  rpc_url: http://localhost:8545\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Rules.Mode != string(domain.ModeOneShot) {
		t.Errorf("expected one_shot mode, got %s", cfg.Rules.Mode)
	}
	if cfg.Rules.CheckTimeout != 30*time.Second {
		t.Errorf("expected 30s check timeout, got %v", cfg.Rules.CheckTimeout)
	}
	if cfg.Retry.Policy != "none" {
		t.Errorf("expected retry policy none, got %s", cfg.Retry.Policy)
	}

	cond, err := cfg.Rules.DefaultCondition.Condition()
	if err != nil {
		t.Fatalf("default condition invalid: %v", err)
	}
	if cond.Op != domain.OpGT || cond.Threshold.String() != "10000000000000000" {
		t.Errorf("unexpected default condition %s", cond)
	}
}

func TestValidate(t *testing.T) {
	valid := `
chain:
  rpc_url: wss://node.example/ws
registry:
  address: "0x1111111111111111111111111111111111111111"
executor:
  address: "0x2222222222222222222222222222222222222222"
`
	cfg, err := Parse([]byte(valid))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.Rules.Mode = "forever"
	cfg.Retry.Policy = "sometimes"
	cfg.Registry.Address = "nope"
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"rules.mode", "retry.policy", "registry.address"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}

func TestValidate_NegativeDurations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"resubscribe initial", "resubscribe:\n  initial_delay: -1s\n", "resubscribe.initial_delay"},
		{"resubscribe max", "resubscribe:\n  max_delay: -30s\n", "resubscribe.max_delay"},
		{"retry initial", "retry:\n  initial_delay: -2s\n", "retry.initial_delay"},
		{"retry max", "retry:\n  max_delay: -1m\n", "retry.max_delay"},
		{"poll interval", "rules:\n  poll_interval: -5s\n", "rules.poll_interval"},
		{"retention", "journal:\n  retention: -24h\n", "journal.retention"},
	}

	base := `
chain:
  rpc_url: wss://node.example/ws
registry:
  address: "0x1111111111111111111111111111111111111111"
executor:
  address: "0x2222222222222222222222222222222222222222"
`
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(base + tt.yaml))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error to mention %s, got %v", tt.want, err)
			}
		})
	}
}
