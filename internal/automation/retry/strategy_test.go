package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/reactor/internal/core/domain"
)

func TestExponentialBackoff_GetDelay(t *testing.T) {
	s := &ExponentialBackoff{InitialDelay: 2 * time.Second, MaxDelay: 60 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{4, 32 * time.Second},
		{5, 60 * time.Second},
		{20, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := s.GetDelay(tt.attempt); got != tt.want {
			t.Errorf("GetDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	network := fmt.Errorf("%w: connection reset", domain.ErrNetwork)
	revert := fmt.Errorf("%w: execution reverted", domain.ErrContractCall)

	tests := []struct {
		name      string
		policy    string
		err       error
		attempt   int
		wantRetry bool
	}{
		{"none never retries", PolicyNone, network, 0, false},
		{"fixed retries network", PolicyFixed, network, 0, true},
		{"fixed stops at max", PolicyFixed, network, 3, false},
		{"fixed skips revert", PolicyFixed, revert, 0, false},
		{"exponential retries nonce", PolicyExponential, fmt.Errorf("%w: too low", domain.ErrNonce), 1, true},
		{"exponential skips signing", PolicyExponential, domain.ErrSigning, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.policy, 3, time.Second, time.Minute, nil)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := s.ShouldRetry(tt.err, tt.attempt); got != tt.wantRetry {
				t.Errorf("ShouldRetry = %v, want %v", got, tt.wantRetry)
			}
		})
	}

	if _, err := New("sometimes", 3, time.Second, time.Minute, nil); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestForever(t *testing.T) {
	s := Forever(time.Millisecond, time.Second)
	if !s.ShouldRetry(errors.New("anything"), 1000) {
		t.Error("Forever should always retry")
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if Sleep(ctx, time.Hour) {
		t.Error("Sleep should return false on a cancelled context")
	}
	if !Sleep(context.Background(), time.Millisecond) {
		t.Error("Sleep should return true after the delay")
	}
}
