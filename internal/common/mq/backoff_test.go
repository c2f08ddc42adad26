package mq_test

import (
	"testing"
	"time"

	"judgecore/internal/common/mq"
)

func TestComputeBackoff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		retryCount int
		base       time.Duration
		max        time.Duration
		want       time.Duration
	}{
		{name: "first retry", retryCount: 1, base: time.Second, max: 30 * time.Second, want: time.Second},
		{name: "zero is base", retryCount: 0, base: time.Second, max: 30 * time.Second, want: time.Second},
		{name: "second doubles", retryCount: 2, base: time.Second, max: 30 * time.Second, want: 2 * time.Second},
		{name: "fourth", retryCount: 4, base: time.Second, max: 30 * time.Second, want: 8 * time.Second},
		{name: "capped", retryCount: 10, base: time.Second, max: 30 * time.Second, want: 30 * time.Second},
		{name: "huge retry count", retryCount: 500, base: time.Second, max: time.Minute, want: time.Minute},
		{name: "base above max", retryCount: 1, base: time.Minute, max: time.Second, want: time.Second},
		{name: "defaults", retryCount: 1, base: 0, max: 0, want: time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := mq.ComputeBackoff(tt.retryCount, tt.base, tt.max); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMessageAttempts(t *testing.T) {
	t.Parallel()
	m := mq.NewMessage([]byte("x"))
	m.MaxRetries = 2
	if m.Attempt() != 1 || m.MaxAttempts() != 3 || !m.ShouldRetry() {
		t.Fatalf("unexpected attempt bookkeeping: %+v", m)
	}
	m.RetryCount = 2
	if m.Attempt() != 3 || m.ShouldRetry() {
		t.Fatalf("expected final attempt: %+v", m)
	}

	clone := m.Clone()
	clone.Headers["k"] = "v"
	clone.Body[0] = 'y'
	if _, ok := m.GetHeader("k"); ok || m.Body[0] != 'x' {
		t.Fatalf("clone shares state with original")
	}
}
