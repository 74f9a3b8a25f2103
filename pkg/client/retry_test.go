package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 500ms", config.InitialBackoff)
	}
	if config.MaxBackoff != 10*time.Second {
		t.Errorf("MaxBackoff = %v, want 10s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryConfig_Delay(t *testing.T) {
	config := RetryConfig{MaxBackoff: 2 * time.Second}

	tests := []struct {
		name       string
		backoff    time.Duration
		retryAfter time.Duration
		want       time.Duration
	}{
		{"backoff only", 100 * time.Millisecond, 0, 100 * time.Millisecond},
		{"retry-after wins", 100 * time.Millisecond, time.Second, time.Second},
		{"capped by max backoff", 100 * time.Millisecond, time.Minute, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := config.delay(tt.backoff, tt.retryAfter); got != tt.want {
				t.Errorf("delay(%v, %v) = %v, want %v", tt.backoff, tt.retryAfter, got, tt.want)
			}
		})
	}
}

func TestRetryConfig_DelayJitterBounds(t *testing.T) {
	config := RetryConfig{MaxBackoff: time.Minute, Jitter: 0.2}
	for i := 0; i < 100; i++ {
		d := config.delay(time.Second, 0)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("delay with jitter = %v, want within [800ms, 1200ms]", d)
		}
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	callCount := 0
	attempts, err := retryWithBackoff(context.Background(), fastRetry(3), func(int) error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 || callCount != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1, 1", attempts, callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterThrottle(t *testing.T) {
	callCount := 0
	attempts, err := retryWithBackoff(context.Background(), fastRetry(3), func(int) error {
		callCount++
		if callCount < 3 {
			return &attemptError{class: ErrorClassRateLimit, statusCode: 429}
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected success after retry, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	callCount := 0
	attempts, err := retryWithBackoff(context.Background(), fastRetry(3), func(int) error {
		callCount++
		return &attemptError{class: ErrorClassRateLimit, statusCode: 429}
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	var ae *attemptError
	if !errors.As(err, &ae) || ae.class != ErrorClassRateLimit {
		t.Errorf("Expected wrapped rate limit attempt error, got %v", err)
	}
	if attempts != 3 || callCount != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3, 3", attempts, callCount)
	}
}

func TestRetryWithBackoff_PermanentErrorNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"rejected client error", &RejectedError{StatusCode: 404, ErrorClass: ErrorClassClient}},
		{"server error", &attemptError{class: ErrorClassServer, statusCode: 503}},
		{"plain error", errors.New("boom")},
		{"write outcome unknown", ErrWriteOutcomeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callCount := 0
			attempts, err := retryWithBackoff(context.Background(), fastRetry(5), func(int) error {
				callCount++
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want %v", err, tt.err)
			}
			if attempts != 1 || callCount != 1 {
				t.Errorf("attempts = %d, calls = %d, want 1, 1", attempts, callCount)
			}
		})
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: time.Second}

	callCount := 0
	_, err := retryWithBackoff(ctx, config, func(int) error {
		callCount++
		cancel()
		return &attemptError{class: ErrorClassNetwork}
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_AttemptNumbers(t *testing.T) {
	var seen []int
	_, _ = retryWithBackoff(context.Background(), fastRetry(3), func(attempt int) error {
		seen = append(seen, attempt)
		return &attemptError{class: ErrorClassNetwork}
	})

	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("attempt numbers = %v, want [1 2 3]", seen)
	}
}
