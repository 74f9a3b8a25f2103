package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricesync_upstream_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricesync_upstream_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricesync_upstream_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first one.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps every delay, including one requested by Retry-After.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay after each retry.
	BackoffMultiplier float64

	// Jitter is the random spread applied to each delay (0.2 = ±20%).
	Jitter float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// delay computes the wait before the next attempt.
func (c RetryConfig) delay(backoff, retryAfter time.Duration) time.Duration {
	d := backoff
	if c.Jitter > 0 {
		d = time.Duration(float64(backoff) * (1 - c.Jitter + rand.Float64()*2*c.Jitter))
	}
	if retryAfter > d {
		d = retryAfter
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// next returns the backoff following the current one.
func (c RetryConfig) next(backoff time.Duration) time.Duration {
	mult := c.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	backoff = time.Duration(float64(backoff) * mult)
	if c.MaxBackoff > 0 && backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	return backoff
}

// exhaustedError wraps the last attempt error once MaxAttempts is reached.
type exhaustedError struct {
	attempts int
	last     error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrRetryExhausted, e.attempts, e.last)
}

func (e *exhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

func (e *exhaustedError) Unwrap() error {
	return e.last
}

// classifyAttempt extracts the error class and any server-requested delay.
// Errors that are not attempt errors are treated as permanent.
func classifyAttempt(err error) (ErrorClass, time.Duration) {
	var ae *attemptError
	if errors.As(err, &ae) {
		return ae.class, ae.retryAfter
	}
	return ErrorClassClient, 0
}

// retryWithBackoff runs fn until it succeeds, fails with a class that is not
// retried, or MaxAttempts is reached. It returns the number of attempts made.
// Delays grow exponentially with jitter and honour Retry-After up to MaxBackoff.
func retryWithBackoff(ctx context.Context, config RetryConfig, fn func(attempt int) error) (int, error) {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	var lastErr error
	var lastClass ErrorClass
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("error_class", string(lastClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return attempt, nil
		}

		lastErr = err
		class, retryAfter := classifyAttempt(err)
		lastClass = class

		if !shouldRetry(class) {
			return attempt, err
		}

		if attempt >= config.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(class)).Inc()

		wait := config.delay(backoff, retryAfter)
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		log.Debug().
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warn().
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return attempt, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}

		backoff = config.next(backoff)
	}

	retryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	log.Warn().
		Str("error_class", string(lastClass)).
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return config.MaxAttempts, &exhaustedError{attempts: config.MaxAttempts, last: lastErr}
}
