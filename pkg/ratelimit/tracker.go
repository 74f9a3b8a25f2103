package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	bucketUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pricesync_bucket_used",
		Help: "Last observed number of calls counted against the upstream bucket",
	}, []string{"bucket"})

	bucketWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricesync_bucket_waits_total",
		Help: "Requests delayed because the upstream bucket was nearly full",
	}, []string{"bucket"})

	bucketWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricesync_bucket_wait_seconds",
		Help:    "Time spent waiting for the upstream bucket to leak",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// stateTTL bounds how long stale bucket state survives in redis.
const stateTTL = time.Minute

// Tracker records the upstream bucket state and paces requests against it.
// With a nil redis client the state lives in process memory only.
type Tracker struct {
	redis    *redis.Client
	bucket   string
	leakRate float64
	logger   zerolog.Logger

	mu    sync.Mutex
	local BucketState
	now   func() time.Time
}

// NewTracker creates a tracker for the named bucket.
func NewTracker(redisClient *redis.Client, bucket string, leakRate float64, logger zerolog.Logger) *Tracker {
	if leakRate <= 0 {
		leakRate = DefaultLeakRate
	}
	return &Tracker{
		redis:    redisClient,
		bucket:   bucket,
		leakRate: leakRate,
		logger:   logger,
		now:      time.Now,
	}
}

func (t *Tracker) key() string {
	return RedisKeyPrefix + t.bucket
}

// GetState returns the last known bucket state. A zero state means nothing
// has been observed yet.
func (t *Tracker) GetState(ctx context.Context) (BucketState, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.local, nil
	}

	fields, err := t.redis.HGetAll(ctx, t.key()).Result()
	if err != nil {
		return BucketState{}, fmt.Errorf("get bucket state: %w", err)
	}
	if len(fields) == 0 {
		return BucketState{}, nil
	}

	var st BucketState
	if st.Used, err = strconv.Atoi(fields[fieldUsed]); err != nil {
		return BucketState{}, fmt.Errorf("parse bucket used: %w", err)
	}
	if st.Limit, err = strconv.Atoi(fields[fieldLimit]); err != nil {
		return BucketState{}, fmt.Errorf("parse bucket limit: %w", err)
	}
	ms, err := strconv.ParseInt(fields[fieldLastUpdate], 10, 64)
	if err != nil {
		return BucketState{}, fmt.Errorf("parse bucket last update: %w", err)
	}
	st.LastUpdate = time.UnixMilli(ms)
	return st, nil
}

// UpdateFromHeaders stores the bucket level carried by a response.
// Responses without the header leave the state untouched.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	v := headers.Get(HeaderCallLimit)
	if v == "" {
		return nil
	}
	used, limit, err := ParseCallLimit(v)
	if err != nil {
		return err
	}

	st := BucketState{Used: used, Limit: limit, LastUpdate: t.now()}
	bucketUsed.WithLabelValues(t.bucket).Set(float64(used))

	if t.redis == nil {
		t.mu.Lock()
		t.local = st
		t.mu.Unlock()
	} else {
		pipe := t.redis.Pipeline()
		pipe.HSet(ctx, t.key(),
			fieldUsed, used,
			fieldLimit, limit,
			fieldLastUpdate, st.LastUpdate.UnixMilli(),
		)
		pipe.Expire(ctx, t.key(), stateTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("store bucket state in redis: %w", err)
		}
	}

	if !st.IsHealthy(st.LastUpdate, t.leakRate) {
		t.logger.Warn().
			Int("used", used).
			Int("limit", limit).
			Msg("Upstream call bucket nearly full")
	} else {
		t.logger.Debug().
			Int("used", used).
			Int("limit", limit).
			Msg("Upstream call bucket updated")
	}
	return nil
}

// Delay returns how long the next request should wait given the current
// bucket state.
func (t *Tracker) Delay(ctx context.Context) (time.Duration, error) {
	st, err := t.GetState(ctx)
	if err != nil {
		return 0, err
	}
	return st.Delay(t.now(), t.leakRate), nil
}

// Wait blocks until the bucket has room for another request or ctx ends.
// A redis failure is logged and does not block the request.
func (t *Tracker) Wait(ctx context.Context) error {
	d, err := t.Delay(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Bucket state unavailable, not pacing")
		return nil
	}
	if d <= 0 {
		return nil
	}

	bucketWaitsTotal.WithLabelValues(t.bucket).Inc()
	bucketWaitSeconds.Observe(d.Seconds())
	t.logger.Debug().Dur("wait", d).Msg("Pacing request for upstream bucket")

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
