package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRunInProgress indicates another run holds the shop's lease
	ErrRunInProgress = errors.New("run already in progress")

	// ErrNotFound indicates no summary has been stored yet
	ErrNotFound = errors.New("no run recorded")

	// ErrLeaseLost indicates the lease expired or was taken over
	ErrLeaseLost = errors.New("run lease lost")
)

// lastTTL bounds how long a finished run summary is kept.
const lastTTL = 30 * 24 * time.Hour

// Only the holder may extend or drop a lease.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Store keeps run leases and summaries in Redis.
type Store struct {
	redis *redis.Client
}

// NewStore creates a new run store with Redis backend.
func NewStore(redisClient *redis.Client) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Store{
		redis: redisClient,
	}
}

// Lease is an exclusive claim on a shop for the duration of one run.
type Lease struct {
	store *Store
	key   string
	token string
	ttl   time.Duration
}

// Token returns the run id holding the lease.
func (l *Lease) Token() string {
	return l.token
}

// Acquire claims the shop for runID. It returns ErrRunInProgress when
// another run holds the lease.
func (s *Store) Acquire(ctx context.Context, shop, runID string, ttl time.Duration) (*Lease, error) {
	key := Key{Shop: shop, Kind: KindLease}.String()

	ok, err := s.redis.SetNX(ctx, key, runID, ttl).Result()
	if err != nil {
		LeaseTotal.WithLabelValues("error").Inc()
		StoreErrors.WithLabelValues("acquire").Inc()
		return nil, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		LeaseTotal.WithLabelValues("busy").Inc()
		holder, err := s.redis.Get(ctx, key).Result()
		if err != nil {
			holder = "unknown"
		}
		return nil, fmt.Errorf("%w: held by run %s", ErrRunInProgress, holder)
	}

	LeaseTotal.WithLabelValues("acquired").Inc()
	return &Lease{store: s, key: key, token: runID, ttl: ttl}, nil
}

// Refresh extends the lease by its TTL. It returns ErrLeaseLost when the
// lease is no longer held by this run.
func (l *Lease) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.store.redis, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		StoreErrors.WithLabelValues("refresh").Inc()
		return fmt.Errorf("redis refresh lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release drops the lease if this run still holds it.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.store.redis, []string{l.key}, l.token).Err(); err != nil {
		StoreErrors.WithLabelValues("release").Inc()
		return fmt.Errorf("redis release lease: %w", err)
	}
	return nil
}

// Entry is a stored run summary.
type Entry struct {
	RunID   string          `json:"run_id"`
	Shop    string          `json:"shop"`
	SavedAt time.Time       `json:"saved_at"`
	Summary json.RawMessage `json:"summary"`
}

// SaveLast stores summary as the shop's last finished run.
func (s *Store) SaveLast(ctx context.Context, shop, runID string, summary any) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		StoreErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("marshal summary: %w", err)
	}

	data, err := json.Marshal(Entry{
		RunID:   runID,
		Shop:    shop,
		SavedAt: time.Now().UTC(),
		Summary: raw,
	})
	if err != nil {
		StoreErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("marshal entry: %w", err)
	}

	if err := s.redis.Set(ctx, Key{Shop: shop, Kind: KindLast}.String(), data, lastTTL).Err(); err != nil {
		StoreErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Last returns the shop's last stored run.
// Returns ErrNotFound if no run has been stored.
func (s *Store) Last(ctx context.Context, shop string) (*Entry, error) {
	data, err := s.redis.Get(ctx, Key{Shop: shop, Kind: KindLast}.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		StoreErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		StoreErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
