package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates an in-memory redis for unit tests.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewStore should panic with nil redis client")
		}
	}()
	NewStore(nil)
}

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{"lease", Key{Shop: "example.myshopify.com", Kind: KindLease}, "pricesync:run:example.myshopify.com:lease"},
		{"normalized", Key{Shop: " https://Example.myshopify.com/ ", Kind: KindLast}, "pricesync:run:example.myshopify.com:last"},
		{"empty shop", Key{Kind: KindLease}, "pricesync:run:default:lease"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStore_AcquireExclusive(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewStore(client)
	ctx := context.Background()

	lease, err := store.Acquire(ctx, "shop", "run-1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if lease.Token() != "run-1" {
		t.Errorf("Token() = %q, want run-1", lease.Token())
	}

	_, err = store.Acquire(ctx, "shop", "run-2", time.Minute)
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("second Acquire() error = %v, want ErrRunInProgress", err)
	}

	if _, err := store.Acquire(ctx, "other-shop", "run-3", time.Minute); err != nil {
		t.Errorf("Acquire() for another shop error = %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := store.Acquire(ctx, "shop", "run-2", time.Minute); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

func TestLease_ExpiredLeaseIsLost(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewStore(client)
	ctx := context.Background()

	lease, err := store.Acquire(ctx, "shop", "run-1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := lease.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if err := lease.Refresh(ctx); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("Refresh() after expiry = %v, want ErrLeaseLost", err)
	}

	other, err := store.Acquire(ctx, "shop", "run-2", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() after expiry error = %v", err)
	}

	// Releasing the stale lease must not drop the new holder.
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := store.Acquire(ctx, "shop", "run-3", time.Minute); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Acquire() = %v, want ErrRunInProgress (held by %s)", err, other.Token())
	}
}

func TestStore_SaveAndLoadLast(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewStore(client)
	ctx := context.Background()

	if _, err := store.Last(ctx, "shop"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Last() on empty store = %v, want ErrNotFound", err)
	}

	summary := map[string]int{"updated": 3, "failed": 1}
	if err := store.SaveLast(ctx, "shop", "run-9", summary); err != nil {
		t.Fatalf("SaveLast() error = %v", err)
	}

	entry, err := store.Last(ctx, "shop")
	if err != nil {
		t.Fatalf("Last() error = %v", err)
	}
	if entry.RunID != "run-9" || entry.Shop != "shop" {
		t.Errorf("entry = %+v", entry)
	}
	var got map[string]int
	if err := json.Unmarshal(entry.Summary, &got); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if got["updated"] != 3 || got["failed"] != 1 {
		t.Errorf("summary = %v", got)
	}
}

func TestStore_Ping(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewStore(client)

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	mr.Close()
	if err := store.Ping(context.Background()); err == nil {
		t.Error("Ping() after close error = nil, want error")
	}
}
