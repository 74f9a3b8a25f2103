package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestTracker_UpdateFromHeaders(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		shouldError bool
		wantUsed    int
	}{
		{name: "missing header is ignored", header: "", wantUsed: 0},
		{name: "valid header", header: "12/40", wantUsed: 12},
		{name: "invalid header", header: "twelve/40", shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(nil, "shop.example", 0, zerolog.Nop())
			headers := http.Header{}
			if tt.header != "" {
				headers.Set(HeaderCallLimit, tt.header)
			}

			err := tracker.UpdateFromHeaders(context.Background(), headers)
			if tt.shouldError {
				if err == nil {
					t.Error("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			state, err := tracker.GetState(context.Background())
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if state.Used != tt.wantUsed {
				t.Errorf("Used = %d, want %d", state.Used, tt.wantUsed)
			}
		})
	}
}

func TestTracker_RedisSharedState(t *testing.T) {
	client := newMiniRedis(t)
	ctx := context.Background()

	writer := NewTracker(client, "shop.example", 0, zerolog.Nop())
	reader := NewTracker(client, "shop.example", 0, zerolog.Nop())
	other := NewTracker(client, "other.example", 0, zerolog.Nop())

	headers := http.Header{}
	headers.Set(HeaderCallLimit, "39/40")
	if err := writer.UpdateFromHeaders(ctx, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	state, err := reader.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Used != 39 || state.Limit != 40 {
		t.Errorf("shared state = %d/%d, want 39/40", state.Used, state.Limit)
	}

	d, err := reader.Delay(ctx)
	if err != nil {
		t.Fatalf("Delay() error = %v", err)
	}
	if d <= 0 {
		t.Errorf("Delay() = %v, want > 0 for nearly full bucket", d)
	}

	otherState, err := other.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if otherState.Limit != 0 {
		t.Errorf("other bucket should be empty, got %+v", otherState)
	}
}

func TestTracker_WaitHealthyReturnsImmediately(t *testing.T) {
	tracker := NewTracker(nil, "shop.example", 0, zerolog.Nop())
	headers := http.Header{}
	headers.Set(HeaderCallLimit, "1/40")
	if err := tracker.UpdateFromHeaders(context.Background(), headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	start := time.Now()
	if err := tracker.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Wait() took %v on a healthy bucket", elapsed)
	}
}

func TestTracker_WaitRespectsContext(t *testing.T) {
	tracker := NewTracker(nil, "shop.example", 0, zerolog.Nop())
	headers := http.Header{}
	headers.Set(HeaderCallLimit, "40/40")
	if err := tracker.UpdateFromHeaders(context.Background(), headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tracker.Wait(ctx); err == nil {
		t.Error("Wait() with cancelled context should return an error")
	}
}
