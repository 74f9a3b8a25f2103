// Package ratelimit tracks the upstream API call bucket and paces requests.
// It reads the X-Shopify-Shop-Api-Call-Limit header ("used/limit") from every
// response so that callers slow down before the upstream starts answering 429.
package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HeaderCallLimit carries the bucket fill level as "used/limit".
const HeaderCallLimit = "X-Shopify-Shop-Api-Call-Limit"

// Redis key layout for bucket state. The bucket name (usually the shop
// domain) is appended so several shops can share one redis.
const (
	RedisKeyPrefix = "pricesync:bucket:"

	fieldUsed       = "used"
	fieldLimit      = "limit"
	fieldLastUpdate = "last_update"
)

// Reserve thresholds, expressed as free slots left in the bucket.
const (
	// ReserveCritical makes requests wait until the bucket has leaked back to
	// this many free slots.
	ReserveCritical = 4

	// ReserveWarning adds a single leak interval of delay per request.
	ReserveWarning = 10
)

// DefaultLeakRate is the number of calls the upstream restores per second.
const DefaultLeakRate = 2.0

// BucketState is the last observed fill level of the upstream call bucket.
// It is shared between processes through redis when a client is configured.
type BucketState struct {
	// Used is the number of calls counted against the bucket.
	Used int `json:"used"`

	// Limit is the bucket capacity.
	Limit int `json:"limit"`

	// LastUpdate is when the header was observed.
	LastUpdate time.Time `json:"last_update"`
}

// ParseCallLimit parses a "used/limit" header value.
func ParseCallLimit(v string) (used, limit int, err error) {
	usedStr, limitStr, ok := strings.Cut(strings.TrimSpace(v), "/")
	if !ok {
		return 0, 0, fmt.Errorf("call limit %q: missing '/'", v)
	}
	used, err = strconv.Atoi(strings.TrimSpace(usedStr))
	if err != nil {
		return 0, 0, fmt.Errorf("call limit used: %w", err)
	}
	limit, err = strconv.Atoi(strings.TrimSpace(limitStr))
	if err != nil {
		return 0, 0, fmt.Errorf("call limit capacity: %w", err)
	}
	if limit <= 0 || used < 0 {
		return 0, 0, fmt.Errorf("call limit %q out of range", v)
	}
	return used, limit, nil
}

// EstimatedUsed returns Used reduced by what has leaked out since LastUpdate.
func (s BucketState) EstimatedUsed(now time.Time, leakRate float64) float64 {
	elapsed := now.Sub(s.LastUpdate).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	used := float64(s.Used) - elapsed*leakRate
	if used < 0 {
		return 0
	}
	return used
}

// Remaining returns the estimated number of free slots at now.
func (s BucketState) Remaining(now time.Time, leakRate float64) float64 {
	if s.Limit == 0 {
		return float64(ReserveWarning)
	}
	return float64(s.Limit) - s.EstimatedUsed(now, leakRate)
}

// Delay returns how long a caller should wait before the next request.
// A healthy or unknown bucket needs no delay.
func (s BucketState) Delay(now time.Time, leakRate float64) time.Duration {
	if s.Limit == 0 || leakRate <= 0 {
		return 0
	}
	remaining := s.Remaining(now, leakRate)
	switch {
	case remaining < ReserveCritical:
		missing := float64(ReserveCritical) - remaining
		return time.Duration(missing / leakRate * float64(time.Second))
	case remaining < ReserveWarning:
		return time.Duration(float64(time.Second) / leakRate)
	default:
		return 0
	}
}

// IsHealthy reports whether the bucket has at least ReserveWarning free slots.
func (s BucketState) IsHealthy(now time.Time, leakRate float64) bool {
	return s.Remaining(now, leakRate) >= ReserveWarning
}
