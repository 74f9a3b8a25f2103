// Package baselock captures each variant's original price exactly once, in a
// dedicated metafield, so that every later run prices from that captured base
// and never from a price the engine wrote itself.
package baselock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/catalog-price-sync/pkg/catalog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var locksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pricesync_base_locks_total",
	Help: "Base price lock lookups by result (existing, captured, dry_run, failed)",
}, []string{"result"})

// DefaultKey is the metafield holding the locked base price.
var DefaultKey = catalog.Key{Namespace: "price_sync", Key: "base_price"}

// LockError reports that the base price could not be read or persisted.
// The variant must not be repriced in this run.
type LockError struct {
	VariantID int64
	Op        string
	Err       error
}

// Error implements the error interface.
func (e *LockError) Error() string {
	return fmt.Sprintf("base price lock %s for variant %d: %v", e.Op, e.VariantID, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// Store reads and writes variant metafields. *catalog.API implements it.
type Store interface {
	VariantMetafields(ctx context.Context, variantID int64) ([]catalog.Metafield, error)
	SetVariantMetafield(ctx context.Context, variantID int64, mf catalog.Metafield) error
}

// Config holds lock configuration.
type Config struct {
	Key catalog.Key

	// DryRun computes the base without persisting a new lock.
	DryRun bool
}

// Lock ensures variants carry a locked base price.
type Lock struct {
	store  Store
	config Config
	logger zerolog.Logger
}

// New creates a Lock. A zero Key selects DefaultKey.
func New(store Store, config Config) *Lock {
	if config.Key.IsZero() {
		config.Key = DefaultKey
	}
	return &Lock{
		store:  store,
		config: config,
		logger: log.With().Str("component", "baselock").Logger(),
	}
}

// EnsureLocked returns the variant's locked base price. When no lock exists
// yet, the current price is captured and persisted first. Any failure is a
// *LockError. On success v.LockedBase is set.
func (l *Lock) EnsureLocked(ctx context.Context, v *catalog.Variant) (decimal.Decimal, error) {
	if v.LockedBase != nil {
		return *v.LockedBase, nil
	}

	fields, err := l.store.VariantMetafields(ctx, v.ID)
	if err != nil {
		locksTotal.WithLabelValues("failed").Inc()
		return decimal.Zero, &LockError{VariantID: v.ID, Op: "read", Err: err}
	}

	// A lock field with an empty value was never filled in; capture it again.
	if mf, ok := catalog.Find(fields, l.config.Key); ok && strings.TrimSpace(mf.Value) != "" {
		base, err := decimal.NewFromString(mf.Value)
		if err != nil {
			locksTotal.WithLabelValues("failed").Inc()
			return decimal.Zero, &LockError{VariantID: v.ID, Op: "parse", Err: err}
		}
		if base.IsNegative() {
			locksTotal.WithLabelValues("failed").Inc()
			return decimal.Zero, &LockError{VariantID: v.ID, Op: "parse", Err: errors.New("negative base price")}
		}
		locksTotal.WithLabelValues("existing").Inc()
		v.LockedBase = &base
		return base, nil
	}

	base := v.Price
	if base.IsNegative() {
		locksTotal.WithLabelValues("failed").Inc()
		return decimal.Zero, &LockError{VariantID: v.ID, Op: "capture", Err: errors.New("negative current price")}
	}

	if l.config.DryRun {
		locksTotal.WithLabelValues("dry_run").Inc()
		l.logger.Debug().
			Int64("variant_id", v.ID).
			Str("base_price", base.StringFixed(2)).
			Msg("Dry run, base price not locked")
		v.LockedBase = &base
		return base, nil
	}

	mf := catalog.Metafield{
		Namespace: l.config.Key.Namespace,
		Key:       l.config.Key.Key,
		Value:     base.StringFixed(2),
		Type:      catalog.MetafieldTypeDecimal,
	}
	if err := l.store.SetVariantMetafield(ctx, v.ID, mf); err != nil {
		locksTotal.WithLabelValues("failed").Inc()
		return decimal.Zero, &LockError{VariantID: v.ID, Op: "write", Err: err}
	}

	locksTotal.WithLabelValues("captured").Inc()
	l.logger.Info().
		Int64("variant_id", v.ID).
		Str("base_price", mf.Value).
		Msg("Locked base price")

	v.LockedBase = &base
	return base, nil
}
