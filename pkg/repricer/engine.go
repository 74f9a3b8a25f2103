// Package repricer drives a bulk price update across the whole catalog:
// it walks the item pages, resolves each variant's attributes, ensures its
// base price is locked, computes the new price and writes it back.
//
// A single variant's failure never aborts the run. Only an invalid market
// rate, a first page that cannot be fetched, or a run already in progress
// for the same shop are returned as errors. A run whose lease is taken
// over stops before its next item and reports itself incomplete.
package repricer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Sternrassler/catalog-price-sync/pkg/attributes"
	"github.com/Sternrassler/catalog-price-sync/pkg/baselock"
	"github.com/Sternrassler/catalog-price-sync/pkg/catalog"
	"github.com/Sternrassler/catalog-price-sync/pkg/client"
	"github.com/Sternrassler/catalog-price-sync/pkg/pagination"
	"github.com/Sternrassler/catalog-price-sync/pkg/pricing"
	"github.com/Sternrassler/catalog-price-sync/pkg/runstore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidMarketRate is returned before any remote call when the rate
	// is not a finite positive number.
	ErrInvalidMarketRate = errors.New("market rate must be a finite positive number")

	// ErrFirstPage is returned when the first catalog page cannot be fetched.
	ErrFirstPage = errors.New("cannot fetch first catalog page")
)

// DefaultLeaseTTL bounds how long a crashed run blocks the next one.
const DefaultLeaseTTL = 30 * time.Minute

// Catalog is the upstream surface the engine needs. *catalog.API implements it.
type Catalog interface {
	pagination.Fetcher
	attributes.Source
	baselock.Store
	UpdateVariantPrice(ctx context.Context, variantID int64, price decimal.Decimal) error
}

// Config holds engine configuration.
type Config struct {
	// Shop identifies the catalog for the run lease and the stored summary.
	Shop string

	// Strategy selects link or offset pagination.
	Strategy   pagination.Strategy
	Pagination pagination.Config

	Keys    attributes.Keys
	Unit    attributes.Unit
	LockKey catalog.Key

	// DryRun computes prices without locking or writing anything.
	DryRun bool

	// ReadAhead fetches the next page while the current one is processed.
	ReadAhead bool

	// Store enables the run lease and last-summary persistence when set.
	Store    *runstore.Store
	LeaseTTL time.Duration

	// MaxOutcomes caps the outcomes kept in the summary; totals still count
	// every variant. Zero means DefaultMaxOutcomes, negative keeps all.
	MaxOutcomes int

	Observer Observer
}

// Engine runs bulk price updates.
type Engine struct {
	api    Catalog
	config Config
	logger zerolog.Logger
}

// New creates an engine.
func New(api Catalog, config Config) (*Engine, error) {
	if api == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if config.Strategy == nil {
		return nil, fmt.Errorf("pagination strategy is required")
	}
	if config.Keys.Weight.IsZero() {
		config.Keys = attributes.DefaultKeys()
	}
	if config.Unit == "" {
		config.Unit = attributes.Gram
	}
	if config.LockKey.IsZero() {
		config.LockKey = baselock.DefaultKey
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = DefaultLeaseTTL
	}
	if config.MaxOutcomes == 0 {
		config.MaxOutcomes = DefaultMaxOutcomes
	}

	return &Engine{
		api:    api,
		config: config,
		logger: log.With().Str("component", "repricer").Logger(),
	}, nil
}

// Run reprices every variant in the catalog at marketRate.
//
// Cancelling ctx stops the run between variants; a variant already in
// progress finishes, so no write is abandoned halfway. A cancelled run
// returns its partial summary with Cancelled set and a nil error.
func (e *Engine) Run(ctx context.Context, marketRate float64) (Summary, error) {
	if math.IsNaN(marketRate) || math.IsInf(marketRate, 0) || marketRate <= 0 {
		runsTotal.WithLabelValues("invalid").Inc()
		return Summary{}, fmt.Errorf("%w (got %v)", ErrInvalidMarketRate, marketRate)
	}
	rate := decimal.NewFromFloat(marketRate)
	runID := uuid.NewString()
	logger := e.logger.With().Str("run_id", runID).Logger()

	var lease *runstore.Lease
	if e.config.Store != nil {
		l, err := e.config.Store.Acquire(ctx, e.config.Shop, runID, e.config.LeaseTTL)
		if err != nil {
			runsTotal.WithLabelValues("busy").Inc()
			logger.Warn().Err(err).Str("shop", e.config.Shop).Msg("Run lease not acquired")
			return Summary{}, err
		}
		lease = l
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn().Err(err).Msg("Failed to release run lease")
			}
		}()
	}

	start := time.Now()
	t := &tally{max: e.config.MaxOutcomes, summary: Summary{
		RunID:      runID,
		MarketRate: rate.String(),
		DryRun:     e.config.DryRun,
		StartedAt:  start.UTC(),
		Outcomes:   []Outcome{},
	}}

	logger.Info().
		Str("market_rate", rate.String()).
		Bool("dry_run", e.config.DryRun).
		Bool("read_ahead", e.config.ReadAhead).
		Msg("Starting bulk price update")

	pageCtx, stopPages := context.WithCancel(ctx)
	defer stopPages()
	next := e.pages(pageCtx, pagination.NewWalker(e.api, e.config.Strategy, e.config.Pagination))

	m := newMemo(e.api)
	resolver := attributes.NewResolver(m, e.config.Keys, e.config.Unit)
	lock := baselock.New(m, baselock.Config{Key: e.config.LockKey, DryRun: e.config.DryRun})

	var runErr error
	result := "completed"
	cancel := func() {
		t.update(func(s *Summary) { s.Cancelled = true })
		result = "cancelled"
		logger.Warn().Msg("Run cancelled")
	}

pages:
	for {
		if ctx.Err() != nil {
			cancel()
			break
		}

		page, err := next()
		if errors.Is(err, pagination.ErrExhausted) {
			if ctx.Err() != nil {
				cancel()
			}
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				cancel()
				break
			}
			if t.snapshot().Pages == 0 {
				runErr = fmt.Errorf("%w: %v", ErrFirstPage, err)
				t.update(func(s *Summary) { s.Error = runErr.Error() })
				result = "aborted"
				logger.Error().Err(err).Msg("First catalog page failed, aborting run")
				break
			}
			t.update(func(s *Summary) {
				s.Incomplete = true
				s.Error = err.Error()
			})
			result = "incomplete"
			logger.Error().Err(err).Msg("Catalog page failed, stopping run with partial results")
			break
		}

		t.update(func(s *Summary) { s.Pages++ })

		for _, item := range page.Items {
			if err := e.refresh(ctx, lease, logger); err != nil {
				t.update(func(s *Summary) {
					s.Incomplete = true
					s.Error = err.Error()
				})
				result = "lease_lost"
				break pages
			}
			m.reset()
			for i := range item.Variants {
				if ctx.Err() != nil {
					cancel()
					break pages
				}
				o := e.processVariant(context.WithoutCancel(ctx), rate, item, &item.Variants[i], resolver, lock)
				e.record(t, logger, o)
			}
		}
	}

	finished := time.Now()
	t.update(func(s *Summary) { s.FinishedAt = finished.UTC() })
	summary := t.snapshot()

	runsTotal.WithLabelValues(result).Inc()
	runDuration.Observe(finished.Sub(start).Seconds())
	lastRunTimestamp.Set(float64(finished.Unix()))

	// A lost lease means another run owns the shop and its summary.
	if e.config.Store != nil && result != "lease_lost" {
		if err := e.config.Store.SaveLast(context.WithoutCancel(ctx), e.config.Shop, runID, summary); err != nil {
			logger.Warn().Err(err).Msg("Failed to store run summary")
		}
	}

	logger.Info().
		Str("result", result).
		Int("total_seen", summary.TotalSeen).
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("pages", summary.Pages).
		Dur("duration", finished.Sub(start)).
		Msg("Bulk price update finished")

	return summary, runErr
}

// refresh extends the run lease before each item. Only ErrLeaseLost is
// returned: once another run holds the shop, no further write may happen.
func (e *Engine) refresh(ctx context.Context, lease *runstore.Lease, logger zerolog.Logger) error {
	if lease == nil {
		return nil
	}
	err := lease.Refresh(context.WithoutCancel(ctx))
	if errors.Is(err, runstore.ErrLeaseLost) {
		logger.Error().Err(err).Msg("Run lease lost, stopping run with partial results")
		return err
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to refresh run lease")
	}
	return nil
}

// pages returns the page iterator, reading ahead when configured.
func (e *Engine) pages(ctx context.Context, w *pagination.Walker) func() (pagination.Page, error) {
	if !e.config.ReadAhead {
		return func() (pagination.Page, error) {
			return w.Next(ctx)
		}
	}
	results := pagination.Prefetch(ctx, w)
	return func() (pagination.Page, error) {
		r, ok := <-results
		if !ok {
			return pagination.Page{}, pagination.ErrExhausted
		}
		return r.Page, r.Err
	}
}

// processVariant takes one variant through resolve, lock, price and write.
// Every error ends here as a skipped or failed outcome.
func (e *Engine) processVariant(ctx context.Context, rate decimal.Decimal, item catalog.Item, v *catalog.Variant,
	resolver *attributes.Resolver, lock *baselock.Lock) Outcome {
	o := Outcome{ProductID: item.ID, VariantID: v.ID}

	attrs, err := resolver.Resolve(ctx, item.ID, v.ID)
	if err != nil {
		var invalid *attributes.InvalidError
		switch {
		case errors.Is(err, attributes.ErrAttributeMissing):
			return skipped(o, ReasonAttributeMissing, err)
		case errors.As(err, &invalid):
			return skipped(o, ReasonAttributeInvalid, err)
		default:
			return failed(o, remoteReason(err), err)
		}
	}

	base, err := lock.EnsureLocked(ctx, v)
	if err != nil {
		return failed(o, ReasonLockFailure, err)
	}
	o.Base = &base

	quote, err := pricing.Compute(rate, attrs, base)
	if err != nil {
		return skipped(o, ReasonInvalidInput, err)
	}
	final := quote.FinalAmount
	o.Final = &final

	if final.Equal(v.Price) {
		return skipped(o, ReasonUnchanged, nil)
	}
	if e.config.DryRun {
		return skipped(o, ReasonDryRun, nil)
	}

	if err := e.api.UpdateVariantPrice(ctx, v.ID, final); err != nil {
		return failed(o, remoteReason(err), err)
	}
	o.Status = StatusUpdated
	return o
}

func (e *Engine) record(t *tally, logger zerolog.Logger, o Outcome) {
	t.record(o)
	variantsTotal.WithLabelValues(string(o.Status), o.Reason).Inc()

	var ev *zerolog.Event
	switch o.Status {
	case StatusUpdated:
		ev = logger.Info()
	case StatusSkipped:
		if o.Reason == ReasonUnchanged || o.Reason == ReasonDryRun {
			ev = logger.Debug()
		} else {
			ev = logger.Warn()
		}
	default:
		ev = logger.Error()
	}
	ev = ev.Int64("product_id", o.ProductID).
		Int64("variant_id", o.VariantID).
		Str("outcome", string(o.Status))
	if o.Reason != "" {
		ev = ev.Str("reason", o.Reason)
	}
	if o.Detail != "" {
		ev = ev.Str("detail", o.Detail)
	}
	if o.Final != nil {
		ev = ev.Str("price", o.Final.StringFixed(2))
	}
	ev.Msg("Variant processed")

	if e.config.Observer != nil {
		e.config.Observer.Observe(o)
	}
}

func skipped(o Outcome, reason string, err error) Outcome {
	o.Status = StatusSkipped
	o.Reason = reason
	if err != nil {
		o.Detail = err.Error()
	}
	return o
}

func failed(o Outcome, reason string, err error) Outcome {
	o.Status = StatusFailed
	o.Reason = reason
	if err != nil {
		o.Detail = err.Error()
	}
	return o
}

// remoteReason classifies an upstream failure.
func remoteReason(err error) string {
	var throttled *client.ThrottledError
	var rejected *client.RejectedError
	switch {
	case errors.As(err, &throttled):
		return ReasonThrottled
	case errors.As(err, &rejected):
		return ReasonRejected
	case errors.Is(err, client.ErrWriteOutcomeUnknown):
		return ReasonWriteUnknown
	default:
		return ReasonRemoteError
	}
}
