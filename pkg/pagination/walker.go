package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/catalog-price-sync/pkg/catalog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrExhausted is returned by Next once the listing has ended.
var ErrExhausted = errors.New("pagination exhausted")

var pagesFetched = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pricesync_pages_fetched_total",
	Help: "Total catalog pages fetched",
})

// Fetcher fetches the items of one listing page. *catalog.API implements it.
type Fetcher interface {
	FetchItems(ctx context.Context, target string) ([]catalog.Item, http.Header, error)
}

// Source yields pages in order until ErrExhausted.
type Source interface {
	Next(ctx context.Context) (Page, error)
}

// Page is one fetched page of items.
type Page struct {
	// Number is the 1-based position of the page in this walk.
	Number int
	Items  []catalog.Item
	Cursor Cursor
}

// Config holds walker configuration.
type Config struct {
	// MaxPages stops the walk after this many pages (0 means no limit).
	MaxPages int
}

// DefaultConfig returns the default walker configuration.
func DefaultConfig() Config {
	return Config{}
}

// Walker is a forward-only, non-restartable sequence of pages.
type Walker struct {
	fetcher  Fetcher
	strategy Strategy
	config   Config
	logger   zerolog.Logger

	next string
	seen map[string]struct{}
	page int
	done bool
}

// NewWalker creates a walker positioned before the first page.
func NewWalker(fetcher Fetcher, strategy Strategy, config Config) *Walker {
	return &Walker{
		fetcher:  fetcher,
		strategy: strategy,
		config:   config,
		logger:   log.With().Str("component", "pagination").Logger(),
		next:     strategy.First(),
		seen:     make(map[string]struct{}),
	}
}

// Next fetches the next page. It returns ErrExhausted when the previous page
// had no continuation, when the fetched page is empty, or when MaxPages has
// been reached. After any error the walker is exhausted.
func (w *Walker) Next(ctx context.Context) (Page, error) {
	if w.done {
		return Page{}, ErrExhausted
	}

	target := w.next
	w.seen[target] = struct{}{}

	items, headers, err := w.fetcher.FetchItems(ctx, target)
	if err != nil {
		w.done = true
		return Page{}, fmt.Errorf("fetch page %d: %w", w.page+1, err)
	}
	pagesFetched.Inc()

	if len(items) == 0 {
		w.done = true
		w.logger.Debug().Int("page", w.page+1).Msg("Empty page, ending walk")
		return Page{}, ErrExhausted
	}

	w.page++
	cursor := w.strategy.Next(target, len(items), headers)
	if !cursor.HasMore || cursor.Next == "" {
		cursor = Cursor{}
		w.done = true
	} else if _, dup := w.seen[cursor.Next]; dup {
		w.logger.Warn().Str("cursor", cursor.Next).Int("page", w.page).Msg("Cursor repeated, ending walk")
		cursor = Cursor{}
		w.done = true
	}
	if w.config.MaxPages > 0 && w.page >= w.config.MaxPages {
		w.done = true
	}
	w.next = cursor.Next

	w.logger.Debug().
		Int("page", w.page).
		Int("items", len(items)).
		Bool("has_more", cursor.HasMore).
		Msg("Fetched page")

	return Page{Number: w.page, Items: items, Cursor: cursor}, nil
}

// Result is one element delivered by Prefetch.
type Result struct {
	Page Page
	Err  error
}

// Prefetch reads src one page ahead in a separate goroutine. Pages arrive in
// order; the channel closes after ErrExhausted, after the first error (which
// is delivered) or when ctx is done. Callers that stop early must cancel ctx.
func Prefetch(ctx context.Context, src Source) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		for {
			page, err := src.Next(ctx)
			if errors.Is(err, ErrExhausted) {
				return
			}
			select {
			case out <- Result{Page: page, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}
