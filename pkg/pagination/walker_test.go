package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Sternrassler/catalog-price-sync/pkg/catalog"
)

type stubPage struct {
	items   int
	headers http.Header
	err     error
}

type stubFetcher struct {
	pages   map[string]stubPage
	targets []string
}

func (f *stubFetcher) FetchItems(_ context.Context, target string) ([]catalog.Item, http.Header, error) {
	f.targets = append(f.targets, target)
	p, ok := f.pages[target]
	if !ok {
		return nil, nil, fmt.Errorf("unexpected target %q", target)
	}
	if p.err != nil {
		return nil, nil, p.err
	}
	items := make([]catalog.Item, p.items)
	for i := range items {
		items[i].ID = int64(len(f.targets)*100 + i)
	}
	return items, p.headers, nil
}

func link(next string) http.Header {
	h := http.Header{}
	if next != "" {
		h.Set("Link", `<`+next+`>; rel="next", <https://shop/prev>; rel="previous"`)
	}
	return h
}

func drain(t *testing.T, src Source) ([]Page, error) {
	t.Helper()
	var pages []Page
	for i := 0; i < 100; i++ {
		page, err := src.Next(context.Background())
		if errors.Is(err, ErrExhausted) {
			return pages, nil
		}
		if err != nil {
			return pages, err
		}
		pages = append(pages, page)
	}
	t.Fatal("walker did not terminate")
	return nil, nil
}

func TestWalker_LinkPagination(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]stubPage{
		"p1": {items: 2, headers: link("p2")},
		"p2": {items: 2, headers: link("p3")},
		"p3": {items: 1, headers: link("")},
	}}

	pages, err := drain(t, NewWalker(fetcher, LinkStrategy{FirstURL: "p1"}, DefaultConfig()))
	if err != nil {
		t.Fatalf("walk error = %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(pages))
	}
	for i, p := range pages {
		if p.Number != i+1 {
			t.Errorf("page %d Number = %d", i, p.Number)
		}
	}
	if pages[2].Cursor.HasMore {
		t.Error("last page HasMore = true, want false")
	}
}

func TestWalker_EmptyPageWithMoreTerminates(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]stubPage{
		"p1": {items: 2, headers: link("p2")},
		"p2": {items: 0, headers: link("p3")},
	}}

	pages, err := drain(t, NewWalker(fetcher, LinkStrategy{FirstURL: "p1"}, DefaultConfig()))
	if err != nil {
		t.Fatalf("walk error = %v", err)
	}
	if len(pages) != 1 {
		t.Errorf("pages = %d, want 1", len(pages))
	}
	if len(fetcher.targets) != 2 {
		t.Errorf("fetches = %v, want 2", fetcher.targets)
	}
}

func TestWalker_RepeatedCursorTerminates(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]stubPage{
		"p1": {items: 1, headers: link("p2")},
		"p2": {items: 1, headers: link("p1")},
	}}

	pages, err := drain(t, NewWalker(fetcher, LinkStrategy{FirstURL: "p1"}, DefaultConfig()))
	if err != nil {
		t.Fatalf("walk error = %v", err)
	}
	if len(pages) != 2 {
		t.Errorf("pages = %d, want 2", len(pages))
	}
}

func TestWalker_MaxPages(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]stubPage{
		"p1": {items: 1, headers: link("p2")},
		"p2": {items: 1, headers: link("p3")},
	}}

	pages, err := drain(t, NewWalker(fetcher, LinkStrategy{FirstURL: "p1"}, Config{MaxPages: 1}))
	if err != nil {
		t.Fatalf("walk error = %v", err)
	}
	if len(pages) != 1 {
		t.Errorf("pages = %d, want 1", len(pages))
	}
}

func TestWalker_ErrorEndsWalk(t *testing.T) {
	boom := errors.New("boom")
	fetcher := &stubFetcher{pages: map[string]stubPage{
		"p1": {items: 1, headers: link("p2")},
		"p2": {err: boom},
	}}

	w := NewWalker(fetcher, LinkStrategy{FirstURL: "p1"}, DefaultConfig())
	if _, err := w.Next(context.Background()); err != nil {
		t.Fatalf("first Next() error = %v", err)
	}
	if _, err := w.Next(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("second Next() error = %v, want %v", err, boom)
	}
	if _, err := w.Next(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Errorf("Next() after error = %v, want ErrExhausted", err)
	}
}

func TestWalker_OffsetPagination(t *testing.T) {
	base := "/products.json?limit=2"
	strategy := OffsetStrategy{URL: base, PageSize: 2}

	fetcher := &stubFetcher{pages: map[string]stubPage{
		"/products.json?limit=2&page=1": {items: 2},
		"/products.json?limit=2&page=2": {items: 2},
		"/products.json?limit=2&page=3": {items: 1},
	}}

	pages, err := drain(t, NewWalker(fetcher, strategy, DefaultConfig()))
	if err != nil {
		t.Fatalf("walk error = %v", err)
	}
	if len(pages) != 3 {
		t.Errorf("pages = %d, want 3 (targets %v)", len(pages), fetcher.targets)
	}
}

func TestWalker_OffsetFullLastPageEndsOnEmpty(t *testing.T) {
	strategy := OffsetStrategy{URL: "/products.json?limit=2", PageSize: 2}
	fetcher := &stubFetcher{pages: map[string]stubPage{
		"/products.json?limit=2&page=1": {items: 2},
		"/products.json?limit=2&page=2": {items: 0},
	}}

	pages, err := drain(t, NewWalker(fetcher, strategy, DefaultConfig()))
	if err != nil {
		t.Fatalf("walk error = %v", err)
	}
	if len(pages) != 1 {
		t.Errorf("pages = %d, want 1", len(pages))
	}
}

func TestLinkStrategy_Next(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		hasMore bool
	}{
		{"next only", `<https://shop/products.json?page_info=abc&limit=50>; rel="next"`, "https://shop/products.json?page_info=abc&limit=50", true},
		{"previous and next", `<https://shop/a>; rel="previous", <https://shop/b>; rel="next"`, "https://shop/b", true},
		{"previous only", `<https://shop/a>; rel="previous"`, "", false},
		{"no header", ``, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Link", tt.header)
			}
			got := LinkStrategy{}.Next("", 1, h)
			if got.Next != tt.want || got.HasMore != tt.hasMore {
				t.Errorf("Next() = %+v, want {%s %v}", got, tt.want, tt.hasMore)
			}
		})
	}
}

func TestPrefetch_PreservesOrder(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]stubPage{
		"p1": {items: 1, headers: link("p2")},
		"p2": {items: 1, headers: link("p3")},
		"p3": {items: 1},
	}}

	var numbers []int
	for r := range Prefetch(context.Background(), NewWalker(fetcher, LinkStrategy{FirstURL: "p1"}, DefaultConfig())) {
		if r.Err != nil {
			t.Fatalf("Prefetch error = %v", r.Err)
		}
		numbers = append(numbers, r.Page.Number)
	}
	if len(numbers) != 3 || numbers[0] != 1 || numbers[1] != 2 || numbers[2] != 3 {
		t.Errorf("page order = %v, want [1 2 3]", numbers)
	}
}

func TestPrefetch_DeliversError(t *testing.T) {
	boom := errors.New("boom")
	fetcher := &stubFetcher{pages: map[string]stubPage{
		"p1": {items: 1, headers: link("p2")},
		"p2": {err: boom},
	}}

	var results []Result
	for r := range Prefetch(context.Background(), NewWalker(fetcher, LinkStrategy{FirstURL: "p1"}, DefaultConfig())) {
		results = append(results, r)
	}
	if len(results) != 2 || !errors.Is(results[1].Err, boom) {
		t.Errorf("results = %+v, want page then error", results)
	}
}
