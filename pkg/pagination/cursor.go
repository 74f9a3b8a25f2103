package pagination

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/tomnomnom/linkheader"
)

// Cursor is the continuation of a page listing. An empty Next or a false
// HasMore ends the walk.
type Cursor struct {
	Next    string
	HasMore bool
}

// Strategy knows where the listing starts and how to continue it.
type Strategy interface {
	// First returns the URL of the first page.
	First() string

	// Next derives the cursor following a page fetched from current.
	Next(current string, itemCount int, headers http.Header) Cursor
}

// LinkStrategy follows rel="next" in the Link response header.
type LinkStrategy struct {
	FirstURL string
}

// First implements Strategy.
func (s LinkStrategy) First() string {
	return s.FirstURL
}

// Next implements Strategy.
func (s LinkStrategy) Next(_ string, _ int, headers http.Header) Cursor {
	for _, link := range linkheader.ParseMultiple(headers.Values("Link")) {
		if link.Rel == "next" && link.URL != "" {
			return Cursor{Next: link.URL, HasMore: true}
		}
	}
	return Cursor{}
}

// OffsetStrategy walks numbered pages of a fixed size. A page shorter than
// PageSize is the last one.
type OffsetStrategy struct {
	// URL is the listing URL without a page parameter.
	URL      string
	PageSize int

	// Param names the page query parameter (default "page").
	Param string
}

// First implements Strategy.
func (s OffsetStrategy) First() string {
	return s.pageURL(s.URL, 1)
}

// Next implements Strategy.
func (s OffsetStrategy) Next(current string, itemCount int, _ http.Header) Cursor {
	if s.PageSize > 0 && itemCount < s.PageSize {
		return Cursor{}
	}
	u, err := url.Parse(current)
	if err != nil {
		return Cursor{}
	}
	page, err := strconv.Atoi(u.Query().Get(s.param()))
	if err != nil || page < 1 {
		page = 1
	}
	return Cursor{Next: s.pageURL(current, page+1), HasMore: true}
}

func (s OffsetStrategy) param() string {
	if s.Param == "" {
		return "page"
	}
	return s.Param
}

func (s OffsetStrategy) pageURL(base string, page int) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set(s.param(), strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}
