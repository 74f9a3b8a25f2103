// Package testutil provides a mock upstream shop for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/Sternrassler/catalog-price-sync/pkg/catalog"
)

// PaginationMode selects how the listing is paginated.
type PaginationMode int

const (
	// PaginateLink continues via a Link header carrying page_info.
	PaginateLink PaginationMode = iota

	// PaginateOffset continues via a page query parameter.
	PaginateOffset
)

// MockVariant is a variant held by the mock shop.
type MockVariant struct {
	ID         int64
	ProductID  int64
	Title      string
	Price      string
	Metafields []catalog.Metafield
}

// MockProduct is a product held by the mock shop.
type MockProduct struct {
	ID         int64
	Title      string
	Variants   []*MockVariant
	Metafields []catalog.Metafield
}

// MockShop is a configurable in-memory upstream catalog for testing.
type MockShop struct {
	server *httptest.Server
	mu     sync.Mutex

	products []*MockProduct
	variants map[int64]*MockVariant
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	mode           PaginationMode
	emptyPage      int
	failPage       map[int]int
	failPath       map[string]int
	throttleWrites map[int64]int
	throttleReads  int

	// Tracking
	requestCount  int
	writeAttempts map[int64]int
	priceWrites   map[int64][]string
	lastHeader    http.Header
}

// NewMockShop creates a new mock shop server.
func NewMockShop() *MockShop {
	mock := &MockShop{
		variants:       make(map[int64]*MockVariant),
		handlers:       make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failPage:       make(map[int]int),
		failPath:       make(map[string]int),
		throttleWrites: make(map[int64]int),
		writeAttempts:  make(map[int64]int),
		priceWrites:    make(map[int64][]string),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.lastHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Shopify-Shop-Api-Call-Limit", "1/40")

		if exists {
			handler(w, r)
			return
		}
		mock.route(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockShop) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockShop) Close() {
	m.server.Close()
}

// AddProduct adds a product. Variant product ids are filled in.
func (m *MockShop) AddProduct(p *MockProduct) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = append(m.products, p)
	for _, v := range p.Variants {
		v.ProductID = p.ID
		m.variants[v.ID] = v
	}
}

// SetPagination selects the pagination mode.
func (m *MockShop) SetPagination(mode PaginationMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// SetEmptyPage makes listing page n (1-based) come back empty while still
// advertising a next page.
func (m *MockShop) SetEmptyPage(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emptyPage = n
}

// FailPage makes listing page n (1-based) answer with status.
func (m *MockShop) FailPage(n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPage[n] = status
}

// FailPath makes every request to path answer with status.
func (m *MockShop) FailPath(path string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPath[path] = status
}

// ThrottleWrites makes the next n writes to a variant answer 429.
func (m *MockShop) ThrottleWrites(variantID int64, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttleWrites[variantID] = n
}

// ThrottleReads makes the next n reads answer 200 with a throttled error body.
func (m *MockShop) ThrottleReads(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttleReads = n
}

// SetHandler sets a custom handler for a specific path.
func (m *MockShop) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// RequestCount returns the number of requests made to the server.
func (m *MockShop) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockShop) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

// WriteAttempts returns how many PUTs reached the variant, throttled ones included.
func (m *MockShop) WriteAttempts(variantID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeAttempts[variantID]
}

// PriceWrites returns the prices written to a variant, in order.
func (m *MockShop) PriceWrites(variantID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.priceWrites[variantID]...)
}

// Price returns the current price of a variant.
func (m *MockShop) Price(variantID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.variants[variantID]; ok {
		return v.Price
	}
	return ""
}

// VariantMetafield returns a variant metafield value.
func (m *MockShop) VariantMetafield(variantID int64, key catalog.Key) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variants[variantID]
	if !ok {
		return "", false
	}
	mf, ok := catalog.Find(v.Metafields, key)
	return mf.Value, ok
}

// Reset clears all tracking counters.
func (m *MockShop) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.lastHeader = nil
	m.writeAttempts = make(map[int64]int)
	m.priceWrites = make(map[int64][]string)
}

// route dispatches /admin/api/{version}/... requests.
func (m *MockShop) route(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	status, failing := m.failPath[r.URL.Path]
	throttled := false
	if r.Method == http.MethodGet && m.throttleReads > 0 {
		m.throttleReads--
		throttled = true
	}
	m.mu.Unlock()

	if failing {
		writeError(w, status, "forced failure")
		return
	}
	if throttled {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"errors":[{"message":"Throttled","extensions":{"code":"THROTTLED"}}]}`))
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "admin" || parts[1] != "api" {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	rest := parts[3:]

	switch {
	case len(rest) == 1 && rest[0] == "products.json" && r.Method == http.MethodGet:
		m.listProducts(w, r)
	case len(rest) == 3 && rest[0] == "products" && rest[2] == "metafields.json" && r.Method == http.MethodGet:
		m.productMetafields(w, rest[1])
	case len(rest) == 3 && rest[0] == "variants" && rest[2] == "metafields.json" && r.Method == http.MethodGet:
		m.variantMetafields(w, rest[1])
	case len(rest) == 2 && rest[0] == "variants" && strings.HasSuffix(rest[1], ".json") && r.Method == http.MethodPut:
		m.updateVariant(w, r, strings.TrimSuffix(rest[1], ".json"))
	default:
		writeError(w, http.StatusNotFound, "Not Found")
	}
}

type productJSON struct {
	ID       int64         `json:"id"`
	Title    string        `json:"title"`
	Variants []variantJSON `json:"variants"`
}

type variantJSON struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Title     string `json:"title"`
	Price     string `json:"price"`
}

func (m *MockShop) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := 0
	switch m.mode {
	case PaginateOffset:
		if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 1 {
			start = (p - 1) * limit
		}
	default:
		if token := q.Get("page_info"); token != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(token, "p"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid page_info")
				return
			}
			start = n
		}
	}
	pageNum := start/limit + 1

	if status, ok := m.failPage[pageNum]; ok {
		writeError(w, status, "forced page failure")
		return
	}

	end := start + limit
	if end > len(m.products) {
		end = len(m.products)
	}
	if start > end {
		start = end
	}

	products := []productJSON{}
	if pageNum != m.emptyPage {
		for _, p := range m.products[start:end] {
			pj := productJSON{ID: p.ID, Title: p.Title, Variants: []variantJSON{}}
			for _, v := range p.Variants {
				pj.Variants = append(pj.Variants, variantJSON{ID: v.ID, ProductID: p.ID, Title: v.Title, Price: v.Price})
			}
			products = append(products, pj)
		}
	}

	if m.mode == PaginateLink && (end < len(m.products) || pageNum == m.emptyPage) {
		next := fmt.Sprintf("http://%s%s?limit=%d&page_info=p%d", r.Host, r.URL.Path, limit, start+limit)
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, next))
	}

	writeJSON(w, map[string]any{"products": products})
}

func (m *MockShop) productMetafields(w http.ResponseWriter, idStr string) {
	id, _ := strconv.ParseInt(idStr, 10, 64)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.ID == id {
			writeJSON(w, map[string]any{"metafields": nonNil(p.Metafields)})
			return
		}
	}
	writeError(w, http.StatusNotFound, "Not Found")
}

func (m *MockShop) variantMetafields(w http.ResponseWriter, idStr string) {
	id, _ := strconv.ParseInt(idStr, 10, 64)

	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variants[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, map[string]any{"metafields": nonNil(v.Metafields)})
}

func (m *MockShop) updateVariant(w http.ResponseWriter, r *http.Request, idStr string) {
	id, _ := strconv.ParseInt(idStr, 10, 64)

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var body struct {
		Variant struct {
			ID         int64               `json:"id"`
			Price      *string             `json:"price"`
			Metafields []catalog.Metafield `json:"metafields"`
		} `json:"variant"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeAttempts[id]++
	if n := m.throttleWrites[id]; n > 0 {
		m.throttleWrites[id] = n - 1
		w.Header().Set("Retry-After", "0")
		writeError(w, http.StatusTooManyRequests, "Exceeded 2 calls per second for api client. Reduce request rates to resume uninterrupted service.")
		return
	}

	v, ok := m.variants[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if body.Variant.ID != id {
		writeError(w, http.StatusUnprocessableEntity, "id mismatch")
		return
	}

	if body.Variant.Price != nil {
		v.Price = *body.Variant.Price
		m.priceWrites[id] = append(m.priceWrites[id], v.Price)
	}
	for _, mf := range body.Variant.Metafields {
		key := catalog.Key{Namespace: mf.Namespace, Key: mf.Key}
		replaced := false
		for i := range v.Metafields {
			if key.Matches(v.Metafields[i]) {
				v.Metafields[i].Value = mf.Value
				v.Metafields[i].Type = mf.Type
				replaced = true
			}
		}
		if !replaced {
			v.Metafields = append(v.Metafields, mf)
		}
	}

	writeJSON(w, map[string]any{"variant": variantJSON{ID: v.ID, ProductID: v.ProductID, Title: v.Title, Price: v.Price}})
}

func nonNil(fields []catalog.Metafield) []catalog.Metafield {
	if fields == nil {
		return []catalog.Metafield{}
	}
	return fields
}

func writeJSON(w http.ResponseWriter, v any) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"errors": msg})
}

// Metafield builds a metafield for fixtures.
func Metafield(namespace, key, value string) catalog.Metafield {
	return catalog.Metafield{Namespace: namespace, Key: key, Value: value}
}
