package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

// DefaultAPIVersion is the upstream Admin API version used when none is set.
const DefaultAPIVersion = "2023-10"

// MetafieldTypeDecimal is the metafield type used for the base-price lock.
const MetafieldTypeDecimal = "number_decimal"

// Remote is the transport the API runs on. *client.Client implements it.
type Remote interface {
	Get(ctx context.Context, target string) ([]byte, http.Header, error)
	Put(ctx context.Context, target string, payload any) error
}

// API maps catalog operations onto upstream endpoints.
type API struct {
	remote Remote
	prefix string
}

// NewAPI creates an API for the given Admin API version.
func NewAPI(remote Remote, version string) *API {
	if version == "" {
		version = DefaultAPIVersion
	}
	return &API{
		remote: remote,
		prefix: "/admin/api/" + version,
	}
}

// ItemsURL returns the first-page URL of the item listing.
func (a *API) ItemsURL(limit int) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	return a.prefix + "/products.json?" + q.Encode()
}

// FetchItems fetches one page of items. target is a listing URL, either
// from ItemsURL or from a pagination cursor.
func (a *API) FetchItems(ctx context.Context, target string) ([]Item, http.Header, error) {
	body, headers, err := a.remote.Get(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	var resp struct {
		Products []Item `json:"products"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, fmt.Errorf("decode products: %w", err)
	}
	for i := range resp.Products {
		for j := range resp.Products[i].Variants {
			if resp.Products[i].Variants[j].ProductID == 0 {
				resp.Products[i].Variants[j].ProductID = resp.Products[i].ID
			}
		}
	}
	return resp.Products, headers, nil
}

// ItemMetafields returns the metafields attached to an item.
func (a *API) ItemMetafields(ctx context.Context, itemID int64) ([]Metafield, error) {
	return a.metafields(ctx, fmt.Sprintf("%s/products/%d/metafields.json", a.prefix, itemID))
}

// VariantMetafields returns the metafields attached to a variant.
func (a *API) VariantMetafields(ctx context.Context, variantID int64) ([]Metafield, error) {
	return a.metafields(ctx, fmt.Sprintf("%s/variants/%d/metafields.json", a.prefix, variantID))
}

func (a *API) metafields(ctx context.Context, target string) ([]Metafield, error) {
	body, _, err := a.remote.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Metafields []Metafield `json:"metafields"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode metafields: %w", err)
	}
	return resp.Metafields, nil
}

type variantUpdate struct {
	ID         int64       `json:"id"`
	Price      string      `json:"price,omitempty"`
	Metafields []Metafield `json:"metafields,omitempty"`
}

// UpdateVariantPrice writes a new live price, formatted with two decimals.
func (a *API) UpdateVariantPrice(ctx context.Context, variantID int64, price decimal.Decimal) error {
	return a.putVariant(ctx, variantUpdate{ID: variantID, Price: price.StringFixed(2)})
}

// SetVariantMetafield creates or replaces one metafield on a variant.
func (a *API) SetVariantMetafield(ctx context.Context, variantID int64, mf Metafield) error {
	mf.ID = 0
	return a.putVariant(ctx, variantUpdate{ID: variantID, Metafields: []Metafield{mf}})
}

func (a *API) putVariant(ctx context.Context, update variantUpdate) error {
	target := fmt.Sprintf("%s/variants/%d.json", a.prefix, update.ID)
	if err := a.remote.Put(ctx, target, map[string]variantUpdate{"variant": update}); err != nil {
		return err
	}
	return nil
}
