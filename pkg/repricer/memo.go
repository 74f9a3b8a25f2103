package repricer

import (
	"context"

	"github.com/Sternrassler/catalog-price-sync/pkg/catalog"
)

// memo shares metafield reads between the resolver and the lock while one
// item is processed. It is reset for every item, so nothing is reused across
// items or runs.
type memo struct {
	api      Catalog
	items    map[int64][]catalog.Metafield
	variants map[int64][]catalog.Metafield
}

func newMemo(api Catalog) *memo {
	m := &memo{api: api}
	m.reset()
	return m
}

func (m *memo) reset() {
	m.items = make(map[int64][]catalog.Metafield)
	m.variants = make(map[int64][]catalog.Metafield)
}

func (m *memo) ItemMetafields(ctx context.Context, itemID int64) ([]catalog.Metafield, error) {
	if fields, ok := m.items[itemID]; ok {
		return fields, nil
	}
	fields, err := m.api.ItemMetafields(ctx, itemID)
	if err != nil {
		return nil, err
	}
	m.items[itemID] = fields
	return fields, nil
}

func (m *memo) VariantMetafields(ctx context.Context, variantID int64) ([]catalog.Metafield, error) {
	if fields, ok := m.variants[variantID]; ok {
		return fields, nil
	}
	fields, err := m.api.VariantMetafields(ctx, variantID)
	if err != nil {
		return nil, err
	}
	m.variants[variantID] = fields
	return fields, nil
}

func (m *memo) SetVariantMetafield(ctx context.Context, variantID int64, mf catalog.Metafield) error {
	delete(m.variants, variantID)
	return m.api.SetVariantMetafield(ctx, variantID, mf)
}
