// Package catalog defines the remote catalog model (items, variants and
// their metafields) and the upstream endpoints used to read and update it.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Item is one product in the remote catalog.
type Item struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Variants []Variant `json:"variants"`
}

// Variant is one purchasable SKU of an item.
type Variant struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Title     string          `json:"title"`
	SKU       string          `json:"sku"`
	Price     decimal.Decimal `json:"price"`

	// LockedBase is the captured base price once it is known for this run.
	LockedBase *decimal.Decimal `json:"-"`
}

// Key identifies a metafield by namespace and key.
type Key struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Key       string `json:"key" yaml:"key"`
}

// ParseKey parses "namespace.key".
func ParseKey(s string) (Key, error) {
	ns, key, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok || ns == "" || key == "" {
		return Key{}, fmt.Errorf("metafield key %q: want namespace.key", s)
	}
	return Key{Namespace: ns, Key: key}, nil
}

func (k Key) String() string {
	return k.Namespace + "." + k.Key
}

// IsZero reports whether k is unset.
func (k Key) IsZero() bool {
	return k.Namespace == "" && k.Key == ""
}

// Matches reports whether mf carries k. Matching ignores case.
func (k Key) Matches(mf Metafield) bool {
	return strings.EqualFold(k.Namespace, mf.Namespace) && strings.EqualFold(k.Key, mf.Key)
}

// Metafield is a namespaced key/value entry attached to an item or variant.
type Metafield struct {
	ID        int64  `json:"id,omitempty"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type,omitempty"`
}

// Find returns the first metafield matching k.
func Find(fields []Metafield, k Key) (Metafield, bool) {
	for _, mf := range fields {
		if k.Matches(mf) {
			return mf, true
		}
	}
	return Metafield{}, false
}

// UnmarshalJSON accepts values encoded as strings, numbers or objects.
// Non-string values keep their raw JSON text.
func (m *Metafield) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        int64           `json:"id"`
		Namespace string          `json:"namespace"`
		Key       string          `json:"key"`
		Value     json.RawMessage `json:"value"`
		Type      string          `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.ID = raw.ID
	m.Namespace = raw.Namespace
	m.Key = raw.Key
	m.Type = raw.Type
	m.Value = ""

	v := bytes.TrimSpace(raw.Value)
	switch {
	case len(v) == 0 || bytes.Equal(v, []byte("null")):
	case v[0] == '"':
		if err := json.Unmarshal(v, &m.Value); err != nil {
			return fmt.Errorf("metafield %s.%s value: %w", raw.Namespace, raw.Key, err)
		}
	default:
		m.Value = string(v)
	}
	return nil
}
