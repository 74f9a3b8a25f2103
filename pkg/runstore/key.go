package runstore

import (
	"strings"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "pricesync"

// Kind is the kind of record stored for a shop.
type Kind string

const (
	KindLease Kind = "lease"
	KindLast  Kind = "last"
)

// Key identifies one record of one shop.
type Key struct {
	// Shop is the shop domain, e.g. "example.myshopify.com".
	Shop string
	Kind Kind
}

// String generates the redis key.
// Format: pricesync:run:<shop>:<kind>
//
// Example:
//
//	pricesync:run:example.myshopify.com:lease
func (k Key) String() string {
	shop := strings.ToLower(strings.TrimSpace(k.Shop))
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimPrefix(shop, "http://")
	shop = strings.Trim(shop, "/")
	if shop == "" {
		shop = "default"
	}
	return strings.Join([]string{KeyPrefix, "run", shop, string(k.Kind)}, ":")
}
