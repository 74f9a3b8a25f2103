package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/catalog-price-sync/pkg/attributes"
	"github.com/Sternrassler/catalog-price-sync/pkg/baselock"
	"github.com/Sternrassler/catalog-price-sync/pkg/catalog"
)

type PaginationMode string

const (
	PaginationLink   PaginationMode = "link"
	PaginationOffset PaginationMode = "offset"
)

// MaxPageSize is the largest listing page the upstream accepts.
const MaxPageSize = 250

type RetryConfig struct {
	MaxAttempts          int           `yaml:"maxAttempts"`
	InitialBackoff       time.Duration `yaml:"initialBackoff"`
	MaxBackoff           time.Duration `yaml:"maxBackoff"`
	RetryAmbiguousWrites bool          `yaml:"retryAmbiguousWrites"`
}

// AttributeConfig names the metafields ("namespace.key") holding pricing inputs.
type AttributeConfig struct {
	Weight        string `yaml:"weight"`
	AuxiliaryCost string `yaml:"auxiliaryCost"`
	MakingCharge  string `yaml:"makingCharge"`
	Tax           string `yaml:"tax"`
	Unit          string `yaml:"unit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Config struct {
	Shop        string `yaml:"shop"`
	APIVersion  string `yaml:"apiVersion"`
	AccessToken string `yaml:"accessToken"`
	RedisURL    string `yaml:"redisURL"`

	PageSize   int            `yaml:"pageSize"`
	Pagination PaginationMode `yaml:"pagination"`
	ReadAhead  bool           `yaml:"readAhead"`
	MaxPages   int            `yaml:"maxPages"`

	Retry      RetryConfig   `yaml:"retry"`
	WriteDelay time.Duration `yaml:"writeDelay"`

	Attributes AttributeConfig `yaml:"attributes"`
	LockKey    string          `yaml:"lockKey"`
	DryRun     bool            `yaml:"dryRun"`

	// MaxOutcomes caps the per-variant outcomes kept in a run summary.
	// Negative keeps all of them.
	MaxOutcomes int `yaml:"maxOutcomes"`

	Log    LogConfig `yaml:"log"`
	Listen string    `yaml:"listen"`
}

func PaginationValues() []PaginationMode {
	return []PaginationMode{PaginationLink, PaginationOffset}
}

func Default() Config {
	keys := attributes.DefaultKeys()
	return Config{
		APIVersion: catalog.DefaultAPIVersion,
		PageSize:   50,
		Pagination: PaginationLink,
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		},
		WriteDelay: 500 * time.Millisecond,
		Attributes: AttributeConfig{
			Weight:        keys.Weight.String(),
			AuxiliaryCost: keys.AuxiliaryCost.String(),
			MakingCharge:  keys.MakingCharge.String(),
			Tax:           keys.Tax.String(),
			Unit:          string(attributes.Gram),
		},
		LockKey:     baselock.DefaultKey.String(),
		MaxOutcomes: 1000,
		Log: LogConfig{
			Level: "info",
		},
		Listen: "127.0.0.1:8080",
	}
}

// BaseURL returns the shop origin. A bare domain is served over https.
func (c Config) BaseURL() string {
	shop := strings.TrimRight(strings.TrimSpace(c.Shop), "/")
	if strings.HasPrefix(shop, "http://") || strings.HasPrefix(shop, "https://") {
		return shop
	}
	return "https://" + shop
}

// ShopName returns the shop domain without scheme.
func (c Config) ShopName() string {
	shop := strings.TrimRight(strings.TrimSpace(c.Shop), "/")
	shop = strings.TrimPrefix(shop, "https://")
	return strings.TrimPrefix(shop, "http://")
}

// AttributeKeys parses the configured attribute metafield names.
// An empty optional name disables that attribute.
func (c Config) AttributeKeys() (attributes.Keys, error) {
	var keys attributes.Keys
	fields := []struct {
		name     string
		value    string
		required bool
		dst      *catalog.Key
	}{
		{"weight", c.Attributes.Weight, true, &keys.Weight},
		{"auxiliaryCost", c.Attributes.AuxiliaryCost, false, &keys.AuxiliaryCost},
		{"makingCharge", c.Attributes.MakingCharge, false, &keys.MakingCharge},
		{"tax", c.Attributes.Tax, false, &keys.Tax},
	}
	for _, f := range fields {
		if f.value == "" && !f.required {
			continue
		}
		k, err := catalog.ParseKey(f.value)
		if err != nil {
			return attributes.Keys{}, fmt.Errorf("attributes.%s: %w", f.name, err)
		}
		*f.dst = k
	}
	return keys, nil
}

// Unit returns the configured mass unit.
func (c Config) Unit() (attributes.Unit, error) {
	if c.Attributes.Unit == "" {
		return attributes.Gram, nil
	}
	return attributes.ParseUnit(c.Attributes.Unit)
}

// Lock returns the base-price lock metafield key.
func (c Config) Lock() (catalog.Key, error) {
	return catalog.ParseKey(c.LockKey)
}
