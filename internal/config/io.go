package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/catalog-price-sync/pkg/logging"
	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("config not found")

func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, ErrNotFound
		}
		return Config{}, err
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to Default when path is empty or
// the file does not exist.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, ErrNotFound) {
		return Default(), nil
	}
	return Config{}, err
}

// Save writes cfg to path atomically.
func Save(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_ = tmp.Chmod(0o600)
	_, writeErr := tmp.Write(out)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()

	if err := errors.Join(writeErr, syncErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables. getenv is usually
// os.Getenv; unset or empty variables leave the value unchanged.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("SHOP", &c.Shop)
	str("SHOPIFY_TOKEN", &c.AccessToken)
	str("API_VERSION", &c.APIVersion)
	str("REDIS_URL", &c.RedisURL)
	str("LOG_LEVEL", &c.Log.Level)
	str("LISTEN_ADDR", &c.Listen)

	var pagination string
	str("PAGINATION", &pagination)
	if pagination != "" {
		c.Pagination = PaginationMode(strings.ToLower(pagination))
	}

	var delayMS int
	if err := integer("WRITE_DELAY_MS", &delayMS); err != nil {
		return err
	}
	if getenv("WRITE_DELAY_MS") != "" {
		c.WriteDelay = time.Duration(delayMS) * time.Millisecond
	}

	return errors.Join(
		integer("PAGE_SIZE", &c.PageSize),
		integer("MAX_RETRIES", &c.Retry.MaxAttempts),
		integer("MAX_OUTCOMES", &c.MaxOutcomes),
		boolean("DRY_RUN", &c.DryRun),
		boolean("READ_AHEAD", &c.ReadAhead),
		boolean("LOG_PRETTY", &c.Log.Pretty),
	)
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Shop) == "" {
		errs = append(errs, errors.New("shop is required"))
	}
	if c.AccessToken == "" {
		errs = append(errs, errors.New("access token is required"))
	}
	if c.PageSize < 1 || c.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("pageSize must be between 1 and %d (got %d)", MaxPageSize, c.PageSize))
	}
	if c.Pagination != PaginationLink && c.Pagination != PaginationOffset {
		errs = append(errs, fmt.Errorf("pagination must be one of %v (got %q)", PaginationValues(), c.Pagination))
	}
	if c.MaxPages < 0 {
		errs = append(errs, errors.New("maxPages must not be negative"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.maxAttempts must be >= 1 (got %d)", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < 0 {
		errs = append(errs, errors.New("retry backoffs must not be negative"))
	}
	if c.WriteDelay < 0 {
		errs = append(errs, errors.New("writeDelay must not be negative"))
	}
	if _, err := c.AttributeKeys(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Unit(); err != nil {
		errs = append(errs, fmt.Errorf("attributes.unit: %w", err))
	}
	if _, err := c.Lock(); err != nil {
		errs = append(errs, fmt.Errorf("lockKey: %w", err))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}
