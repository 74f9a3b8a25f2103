// Command price-sync reprices a catalog from a market rate.
//
// Usage:
//
//	price-sync run -rate 5000 [-config price-sync.yaml] [-dry-run]
//	price-sync serve [-config price-sync.yaml] [-listen :8080]
//	price-sync config [-o price-sync.yaml]
//
// Configuration comes from the YAML file, overridden by environment
// variables (SHOP, SHOPIFY_TOKEN, REDIS_URL, ...).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/catalog-price-sync/internal/config"
	"github.com/Sternrassler/catalog-price-sync/pkg/catalog"
	"github.com/Sternrassler/catalog-price-sync/pkg/client"
	"github.com/Sternrassler/catalog-price-sync/pkg/logging"
	"github.com/Sternrassler/catalog-price-sync/pkg/pagination"
	"github.com/Sternrassler/catalog-price-sync/pkg/repricer"
	"github.com/Sternrassler/catalog-price-sync/pkg/runstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage:
  price-sync run -rate <market rate> [-config file] [-dry-run]
  price-sync serve [-config file] [-listen addr]
  price-sync config [-o file]
`

var errUsage = errors.New("unknown or missing command")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Getenv); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		if !errors.Is(err, flag.ErrHelp) {
			log.Error().Err(err).Msg("price-sync failed")
		}
		stop()
		os.Exit(1)
	}
}

// run dispatches a subcommand.
func run(ctx context.Context, args []string, stdout io.Writer, getenv func(string) string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "run":
		return runOnce(ctx, args[1:], stdout, getenv)
	case "serve":
		return serve(ctx, args[1:], getenv)
	case "config":
		return writeConfig(args[1:], stdout)
	default:
		return fmt.Errorf("%w: %q", errUsage, args[0])
	}
}

func runOnce(ctx context.Context, args []string, stdout io.Writer, getenv func(string) string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", getenv("PRICE_SYNC_CONFIG"), "path to the YAML config file")
	rate := fs.Float64("rate", 0, "market rate per mass unit")
	dryRun := fs.Bool("dry-run", false, "compute prices without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, getenv)
	if err != nil {
		return err
	}
	if *dryRun {
		cfg.DryRun = true
	}
	setupLogging(cfg)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, runErr := a.engine.Run(ctx, *rate)
	if summary.RunID != "" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return runErr
}

func serve(ctx context.Context, args []string, getenv func(string) string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", getenv("PRICE_SYNC_CONFIG"), "path to the YAML config file")
	listen := fs.String("listen", "", "listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, getenv)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	setupLogging(cfg)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", cfg.Listen).Str("shop", cfg.ShopName()).Msg("Starting price sync server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		a.logger.Info().Msg("Shutting down price sync server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeConfig(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	out := fs.String("o", "price-sync.yaml", "file to write the default configuration to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := config.Save(*out, config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", *out)
	return nil
}

func loadConfig(path string, getenv func(string) string) (config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return config.Config{}, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg config.Config) {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
		Fields: map[string]string{"service": "price-sync", "shop": cfg.ShopName()},
	})
}

// app holds the wired components shared by the run and serve commands.
type app struct {
	cfg    config.Config
	engine *repricer.Engine
	redis  *redis.Client
	store  *runstore.Store
	logger zerolog.Logger
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logging.NewLogger("price-sync"),
	}

	if cfg.RedisURL != "" {
		opts, err := redisOptions(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.logger.Info().Str("redis", opts.Addr).Msg("Connected to Redis")
		a.store = runstore.NewStore(a.redis)
	}

	ccfg := client.DefaultConfig(cfg.BaseURL(), cfg.AccessToken)
	ccfg.Redis = a.redis
	ccfg.WriteDelay = cfg.WriteDelay
	ccfg.Retry.MaxAttempts = cfg.Retry.MaxAttempts
	ccfg.Retry.InitialBackoff = cfg.Retry.InitialBackoff
	ccfg.Retry.MaxBackoff = cfg.Retry.MaxBackoff
	ccfg.RetryAmbiguousWrites = cfg.Retry.RetryAmbiguousWrites
	c, err := client.New(ccfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	keys, err := cfg.AttributeKeys()
	if err != nil {
		a.Close()
		return nil, err
	}
	unit, err := cfg.Unit()
	if err != nil {
		a.Close()
		return nil, err
	}
	lockKey, err := cfg.Lock()
	if err != nil {
		a.Close()
		return nil, err
	}

	api := catalog.NewAPI(c, cfg.APIVersion)
	engine, err := repricer.New(api, repricer.Config{
		Shop:        cfg.ShopName(),
		Strategy:    strategy(cfg, api),
		Pagination:  pagination.Config{MaxPages: cfg.MaxPages},
		Keys:        keys,
		Unit:        unit,
		LockKey:     lockKey,
		DryRun:      cfg.DryRun,
		ReadAhead:   cfg.ReadAhead,
		Store:       a.store,
		MaxOutcomes: cfg.MaxOutcomes,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = engine
	return a, nil
}

// Close releases the redis connection.
func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
}

func strategy(cfg config.Config, api *catalog.API) pagination.Strategy {
	first := api.ItemsURL(cfg.PageSize)
	if cfg.Pagination == config.PaginationOffset {
		return pagination.OffsetStrategy{URL: first, PageSize: cfg.PageSize}
	}
	return pagination.LinkStrategy{FirstURL: first}
}

// redisOptions accepts either a redis:// URL or a bare host:port.
func redisOptions(raw string) (*redis.Options, error) {
	if strings.Contains(raw, "://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: raw}, nil
}
