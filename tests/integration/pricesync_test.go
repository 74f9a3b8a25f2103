//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/catalog-price-sync/internal/testutil"
	"github.com/Sternrassler/catalog-price-sync/pkg/baselock"
	"github.com/Sternrassler/catalog-price-sync/pkg/catalog"
	"github.com/Sternrassler/catalog-price-sync/pkg/client"
	"github.com/Sternrassler/catalog-price-sync/pkg/pagination"
	"github.com/Sternrassler/catalog-price-sync/pkg/repricer"
	"github.com/Sternrassler/catalog-price-sync/pkg/runstore"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const shopName = "integration.myshopify.com"

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// seedShop creates five products over three offset pages of two: three
// priceable, one without weight, one with an invalid tax.
func seedShop() *testutil.MockShop {
	shop := testutil.NewMockShop()
	shop.SetPagination(testutil.PaginateOffset)

	add := func(id int64, price string, fields ...catalog.Metafield) {
		shop.AddProduct(&testutil.MockProduct{
			ID:         id,
			Title:      "Item",
			Metafields: fields,
			Variants:   []*testutil.MockVariant{{ID: id * 10, Price: price}},
		})
	}
	add(1, "1000.00", testutil.Metafield("custom", "gold_weight", "10"))
	add(2, "2000.00", testutil.Metafield("custom", "gold_weight", "5"),
		testutil.Metafield("custom", "making_charge", "10"),
		testutil.Metafield("custom", "additional_cost", "300"),
		testutil.Metafield("custom", "tax_percent", "3"))
	add(3, "500.00")
	add(4, "100.00", testutil.Metafield("custom", "gold_weight", "1"),
		testutil.Metafield("custom", "tax_percent", "lots"))
	add(5, "0.00", testutil.Metafield("custom", "gold_weight", `{"value":0.5,"unit":"kg"}`))
	return shop
}

func newEngine(t *testing.T, shop *testutil.MockShop, redisClient *redis.Client) *repricer.Engine {
	t.Helper()

	cfg := client.DefaultConfig(shop.URL(), "integration-token")
	cfg.Redis = redisClient
	cfg.Bucket = shopName
	cfg.WriteDelay = 10 * time.Millisecond
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 10 * time.Millisecond

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	api := catalog.NewAPI(c, "")
	engine, err := repricer.New(api, repricer.Config{
		Shop:      shopName,
		Strategy:  pagination.OffsetStrategy{URL: api.ItemsURL(2), PageSize: 2},
		ReadAhead: true,
		Store:     runstore.NewStore(redisClient),
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

// TestFullRun tests a complete run: paginate → resolve → lock → price → write → store summary.
func TestFullRun(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	shop := seedShop()
	defer shop.Close()

	engine := newEngine(t, shop, redisClient)
	ctx := context.Background()

	summary, err := engine.Run(ctx, 6000)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.TotalSeen != 5 || summary.Updated != 3 || summary.Skipped != 2 || summary.Failed != 0 {
		t.Errorf("totals = seen %d updated %d skipped %d failed %d, want 5/3/2/0",
			summary.TotalSeen, summary.Updated, summary.Skipped, summary.Failed)
	}
	if summary.Pages != 3 {
		t.Errorf("Pages = %d, want 3", summary.Pages)
	}

	wantPrices := map[int64]string{
		10: "61000.00",   // 1000 + 6000*10
		20: "36359.00",   // 2000 + 30000 + 300 + 3000, plus 3% tax
		30: "500.00",     // missing weight, untouched
		40: "100.00",     // invalid tax, untouched
		50: "3000000.00", // 0.5kg = 500g
	}
	for id, want := range wantPrices {
		if got := shop.Price(id); got != want {
			t.Errorf("variant %d price = %s, want %s", id, got, want)
		}
	}
	if _, ok := shop.VariantMetafield(30, baselock.DefaultKey); ok {
		t.Error("variant without weight must not be locked")
	}

	// Stored summary is readable through the run store
	entry, err := runstore.NewStore(redisClient).Last(ctx, shopName)
	if err != nil {
		t.Fatalf("Last() error = %v", err)
	}
	var stored repricer.Summary
	if err := json.Unmarshal(entry.Summary, &stored); err != nil {
		t.Fatalf("decode stored summary: %v", err)
	}
	if stored.RunID != summary.RunID || stored.Updated != 3 {
		t.Errorf("stored summary = %s/%d, want %s/3", stored.RunID, stored.Updated, summary.RunID)
	}

	// Second run computes from the locked base and writes nothing new
	shop.Reset()
	second, err := engine.Run(ctx, 6000)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second.Updated != 0 {
		t.Errorf("second run Updated = %d, want 0", second.Updated)
	}
	if got := shop.PriceWrites(10); len(got) != 0 {
		t.Errorf("second run wrote %v to variant 10", got)
	}
	if got := shop.Price(10); got != "61000.00" {
		t.Errorf("variant 10 price after second run = %s, want 61000.00", got)
	}
}

// TestRunLease tests that a held lease blocks a second run and is released afterwards.
func TestRunLease(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	shop := seedShop()
	defer shop.Close()

	engine := newEngine(t, shop, redisClient)
	store := runstore.NewStore(redisClient)
	ctx := context.Background()

	lease, err := store.Acquire(ctx, shopName, "other-process", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := engine.Run(ctx, 6000); !errors.Is(err, runstore.ErrRunInProgress) {
		t.Fatalf("Run() error = %v, want ErrRunInProgress", err)
	}
	if n := shop.RequestCount(); n != 0 {
		t.Errorf("upstream requests while leased = %d, want 0", n)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if _, err := engine.Run(ctx, 6000); err != nil {
		t.Fatalf("Run() after release error = %v", err)
	}

	// The engine released its own lease when the run finished
	again, err := store.Acquire(ctx, shopName, "after-run", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() after run error = %v", err)
	}
	again.Release(ctx)
}
