// Package runstore keeps cross-process run state in Redis.
//
// It provides two things:
//
// - A lease per shop, so two bulk updates never reprice the same catalog at
// the same time (SET NX with a TTL, released by compare-and-delete)
// - The summary of the last finished run, served by the HTTP trigger
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//	store := runstore.NewStore(redisClient)
//
//	lease, err := store.Acquire(ctx, "example.myshopify.com", runID, 30*time.Minute)
//	if errors.Is(err, runstore.ErrRunInProgress) {
//		// another run holds the shop
//	}
//	defer lease.Release(context.Background())
//
//	// ... run ...
//
//	_ = store.SaveLast(ctx, "example.myshopify.com", runID, summary)
//
// Item metadata is never stored here: attributes and prices are re-read from
// the upstream on every run.
//
// # Metrics
//
//   - pricesync_run_lease_total{result} - Lease acquisitions (acquired, busy, error)
//   - pricesync_runstore_errors_total{operation} - Redis operation errors
package runstore
