// Package pagination walks the paginated item listing of the upstream catalog.
//
// The upstream paginates in one of two shapes: an opaque cursor carried in the
// Link response header (rel="next"), or a page number appended to a fixed-size
// listing URL. Both are implemented as a Strategy so the walker, and everything
// above it, only ever sees a Cursor.
//
// Example usage:
//
//	api := catalog.NewAPI(remote, "2023-10")
//	walker := pagination.NewWalker(api, pagination.LinkStrategy{First: api.ItemsURL(50)}, pagination.DefaultConfig())
//	for {
//		page, err := walker.Next(ctx)
//		if errors.Is(err, pagination.ErrExhausted) {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		process(page.Items)
//	}
//
// The walker:
//   - Is forward-only and cannot be restarted
//   - Ends on a missing next cursor or on an empty page, whichever comes first
//   - Ends when a cursor repeats, so a misbehaving upstream cannot loop it
//   - Optionally reads one page ahead (Prefetch) without reordering pages
package pagination
