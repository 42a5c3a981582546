// Package retry re-runs operations that fail with transient errors.
//
// An error is retried when it reports itself as temporary through a
// Temporary() bool method, which feed errors implement for network
// failures and server errors. Delays grow exponentially with jitter and
// waiting honors context cancellation.
//
//	page, err := retry.DoWithResult(ctx, cfg, func() (*feed.Page, error) {
//	    return client.fetchPage(ctx, req)
//	})
package retry
