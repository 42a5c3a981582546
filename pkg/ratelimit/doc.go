// Package ratelimit tracks request budgets in both directions.
//
// Status is the server's view: the remaining/limit/reset counters a feed
// reports with every response. The controller inspects it after each page
// to warn when the budget runs low and to abort when it is exhausted.
//
// SlidingWindow is the client's own pacing: it caps how many requests are
// issued within a moving window so that a long multi-author run does not
// burn through the server budget in a burst.
//
//	pacer := ratelimit.NewSlidingWindow(60, time.Minute)
//	if err := pacer.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
