// Package fetch drives paginated retrieval from the feed into the store.
//
// Authors are processed strictly in the order given, one request at a
// time. Failures confined to one author are reported in that author's
// Summary and the run continues; anything else aborts the run.
package fetch

import (
	"context"
	"fmt"

	"feedkeeper/pkg/config"
	"feedkeeper/pkg/errors"
	"feedkeeper/pkg/feed"
	"feedkeeper/pkg/logger"
	"feedkeeper/pkg/store"
)

// Feed is the remote source the controller reads from
type Feed interface {
	Timeline(ctx context.Context, q feed.TimelineQuery) (*feed.Page, error)
	Likes(ctx context.Context, handle string) (*feed.Page, error)
	Lookup(ctx context.Context, ids []uint64) (*feed.Page, error)
}

// Store is where fetched records are written
type Store interface {
	InsertLoose(ctx context.Context, records []store.Record) (int, error)
	InsertTimeline(ctx context.Context, records []store.Record) (int, error)
	MaxSyncedID(ctx context.Context, authorID uint64) (uint64, bool, error)
	UnseenIDs(ctx context.Context, ids []uint64) ([]uint64, error)
}

// Mode selects how an author's records are fetched and stored
type Mode string

const (
	// ModeTimeline pages through an author's own posts
	ModeTimeline Mode = "timeline"
	// ModeLikes reads a single page of an author's likes
	ModeLikes Mode = "likes"
)

// Options configures a Controller
type Options struct {
	// PageSize defaults to config.DefaultPageSize
	PageSize int
	// Depth is the maximum number of pages per author; zero means config.MaxDepth
	Depth int
	// UseSinceID enables incremental sync against the highest stored id
	UseSinceID bool

	// OnAuthor, if set, is called after each author is stored
	OnAuthor func(Summary)

	Logger logger.Logger
}

// Summary reports the outcome for one author
type Summary struct {
	Author   string
	Mode     Mode
	Pages    int
	Fetched  int
	Inserted int

	// SinceID is meaningful when HasSinceID is set
	SinceID    uint64
	HasSinceID bool

	// StoppedEarly is set when pages remained after config.MaxDepth requests
	StoppedEarly bool

	// Err holds a per-author error; records fetched before it are stored
	Err error
}

// Controller fetches records for authors and stores them
type Controller struct {
	feed     Feed
	store    Store
	pageSize int
	depth    int
	sinceID  bool
	onAuthor func(Summary)
	log      logger.Logger
}

// New creates a Controller. It rejects a depth above config.MaxDepth.
func New(f Feed, s Store, opts Options) (*Controller, error) {
	if opts.Depth < 0 || opts.Depth > config.MaxDepth {
		return nil, fmt.Errorf("depth should be <= %d", config.MaxDepth)
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}

	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	return &Controller{
		feed:     f,
		store:    s,
		pageSize: pageSize,
		depth:    config.EffectiveDepth(opts.Depth),
		sinceID:  opts.UseSinceID,
		onAuthor: opts.OnAuthor,
		log:      logger.Component(log, "fetch"),
	}, nil
}

// FromUsers fetches and stores the timelines of handles. A fatal error
// aborts the run and is returned with the summaries completed so far.
func (c *Controller) FromUsers(ctx context.Context, handles []string) ([]Summary, error) {
	return c.run(ctx, handles, ModeTimeline)
}

// FromLikes fetches and stores one page of likes for each handle
func (c *Controller) FromLikes(ctx context.Context, handles []string) ([]Summary, error) {
	return c.run(ctx, handles, ModeLikes)
}

func (c *Controller) run(ctx context.Context, handles []string, mode Mode) ([]Summary, error) {
	var summaries []Summary
	for _, handle := range handles {
		if err := ctx.Err(); err != nil {
			return summaries, errors.Fatal("fetch", err, "run interrupted")
		}

		var (
			sum     Summary
			records []feed.Record
			err     error
		)
		if mode == ModeLikes {
			sum, records, err = c.fetchLikes(ctx, handle)
		} else {
			sum, records, err = c.fetchTimeline(ctx, handle)
		}

		if err != nil && !errors.IsAuthor(err) {
			return summaries, err
		}
		if err != nil {
			sum.Err = err
			c.log.WithError(err).WarnWithFields("skipping author", map[string]interface{}{
				"author": handle,
			})
		}

		sum.Fetched = len(records)
		if mode == ModeLikes {
			sum.Inserted, err = c.store.InsertLoose(ctx, toStoreRecords(records))
		} else {
			sum.Inserted, err = c.store.InsertTimeline(ctx, toStoreRecords(records))
		}
		if err != nil {
			return summaries, err
		}

		c.log.InfoWithFields("recorded author", map[string]interface{}{
			"author":   handle,
			"mode":     string(mode),
			"pages":    sum.Pages,
			"fetched":  sum.Fetched,
			"inserted": sum.Inserted,
		})

		summaries = append(summaries, sum)
		if c.onAuthor != nil {
			c.onAuthor(sum)
		}
	}
	return summaries, nil
}

func (c *Controller) fetchLikes(ctx context.Context, handle string) (Summary, []feed.Record, error) {
	sum := Summary{Author: handle, Mode: ModeLikes}

	page, err := c.feed.Likes(ctx, handle)
	if err != nil {
		return sum, nil, classify("fetch.likes", handle, err)
	}
	sum.Pages = 1
	c.noteRateLimit(page)

	return sum, page.Records, nil
}

func (c *Controller) fetchTimeline(ctx context.Context, handle string) (Summary, []feed.Record, error) {
	const op = "fetch.timeline"
	sum := Summary{Author: handle, Mode: ModeTimeline}

	page, err := c.feed.Timeline(ctx, feed.TimelineQuery{Handle: handle, Count: c.pageSize})
	if err != nil {
		return sum, nil, classify(op, handle, err)
	}
	sum.Pages = 1
	records := page.Records
	if err := c.checkRateLimit(handle, page); err != nil {
		return sum, records, err
	}
	if len(records) == 0 {
		return sum, records, nil
	}

	c.log.DebugWithFields("resolved author", map[string]interface{}{
		"author":    handle,
		"author_id": records[0].AuthorID,
		"handle":    records[0].Handle,
	})
	if c.sinceID && records[0].AuthorID != 0 {
		sum.SinceID, sum.HasSinceID, err = c.store.MaxSyncedID(ctx, records[0].AuthorID)
		if err != nil {
			return sum, records, err
		}
	}
	if sum.HasSinceID && allAtMost(records, sum.SinceID) {
		c.log.DebugWithFields("already synced", map[string]interface{}{
			"author":   handle,
			"since_id": sum.SinceID,
		})
		return sum, records, nil
	}

	lowest := minID(records)
	done := false
	for p := 2; p <= c.depth; p++ {
		if err := ctx.Err(); err != nil {
			return sum, records, errors.Fatal(op, err, "fetch of %s interrupted", handle)
		}
		// max_id is inclusive and since_id exclusive, so nothing older remains
		if lowest <= 1 || (sum.HasSinceID && lowest-1 <= sum.SinceID) {
			done = true
			break
		}

		q := feed.TimelineQuery{Handle: handle, Count: c.pageSize, MaxID: lowest - 1}
		if sum.HasSinceID {
			q.SinceID = sum.SinceID
		}
		page, err := c.feed.Timeline(ctx, q)
		if err != nil {
			return sum, records, classify(op, handle, err)
		}
		sum.Pages = p
		records = append(records, page.Records...)

		c.log.DebugWithFields("fetched page", map[string]interface{}{
			"author":  handle,
			"page":    p,
			"records": len(page.Records),
			"total":   len(records),
		})

		if err := c.checkRateLimit(handle, page); err != nil {
			return sum, records, err
		}
		if len(page.Records) == 0 {
			done = true
			break
		}
		if sum.HasSinceID && allAtMost(page.Records, sum.SinceID) {
			done = true
			break
		}
		if m := minID(page.Records); m < lowest {
			lowest = m
		}
	}

	// a depth below the maximum was asked for, so running out of it is not reported
	if !done && c.depth == config.MaxDepth {
		sum.StoppedEarly = true
		c.log.WarnWithFields("timeline is longer than expected, stopped early", map[string]interface{}{
			"author": handle,
			"depth":  c.depth,
		})
	}
	return sum, records, nil
}

// checkRateLimit aborts when the budget ran out on a page that still had
// data, and warns when it is low.
func (c *Controller) checkRateLimit(handle string, page *feed.Page) error {
	if page.RateLimit.Exhausted() && len(page.Records) > 0 {
		return errors.Fatal("fetch.timeline", nil,
			"rate limit exceeded while fetching records from %s (resets at %s)",
			handle, page.RateLimit.Reset.Local().Format("15:04:05"))
	}
	c.noteRateLimit(page)
	return nil
}

func (c *Controller) noteRateLimit(page *feed.Page) {
	if page.RateLimit.Low() {
		logger.LogRateLimit(c.log, page.RateLimit.Remaining, page.RateLimit.Reset)
	}
}

// classify maps a feed error to a per-author or fatal error
func classify(op, handle string, err error) error {
	if feed.IsAuthorError(err) {
		return errors.Author(op, err, "cannot fetch %s", handle)
	}
	return errors.Fatal(op, err, "failed to fetch %s", handle)
}

func allAtMost(records []feed.Record, id uint64) bool {
	for _, r := range records {
		if r.ID > id {
			return false
		}
	}
	return true
}

func minID(records []feed.Record) uint64 {
	m := records[0].ID
	for _, r := range records[1:] {
		if r.ID < m {
			m = r.ID
		}
	}
	return m
}

func toStoreRecords(records []feed.Record) []store.Record {
	out := make([]store.Record, len(records))
	for i, r := range records {
		out[i] = store.Record{ID: r.ID, Payload: r.Raw}
	}
	return out
}
