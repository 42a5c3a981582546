package fetch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"feedkeeper/pkg/feed"
	"feedkeeper/pkg/logger"
	"feedkeeper/pkg/ratelimit"
	"feedkeeper/pkg/store"
)

// fakeFeed serves timelines the way the remote feed does: newest first,
// max_id inclusive, since_id exclusive.
type fakeFeed struct {
	t *testing.T

	mu        sync.Mutex
	authors   map[string]uint64   // handle -> author id
	timelines map[string][]uint64 // handle -> ids, newest first
	likes     map[string][]uint64
	errs      map[string]error // handle -> error for every call
	failAfter map[string]int   // handle -> number of successful calls before errs applies

	// remaining is returned as the rate-limit budget; -1 omits the headers
	remaining int
	// drain decrements remaining after each call
	drain bool

	queries []feed.TimelineQuery
	lookups [][]uint64
	calls   map[string]int
}

func newFakeFeed(t *testing.T) *fakeFeed {
	return &fakeFeed{
		t:         t,
		authors:   map[string]uint64{},
		timelines: map[string][]uint64{},
		likes:     map[string][]uint64{},
		errs:      map[string]error{},
		failAfter: map[string]int{},
		remaining: 900,
		calls:     map[string]int{},
	}
}

// addTimeline registers ids newest..oldest for handle
func (f *fakeFeed) addTimeline(handle string, authorID uint64, newest, oldest uint64) {
	f.authors[handle] = authorID
	for id := newest; id >= oldest; id-- {
		f.timelines[handle] = append(f.timelines[handle], id)
		if id == 0 {
			break
		}
	}
}

func (f *fakeFeed) record(handle string, id uint64) feed.Record {
	raw := fmt.Sprintf(`{"id_str":"%d","user":{"id_str":"%d","screen_name":"%s"}}`, id, f.authors[handle], handle)
	r, err := feed.ParseRecord([]byte(raw))
	require.NoError(f.t, err)
	return r
}

func (f *fakeFeed) page(handle string, ids []uint64) *feed.Page {
	p := &feed.Page{}
	for _, id := range ids {
		p.Records = append(p.Records, f.record(handle, id))
	}
	if f.remaining >= 0 {
		p.RateLimit = ratelimit.Status{
			Remaining: f.remaining,
			Limit:     900,
			Reset:     time.Unix(1700000000, 0),
			Known:     true,
		}
		if f.drain && f.remaining > 0 {
			f.remaining--
		}
	}
	return p
}

func (f *fakeFeed) fail(handle string) error {
	f.calls[handle]++
	if err, ok := f.errs[handle]; ok && f.calls[handle] > f.failAfter[handle] {
		return err
	}
	return nil
}

func (f *fakeFeed) Timeline(ctx context.Context, q feed.TimelineQuery) (*feed.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, q)
	if err := f.fail(q.Handle); err != nil {
		return nil, err
	}

	var ids []uint64
	for _, id := range f.timelines[q.Handle] {
		if q.MaxID != 0 && id > q.MaxID {
			continue
		}
		if q.SinceID != 0 && id <= q.SinceID {
			continue
		}
		if len(ids) == q.Count {
			break
		}
		ids = append(ids, id)
	}
	return f.page(q.Handle, ids), nil
}

func (f *fakeFeed) Likes(ctx context.Context, handle string) (*feed.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(handle); err != nil {
		return nil, err
	}
	return f.page(handle, f.likes[handle]), nil
}

func (f *fakeFeed) Lookup(ctx context.Context, ids []uint64) (*feed.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lookups = append(f.lookups, append([]uint64(nil), ids...))
	if err := f.fail("lookup"); err != nil {
		return nil, err
	}

	var found []uint64
	for _, id := range ids {
		for _, known := range f.timelines["lookup"] {
			if id == known {
				found = append(found, id)
			}
		}
	}
	return f.page("lookup", found), nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenInMemory(context.Background(), store.Options{
		StrictMedia: true,
		Logger:      logger.NewNopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestController(t *testing.T, f Feed, s Store, opts Options) *Controller {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	c, err := New(f, s, opts)
	require.NoError(t, err)
	return c
}
