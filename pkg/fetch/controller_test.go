package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedkeeper/pkg/config"
	"feedkeeper/pkg/errors"
	"feedkeeper/pkg/feed"
	"feedkeeper/pkg/logger"
)

func TestNewRejectsDepth(t *testing.T) {
	s := newTestStore(t)
	f := newFakeFeed(t)

	for _, depth := range []int{-1, 21, 100} {
		_, err := New(f, s, Options{Depth: depth, Logger: logger.NewNopLogger()})
		require.Error(t, err, "depth %d", depth)
		assert.Contains(t, err.Error(), "depth should be <= 20")
	}

	c, err := New(f, s, Options{Depth: 20, Logger: logger.NewNopLogger()})
	require.NoError(t, err)
	assert.Equal(t, 20, c.depth)

	c, err = New(f, s, Options{Logger: logger.NewNopLogger()})
	require.NoError(t, err)
	assert.Equal(t, 20, c.depth)
	assert.Equal(t, 200, c.pageSize)
}

func TestFromUsersPaginatesToTheEnd(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.addTimeline("alice", 42, 450, 1)

	c := newTestController(t, f, s, Options{})
	sums, err := c.FromUsers(ctx, []string{"alice"})
	require.NoError(t, err)
	require.Len(t, sums, 1)

	sum := sums[0]
	assert.Equal(t, "alice", sum.Author)
	assert.Equal(t, ModeTimeline, sum.Mode)
	assert.Equal(t, 3, sum.Pages)
	assert.Equal(t, 450, sum.Fetched)
	assert.Equal(t, 450, sum.Inserted)
	assert.False(t, sum.StoppedEarly)
	assert.NoError(t, sum.Err)

	require.Len(t, f.queries, 3)
	assert.Equal(t, feed.TimelineQuery{Handle: "alice", Count: 200}, f.queries[0])
	assert.Equal(t, uint64(250), f.queries[1].MaxID)
	assert.Equal(t, uint64(50), f.queries[2].MaxID)
	assert.Zero(t, f.queries[1].SinceID)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 450, n)
}

func TestFromUsersStopsOnEmptyPage(t *testing.T) {
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.addTimeline("alice", 42, 100, 81)

	c := newTestController(t, f, s, Options{PageSize: 10})
	sums, err := c.FromUsers(context.Background(), []string{"alice"})
	require.NoError(t, err)

	assert.Equal(t, 3, sums[0].Pages)
	assert.Equal(t, 20, sums[0].Inserted)
	assert.False(t, sums[0].StoppedEarly)
}

func TestFromUsersEmptyTimeline(t *testing.T) {
	s := newTestStore(t)
	f := newFakeFeed(t)

	c := newTestController(t, f, s, Options{})
	sums, err := c.FromUsers(context.Background(), []string{"nobody"})
	require.NoError(t, err)

	assert.Equal(t, 1, sums[0].Pages)
	assert.Zero(t, sums[0].Fetched)
	assert.Len(t, f.queries, 1)
}

func TestFromUsersDepthLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.addTimeline("alice", 42, 450, 1)
	log := logger.NewTestLogger()

	c := newTestController(t, f, s, Options{Depth: 2, Logger: log})
	sums, err := c.FromUsers(ctx, []string{"alice"})
	require.NoError(t, err)

	assert.Equal(t, 2, sums[0].Pages)
	assert.Equal(t, 400, sums[0].Inserted)
	assert.False(t, sums[0].StoppedEarly)
	assert.False(t, log.HasMessage("stopped early"))
	assert.Len(t, f.queries, 2)
}

func TestFromUsersStoppedEarlyAtMaxDepth(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.addTimeline("alice", 42, 250, 1)
	log := logger.NewTestLogger()

	c := newTestController(t, f, s, Options{PageSize: 10, Logger: log})
	sums, err := c.FromUsers(ctx, []string{"alice"})
	require.NoError(t, err)

	assert.Equal(t, config.MaxDepth, sums[0].Pages)
	assert.Equal(t, 200, sums[0].Inserted)
	assert.True(t, sums[0].StoppedEarly)
	assert.Len(t, log.GetMessagesByLevel("WARN"), 1)
	assert.True(t, log.HasMessage("stopped early"))
}

func TestFromUsersSinceID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.addTimeline("alice", 42, 100, 1)

	c := newTestController(t, f, s, Options{PageSize: 20, UseSinceID: true})
	sums, err := c.FromUsers(ctx, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, 100, sums[0].Inserted)
	assert.False(t, sums[0].HasSinceID)

	// fifty new posts
	f.timelines["alice"] = nil
	f.addTimeline("alice", 42, 150, 1)
	f.queries = nil

	sums, err = c.FromUsers(ctx, []string{"alice"})
	require.NoError(t, err)
	sum := sums[0]
	assert.True(t, sum.HasSinceID)
	assert.Equal(t, uint64(100), sum.SinceID)
	assert.Equal(t, 3, sum.Pages)
	assert.Equal(t, 50, sum.Fetched)
	assert.Equal(t, 50, sum.Inserted)
	assert.False(t, sum.StoppedEarly)

	require.Len(t, f.queries, 3)
	assert.Equal(t, uint64(130), f.queries[1].MaxID)
	assert.Equal(t, uint64(100), f.queries[1].SinceID)

	// nothing new
	f.queries = nil
	sums, err = c.FromUsers(ctx, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, uint64(150), sums[0].SinceID)
	assert.Equal(t, 1, sums[0].Pages)
	assert.Zero(t, sums[0].Inserted)
	assert.Len(t, f.queries, 1)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 150, n)
}

func TestFromUsersWithoutSinceIDRefetches(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.addTimeline("alice", 42, 30, 1)

	c := newTestController(t, f, s, Options{PageSize: 10})
	_, err := c.FromUsers(ctx, []string{"alice"})
	require.NoError(t, err)

	sums, err := c.FromUsers(ctx, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, 30, sums[0].Fetched)
	assert.Zero(t, sums[0].Inserted)
}

func TestFromUsersRateLimitExhausted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.addTimeline("alice", 42, 100, 1)
	f.remaining = 3
	f.drain = true

	c := newTestController(t, f, s, Options{PageSize: 10})
	sums, err := c.FromUsers(ctx, []string{"alice", "bob"})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "rate limit exceeded while fetching records from alice")
	assert.Empty(t, sums)
	assert.Len(t, f.queries, 4)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFromUsersExhaustedOnEmptyPageIsFine(t *testing.T) {
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.addTimeline("alice", 42, 10, 5)
	f.remaining = 1
	f.drain = true

	c := newTestController(t, f, s, Options{PageSize: 6})
	sums, err := c.FromUsers(context.Background(), []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, 2, sums[0].Pages)
	assert.Equal(t, 6, sums[0].Inserted)
}

func TestFromUsersWarnsOnLowRateLimit(t *testing.T) {
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.addTimeline("alice", 42, 5, 1)
	f.remaining = 4
	log := logger.NewTestLogger()

	c := newTestController(t, f, s, Options{Logger: log})
	_, err := c.FromUsers(context.Background(), []string{"alice"})
	require.NoError(t, err)

	warnings := log.GetMessagesByLevel("WARN")
	require.NotEmpty(t, warnings)
	assert.True(t, log.HasMessage("rate limit nearly exhausted"))
}

func TestFromUsersSkipsFailingAuthor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.addTimeline("alice", 42, 5, 1)
	f.errs["gone"] = &feed.Error{Type: feed.ErrorTypeNotFound, Code: 404, Message: "no such user"}

	var seen []string
	c := newTestController(t, f, s, Options{
		OnAuthor: func(sum Summary) { seen = append(seen, sum.Author) },
	})
	sums, err := c.FromUsers(ctx, []string{"gone", "alice"})
	require.NoError(t, err)
	require.Len(t, sums, 2)

	assert.True(t, errors.IsAuthor(sums[0].Err))
	assert.Zero(t, sums[0].Inserted)
	assert.NoError(t, sums[1].Err)
	assert.Equal(t, 5, sums[1].Inserted)
	assert.Equal(t, []string{"gone", "alice"}, seen)
}

func TestFromUsersFatalErrorAborts(t *testing.T) {
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.addTimeline("bob", 7, 5, 1)
	f.errs["alice"] = &feed.Error{Type: feed.ErrorTypeNetwork, Message: "connection refused"}

	c := newTestController(t, f, s, Options{})
	sums, err := c.FromUsers(context.Background(), []string{"alice", "bob"})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Empty(t, sums)
	assert.Zero(t, f.calls["bob"])
}

func TestFromUsersKeepsRecordsBeforeAuthorError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.addTimeline("alice", 42, 30, 1)
	f.errs["alice"] = &feed.Error{Type: feed.ErrorTypeForbidden, Code: 403, Message: "protected"}
	f.failAfter["alice"] = 1

	c := newTestController(t, f, s, Options{PageSize: 10})
	sums, err := c.FromUsers(ctx, []string{"alice"})
	require.NoError(t, err)

	assert.True(t, errors.IsAuthor(sums[0].Err))
	assert.Equal(t, 10, sums[0].Fetched)
	assert.Equal(t, 10, sums[0].Inserted)
}

func TestFromUsersCanceled(t *testing.T) {
	s := newTestStore(t)
	f := newFakeFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestController(t, f, s, Options{})
	_, err := c.FromUsers(ctx, []string{"alice"})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Empty(t, f.queries)
}

func TestFromLikesInsertsOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.authors["alice"] = 42
	f.likes["alice"] = []uint64{7, 6, 5}

	c := newTestController(t, f, s, Options{})
	sums, err := c.FromLikes(ctx, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, ModeLikes, sums[0].Mode)
	assert.Equal(t, 3, sums[0].Inserted)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	sums, err = c.FromLikes(ctx, []string{"alice"})
	require.NoError(t, err)
	assert.Zero(t, sums[0].Inserted)

	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestFromLikesDoesNotAbortOnLowBudget(t *testing.T) {
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.likes["alice"] = []uint64{3}
	f.remaining = 0

	c := newTestController(t, f, s, Options{})
	sums, err := c.FromLikes(context.Background(), []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, sums[0].Inserted)
}

func TestFromUsersLogsResolvedAuthor(t *testing.T) {
	s := newTestStore(t)
	f := newFakeFeed(t)
	f.addTimeline("alice", 42, 5, 1)
	log := logger.NewTestLogger()

	c := newTestController(t, f, s, Options{Logger: log})
	_, err := c.FromUsers(context.Background(), []string{"alice"})
	require.NoError(t, err)

	var resolved []logger.LogMessage
	for _, msg := range log.GetMessagesByLevel("DEBUG") {
		if msg.Message == "resolved author" {
			resolved = append(resolved, msg)
		}
	}
	require.Len(t, resolved, 1)
	assert.Equal(t, "alice", resolved[0].Fields["handle"])
	assert.Equal(t, uint64(42), resolved[0].Fields["author_id"])
}
