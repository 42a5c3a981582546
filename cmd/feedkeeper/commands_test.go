package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedkeeper/internal/downloader"
	"feedkeeper/pkg/config"
	"feedkeeper/pkg/logger"
	"feedkeeper/pkg/store"
	"feedkeeper/pkg/ui"
)

func newRecordFlags(t *testing.T) *cobra.Command {
	t.Helper()
	recordLikes, recordUsers, recordAll, recordDepth = nil, nil, false, 0

	cmd := &cobra.Command{}
	cmd.Flags().StringSliceVarP(&recordLikes, "likes", "l", nil, "")
	cmd.Flags().StringSliceVarP(&recordUsers, "user", "u", nil, "")
	cmd.Flags().BoolVar(&recordAll, "all", false, "")
	cmd.Flags().IntVar(&recordDepth, "depth", 0, "")
	return cmd
}

func TestPlanRecordDefaults(t *testing.T) {
	cmd := newRecordFlags(t)
	cfg := config.DefaultConfig()
	cfg.Record.DefaultLikes = []string{"@alice"}
	cfg.Record.DefaultUser = []string{"https://twitter.com/bob"}

	plan, err := planRecord(cmd, cfg, nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, plan.likes)
	assert.Equal(t, []string{"bob"}, plan.users)
	assert.True(t, plan.useSinceID)
	assert.Equal(t, config.MaxDepth, plan.depth)
}

func TestPlanRecordFlags(t *testing.T) {
	cmd := newRecordFlags(t)
	require.NoError(t, cmd.Flags().Set("user", "@carol,dave"))
	require.NoError(t, cmd.Flags().Set("depth", "5"))

	cfg := config.DefaultConfig()
	cfg.Record.DefaultLikes = []string{"alice"}

	plan, err := planRecord(cmd, cfg, nil, "")
	require.NoError(t, err)
	assert.Empty(t, plan.likes)
	assert.Equal(t, []string{"carol", "dave"}, plan.users)
	assert.Equal(t, 5, plan.depth)
	assert.False(t, plan.useSinceID)
}

func TestPlanRecordAll(t *testing.T) {
	cmd := newRecordFlags(t)
	require.NoError(t, cmd.Flags().Set("user", "carol"))
	require.NoError(t, cmd.Flags().Set("all", "true"))

	plan, err := planRecord(cmd, config.DefaultConfig(), nil, "")
	require.NoError(t, err)
	assert.Zero(t, plan.depth)
	assert.False(t, plan.useSinceID)
}

func TestPlanRecordRejectsDepth(t *testing.T) {
	cmd := newRecordFlags(t)
	require.NoError(t, cmd.Flags().Set("user", "carol"))
	require.NoError(t, cmd.Flags().Set("depth", "21"))

	_, err := planRecord(cmd, config.DefaultConfig(), nil, "")
	assert.EqualError(t, err, "depth should be <= 20")
}

func TestPlanRecordStatusURLs(t *testing.T) {
	cmd := newRecordFlags(t)
	cfg := config.DefaultConfig()
	cfg.Record.DefaultUser = []string{"alice"}

	plan, err := planRecord(cmd, cfg,
		[]string{"https://twitter.com/a/status/10"},
		"see https://x.com/b/status/20 and https://example.com/c")
	require.NoError(t, err)

	assert.Len(t, plan.ids, 2)
	assert.Contains(t, plan.ids, uint64(10))
	assert.Contains(t, plan.ids, uint64(20))
	// explicit sources replace the defaults
	assert.Empty(t, plan.users)
}

func TestPlanRecordNothing(t *testing.T) {
	cmd := newRecordFlags(t)
	_, err := planRecord(cmd, config.DefaultConfig(), nil, "")
	assert.ErrorContains(t, err, "nothing to record")
}

func testPrinter() (*ui.Printer, *bytes.Buffer) {
	var out bytes.Buffer
	return &ui.Printer{Out: &out, Err: &out, Plain: true}, &out
}

func TestDownloadThenAutoGC(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	s, err := store.Open(ctx, filepath.Join(dir, "db", "db.sqlite3"), store.Options{Logger: logger.NewNopLogger()})
	require.NoError(t, err)
	defer s.Close()

	raw, err := json.Marshal(map[string]interface{}{
		"id_str": "42",
		"user":   map[string]string{"id_str": "7", "screen_name": "alice"},
		"extended_entities": map[string]interface{}{
			"media": []map[string]string{{"type": "photo", "media_url_https": srv.URL + "/media/p.jpg"}},
		},
	})
	require.NoError(t, err)
	_, err = s.InsertTimeline(ctx, []store.Record{{ID: 42, Payload: raw}})
	require.NoError(t, err)

	d, err := downloader.New(downloader.Options{Dir: dir, Logger: logger.NewNopLogger()})
	require.NoError(t, err)

	out, buf := testPrinter()
	require.NoError(t, download(ctx, out, s, d))
	assert.Contains(t, buf.String(), filepath.Join(dir, "@alice-42-img1-p.jpg"))

	pending, err := s.PendingPhotosets(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// below the threshold nothing happens
	buf.Reset()
	require.NoError(t, autoGC(ctx, out, s, 2))
	assert.Empty(t, buf.String())

	require.NoError(t, autoGC(ctx, out, s, 1))
	assert.Contains(t, buf.String(), "Pruned 1 record")
	assert.Contains(t, buf.String(), "Vacuumed database")

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.Active)
	assert.Equal(t, 1, info.Pruned)
}

func TestGCWithNothingToPrune(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenInMemory(ctx, store.Options{Logger: logger.NewNopLogger()})
	require.NoError(t, err)
	defer s.Close()

	out, buf := testPrinter()
	require.NoError(t, gc(ctx, out, s))
	assert.Contains(t, buf.String(), "Pruned 0 records")
	assert.NotContains(t, buf.String(), "Vacuumed")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 MiB", formatBytes(2*1024*1024))
}

func photoPayload(t *testing.T, id uint64, handle, photoURL string) json.RawMessage {
	t.Helper()
	p := map[string]interface{}{
		"id_str": strconv.FormatUint(id, 10),
		"user":   map[string]string{"id_str": "7", "screen_name": handle},
	}
	if photoURL != "" {
		p["extended_entities"] = map[string]interface{}{
			"media": []map[string]string{{"type": "photo", "media_url_https": photoURL}},
		}
	}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return raw
}

// newGetApp wires an app to a feed server and a temporary archive
func newGetApp(t *testing.T, feedURL string) (*app, *store.Store, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Feed.BaseURL = feedURL + "/1.1"
	cfg.Feed.Token = "secret-token"
	cfg.Download.Dir = dir
	cfg.Store.AutoGCThreshold = 0

	s, err := store.Open(context.Background(), filepath.Join(dir, "archive.sqlite3"),
		store.Options{StrictMedia: true, Logger: logger.NewNopLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	out, buf := testPrinter()
	return &app{cfg: cfg, log: logger.NewNopLogger(), out: out}, s, buf
}

func TestHasRecordSource(t *testing.T) {
	cmd := newRecordFlags(t)
	assert.False(t, hasRecordSource(cmd, nil, ""))
	assert.False(t, hasRecordSource(cmd, nil, " \n"))
	assert.True(t, hasRecordSource(cmd, []string{"https://x.com/a/status/1"}, ""))
	assert.True(t, hasRecordSource(cmd, nil, "https://x.com/a/status/1"))

	require.NoError(t, cmd.Flags().Set("depth", "3"))
	assert.True(t, hasRecordSource(cmd, nil, ""))
}

func TestGetRecordsThenDownloads(t *testing.T) {
	ctx := context.Background()
	photos := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg"))
	}))
	defer photos.Close()

	page, err := json.Marshal([]json.RawMessage{
		photoPayload(t, 42, "alice", photos.URL+"/media/p.jpg"),
		photoPayload(t, 41, "alice", ""),
	})
	require.NoError(t, err)

	var queries int32
	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&queries, 1)
		assert.Equal(t, "/1.1/statuses/user_timeline.json", r.URL.Path)
		assert.Equal(t, "alice", r.URL.Query().Get("screen_name"))
		if r.URL.Query().Get("max_id") != "" {
			w.Write([]byte("[]"))
			return
		}
		w.Write(page)
	}))
	defer feedSrv.Close()

	a, s, buf := newGetApp(t, feedSrv.URL)
	cmd := newRecordFlags(t)
	require.NoError(t, cmd.Flags().Set("user", "alice"))

	require.NoError(t, a.get(ctx, cmd, s, nil, ""))

	assert.EqualValues(t, 2, atomic.LoadInt32(&queries))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dest := filepath.Join(a.cfg.Download.Dir, "@alice-42-img1-p.jpg")
	assert.Contains(t, buf.String(), dest)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(got))

	pending, err := s.PendingPhotosets(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGetWithoutSourceOnlyDownloads(t *testing.T) {
	ctx := context.Background()
	photos := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg"))
	}))
	defer photos.Close()

	var queries int32
	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&queries, 1)
		w.Write([]byte("[]"))
	}))
	defer feedSrv.Close()

	a, s, buf := newGetApp(t, feedSrv.URL)
	a.cfg.Record.DefaultUser = []string{"alice"}
	_, err := s.InsertLoose(ctx, []store.Record{{ID: 9, Payload: photoPayload(t, 9, "bob", photos.URL+"/b.jpg")}})
	require.NoError(t, err)

	require.NoError(t, a.get(ctx, newRecordFlags(t), s, nil, ""))

	assert.Zero(t, atomic.LoadInt32(&queries))
	assert.Contains(t, buf.String(), filepath.Join(a.cfg.Download.Dir, "@bob-9-img1-b.jpg"))
}

func TestReadStdin(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.WriteString("https://x.com/a/status/1\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	defer r.Close()

	got, err := readStdin(r)
	require.NoError(t, err)
	assert.Equal(t, "https://x.com/a/status/1\n", got)

	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://x.com/b/status/2"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err = readStdin(f)
	require.NoError(t, err)
	assert.Equal(t, "https://x.com/b/status/2", got)
}

func TestReadStdinSkipsDevices(t *testing.T) {
	f, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer f.Close()

	got, err := readStdin(f)
	require.NoError(t, err)
	assert.Empty(t, got)
}
