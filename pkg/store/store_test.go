package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedkeeper/pkg/errors"
	"feedkeeper/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(context.Background(), Options{
		StrictMedia: true,
		Logger:      logger.NewNopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// payload builds a record payload. media == nil omits extended_entities.
func payload(t *testing.T, id uint64, authorID, handle string, media []MediaEntity) json.RawMessage {
	t.Helper()
	p := map[string]interface{}{
		"id_str": strconv.FormatUint(id, 10),
		"user":   map[string]interface{}{"id_str": authorID, "screen_name": handle},
	}
	if media != nil {
		p["extended_entities"] = map[string]interface{}{"media": media}
	}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return raw
}

func record(t *testing.T, id uint64, media ...MediaEntity) Record {
	var m []MediaEntity
	if len(media) > 0 {
		m = media
	}
	return Record{ID: id, Payload: payload(t, id, "1", "anon", m)}
}

func photo(url string) MediaEntity { return MediaEntity{Type: "photo", MediaURLHTTPS: url} }
func video() MediaEntity           { return MediaEntity{Type: "video", MediaURLHTTPS: "https://v/x.mp4"} }

func activeIDs(t *testing.T, s *Store) []string {
	t.Helper()
	rows, err := s.db.Query(`SELECT record_id FROM records ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	return ids
}

func TestOpenCreatesSchemaIdempotently(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "db.sqlite3")

	s, err := Open(ctx, path, Options{Logger: logger.NewNopLogger()})
	require.NoError(t, err)

	first, err := s.Info(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, Options{Logger: logger.NewNopLogger()})
	require.NoError(t, err)
	defer s.Close()

	second, err := s.Info(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, second.SchemaVersion)
	assert.NotEmpty(t, first.ArchiveID)
	assert.Equal(t, first.ArchiveID, second.ArchiveID)
	assert.Equal(t, path, second.Path)
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = s.InsertLoose(ctx, []Record{record(t, 10), record(t, 11), record(t, 12)})
	require.NoError(t, err)

	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestInfo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.InsertLoose(ctx, []Record{record(t, 1), record(t, 2, photo("https://p/a.jpg"))})
	require.NoError(t, err)
	_, err = s.Prune(ctx)
	require.NoError(t, err)

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Active)
	assert.Equal(t, 1, info.Pruned)
	assert.Empty(t, info.Path)
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Vacuum(context.Background()))
}

func TestClosedStoreErrorsAreFatal(t *testing.T) {
	s, err := OpenInMemory(context.Background(), Options{Logger: logger.NewNopLogger()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Count(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
