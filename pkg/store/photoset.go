package store

import (
	"context"
	"database/sql"
	stderrors "errors"

	"feedkeeper/pkg/errors"
)

// Photoset is the ordered group of photo URLs attached to one record.
// It is derived from the payload on read and never stored.
type Photoset struct {
	RowID     int64
	Handle    string
	RecordID  uint64
	PhotoURLs []string
}

// PendingPhotosets returns a Photoset for every active record whose photos
// have not been downloaded and whose media contains at least one photo.
// A row with a malformed media field is skipped with a warning, or fails
// the call when StrictMedia is set.
func (s *Store) PendingPhotosets(ctx context.Context) ([]Photoset, error) {
	const op = "store.pending_photosets"

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id,
			record_id,
			json_extract(payload, '$.user.screen_name') AS handle,`+mediaColumns+`
		FROM records
		WHERE photos_downloaded_at IS NULL
		ORDER BY id`)
	if err != nil {
		return nil, errors.Fatal(op, err, "failed to query pending photos")
	}
	defer rows.Close()

	var photosets []Photoset
	for rows.Next() {
		var (
			rowID            int64
			recordID         string
			handle           sql.NullString
			mediaType, media sql.NullString
		)
		if err := rows.Scan(&rowID, &recordID, &handle, &mediaType, &media); err != nil {
			return nil, errors.Fatal(op, err, "failed to scan row")
		}

		entities, err := parseMedia(mediaType, media)
		if err != nil {
			if err := s.malformed(op, recordID, err); err != nil {
				return nil, err
			}
			continue
		}

		urls := photoURLs(entities)
		if len(urls) == 0 {
			continue
		}

		id, err := parseID(recordID)
		if err != nil {
			if err := s.malformed(op, recordID, err); err != nil {
				return nil, err
			}
			continue
		}
		if !handle.Valid || handle.String == "" {
			if err := s.malformed(op, recordID, errMissingHandle); err != nil {
				return nil, err
			}
			continue
		}

		photosets = append(photosets, Photoset{
			RowID:     rowID,
			Handle:    handle.String,
			RecordID:  id,
			PhotoURLs: urls,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Fatal(op, err, "failed to read pending photos")
	}
	return photosets, nil
}

var errMissingHandle = stderrors.New("author handle is missing")

// MarkDownloaded stamps photos_downloaded_at on exactly one row and reports
// whether the row existed.
func (s *Store) MarkDownloaded(ctx context.Context, rowID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET photos_downloaded_at = CURRENT_TIMESTAMP WHERE id = ?`, rowID)
	if err != nil {
		return false, errors.Fatal("store.mark_downloaded", err, "failed to mark row %d", rowID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Fatal("store.mark_downloaded", err, "failed to mark row %d", rowID)
	}
	return n == 1, nil
}

// malformed applies the media policy to a row that cannot be interpreted.
// It returns nil when the row should be skipped.
func (s *Store) malformed(op, recordID string, cause error) error {
	if s.opts.StrictMedia {
		return errors.Integrity(op, cause, "malformed record %s", recordID)
	}
	s.log.WithError(cause).WarnWithFields("skipping malformed record", map[string]interface{}{
		"op":        op,
		"record_id": recordID,
	})
	return nil
}
