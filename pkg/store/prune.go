package store

import (
	"context"
	"database/sql"

	"feedkeeper/pkg/errors"
)

type pruneRow struct {
	recordID           string
	authorID           sql.NullString
	handle             sql.NullString
	mediaType          sql.NullString
	media              sql.NullString
	inTimeline         bool
	recordedAt         sql.NullString
	photosDownloadedAt sql.NullString
}

// Prune compacts every record with no photo work left into pruned_records
// and deletes it from records, in insertion order and in one transaction.
// A record is prunable when it has no media, its media has no photos, or
// its photos are already downloaded. It returns the number pruned.
func (s *Store) Prune(ctx context.Context) (int, error) {
	const op = "store.prune"

	var pruned int
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		rows, err := scanPruneRows(ctx, tx)
		if err != nil {
			return errors.Fatal(op, err, "failed to scan records")
		}

		prunedAt, err := currentTimestamp(ctx, tx)
		if err != nil {
			return errors.Fatal(op, err, "failed to start prune")
		}

		insert, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO pruned_records (
				record_id, author_id, author_handle, media,
				in_timeline, recorded_at, photos_downloaded_at, pruned_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return errors.Fatal(op, err, "failed to prepare insert")
		}
		defer insert.Close()

		remove, err := tx.PrepareContext(ctx, `DELETE FROM records WHERE record_id = ?`)
		if err != nil {
			return errors.Fatal(op, err, "failed to prepare delete")
		}
		defer remove.Close()

		for _, row := range rows {
			ok, err := s.prunable(row)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			var media sql.NullString
			if row.mediaType.Valid && row.mediaType.String != "null" {
				media = row.media
			}

			_, err = insert.ExecContext(ctx,
				row.recordID, row.authorID, row.handle, media,
				row.inTimeline, row.recordedAt, row.photosDownloadedAt, prunedAt)
			if err != nil {
				return errors.Fatal(op, err, "failed to archive record %s", row.recordID)
			}
			if _, err := remove.ExecContext(ctx, row.recordID); err != nil {
				return errors.Fatal(op, err, "failed to delete record %s", row.recordID)
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.InfoWithFields("pruned records", map[string]interface{}{"pruned": pruned})
	return pruned, nil
}

// prunable reports whether a row has no outstanding photo work. A row
// whose media cannot be interpreted is not prunable.
func (s *Store) prunable(row pruneRow) (bool, error) {
	entities, err := parseMedia(row.mediaType, row.media)
	if err != nil {
		return false, s.malformed("store.prune", row.recordID, err)
	}
	if len(photoURLs(entities)) == 0 {
		return true, nil
	}
	return row.photosDownloadedAt.Valid, nil
}

func scanPruneRows(ctx context.Context, tx *sql.Tx) ([]pruneRow, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT
			record_id,
			json_extract(payload, '$.user.id_str') AS author_id,
			json_extract(payload, '$.user.screen_name') AS handle,`+mediaColumns+`,
			in_timeline,
			recorded_at,
			photos_downloaded_at
		FROM records
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pruneRow
	for rows.Next() {
		var r pruneRow
		err := rows.Scan(&r.recordID, &r.authorID, &r.handle, &r.mediaType, &r.media,
			&r.inTimeline, &r.recordedAt, &r.photosDownloadedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
