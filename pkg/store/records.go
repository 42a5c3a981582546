package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"feedkeeper/pkg/errors"
)

// Record is one archived post: its id and the verbatim wire payload
type Record struct {
	ID      uint64
	Payload json.RawMessage
}

// InsertLoose inserts records not seen in either table with in_timeline
// unset. It returns the number of rows inserted.
func (s *Store) InsertLoose(ctx context.Context, records []Record) (int, error) {
	return s.insert(ctx, "store.insert_loose", records, false)
}

// InsertTimeline marks any already stored copies of records as in-timeline,
// active or pruned, then inserts the unseen ones with in_timeline set.
func (s *Store) InsertTimeline(ctx context.Context, records []Record) (int, error) {
	return s.insert(ctx, "store.insert_timeline", records, true)
}

func (s *Store) insert(ctx context.Context, op string, records []Record, inTimeline bool) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var inserted int
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		if inTimeline {
			if err := promote(ctx, tx, records); err != nil {
				return errors.Fatal(op, err, "failed to promote records")
			}
		}

		n, err := insertUnseen(ctx, tx, records, inTimeline)
		if err != nil {
			return errors.Fatal(op, err, "failed to insert records")
		}
		inserted = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.DebugWithFields("inserted unseen records", map[string]interface{}{
		"in_timeline": inTimeline,
		"candidates":  len(records),
		"inserted":    inserted,
	})
	return inserted, nil
}

func promote(ctx context.Context, tx *sql.Tx, records []Record) error {
	for _, table := range []string{"records", "pruned_records"} {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE `+table+` SET in_timeline = 1 WHERE record_id = ?`)
		if err != nil {
			return err
		}
		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, formatID(r.ID)); err != nil {
				stmt.Close()
				return err
			}
		}
		stmt.Close()
	}
	return nil
}

func insertUnseen(ctx context.Context, tx *sql.Tx, records []Record, inTimeline bool) (int, error) {
	ids := make([]uint64, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}

	unseen, err := unseenIDs(ctx, tx, ids)
	if err != nil {
		return 0, err
	}
	if len(unseen) == 0 {
		return 0, nil
	}

	recordedAt, err := currentTimestamp(ctx, tx)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO records (record_id, payload, in_timeline, recorded_at)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int
	for _, r := range records {
		if _, ok := unseen[r.ID]; !ok {
			continue
		}
		res, err := stmt.ExecContext(ctx, formatID(r.ID), string(r.Payload), inTimeline, recordedAt)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

// UnseenIDs returns the subset of ids present in neither table, in input order
func (s *Store) UnseenIDs(ctx context.Context, ids []uint64) ([]uint64, error) {
	var out []uint64
	err := s.withTx(ctx, "store.unseen_ids", func(tx *sql.Tx) error {
		unseen, err := unseenIDs(ctx, tx, ids)
		if err != nil {
			return errors.Fatal("store.unseen_ids", err, "failed to compute unseen ids")
		}
		for _, id := range ids {
			if _, ok := unseen[id]; ok {
				out = append(out, id)
				delete(unseen, id)
			}
		}
		return nil
	})
	return out, err
}

// unseenIDs stages ids in a temp table and subtracts seen_records from it
func unseenIDs(ctx context.Context, tx *sql.Tx, ids []uint64) (map[uint64]struct{}, error) {
	unseen := make(map[uint64]struct{})
	if len(ids) == 0 {
		return unseen, nil
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS temp.candidate_ids`); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE candidate_ids (record_id TEXT PRIMARY KEY)`); err != nil {
		return nil, err
	}
	defer tx.ExecContext(ctx, `DROP TABLE IF EXISTS temp.candidate_ids`)

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO temp.candidate_ids VALUES (?)`)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, formatID(id)); err != nil {
			stmt.Close()
			return nil, err
		}
	}
	stmt.Close()

	rows, err := tx.QueryContext(ctx, `
		SELECT record_id FROM temp.candidate_ids
		EXCEPT
		SELECT record_id FROM seen_records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := parseID(raw)
		if err != nil {
			return nil, err
		}
		unseen[id] = struct{}{}
	}
	return unseen, rows.Err()
}

// MaxSyncedID returns the highest in-timeline record id for an author,
// across both tables. ok is false when the author has none.
func (s *Store) MaxSyncedID(ctx context.Context, authorID uint64) (id uint64, ok bool, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id FROM seen_records WHERE author_id = ? AND in_timeline = 1`,
		formatID(authorID))
	if err != nil {
		return 0, false, errors.Fatal("store.max_synced_id", err, "failed to query synced ids")
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return 0, false, errors.Fatal("store.max_synced_id", err, "failed to scan record id")
		}
		v, perr := parseID(raw)
		if perr != nil {
			s.log.WithError(perr).Warn("skipping non-numeric record id")
			continue
		}
		if !ok || v > id {
			id, ok = v, true
		}
	}
	if err := rows.Err(); err != nil {
		return 0, false, errors.Fatal("store.max_synced_id", err, "failed to read synced ids")
	}
	return id, ok, nil
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid record id %q: %w", s, err)
	}
	return id, nil
}
