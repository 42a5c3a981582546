package fetch

import (
	"context"
	"sort"

	"feedkeeper/pkg/errors"
	"feedkeeper/pkg/feed"
)

// LookupSummary reports the outcome of recording records by id
type LookupSummary struct {
	// AlreadyRecorded ids were present in the store and not requested
	AlreadyRecorded []uint64
	// Fetched ids were returned by the feed
	Fetched []uint64
	// Missing ids were requested but not returned
	Missing  []uint64
	Inserted int
}

// FromIDs looks up the ids not yet in the store, in chunks of
// feed.MaxLookupIDs, and stores what the feed returns as loose records.
func (c *Controller) FromIDs(ctx context.Context, ids []uint64) (*LookupSummary, error) {
	const op = "fetch.lookup"
	sum := &LookupSummary{}

	ids = dedupSorted(ids)
	if len(ids) == 0 {
		return sum, nil
	}

	unseen, err := c.store.UnseenIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	wanted := make(map[uint64]bool, len(unseen))
	for _, id := range unseen {
		wanted[id] = true
	}
	for _, id := range ids {
		if !wanted[id] {
			sum.AlreadyRecorded = append(sum.AlreadyRecorded, id)
		}
	}

	var records []feed.Record
	for start := 0; start < len(unseen); start += feed.MaxLookupIDs {
		end := min(start+feed.MaxLookupIDs, len(unseen))

		page, err := c.feed.Lookup(ctx, unseen[start:end])
		if err != nil {
			if !feed.IsAuthorError(err) {
				return nil, errors.Fatal(op, err, "failed to look up records")
			}
			c.log.WithError(err).WarnWithFields("lookup chunk failed", map[string]interface{}{
				"ids": end - start,
			})
			continue
		}
		c.noteRateLimit(page)

		for _, r := range page.Records {
			if wanted[r.ID] {
				records = append(records, r)
				sum.Fetched = append(sum.Fetched, r.ID)
				delete(wanted, r.ID)
			}
		}
	}

	for _, id := range unseen {
		if wanted[id] {
			sum.Missing = append(sum.Missing, id)
		}
	}
	sort.Slice(sum.Fetched, func(i, j int) bool { return sum.Fetched[i] < sum.Fetched[j] })

	sum.Inserted, err = c.store.InsertLoose(ctx, toStoreRecords(records))
	if err != nil {
		return nil, err
	}
	return sum, nil
}

func dedupSorted(ids []uint64) []uint64 {
	out := append([]uint64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	n := 0
	for i, id := range out {
		if i == 0 || id != out[n-1] {
			out[n] = id
			n++
		}
	}
	return out[:n]
}
