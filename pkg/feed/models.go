package feed

import (
	"encoding/json"
	"fmt"
	"strconv"

	"feedkeeper/pkg/ratelimit"
)

// Record is one post as returned by the feed
type Record struct {
	ID uint64
	// Raw is the verbatim wire representation
	Raw json.RawMessage
	// AuthorID is zero when the payload carries no author
	AuthorID uint64
	Handle   string
}

// Page is the result of one feed request
type Page struct {
	Records   []Record
	RateLimit ratelimit.Status
}

// IDs returns the ids of the page's records in order
func (p *Page) IDs() []uint64 {
	ids := make([]uint64, len(p.Records))
	for i, r := range p.Records {
		ids[i] = r.ID
	}
	return ids
}

type wireUser struct {
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
}

type wireRecord struct {
	IDStr string      `json:"id_str"`
	ID    json.Number `json:"id"`
	User  *wireUser   `json:"user"`
}

// ParseRecord reads the typed view of a raw record. The returned Record
// holds a private copy of raw.
func ParseRecord(raw json.RawMessage) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return Record{}, fmt.Errorf("failed to decode record: %w", err)
	}

	idText := w.IDStr
	if idText == "" {
		idText = w.ID.String()
	}
	id, err := strconv.ParseUint(idText, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("record has no valid id: %q", idText)
	}

	r := Record{
		ID:  id,
		Raw: append(json.RawMessage(nil), raw...),
	}
	if w.User != nil {
		r.Handle = w.User.ScreenName
		if w.User.IDStr != "" {
			r.AuthorID, err = strconv.ParseUint(w.User.IDStr, 10, 64)
			if err != nil {
				return Record{}, fmt.Errorf("record %d has invalid author id %q", id, w.User.IDStr)
			}
		}
	}
	return r, nil
}
