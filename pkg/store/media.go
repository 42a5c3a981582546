package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// MediaEntity is one entry of a payload's extended_entities.media array
type MediaEntity struct {
	Type          string `json:"type"`
	MediaURLHTTPS string `json:"media_url_https"`
}

// mediaColumns selects the JSON type and raw value of the media array.
// A missing path yields NULL for both.
const mediaColumns = `
	json_type(payload, '$.extended_entities.media') AS media_type,
	json_extract(payload, '$.extended_entities.media') AS media`

// parseMedia interprets the media columns of a row. A missing or null
// media field is not an error and yields nil.
func parseMedia(mediaType, media sql.NullString) ([]MediaEntity, error) {
	if !mediaType.Valid || mediaType.String == "null" {
		return nil, nil
	}
	if mediaType.String != "array" {
		return nil, fmt.Errorf("media is a JSON %s, want array", mediaType.String)
	}

	var entities []MediaEntity
	if err := json.Unmarshal([]byte(media.String), &entities); err != nil {
		return nil, fmt.Errorf("failed to decode media: %w", err)
	}
	for i, e := range entities {
		if e.Type == "" {
			return nil, fmt.Errorf("media entry %d has no type", i)
		}
	}
	return entities, nil
}

func photoURLs(entities []MediaEntity) []string {
	var urls []string
	for _, e := range entities {
		if e.Type == "photo" {
			urls = append(urls, e.MediaURLHTTPS)
		}
	}
	return urls
}
