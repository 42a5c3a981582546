// Package extract pulls author handles and status ids out of free text.
package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	handlePattern = regexp.MustCompile(
		`(?i)^(?:https?://(?:mobile\.|www\.)?(?:twitter|x)\.com/|@)?([0-9a-z_]+)`)

	statusPattern = regexp.MustCompile(
		`(?i)https?://(?:mobile\.|www\.)?(?:twitter|x)\.com/(?:[^/\s]+|i/web)/status(?:es)?/(\d+)`)

	urlPattern = regexp.MustCompile(`(?i)https?://[^\s<>"']+`)
)

// Handles normalizes "@name", "name" and profile URLs to bare handles.
// Inputs that contain no handle are dropped.
func Handles(texts []string) []string {
	var out []string
	for _, text := range texts {
		m := handlePattern.FindStringSubmatch(strings.TrimSpace(text))
		if m == nil {
			continue
		}
		out = append(out, m[1])
	}
	return out
}

// StatusURLs maps status ids to the URL they were found in. It also
// returns how many URLs of any kind the text contained.
func StatusURLs(text string) (map[uint64]string, int) {
	found := make(map[uint64]string)
	urls := urlPattern.FindAllString(text, -1)
	for _, u := range urls {
		m := statusPattern.FindStringSubmatch(u)
		if m == nil {
			continue
		}
		id, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		found[id] = u
	}
	return found, len(urls)
}

// SortedIDs returns the keys of a StatusURLs map in ascending order
func SortedIDs(m map[uint64]string) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
