package downloader

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
)

var handlePattern = regexp.MustCompile(`^[0-9A-Za-z_]+$`)

// PhotoName builds the file name of the index-th (1-based) photo of a
// record: @handle-recordID-imgN-basename. Names never collide across
// records or indices of the same author.
func PhotoName(handle string, recordID uint64, index int, photoURL string) (string, error) {
	u, err := url.Parse(photoURL)
	if err != nil {
		return "", fmt.Errorf("invalid photo url %q: %w", photoURL, err)
	}

	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "", fmt.Errorf("photo url %q has no file name", photoURL)
	}
	if handle == "" {
		return "", fmt.Errorf("photo url %q has no author handle", photoURL)
	}
	if !handlePattern.MatchString(handle) {
		return "", fmt.Errorf("invalid author handle %q", handle)
	}

	return fmt.Sprintf("@%s-%d-img%d-%s", handle, recordID, index, base), nil
}

// PhotoPath joins PhotoName onto dir
func PhotoPath(dir, handle string, recordID uint64, index int, photoURL string) (string, error) {
	name, err := PhotoName(handle, recordID, index, photoURL)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
