package transfer

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// DeriveFilename maps a download URL to a stable local filename. The
// mapping must be pure for a given URL: resume depends on retries landing
// on the same file.
//
// Preference order: the URL path's basename when it is a .zip, then a
// recognizable takeout-...zip token anywhere in the URL, then a synthetic
// timestamped name as a last resort.
func DeriveFilename(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		name := path.Base(u.Path)
		if name != "." && name != "/" && strings.HasSuffix(strings.ToLower(name), ".zip") {
			return name
		}
	}

	if start := strings.Index(rawURL, "takeout-"); start != -1 {
		if end := strings.Index(rawURL[start:], ".zip"); end != -1 {
			return rawURL[start : start+end+len(".zip")]
		}
	}

	return "takeout_download_" + time.Now().Format("20060102_150405") + ".zip"
}
