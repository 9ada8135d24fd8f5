package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/takeoutdl/takeout_downloader/internal/logctx"
)

// Bundle carries the credentials attached to every download request.
// Cookies travel as request cookies, headers as request headers.
type Bundle struct {
	Cookies map[string]string `json:"cookies"`
	Headers map[string]string `json:"headers"`
}

// Empty reports whether the bundle carries no credentials at all.
func (b Bundle) Empty() bool {
	return len(b.Cookies) == 0 && len(b.Headers) == 0
}

// Load reads an authentication bundle from path. Accepted formats:
//
//   - {"cookies": {...}, "headers": {...}} as written by the browser
//     extraction tooling; either key may be absent
//   - a flat {"name": "value"} map, treated as cookies-only (legacy)
//   - a Cookie-Editor export, a JSON list of {"name": ..., "value": ...}
//   - a Netscape cookie file (tab-separated, as produced by curl)
//
// An empty path yields an empty bundle: anonymous downloads are allowed,
// the server just tends to answer them with login pages.
func Load(ctx context.Context, path string) (Bundle, error) {
	if path == "" {
		return Bundle{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to read auth file: %w", err)
	}

	bundle, err := parse(data)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to parse auth file %s: %w", path, err)
	}

	logctx.LoggerFromContext(ctx).Info("loaded auth bundle",
		"path", path,
		"cookies", len(bundle.Cookies),
		"headers", len(bundle.Headers),
	)

	return bundle, nil
}

func parse(data []byte) (Bundle, error) {
	trimmed := strings.TrimSpace(string(data))

	switch {
	case strings.HasPrefix(trimmed, "{"):
		return parseObject(data)
	case strings.HasPrefix(trimmed, "["):
		return parseCookieList(data)
	default:
		return parseNetscape(trimmed)
	}
}

func parseObject(data []byte) (Bundle, error) {
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return Bundle{}, fmt.Errorf("invalid JSON object: %w", err)
	}

	if bundle.Cookies != nil || bundle.Headers != nil {
		return bundle, nil
	}

	// No cookies/headers keys: a legacy flat cookie map.
	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return Bundle{}, fmt.Errorf("invalid cookie map: %w", err)
	}

	return Bundle{Cookies: flat}, nil
}

func parseCookieList(data []byte) (Bundle, error) {
	var entries []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}

	if err := json.Unmarshal(data, &entries); err != nil {
		return Bundle{}, fmt.Errorf("invalid cookie list: %w", err)
	}

	cookies := make(map[string]string, len(entries))

	for _, e := range entries {
		if e.Name != "" {
			cookies[e.Name] = e.Value
		}
	}

	return Bundle{Cookies: cookies}, nil
}

// parseNetscape handles the curl cookie jar format: seven tab-separated
// fields per line, name and value in the last two.
func parseNetscape(content string) (Bundle, error) {
	cookies := make(map[string]string)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) >= 7 {
			cookies[parts[5]] = parts[6]
		}
	}

	if len(cookies) == 0 {
		return Bundle{}, fmt.Errorf("no cookies found in netscape cookie file")
	}

	return Bundle{Cookies: cookies}, nil
}
