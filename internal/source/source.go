package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/takeoutdl/takeout_downloader/internal/logctx"
)

// LoadURLs reads candidate URLs from a text file, one per line. Only lines
// with an HTTP(S) scheme are accepted; everything else (comments, blank
// lines, stray shell noise) is silently ignored.
func LoadURLs(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open URL list: %w", err)
	}
	defer f.Close()

	var urls []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			urls = append(urls, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read URL list: %w", err)
	}

	logctx.LoggerFromContext(ctx).Info("loaded url list", "path", path, "count", len(urls))

	return urls, nil
}
