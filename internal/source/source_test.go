package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadURLs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := `# takeout batch from 2026-03-14
https://takeout.google.com/download?job=1

  https://takeout.google.com/download?job=2
ftp://not-http.example.com/file
just some prose
http://plain.example.com/archive.zip
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	urls, err := LoadURLs(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://takeout.google.com/download?job=1",
		"https://takeout.google.com/download?job=2",
		"http://plain.example.com/archive.zip",
	}, urls)
}

func TestLoadURLsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	urls, err := LoadURLs(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestLoadURLsMissingFile(t *testing.T) {
	_, err := LoadURLs(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}
