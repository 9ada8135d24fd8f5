package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, dir string, payloadSize int) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create("photos/IMG_0001.jpg")
	require.NoError(t, err)
	_, err = w.Write(bytes.Repeat([]byte("x"), payloadSize))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, "archive.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	return path
}

func TestValidAcceptsRealArchive(t *testing.T) {
	path := writeZip(t, t.TempDir(), 256)

	v := NewValidator(1)
	assert.True(t, v.Valid(path))
}

func TestValidRejectsSmallFile(t *testing.T) {
	// A structurally valid zip below the size threshold is still rejected;
	// auth pages occasionally come back as tiny well-formed downloads.
	path := writeZip(t, t.TempDir(), 16)

	v := NewValidator(0)
	assert.Equal(t, int64(DefaultMinSize), v.MinSize)
	assert.False(t, v.Valid(path))
}

func TestValidRejectsHTMLBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "takeout.zip")
	body := "<html><body>" + strings.Repeat("Sign in to continue. ", 200) + "</body></html>"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	v := NewValidator(1)
	assert.False(t, v.Valid(path))
}

func TestValidRejectsTruncatedArchive(t *testing.T) {
	dir := t.TempDir()
	full := writeZip(t, dir, 4096)

	data, err := os.ReadFile(full)
	require.NoError(t, err)

	truncated := filepath.Join(dir, "partial.zip")
	require.NoError(t, os.WriteFile(truncated, data[:len(data)/2], 0644))

	v := NewValidator(1)
	assert.False(t, v.Valid(truncated))
}

func TestValidMissingFile(t *testing.T) {
	v := NewValidator(1)
	assert.False(t, v.Valid(filepath.Join(t.TempDir(), "nope.zip")))
}
