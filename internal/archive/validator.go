package archive

import (
	"archive/zip"
	"os"
)

// DefaultMinSize is the smallest plausible archive. Anything below it is
// almost certainly an HTML login or error page served with a 200 status.
const DefaultMinSize = 50_000

// Validator decides whether a local file is a structurally valid zip
// archive or a disguised failure response.
type Validator struct {
	MinSize int64
}

// NewValidator creates a validator with the given minimum size threshold.
// A threshold of 0 falls back to DefaultMinSize.
func NewValidator(minSize int64) *Validator {
	if minSize <= 0 {
		minSize = DefaultMinSize
	}

	return &Validator{MinSize: minSize}
}

// Valid reports whether path holds a genuine archive. Any stat, open, or
// parse failure means invalid; nothing is ever propagated as an error and
// the file is never modified.
func (v *Validator) Valid(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	if info.Size() < v.MinSize {
		return false
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	defer r.Close()

	// Reading the central directory succeeded; an empty member list still
	// means the container itself parses.
	return true
}
