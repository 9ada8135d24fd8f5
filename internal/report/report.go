// Package report reduces the ledger to a human-readable run summary. It
// never mutates records and never touches the network or filesystem.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/takeoutdl/takeout_downloader/internal/ledger"
)

// Entry is one failed or expired record surfaced to the operator.
type Entry struct {
	Filename     string `json:"filename"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Summary holds counts by status plus the records worth calling out.
type Summary struct {
	Total           int   `json:"total"`
	Completed       int   `json:"completed"`
	Failed          int   `json:"failed"`
	Expired         int   `json:"expired"`
	Pending         int   `json:"pending"`
	Downloading     int   `json:"downloading"`
	BytesDownloaded int64 `json:"bytes_downloaded"`

	Failures     []Entry `json:"failures,omitempty"`
	ExpiredLinks []Entry `json:"expired_links,omitempty"`
}

// Build reduces a record set to a Summary. Entries are sorted by filename
// so repeated runs print in a stable order.
func Build(records map[string]ledger.DownloadRecord) Summary {
	var s Summary

	s.Total = len(records)

	for _, rec := range records {
		s.BytesDownloaded += rec.BytesDownloaded

		switch rec.Status {
		case ledger.StatusCompleted:
			s.Completed++
		case ledger.StatusFailed:
			s.Failed++
			s.Failures = append(s.Failures, Entry{Filename: rec.Filename, ErrorMessage: rec.ErrorMessage})
		case ledger.StatusExpired:
			s.Expired++
			s.ExpiredLinks = append(s.ExpiredLinks, Entry{Filename: rec.Filename, ErrorMessage: rec.ErrorMessage})
		case ledger.StatusDownloading:
			s.Downloading++
		default:
			s.Pending++
		}
	}

	sort.Slice(s.Failures, func(i, j int) bool { return s.Failures[i].Filename < s.Failures[j].Filename })
	sort.Slice(s.ExpiredLinks, func(i, j int) bool { return s.ExpiredLinks[i].Filename < s.ExpiredLinks[j].Filename })

	return s
}

// Render writes the terminal summary.
func (s Summary) Render(w io.Writer) {
	fmt.Fprintf(w, "\n=== Download Summary ===\n")
	fmt.Fprintf(w, "Total files: %d\n", s.Total)
	fmt.Fprintf(w, "Completed: %d\n", s.Completed)
	fmt.Fprintf(w, "Failed: %d\n", s.Failed)
	fmt.Fprintf(w, "Expired: %d\n", s.Expired)

	if s.Pending+s.Downloading > 0 {
		fmt.Fprintf(w, "Unfinished: %d\n", s.Pending+s.Downloading)
	}

	fmt.Fprintf(w, "Downloaded: %s\n", humanize.Bytes(uint64(s.BytesDownloaded)))

	if len(s.Failures) > 0 {
		fmt.Fprintf(w, "\nFailed downloads:\n")

		for _, f := range s.Failures {
			fmt.Fprintf(w, "  - %s: %s\n", f.Filename, f.ErrorMessage)
		}
	}

	if len(s.ExpiredLinks) > 0 {
		fmt.Fprintf(w, "\nExpired links (request fresh URLs):\n")

		for _, e := range s.ExpiredLinks {
			fmt.Fprintf(w, "  - %s\n", e.Filename)
		}
	}
}
