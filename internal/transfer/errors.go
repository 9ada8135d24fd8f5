package transfer

import "fmt"

// ExpiredLinkError represents authorization-class refusals (403/404).
// Retrying an expired link is pointless; the operator has to produce a
// fresh authenticated URL.
type ExpiredLinkError struct {
	URL        string // The URL that was refused
	StatusCode int    // HTTP status code returned by the server
}

func (e *ExpiredLinkError) Error() string {
	return fmt.Sprintf("link expired (HTTP %d)", e.StatusCode)
}

// UnexpectedStatusError represents transient protocol failures: any status
// outside 200/206 that is not an authorization refusal.
type UnexpectedStatusError struct {
	URL        string // The URL that failed
	StatusCode int    // HTTP status code returned by the server
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status HTTP %d", e.StatusCode)
}

// InvalidArchiveError represents downloads whose bytes arrived fine but do
// not form a valid archive. The usual culprit is an authentication page
// served with a 200 status.
type InvalidArchiveError struct {
	Filename string // Name of the file that failed validation
}

func (e *InvalidArchiveError) Error() string {
	return fmt.Sprintf("%s is not a valid archive, likely an authentication page", e.Filename)
}
