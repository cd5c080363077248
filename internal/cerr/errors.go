// Package cerr defines the sentinel and typed errors shared across cortex's
// components, matching the error taxonomy in the design notes.
package cerr

import "errors"

var (
	// ErrChecksumMismatch means a .ctx or .avis file's trailing CRC32 did not
	// match the computed checksum of its preceding bytes.
	ErrChecksumMismatch = errors.New("integrity check failed: checksum mismatch")
	// ErrBadMagic means the leading magic bytes of a binary file did not match
	// the expected constant.
	ErrBadMagic = errors.New("invalid magic bytes")
	// ErrUnsupportedVersion means a binary file declares a format version this
	// build does not know how to read.
	ErrUnsupportedVersion = errors.New("unsupported format version")
	// ErrTruncated means a binary file ended before all declared sections were
	// read.
	ErrTruncated = errors.New("truncated file")

	// ErrNodeNotFound means a requested node URL has no entry in the graph.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNoPath means no path exists between two nodes under the requested
	// constraints.
	ErrNoPath = errors.New("no path found")
	// ErrDomainNotMapped means a query referenced a domain with no SiteMap on
	// disk.
	ErrDomainNotMapped = errors.New("domain not mapped")

	// ErrBrowserUnavailable means L3 headless rendering could not be reached
	// and acquisition should continue without it.
	ErrBrowserUnavailable = errors.New("browser backend unavailable")
	// ErrRobotsDisallowed means robots.txt forbids fetching the requested path.
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

	// ErrCaptureNotFound means a VisualStore lookup referenced an unknown
	// capture id.
	ErrCaptureNotFound = errors.New("capture not found")
	// ErrSessionNotFound means a VisualStore session lookup failed.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired means a session's idle or absolute timeout elapsed.
	ErrSessionExpired = errors.New("session expired")
	// ErrModelNotAvailable means the embedding model is not loaded; callers
	// receive zero vectors rather than an error in this case, so this is
	// reserved for explicit reachability checks.
	ErrModelNotAvailable = errors.New("embedding model not available")

	// ErrInvalidQuery means a WQL query string failed to parse or compile.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrBadID means a caller-supplied id failed path-safety validation.
	ErrBadID = errors.New("invalid identifier")
)
