// Package validation provides path-safety checks for identifiers that get
// turned into filesystem path segments (domain names, session ids).
// This package has no dependencies on other internal packages to avoid import cycles.
package validation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidDomain indicates a domain value is malformed or attempts path traversal.
var ErrInvalidDomain = errors.New("invalid domain")

// ErrInvalidSessionID indicates a session_id value is malformed or attempts path traversal.
var ErrInvalidSessionID = errors.New("invalid session_id")

// Domain checks that a domain string is safe for use as a single filesystem
// path segment (the delta log and GraphStore key snapshots and deltas by
// domain name on disk). Returns the cleaned domain and an error if unsafe.
func Domain(domain string) (string, error) {
	return singleSegment(domain, ErrInvalidDomain)
}

// SessionID checks that a session id is safe for use as a single filesystem
// path segment.
func SessionID(sessionID string) (string, error) {
	return singleSegment(sessionID, ErrInvalidSessionID)
}

func singleSegment(id string, sentinel error) (string, error) {
	if id == "" {
		return "", nil
	}
	if id == "." || id == ".." {
		return "", sentinel
	}
	if strings.ContainsAny(id, `/\`) {
		return "", sentinel
	}
	clean := filepath.Clean(id)
	if clean != id ||
		strings.HasPrefix(clean, "..") ||
		strings.Contains(clean, string(os.PathSeparator)+"..") ||
		filepath.IsAbs(clean) {
		return "", sentinel
	}
	return clean, nil
}
