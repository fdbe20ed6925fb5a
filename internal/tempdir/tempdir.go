// Package tempdir manages a nested temp-directory lifecycle:
// project-<id>/session-<id>/tool-call-<callId>, created lazily on
// first need and retained for the process lifetime, under an
// XDG-style root.
package tempdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Root is the base directory under which every project/session/call
// directory is nested. It defaults to $LACE_DIR/tmp (or ~/.lace/tmp).
type Root struct {
	base string

	mu      sync.Mutex
	created map[string]bool
}

// NewRoot returns a Root at base.
func NewRoot(base string) *Root {
	return &Root{base: base, created: make(map[string]bool)}
}

// DefaultRoot resolves the root from $LACE_DIR (defaulting to ~/.lace).
func DefaultRoot() *Root {
	dir := os.Getenv("LACE_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".lace")
	}
	return NewRoot(filepath.Join(dir, "tmp"))
}

// SessionTempDir is deterministic: identical (sessionID, projectID)
// return the same path; different sessions under the same project share
// the project dir but have disjoint session dirs.
func (r *Root) SessionTempDir(sessionID, projectID string) string {
	return filepath.Join(r.base, "project-"+projectID, "session-"+sessionID)
}

// CallDir lazily creates and returns the directory for a single tool
// call within a session, disjoint from any other call's directory.
func (r *Root) CallDir(sessionID, projectID, callID string) (string, error) {
	dir := filepath.Join(r.SessionTempDir(sessionID, projectID), "tool-call-"+callID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.created[dir] {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create tool call temp dir: %w", err)
		}
		r.created[dir] = true
	}
	return dir, nil
}

// NewCallID mints a process-unique id for a tool call's temp directory
// name when the call itself doesn't already have a stable id to reuse.
func NewCallID() string {
	return uuid.NewString()
}
