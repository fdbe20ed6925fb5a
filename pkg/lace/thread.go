// Package lace holds the core data model shared by every Lace component:
// thread identifiers, the closed event-type set, and the typed payloads
// each event type carries.
package lace

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ThreadID identifies a Thread. Top-level threads look like
// lace_20250714_a1b2c3; a delegate thread extends its parent with one or
// more ".N" suffixes, e.g. lace_20250714_a1b2c3.1 or ....1.2.
type ThreadID string

var rootIDPattern = regexp.MustCompile(`^lace_[0-9]{8}_[0-9a-z]{6}$`)
var delegateSuffixPattern = regexp.MustCompile(`^\.[0-9]+$`)

// Valid reports whether id is well-formed: a root ID optionally followed
// by one or more ".N" delegate suffixes.
func (id ThreadID) Valid() bool {
	s := string(id)
	if s == "" {
		return false
	}
	parts := strings.SplitN(s, ".", 2)
	if !rootIDPattern.MatchString(parts[0]) {
		return false
	}
	if len(parts) == 1 {
		return true
	}
	for _, seg := range strings.Split(parts[1], ".") {
		if !delegateSuffixPattern.MatchString("." + seg) {
			return false
		}
	}
	return true
}

// Root returns the top-level ancestor of id (strips all ".N" suffixes).
func (id ThreadID) Root() ThreadID {
	s := string(id)
	if i := strings.Index(s, "."); i >= 0 {
		return ThreadID(s[:i])
	}
	return id
}

// IsDelegate reports whether id has a ".N" suffix.
func (id ThreadID) IsDelegate() bool {
	return strings.Contains(string(id), ".")
}

// Parent returns the immediate parent of a delegate ID and true, or ("",
// false) if id is a root ID.
func (id ThreadID) Parent() (ThreadID, bool) {
	s := string(id)
	i := strings.LastIndex(s, ".")
	if i < 0 {
		return "", false
	}
	return ThreadID(s[:i]), true
}

// IsDescendantOf reports whether id is root, or a delegate (at any depth)
// of root: id == root, or id begins with root followed by ".".
func (id ThreadID) IsDescendantOf(root ThreadID) bool {
	s, r := string(id), string(root)
	if s == r {
		return true
	}
	return strings.HasPrefix(s, r+".")
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewRootID generates a new top-level ThreadID for the given time: the
// 8-digit UTC date plus six random lowercase-alphanumeric characters.
func NewRootID(now time.Time) (ThreadID, error) {
	suffix, err := randomSuffix(6)
	if err != nil {
		return "", err
	}
	return ThreadID(fmt.Sprintf("lace_%s_%s", now.UTC().Format("20060102"), suffix)), nil
}

func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate thread id suffix: %w", err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out), nil
}

// NextDelegateID returns parent's child ID for the next free slot among
// siblings (the set of existing delegate IDs that are immediate children
// of parent). It does not consult storage; callers pass in the sibling
// set they already hold.
func NextDelegateID(parent ThreadID, existingChildren []ThreadID) ThreadID {
	max := 0
	prefix := string(parent) + "."
	for _, c := range existingChildren {
		s := string(c)
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		rest := s[len(prefix):]
		// Only count immediate children: rest has no further '.'.
		if strings.Contains(rest, ".") {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil && n > max {
			max = n
		}
	}
	return ThreadID(fmt.Sprintf("%s.%d", parent, max+1))
}

// Thread is an ordered, append-only sequence of Events identified by a
// ThreadID. ThreadStore is the sole authority for its contents; Thread
// itself is a plain record of metadata.
type Thread struct {
	ID        ThreadID  `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
