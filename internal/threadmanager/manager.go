// Package threadmanager is an in-memory index over threadstore.Store
// that generates canonical and delegate thread IDs and resumes threads.
// Events are appended through the store itself, not through Manager.
package threadmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/obra/lace-sub001/internal/threadstore"
	"github.com/obra/lace-sub001/pkg/lace"
)

// Manager wraps a Store handle for thread creation and resume. It does
// not hold the store exclusively: the same handle is reachable through
// Store() and is also passed directly to other components, which append
// events to it without going through Manager.
type Manager struct {
	store *threadstore.Store
}

// New wraps store.
func New(store *threadstore.Store) *Manager {
	return &Manager{store: store}
}

// Store exposes the underlying store. Callers use it both to read events
// and to append them; writes made through it bypass Manager.
func (m *Manager) Store() *threadstore.Store { return m.store }

// NewThread creates and persists a brand-new top-level thread, retrying
// id generation on the (astronomically unlikely) collision case.
func (m *Manager) NewThread(ctx context.Context) (lace.ThreadID, error) {
	for attempt := 0; attempt < 5; attempt++ {
		id, err := lace.NewRootID(time.Now())
		if err != nil {
			return "", err
		}
		if m.store.HasThread(ctx, id) {
			continue
		}
		if _, err := m.store.CreateThread(ctx, id); err != nil {
			if err == lace.ErrDuplicateThread {
				continue
			}
			return "", err
		}
		return id, nil
	}
	return "", fmt.Errorf("could not allocate a unique thread id after retries")
}

// NewDelegateThread allocates the next free ".N" child of parent by
// scanning the existing sibling set, then creates it. Two concurrent
// spawns on the same parent can compute the same slot; the loser sees
// lace.ErrDuplicateThread and rescans for the next one.
func (m *Manager) NewDelegateThread(ctx context.Context, parent lace.ThreadID) (lace.ThreadID, error) {
	for attempt := 0; attempt < 5; attempt++ {
		siblings, err := m.childThreadIDs(ctx, parent)
		if err != nil {
			return "", err
		}
		id := lace.NextDelegateID(parent, siblings)
		if _, err := m.store.CreateThread(ctx, id); err != nil {
			if err == lace.ErrDuplicateThread {
				continue
			}
			return "", err
		}
		return id, nil
	}
	return "", fmt.Errorf("could not allocate a delegate thread id under %s after retries", parent)
}

func (m *Manager) childThreadIDs(ctx context.Context, parent lace.ThreadID) ([]lace.ThreadID, error) {
	// getMainAndDelegateEvents only returns events, not bare thread ids, so
	// we derive the sibling set from the event union's distinct ThreadIDs.
	events, err := m.store.GetMainAndDelegateEvents(ctx, parent)
	if err != nil {
		return nil, err
	}
	seen := make(map[lace.ThreadID]bool)
	var ids []lace.ThreadID
	for _, ev := range events {
		if !seen[ev.ThreadID] {
			seen[ev.ThreadID] = true
			ids = append(ids, ev.ThreadID)
		}
	}
	// An empty-but-created delegate thread (no events yet) wouldn't show up
	// above; also check the store directly for the next free slot by
	// probing HasThread upward from .1 until the first missing slot. This keeps allocation
	// correct even immediately after NewDelegateThread before any event is
	// appended.
	for n := 1; ; n++ {
		candidate := lace.ThreadID(fmt.Sprintf("%s.%d", parent, n))
		if !m.store.HasThread(ctx, candidate) {
			break
		}
		if !seen[candidate] {
			seen[candidate] = true
			ids = append(ids, candidate)
		}
	}
	return ids, nil
}

// ResumeResult is returned by ResumeOrCreate.
type ResumeResult struct {
	ThreadID    lace.ThreadID
	IsResumed   bool
	ResumeError string
}

// ResumeOrCreate: a valid, known id resumes
// that thread; anything else (malformed or unknown) yields a brand-new
// thread plus a human-readable ResumeError. It never returns a Go error
// for a bad maybeId — that case is reported in-band.
func (m *Manager) ResumeOrCreate(ctx context.Context, maybeID string) (ResumeResult, error) {
	if maybeID != "" {
		id := lace.ThreadID(maybeID)
		if id.Valid() {
			canonical, err := m.store.CanonicalID(ctx, id)
			if err != nil {
				return ResumeResult{}, err
			}
			if m.store.HasThread(ctx, canonical) {
				return ResumeResult{ThreadID: canonical, IsResumed: true}, nil
			}
			newID, err := m.NewThread(ctx)
			if err != nil {
				return ResumeResult{}, err
			}
			return ResumeResult{
				ThreadID:    newID,
				IsResumed:   false,
				ResumeError: fmt.Sprintf("no thread found with id %q; started a new thread", maybeID),
			}, nil
		}
		newID, err := m.NewThread(ctx)
		if err != nil {
			return ResumeResult{}, err
		}
		return ResumeResult{
			ThreadID:    newID,
			IsResumed:   false,
			ResumeError: fmt.Sprintf("malformed thread id %q; started a new thread", maybeID),
		}, nil
	}

	newID, err := m.NewThread(ctx)
	if err != nil {
		return ResumeResult{}, err
	}
	return ResumeResult{ThreadID: newID, IsResumed: false}, nil
}
