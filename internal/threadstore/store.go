// Package threadstore provides durable, append-only persistence of
// Events keyed by ThreadID, using atomic temp-file-then-rename writes
// and per-path flock in a log-structured shape suited to an
// append-only event stream rather than whole-document overwrites.
package threadstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/obra/lace-sub001/internal/lacelog"
	"github.com/obra/lace-sub001/pkg/lace"
)

// Store is the durable ThreadStore. Reads degrade gracefully (empty
// results) when the backing directory is absent; writes fail loudly but
// never corrupt a prior event.
type Store struct {
	basePath string

	mu    sync.RWMutex
	locks map[string]*fileLock

	// canonical maps a root ThreadID to the ThreadID of its active
	// (possibly compacted-shadow) version. Absence means "itself".
	canonical map[lace.ThreadID]lace.ThreadID
}

// New creates a Store rooted at basePath. The directory is created lazily
// on first write.
func New(basePath string) *Store {
	return &Store{
		basePath:  basePath,
		locks:     make(map[string]*fileLock),
		canonical: make(map[lace.ThreadID]lace.ThreadID),
	}
}

func (s *Store) metaPath(id lace.ThreadID) string {
	return filepath.Join(s.basePath, "threads", string(id)+".meta.json")
}

func (s *Store) eventsPath(id lace.ThreadID) string {
	return filepath.Join(s.basePath, "threads", string(id)+".events.jsonl")
}

func (s *Store) canonicalPath() string {
	return filepath.Join(s.basePath, "canonical.json")
}

func (s *Store) lockFor(path string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = newFileLock(path)
		s.locks[path] = l
	}
	return l
}

// CreateThread creates a new, empty thread. Returns lace.ErrDuplicateThread
// if id already exists.
func (s *Store) CreateThread(ctx context.Context, id lace.ThreadID) (lace.Thread, error) {
	meta := s.metaPath(id)
	if _, err := os.Stat(meta); err == nil {
		return lace.Thread{}, lace.ErrDuplicateThread
	}

	if err := os.MkdirAll(filepath.Dir(meta), 0o755); err != nil {
		return lace.Thread{}, fmt.Errorf("create thread dir: %w", err)
	}

	now := time.Now().UTC()
	th := lace.Thread{ID: id, CreatedAt: now, UpdatedAt: now}
	if err := s.writeMeta(th); err != nil {
		return lace.Thread{}, err
	}
	// Creating the (empty) events file up front makes HasThread/GetThread
	// agree even before the first append.
	f, err := os.OpenFile(s.eventsPath(id), os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return lace.Thread{}, fmt.Errorf("create thread events file: %w", err)
	}
	f.Close()

	return th, nil
}

func (s *Store) writeMeta(th lace.Thread) error {
	path := s.metaPath(th.ID)
	lock := s.lockFor(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock thread meta: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(th, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal thread meta: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write thread meta: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename thread meta: %w", err)
	}
	return nil
}

// AppendEvent assigns a monotone timestamp and a stable event id, then
// atomically appends a single JSON line. A write failure never corrupts
// events already on disk: the append is a single os.File.Write of one
// complete line, and lock acquisition happens before any content is
// generated.
func (s *Store) AppendEvent(ctx context.Context, threadID lace.ThreadID, typ lace.EventType, payload any) (lace.Event, error) {
	if !lace.KnownEventTypes[typ] {
		return lace.Event{}, lace.NewError(lace.KindUnknownEventType, string(typ), nil)
	}

	path := s.eventsPath(threadID)
	lock := s.lockFor(path)
	if err := lock.Lock(); err != nil {
		return lace.Event{}, fmt.Errorf("lock thread events: %w", err)
	}
	defer lock.Unlock()

	last, err := s.lastTimestampLocked(path)
	if err != nil {
		return lace.Event{}, err
	}
	ts := time.Now().UTC()
	if !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}

	ev, err := lace.NewEvent(ulid.Make().String(), threadID, typ, ts, payload)
	if err != nil {
		return lace.Event{}, err
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return lace.Event{}, fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return lace.Event{}, fmt.Errorf("open thread events: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return lace.Event{}, fmt.Errorf("append event: %w", err)
	}

	s.touchMeta(threadID, ts)
	return ev, nil
}

func (s *Store) touchMeta(id lace.ThreadID, ts time.Time) {
	var th lace.Thread
	meta := s.metaPath(id)
	data, err := os.ReadFile(meta)
	if err != nil {
		return
	}
	if json.Unmarshal(data, &th) != nil {
		return
	}
	th.UpdatedAt = ts
	if err := s.writeMeta(th); err != nil {
		lacelog.Logger.Warn().Err(err).Str("thread", string(id)).Msg("failed to update thread metadata timestamp")
	}
}

func (s *Store) lastTimestampLocked(path string) (time.Time, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("open thread events: %w", err)
	}
	defer f.Close()

	var last time.Time
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var ev lace.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
	}
	return last, scanner.Err()
}

// GetEvents returns the ordered events of a single thread. Graceful
// degradation: a missing thread yields an empty slice, not an error.
func (s *Store) GetEvents(ctx context.Context, threadID lace.ThreadID) ([]lace.Event, error) {
	path := s.eventsPath(threadID)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open thread events: %w", err)
	}
	defer f.Close()

	var events []lace.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev lace.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("corrupt event in %s: %w", path, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan thread events: %w", err)
	}
	return events, nil
}

// listThreadIDs enumerates every thread ID known to the store, via its
// *.meta.json files.
func (s *Store) listThreadIDs(ctx context.Context) ([]lace.ThreadID, error) {
	dir := filepath.Join(s.basePath, "threads")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}

	var ids []lace.ThreadID
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".meta.json") {
			ids = append(ids, lace.ThreadID(strings.TrimSuffix(name, ".meta.json")))
		}
	}
	return ids, nil
}

// GetMainAndDelegateEvents returns the union of events for rootID and
// every thread whose id has rootID as a strict prefix (followed by "."),
// chronologically merged.
func (s *Store) GetMainAndDelegateEvents(ctx context.Context, rootID lace.ThreadID) ([]lace.Event, error) {
	ids, err := s.listThreadIDs(ctx)
	if err != nil {
		return nil, err
	}

	var all []lace.Event
	for _, id := range ids {
		if !id.IsDescendantOf(rootID) {
			continue
		}
		evs, err := s.GetEvents(ctx, id)
		if err != nil {
			return nil, err
		}
		all = append(all, evs...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

// GetLatestThreadID returns the most recently updated top-level thread,
// or ("", false) if none exist.
func (s *Store) GetLatestThreadID(ctx context.Context) (lace.ThreadID, bool, error) {
	ids, err := s.listThreadIDs(ctx)
	if err != nil {
		return "", false, err
	}

	var latest lace.Thread
	found := false
	for _, id := range ids {
		if id.IsDelegate() {
			continue
		}
		th, err := s.GetThread(ctx, id)
		if err != nil || th == nil {
			continue
		}
		if !found || th.UpdatedAt.After(latest.UpdatedAt) {
			latest = *th
			found = true
		}
	}
	if !found {
		return "", false, nil
	}
	return latest.ID, true, nil
}

// HasThread reports whether id has been created.
func (s *Store) HasThread(ctx context.Context, id lace.ThreadID) bool {
	_, err := os.Stat(s.metaPath(id))
	return err == nil
}

// GetThread returns thread metadata, or nil if it doesn't exist.
func (s *Store) GetThread(ctx context.Context, id lace.ThreadID) (*lace.Thread, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read thread meta: %w", err)
	}
	var th lace.Thread
	if err := json.Unmarshal(data, &th); err != nil {
		return nil, fmt.Errorf("unmarshal thread meta: %w", err)
	}
	return &th, nil
}

// CanonicalID follows compaction indirection to the currently active
// shadow thread for id, or returns id unchanged if no shadow is recorded.
func (s *Store) CanonicalID(ctx context.Context, id lace.ThreadID) (lace.ThreadID, error) {
	s.mu.RLock()
	if c, ok := s.canonical[id]; ok {
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	m, err := s.loadCanonicalMap()
	if err != nil {
		return id, err
	}
	if c, ok := m[id]; ok {
		s.mu.Lock()
		s.canonical[id] = c
		s.mu.Unlock()
		return c, nil
	}
	return id, nil
}

// SetCanonical rebinds id's canonical mapping to shadow, persisting the
// rebind so it survives process restart.
func (s *Store) SetCanonical(ctx context.Context, id, shadow lace.ThreadID) error {
	s.mu.Lock()
	if s.canonical == nil {
		s.canonical = make(map[lace.ThreadID]lace.ThreadID)
	}
	s.canonical[id] = shadow
	s.mu.Unlock()

	m, err := s.loadCanonicalMap()
	if err != nil {
		m = make(map[lace.ThreadID]lace.ThreadID)
	}
	m[id] = shadow
	return s.writeCanonicalMap(m)
}

func (s *Store) loadCanonicalMap() (map[lace.ThreadID]lace.ThreadID, error) {
	data, err := os.ReadFile(s.canonicalPath())
	if os.IsNotExist(err) {
		return make(map[lace.ThreadID]lace.ThreadID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read canonical map: %w", err)
	}
	m := make(map[lace.ThreadID]lace.ThreadID)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal canonical map: %w", err)
	}
	return m, nil
}

func (s *Store) writeCanonicalMap(m map[lace.ThreadID]lace.ThreadID) error {
	path := s.canonicalPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal canonical map: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write canonical map: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename canonical map: %w", err)
	}
	return nil
}
