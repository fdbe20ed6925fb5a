// Package compactor rewrites a long event sequence into a shorter
// semantically-equivalent one under a named strategy. A compaction never
// edits history: it writes the rewritten sequence to a fresh shadow
// thread, appends a COMPACTION record to the original, and rebinds the
// canonical id so resumes land on the shadow.
package compactor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/obra/lace-sub001/internal/lacelog"
	"github.com/obra/lace-sub001/internal/threadstore"
	"github.com/obra/lace-sub001/pkg/lace"
)

// NewEventSpec is one event a Strategy wants in the shadow thread. The
// store assigns ids and timestamps at append time.
type NewEventSpec struct {
	Type    lace.EventType
	Payload any
}

// Strategy produces the rewritten event sequence for a thread.
type Strategy interface {
	ID() string
	Compact(ctx context.Context, events []lace.Event) ([]NewEventSpec, error)
}

// Compactor runs registered strategies against threads in a store.
type Compactor struct {
	store      *threadstore.Store
	strategies map[string]Strategy
}

// New creates a Compactor over store with no strategies registered.
func New(store *threadstore.Store) *Compactor {
	return &Compactor{store: store, strategies: make(map[string]Strategy)}
}

// Register adds a strategy under its own ID.
func (c *Compactor) Register(s Strategy) {
	c.strategies[s.ID()] = s
}

// Result reports what a Compact call produced.
type Result struct {
	ShadowThreadID      lace.ThreadID
	OriginalEventCount  int
	CompactedEventCount int
}

// Compact rewrites threadID's events under the named strategy: it
// creates a shadow thread holding the rewritten sequence, appends a
// COMPACTION event to the original thread, and rebinds the canonical
// mapping so threadID now resolves to the shadow.
func (c *Compactor) Compact(ctx context.Context, threadID lace.ThreadID, strategyID string) (Result, error) {
	strategy, ok := c.strategies[strategyID]
	if !ok {
		return Result{}, fmt.Errorf("unknown compaction strategy %q", strategyID)
	}

	events, err := c.store.GetEvents(ctx, threadID)
	if err != nil {
		return Result{}, fmt.Errorf("load events for compaction: %w", err)
	}
	if len(events) == 0 {
		return Result{}, fmt.Errorf("thread %s has no events to compact", threadID)
	}

	specs, err := strategy.Compact(ctx, events)
	if err != nil {
		return Result{}, fmt.Errorf("strategy %s: %w", strategyID, err)
	}

	shadowID, err := c.newShadowThread(ctx)
	if err != nil {
		return Result{}, err
	}

	for _, spec := range specs {
		if _, err := c.store.AppendEvent(ctx, shadowID, spec.Type, spec.Payload); err != nil {
			return Result{}, fmt.Errorf("write shadow event: %w", err)
		}
	}

	compaction := lace.CompactionData{
		StrategyID:         strategyID,
		OriginalEventCount: len(events),
		CompactedEvents:    len(specs),
		ShadowThreadID:     shadowID,
	}
	if _, err := c.store.AppendEvent(ctx, threadID, lace.EventCompaction, compaction); err != nil {
		return Result{}, fmt.Errorf("record compaction: %w", err)
	}

	if err := c.store.SetCanonical(ctx, threadID, shadowID); err != nil {
		return Result{}, fmt.Errorf("rebind canonical id: %w", err)
	}

	lacelog.Logger.Info().
		Str("thread", string(threadID)).
		Str("shadow", string(shadowID)).
		Str("strategy", strategyID).
		Int("original", len(events)).
		Int("compacted", len(specs)).
		Msg("compacted thread")

	return Result{ShadowThreadID: shadowID, OriginalEventCount: len(events), CompactedEventCount: len(specs)}, nil
}

func (c *Compactor) newShadowThread(ctx context.Context) (lace.ThreadID, error) {
	for attempt := 0; attempt < 5; attempt++ {
		id, err := lace.NewRootID(time.Now())
		if err != nil {
			return "", err
		}
		if c.store.HasThread(ctx, id) {
			continue
		}
		if _, err := c.store.CreateThread(ctx, id); err != nil {
			if err == lace.ErrDuplicateThread {
				continue
			}
			return "", err
		}
		return id, nil
	}
	return "", fmt.Errorf("could not allocate a shadow thread id after retries")
}

// DefaultStrategyID is used when a /compact command names no strategy.
const DefaultStrategyID = "summarize"

// ParseCommand detects a /compact slash command in inbound user text and
// returns the requested strategy id. Handlers call this on the text of a
// USER_MESSAGE before it reaches the provider.
func ParseCommand(text string) (strategyID string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "/compact" {
		return DefaultStrategyID, true
	}
	if rest, found := strings.CutPrefix(trimmed, "/compact "); found {
		rest = strings.TrimSpace(rest)
		if rest != "" && !strings.Contains(rest, " ") {
			return rest, true
		}
	}
	return "", false
}
