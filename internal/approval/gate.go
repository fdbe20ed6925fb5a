// Package approval turns a tool-call request into a persisted approval
// request, waits for a persisted decision, and enforces session-wide
// allow policies.
package approval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/obra/lace-sub001/internal/eventbus"
	"github.com/obra/lace-sub001/internal/threadstore"
	"github.com/obra/lace-sub001/pkg/lace"
)

// EventKindApprovalRequested is published whenever a fresh
// TOOL_APPROVAL_REQUEST is appended, so a UI can prompt.
const EventKindApprovalRequested eventbus.Kind = "approval_requested"

// EventKindDoomLoopDetected is published when DoomLoop flags a repeated
// call; the Gate also appends a LOCAL_SYSTEM_MESSAGE warning event.
const EventKindDoomLoopDetected eventbus.Kind = "doom_loop_detected"

// Gate is the event-based ApprovalGate: RequestApproval never blocks. It
// either returns a decision already on record, or persists a request and
// raises lace.ErrApprovalPending so the caller can suspend the turn.
type Gate struct {
	store *threadstore.Store
	bus   *eventbus.Bus

	mu           sync.Mutex
	sessionTools map[string]bool            // sessionKey(threadID,toolName) -> allow_session
	patterns     map[string]map[string]bool // threadID -> fingerprint -> allowed
	doomLoop     *DoomLoopDetector
}

// NewGate wires a Gate to the store it persists approval events to and
// the bus it announces new requests and doom-loop warnings on.
func NewGate(store *threadstore.Store, bus *eventbus.Bus) *Gate {
	return &Gate{
		store:        store,
		bus:          bus,
		sessionTools: make(map[string]bool),
		patterns:     make(map[string]map[string]bool),
		doomLoop:     NewDoomLoopDetector(),
	}
}

func sessionKey(threadID lace.ThreadID, toolName string) string {
	return string(threadID) + "\x00" + toolName
}

// fingerprint identifies a (tool, arguments) pair for pattern-level
// allow_session tracking, so approving one bash command doesn't
// silently approve every other bash command in the session.
func fingerprint(call lace.ToolCallData) string {
	h := sha256.Sum256(append([]byte(call.Name+"\x00"), call.Arguments...))
	return hex.EncodeToString(h[:])
}

// RequestApproval implements tooling.ApprovalGate.
func (g *Gate) RequestApproval(ctx context.Context, threadID lace.ThreadID, call lace.ToolCallData) (lace.Decision, error) {
	if decision, ok := g.recordedDecision(ctx, threadID, call.ID); ok {
		return decision, nil
	}

	if g.doomLoop.Check(string(threadID), call.Name, call.Arguments) {
		g.warnDoomLoop(ctx, threadID, call)
	}

	if g.isSessionAllowed(threadID, call) {
		return lace.DecisionAllowOnce, nil
	}

	events, err := g.store.GetEvents(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("load events for approval check: %w", err)
	}
	if !hasApprovalRequest(events, call.ID) {
		if _, err := g.store.AppendEvent(ctx, threadID, lace.EventToolApprovalRequest, lace.ApprovalRequestData{ToolCallID: call.ID}); err != nil {
			return "", fmt.Errorf("persist approval request: %w", err)
		}
		if g.bus != nil {
			g.bus.Publish(eventbus.Event{Kind: EventKindApprovalRequested, Data: call})
		}
	}

	return "", lace.NewError(lace.KindApprovalPending, "awaiting approval for call "+call.ID, nil)
}

// Resolve records a decision for a pending call, called when a
// TOOL_APPROVAL_RESPONSE event is appended through the normal input
// path. It updates the session-wide allow maps for allow_session.
func (g *Gate) Resolve(threadID lace.ThreadID, call lace.ToolCallData, decision lace.Decision) {
	if decision != lace.DecisionAllowSession {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	// A bash allow_session covers only the same command pattern; other
	// tools are allowed by name for the rest of the session.
	if call.Name != "bash" {
		g.sessionTools[sessionKey(threadID, call.Name)] = true
	}
	fp := fingerprint(call)
	if g.patterns[string(threadID)] == nil {
		g.patterns[string(threadID)] = make(map[string]bool)
	}
	g.patterns[string(threadID)][fp] = true
}

func (g *Gate) isSessionAllowed(threadID lace.ThreadID, call lace.ToolCallData) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessionTools[sessionKey(threadID, call.Name)] {
		return true
	}
	if patterns, ok := g.patterns[string(threadID)]; ok {
		return patterns[fingerprint(call)]
	}
	return false
}

func (g *Gate) recordedDecision(ctx context.Context, threadID lace.ThreadID, toolCallID string) (lace.Decision, bool) {
	events, err := g.store.GetEvents(ctx, threadID)
	if err != nil {
		return "", false
	}
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Type != lace.EventToolApprovalReply {
			continue
		}
		var resp lace.ApprovalResponseData
		if err := json.Unmarshal(ev.Data, &resp); err != nil {
			continue
		}
		if resp.ToolCallID == toolCallID {
			if resp.Decision == lace.DecisionDeny {
				return lace.DecisionDeny, true
			}
			return lace.DecisionAllowOnce, true
		}
	}
	return "", false
}

func hasApprovalRequest(events []lace.Event, toolCallID string) bool {
	for _, ev := range events {
		if ev.Type != lace.EventToolApprovalRequest {
			continue
		}
		var req lace.ApprovalRequestData
		if err := json.Unmarshal(ev.Data, &req); err != nil {
			continue
		}
		if req.ToolCallID == toolCallID {
			return true
		}
	}
	return false
}

func (g *Gate) warnDoomLoop(ctx context.Context, threadID lace.ThreadID, call lace.ToolCallData) {
	msg := fmt.Sprintf("tool %q has been called with identical arguments %d times in a row; it may be stuck in a loop", call.Name, DoomLoopThreshold)
	_, _ = g.store.AppendEvent(ctx, threadID, lace.EventLocalSystemMessage, msg)
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Kind: EventKindDoomLoopDetected, Data: call})
	}
}
