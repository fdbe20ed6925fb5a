// Package timeline implements a pure projection from a Thread's event
// sequence into UI timeline items, modeled as a closed tagged-variant
// set rather than a class hierarchy.
package timeline

import (
	"time"

	"github.com/obra/lace-sub001/pkg/lace"
)

// ItemKind is the closed set of timeline item variants.
type ItemKind string

const (
	ItemUserMessage   ItemKind = "user_message"
	ItemAgentMessage  ItemKind = "agent_message"
	ItemToolExecution ItemKind = "tool_execution"
	ItemSystemMessage ItemKind = "system_message"
)

// Item is one entry in a projected timeline. Only the fields relevant to
// Kind are populated; this mirrors a tagged union rather than a class
// hierarchy.
type Item struct {
	Kind      ItemKind
	ThreadID  lace.ThreadID
	EventID   string
	Timestamp time.Time

	// ItemUserMessage / ItemAgentMessage / ItemSystemMessage
	Text string

	// ItemToolExecution
	CallID    string
	ToolName  string
	Arguments []byte
	Result    *lace.ToolResultData // nil while the call is still pending
	// DelegateThread is never set by Append: a delegate TOOL_CALL opens
	// no nested slot. Delegate timelines are kept apart, keyed by thread
	// id; the projector never fetches their events, and Delegate returns
	// only what the caller supplied via AttachDelegate, or nil.
	DelegateThread lace.ThreadID
}

// Timeline is the accumulated, ordered projection plus the open
// tool-execution index needed to attach a later TOOL_RESULT in O(1).
type Timeline struct {
	items     []Item
	openCalls map[string]int // call id -> index into items
	delegates map[lace.ThreadID][]Item
}

// New returns an empty Timeline.
func New() *Timeline {
	return &Timeline{openCalls: make(map[string]int), delegates: make(map[lace.ThreadID][]Item)}
}

// Items returns the projected items in order. The returned slice must
// not be mutated by the caller.
func (t *Timeline) Items() []Item { return t.items }

// Load resets t and projects a full event sequence in one bulk pass.
// Load(events) always equals repeated calls to Append: the projector
// is pure.
func Load(events []lace.Event) (*Timeline, error) {
	t := New()
	for _, ev := range events {
		if err := t.Append(ev); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Append incrementally projects a single new event. Amortized O(1): a
// TOOL_RESULT attach is a map lookup plus a slice index write.
func (t *Timeline) Append(ev lace.Event) error {
	if !lace.KnownEventTypes[ev.Type] {
		return lace.NewError(lace.KindUnknownEventType, string(ev.Type), nil)
	}

	switch ev.Type {
	case lace.EventUserMessage:
		text, err := ev.DecodeString()
		if err != nil {
			return err
		}
		t.items = append(t.items, Item{Kind: ItemUserMessage, ThreadID: ev.ThreadID, EventID: ev.ID, Timestamp: ev.Timestamp, Text: text})

	case lace.EventAgentMessage:
		text, err := ev.DecodeString()
		if err != nil {
			return err
		}
		t.items = append(t.items, Item{Kind: ItemAgentMessage, ThreadID: ev.ThreadID, EventID: ev.ID, Timestamp: ev.Timestamp, Text: text})

	case lace.EventLocalSystemMessage:
		text, err := ev.DecodeString()
		if err != nil {
			return err
		}
		t.items = append(t.items, Item{Kind: ItemSystemMessage, ThreadID: ev.ThreadID, EventID: ev.ID, Timestamp: ev.Timestamp, Text: text})

	case lace.EventToolCall:
		var data lace.ToolCallData
		if err := decode(ev, &data); err != nil {
			return err
		}
		item := Item{
			Kind: ItemToolExecution, ThreadID: ev.ThreadID, EventID: ev.ID, Timestamp: ev.Timestamp,
			CallID: data.ID, ToolName: data.Name, Arguments: []byte(data.Arguments),
		}
		t.items = append(t.items, item)
		t.openCalls[data.ID] = len(t.items) - 1

	case lace.EventToolResult:
		var data lace.ToolResultData
		if err := decode(ev, &data); err != nil {
			return err
		}
		if idx, ok := t.openCalls[data.ID]; ok {
			result := data
			t.items[idx].Result = &result
			delete(t.openCalls, data.ID)
		}
		// A TOOL_RESULT with no matching open TOOL_CALL in this slice is
		// tolerated rather than an error: callers may project a partial
		// window (e.g. a single delegate thread) where the call lives
		// elsewhere in the thread family.

	case lace.EventSystemPrompt, lace.EventUserSystemPrompt, lace.EventToolApprovalRequest, lace.EventToolApprovalReply, lace.EventCompaction:
		// Administrative events never become timeline items.
	}

	return nil
}

// AttachDelegate records the projected items of a delegate thread for
// lookup under its own thread id. The projector never fetches these
// itself; callers (e.g. a UI layer) call this explicitly after
// retrieving the delegate's events via ThreadStore.GetEvents.
func (t *Timeline) AttachDelegate(threadID lace.ThreadID, items []Item) {
	t.delegates[threadID] = items
}

// Delegate returns the previously attached items for threadID, or nil if
// none were attached.
func (t *Timeline) Delegate(threadID lace.ThreadID) []Item {
	return t.delegates[threadID]
}

func decode(ev lace.Event, v any) error {
	if err := unmarshal(ev.Data, v); err != nil {
		return lace.NewError(lace.KindUnknownEventType, "malformed "+string(ev.Type)+" payload", err)
	}
	return nil
}
