package lace

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the closed set of event types a Thread may contain.
type EventType string

const (
	EventUserMessage         EventType = "USER_MESSAGE"
	EventAgentMessage        EventType = "AGENT_MESSAGE"
	EventToolCall            EventType = "TOOL_CALL"
	EventToolResult          EventType = "TOOL_RESULT"
	EventToolApprovalRequest EventType = "TOOL_APPROVAL_REQUEST"
	EventToolApprovalReply   EventType = "TOOL_APPROVAL_RESPONSE"
	EventSystemPrompt        EventType = "SYSTEM_PROMPT"
	EventUserSystemPrompt    EventType = "USER_SYSTEM_PROMPT"
	EventLocalSystemMessage  EventType = "LOCAL_SYSTEM_MESSAGE"
	EventCompaction          EventType = "COMPACTION"
)

// KnownEventTypes lists every type the projector and persistence layer
// recognize. An event whose Type is not in this set fails fast at
// projection time.
var KnownEventTypes = map[EventType]bool{
	EventUserMessage:         true,
	EventAgentMessage:        true,
	EventToolCall:            true,
	EventToolResult:          true,
	EventToolApprovalRequest: true,
	EventToolApprovalReply:   true,
	EventSystemPrompt:        true,
	EventUserSystemPrompt:    true,
	EventLocalSystemMessage:  true,
	EventCompaction:          true,
}

// Event is a single typed record in a Thread's append-only log. Data
// round-trips losslessly through JSON for any of the typed payloads
// below; ThreadStore persists it as json.RawMessage.
type Event struct {
	ID        string          `json:"id"`
	ThreadID  ThreadID        `json:"threadId"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent marshals payload into an Event with the given id/thread/type/time.
func NewEvent(id string, threadID ThreadID, typ EventType, ts time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event payload for %s: %w", typ, err)
	}
	return Event{ID: id, ThreadID: threadID, Type: typ, Timestamp: ts, Data: data}, nil
}

// DecodeString returns Data decoded as a plain string, for event types
// whose payload is a bare JSON string (USER_MESSAGE, AGENT_MESSAGE,
// SYSTEM_PROMPT, USER_SYSTEM_PROMPT, LOCAL_SYSTEM_MESSAGE).
func (e Event) DecodeString() (string, error) {
	var s string
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return "", fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return s, nil
}

// ToolCallData is the TOOL_CALL payload.
type ToolCallData struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultStatus is the closed set of ToolResult outcomes.
type ToolResultStatus string

const (
	ToolResultCompleted ToolResultStatus = "completed"
	ToolResultFailed    ToolResultStatus = "failed"
	ToolResultDenied    ToolResultStatus = "denied"
)

// ContentBlock is one typed block of a ToolResult's content. Future
// variants beyond "text" are added by extending Type, not by adding a
// second struct shape.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextBlock is a convenience constructor for the "text" content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolResultData is the TOOL_RESULT payload.
type ToolResultData struct {
	ID      string           `json:"id"`
	Content []ContentBlock   `json:"content"`
	Status  ToolResultStatus `json:"status"`
}

// ApprovalRequestData is the TOOL_APPROVAL_REQUEST payload.
type ApprovalRequestData struct {
	ToolCallID string `json:"toolCallId"`
}

// Decision is the closed set of approval decisions.
type Decision string

const (
	DecisionAllowOnce    Decision = "allow_once"
	DecisionAllowSession Decision = "allow_session"
	DecisionDeny         Decision = "deny"
)

// ApprovalResponseData is the TOOL_APPROVAL_RESPONSE payload.
type ApprovalResponseData struct {
	ToolCallID string   `json:"toolCallId"`
	Decision   Decision `json:"decision"`
}

// CompactionData is the COMPACTION payload recorded on the original
// thread once a Compactor has produced a shadow thread.
type CompactionData struct {
	StrategyID         string   `json:"strategyId"`
	OriginalEventCount int      `json:"originalEventCount"`
	CompactedEvents    int      `json:"compactedEventCount"`
	ShadowThreadID     ThreadID `json:"shadowThreadId"`
}
