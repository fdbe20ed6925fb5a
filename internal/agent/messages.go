package agent

import (
	"encoding/json"

	"github.com/obra/lace-sub001/internal/provider"
	"github.com/obra/lace-sub001/pkg/lace"
)

func rawJSON(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s)
}

// buildMessages projects a thread's events into the Message sequence a
// Provider consumes, dropping administrative event types per the spec's
// step 2 (SYSTEM_PROMPT, USER_SYSTEM_PROMPT, LOCAL_SYSTEM_MESSAGE,
// TOOL_APPROVAL_*, COMPACTION are never model-visible). An orphaned
// TOOL_CALL or TOOL_RESULT (no matching counterpart in this slice) is
// tolerated by synthesizing a minimal holder message rather than
// dropping data silently.
func buildMessages(events []lace.Event) ([]provider.Message, error) {
	var messages []provider.Message
	var current *provider.Message // most recent assistant message, to attach tool calls/results to

	flushCurrent := func() {
		if current != nil {
			messages = append(messages, *current)
			current = nil
		}
	}

	for _, ev := range events {
		switch ev.Type {
		case lace.EventUserMessage:
			flushCurrent()
			text, err := ev.DecodeString()
			if err != nil {
				return nil, err
			}
			messages = append(messages, provider.Message{Role: provider.RoleUser, Content: text})

		case lace.EventAgentMessage:
			flushCurrent()
			text, err := ev.DecodeString()
			if err != nil {
				return nil, err
			}
			m := provider.Message{Role: provider.RoleAssistant, Content: text}
			current = &m

		case lace.EventToolCall:
			var data lace.ToolCallData
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				return nil, err
			}
			if current == nil {
				// Orphaned TOOL_CALL: synthesize a minimal assistant message
				// so the tool call still has a home in history.
				m := provider.Message{Role: provider.RoleAssistant}
				current = &m
			}
			current.ToolCalls = append(current.ToolCalls, provider.ToolCall{ID: data.ID, Name: data.Name, Arguments: string(data.Arguments)})

		case lace.EventToolResult:
			var data lace.ToolResultData
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				return nil, err
			}
			text := resultText(data)
			if current != nil && hasToolCall(current.ToolCalls, data.ID) {
				current.ToolResults = append(current.ToolResults, provider.ToolResultRef{ToolCallID: data.ID, Content: text})
				continue
			}
			// Orphaned TOOL_RESULT: synthesize a user-role message so the
			// result's content is still visible to the model.
			flushCurrent()
			messages = append(messages, provider.Message{Role: provider.RoleUser, Content: text})

		case lace.EventSystemPrompt, lace.EventUserSystemPrompt, lace.EventLocalSystemMessage,
			lace.EventToolApprovalRequest, lace.EventToolApprovalReply, lace.EventCompaction:
			// Administrative events are never model-visible.
		}
	}
	flushCurrent()

	return messages, nil
}

func hasToolCall(calls []provider.ToolCall, id string) bool {
	for _, c := range calls {
		if c.ID == id {
			return true
		}
	}
	return false
}

func resultText(data lace.ToolResultData) string {
	var out string
	for _, b := range data.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// systemMessages returns the SYSTEM_PROMPT/USER_SYSTEM_PROMPT-derived
// provider messages, prepended ahead of the projected conversation.
func systemMessages(systemPrompt, userSystemPrompt string) []provider.Message {
	var out []provider.Message
	if systemPrompt != "" {
		out = append(out, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	}
	if userSystemPrompt != "" {
		out = append(out, provider.Message{Role: provider.RoleSystem, Content: userSystemPrompt})
	}
	return out
}
