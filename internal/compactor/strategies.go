package compactor

import (
	"context"
	"fmt"
	"strings"

	"github.com/obra/lace-sub001/internal/provider"
	"github.com/obra/lace-sub001/pkg/lace"
)

// keepRecentEvents is the number of trailing conversational events a
// summarize pass leaves untouched so the model retains verbatim recent
// context.
const keepRecentEvents = 4

// summaryMaxChars bounds the prompt handed to the summarizing model.
const summaryMaxChars = 32 * 1024

// SummarizeStrategy collapses earlier turns into a single AGENT_MESSAGE
// produced by a model call, keeping the most recent events verbatim.
type SummarizeStrategy struct {
	Port provider.Port
}

// NewSummarizeStrategy builds a SummarizeStrategy over port.
func NewSummarizeStrategy(port provider.Port) *SummarizeStrategy {
	return &SummarizeStrategy{Port: port}
}

func (s *SummarizeStrategy) ID() string { return "summarize" }

func (s *SummarizeStrategy) Compact(ctx context.Context, events []lace.Event) ([]NewEventSpec, error) {
	conversational := conversationalEvents(events)
	if len(conversational) <= keepRecentEvents {
		return carryOver(conversational), nil
	}

	cut := len(conversational) - keepRecentEvents
	older, recent := conversational[:cut], conversational[cut:]

	transcript := renderTranscript(older)
	if len(transcript) > summaryMaxChars {
		transcript = transcript[len(transcript)-summaryMaxChars:]
	}

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: "You are a conversation summarizer. Create a concise summary of the conversation that preserves key context for continuing the discussion."},
		{Role: provider.RoleUser, Content: "Summarize the following conversation so it can replace the original turns:\n\n" + transcript},
	}

	resp, err := s.Port.CreateResponse(ctx, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("summarize older turns: %w", err)
	}

	specs := []NewEventSpec{{Type: lace.EventAgentMessage, Payload: "[conversation summary] " + resp.Content}}
	return append(specs, carryOver(recent)...), nil
}

// TrimToolResultsStrategy keeps the conversation's messages but replaces
// every TOOL_RESULT's content with a short placeholder, shedding the
// bulk of tool output while preserving call/result pairing.
type TrimToolResultsStrategy struct{}

func (TrimToolResultsStrategy) ID() string { return "trim_tool_results" }

func (TrimToolResultsStrategy) Compact(ctx context.Context, events []lace.Event) ([]NewEventSpec, error) {
	var specs []NewEventSpec
	for _, ev := range events {
		switch ev.Type {
		case lace.EventToolResult:
			var data lace.ToolResultData
			if err := decodeData(ev, &data); err != nil {
				return nil, err
			}
			data.Content = []lace.ContentBlock{lace.TextBlock("[tool output elided during compaction]")}
			specs = append(specs, NewEventSpec{Type: lace.EventToolResult, Payload: data})
		case lace.EventUserMessage, lace.EventAgentMessage, lace.EventToolCall, lace.EventLocalSystemMessage:
			specs = append(specs, NewEventSpec{Type: ev.Type, Payload: rawPayload(ev)})
		}
	}
	return specs, nil
}

// conversationalEvents filters to the model-visible conversation:
// USER_MESSAGE, AGENT_MESSAGE, TOOL_CALL, TOOL_RESULT.
func conversationalEvents(events []lace.Event) []lace.Event {
	var out []lace.Event
	for _, ev := range events {
		switch ev.Type {
		case lace.EventUserMessage, lace.EventAgentMessage, lace.EventToolCall, lace.EventToolResult:
			out = append(out, ev)
		}
	}
	return out
}

func carryOver(events []lace.Event) []NewEventSpec {
	specs := make([]NewEventSpec, 0, len(events))
	for _, ev := range events {
		specs = append(specs, NewEventSpec{Type: ev.Type, Payload: rawPayload(ev)})
	}
	return specs
}

func renderTranscript(events []lace.Event) string {
	var b strings.Builder
	for _, ev := range events {
		switch ev.Type {
		case lace.EventUserMessage, lace.EventAgentMessage:
			text, err := ev.DecodeString()
			if err != nil {
				continue
			}
			role := "User"
			if ev.Type == lace.EventAgentMessage {
				role = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n\n", role, text)
		case lace.EventToolCall:
			var data lace.ToolCallData
			if decodeData(ev, &data) == nil {
				fmt.Fprintf(&b, "Assistant called tool %s(%s)\n\n", data.Name, string(data.Arguments))
			}
		case lace.EventToolResult:
			var data lace.ToolResultData
			if decodeData(ev, &data) == nil {
				fmt.Fprintf(&b, "Tool result (%s): %s\n\n", data.Status, resultText(data))
			}
		}
	}
	return b.String()
}

func resultText(data lace.ToolResultData) string {
	var out strings.Builder
	for _, block := range data.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String()
}
