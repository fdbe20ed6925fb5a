// Package provider defines ProviderPort, the abstract contract an Agent
// uses to talk to a language model, plus concrete eino-backed adapters
// for Anthropic, OpenAI, and Volcengine ARK.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Role is one message's speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolCall is one model-issued tool invocation request.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolResultRef is one tool's outcome fed back to the model as the
// continuation of a prior ToolCall.
type ToolResultRef struct {
	ToolCallID string
	Content    string
}

// Message is one turn sent to a provider. The port must not mutate the
// slice it is given.
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResultRef
}

// ToolInfo describes one callable tool for the provider's function-calling
// surface; Parameters is a JSON Schema document.
type ToolInfo struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Usage is token accounting returned by a provider for one request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// StopReason is the closed set of reasons a response stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopCancelled StopReason = "cancelled"
)

// Response is a provider's answer to one CreateResponse/CreateStreamingResponse call.
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	Usage      *Usage
	StopReason StopReason
}

// TokenEvent is emitted once per streamed chunk by CreateStreamingResponse.
type TokenEvent struct {
	Text string
}

// OnToken is called for each streamed chunk; it must return quickly since
// it runs inline with stream consumption.
type OnToken func(TokenEvent)

// Port is the abstract contract a concrete vendor adapter implements.
// Cancellation is cooperative: the adapter checks ctx between chunks and
// at I/O boundaries.
type Port interface {
	ProviderName() string
	DefaultModel() string
	SupportsStreaming() bool

	CreateResponse(ctx context.Context, messages []Message, tools []ToolInfo) (Response, error)
	CreateStreamingResponse(ctx context.Context, messages []Message, tools []ToolInfo, onToken OnToken) (Response, error)
}

// einoAdapter implements Port over any eino model.ToolCallingChatModel,
// translating Message/ToolInfo to and from schema.Message/schema.ToolInfo.
type einoAdapter struct {
	name         string
	defaultModel string
	chatModel    model.ToolCallingChatModel
	maxTokens    int
}

func (a *einoAdapter) ProviderName() string    { return a.name }
func (a *einoAdapter) DefaultModel() string    { return a.defaultModel }
func (a *einoAdapter) SupportsStreaming() bool { return true }

func (a *einoAdapter) boundModel(tools []ToolInfo) (model.ToolCallingChatModel, error) {
	if len(tools) == 0 {
		return a.chatModel, nil
	}
	bound, err := a.chatModel.WithTools(toEinoTools(tools))
	if err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}
	return bound, nil
}

func (a *einoAdapter) CreateResponse(ctx context.Context, messages []Message, tools []ToolInfo) (Response, error) {
	cm, err := a.boundModel(tools)
	if err != nil {
		return Response{}, err
	}
	msg, err := cm.Generate(ctx, toEinoMessages(messages), model.WithMaxTokens(a.maxTokens))
	if err != nil {
		return Response{}, fmt.Errorf("generate response: %w", err)
	}
	return fromEinoMessage(msg), nil
}

func (a *einoAdapter) CreateStreamingResponse(ctx context.Context, messages []Message, tools []ToolInfo, onToken OnToken) (Response, error) {
	cm, err := a.boundModel(tools)
	if err != nil {
		return Response{}, err
	}
	stream, err := cm.Stream(ctx, toEinoMessages(messages), model.WithMaxTokens(a.maxTokens))
	if err != nil {
		return Response{}, fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	var content string
	var toolCalls []ToolCall
	var usage *Usage
	for {
		if err := ctx.Err(); err != nil {
			return Response{Content: content, ToolCalls: toolCalls, Usage: usage, StopReason: StopCancelled}, nil
		}
		chunk, err := stream.Recv()
		if err != nil {
			break
		}
		if chunk.Content != "" {
			content += chunk.Content
			if onToken != nil {
				onToken(TokenEvent{Text: chunk.Content})
			}
		}
		if len(chunk.ToolCalls) > 0 {
			toolCalls = append(toolCalls, fromEinoToolCalls(chunk.ToolCalls)...)
		}
		if chunk.ResponseMeta != nil && chunk.ResponseMeta.Usage != nil {
			usage = &Usage{
				PromptTokens:     int(chunk.ResponseMeta.Usage.PromptTokens),
				CompletionTokens: int(chunk.ResponseMeta.Usage.CompletionTokens),
			}
		}
	}

	stopReason := StopEndTurn
	if len(toolCalls) > 0 {
		stopReason = StopToolUse
	}
	return Response{Content: content, ToolCalls: toolCalls, Usage: usage, StopReason: stopReason}, nil
}

func toEinoTools(tools []ToolInfo) []*schema.ToolInfo {
	result := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		params := parseJSONSchemaToParams(t.Parameters)
		result = append(result, &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return result
}

func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var doc struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if len(schemaJSON) == 0 {
		return nil
	}
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil
	}

	required := make(map[string]bool, len(doc.Required))
	for _, r := range doc.Required {
		required[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(doc.Properties))
	for name, prop := range doc.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}
		params[name] = &schema.ParameterInfo{Type: paramType, Desc: prop.Description, Required: required[name]}
	}
	return params
}

func toEinoMessages(messages []Message) []*schema.Message {
	result := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		role := schema.Assistant
		switch m.Role {
		case RoleUser:
			role = schema.User
		case RoleSystem:
			role = schema.System
		}

		einoMsg := &schema.Message{Role: role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			einoMsg.ToolCalls = append(einoMsg.ToolCalls, schema.ToolCall{
				ID:       tc.ID,
				Function: schema.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		result = append(result, einoMsg)

		for _, tr := range m.ToolResults {
			result = append(result, &schema.Message{
				Role:       schema.Tool,
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}
	}
	return result
}

func fromEinoMessage(msg *schema.Message) Response {
	resp := Response{Content: msg.Content, ToolCalls: fromEinoToolCalls(msg.ToolCalls)}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		resp.Usage = &Usage{
			PromptTokens:     int(msg.ResponseMeta.Usage.PromptTokens),
			CompletionTokens: int(msg.ResponseMeta.Usage.CompletionTokens),
		}
	}
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = StopToolUse
	} else {
		resp.StopReason = StopEndTurn
	}
	return resp
}

func fromEinoToolCalls(calls []schema.ToolCall) []ToolCall {
	result := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		result = append(result, ToolCall{ID: c.ID, Name: c.Function.Name, Arguments: c.Function.Arguments})
	}
	return result
}
