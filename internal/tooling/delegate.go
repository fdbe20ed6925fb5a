package tooling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/obra/lace-sub001/pkg/lace"
)

// DelegateRequest is what the delegate tool asks its Coordinator to run.
type DelegateRequest struct {
	Title            string
	Prompt           string
	ExpectedResponse string
	Model            string
}

// Coordinator is the capability the delegate tool needs from package
// delegate. Defined locally to avoid a tooling <-> delegate import cycle;
// *delegate.DelegateCoordinator implements it.
type Coordinator interface {
	Run(ctx context.Context, parentThread lace.ThreadID, req DelegateRequest) (string, error)
}

// DelegateTool spawns a child agent to pursue a narrow sub-task and
// returns its response text, adapted per-call: the coordinator owns
// child thread/provider/registry creation so this tool stays a thin
// argument-shape adapter.
type DelegateTool struct {
	coordinator Coordinator
}

func NewDelegateTool(coordinator Coordinator) *DelegateTool {
	return &DelegateTool{coordinator: coordinator}
}

func (t *DelegateTool) Name() string { return "delegate" }
func (t *DelegateTool) Description() string {
	return "Delegates a focused sub-task to a child agent and returns its response."
}

func (t *DelegateTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"prompt": {"type": "string", "minLength": 1},
			"expected_response": {"type": "string", "minLength": 1},
			"model": {"type": "string"}
		},
		"required": ["title", "prompt", "expected_response"]
	}`)
}

func (t *DelegateTool) Annotations() Annotations {
	return Annotations{Title: "Delegate a sub-task", OpenWorldHint: true}
}

type delegateInput struct {
	Title            string `json:"title"`
	Prompt           string `json:"prompt"`
	ExpectedResponse string `json:"expected_response"`
	Model            string `json:"model,omitempty"`
}

func (t *DelegateTool) ExecuteValidated(ctx context.Context, args json.RawMessage, tc *Context) ([]lace.ContentBlock, error) {
	var in delegateInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode delegate input: %w", err)
	}

	text, err := t.coordinator.Run(ctx, lace.ThreadID(tc.ThreadID), DelegateRequest{
		Title:            in.Title,
		Prompt:           in.Prompt,
		ExpectedResponse: in.ExpectedResponse,
		Model:            in.Model,
	})
	if err != nil {
		return nil, err
	}

	return []lace.ContentBlock{lace.TextBlock(text)}, nil
}
