package tooling

import (
	"context"
	"errors"
	"fmt"

	"github.com/obra/lace-sub001/pkg/lace"
)

// ApprovalGate is the capability ToolExecutor needs from the approval
// layer. It is defined here (rather than imported from package approval)
// to avoid a tooling <-> approval import cycle; package approval
// implements it.
type ApprovalGate interface {
	RequestApproval(ctx context.Context, threadID lace.ThreadID, call lace.ToolCallData) (lace.Decision, error)
}

// TempDirAllocator is the capability ToolExecutor needs to give a tool a
// private, lazily-created directory for its call id.
type TempDirAllocator interface {
	CallDir(sessionID, projectID, callID string) (string, error)
}

// Executor runs a single validated, approved tool call end-to-end.
type Executor struct {
	Registry         *Registry
	Approval         ApprovalGate
	TempDirs         TempDirAllocator
	ProjectID        string
	WorkingDirectory string

	schemas *schemaCache
}

// NewExecutor wires a Registry to the collaborators the execution
// pipeline needs.
func NewExecutor(registry *Registry, approval ApprovalGate, tempDirs TempDirAllocator, projectID, workingDirectory string) *Executor {
	return &Executor{Registry: registry, Approval: approval, TempDirs: tempDirs, ProjectID: projectID, WorkingDirectory: workingDirectory, schemas: newSchemaCache()}
}

// Execute runs the six-step pipeline: lookup, validate, approve,
// allocate a temp dir, run, translate the result. It returns
// (result, nil) for every tool outcome: not found, invalid arguments,
// denied, failed or completed. A still-pending approval is reported as
// (zero, lace.ErrApprovalPending) so the Agent can suspend the turn
// without executing; any other approval error, or a failure to allocate
// the temp dir, is returned as a wrapped error.
func (e *Executor) Execute(ctx context.Context, threadID lace.ThreadID, sessionID string, call lace.ToolCallData) (lace.ToolResultData, error) {
	tool, ok := e.Registry.Get(call.Name)
	if !ok {
		return lace.ToolResultData{
			ID:      call.ID,
			Status:  lace.ToolResultFailed,
			Content: []lace.ContentBlock{lace.TextBlock(fmt.Sprintf("tool not found: %s", call.Name))},
		}, nil
	}

	if err := e.schemas.validate(call.Name, tool.InputSchema(), call.Arguments); err != nil {
		var ve *ValidationError
		msg := err.Error()
		if errors.As(err, &ve) {
			msg = ve.Message
		}
		return lace.ToolResultData{
			ID:      call.ID,
			Status:  lace.ToolResultFailed,
			Content: []lace.ContentBlock{lace.TextBlock("invalid arguments: " + msg)},
		}, nil
	}

	decision, err := e.Approval.RequestApproval(ctx, threadID, call)
	if err != nil {
		if kind, ok := lace.KindOf(err); ok && kind == lace.KindApprovalPending {
			return lace.ToolResultData{}, lace.ErrApprovalPending
		}
		return lace.ToolResultData{}, fmt.Errorf("request approval: %w", err)
	}
	if decision == lace.DecisionDeny {
		return lace.ToolResultData{
			ID:      call.ID,
			Status:  lace.ToolResultDenied,
			Content: []lace.ContentBlock{lace.TextBlock("tool call denied by approval policy")},
		}, nil
	}

	tempDir, err := e.TempDirs.CallDir(sessionID, e.ProjectID, call.ID)
	if err != nil {
		return lace.ToolResultData{}, fmt.Errorf("allocate temp dir: %w", err)
	}

	tc := &Context{
		ThreadID:         string(threadID),
		CallID:           call.ID,
		SessionID:        sessionID,
		TempDir:          tempDir,
		WorkingDirectory: e.WorkingDirectory,
	}

	content, err := tool.ExecuteValidated(ctx, call.Arguments, tc)
	if err != nil {
		if ctx.Err() != nil {
			return lace.ToolResultData{
				ID:      call.ID,
				Status:  lace.ToolResultFailed,
				Content: []lace.ContentBlock{lace.TextBlock("cancelled: " + err.Error())},
			}, nil
		}
		return lace.ToolResultData{
			ID:      call.ID,
			Status:  lace.ToolResultFailed,
			Content: []lace.ContentBlock{lace.TextBlock(err.Error())},
		}, nil
	}

	return lace.ToolResultData{ID: call.ID, Status: lace.ToolResultCompleted, Content: content}, nil
}
