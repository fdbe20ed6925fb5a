package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/obra/lace-sub001/pkg/lace"
)

// pendingToolCalls returns every TOOL_CALL in this thread that has no
// matching TOOL_RESULT yet, in the order the calls were issued.
func (a *Agent) pendingToolCalls(ctx context.Context) ([]lace.ToolCallData, error) {
	events, err := a.cfg.Store.GetEvents(ctx, a.cfg.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load thread events: %w", err)
	}

	var calls []lace.ToolCallData
	done := make(map[string]bool)
	for _, ev := range events {
		switch ev.Type {
		case lace.EventToolCall:
			var data lace.ToolCallData
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				return nil, fmt.Errorf("decode TOOL_CALL: %w", err)
			}
			calls = append(calls, data)
		case lace.EventToolResult:
			var data lace.ToolResultData
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				return nil, fmt.Errorf("decode TOOL_RESULT: %w", err)
			}
			done[data.ID] = true
		}
	}

	var pending []lace.ToolCallData
	for _, c := range calls {
		if !done[c.ID] {
			pending = append(pending, c)
		}
	}
	return pending, nil
}

// findToolCall locates the TOOL_CALL with the given id anywhere in the
// thread's history.
func (a *Agent) findToolCall(ctx context.Context, callID string) (lace.ToolCallData, bool, error) {
	events, err := a.cfg.Store.GetEvents(ctx, a.cfg.ThreadID)
	if err != nil {
		return lace.ToolCallData{}, false, fmt.Errorf("load thread events: %w", err)
	}
	for _, ev := range events {
		if ev.Type != lace.EventToolCall {
			continue
		}
		var data lace.ToolCallData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			continue
		}
		if data.ID == callID {
			return data, true, nil
		}
	}
	return lace.ToolCallData{}, false, nil
}

// executeCalls runs pending calls in order through the ToolExecutor.
// suspended is true the moment a call's approval is still pending: the
// remaining calls in pending are left untouched for a later resume via
// RespondToApproval.
func (a *Agent) executeCalls(ctx context.Context, pending []lace.ToolCallData) (suspended bool, err error) {
	for _, call := range pending {
		result, err := a.cfg.Executor.Execute(ctx, a.cfg.ThreadID, a.cfg.SessionID, call)
		if err != nil {
			if kind, ok := lace.KindOf(err); ok && kind == lace.KindApprovalPending {
				return true, nil
			}
			return false, fmt.Errorf("execute tool %s: %w", call.Name, err)
		}
		if _, err := a.cfg.Store.AppendEvent(ctx, a.cfg.ThreadID, lace.EventToolResult, result); err != nil {
			return false, fmt.Errorf("persist tool result: %w", err)
		}
	}
	return false, nil
}
