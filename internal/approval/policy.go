package approval

import (
	"context"

	"github.com/obra/lace-sub001/internal/tooling"
	"github.com/obra/lace-sub001/pkg/lace"
)

// AutoGate approves every call immediately. Used for
// --auto-approve-tools and in non-interactive automation.
type AutoGate struct{}

func (AutoGate) RequestApproval(ctx context.Context, threadID lace.ThreadID, call lace.ToolCallData) (lace.Decision, error) {
	return lace.DecisionAllowOnce, nil
}

// PolicyGate short-circuits approval for tools whose annotations mark
// them read-only and non-destructive, deferring everything else to the
// inner gate. Used for --allow-non-destructive-tools.
type PolicyGate struct {
	Registry *tooling.Registry
	Inner    tooling.ApprovalGate
}

func (g *PolicyGate) RequestApproval(ctx context.Context, threadID lace.ThreadID, call lace.ToolCallData) (lace.Decision, error) {
	if tool, ok := g.Registry.Get(call.Name); ok {
		ann := tool.Annotations()
		if ann.ReadOnlyHint && !ann.DestructiveHint {
			return lace.DecisionAllowOnce, nil
		}
	}
	return g.Inner.RequestApproval(ctx, threadID, call)
}
