// Package tooling provides the tool registry and executor: tool dispatch
// is by registry lookup, not inheritance, with schema-validated execution
// via jsonschema/v6.
package tooling

import (
	"context"
	"encoding/json"

	"github.com/obra/lace-sub001/pkg/lace"
)

// Annotations are advisory hints a Tool attaches to describe its
// behavior to policy layers.
type Annotations struct {
	Title           string
	DestructiveHint bool
	ReadOnlyHint    bool
	IdempotentHint  bool
	OpenWorldHint   bool
}

// Context carries the per-call environment a Tool executes with:
// cancellation (via the context.Context passed separately), the call's
// private temp directory, and the working directory to resolve relative
// paths against.
type Context struct {
	ThreadID         string
	CallID           string
	SessionID        string
	TempDir          string
	WorkingDirectory string
}

// Tool is the capability set every tool variant (bash, file_read,
// file_write, delegate, …) implements; variants are named, not
// subclassed.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Annotations() Annotations
	// ExecuteValidated runs the tool with already-schema-validated args.
	// It returns the result content blocks on success, or an error the
	// executor translates into a failed ToolResult (never itself a
	// denial — that's ApprovalGate's job).
	ExecuteValidated(ctx context.Context, args json.RawMessage, tc *Context) ([]lace.ContentBlock, error)
}
