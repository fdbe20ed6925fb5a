// Package agent implements the Agent turn state machine: it drives
// Provider -> Tool -> Provider recursion over a single thread, emitting
// lifecycle events, and owns the MessageQueue that admits new work
// while busy. Grounded on the teacher's agentic loop in
// internal/session/loop.go, generalized from a single HTTP-backed
// message processor into an event-sourced, suspendable state machine.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/obra/lace-sub001/internal/eventbus"
	"github.com/obra/lace-sub001/internal/provider"
	"github.com/obra/lace-sub001/internal/queue"
	"github.com/obra/lace-sub001/internal/retry"
	"github.com/obra/lace-sub001/internal/threadstore"
	"github.com/obra/lace-sub001/internal/tooling"
	"github.com/obra/lace-sub001/pkg/lace"
)

// State is the closed set of Agent states.
type State string

const (
	StateIdle          State = "idle"
	StateThinking      State = "thinking"
	StateStreaming     State = "streaming"
	StateToolExecution State = "tool_execution"
)

// Event kinds the Agent publishes on its Bus.
const (
	EventStateChange          eventbus.Kind = "state_change"
	EventThinkingStart        eventbus.Kind = "agent_thinking_start"
	EventThinkingComplete     eventbus.Kind = "agent_thinking_complete"
	EventResponseComplete     eventbus.Kind = "agent_response_complete"
	EventToken                eventbus.Kind = "agent_token"
	EventError                eventbus.Kind = "error"
	EventConversationComplete eventbus.Kind = "conversation_complete"
	EventTokenBudgetWarning   eventbus.Kind = "token_budget_warning"
	EventRetryStatus          eventbus.Kind = "retry_status"
)

// StateChangeData is the payload of EventStateChange.
type StateChangeData struct{ From, To State }

// TokenData is the payload of EventToken.
type TokenData struct{ Token string }

// ErrorData is the payload of EventError.
type ErrorData struct {
	Error error
	Phase string
}

// ResponseCompleteData is the payload of EventResponseComplete.
type ResponseCompleteData struct{ Content string }

// Config wires an Agent to its collaborators.
type Config struct {
	ThreadID  lace.ThreadID
	SessionID string

	Store    *threadstore.Store
	Provider provider.Port
	Executor *tooling.Executor
	Bus      *eventbus.Bus

	Tools []provider.ToolInfo

	Retry  retry.Policy
	Budget *retry.Budget

	// Stream, when true and the provider supports it, uses
	// CreateStreamingResponse instead of CreateResponse.
	Stream bool

	SystemPrompt     string
	UserSystemPrompt string
}

// Agent is the turn state machine. One Agent drives exactly one thread;
// it is not safe for concurrent SendMessage calls from multiple
// goroutines beyond the queueing discipline SendMessage itself
// implements.
type Agent struct {
	cfg Config

	mu      sync.Mutex
	state   State
	started bool
	cancel  context.CancelFunc
	ctx     context.Context

	queue *queue.Queue
}

// New constructs an Agent in the idle-but-not-started state.
func New(cfg Config) *Agent {
	return &Agent{cfg: cfg, state: StateIdle, queue: queue.New(cfg.Bus)}
}

// ThreadID returns the thread this Agent drives.
func (a *Agent) ThreadID() lace.ThreadID { return a.cfg.ThreadID }

// State returns the agent's current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// QueueStats exposes the MessageQueue's stats.
func (a *Agent) QueueStats() queue.Stats { return a.queue.Stats() }

// Start makes the agent ready to accept SendMessage calls. Idempotent
// only in the sense that a second Start replaces the cancellation
// context; callers should Start once.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.started = true
	return nil
}

// Stop cancels any in-flight provider/tool call and returns the agent to
// a stopped state. Idempotent.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	a.started = false
}

func (a *Agent) setState(to State) {
	a.mu.Lock()
	from := a.state
	a.state = to
	a.mu.Unlock()
	if from != to {
		a.publish(EventStateChange, StateChangeData{From: from, To: to})
	}
}

func (a *Agent) publish(kind eventbus.Kind, data any) {
	if a.cfg.Bus != nil {
		a.cfg.Bus.Publish(eventbus.Event{Kind: kind, Data: data})
	}
}

func (a *Agent) runCtx() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil, lace.ErrNotStarted
	}
	return a.ctx, nil
}

// SendMessage admits text as inbound work. If the agent is idle, the
// turn runs synchronously on the calling goroutine (suspending early if
// a tool call needs approval) and the queue is drained afterward. If the
// agent is busy, text is queued via MessageQueue and will be processed
// once the in-progress SendMessage call reaches idle again — callers
// need not invoke SendMessage a second time to have it processed.
//
// Per the Open Question decision in SPEC_FULL.md, a second top-level
// message arriving while busy is auto-queued even when opts.Queue is
// false, rather than raising.
func (a *Agent) SendMessage(ctx context.Context, text string, opts queue.SendOptions) error {
	runCtx, err := a.runCtx()
	if err != nil {
		return err
	}

	a.mu.Lock()
	busy := a.state != StateIdle
	a.mu.Unlock()

	if busy {
		opts.Queue = true
		a.queue.Send(text, opts)
		return nil
	}

	if err := a.runTurn(runCtx, text); err != nil {
		return err
	}
	a.drainQueue(runCtx)
	return nil
}

// RespondToApproval appends a TOOL_APPROVAL_RESPONSE event for callID and
// resumes execution of that (and any subsequent) pending tool call. It is
// the normal-input-path entry point the spec's ApprovalGate.Resolve
// comment refers to.
func (a *Agent) RespondToApproval(ctx context.Context, callID string, decision lace.Decision) error {
	runCtx, err := a.runCtx()
	if err != nil {
		return err
	}

	call, ok, err := a.findToolCall(runCtx, callID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no TOOL_CALL with id %s in thread %s", callID, a.cfg.ThreadID)
	}

	if _, err := a.cfg.Store.AppendEvent(runCtx, a.cfg.ThreadID, lace.EventToolApprovalReply, lace.ApprovalResponseData{ToolCallID: callID, Decision: decision}); err != nil {
		return fmt.Errorf("persist approval response: %w", err)
	}
	if resolver, ok := a.cfg.Executor.Approval.(interface {
		Resolve(lace.ThreadID, lace.ToolCallData, lace.Decision)
	}); ok {
		resolver.Resolve(a.cfg.ThreadID, call, decision)
	}

	if err := a.drive(runCtx); err != nil {
		return err
	}
	a.drainQueue(runCtx)
	return nil
}

func (a *Agent) drainQueue(ctx context.Context) {
	a.queue.Drain(func(m queue.Message) error {
		return a.runTurn(ctx, m.Text)
	}, func(m queue.Message, err error) {
		a.publish(EventError, ErrorData{Error: err, Phase: "queued_message"})
	})
}

// runTurn implements step 1-6 of the spec's turn algorithm for one
// inbound message, then hands off to drive() for the Provider<->Tool
// recursion.
func (a *Agent) runTurn(ctx context.Context, text string) error {
	if strings.TrimSpace(text) != "" {
		if _, err := a.cfg.Store.AppendEvent(ctx, a.cfg.ThreadID, lace.EventUserMessage, text); err != nil {
			a.fail(ctx, err, "persist_user_message")
			return err
		}
	}
	return a.drive(ctx)
}

// drive runs the Provider<->Tool recursion from whatever state the
// thread's events currently represent: it first finishes any pending
// tool calls (the resume path), then alternates provider calls with
// tool-call batches until a response carries no tool calls, at which
// point the turn completes.
func (a *Agent) drive(ctx context.Context) error {
	for {
		pending, err := a.pendingToolCalls(ctx)
		if err != nil {
			a.fail(ctx, err, "load_pending_calls")
			return err
		}

		if len(pending) > 0 {
			a.setState(StateToolExecution)
			suspended, err := a.executeCalls(ctx, pending)
			if err != nil {
				a.fail(ctx, err, "tool_execution")
				return err
			}
			if suspended {
				return nil
			}
			continue
		}

		resp, err := a.callProvider(ctx)
		if err != nil {
			a.fail(ctx, err, "provider_response")
			return err
		}

		if _, err := a.cfg.Store.AppendEvent(ctx, a.cfg.ThreadID, lace.EventAgentMessage, resp.Content); err != nil {
			a.fail(ctx, err, "persist_agent_message")
			return err
		}
		a.publish(EventResponseComplete, ResponseCompleteData{Content: resp.Content})

		if len(resp.ToolCalls) == 0 {
			a.complete(ctx)
			return nil
		}

		for _, tc := range resp.ToolCalls {
			data := lace.ToolCallData{ID: tc.ID, Name: tc.Name, Arguments: rawJSON(tc.Arguments)}
			if _, err := a.cfg.Store.AppendEvent(ctx, a.cfg.ThreadID, lace.EventToolCall, data); err != nil {
				a.fail(ctx, err, "persist_tool_call")
				return err
			}
		}
	}
}

func (a *Agent) complete(ctx context.Context) {
	a.setState(StateIdle)
	a.publish(EventConversationComplete, nil)
}

func (a *Agent) fail(ctx context.Context, err error, phase string) {
	a.setState(StateIdle)
	a.publish(EventError, ErrorData{Error: err, Phase: phase})
}
