// Package delegate spawns a child agent on a child thread ID, runs a
// bounded sub-conversation, and returns a summary of its responses to
// the parent. The child's tool set is the parent's minus the delegate
// tool itself, so delegation cannot recurse unboundedly.
package delegate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/obra/lace-sub001/internal/agent"
	"github.com/obra/lace-sub001/internal/eventbus"
	"github.com/obra/lace-sub001/internal/lacelog"
	"github.com/obra/lace-sub001/internal/provider"
	"github.com/obra/lace-sub001/internal/queue"
	"github.com/obra/lace-sub001/internal/retry"
	"github.com/obra/lace-sub001/internal/threadmanager"
	"github.com/obra/lace-sub001/internal/threadstore"
	"github.com/obra/lace-sub001/internal/tooling"
	"github.com/obra/lace-sub001/pkg/lace"
)

// DefaultTimeout bounds one delegated sub-conversation.
const DefaultTimeout = 60 * time.Second

// Child token budget defaults: delegates run on a tighter leash than
// their parent.
const (
	defaultChildMaxTokens     = 50_000
	defaultChildWarnThreshold = 0.7
	defaultChildReserveTokens = 1000
)

// ErrInvalidModel is returned when a delegate request's model string is
// not of the form "provider:model".
var ErrInvalidModel = fmt.Errorf("invalid model: expected \"provider:model\"")

// Config wires a Coordinator to the collaborators child agents need.
type Config struct {
	Manager   *threadmanager.Manager
	Store     *threadstore.Store
	Providers *provider.Registry

	// ParentPort is the spawning agent's current provider, used when a
	// request names no model override.
	ParentPort provider.Port

	// ParentRegistry is the spawning agent's tool registry; children get
	// a copy with the delegate tool removed.
	ParentRegistry *tooling.Registry

	Approval tooling.ApprovalGate
	TempDirs tooling.TempDirAllocator

	SessionID        string
	ProjectID        string
	WorkingDirectory string

	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration
}

// Coordinator implements tooling.Coordinator.
type Coordinator struct {
	cfg Config
}

// New builds a Coordinator.
func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// Run executes one delegated sub-conversation and returns the
// concatenation of the child's responses.
func (c *Coordinator) Run(ctx context.Context, parentThread lace.ThreadID, req tooling.DelegateRequest) (string, error) {
	port, err := c.resolvePort(ctx, req.Model)
	if err != nil {
		return "", err
	}

	childID, err := c.cfg.Manager.NewDelegateThread(ctx, parentThread)
	if err != nil {
		return "", fmt.Errorf("create delegate thread: %w", err)
	}

	registry := c.cfg.ParentRegistry.Without("delegate")
	executor := tooling.NewExecutor(registry, c.cfg.Approval, c.cfg.TempDirs, c.cfg.ProjectID, c.cfg.WorkingDirectory)

	bus := eventbus.New()
	defer bus.Close()

	child := agent.New(agent.Config{
		ThreadID:     childID,
		SessionID:    c.cfg.SessionID,
		Store:        c.cfg.Store,
		Provider:     port,
		Executor:     executor,
		Bus:          bus,
		Tools:        agent.ToolInfos(registry),
		Budget:       retry.NewBudget(defaultChildMaxTokens, defaultChildWarnThreshold, defaultChildReserveTokens),
		SystemPrompt: childSystemPrompt(req),
	})

	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	childCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := child.Start(childCtx); err != nil {
		return "", fmt.Errorf("start delegate agent: %w", err)
	}
	defer child.Stop()

	var (
		mu        sync.Mutex
		responses []string
		runErr    error
		once      sync.Once
	)
	done := make(chan struct{})
	finish := func() { once.Do(func() { close(done) }) }

	unsubResp := bus.Subscribe(agent.EventResponseComplete, func(ev eventbus.Event) {
		if data, ok := ev.Data.(agent.ResponseCompleteData); ok && data.Content != "" {
			mu.Lock()
			responses = append(responses, data.Content)
			mu.Unlock()
		}
	})
	defer unsubResp()
	unsubDone := bus.Subscribe(agent.EventConversationComplete, func(eventbus.Event) { finish() })
	defer unsubDone()
	unsubErr := bus.Subscribe(agent.EventError, func(ev eventbus.Event) {
		if data, ok := ev.Data.(agent.ErrorData); ok {
			mu.Lock()
			runErr = data.Error
			mu.Unlock()
		}
		finish()
	})
	defer unsubErr()

	go func() {
		if err := child.SendMessage(childCtx, req.Prompt, queue.SendOptions{}); err != nil {
			mu.Lock()
			if runErr == nil {
				runErr = err
			}
			mu.Unlock()
			finish()
		}
	}()

	timedOut := false
	select {
	case <-done:
	case <-childCtx.Done():
		child.Stop()
		timedOut = true
	}

	mu.Lock()
	defer mu.Unlock()
	// A deadline hit mid-call surfaces as a benign empty completion, so
	// an empty result after expiry is also a timeout.
	if timedOut || (childCtx.Err() != nil && runErr == nil && len(responses) == 0) {
		lacelog.Logger.Warn().
			Str("thread", string(childID)).
			Str("title", req.Title).
			Dur("timeout", timeout).
			Msg("delegate timed out")
		return "", fmt.Errorf("delegate %q timed out after %s", req.Title, timeout)
	}
	if runErr != nil {
		return "", fmt.Errorf("delegate %q failed: %w", req.Title, runErr)
	}
	return strings.Join(responses, "\n\n"), nil
}

func (c *Coordinator) resolvePort(ctx context.Context, model string) (provider.Port, error) {
	if model == "" {
		return c.cfg.ParentPort, nil
	}
	providerID, _ := provider.ParseModelString(model)
	if providerID == "" {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidModel, model)
	}
	port, err := c.cfg.Providers.Resolve(ctx, model, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	return port, nil
}

func childSystemPrompt(req tooling.DelegateRequest) string {
	return fmt.Sprintf(
		"You are a focused sub-agent working on a single delegated task: %s.\n\n"+
			"Complete the task and respond in the following form: %s\n\n"+
			"Stay on task; do not ask follow-up questions.",
		req.Title, req.ExpectedResponse)
}
