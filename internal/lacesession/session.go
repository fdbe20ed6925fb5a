// Package lacesession owns the scope of one working session: a
// coordinator agent on the session's root thread, the set of agents
// spawned under it, a project/working directory, and the session's
// temp-directory root.
package lacesession

import (
	"context"
	"fmt"
	"sync"

	"github.com/obra/lace-sub001/internal/agent"
	"github.com/obra/lace-sub001/internal/compactor"
	"github.com/obra/lace-sub001/internal/delegate"
	"github.com/obra/lace-sub001/internal/eventbus"
	"github.com/obra/lace-sub001/internal/lacelog"
	"github.com/obra/lace-sub001/internal/provider"
	"github.com/obra/lace-sub001/internal/queue"
	"github.com/obra/lace-sub001/internal/retry"
	"github.com/obra/lace-sub001/internal/tempdir"
	"github.com/obra/lace-sub001/internal/threadmanager"
	"github.com/obra/lace-sub001/internal/tooling"
	"github.com/obra/lace-sub001/pkg/lace"
)

// ErrAgentNotFound is returned by GetAgent/StartAgent/StopAgent for an
// unknown agent name.
var ErrAgentNotFound = fmt.Errorf("agent not found")

// Config wires a Session to its collaborators.
type Config struct {
	ProjectID        string
	WorkingDirectory string

	Manager   *threadmanager.Manager
	Providers *provider.Registry
	Registry  *tooling.Registry
	Approval  tooling.ApprovalGate
	TempDirs  *tempdir.Root
	Compactor *compactor.Compactor

	DefaultProvider string
	DefaultModel    string

	Stream       bool
	SystemPrompt string

	Budget *retry.Budget

	// ResumeThreadID, when set, resumes the session on an existing root
	// thread instead of creating a new one.
	ResumeThreadID lace.ThreadID
}

// Session is the owning scope described in the spec: destroying it
// stops (but never deletes) the agents it spawned.
type Session struct {
	cfg Config

	id          string
	rootThread  lace.ThreadID
	coordinator *agent.Agent
	bus         *eventbus.Bus

	mu     sync.Mutex
	agents map[string]*agent.Agent
}

// SpawnOptions names a spawned agent and optionally overrides the
// session's default provider/model.
type SpawnOptions struct {
	Name               string
	ProviderInstanceID string
	ModelID            string
}

// Create builds a Session and its coordinator agent. The coordinator
// drives the session's root thread; its tool registry includes the
// delegate tool wired to a Coordinator scoped to this session.
func Create(ctx context.Context, cfg Config) (*Session, error) {
	port, err := resolvePort(ctx, cfg, cfg.ProviderModelSpec())
	if err != nil {
		return nil, err
	}

	rootThread := cfg.ResumeThreadID
	if rootThread == "" {
		rootThread, err = cfg.Manager.NewThread(ctx)
		if err != nil {
			return nil, fmt.Errorf("create session thread: %w", err)
		}
	}

	s := &Session{
		cfg:        cfg,
		id:         string(rootThread),
		rootThread: rootThread,
		bus:        eventbus.New(),
		agents:     make(map[string]*agent.Agent),
	}

	registry := s.registryWithDelegate(port)
	executor := tooling.NewExecutor(registry, cfg.Approval, cfg.TempDirs, cfg.ProjectID, cfg.WorkingDirectory)

	s.coordinator = agent.New(agent.Config{
		ThreadID:     rootThread,
		SessionID:    s.id,
		Store:        cfg.Manager.Store(),
		Provider:     port,
		Executor:     executor,
		Bus:          s.bus,
		Tools:        agent.ToolInfos(registry),
		Budget:       cfg.Budget,
		Stream:       cfg.Stream,
		SystemPrompt: cfg.SystemPrompt,
	})

	lacelog.Logger.Info().
		Str("session", s.id).
		Str("project", cfg.ProjectID).
		Str("provider", port.ProviderName()).
		Msg("session created")

	return s, nil
}

// ProviderModelSpec renders the session defaults as a "provider:model"
// resolve spec.
func (c Config) ProviderModelSpec() string {
	if c.DefaultModel == "" {
		return ""
	}
	if c.DefaultProvider == "" {
		return c.DefaultModel
	}
	return c.DefaultProvider + ":" + c.DefaultModel
}

// registryWithDelegate returns the session's tool registry with the
// delegate tool bound to a coordinator scoped to this session.
func (s *Session) registryWithDelegate(port provider.Port) *tooling.Registry {
	registry := s.cfg.Registry.Without("delegate")
	coordinator := delegate.New(delegate.Config{
		Manager:          s.cfg.Manager,
		Store:            s.cfg.Manager.Store(),
		Providers:        s.cfg.Providers,
		ParentPort:       port,
		ParentRegistry:   registry,
		Approval:         s.cfg.Approval,
		TempDirs:         s.cfg.TempDirs,
		SessionID:        s.id,
		ProjectID:        s.cfg.ProjectID,
		WorkingDirectory: s.cfg.WorkingDirectory,
	})
	registry.Register(tooling.NewDelegateTool(coordinator))
	return registry
}

// ID returns the session's identifier (its root thread id).
func (s *Session) ID() string { return s.id }

// RootThread returns the coordinator's thread.
func (s *Session) RootThread() lace.ThreadID { return s.rootThread }

// Coordinator returns the session's coordinator agent.
func (s *Session) Coordinator() *agent.Agent { return s.coordinator }

// Bus returns the coordinator's event bus.
func (s *Session) Bus() *eventbus.Bus { return s.bus }

// WorkingDirectory returns the session's working directory.
func (s *Session) WorkingDirectory() string { return s.cfg.WorkingDirectory }

// TempDir returns the session's deterministic temp directory path.
func (s *Session) TempDir() string {
	return s.cfg.TempDirs.SessionTempDir(s.id, s.cfg.ProjectID)
}

// Start starts the coordinator agent.
func (s *Session) Start(ctx context.Context) error {
	return s.coordinator.Start(ctx)
}

// SendMessage routes inbound text to the coordinator, intercepting the
// /compact command on the way in: a compaction runs against the
// coordinator's thread instead of reaching the provider.
func (s *Session) SendMessage(ctx context.Context, text string, opts queue.SendOptions) error {
	if strategyID, ok := compactor.ParseCommand(text); ok && s.cfg.Compactor != nil {
		result, err := s.cfg.Compactor.Compact(ctx, s.rootThread, strategyID)
		if err != nil {
			return fmt.Errorf("compact session thread: %w", err)
		}
		_, err = s.cfg.Manager.Store().AppendEvent(ctx, s.rootThread, lace.EventLocalSystemMessage,
			fmt.Sprintf("compacted %d events to %d under strategy %s", result.OriginalEventCount, result.CompactedEventCount, strategyID))
		return err
	}
	return s.coordinator.SendMessage(ctx, text, opts)
}

// SpawnAgent creates a named agent on a fresh child thread of the
// session root, falling back to the session's default provider/model
// when opts leaves them blank.
func (s *Session) SpawnAgent(ctx context.Context, opts SpawnOptions) (*agent.Agent, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("spawn agent: name is required")
	}

	spec := s.cfg.ProviderModelSpec()
	if opts.ModelID != "" {
		if opts.ProviderInstanceID != "" {
			spec = opts.ProviderInstanceID + ":" + opts.ModelID
		} else {
			spec = opts.ModelID
		}
	}
	port, err := resolvePort(ctx, s.cfg, spec)
	if err != nil {
		return nil, err
	}

	threadID, err := s.cfg.Manager.NewDelegateThread(ctx, s.rootThread)
	if err != nil {
		return nil, fmt.Errorf("create agent thread: %w", err)
	}

	registry := s.registryWithDelegate(port)
	executor := tooling.NewExecutor(registry, s.cfg.Approval, s.cfg.TempDirs, s.cfg.ProjectID, s.cfg.WorkingDirectory)

	a := agent.New(agent.Config{
		ThreadID:     threadID,
		SessionID:    s.id,
		Store:        s.cfg.Manager.Store(),
		Provider:     port,
		Executor:     executor,
		Bus:          eventbus.New(),
		Tools:        agent.ToolInfos(registry),
		Stream:       s.cfg.Stream,
		SystemPrompt: s.cfg.SystemPrompt,
	})

	s.mu.Lock()
	s.agents[opts.Name] = a
	s.mu.Unlock()

	lacelog.Logger.Info().
		Str("session", s.id).
		Str("agent", opts.Name).
		Str("thread", string(threadID)).
		Msg("agent spawned")

	return a, nil
}

// GetAgent returns a spawned agent by name.
func (s *Session) GetAgent(name string) (*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return a, nil
}

// StartAgent starts a spawned agent by name.
func (s *Session) StartAgent(ctx context.Context, name string) error {
	a, err := s.GetAgent(name)
	if err != nil {
		return err
	}
	return a.Start(ctx)
}

// StopAgent stops a spawned agent by name.
func (s *Session) StopAgent(name string) error {
	a, err := s.GetAgent(name)
	if err != nil {
		return err
	}
	a.Stop()
	return nil
}

// Destroy stops every spawned agent. The coordinator is retained (and
// left running) so the session's root thread can still be resumed; no
// thread data is deleted.
func (s *Session) Destroy() {
	s.mu.Lock()
	agents := make([]*agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	s.mu.Unlock()

	for _, a := range agents {
		a.Stop()
	}

	lacelog.Logger.Info().Str("session", s.id).Int("stopped", len(agents)).Msg("session destroyed")
}

func resolvePort(ctx context.Context, cfg Config, spec string) (provider.Port, error) {
	if spec == "" {
		spec = cfg.DefaultProvider + ":"
	}
	port, err := cfg.Providers.Resolve(ctx, spec, cfg.DefaultProvider)
	if err != nil {
		return nil, fmt.Errorf("resolve session provider: %w", err)
	}
	return port, nil
}
