package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/obra/lace-sub001/internal/approval"
	"github.com/obra/lace-sub001/internal/compactor"
	"github.com/obra/lace-sub001/internal/config"
	"github.com/obra/lace-sub001/internal/eventbus"
	"github.com/obra/lace-sub001/internal/lacelog"
	"github.com/obra/lace-sub001/internal/lacesession"
	"github.com/obra/lace-sub001/internal/provider"
	"github.com/obra/lace-sub001/internal/runner"
	"github.com/obra/lace-sub001/internal/tempdir"
	"github.com/obra/lace-sub001/internal/threadmanager"
	"github.com/obra/lace-sub001/internal/threadstore"
	"github.com/obra/lace-sub001/internal/tooling"
	"github.com/obra/lace-sub001/pkg/lace"
)

func runLace(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	applyFlags(cfg)

	registry := buildToolRegistry(cfg)
	if flagListTools {
		listTools(cmd, registry)
		return nil
	}

	prompt := promptFromFlagsAndArgs(args)
	if prompt == "" {
		return cmd.Help()
	}

	if err := config.EnsureLaceDir(); err != nil {
		return fmt.Errorf("prepare %s: %w", config.LaceDir(), err)
	}

	providers := buildProviderRegistry(cfg)
	if cfg.DefaultProvider == "" {
		return fmt.Errorf("no provider configured: set ANTHROPIC_KEY or OPENAI_API_KEY, or add one to %s/lace.json", config.LaceDir())
	}

	store := threadstore.New(config.DBPath())
	manager := threadmanager.New(store)
	tempDirs := tempdir.NewRoot(config.TempRoot())
	bus := eventbus.New()
	defer bus.Close()

	gate := buildGate(cfg, registry, store, bus)

	port, err := providers.Resolve(ctx, cfg.DefaultProvider+":"+cfg.Model, cfg.DefaultProvider)
	if err != nil {
		return err
	}

	comp := compactor.New(store)
	comp.Register(compactor.NewSummarizeStrategy(port))
	comp.Register(compactor.TrimToolResultsStrategy{})

	resumeID, err := resolveContinueThread(ctx, manager)
	if err != nil {
		return err
	}

	session, err := lacesession.Create(ctx, lacesession.Config{
		ProjectID:        projectID(workDir),
		WorkingDirectory: workDir,
		Manager:          manager,
		Providers:        providers,
		Registry:         registry,
		Approval:         gate,
		TempDirs:         tempDirs,
		Compactor:        comp,
		DefaultProvider:  cfg.DefaultProvider,
		DefaultModel:     cfg.Model,
		Stream:           true,
		ResumeThreadID:   resumeID,
	})
	if err != nil {
		return err
	}
	defer session.Destroy()

	r := runner.New(session.Coordinator(), session.Bus(), os.Stdout)
	return r.Run(ctx, prompt)
}

func applyFlags(cfg *config.Config) {
	if flagProvider != "" {
		cfg.DefaultProvider = flagProvider
	}
	if flagModel != "" {
		providerID, modelID := provider.ParseModelString(flagModel)
		if providerID != "" {
			cfg.DefaultProvider = providerID
		}
		cfg.Model = modelID
	}
	if flagAllowNonDestructive {
		cfg.Tools.AllowNonDestructiveTools = true
	}
	if flagAutoApproveTools {
		cfg.Tools.AutoApproveTools = true
	}
	if len(flagDisableTools) > 0 {
		cfg.Tools.DisableTools = append(cfg.Tools.DisableTools, flagDisableTools...)
	}
	if flagDisableAllTools {
		cfg.Tools.DisableAllTools = true
	}
	if flagDisableToolGuardrails {
		cfg.Tools.DisableToolGuardrails = true
	}
}

func buildProviderRegistry(cfg *config.Config) *provider.Registry {
	providers := provider.NewRegistry()
	providers.RegisterFactory("anthropic", func(ctx context.Context, model string) (provider.Port, error) {
		return provider.NewAnthropicPort(ctx, &provider.AnthropicConfig{
			APIKey:  cfg.Provider["anthropic"].APIKey,
			BaseURL: cfg.Provider["anthropic"].BaseURL,
			Model:   model,
		})
	})
	providers.RegisterFactory("openai", func(ctx context.Context, model string) (provider.Port, error) {
		return provider.NewOpenAIPort(ctx, &provider.OpenAIConfig{
			APIKey:  cfg.Provider["openai"].APIKey,
			BaseURL: cfg.Provider["openai"].BaseURL,
			Model:   model,
		})
	})
	providers.RegisterFactory("ark", func(ctx context.Context, model string) (provider.Port, error) {
		return provider.NewArkPort(ctx, &provider.ArkConfig{
			APIKey:  cfg.Provider["ark"].APIKey,
			BaseURL: cfg.Provider["ark"].BaseURL,
			Model:   model,
		})
	})
	return providers
}

func buildToolRegistry(cfg *config.Config) *tooling.Registry {
	registry := tooling.NewRegistry()
	if cfg.Tools.DisableAllTools {
		return registry
	}

	disabled := make(map[string]bool, len(cfg.Tools.DisableTools))
	for _, name := range cfg.Tools.DisableTools {
		disabled[name] = true
	}

	for _, tool := range []tooling.Tool{
		tooling.NewBashTool(),
		tooling.NewFileReadTool(),
		tooling.NewFileWriteTool(),
	} {
		if !disabled[tool.Name()] {
			registry.Register(tool)
		}
	}
	// The delegate tool is registered per-session, bound to that
	// session's coordinator; the disable settings here do not remove it.
	return registry
}

func buildGate(cfg *config.Config, registry *tooling.Registry, store *threadstore.Store, bus *eventbus.Bus) tooling.ApprovalGate {
	if cfg.Tools.AutoApproveTools {
		return approval.AutoGate{}
	}
	var gate tooling.ApprovalGate = approval.NewGate(store, bus)
	if cfg.Tools.AllowNonDestructiveTools {
		gate = &approval.PolicyGate{Registry: registry, Inner: gate}
	}
	return gate
}

func resolveContinueThread(ctx context.Context, manager *threadmanager.Manager) (lace.ThreadID, error) {
	if flagContinue == "" {
		return "", nil
	}

	maybeID := flagContinue
	if maybeID == "latest" {
		latest, ok, err := manager.Store().GetLatestThreadID(ctx)
		if err != nil {
			return "", fmt.Errorf("look up latest thread: %w", err)
		}
		if !ok {
			lacelog.Logger.Warn().Msg("no stored threads to continue; starting fresh")
			return "", nil
		}
		maybeID = string(latest)
	}

	result, err := manager.ResumeOrCreate(ctx, maybeID)
	if err != nil {
		return "", err
	}
	if result.ResumeError != "" {
		fmt.Fprintln(os.Stderr, result.ResumeError)
	}
	return result.ThreadID, nil
}

func listTools(cmd *cobra.Command, registry *tooling.Registry) {
	tools := registry.List()
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	for _, t := range tools {
		fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", t.Name(), t.Description())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", "delegate", "Delegates a focused sub-task to a child agent and returns its response.")
}

// projectID derives a stable project identifier from the working
// directory name.
func projectID(workDir string) string {
	base := filepath.Base(workDir)
	if base == "." || base == "/" || base == "" {
		return "default"
	}
	return base
}
