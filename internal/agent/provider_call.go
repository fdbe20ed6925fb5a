package agent

import (
	"context"
	"fmt"

	"github.com/obra/lace-sub001/internal/provider"
	"github.com/obra/lace-sub001/internal/retry"
)

// estimatedTokensPerMessage is a coarse per-message estimate used only
// to decide whether TokenBudget would be exceeded before making the
// call; actual accounting uses the provider's reported Usage.
const estimatedTokensPerMessage = 500

// callProvider builds the message list from thread history, enforces
// TokenBudget, and invokes the provider (streaming or not per Config),
// retrying transient errors per Config.Retry. It emits the full
// thinking/streaming state transitions and token events described in
// the spec's transition table.
func (a *Agent) callProvider(ctx context.Context) (provider.Response, error) {
	events, err := a.cfg.Store.GetEvents(ctx, a.cfg.ThreadID)
	if err != nil {
		return provider.Response{}, fmt.Errorf("load thread events: %w", err)
	}
	history, err := buildMessages(events)
	if err != nil {
		return provider.Response{}, err
	}
	messages := append(systemMessages(a.cfg.SystemPrompt, a.cfg.UserSystemPrompt), history...)

	if a.cfg.Budget != nil {
		estimate := estimatedTokensPerMessage * (len(messages) + 1)
		if !a.cfg.Budget.Allow(estimate) {
			a.publish(EventTokenBudgetWarning, nil)
			return provider.Response{}, fmt.Errorf("token budget exceeded: estimated %d tokens would exceed the configured budget", estimate)
		}
		if a.cfg.Budget.WarnLevel() {
			a.publish(EventTokenBudgetWarning, nil)
		}
	}

	a.setState(StateThinking)
	a.publish(EventThinkingStart, nil)

	var resp provider.Response
	policy := a.cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}

	err = policy.Do(ctx, func(s retry.Status) { a.publish(EventRetryStatus, s) }, func(ctx context.Context) error {
		var callErr error
		if a.cfg.Stream && a.cfg.Provider.SupportsStreaming() {
			a.setState(StateStreaming)
			resp, callErr = a.cfg.Provider.CreateStreamingResponse(ctx, messages, a.cfg.Tools, func(tok provider.TokenEvent) {
				a.publish(EventToken, TokenData{Token: tok.Text})
			})
		} else {
			resp, callErr = a.cfg.Provider.CreateResponse(ctx, messages, a.cfg.Tools)
		}
		return callErr
	})

	a.publish(EventThinkingComplete, nil)

	if err != nil {
		if ctx.Err() != nil {
			// Cancellation during streaming/thinking is a benign end of
			// turn: whatever content arrived is recorded by the caller.
			return provider.Response{Content: resp.Content, StopReason: provider.StopCancelled}, nil
		}
		return provider.Response{}, err
	}

	if a.cfg.Budget != nil && resp.Usage != nil {
		a.cfg.Budget.Accept(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	return resp, nil
}
