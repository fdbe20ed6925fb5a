// Package runner drives a single-prompt, non-interactive session: start
// the agent, stream tokens to the output writer, await completion or
// error, stop the agent.
package runner

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/obra/lace-sub001/internal/agent"
	"github.com/obra/lace-sub001/internal/eventbus"
	"github.com/obra/lace-sub001/internal/lacelog"
	"github.com/obra/lace-sub001/internal/queue"
)

// Runner is the one-shot driver.
type Runner struct {
	agent *agent.Agent
	bus   *eventbus.Bus
	out   io.Writer
}

// New wires a Runner to the agent it drives, the bus that agent emits
// on, and the writer tokens stream to.
func New(a *agent.Agent, bus *eventbus.Bus, out io.Writer) *Runner {
	return &Runner{agent: a, bus: bus, out: out}
}

// Run sends prompt and blocks until the conversation completes or the
// agent reports an error. The agent's first error is the process error;
// stop-phase problems are logged and swallowed.
func (r *Runner) Run(ctx context.Context, prompt string) error {
	if err := r.agent.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	defer func() {
		r.agent.Stop()
		lacelog.Logger.Debug().Msg("agent stopped after non-interactive run")
	}()

	var (
		mu     sync.Mutex
		runErr error
		once   sync.Once
	)
	done := make(chan struct{})
	finish := func() { once.Do(func() { close(done) }) }

	unsubToken := r.bus.Subscribe(agent.EventToken, func(ev eventbus.Event) {
		if data, ok := ev.Data.(agent.TokenData); ok {
			fmt.Fprint(r.out, data.Token)
		}
	})
	defer unsubToken()

	unsubResp := r.bus.Subscribe(agent.EventResponseComplete, func(eventbus.Event) {
		fmt.Fprintln(r.out)
	})
	defer unsubResp()

	unsubDone := r.bus.Subscribe(agent.EventConversationComplete, func(eventbus.Event) { finish() })
	defer unsubDone()

	unsubErr := r.bus.Subscribe(agent.EventError, func(ev eventbus.Event) {
		if data, ok := ev.Data.(agent.ErrorData); ok {
			mu.Lock()
			if runErr == nil {
				runErr = fmt.Errorf("%s: %w", data.Phase, data.Error)
			}
			mu.Unlock()
		}
		finish()
	})
	defer unsubErr()

	go func() {
		if err := r.agent.SendMessage(ctx, prompt, queue.SendOptions{}); err != nil {
			mu.Lock()
			if runErr == nil {
				runErr = err
			}
			mu.Unlock()
			finish()
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return runErr
}
