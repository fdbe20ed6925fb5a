package delegate_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/obra/lace-sub001/internal/delegate"
	"github.com/obra/lace-sub001/internal/provider"
	"github.com/obra/lace-sub001/internal/threadmanager"
	"github.com/obra/lace-sub001/internal/threadstore"
	"github.com/obra/lace-sub001/internal/tooling"
	"github.com/obra/lace-sub001/pkg/lace"
)

// scriptedPort answers each CreateResponse call with the next scripted
// response, then keeps returning the last one.
type scriptedPort struct {
	name      string
	responses []provider.Response
	i         int
	sawTools  [][]provider.ToolInfo
}

func (p *scriptedPort) ProviderName() string    { return p.name }
func (p *scriptedPort) DefaultModel() string    { return "scripted-model" }
func (p *scriptedPort) SupportsStreaming() bool { return false }

func (p *scriptedPort) CreateResponse(ctx context.Context, messages []provider.Message, tools []provider.ToolInfo) (provider.Response, error) {
	p.sawTools = append(p.sawTools, tools)
	if p.i >= len(p.responses) {
		return provider.Response{Content: "done"}, nil
	}
	r := p.responses[p.i]
	p.i++
	return r, nil
}

func (p *scriptedPort) CreateStreamingResponse(ctx context.Context, messages []provider.Message, tools []provider.ToolInfo, onToken provider.OnToken) (provider.Response, error) {
	return p.CreateResponse(ctx, messages, tools)
}

// blockingPort never answers until the context expires.
type blockingPort struct{}

func (blockingPort) ProviderName() string    { return "blocking" }
func (blockingPort) DefaultModel() string    { return "blocking-model" }
func (blockingPort) SupportsStreaming() bool { return false }
func (blockingPort) CreateResponse(ctx context.Context, messages []provider.Message, tools []provider.ToolInfo) (provider.Response, error) {
	<-ctx.Done()
	return provider.Response{}, ctx.Err()
}
func (blockingPort) CreateStreamingResponse(ctx context.Context, messages []provider.Message, tools []provider.ToolInfo, onToken provider.OnToken) (provider.Response, error) {
	<-ctx.Done()
	return provider.Response{}, ctx.Err()
}

type allowGate struct{}

func (allowGate) RequestApproval(ctx context.Context, threadID lace.ThreadID, call lace.ToolCallData) (lace.Decision, error) {
	return lace.DecisionAllowOnce, nil
}

type noteTool struct{}

func (noteTool) Name() string                 { return "note" }
func (noteTool) Description() string          { return "records a note" }
func (noteTool) InputSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (noteTool) Annotations() tooling.Annotations {
	return tooling.Annotations{ReadOnlyHint: true}
}
func (noteTool) ExecuteValidated(ctx context.Context, args json.RawMessage, tc *tooling.Context) ([]lace.ContentBlock, error) {
	return []lace.ContentBlock{lace.TextBlock("noted")}, nil
}

type tempDirs struct{ dir string }

func (d tempDirs) CallDir(sessionID, projectID, callID string) (string, error) { return d.dir, nil }

var _ = Describe("Coordinator", func() {
	var (
		store    *threadstore.Store
		manager  *threadmanager.Manager
		registry *tooling.Registry
		parent   lace.ThreadID
		ctx      context.Context
	)

	newCoordinator := func(port provider.Port, timeout time.Duration) *delegate.Coordinator {
		return delegate.New(delegate.Config{
			Manager:          manager,
			Store:            store,
			Providers:        provider.NewRegistry(),
			ParentPort:       port,
			ParentRegistry:   registry,
			Approval:         allowGate{},
			TempDirs:         tempDirs{dir: GinkgoT().TempDir()},
			SessionID:        "sess",
			ProjectID:        "proj",
			WorkingDirectory: "",
			Timeout:          timeout,
		})
	}

	request := func(model string) tooling.DelegateRequest {
		return tooling.DelegateRequest{
			Title:            "count the files",
			Prompt:           "How many files are there?",
			ExpectedResponse: "a single number",
			Model:            model,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = threadstore.New(GinkgoT().TempDir())
		manager = threadmanager.New(store)

		var err error
		parent, err = manager.NewThread(ctx)
		Expect(err).NotTo(HaveOccurred())

		registry = tooling.NewRegistry()
		registry.Register(noteTool{})
	})

	It("runs a sub-conversation on a child thread and returns the responses", func() {
		port := &scriptedPort{name: "fake", responses: []provider.Response{{Content: "there are 42 files"}}}
		c := newCoordinator(port, 0)

		text, err := c.Run(ctx, parent, request(""))
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("there are 42 files"))

		childEvents, err := store.GetEvents(ctx, parent+".1")
		Expect(err).NotTo(HaveOccurred())
		Expect(childEvents).NotTo(BeEmpty())
		Expect(childEvents[0].Type).To(Equal(lace.EventUserMessage))

		parentEvents, err := store.GetEvents(ctx, parent)
		Expect(err).NotTo(HaveOccurred())
		Expect(parentEvents).To(BeEmpty(), "child events stay out of the parent thread")
	})

	It("gives the child a tool set without the delegate tool", func() {
		registry.Register(tooling.NewDelegateTool(nil))
		port := &scriptedPort{name: "fake", responses: []provider.Response{{Content: "ok"}}}
		c := newCoordinator(port, 0)

		_, err := c.Run(ctx, parent, request(""))
		Expect(err).NotTo(HaveOccurred())

		Expect(port.sawTools).NotTo(BeEmpty())
		for _, tools := range port.sawTools {
			for _, tool := range tools {
				Expect(tool.Name).NotTo(Equal("delegate"))
			}
		}
	})

	It("allocates sequential sibling thread ids across delegations", func() {
		port := &scriptedPort{name: "fake", responses: []provider.Response{{Content: "a"}, {Content: "b"}}}
		c := newCoordinator(port, 0)

		_, err := c.Run(ctx, parent, request(""))
		Expect(err).NotTo(HaveOccurred())
		_, err = c.Run(ctx, parent, request(""))
		Expect(err).NotTo(HaveOccurred())

		Expect(store.HasThread(ctx, parent+".1")).To(BeTrue())
		Expect(store.HasThread(ctx, parent+".2")).To(BeTrue())
	})

	It("rejects a model override that is not provider:model", func() {
		c := newCoordinator(&scriptedPort{name: "fake"}, 0)
		_, err := c.Run(ctx, parent, request("just-a-model"))
		Expect(err).To(MatchError(delegate.ErrInvalidModel))
	})

	It("resolves a provider:model override through the provider registry", func() {
		providers := provider.NewRegistry()
		override := &scriptedPort{name: "other", responses: []provider.Response{{Content: "from override"}}}
		providers.RegisterFactory("other", func(ctx context.Context, model string) (provider.Port, error) {
			return override, nil
		})

		c := delegate.New(delegate.Config{
			Manager:        manager,
			Store:          store,
			Providers:      providers,
			ParentPort:     &scriptedPort{name: "parent"},
			ParentRegistry: registry,
			Approval:       allowGate{},
			TempDirs:       tempDirs{dir: GinkgoT().TempDir()},
			SessionID:      "sess",
			ProjectID:      "proj",
		})

		text, err := c.Run(ctx, parent, request("other:special-model"))
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("from override"))
	})

	It("times out a child that never completes", func() {
		c := newCoordinator(blockingPort{}, 100*time.Millisecond)

		start := time.Now()
		_, err := c.Run(ctx, parent, request(""))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("timed out"))
		Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))
	})
})
