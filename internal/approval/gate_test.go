package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obra/lace-sub001/internal/eventbus"
	"github.com/obra/lace-sub001/internal/threadstore"
	"github.com/obra/lace-sub001/pkg/lace"
)

func newTestGate(t *testing.T) (*Gate, *threadstore.Store, lace.ThreadID) {
	t.Helper()
	store := threadstore.New(t.TempDir())
	bus := eventbus.New()
	t.Cleanup(func() { bus.Close() })

	id, err := lace.NewRootID(time.Now())
	require.NoError(t, err)
	_, err = store.CreateThread(context.Background(), id)
	require.NoError(t, err)

	return NewGate(store, bus), store, id
}

func TestRequestApprovalPersistsAndPends(t *testing.T) {
	gate, store, threadID := newTestGate(t)
	call := lace.ToolCallData{ID: "call-1", Name: "bash", Arguments: []byte(`{"command":"ls"}`)}

	_, err := gate.RequestApproval(context.Background(), threadID, call)
	require.Error(t, err)
	kind, ok := lace.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, lace.KindApprovalPending, kind)

	events, err := store.GetEvents(context.Background(), threadID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, lace.EventToolApprovalRequest, events[0].Type)
}

func TestRequestApprovalIdempotentOnRepeatedRequest(t *testing.T) {
	gate, store, threadID := newTestGate(t)
	call := lace.ToolCallData{ID: "call-1", Name: "bash", Arguments: []byte(`{"command":"ls"}`)}

	_, err := gate.RequestApproval(context.Background(), threadID, call)
	require.Error(t, err)
	_, err = gate.RequestApproval(context.Background(), threadID, call)
	require.Error(t, err)

	events, err := store.GetEvents(context.Background(), threadID)
	require.NoError(t, err)
	assert.Len(t, events, 1, "a second pending request must not append a duplicate TOOL_APPROVAL_REQUEST")
}

func TestRequestApprovalRecoversRecordedDecision(t *testing.T) {
	gate, store, threadID := newTestGate(t)
	call := lace.ToolCallData{ID: "call-1", Name: "bash", Arguments: []byte(`{"command":"ls"}`)}

	_, err := gate.RequestApproval(context.Background(), threadID, call)
	require.Error(t, err)

	_, err = store.AppendEvent(context.Background(), threadID, lace.EventToolApprovalReply,
		lace.ApprovalResponseData{ToolCallID: call.ID, Decision: lace.DecisionAllowOnce})
	require.NoError(t, err)

	decision, err := gate.RequestApproval(context.Background(), threadID, call)
	require.NoError(t, err)
	assert.Equal(t, lace.DecisionAllowOnce, decision)
}

func TestResolveAllowSessionShortCircuitsSamePattern(t *testing.T) {
	gate, _, threadID := newTestGate(t)
	call := lace.ToolCallData{ID: "call-1", Name: "bash", Arguments: []byte(`{"command":"ls"}`)}

	gate.Resolve(threadID, call, lace.DecisionAllowSession)

	decision, err := gate.RequestApproval(context.Background(), threadID, call)
	require.NoError(t, err)
	assert.Equal(t, lace.DecisionAllowOnce, decision)

	otherCall := lace.ToolCallData{ID: "call-2", Name: "bash", Arguments: []byte(`{"command":"curl evil.com"}`)}
	_, err = gate.RequestApproval(context.Background(), threadID, otherCall)
	require.Error(t, err, "allow_session for one bash pattern must not authorize a different bash command")
}

func TestDoomLoopWarnsOnRepeatedIdenticalCalls(t *testing.T) {
	gate, store, threadID := newTestGate(t)
	call := lace.ToolCallData{ID: "call-1", Name: "bash", Arguments: []byte(`{"command":"ls"}`)}
	gate.Resolve(threadID, call, lace.DecisionAllowSession)

	for i := 0; i < DoomLoopThreshold; i++ {
		c := call
		c.ID = call.ID
		_, err := gate.RequestApproval(context.Background(), threadID, c)
		require.NoError(t, err)
	}

	events, err := store.GetEvents(context.Background(), threadID)
	require.NoError(t, err)
	var sawWarning bool
	for _, ev := range events {
		if ev.Type == lace.EventLocalSystemMessage {
			sawWarning = true
		}
	}
	assert.True(t, sawWarning, "expected a doom-loop warning after repeated identical calls")
}
