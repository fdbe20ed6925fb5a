package threadstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obra/lace-sub001/pkg/lace"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir())
}

func mustCreate(t *testing.T, s *Store, id lace.ThreadID) {
	t.Helper()
	_, err := s.CreateThread(context.Background(), id)
	require.NoError(t, err)
}

func TestCreateThreadDuplicate(t *testing.T) {
	s := newStore(t)
	id := lace.ThreadID("lace_20250101_abc123")
	mustCreate(t, s, id)

	_, err := s.CreateThread(context.Background(), id)
	require.Error(t, err)
	kind, ok := lace.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, lace.KindDuplicateThread, kind)
}

func TestAppendEventAssignsMonotoneTimestamps(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := lace.ThreadID("lace_20250101_abc123")
	mustCreate(t, s, id)

	for i := 0; i < 20; i++ {
		_, err := s.AppendEvent(ctx, id, lace.EventUserMessage, "msg")
		require.NoError(t, err)
	}

	events, err := s.GetEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 20)
	for i := 1; i < len(events); i++ {
		assert.True(t, events[i].Timestamp.After(events[i-1].Timestamp),
			"timestamps must be strictly increasing within a thread")
	}
}

func TestAppendEventRejectsUnknownType(t *testing.T) {
	s := newStore(t)
	id := lace.ThreadID("lace_20250101_abc123")
	mustCreate(t, s, id)

	_, err := s.AppendEvent(context.Background(), id, lace.EventType("BOGUS"), "x")
	require.Error(t, err)
	kind, ok := lace.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, lace.KindUnknownEventType, kind)
}

func TestGetEventsMissingThreadDegradesGracefully(t *testing.T) {
	s := newStore(t)
	events, err := s.GetEvents(context.Background(), "lace_20250101_zzzzzz")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventPayloadRoundTrips(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := lace.ThreadID("lace_20250101_abc123")
	mustCreate(t, s, id)

	call := lace.ToolCallData{ID: "call1", Name: "bash", Arguments: []byte(`{"command":"ls"}`)}
	_, err := s.AppendEvent(ctx, id, lace.EventToolCall, call)
	require.NoError(t, err)

	events, err := s.GetEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 1)

	var got lace.ToolCallData
	require.NoError(t, json.Unmarshal(events[0].Data, &got))
	assert.Equal(t, call.ID, got.ID)
	assert.Equal(t, call.Name, got.Name)
	assert.JSONEq(t, string(call.Arguments), string(got.Arguments))
}

func TestGetMainAndDelegateEventsMergesFamily(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	parent := lace.ThreadID("lace_20250101_abc123")
	child := lace.ThreadID("lace_20250101_abc123.1")
	grandchild := lace.ThreadID("lace_20250101_abc123.1.1")
	other := lace.ThreadID("lace_20250101_abc999")
	for _, id := range []lace.ThreadID{parent, child, grandchild, other} {
		mustCreate(t, s, id)
	}

	_, err := s.AppendEvent(ctx, parent, lace.EventUserMessage, "p1")
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, child, lace.EventUserMessage, "c1")
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, grandchild, lace.EventUserMessage, "g1")
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, other, lace.EventUserMessage, "x1")
	require.NoError(t, err)

	all, err := s.GetMainAndDelegateEvents(ctx, parent)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Timestamp.Before(all[i-1].Timestamp), "merged view is chronological")
	}
	for _, ev := range all {
		assert.NotEqual(t, other, ev.ThreadID, "unrelated threads stay out of the family view")
	}
}

func TestGetLatestThreadIDSkipsDelegates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	first := lace.ThreadID("lace_20250101_aaaaaa")
	second := lace.ThreadID("lace_20250102_bbbbbb")
	delegate := lace.ThreadID("lace_20250102_bbbbbb.1")
	mustCreate(t, s, first)
	time.Sleep(5 * time.Millisecond)
	mustCreate(t, s, second)
	time.Sleep(5 * time.Millisecond)
	mustCreate(t, s, delegate)

	latest, ok, err := s.GetLatestThreadID(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, latest)
}

func TestGetLatestThreadIDEmptyStore(t *testing.T) {
	s := newStore(t)
	_, ok, err := s.GetLatestThreadID(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanonicalIDFollowsRebindAndPersists(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()
	original := lace.ThreadID("lace_20250101_abc123")
	shadow := lace.ThreadID("lace_20250102_shadow")
	mustCreate(t, s, original)
	mustCreate(t, s, shadow)

	got, err := s.CanonicalID(ctx, original)
	require.NoError(t, err)
	assert.Equal(t, original, got, "no mapping means itself")

	require.NoError(t, s.SetCanonical(ctx, original, shadow))
	got, err = s.CanonicalID(ctx, original)
	require.NoError(t, err)
	assert.Equal(t, shadow, got)

	// A fresh Store over the same directory sees the persisted rebind.
	s2 := New(dir)
	got, err = s2.CanonicalID(ctx, original)
	require.NoError(t, err)
	assert.Equal(t, shadow, got)
}

func TestHasThreadAndGetThread(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := lace.ThreadID("lace_20250101_abc123")
	assert.False(t, s.HasThread(ctx, id))

	mustCreate(t, s, id)
	assert.True(t, s.HasThread(ctx, id))

	th, err := s.GetThread(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, th)
	assert.Equal(t, id, th.ID)

	missing, err := s.GetThread(ctx, "lace_20250101_zzzzzz")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
