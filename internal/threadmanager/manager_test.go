package threadmanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obra/lace-sub001/internal/threadstore"
	"github.com/obra/lace-sub001/pkg/lace"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	return New(threadstore.New(t.TempDir()))
}

func TestNewThreadCreatesValidID(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	id, err := m.NewThread(ctx)
	require.NoError(t, err)
	assert.True(t, id.Valid())
	assert.False(t, id.IsDelegate())
	assert.True(t, m.Store().HasThread(ctx, id))
}

func TestNewDelegateThreadSequence(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	parent, err := m.NewThread(ctx)
	require.NoError(t, err)

	var children []lace.ThreadID
	for i := 0; i < 3; i++ {
		child, err := m.NewDelegateThread(ctx, parent)
		require.NoError(t, err)
		children = append(children, child)
	}
	assert.Equal(t, parent+".1", children[0])
	assert.Equal(t, parent+".2", children[1])
	assert.Equal(t, parent+".3", children[2])

	// Delegates of delegates nest one more level.
	grandchild, err := m.NewDelegateThread(ctx, children[0])
	require.NoError(t, err)
	assert.Equal(t, children[0]+".1", grandchild)

	great, err := m.NewDelegateThread(ctx, grandchild)
	require.NoError(t, err)
	assert.Equal(t, grandchild+".1", great)
}

func TestResumeOrCreateResumesKnownThread(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	id, err := m.NewThread(ctx)
	require.NoError(t, err)

	result, err := m.ResumeOrCreate(ctx, string(id))
	require.NoError(t, err)
	assert.True(t, result.IsResumed)
	assert.Equal(t, id, result.ThreadID)
	assert.Empty(t, result.ResumeError)
}

func TestResumeOrCreateMalformedID(t *testing.T) {
	m := newManager(t)
	result, err := m.ResumeOrCreate(context.Background(), "not-a-thread-id")
	require.NoError(t, err, "a bad id is reported in-band, never as a Go error")
	assert.False(t, result.IsResumed)
	assert.True(t, result.ThreadID.Valid())
	assert.Contains(t, result.ResumeError, "malformed")
}

func TestResumeOrCreateUnknownID(t *testing.T) {
	m := newManager(t)
	result, err := m.ResumeOrCreate(context.Background(), "lace_20250101_zzzzzz")
	require.NoError(t, err)
	assert.False(t, result.IsResumed)
	assert.NotEqual(t, lace.ThreadID("lace_20250101_zzzzzz"), result.ThreadID)
	assert.Contains(t, result.ResumeError, "no thread found")
}

func TestResumeOrCreateEmptyCreatesNew(t *testing.T) {
	m := newManager(t)
	result, err := m.ResumeOrCreate(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, result.IsResumed)
	assert.True(t, result.ThreadID.Valid())
	assert.Empty(t, result.ResumeError)
}

func TestResumeOrCreateFollowsCanonicalMapping(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	original, err := m.NewThread(ctx)
	require.NoError(t, err)
	shadow, err := m.NewThread(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Store().SetCanonical(ctx, original, shadow))

	result, err := m.ResumeOrCreate(ctx, string(original))
	require.NoError(t, err)
	assert.True(t, result.IsResumed)
	assert.Equal(t, shadow, result.ThreadID, "resume follows the compaction shadow")
}
