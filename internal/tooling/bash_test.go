package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runBash(t *testing.T, command string) bashPayload {
	t.Helper()
	tool := NewBashTool()
	tc := &Context{TempDir: t.TempDir()}
	args, err := json.Marshal(bashInput{Command: command})
	require.NoError(t, err)

	blocks, err := tool.ExecuteValidated(context.Background(), args, tc)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	var payload bashPayload
	require.NoError(t, json.Unmarshal([]byte(blocks[0].Text), &payload))
	return payload
}

func TestBashEcho(t *testing.T) {
	payload := runBash(t, "echo hello world")
	assert.Equal(t, 0, payload.ExitCode)
	assert.Equal(t, "hello world", strings.TrimSpace(payload.StdoutPreview))
	assert.Empty(t, strings.TrimSpace(payload.StderrPreview))
}

func TestBashNonZeroExitIsCompleted(t *testing.T) {
	payload := runBash(t, "false")
	assert.Equal(t, 1, payload.ExitCode)
	assert.Equal(t, "", payload.StdoutPreview)
}

func TestBashStderrCaptured(t *testing.T) {
	payload := runBash(t, "echo oops 1>&2")
	assert.Equal(t, "oops", strings.TrimSpace(payload.StderrPreview))
}

func TestBashPersistsFullStreams(t *testing.T) {
	tool := NewBashTool()
	tempDir := t.TempDir()
	tc := &Context{TempDir: tempDir}
	args, _ := json.Marshal(bashInput{Command: "echo full-output"})

	blocks, err := tool.ExecuteValidated(context.Background(), args, tc)
	require.NoError(t, err)

	var payload bashPayload
	require.NoError(t, json.Unmarshal([]byte(blocks[0].Text), &payload))

	assert.Equal(t, filepath.Join(tempDir, "stdout.log"), payload.OutputFiles.Stdout)
	data, err := os.ReadFile(payload.OutputFiles.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "full-output\n", string(data))

	_, err = os.Stat(payload.OutputFiles.Combined)
	assert.NoError(t, err)
}

func TestBashTruncatesLongOutput(t *testing.T) {
	payload := runBash(t, "seq 1 500")
	assert.Positive(t, payload.Truncated.Stdout.Skipped)
	assert.Contains(t, payload.StdoutPreview, "lines skipped")
	// Head is retained, tail is retained, the middle is gone.
	assert.Contains(t, payload.StdoutPreview, "1\n2\n")
	assert.Contains(t, payload.StdoutPreview, "500")
	assert.NotContains(t, payload.StdoutPreview, "\n250\n")
}

func TestBashWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644))

	tool := NewBashTool()
	tc := &Context{TempDir: t.TempDir(), WorkingDirectory: dir}
	args, _ := json.Marshal(bashInput{Command: "ls"})

	blocks, err := tool.ExecuteValidated(context.Background(), args, tc)
	require.NoError(t, err)

	var payload bashPayload
	require.NoError(t, json.Unmarshal([]byte(blocks[0].Text), &payload))
	assert.Contains(t, payload.StdoutPreview, "marker.txt")
}

func TestTruncateHardCap(t *testing.T) {
	long := strings.Repeat("x", bashHardCap*2)
	preview, info := truncate(long)
	assert.LessOrEqual(t, len(preview), bashHardCap+100)
	assert.Contains(t, preview, "truncated at character cap")
	assert.Equal(t, 1, info.Total)
}

func TestTruncateKeepsShortOutputIntact(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 20; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	preview, info := truncate(b.String())
	assert.Equal(t, b.String(), preview)
	assert.Zero(t, info.Skipped)
}
