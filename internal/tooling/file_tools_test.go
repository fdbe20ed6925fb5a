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

func readFileTool(t *testing.T, workDir string, args string) (string, error) {
	t.Helper()
	tool := NewFileReadTool()
	blocks, err := tool.ExecuteValidated(context.Background(), json.RawMessage(args), &Context{WorkingDirectory: workDir})
	if err != nil {
		return "", err
	}
	require.Len(t, blocks, 1)
	return blocks[0].Text, nil
}

func TestFileReadWholeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\n"), 0o644))

	text, err := readFileTool(t, "", fmt.Sprintf(`{"path":%q}`, path))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", text)
}

func TestFileReadRelativePathResolvesAgainstWorkDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rel.txt"), []byte("content"), 0o644))

	text, err := readFileTool(t, dir, `{"path":"rel.txt"}`)
	require.NoError(t, err)
	assert.Equal(t, "content", text)
}

func TestFileReadMissingFile(t *testing.T) {
	_, err := readFileTool(t, "", `{"path":"/nonexistent/file.txt"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FileNotFound")
}

func TestFileReadWholeFileTooLarge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("a", fileReadWholeFileCap+1)), 0o644))

	_, err := readFileTool(t, "", fmt.Sprintf(`{"path":%q}`, path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RangeTooLarge")
}

func TestFileReadRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lines.txt")
	var b strings.Builder
	for i := 1; i <= 200; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	text, err := readFileTool(t, "", fmt.Sprintf(`{"path":%q,"startLine":10,"endLine":12}`, path))
	require.NoError(t, err)
	assert.Equal(t, "line 10\nline 11\nline 12\n", text)
}

func TestFileReadRangeErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lines.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0o644))

	_, err := readFileTool(t, "", fmt.Sprintf(`{"path":%q,"startLine":5,"endLine":3}`, path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EndBeforeStart")

	_, err = readFileTool(t, "", fmt.Sprintf(`{"path":%q,"startLine":1,"endLine":500}`, path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RangeTooLarge")

	_, err = readFileTool(t, "", fmt.Sprintf(`{"path":%q,"startLine":10}`, path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "StartLineExceedsLength")
}

func TestFileWriteCreatesParentsByDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "out.txt")

	tool := NewFileWriteTool()
	args := fmt.Sprintf(`{"path":%q,"content":"written"}`, path)
	blocks, err := tool.ExecuteValidated(context.Background(), json.RawMessage(args), &Context{})
	require.NoError(t, err)

	var result fileWriteResult
	require.NoError(t, json.Unmarshal([]byte(blocks[0].Text), &result))
	assert.Equal(t, 7, result.BytesWritten)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "written", string(data))
}

func TestFileWriteOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("old content"), 0o644))

	tool := NewFileWriteTool()
	args := fmt.Sprintf(`{"path":%q,"content":"new"}`, path)
	_, err := tool.ExecuteValidated(context.Background(), json.RawMessage(args), &Context{})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestFileWriteNoCreateDirsCarriesHint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing", "out.txt")

	tool := NewFileWriteTool()
	args := fmt.Sprintf(`{"path":%q,"content":"x","createDirs":false}`, path)
	_, err := tool.ExecuteValidated(context.Background(), json.RawMessage(args), &Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "createDirs=true")
}
