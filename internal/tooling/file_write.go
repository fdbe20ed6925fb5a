package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/obra/lace-sub001/pkg/lace"
)

// FileWriteTool overwrites a file with the given content, optionally
// creating missing parent directories.
type FileWriteTool struct{}

func NewFileWriteTool() *FileWriteTool { return &FileWriteTool{} }

func (t *FileWriteTool) Name() string { return "file_write" }
func (t *FileWriteTool) Description() string {
	return "Writes content to a file, overwriting any existing contents."
}

func (t *FileWriteTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"content": {"type": "string"},
			"createDirs": {"type": "boolean"}
		},
		"required": ["path", "content"]
	}`)
}

func (t *FileWriteTool) Annotations() Annotations {
	return Annotations{Title: "Write a file", DestructiveHint: true, IdempotentHint: true}
}

type fileWriteInput struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	CreateDirs *bool  `json:"createDirs,omitempty"`
}

type fileWriteResult struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytesWritten"`
}

func (t *FileWriteTool) ExecuteValidated(ctx context.Context, args json.RawMessage, tc *Context) ([]lace.ContentBlock, error) {
	var in fileWriteInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode file_write input: %w", err)
	}

	createDirs := true
	if in.CreateDirs != nil {
		createDirs = *in.CreateDirs
	}

	path := resolvePath(in.Path, tc.WorkingDirectory)
	dir := filepath.Dir(path)

	if _, err := os.Stat(dir); err != nil {
		if !createDirs {
			return nil, fmt.Errorf("parent directory %s does not exist; pass createDirs=true to create it", dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create parent directories for %s: %w", in.Path, err)
		}
	}

	if err := os.WriteFile(path, []byte(in.Content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", in.Path, err)
	}

	out, err := json.Marshal(fileWriteResult{Path: in.Path, BytesWritten: len(in.Content)})
	if err != nil {
		return nil, fmt.Errorf("marshal file_write result: %w", err)
	}
	return []lace.ContentBlock{lace.TextBlock(string(out))}, nil
}
