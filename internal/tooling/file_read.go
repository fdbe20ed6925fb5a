package tooling

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/obra/lace-sub001/pkg/lace"
)

const (
	fileReadWholeFileCap = 32 * 1024
	fileReadRangeCap     = 100
)

// FileReadTool reads a file, or a bounded line range of one; relative
// paths resolve against the working directory.
type FileReadTool struct{}

func NewFileReadTool() *FileReadTool { return &FileReadTool{} }

func (t *FileReadTool) Name() string        { return "file_read" }
func (t *FileReadTool) Description() string { return "Reads a file or a bounded range of its lines." }

func (t *FileReadTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"startLine": {"type": "integer", "minimum": 1},
			"endLine": {"type": "integer", "minimum": 1}
		},
		"required": ["path"]
	}`)
}

func (t *FileReadTool) Annotations() Annotations {
	return Annotations{Title: "Read a file", ReadOnlyHint: true, IdempotentHint: true}
}

type fileReadInput struct {
	Path      string `json:"path"`
	StartLine *int   `json:"startLine,omitempty"`
	EndLine   *int   `json:"endLine,omitempty"`
}

func (t *FileReadTool) ExecuteValidated(ctx context.Context, args json.RawMessage, tc *Context) ([]lace.ContentBlock, error) {
	var in fileReadInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode file_read input: %w", err)
	}

	path := resolvePath(in.Path, tc.WorkingDirectory)

	if in.StartLine == nil && in.EndLine == nil {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("FileNotFound: %s", in.Path)
		}
		if info.Size() > fileReadWholeFileCap {
			return nil, fmt.Errorf("RangeTooLarge: whole-file read of %s exceeds %d bytes; request a line range instead", in.Path, fileReadWholeFileCap)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("FileNotFound: %s", in.Path)
		}
		return []lace.ContentBlock{lace.TextBlock(string(data))}, nil
	}

	start, end := 1, -1
	if in.StartLine != nil {
		start = *in.StartLine
	}
	if in.EndLine != nil {
		end = *in.EndLine
	}
	if end != -1 && end < start {
		return nil, fmt.Errorf("EndBeforeStart: endLine %d precedes startLine %d", end, start)
	}
	if end != -1 && end-start+1 > fileReadRangeCap {
		return nil, fmt.Errorf("RangeTooLarge: requested %d lines exceeds cap of %d", end-start+1, fileReadRangeCap)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("FileNotFound: %s", in.Path)
	}
	defer f.Close()

	var out strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	collected := 0
	for scanner.Scan() {
		lineNo++
		if lineNo < start {
			continue
		}
		if end != -1 && lineNo > end {
			break
		}
		if end == -1 && collected >= fileReadRangeCap {
			break
		}
		out.WriteString(scanner.Text())
		out.WriteByte('\n')
		collected++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", in.Path, err)
	}
	if lineNo < start {
		return nil, fmt.Errorf("StartLineExceedsLength: file has %d lines, startLine is %d", lineNo, start)
	}

	return []lace.ContentBlock{lace.TextBlock(out.String())}, nil
}

func resolvePath(path, workingDirectory string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if workingDirectory != "" {
		return filepath.Join(workingDirectory, path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(wd, path)
}
