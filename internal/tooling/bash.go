package tooling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/obra/lace-sub001/pkg/lace"
)

// Output truncation constants for bash tool output previews.
const (
	bashHeadLines = 100
	bashTailLines = 50
	bashHardCap   = 10 * 1024
)

// BashTool runs a shell command and reports a JSON result with a
// truncated preview of its output (fixed head/tail/cap truncation
// instead of a single flat limit) plus paths to the full logs.
type BashTool struct {
	shell string
}

// NewBashTool detects the user's shell.
func NewBashTool() *BashTool {
	return &BashTool{shell: detectShell()}
}

func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" && s != "/bin/fish" && s != "/usr/bin/fish" {
		return s
	}
	if runtime.GOOS == "darwin" {
		return "/bin/zsh"
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

func (t *BashTool) Name() string { return "bash" }
func (t *BashTool) Description() string {
	return "Executes a shell command and reports its exit code, truncated stdout/stderr, and full-output file paths."
}

func (t *BashTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "minLength": 1}
		},
		"required": ["command"]
	}`)
}

func (t *BashTool) Annotations() Annotations {
	return Annotations{Title: "Run a shell command", DestructiveHint: true, OpenWorldHint: true}
}

type bashInput struct {
	Command string `json:"command"`
}

type truncationInfo struct {
	Total   int `json:"total"`
	Skipped int `json:"skipped"`
}

type bashOutputFiles struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Combined string `json:"combined"`
}

type bashPayload struct {
	ExitCode      int    `json:"exitCode"`
	StdoutPreview string `json:"stdoutPreview"`
	StderrPreview string `json:"stderrPreview"`
	RuntimeMS     int64  `json:"runtime"`
	Truncated     struct {
		Stdout truncationInfo `json:"stdout"`
		Stderr truncationInfo `json:"stderr"`
	} `json:"truncated"`
	OutputFiles bashOutputFiles `json:"outputFiles"`
}

func (t *BashTool) ExecuteValidated(ctx context.Context, args json.RawMessage, tc *Context) ([]lace.ContentBlock, error) {
	var in bashInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode bash input: %w", err)
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, t.shell, "/c", in.Command)
	} else {
		cmd = exec.CommandContext(ctx, t.shell, "-c", in.Command)
	}
	if tc.WorkingDirectory != "" {
		cmd.Dir = tc.WorkingDirectory
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	} else if runErr != nil {
		exitCode = -1
	}

	stdoutFile, stderrFile, combinedFile, persistErr := persistBashOutput(tc.TempDir, stdoutBuf.Bytes(), stderrBuf.Bytes())
	if persistErr != nil {
		return nil, persistErr
	}

	stdoutPreview, stdoutTrunc := truncate(stdoutBuf.String())
	stderrPreview, stderrTrunc := truncate(stderrBuf.String())

	payload := bashPayload{
		ExitCode:      exitCode,
		StdoutPreview: stdoutPreview,
		StderrPreview: stderrPreview,
		RuntimeMS:     elapsed.Milliseconds(),
		OutputFiles:   bashOutputFiles{Stdout: stdoutFile, Stderr: stderrFile, Combined: combinedFile},
	}
	payload.Truncated.Stdout = stdoutTrunc
	payload.Truncated.Stderr = stderrTrunc

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal bash result: %w", err)
	}

	// A non-zero exit code is a completed tool call, not a tool failure:
	// we only return a Go error for transport/IO problems above.
	return []lace.ContentBlock{lace.TextBlock(string(out))}, nil
}

func persistBashOutput(tempDir string, stdout, stderr []byte) (stdoutFile, stderrFile, combinedFile string, err error) {
	stdoutFile = filepath.Join(tempDir, "stdout.log")
	stderrFile = filepath.Join(tempDir, "stderr.log")
	combinedFile = filepath.Join(tempDir, "combined.log")

	if err = os.WriteFile(stdoutFile, stdout, 0o644); err != nil {
		return "", "", "", fmt.Errorf("persist stdout: %w", err)
	}
	if err = os.WriteFile(stderrFile, stderr, 0o644); err != nil {
		return "", "", "", fmt.Errorf("persist stderr: %w", err)
	}
	combined := append(append([]byte{}, stdout...), stderr...)
	if err = os.WriteFile(combinedFile, combined, 0o644); err != nil {
		return "", "", "", fmt.Errorf("persist combined output: %w", err)
	}
	return stdoutFile, stderrFile, combinedFile, nil
}

// truncate keeps the first bashHeadLines and last bashTailLines lines
// (with an ellipsis marker between them) and enforces a hard character
// cap on top of that.
func truncate(s string) (string, truncationInfo) {
	lines := strings.Split(s, "\n")
	total := len(lines)

	var kept []string
	skipped := 0
	if total <= bashHeadLines+bashTailLines {
		kept = lines
	} else {
		head := lines[:bashHeadLines]
		tail := lines[total-bashTailLines:]
		skipped = total - bashHeadLines - bashTailLines
		kept = append(append([]string{}, head...), fmt.Sprintf("… (%d lines skipped) …", skipped))
		kept = append(kept, tail...)
	}

	result := strings.Join(kept, "\n")
	if len(result) > bashHardCap {
		result = result[:bashHardCap] + "\n… (truncated at character cap) …"
	}

	return result, truncationInfo{Total: total, Skipped: skipped}
}
