package bash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/jadenj13/deskdroid/internals/tools"
)

const (
	Name            = "bash"
	DefaultTimeout  = 120 * time.Second
	DefaultMaxBytes = 16000
)

var schema = mustSchema(map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"command": map[string]interface{}{
			"type":        "string",
			"description": "The bash command to run. Use nohup for long-running GUI programs instead of '&'.",
		},
		"restart": map[string]interface{}{
			"type":        "boolean",
			"description": "Restart the shell. Any other fields are ignored.",
		},
	},
})

func mustSchema(v map[string]interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

type Tool struct {
	dir      string
	shell    string
	timeout  time.Duration
	maxBytes int
}

type Option func(*Tool)

func WithDir(dir string) Option {
	return func(t *Tool) { t.dir = dir }
}

func WithTimeout(d time.Duration) Option {
	return func(t *Tool) {
		if d > 0 {
			t.timeout = d
		}
	}
}

func WithMaxBytes(n int) Option {
	return func(t *Tool) {
		if n > 0 {
			t.maxBytes = n
		}
	}
}

func New(opts ...Option) *Tool {
	t := &Tool{
		shell:    "/bin/bash",
		timeout:  DefaultTimeout,
		maxBytes: DefaultMaxBytes,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tool) Name() string { return Name }

func (t *Tool) Description() string {
	return "Run a command in a bash shell. Each call starts a fresh shell in the same working directory. " +
		"Non-zero exit codes are reported as errors alongside the output."
}

func (t *Tool) Schema() json.RawMessage { return schema }

type input struct {
	Command string `json:"command"`
	Restart bool   `json:"restart"`
}

func (t *Tool) Execute(ctx context.Context, raw json.RawMessage) tools.Result {
	var in input
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return tools.Errorf("invalid input: %s", err)
		}
	}
	if in.Restart {
		return tools.Result{Output: "tool has been restarted."}
	}
	if in.Command == "" {
		return tools.Errorf("no command provided.")
	}

	out, err := t.run(ctx, in.Command)
	if err != nil {
		return tools.Result{Output: out, Error: err.Error()}
	}
	return tools.Result{Output: out}
}

// run executes command through the shell and returns combined output,
// truncated to maxBytes.
func (t *Tool) run(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.shell, "-c", command)
	cmd.Dir = t.dir
	// background children may hold the output pipe open after a kill
	cmd.WaitDelay = time.Second

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := truncate(buf.String(), t.maxBytes)

	if ctx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("timed out: bash did not return in %s", t.timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, fmt.Errorf("exit status %d", exitErr.ExitCode())
	}
	if err != nil {
		return out, fmt.Errorf("run %q: %w", command, err)
	}
	return out, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n... (truncated, %d bytes total)", len(s))
}
