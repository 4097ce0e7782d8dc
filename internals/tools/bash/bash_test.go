package bash

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExecuteEcho(t *testing.T) {
	tool := New()
	res := tool.Execute(context.Background(), json.RawMessage(`{"command":"echo hello"}`))
	if res.IsError() {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if strings.TrimSpace(res.Output) != "hello" {
		t.Errorf("output = %q", res.Output)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	tool := New()
	res := tool.Execute(context.Background(), json.RawMessage(`{"command":"echo oops >&2; exit 3"}`))
	if res.Error != "exit status 3" {
		t.Errorf("error = %q", res.Error)
	}
	if !strings.Contains(res.Output, "oops") {
		t.Errorf("stderr should be captured, got %q", res.Output)
	}
}

func TestExecuteUsesDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	res := New(WithDir(dir)).Execute(context.Background(), json.RawMessage(`{"command":"ls"}`))
	if !strings.Contains(res.Output, "marker.txt") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestExecuteTimeout(t *testing.T) {
	tool := New(WithTimeout(50 * time.Millisecond))
	res := tool.Execute(context.Background(), json.RawMessage(`{"command":"sleep 5"}`))
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestExecuteTruncates(t *testing.T) {
	tool := New(WithMaxBytes(10))
	res := tool.Execute(context.Background(), json.RawMessage(`{"command":"printf '%0100d' 0"}`))
	if !strings.Contains(res.Output, "truncated, 100 bytes total") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestExecuteBadInput(t *testing.T) {
	tool := New()
	for _, in := range []string{`{}`, `{"command":""}`, `not json`} {
		if res := tool.Execute(context.Background(), json.RawMessage(in)); !res.IsError() {
			t.Errorf("input %s: expected error", in)
		}
	}
	if res := tool.Execute(context.Background(), json.RawMessage(`{"restart":true}`)); res.IsError() {
		t.Errorf("restart: %s", res.Error)
	}
}
