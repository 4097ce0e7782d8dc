package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jadenj13/deskdroid/internals/config"
	"github.com/jadenj13/deskdroid/internals/llm"
	"github.com/jadenj13/deskdroid/internals/tools"
	"github.com/jadenj13/deskdroid/internals/transcript"
)

func init() {
	log = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRendererPrintsBlocksAndResults(t *testing.T) {
	var buf bytes.Buffer
	r := &renderer{out: &buf}
	cb := r.callbacks()

	cb.Output(llm.NewTextBlock("Let me check."))
	cb.Output(llm.NewToolUseBlock("t1", "bash", []byte(`{"command":"ls"}`)))
	cb.ToolOutput(tools.Result{Output: "a\nb\n"}, "t1")
	cb.ToolOutput(tools.Result{Image: []byte{1, 2, 3}}, "t2")
	cb.ToolOutput(tools.Errorf("exit status 2"), "t3")

	want := "assistant: Let me check.\n" +
		"  > bash {\"command\":\"ls\"}\n" +
		"  < a\n    b\n" +
		"  < [screenshot, 3 bytes]\n" +
		"  ! exit status 2\n"
	if got := buf.String(); got != want {
		t.Errorf("output:\n%s\nwant:\n%s", got, want)
	}
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&llm.RateLimitedError{
			TransportError: llm.TransportError{Op: "messages.new", StatusCode: 429, Err: errors.New("x")},
			RetryAfter:     20 * time.Second,
		}, "retry after 20s"},
		{&llm.TransportError{Op: "messages.new", StatusCode: 401, Err: errors.New("bad key")}, "status 401: bad key"},
		{&llm.ProtocolError{BlockType: "thinking"}, "unsupported response"},
		{errors.New("plain"), "plain"},
	}
	for _, tt := range tests {
		if got := describeError(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("describeError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestClip(t *testing.T) {
	long := strings.Repeat("x", maxShown+10)
	if got := clip(long); !strings.HasSuffix(got, "(10 more bytes)") {
		t.Errorf("clip = %q", got[len(got)-30:])
	}
	if clip("short") != "short" {
		t.Error("short string changed")
	}

	split := strings.Repeat("x", maxShown-1) + "\u00e9yy"
	got := clip(split)
	if !utf8.ValidString(got) {
		t.Errorf("clip split a rune: %q", got[len(got)-30:])
	}
	if !strings.HasPrefix(got, strings.Repeat("x", maxShown-1)+"...") || !strings.HasSuffix(got, "(4 more bytes)") {
		t.Errorf("clip = %q", got[len(got)-30:])
	}
}

func TestInitialConversation(t *testing.T) {
	t.Cleanup(func() { runOpts.resumeFrom = "" })

	conv, prompt, err := initialConversation([]string{"open", "firefox"}, config.Preset{Prompt: "ignored"})
	if err != nil || prompt != "open firefox" || len(conv) != 1 {
		t.Fatalf("conv=%v prompt=%q err=%v", conv, prompt, err)
	}

	conv, prompt, err = initialConversation(nil, config.Preset{Prompt: "take a screenshot"})
	if err != nil || prompt != "take a screenshot" || conv[0].Text() != "take a screenshot" {
		t.Fatalf("preset prompt: conv=%v prompt=%q err=%v", conv, prompt, err)
	}

	if _, _, err := initialConversation(nil, config.Preset{}); err == nil {
		t.Error("expected missing prompt error")
	}

	saved := llm.Conversation{
		llm.NewUserText("first"),
		{Role: llm.RoleAssistant, Content: []llm.ContentBlock{llm.NewTextBlock("ok")}},
	}
	doc, _ := transcript.FromConversation(saved)
	path, err := transcript.Save(t.TempDir(), doc, transcript.FormatJSON, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	runOpts.resumeFrom = path
	conv, _, err = initialConversation([]string{"and then?"}, config.Preset{Prompt: "ignored"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(conv) != 3 || conv[2].Text() != "and then?" {
		t.Errorf("resumed conv = %+v", conv)
	}
}

func TestConfigInitAndVersionCommands(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "deskdroid.yaml")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "init", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	rootCmd.SetArgs([]string{"config", "init", path})
	if err := rootCmd.Execute(); err == nil {
		t.Error("expected refusal to overwrite")
	}

	out.Reset()
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "deskdroid dev") {
		t.Errorf("version output = %q", out.String())
	}

	out.Reset()
	rootCmd.SetArgs([]string{"tools"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("tools: %v", err)
	}
	for _, name := range []string{"computer", "bash", "str_replace_editor"} {
		if !strings.Contains(out.String(), name) {
			t.Errorf("tools output missing %s: %q", name, out.String())
		}
	}
}

func TestResumeDropsEmptyAssistantMessages(t *testing.T) {
	t.Cleanup(func() { runOpts.resumeFrom = "" })

	saved := llm.Conversation{
		llm.NewUserText("first"),
		{Role: llm.RoleAssistant},
	}
	doc, _ := transcript.FromConversation(saved)
	path, err := transcript.Save(t.TempDir(), doc, transcript.FormatYAML, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	runOpts.resumeFrom = path

	conv, _, err := initialConversation([]string{"second"}, config.Preset{})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(conv) != 2 || conv[0].Text() != "first" || conv[1].Text() != "second" {
		t.Errorf("resumed conv = %+v", conv)
	}
}
