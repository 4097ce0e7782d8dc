package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jadenj13/deskdroid/internals/llm"
	"github.com/jadenj13/deskdroid/internals/loop"
	"github.com/jadenj13/deskdroid/internals/tools"
)

const maxShown = 2000

// renderer prints a run as it happens.
type renderer struct {
	mu  sync.Mutex
	out io.Writer
}

func (r *renderer) callbacks() loop.Callbacks {
	return loop.Callbacks{
		Output:     r.block,
		ToolOutput: r.toolResult,
		APIEvent:   r.apiEvent,
	}
}

func (r *renderer) block(b llm.ContentBlock) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch b := b.(type) {
	case *llm.TextBlock:
		fmt.Fprintf(r.out, "assistant: %s\n", b.Text)
	case *llm.ToolUseBlock:
		fmt.Fprintf(r.out, "  > %s %s\n", b.Name, b.Input)
	}
}

func (r *renderer) toolResult(res tools.Result, toolUseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.IsError() {
		fmt.Fprintf(r.out, "  ! %s\n", clip(res.Error))
		return
	}
	if res.Output != "" {
		fmt.Fprintf(r.out, "  < %s\n", indent(clip(res.Output)))
	}
	if len(res.Image) > 0 {
		fmt.Fprintf(r.out, "  < [screenshot, %d bytes]\n", len(res.Image))
	}
}

func (r *renderer) apiEvent(req *llm.Request, resp *llm.Response, err error) {
	if err != nil {
		log.Debug("inference failed", "messages", len(req.Messages), "err", err)
		return
	}
	log.Debug("inference",
		"messages", len(req.Messages),
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
}

// describeError turns a run failure into a line for the terminal.
func describeError(err error) string {
	if after, ok := llm.IsRateLimited(err); ok {
		if after > 0 {
			return fmt.Sprintf("rate limited by the API; retry after %s", after)
		}
		return "rate limited by the API; retry later"
	}
	var pe *llm.ProtocolError
	if errors.As(err, &pe) {
		return "the model returned an unsupported response: " + pe.Error()
	}
	var te *llm.TransportError
	if errors.As(err, &te) {
		if te.StatusCode != 0 {
			return fmt.Sprintf("API request failed with status %d: %v", te.StatusCode, te.Err)
		}
		return fmt.Sprintf("API request failed: %v", te.Err)
	}
	return err.Error()
}

func clip(s string) string {
	if len(s) <= maxShown {
		return s
	}
	n := maxShown
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + fmt.Sprintf("... (%d more bytes)", len(s)-n)
}

func indent(s string) string {
	return strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n    ")
}
