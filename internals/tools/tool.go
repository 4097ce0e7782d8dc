package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jadenj13/deskdroid/internals/llm"
)

// Tool is a named capability the model may invoke. Execute reports failures
// through Result.Error; it does not return Go errors.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage) Result
}

// DisplayTool is implemented by tools that should be declared as the
// provider's native computer-use tool.
type DisplayTool interface {
	Display() *llm.DisplayConfig
}

// Result is the outcome of one tool invocation. A non-empty Error marks the
// invocation as failed.
type Result struct {
	Output         string `json:"output,omitempty"`
	Error          string `json:"error,omitempty"`
	Image          []byte `json:"image,omitempty"`
	ImageMediaType string `json:"image_media_type,omitempty"`
}

func (r Result) IsError() bool { return r.Error != "" }

func Errorf(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Block converts r into the tool-result block answering toolUseID. A failed
// result carries only its error text, marked is_error; its Output and Image
// are dropped so an error never travels with a success screenshot.
func (r Result) Block(toolUseID string) *llm.ToolResultBlock {
	b := &llm.ToolResultBlock{ToolUseID: toolUseID}
	if r.IsError() {
		b.IsError = true
		b.Content = []llm.ContentBlock{llm.NewTextBlock(r.Error)}
		return b
	}
	if r.Output != "" {
		b.Content = append(b.Content, llm.NewTextBlock(r.Output))
	}
	if len(r.Image) > 0 {
		mt := r.ImageMediaType
		if mt == "" {
			mt = "image/png"
		}
		b.Content = append(b.Content, llm.NewImageBlock(mt, r.Image))
	}
	return b
}
