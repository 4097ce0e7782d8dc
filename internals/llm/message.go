package llm

import (
	"encoding/json"
	"slices"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlock is one of *TextBlock, *ToolUseBlock, *ToolResultBlock,
// *ImageBlock or *UnknownBlock.
type ContentBlock interface {
	BlockType() string
	isBlock()
}

type TextBlock struct {
	Text string
}

type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultBlock answers the ToolUseBlock with the same ID. Content holds
// only *TextBlock and *ImageBlock values.
type ToolResultBlock struct {
	ToolUseID string
	Content   []ContentBlock
	IsError   bool
}

type ImageBlock struct {
	MediaType string // e.g. "image/png"
	Data      []byte
}

// UnknownBlock carries a response block the transport could not map. It never
// appears in a conversation; the loop rejects it.
type UnknownBlock struct {
	Type string
	Raw  json.RawMessage
}

func (*TextBlock) BlockType() string       { return "text" }
func (*ToolUseBlock) BlockType() string    { return "tool_use" }
func (*ToolResultBlock) BlockType() string { return "tool_result" }
func (*ImageBlock) BlockType() string      { return "image" }
func (b *UnknownBlock) BlockType() string  { return b.Type }

func (*TextBlock) isBlock()       {}
func (*ToolUseBlock) isBlock()    {}
func (*ToolResultBlock) isBlock() {}
func (*ImageBlock) isBlock()      {}
func (*UnknownBlock) isBlock()    {}

func NewTextBlock(text string) *TextBlock { return &TextBlock{Text: text} }

func NewToolUseBlock(id, name string, input json.RawMessage) *ToolUseBlock {
	return &ToolUseBlock{ID: id, Name: name, Input: input}
}

func NewImageBlock(mediaType string, data []byte) *ImageBlock {
	return &ImageBlock{MediaType: mediaType, Data: data}
}

type Message struct {
	Role    Role
	Content []ContentBlock
}

func NewUserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{NewTextBlock(text)}}
}

// ToolUses returns the tool-use blocks of m in order.
func (m Message) ToolUses() []*ToolUseBlock {
	var out []*ToolUseBlock
	for _, b := range m.Content {
		if tu, ok := b.(*ToolUseBlock); ok {
			out = append(out, tu)
		}
	}
	return out
}

// Text joins the text blocks of m with newlines.
func (m Message) Text() string {
	var s string
	for _, b := range m.Content {
		if tb, ok := b.(*TextBlock); ok {
			if s != "" {
				s += "\n"
			}
			s += tb.Text
		}
	}
	return s
}

type Conversation []Message

// Clone copies the message and block slices so that pruning the copy leaves
// the original untouched. Block payloads (text, image bytes) are shared.
func (c Conversation) Clone() Conversation {
	out := make(Conversation, len(c))
	for i, m := range c {
		content := make([]ContentBlock, len(m.Content))
		for j, b := range m.Content {
			if tr, ok := b.(*ToolResultBlock); ok {
				cp := *tr
				cp.Content = slices.Clone(tr.Content)
				b = &cp
			}
			content[j] = b
		}
		out[i] = Message{Role: m.Role, Content: content}
	}
	return out
}

// Compact returns c without assistant messages that have no content. The API
// rejects such a message anywhere but at the end, so a stored conversation is
// compacted before it is continued.
func (c Conversation) Compact() Conversation {
	out := make(Conversation, 0, len(c))
	for _, m := range c {
		if m.Role == RoleAssistant && len(m.Content) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Last returns the final message and false when c is empty.
func (c Conversation) Last() (Message, bool) {
	if len(c) == 0 {
		return Message{}, false
	}
	return c[len(c)-1], true
}

// DisplayConfig marks a declaration as the provider's native computer-use tool.
type DisplayConfig struct {
	WidthPx  int
	HeightPx int
	Number   int
}

type ToolDeclaration struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Display     *DisplayConfig
}

type Request struct {
	Model     string
	System    string
	MaxTokens int64
	Messages  Conversation
	Tools     []ToolDeclaration
}

type Response struct {
	ID         string
	Model      string
	StopReason string
	Content    []ContentBlock
	Usage      Usage
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}
