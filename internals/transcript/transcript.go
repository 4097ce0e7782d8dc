package transcript

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jadenj13/deskdroid/internals/llm"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Document is the on-disk form of a conversation. Images are base64 encoded.
type Document struct {
	RunID     string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Model     string    `json:"model,omitempty" yaml:"model,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Messages  []Message `json:"messages" yaml:"messages"`
}

type Message struct {
	Role    string  `json:"role" yaml:"role"`
	Content []Block `json:"content" yaml:"content"`
}

type Block struct {
	Type      string  `json:"type" yaml:"type"`
	Text      string  `json:"text,omitempty" yaml:"text,omitempty"`
	ID        string  `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string  `json:"name,omitempty" yaml:"name,omitempty"`
	Input     any     `json:"input,omitempty" yaml:"input,omitempty"`
	ToolUseID string  `json:"tool_use_id,omitempty" yaml:"tool_use_id,omitempty"`
	IsError   bool    `json:"is_error,omitempty" yaml:"is_error,omitempty"`
	Content   []Block `json:"content,omitempty" yaml:"content,omitempty"`
	MediaType string  `json:"media_type,omitempty" yaml:"media_type,omitempty"`
	Data      string  `json:"data,omitempty" yaml:"data,omitempty"`
}

func FromConversation(conv llm.Conversation) (*Document, error) {
	doc := &Document{CreatedAt: time.Now().UTC(), Messages: make([]Message, 0, len(conv))}
	for i, m := range conv {
		blocks, err := fromBlocks(m.Content)
		if err != nil {
			return nil, fmt.Errorf("message[%d]: %w", i, err)
		}
		doc.Messages = append(doc.Messages, Message{Role: string(m.Role), Content: blocks})
	}
	return doc, nil
}

func fromBlocks(in []llm.ContentBlock) ([]Block, error) {
	out := make([]Block, 0, len(in))
	for _, b := range in {
		switch b := b.(type) {
		case *llm.TextBlock:
			out = append(out, Block{Type: "text", Text: b.Text})
		case *llm.ToolUseBlock:
			var input any
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &input); err != nil {
					return nil, fmt.Errorf("tool_use %s: %w", b.ID, err)
				}
			}
			out = append(out, Block{Type: "tool_use", ID: b.ID, Name: b.Name, Input: input})
		case *llm.ToolResultBlock:
			content, err := fromBlocks(b.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, Block{Type: "tool_result", ToolUseID: b.ToolUseID, IsError: b.IsError, Content: content})
		case *llm.ImageBlock:
			out = append(out, Block{Type: "image", MediaType: b.MediaType, Data: base64.StdEncoding.EncodeToString(b.Data)})
		default:
			return nil, fmt.Errorf("cannot record %q block", b.BlockType())
		}
	}
	return out, nil
}

// Conversation rebuilds the conversation, e.g. to resume a run.
func (d *Document) Conversation() (llm.Conversation, error) {
	conv := make(llm.Conversation, 0, len(d.Messages))
	for i, m := range d.Messages {
		role := llm.Role(m.Role)
		if role != llm.RoleUser && role != llm.RoleAssistant {
			return nil, fmt.Errorf("message[%d]: unknown role %q", i, m.Role)
		}
		blocks, err := toBlocks(m.Content)
		if err != nil {
			return nil, fmt.Errorf("message[%d]: %w", i, err)
		}
		conv = append(conv, llm.Message{Role: role, Content: blocks})
	}
	return conv, nil
}

func toBlocks(in []Block) ([]llm.ContentBlock, error) {
	out := make([]llm.ContentBlock, 0, len(in))
	for _, b := range in {
		switch b.Type {
		case "text":
			out = append(out, llm.NewTextBlock(b.Text))
		case "tool_use":
			input, err := json.Marshal(normalize(b.Input))
			if err != nil {
				return nil, fmt.Errorf("tool_use %s: %w", b.ID, err)
			}
			if b.Input == nil {
				input = nil
			}
			out = append(out, llm.NewToolUseBlock(b.ID, b.Name, input))
		case "tool_result":
			content, err := toBlocks(b.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, &llm.ToolResultBlock{ToolUseID: b.ToolUseID, IsError: b.IsError, Content: content})
		case "image":
			data, err := base64.StdEncoding.DecodeString(b.Data)
			if err != nil {
				return nil, fmt.Errorf("image: %w", err)
			}
			out = append(out, llm.NewImageBlock(b.MediaType, data))
		default:
			return nil, fmt.Errorf("unknown block type %q", b.Type)
		}
	}
	return out, nil
}

// normalize turns yaml.v3's map[string]interface{} trees into values
// encoding/json accepts.
func normalize(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

func Encode(w io.Writer, doc *Document, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown transcript format %q", format)
	}
}

func Decode(r io.Reader, format string) (*Document, error) {
	var doc Document
	switch format {
	case FormatJSON, "":
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode json transcript: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode yaml transcript: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown transcript format %q", format)
	}
	return &doc, nil
}

// FormatOf guesses the format from a file extension.
func FormatOf(path string) string {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Save writes doc to dir as conversation_<timestamp>.<format> and returns the
// path.
func Save(dir string, doc *Document, format string, now time.Time) (string, error) {
	if format == "" {
		format = FormatJSON
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("conversation_%s.%s", now.Format("20060102_150405"), format))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create transcript: %w", err)
	}
	if err := Encode(f, doc, format); err != nil {
		f.Close()
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close transcript: %w", err)
	}
	return path, nil
}

// Load reads a transcript file written by Save.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return Decode(f, FormatOf(path))
}
