package llm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

func toBetaMessages(conv Conversation) ([]anthropic.BetaMessageParam, error) {
	if len(conv) == 0 {
		return nil, fmt.Errorf("messages cannot be empty")
	}

	out := make([]anthropic.BetaMessageParam, 0, len(conv))
	for i, m := range conv {
		var content []anthropic.BetaContentBlockParamUnion
		for j, b := range m.Content {
			p, err := toBetaBlock(b)
			if err != nil {
				return nil, fmt.Errorf("message[%d] block[%d]: %w", i, j, err)
			}
			content = append(content, p)
		}

		var role anthropic.BetaMessageParamRole
		switch m.Role {
		case RoleUser:
			role = anthropic.BetaMessageParamRoleUser
		case RoleAssistant:
			role = anthropic.BetaMessageParamRoleAssistant
		default:
			return nil, fmt.Errorf("message[%d]: unknown role %q", i, m.Role)
		}
		out = append(out, anthropic.BetaMessageParam{Role: role, Content: content})
	}
	return out, nil
}

func toBetaBlock(b ContentBlock) (anthropic.BetaContentBlockParamUnion, error) {
	switch b := b.(type) {
	case *TextBlock:
		return anthropic.NewBetaTextBlock(b.Text), nil
	case *ToolUseBlock:
		var input any = map[string]any{}
		if len(b.Input) > 0 {
			if err := json.Unmarshal(b.Input, &input); err != nil {
				return anthropic.BetaContentBlockParamUnion{}, fmt.Errorf("invalid tool call input: %w", err)
			}
		}
		return anthropic.NewBetaToolUseBlock(b.ID, input, b.Name), nil
	case *ImageBlock:
		img, err := toBetaImage(b)
		if err != nil {
			return anthropic.BetaContentBlockParamUnion{}, err
		}
		return anthropic.BetaContentBlockParamUnion{OfImage: img}, nil
	case *ToolResultBlock:
		tb := anthropic.BetaToolResultBlockParam{ToolUseID: b.ToolUseID}
		if b.IsError {
			tb.IsError = anthropic.Bool(true)
		}
		var content []anthropic.BetaToolResultBlockParamContentUnion
		for _, c := range b.Content {
			switch c := c.(type) {
			case *TextBlock:
				content = append(content, anthropic.BetaToolResultBlockParamContentUnion{
					OfText: &anthropic.BetaTextBlockParam{Text: c.Text},
				})
			case *ImageBlock:
				img, err := toBetaImage(c)
				if err != nil {
					return anthropic.BetaContentBlockParamUnion{}, err
				}
				content = append(content, anthropic.BetaToolResultBlockParamContentUnion{OfImage: img})
			default:
				return anthropic.BetaContentBlockParamUnion{}, fmt.Errorf("tool result cannot carry %q block", c.BlockType())
			}
		}
		if len(content) > 0 {
			tb.Content = content
		}
		return anthropic.BetaContentBlockParamUnion{OfToolResult: &tb}, nil
	default:
		return anthropic.BetaContentBlockParamUnion{}, fmt.Errorf("cannot send %q block", b.BlockType())
	}
}

func toBetaImage(b *ImageBlock) (*anthropic.BetaImageBlockParam, error) {
	mt, ok := betaMediaType(b.MediaType)
	if !ok {
		return nil, fmt.Errorf("unsupported image media type %q", b.MediaType)
	}
	return &anthropic.BetaImageBlockParam{
		Source: anthropic.BetaImageBlockParamSourceUnion{
			OfBase64: &anthropic.BetaBase64ImageSourceParam{
				Data:      base64.StdEncoding.EncodeToString(b.Data),
				MediaType: mt,
			},
		},
	}, nil
}

func betaMediaType(mediaType string) (anthropic.BetaBase64ImageSourceMediaType, bool) {
	switch strings.ToLower(mediaType) {
	case "image/jpeg", "image/jpg":
		return anthropic.BetaBase64ImageSourceMediaTypeImageJPEG, true
	case "", "image/png":
		return anthropic.BetaBase64ImageSourceMediaTypeImagePNG, true
	case "image/gif":
		return anthropic.BetaBase64ImageSourceMediaTypeImageGIF, true
	case "image/webp":
		return anthropic.BetaBase64ImageSourceMediaTypeImageWebP, true
	default:
		return "", false
	}
}

func toBetaTools(decls []ToolDeclaration) ([]anthropic.BetaToolUnionParam, error) {
	var out []anthropic.BetaToolUnionParam
	for _, d := range decls {
		if d.Display != nil && d.Display.WidthPx > 0 && d.Display.HeightPx > 0 {
			p := anthropic.BetaToolUnionParamOfComputerUseTool20250124(int64(d.Display.HeightPx), int64(d.Display.WidthPx))
			if p.OfComputerUseTool20250124 != nil && d.Display.Number > 0 {
				p.OfComputerUseTool20250124.DisplayNumber = anthropic.Int(int64(d.Display.Number))
			}
			out = append(out, p)
			continue
		}

		var schema anthropic.BetaToolInputSchemaParam
		if len(d.InputSchema) > 0 {
			if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", d.Name, err)
			}
		}
		p := anthropic.BetaToolUnionParamOfTool(schema, d.Name)
		if p.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", d.Name)
		}
		if d.Description != "" {
			p.OfTool.Description = anthropic.String(d.Description)
		}
		out = append(out, p)
	}
	return out, nil
}

func fromBetaMessage(msg *anthropic.BetaMessage) (*Response, error) {
	resp := &Response{
		ID:         msg.ID,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			resp.Content = append(resp.Content, NewTextBlock(b.Text))
		case "tool_use":
			input, err := json.Marshal(b.Input)
			if err != nil {
				return nil, fmt.Errorf("tool_use %s: encode input: %w", b.ID, err)
			}
			resp.Content = append(resp.Content, NewToolUseBlock(b.ID, b.Name, input))
		default:
			resp.Content = append(resp.Content, &UnknownBlock{Type: b.Type, Raw: json.RawMessage(b.RawJSON())})
		}
	}
	return resp, nil
}
