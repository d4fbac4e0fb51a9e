package msg

import (
	"encoding/json"
	"fmt"
)

// Wire envelopes. Every union value serializes with a "type" discriminator and
// camelCase field names; readers tolerate unknown fields.

type blockEnvelope struct {
	Type string `json:"type"`

	Text          string `json:"text,omitempty"`
	TextSignature string `json:"textSignature,omitempty"`

	Thinking          string `json:"thinking,omitempty"`
	ThinkingSignature string `json:"thinkingSignature,omitempty"`

	ID               string          `json:"id,omitempty"`
	Name             string          `json:"name,omitempty"`
	Arguments        json.RawMessage `json:"arguments,omitempty"`
	ThoughtSignature string          `json:"thoughtSignature,omitempty"`

	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// MarshalContentBlock serializes one block with its discriminator.
func MarshalContentBlock(block ContentBlock) ([]byte, error) {
	switch b := block.(type) {
	case TextContent:
		return json.Marshal(struct {
			Type string `json:"type"`
			TextContent
		}{"text", b})
	case ThinkingContent:
		return json.Marshal(struct {
			Type string `json:"type"`
			ThinkingContent
		}{"thinking", b})
	case ToolCall:
		return json.Marshal(struct {
			Type string `json:"type"`
			ToolCall
		}{"toolCall", b})
	case ImageContent:
		return json.Marshal(struct {
			Type string `json:"type"`
			ImageContent
		}{"image", b})
	default:
		return nil, fmt.Errorf("unknown content block type %T", block)
	}
}

// UnmarshalContentBlock parses one block by its discriminator.
func UnmarshalContentBlock(data []byte) (ContentBlock, error) {
	var env blockEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case "text":
		return TextContent{Text: env.Text, TextSignature: env.TextSignature}, nil
	case "thinking":
		return ThinkingContent{Thinking: env.Thinking, ThinkingSignature: env.ThinkingSignature}, nil
	case "toolCall":
		var args any
		if len(env.Arguments) > 0 {
			if err := json.Unmarshal(env.Arguments, &args); err != nil {
				return nil, fmt.Errorf("tool call arguments: %w", err)
			}
		}
		return ToolCall{ID: env.ID, Name: env.Name, Arguments: args, ThoughtSignature: env.ThoughtSignature}, nil
	case "image":
		return ImageContent{Data: env.Data, MimeType: env.MimeType}, nil
	default:
		return nil, fmt.Errorf("unknown content block type %q", env.Type)
	}
}

type contentBlockList []ContentBlock

func (l contentBlockList) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(l))
	for _, block := range l {
		raw, err := MarshalContentBlock(block)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

func (l *contentBlockList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	blocks := make([]ContentBlock, 0, len(raws))
	for _, raw := range raws {
		block, err := UnmarshalContentBlock(raw)
		if err != nil {
			return err
		}
		blocks = append(blocks, block)
	}
	*l = blocks
	return nil
}

type userWire struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	Timestamp int64           `json:"timestamp"`
}

type assistantWire struct {
	Type         string           `json:"type"`
	Content      contentBlockList `json:"content"`
	API          string           `json:"api"`
	Provider     string           `json:"provider"`
	Model        string           `json:"model"`
	Usage        Usage            `json:"usage"`
	StopReason   StopReason       `json:"stopReason"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	Timestamp    int64            `json:"timestamp"`
}

type toolResultWire struct {
	Type       string           `json:"type"`
	ToolCallID string           `json:"toolCallId"`
	ToolName   string           `json:"toolName"`
	Content    contentBlockList `json:"content"`
	Details    any              `json:"details,omitempty"`
	IsError    bool             `json:"isError"`
	Timestamp  int64            `json:"timestamp"`
}

// MarshalMessage serializes any message with its role discriminator.
func MarshalMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case *UserMessage:
		var content json.RawMessage
		var err error
		if v.Content.IsText() {
			content, err = json.Marshal(v.Content.Text)
		} else {
			content, err = contentBlockList(v.Content.Blocks).MarshalJSON()
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(userWire{Type: "user", Content: content, Timestamp: v.Time})
	case *AssistantMessage:
		return json.Marshal(assistantWire{
			Type:         "assistant",
			Content:      contentBlockList(v.Content),
			API:          v.API,
			Provider:     v.Provider,
			Model:        v.ModelID,
			Usage:        v.Usage,
			StopReason:   v.StopReason,
			ErrorMessage: v.ErrorMessage,
			Timestamp:    v.Time,
		})
	case *ToolResultMessage:
		return json.Marshal(toolResultWire{
			Type:       "toolResult",
			ToolCallID: v.ToolCallID,
			ToolName:   v.ToolName,
			Content:    contentBlockList(v.Content),
			Details:    v.Details,
			IsError:    v.IsError,
			Timestamp:  v.Time,
		})
	default:
		return nil, fmt.Errorf("unknown message type %T", m)
	}
}

// UnmarshalMessage parses any message by its role discriminator.
func UnmarshalMessage(data []byte) (Message, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	switch probe.Type {
	case "user":
		var wire userWire
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		m := &UserMessage{Time: wire.Timestamp}
		// Content is either a JSON string or a block array.
		var text string
		if err := json.Unmarshal(wire.Content, &text); err == nil {
			m.Content = UserContent{Text: text}
			return m, nil
		}
		var blocks contentBlockList
		if err := blocks.UnmarshalJSON(wire.Content); err != nil {
			return nil, fmt.Errorf("user content: %w", err)
		}
		m.Content = UserContent{Blocks: blocks}
		return m, nil
	case "assistant":
		var wire assistantWire
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		return &AssistantMessage{
			Content:      wire.Content,
			API:          wire.API,
			Provider:     wire.Provider,
			ModelID:      wire.Model,
			Usage:        wire.Usage,
			StopReason:   wire.StopReason,
			ErrorMessage: wire.ErrorMessage,
			Time:         wire.Timestamp,
		}, nil
	case "toolResult":
		var wire toolResultWire
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		return &ToolResultMessage{
			ToolCallID: wire.ToolCallID,
			ToolName:   wire.ToolName,
			Content:    wire.Content,
			Details:    wire.Details,
			IsError:    wire.IsError,
			Time:       wire.Timestamp,
		}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", probe.Type)
	}
}
