// Package msg defines the provider-agnostic message model shared by the
// stream pipeline, the transform layer, the session log, and the agent loop.
package msg

import (
	"time"
)

// StopReason describes why an assistant stream ended.
type StopReason string

const (
	StopReasonStop      StopReason = "stop"
	StopReasonToolUse   StopReason = "toolUse"
	StopReasonMaxTokens StopReason = "maxTokens"
	StopReasonError     StopReason = "error"
	StopReasonAborted   StopReason = "aborted"
)

// ContentBlock is one element of a message's content list.
// Concrete types: TextContent, ThinkingContent, ToolCall, ImageContent.
type ContentBlock interface {
	blockType() string
}

// TextContent is plain assistant or user text.
type TextContent struct {
	Text string `json:"text"`
	// TextSignature is an opaque provider token proving provenance.
	// Stripped when the message is replayed to a different model.
	TextSignature string `json:"textSignature,omitempty"`
}

// ThinkingContent is a reasoning block. It only survives round-trips to the
// exact (provider, api, model) that produced it.
type ThinkingContent struct {
	Thinking          string `json:"thinking"`
	ThinkingSignature string `json:"thinkingSignature,omitempty"`
}

// ToolCall is a tool invocation requested by the assistant.
// IDs are unique within one assistant message.
type ToolCall struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Arguments        any    `json:"arguments"`
	ThoughtSignature string `json:"thoughtSignature,omitempty"`
}

// ImageContent carries base64 image data.
type ImageContent struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

func (TextContent) blockType() string     { return "text" }
func (ThinkingContent) blockType() string { return "thinking" }
func (ToolCall) blockType() string        { return "toolCall" }
func (ImageContent) blockType() string    { return "image" }

// Message is the tagged union of conversation messages.
// Concrete types: *UserMessage, *AssistantMessage, *ToolResultMessage.
type Message interface {
	Role() string
	Timestamp() int64
}

// UserContent is either plain text or a list of content blocks.
type UserContent struct {
	Text   string
	Blocks []ContentBlock
}

// IsText reports whether the content is the plain-text form.
func (c UserContent) IsText() bool { return c.Blocks == nil }

// UserMessage is a prompt from the user.
type UserMessage struct {
	Content   UserContent
	Time      int64 // milliseconds
}

// AssistantMessage is one assistant turn.
type AssistantMessage struct {
	Content      []ContentBlock
	API          string
	Provider     string
	ModelID      string
	Usage        Usage
	StopReason   StopReason
	ErrorMessage string
	Time         int64
}

// ToolResultMessage is the result of one tool call.
type ToolResultMessage struct {
	ToolCallID string
	ToolName   string
	Content    []ContentBlock
	Details    any
	IsError    bool
	Time       int64
}

func (*UserMessage) Role() string       { return "user" }
func (*AssistantMessage) Role() string  { return "assistant" }
func (*ToolResultMessage) Role() string { return "toolResult" }

func (m *UserMessage) Timestamp() int64       { return m.Time }
func (m *AssistantMessage) Timestamp() int64  { return m.Time }
func (m *ToolResultMessage) Timestamp() int64 { return m.Time }

// NewUserText builds a user message from plain text, stamped now.
func NewUserText(text string) *UserMessage {
	return &UserMessage{Content: UserContent{Text: text}, Time: NowMillis()}
}

// NewUserBlocks builds a user message from content blocks, stamped now.
func NewUserBlocks(blocks []ContentBlock) *UserMessage {
	return &UserMessage{Content: UserContent{Blocks: blocks}, Time: NowMillis()}
}

// EmptyAssistant constructs a zeroed assistant message tagged with the model.
// The stream pipeline mutates it as events arrive.
func EmptyAssistant(model Model) *AssistantMessage {
	return &AssistantMessage{
		Content:    []ContentBlock{},
		API:        model.API,
		Provider:   model.Provider,
		ModelID:    model.ID,
		StopReason: StopReasonStop,
		Time:       NowMillis(),
	}
}

// ToolCalls returns the tool-call blocks in content order.
func (m *AssistantMessage) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, block := range m.Content {
		if tc, ok := block.(ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// Clone returns a deep-enough copy for snapshot delivery: the content slice is
// copied, block values are immutable-by-convention once emitted.
func (m *AssistantMessage) Clone() *AssistantMessage {
	cp := *m
	cp.Content = append([]ContentBlock(nil), m.Content...)
	return &cp
}

// TextBlock returns the concatenated text of all text blocks.
func (m *AssistantMessage) TextBlock() string {
	var out string
	for _, block := range m.Content {
		if t, ok := block.(TextContent); ok {
			out += t.Text
		}
	}
	return out
}

// NowMillis returns the current wall clock in milliseconds.
func NowMillis() int64 { return time.Now().UnixMilli() }

// Usage holds token accounting returned by providers.
type Usage struct {
	Input       int64     `json:"input"`
	Output      int64     `json:"output"`
	CacheRead   int64     `json:"cacheRead"`
	CacheWrite  int64     `json:"cacheWrite"`
	TotalTokens int64     `json:"totalTokens"`
	Cost        UsageCost `json:"cost"`
}

// UsageCost is dollar cost per counter, computed from the model's rates.
type UsageCost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
	Total      float64 `json:"total"`
}
