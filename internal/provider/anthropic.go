package provider

import (
	"context"
	"encoding/json"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/gq3171/piagent/internal/msg"
	"github.com/gq3171/piagent/internal/stream"
	"github.com/gq3171/piagent/internal/tools"
)

// AnthropicProvider translates the anthropic-messages wire format into the
// uniform event stream.
type AnthropicProvider struct {
	logger *zap.Logger
}

// NewAnthropicProvider creates the anthropic-messages provider.
func NewAnthropicProvider(logger *zap.Logger) *AnthropicProvider {
	return &AnthropicProvider{logger: logger}
}

func (p *AnthropicProvider) API() string { return "anthropic-messages" }

// Stream starts the provider request and returns the live event stream.
func (p *AnthropicProvider) Stream(ctx context.Context, model msg.Model, req Request, opts StreamOptions) *stream.Stream {
	if opts.APIKey == "" {
		return errorStream(model, "no API key available for provider "+model.Provider)
	}

	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return errorStream(model, err.Error())
	}
	toolDefs := toAnthropicTools(req.Tools)

	s := stream.New()
	go p.run(ctx, s, model, req.SystemPrompt, messages, toolDefs, opts)
	return s
}

func (p *AnthropicProvider) run(ctx context.Context, s *stream.Stream, model msg.Model,
	systemPrompt string, messages []anthropic.Message, toolDefs []anthropic.ToolDefinition, opts StreamOptions) {

	partial := msg.EmptyAssistant(model)
	partialJSON := make(map[int]string)

	maxTokens, thinkingBudget, thinkingEnabled := opts.EffectiveMaxTokens(model)

	streamReq := anthropic.MessagesStreamRequest{
		MessagesRequest: anthropic.MessagesRequest{
			Model:     anthropic.Model(model.ID),
			Messages:  messages,
			MaxTokens: int(maxTokens),
		},
	}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		streamReq.Temperature = &t
	}
	if systemPrompt != "" {
		streamReq.MultiSystem = []anthropic.MessageSystemPart{{Type: "text", Text: systemPrompt}}
	}
	if len(toolDefs) > 0 {
		streamReq.Tools = toolDefs
	}
	if thinkingEnabled && thinkingBudget > 0 {
		streamReq.Thinking = &anthropic.Thinking{
			Type:         anthropic.ThinkingTypeEnabled,
			BudgetTokens: int(thinkingBudget),
		}
	}

	streamReq.OnMessageStart = func(data anthropic.MessagesEventMessageStartData) {
		partial.Usage.Input = int64(data.Message.Usage.InputTokens)
		s.Push(stream.Event{Type: stream.EventStart, Partial: partial.Clone()})
	}

	streamReq.OnContentBlockStart = func(data anthropic.MessagesEventContentBlockStartData) {
		index := data.Index
		for len(partial.Content) <= index {
			partial.Content = append(partial.Content, msg.TextContent{})
		}
		switch data.ContentBlock.Type {
		case "tool_use":
			var id, name string
			if data.ContentBlock.MessageContentToolUse != nil {
				id = data.ContentBlock.MessageContentToolUse.ID
				name = data.ContentBlock.MessageContentToolUse.Name
			}
			partial.Content[index] = msg.ToolCall{ID: id, Name: name, Arguments: map[string]any{}}
			partialJSON[index] = ""
			s.Push(stream.Event{Type: stream.EventToolCallStart, ContentIndex: index, Partial: partial.Clone()})
		case "thinking":
			partial.Content[index] = msg.ThinkingContent{}
			s.Push(stream.Event{Type: stream.EventThinkingStart, ContentIndex: index, Partial: partial.Clone()})
		default:
			partial.Content[index] = msg.TextContent{}
			s.Push(stream.Event{Type: stream.EventTextStart, ContentIndex: index, Partial: partial.Clone()})
		}
	}

	streamReq.OnContentBlockDelta = func(data anthropic.MessagesEventContentBlockDeltaData) {
		index := data.Index
		if index < 0 || index >= len(partial.Content) {
			return
		}
		switch data.Delta.Type {
		case "text_delta":
			if data.Delta.Text == nil {
				return
			}
			if t, ok := partial.Content[index].(msg.TextContent); ok {
				t.Text += *data.Delta.Text
				partial.Content[index] = t
			}
			s.Push(stream.Event{Type: stream.EventTextDelta, ContentIndex: index,
				Delta: *data.Delta.Text, Partial: partial.Clone()})
		case "thinking_delta":
			if data.Delta.Thinking == "" {
				return
			}
			if t, ok := partial.Content[index].(msg.ThinkingContent); ok {
				t.Thinking += data.Delta.Thinking
				partial.Content[index] = t
			}
			s.Push(stream.Event{Type: stream.EventThinkingDelta, ContentIndex: index,
				Delta: data.Delta.Thinking, Partial: partial.Clone()})
		case "signature_delta":
			if t, ok := partial.Content[index].(msg.ThinkingContent); ok {
				t.ThinkingSignature += data.Delta.Signature
				partial.Content[index] = t
			}
		case "input_json_delta":
			if data.Delta.PartialJson == nil || *data.Delta.PartialJson == "" {
				return
			}
			acc := partialJSON[index] + *data.Delta.PartialJson
			partialJSON[index] = acc
			if tc, ok := partial.Content[index].(msg.ToolCall); ok {
				tc.Arguments = stream.ParseStreamingJSON(acc)
				partial.Content[index] = tc
			}
			s.Push(stream.Event{Type: stream.EventToolCallDelta, ContentIndex: index,
				Delta: *data.Delta.PartialJson, Partial: partial.Clone()})
		}
	}

	streamReq.OnContentBlockStop = func(data anthropic.MessagesEventContentBlockStopData, content anthropic.MessageContent) {
		index := data.Index
		if index < 0 || index >= len(partial.Content) {
			return
		}
		switch block := partial.Content[index].(type) {
		case msg.TextContent:
			s.Push(stream.Event{Type: stream.EventTextEnd, ContentIndex: index,
				Content: block.Text, Partial: partial.Clone()})
		case msg.ThinkingContent:
			s.Push(stream.Event{Type: stream.EventThinkingEnd, ContentIndex: index,
				Content: block.Thinking, Partial: partial.Clone()})
		case msg.ToolCall:
			// Prefer the SDK's assembled input; fall back to our accumulator.
			if content.MessageContentToolUse != nil && len(content.MessageContentToolUse.Input) > 0 {
				var args any
				if err := json.Unmarshal(content.MessageContentToolUse.Input, &args); err == nil {
					block.Arguments = args
				}
			} else if acc, ok := partialJSON[index]; ok && acc != "" {
				block.Arguments = stream.ParseStreamingJSON(acc)
			}
			delete(partialJSON, index)
			partial.Content[index] = block
			tc := block
			s.Push(stream.Event{Type: stream.EventToolCallEnd, ContentIndex: index,
				ToolCall: &tc, Partial: partial.Clone()})
		}
	}

	var stopReason msg.StopReason = msg.StopReasonStop
	streamReq.OnMessageDelta = func(data anthropic.MessagesEventMessageDeltaData) {
		switch data.Delta.StopReason {
		case "tool_use":
			stopReason = msg.StopReasonToolUse
		case "max_tokens":
			stopReason = msg.StopReasonMaxTokens
		}
		partial.Usage.Output = int64(data.Usage.OutputTokens)
	}

	resp, err := newAnthropicClient(model, opts).CreateMessagesStream(ctx, streamReq)
	if err != nil {
		if ctx.Err() != nil {
			partial.StopReason = msg.StopReasonAborted
			s.Push(stream.Event{Type: stream.EventError, Reason: msg.StopReasonAborted, Message: partial.Clone()})
			return
		}
		partial.StopReason = msg.StopReasonError
		partial.ErrorMessage = err.Error()
		s.Push(stream.Event{Type: stream.EventError, Reason: msg.StopReasonError, Message: partial.Clone()})
		return
	}

	if resp.Usage.InputTokens > 0 {
		partial.Usage.Input = int64(resp.Usage.InputTokens)
	}
	if resp.Usage.OutputTokens > 0 {
		partial.Usage.Output = int64(resp.Usage.OutputTokens)
	}
	partial.Usage.CacheRead = int64(resp.Usage.CacheReadInputTokens)
	partial.Usage.CacheWrite = int64(resp.Usage.CacheCreationInputTokens)
	partial.Usage.TotalTokens = partial.Usage.Input + partial.Usage.Output +
		partial.Usage.CacheRead + partial.Usage.CacheWrite
	msg.CalculateCost(model, &partial.Usage)

	partial.StopReason = stopReason
	s.Push(stream.Event{Type: stream.EventDone, Reason: stopReason, Message: partial.Clone()})
}

func newAnthropicClient(model msg.Model, opts StreamOptions) *anthropic.Client {
	var clientOpts []anthropic.ClientOption
	if model.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(model.BaseURL))
	}
	return anthropic.NewClient(opts.APIKey, clientOpts...)
}

// toAnthropicMessages converts the normalized message list. Tool results ride
// in user-role messages; consecutive results for one assistant turn are
// merged per the wire contract.
func toAnthropicMessages(messages []msg.Message) ([]anthropic.Message, error) {
	var out []anthropic.Message
	for _, m := range messages {
		switch v := m.(type) {
		case *msg.UserMessage:
			content := []anthropic.MessageContent{}
			if v.Content.IsText() {
				content = append(content, anthropic.NewTextMessageContent(v.Content.Text))
			} else {
				for _, block := range v.Content.Blocks {
					switch b := block.(type) {
					case msg.TextContent:
						content = append(content, anthropic.NewTextMessageContent(b.Text))
					case msg.ImageContent:
						content = append(content, anthropic.NewImageMessageContent(
							anthropic.NewMessageContentSource(
								anthropic.MessagesContentSourceTypeBase64, b.MimeType, b.Data)))
					}
				}
			}
			out = append(out, anthropic.Message{Role: anthropic.RoleUser, Content: content})

		case *msg.AssistantMessage:
			var content []anthropic.MessageContent
			for _, block := range v.Content {
				switch b := block.(type) {
				case msg.TextContent:
					if strings.TrimSpace(b.Text) == "" {
						continue
					}
					content = append(content, anthropic.NewTextMessageContent(b.Text))
				case msg.ThinkingContent:
					content = append(content, anthropic.MessageContent{
						Type: anthropic.MessagesContentTypeThinking,
						MessageContentThinking: &anthropic.MessageContentThinking{
							Thinking:  b.Thinking,
							Signature: b.ThinkingSignature,
						},
					})
				case msg.ToolCall:
					args, err := json.Marshal(b.Arguments)
					if err != nil {
						args = []byte("{}")
					}
					content = append(content, anthropic.NewToolUseMessageContent(b.ID, b.Name, args))
				}
			}
			if len(content) == 0 {
				continue
			}
			out = append(out, anthropic.Message{Role: anthropic.RoleAssistant, Content: content})

		case *msg.ToolResultMessage:
			text := flattenToolResultText(v.Content)
			if text == "" {
				text = "{}"
			}
			block := anthropic.NewToolResultMessageContent(v.ToolCallID, text, v.IsError)
			if n := len(out); n > 0 && out[n-1].Role == anthropic.RoleUser {
				prev := out[n-1].Content
				if len(prev) > 0 && prev[len(prev)-1].Type == anthropic.MessagesContentTypeToolResult {
					out[n-1].Content = append(out[n-1].Content, block)
					continue
				}
			}
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{block},
			})
		}
	}
	return out, nil
}

func flattenToolResultText(blocks []msg.ContentBlock) string {
	var parts []string
	for _, block := range blocks {
		if t, ok := block.(msg.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func toAnthropicTools(defs []tools.Definition) []anthropic.ToolDefinition {
	out := make([]anthropic.ToolDefinition, 0, len(defs))
	for _, def := range defs {
		params := def.Parameters
		if params == nil {
			params = map[string]any{"type": "object"}
		}
		out = append(out, anthropic.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: params,
		})
	}
	return out
}
