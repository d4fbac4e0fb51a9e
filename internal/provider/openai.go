package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"
	"go.uber.org/zap"

	"github.com/gq3171/piagent/internal/msg"
	"github.com/gq3171/piagent/internal/stream"
	"github.com/gq3171/piagent/internal/tools"
)

// OpenAIProvider translates the openai-completions wire format into the
// uniform event stream.
type OpenAIProvider struct {
	logger *zap.Logger
}

// NewOpenAIProvider creates the openai-completions provider.
func NewOpenAIProvider(logger *zap.Logger) *OpenAIProvider {
	return &OpenAIProvider{logger: logger}
}

func (p *OpenAIProvider) API() string { return "openai-completions" }

// Stream starts the provider request and returns the live event stream.
func (p *OpenAIProvider) Stream(ctx context.Context, model msg.Model, req Request, opts StreamOptions) *stream.Stream {
	if opts.APIKey == "" {
		return errorStream(model, "no API key available for provider "+model.Provider)
	}

	s := stream.New()
	go p.run(ctx, s, model, req, opts)
	return s
}

type openaiToolAccumulator struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

func (p *OpenAIProvider) run(ctx context.Context, s *stream.Stream, model msg.Model, req Request, opts StreamOptions) {
	partial := msg.EmptyAssistant(model)

	config := openai.DefaultConfig(opts.APIKey)
	if model.BaseURL != "" {
		config.BaseURL = model.BaseURL
	}
	client := openai.NewClientWithConfig(config)

	maxTokens, _, _ := opts.EffectiveMaxTokens(model)
	chatReq := openai.ChatCompletionRequest{
		Model:     model.ID,
		Messages:  toOpenAIMessages(req.SystemPrompt, req.Messages),
		Tools:     toOpenAITools(req.Tools),
		MaxTokens: int(maxTokens),
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if opts.Temperature != nil {
		temp := float32(*opts.Temperature)
		chatReq.Temperature = &temp
	}

	chatStream, err := client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		p.fail(s, partial, ctx, err)
		return
	}
	defer chatStream.Close()

	s.Push(stream.Event{Type: stream.EventStart, Partial: partial.Clone()})

	var (
		textIndex    = -1
		accumulators = map[int]*openaiToolAccumulator{}
		finishReason string
		usage        msg.Usage
	)

	for {
		response, err := chatStream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.fail(s, partial, ctx, err)
			return
		}

		if response.Usage != nil && response.Usage.TotalTokens > 0 {
			usage.Input = int64(response.Usage.PromptTokens)
			usage.Output = int64(response.Usage.CompletionTokens)
			usage.TotalTokens = int64(response.Usage.TotalTokens)
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
		delta := choice.Delta

		if delta.Content != "" {
			if textIndex < 0 {
				textIndex = len(partial.Content)
				partial.Content = append(partial.Content, msg.TextContent{})
				s.Push(stream.Event{Type: stream.EventTextStart, ContentIndex: textIndex, Partial: partial.Clone()})
			}
			t := partial.Content[textIndex].(msg.TextContent)
			t.Text += delta.Content
			partial.Content[textIndex] = t
			s.Push(stream.Event{Type: stream.EventTextDelta, ContentIndex: textIndex,
				Delta: delta.Content, Partial: partial.Clone()})
		}

		for _, tcDelta := range delta.ToolCalls {
			if tcDelta.Index == nil {
				continue
			}
			index := *tcDelta.Index
			acc, ok := accumulators[index]
			if !ok {
				acc = &openaiToolAccumulator{index: index}
				accumulators[index] = acc
			}
			if tcDelta.ID != "" {
				acc.id = tcDelta.ID
			}
			if tcDelta.Function.Name != "" {
				acc.name = tcDelta.Function.Name
			}
			if tcDelta.Function.Arguments != "" {
				acc.args.WriteString(tcDelta.Function.Arguments)
			}
		}
	}

	// Seal accumulated tool calls in index order.
	indexes := make([]int, 0, len(accumulators))
	for index := range accumulators {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	for _, index := range indexes {
		acc := accumulators[index]
		if acc.name == "" {
			continue
		}
		id := acc.id
		if id == "" {
			id = fmt.Sprintf("call_%d", index)
		}
		contentIndex := len(partial.Content)
		tc := msg.ToolCall{ID: id, Name: acc.name, Arguments: stream.ParseStreamingJSON(acc.args.String())}
		partial.Content = append(partial.Content, tc)
		s.Push(stream.Event{Type: stream.EventToolCallStart, ContentIndex: contentIndex, Partial: partial.Clone()})
		s.Push(stream.Event{Type: stream.EventToolCallEnd, ContentIndex: contentIndex,
			ToolCall: &tc, Partial: partial.Clone()})
	}
	if textIndex >= 0 {
		t := partial.Content[textIndex].(msg.TextContent)
		s.Push(stream.Event{Type: stream.EventTextEnd, ContentIndex: textIndex,
			Content: t.Text, Partial: partial.Clone()})
	}

	stopReason := msg.StopReasonStop
	switch finishReason {
	case "tool_calls":
		stopReason = msg.StopReasonToolUse
	case "length":
		stopReason = msg.StopReasonMaxTokens
	}
	if stopReason == msg.StopReasonStop && len(accumulators) > 0 {
		stopReason = msg.StopReasonToolUse
	}

	partial.Usage = usage
	msg.CalculateCost(model, &partial.Usage)
	partial.StopReason = stopReason
	s.Push(stream.Event{Type: stream.EventDone, Reason: stopReason, Message: partial.Clone()})
}

func (p *OpenAIProvider) fail(s *stream.Stream, partial *msg.AssistantMessage, ctx context.Context, err error) {
	if ctx.Err() != nil {
		partial.StopReason = msg.StopReasonAborted
		s.Push(stream.Event{Type: stream.EventError, Reason: msg.StopReasonAborted, Message: partial.Clone()})
		return
	}
	partial.StopReason = msg.StopReasonError
	partial.ErrorMessage = err.Error()
	s.Push(stream.Event{Type: stream.EventError, Reason: msg.StopReasonError, Message: partial.Clone()})
}

// toOpenAIMessages converts the normalized list. Assistant content is sent as
// text plus tool calls; thinking blocks (kept by the transform layer only for
// same-model replays) are not sent.
func toOpenAIMessages(systemPrompt string, messages []msg.Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range messages {
		switch v := m.(type) {
		case *msg.UserMessage:
			if v.Content.IsText() {
				out = append(out, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: v.Content.Text,
				})
				continue
			}
			var parts []openai.ChatMessagePart
			for _, block := range v.Content.Blocks {
				switch b := block.(type) {
				case msg.TextContent:
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: b.Text,
					})
				case msg.ImageContent:
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: "data:" + b.MimeType + ";base64," + b.Data,
						},
					})
				}
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			})

		case *msg.AssistantMessage:
			message := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			var text string
			for _, block := range v.Content {
				switch b := block.(type) {
				case msg.TextContent:
					text += b.Text
				case msg.ToolCall:
					args, err := json.Marshal(b.Arguments)
					if err != nil {
						args = []byte("{}")
					}
					message.ToolCalls = append(message.ToolCalls, openai.ToolCall{
						ID:   b.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      b.Name,
							Arguments: string(args),
						},
					})
				}
			}
			message.Content = text
			if message.Content == "" && len(message.ToolCalls) == 0 {
				continue
			}
			out = append(out, message)

		case *msg.ToolResultMessage:
			content := flattenToolResultText(v.Content)
			if content == "" {
				content = "{}"
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: v.ToolCallID,
			})
		}
	}
	return out
}

func toOpenAITools(defs []tools.Definition) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params := def.Parameters
		if params == nil {
			params = map[string]any{"type": "object"}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
