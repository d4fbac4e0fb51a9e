// Package transform normalizes message lists for cross-model replay: thinking
// block policy, signature stripping, tool-call id remapping, and repair of
// orphaned tool calls. It runs immediately before every provider dispatch.
package transform

import (
	"strings"

	"github.com/gq3171/piagent/internal/msg"
)

// NormalizeToolCallID lets a provider rewrite tool-call ids when replaying a
// conversation produced by a different model (some APIs constrain id shape).
// Returning the input id means "no change".
type NormalizeToolCallID func(id string, model msg.Model, from *msg.AssistantMessage) string

// Messages rewrites the list for the active model. Two passes: per-message
// normalization (thinking policy, signatures, id remapping), then orphan
// repair that guarantees every surviving tool call has a result before the
// next assistant turn, user message, or end of list.
func Messages(messages []msg.Message, model msg.Model, normalizeID NormalizeToolCallID) []msg.Message {
	idMap := make(map[string]string)

	transformed := make([]msg.Message, 0, len(messages))
	for _, m := range messages {
		switch v := m.(type) {
		case *msg.UserMessage:
			transformed = append(transformed, v)
		case *msg.ToolResultMessage:
			if mapped, ok := idMap[v.ToolCallID]; ok && mapped != v.ToolCallID {
				cp := *v
				cp.ToolCallID = mapped
				transformed = append(transformed, &cp)
				continue
			}
			transformed = append(transformed, v)
		case *msg.AssistantMessage:
			transformed = append(transformed, rewriteAssistant(v, model, normalizeID, idMap))
		}
	}

	return repairOrphans(transformed)
}

func rewriteAssistant(a *msg.AssistantMessage, model msg.Model, normalizeID NormalizeToolCallID, idMap map[string]string) *msg.AssistantMessage {
	sameModel := msg.SameModel(a, model)

	content := make([]msg.ContentBlock, 0, len(a.Content))
	for _, block := range a.Content {
		switch b := block.(type) {
		case msg.ThinkingContent:
			if sameModel && b.ThinkingSignature != "" {
				content = append(content, b)
				continue
			}
			if strings.TrimSpace(b.Thinking) == "" {
				continue
			}
			if sameModel {
				content = append(content, b)
				continue
			}
			// Cross-model: demote to plain text, drop the signature.
			content = append(content, msg.TextContent{Text: b.Thinking})
		case msg.TextContent:
			if !sameModel {
				b.TextSignature = ""
			}
			content = append(content, b)
		case msg.ToolCall:
			if !sameModel {
				b.ThoughtSignature = ""
				if normalizeID != nil {
					if newID := normalizeID(b.ID, model, a); newID != b.ID {
						idMap[b.ID] = newID
						b.ID = newID
					}
				}
			}
			content = append(content, b)
		default:
			content = append(content, block)
		}
	}

	cp := *a
	cp.Content = content
	return &cp
}

func syntheticResult(tc msg.ToolCall) *msg.ToolResultMessage {
	return &msg.ToolResultMessage{
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Content:    []msg.ContentBlock{msg.TextContent{Text: "No result provided"}},
		IsError:    true,
		Time:       msg.NowMillis(),
	}
}

func repairOrphans(messages []msg.Message) []msg.Message {
	result := make([]msg.Message, 0, len(messages))
	var pending []msg.ToolCall
	seen := make(map[string]bool)

	flush := func() {
		for _, tc := range pending {
			if !seen[tc.ID] {
				result = append(result, syntheticResult(tc))
			}
		}
		pending = nil
		seen = make(map[string]bool)
	}

	for _, m := range messages {
		switch v := m.(type) {
		case *msg.AssistantMessage:
			flush()
			if v.StopReason == msg.StopReasonError || v.StopReason == msg.StopReasonAborted {
				continue
			}
			if calls := v.ToolCalls(); len(calls) > 0 {
				pending = calls
			}
			result = append(result, v)
		case *msg.ToolResultMessage:
			seen[v.ToolCallID] = true
			result = append(result, v)
		case *msg.UserMessage:
			flush()
			result = append(result, v)
		}
	}
	flush()

	return result
}
