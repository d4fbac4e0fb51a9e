package agent

import (
	"encoding/json"

	"github.com/gq3171/piagent/internal/msg"
)

// CompactionConfig controls automatic context compaction.
type CompactionConfig struct {
	Auto       bool    `json:"auto"`
	Threshold  float64 `json:"threshold"`
	KeepRecent int     `json:"keepRecent"`
	// Model optionally overrides the summarization model.
	Model *msg.Model `json:"-"`
}

// DefaultCompactionConfig returns the standard policy.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{Auto: true, Threshold: 0.85, KeepRecent: 3}
}

// SummaryPrompt is the fixed instruction for the compaction LLM call.
const SummaryPrompt = "Please provide a concise summary of the following conversation. " +
	"Focus on: 1. user intent; 2. actions taken; 3. current state; 4. important context."

// SummaryPrefix heads the user message that replaces summarized history.
const SummaryPrefix = "[Previous conversation summary]\n\n"

const imageTokenEstimate = 250

// EstimateTokens approximates token count as ceil(len/4). Heuristic only;
// exact counting is a provider concern.
func EstimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	return int64((len(text) + 3) / 4)
}

func estimateBlockTokens(block msg.ContentBlock) int64 {
	switch b := block.(type) {
	case msg.TextContent:
		return EstimateTokens(b.Text)
	case msg.ThinkingContent:
		return EstimateTokens(b.Thinking)
	case msg.ToolCall:
		raw, err := json.Marshal(b.Arguments)
		if err != nil {
			return 0
		}
		return EstimateTokens(string(raw))
	case msg.ImageContent:
		return imageTokenEstimate
	default:
		return 0
	}
}

// EstimateMessagesTokens sums the estimate over a message list.
func EstimateMessagesTokens(messages []msg.Message) int64 {
	var total int64
	for _, m := range messages {
		switch v := m.(type) {
		case *msg.UserMessage:
			if v.Content.IsText() {
				total += EstimateTokens(v.Content.Text)
				continue
			}
			for _, block := range v.Content.Blocks {
				total += estimateBlockTokens(block)
			}
		case *msg.AssistantMessage:
			for _, block := range v.Content {
				total += estimateBlockTokens(block)
			}
		case *msg.ToolResultMessage:
			for _, block := range v.Content {
				total += estimateBlockTokens(block)
			}
		}
	}
	return total
}

// ShouldCompact reports whether the estimate exceeds threshold x window.
func ShouldCompact(messages []msg.Message, contextWindow int64, threshold float64) bool {
	if contextWindow <= 0 {
		return false
	}
	return EstimateMessagesTokens(messages) > int64(float64(contextWindow)*threshold)
}

// PrepareCompaction splits messages into the prefix to summarize and the
// recent suffix to keep verbatim.
func PrepareCompaction(messages []msg.Message, keepRecent int) (toSummarize, toKeep []msg.Message) {
	if keepRecent < 0 {
		keepRecent = 0
	}
	if len(messages) <= keepRecent {
		return nil, messages
	}
	split := len(messages) - keepRecent
	return messages[:split], messages[split:]
}

// ApplyCompaction replaces the summarized prefix with a single user message
// carrying the summary, followed by the kept suffix.
func ApplyCompaction(summary string, kept []msg.Message) []msg.Message {
	result := make([]msg.Message, 0, len(kept)+1)
	result = append(result, &msg.UserMessage{
		Content: msg.UserContent{Text: SummaryPrefix + summary},
		Time:    msg.NowMillis(),
	})
	return append(result, kept...)
}

// RenderForSummary flattens messages into the text handed to the
// summarization call.
func RenderForSummary(messages []msg.Message) string {
	var out []byte
	for _, m := range messages {
		out = append(out, '[')
		out = append(out, m.Role()...)
		out = append(out, "] "...)
		switch v := m.(type) {
		case *msg.UserMessage:
			if v.Content.IsText() {
				out = append(out, v.Content.Text...)
			} else {
				for _, block := range v.Content.Blocks {
					if t, ok := block.(msg.TextContent); ok {
						out = append(out, t.Text...)
					}
				}
			}
		case *msg.AssistantMessage:
			for _, block := range v.Content {
				switch b := block.(type) {
				case msg.TextContent:
					out = append(out, b.Text...)
				case msg.ToolCall:
					out = append(out, "(tool call: "...)
					out = append(out, b.Name...)
					out = append(out, ')')
				}
			}
		case *msg.ToolResultMessage:
			for _, block := range v.Content {
				if t, ok := block.(msg.TextContent); ok {
					out = append(out, t.Text...)
				}
			}
		}
		out = append(out, "\n\n"...)
	}
	return string(out)
}
