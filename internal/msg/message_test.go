package msg

import (
	"encoding/json"
	"strings"
	"testing"
)

func testModel() Model {
	return Model{
		ID:            "claude-sonnet-4",
		Name:          "Claude Sonnet 4",
		API:           "anthropic-messages",
		Provider:      "anthropic",
		BaseURL:       "https://api.anthropic.com",
		Reasoning:     true,
		Input:         []string{"text", "image"},
		Cost:          ModelCost{Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
		ContextWindow: 200000,
		MaxTokens:     8192,
	}
}

func TestRoles(t *testing.T) {
	if got := NewUserText("hi").Role(); got != "user" {
		t.Fatalf("user role = %q", got)
	}
	if got := EmptyAssistant(testModel()).Role(); got != "assistant" {
		t.Fatalf("assistant role = %q", got)
	}
	if got := (&ToolResultMessage{}).Role(); got != "toolResult" {
		t.Fatalf("tool result role = %q", got)
	}
}

func TestEmptyAssistantTaggedWithModel(t *testing.T) {
	m := EmptyAssistant(testModel())
	if m.Provider != "anthropic" || m.API != "anthropic-messages" || m.ModelID != "claude-sonnet-4" {
		t.Fatalf("unexpected model tags: %+v", m)
	}
	if len(m.Content) != 0 {
		t.Fatalf("expected empty content")
	}
}

func TestMessageJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "user text",
			msg:  &UserMessage{Content: UserContent{Text: "hello"}, Time: 42},
		},
		{
			name: "user blocks",
			msg: &UserMessage{Content: UserContent{Blocks: []ContentBlock{
				TextContent{Text: "look"},
				ImageContent{Data: "aGk=", MimeType: "image/png"},
			}}, Time: 42},
		},
		{
			name: "assistant with tool call",
			msg: &AssistantMessage{
				Content: []ContentBlock{
					ThinkingContent{Thinking: "hmm", ThinkingSignature: "sig"},
					TextContent{Text: "running"},
					ToolCall{ID: "c1", Name: "bash", Arguments: map[string]any{"command": "ls"}},
				},
				API:        "anthropic-messages",
				Provider:   "anthropic",
				ModelID:    "claude-sonnet-4",
				StopReason: StopReasonToolUse,
				Time:       42,
			},
		},
		{
			name: "tool result error",
			msg: &ToolResultMessage{
				ToolCallID: "c1",
				ToolName:   "bash",
				Content:    []ContentBlock{TextContent{Text: "boom"}},
				IsError:    true,
				Time:       42,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalMessage(tt.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			back, err := UnmarshalMessage(data)
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back.Role() != tt.msg.Role() {
				t.Fatalf("role = %q, want %q", back.Role(), tt.msg.Role())
			}
			again, err := MarshalMessage(back)
			if err != nil {
				t.Fatalf("re-marshal: %v", err)
			}
			if string(again) != string(data) {
				t.Fatalf("round trip mismatch:\n%s\n%s", data, again)
			}
		})
	}
}

func TestMessageJSONDiscriminators(t *testing.T) {
	data, err := MarshalMessage(&AssistantMessage{
		Content:    []ContentBlock{TextContent{Text: "ok"}},
		StopReason: StopReasonStop,
	})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != "assistant" {
		t.Fatalf("type = %v", m["type"])
	}
	if !strings.Contains(string(data), `"stopReason":"stop"`) {
		t.Fatalf("expected camelCase stopReason in %s", data)
	}
}

func TestUnknownBlockTypeRejected(t *testing.T) {
	if _, err := UnmarshalContentBlock([]byte(`{"type":"widget"}`)); err == nil {
		t.Fatal("expected error for unknown block type")
	}
}

func TestToolCallsInOrder(t *testing.T) {
	m := &AssistantMessage{Content: []ContentBlock{
		TextContent{Text: "a"},
		ToolCall{ID: "c1", Name: "read"},
		ToolCall{ID: "c2", Name: "bash"},
	}}
	calls := m.ToolCalls()
	if len(calls) != 2 || calls[0].ID != "c1" || calls[1].ID != "c2" {
		t.Fatalf("tool calls = %+v", calls)
	}
}

func TestCalculateCost(t *testing.T) {
	model := testModel()
	usage := Usage{Input: 1000, Output: 500, CacheRead: 200, CacheWrite: 100}
	CalculateCost(model, &usage)

	if diff := usage.Cost.Input - 0.003; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("input cost = %v", usage.Cost.Input)
	}
	if diff := usage.Cost.Output - 0.0075; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("output cost = %v", usage.Cost.Output)
	}
	want := usage.Cost.Input + usage.Cost.Output + usage.Cost.CacheRead + usage.Cost.CacheWrite
	if usage.Cost.Total != want {
		t.Fatalf("total = %v, want %v", usage.Cost.Total, want)
	}
}

func TestClampThinkingLevel(t *testing.T) {
	model := testModel()
	if got := ClampThinkingLevel(ThinkingXhigh, model); got != ThinkingHigh {
		t.Fatalf("xhigh should clamp to high, got %s", got)
	}
	model.Compat = &ModelCompat{SupportsXhigh: true}
	if got := ClampThinkingLevel(ThinkingXhigh, model); got != ThinkingXhigh {
		t.Fatalf("xhigh should survive on supporting model, got %s", got)
	}
	if got := ClampThinkingLevel(ThinkingLow, model); got != ThinkingLow {
		t.Fatalf("low should pass through, got %s", got)
	}
}

func TestAdjustMaxTokensForThinking(t *testing.T) {
	maxTokens, budget := AdjustMaxTokensForThinking(8192, 200000, ThinkingHigh, nil)
	if maxTokens != 8192+16384 || budget != 16384 {
		t.Fatalf("got maxTokens=%d budget=%d", maxTokens, budget)
	}

	// Capped by model limit: budget shrinks to leave the output floor.
	maxTokens, budget = AdjustMaxTokensForThinking(8192, 10000, ThinkingHigh, nil)
	if maxTokens != 10000 || budget != 10000-1024 {
		t.Fatalf("got maxTokens=%d budget=%d", maxTokens, budget)
	}

	custom := &ThinkingBudgets{Medium: 4096}
	maxTokens, budget = AdjustMaxTokensForThinking(8192, 200000, ThinkingMedium, custom)
	if maxTokens != 8192+4096 || budget != 4096 {
		t.Fatalf("got maxTokens=%d budget=%d", maxTokens, budget)
	}
}

func TestAgentThinkingLevelOff(t *testing.T) {
	if _, ok := AgentThinkingOff.ThinkingLevel(); ok {
		t.Fatal("off should not map to a thinking level")
	}
	level, ok := AgentThinkingMedium.ThinkingLevel()
	if !ok || level != ThinkingMedium {
		t.Fatalf("got %v %v", level, ok)
	}
}
