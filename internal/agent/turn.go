package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gq3171/piagent/internal/msg"
	"github.com/gq3171/piagent/internal/provider"
	"github.com/gq3171/piagent/internal/session"
	"github.com/gq3171/piagent/internal/tools"
	"github.com/gq3171/piagent/internal/transform"
)

// Prompt appends the user text and runs the turn loop to completion.
func (a *AgentSession) Prompt(ctx context.Context, text string) error {
	return a.prompt(ctx, msg.NewUserText(text))
}

// PromptBlocks is Prompt for block content (text plus images).
func (a *AgentSession) PromptBlocks(ctx context.Context, blocks []msg.ContentBlock) error {
	return a.prompt(ctx, msg.NewUserBlocks(blocks))
}

func (a *AgentSession) prompt(ctx context.Context, user *msg.UserMessage) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("a prompt is already running")
	}
	a.running = true
	turnCtx, turnCancel := context.WithCancel(a.sessionCtx)
	a.turnCancel = turnCancel
	a.mu.Unlock()

	defer func() {
		turnCancel()
		a.mu.Lock()
		a.running = false
		a.turnCancel = nil
		a.mu.Unlock()
	}()

	// Honor the caller's context too.
	go func() {
		select {
		case <-ctx.Done():
			turnCancel()
		case <-turnCtx.Done():
		}
	}()

	sessionID, isNew, err := a.ensureSession()
	if err != nil {
		return err
	}
	a.emit(Event{Kind: EventSessionStart, SessionID: sessionID, IsNew: isNew})

	if err := a.appendMessage(sessionID, user); err != nil {
		return err
	}

	for iteration := 0; ; iteration++ {
		if iteration >= a.opts.TurnCap {
			message := fmt.Sprintf("turn cap reached: %d consecutive tool-use turns", a.opts.TurnCap)
			a.emit(Event{Kind: EventError, ErrorMessage: message})
			return fmt.Errorf("%s", message)
		}

		if err := a.maybeCompact(turnCtx, sessionID, false); err != nil {
			a.logger.Warn("compaction failed, continuing uncompacted", zap.Error(err))
		}

		final, err := a.runTurn(turnCtx, sessionID)
		if err != nil {
			a.emit(Event{Kind: EventError, ErrorMessage: err.Error()})
			return err
		}
		if final.StopReason != msg.StopReasonToolUse || turnCtx.Err() != nil {
			a.mu.Lock()
			a.turnCount++
			a.mu.Unlock()
			return nil
		}
	}
}

// runTurn executes one assistant stream plus its tool dispatch. It retries
// transient stream errors under the retry policy and compacts-then-retries on
// context overflow. The returned message is the appended assistant turn.
func (a *AgentSession) runTurn(ctx context.Context, sessionID string) (*msg.AssistantMessage, error) {
	a.emit(Event{Kind: EventTurnStart})

	overflowRetried := false
	attempt := 0
	for {
		final, streamErr := a.streamOnce(ctx, sessionID)
		if streamErr != nil {
			return nil, streamErr
		}

		if final.StopReason == msg.StopReasonError {
			// Overflow is handled by compaction, not by the retry budget.
			if !overflowRetried && transform.IsContextOverflow(final, a.Model().ContextWindow) {
				overflowRetried = true
				if err := a.maybeCompact(ctx, sessionID, true); err == nil {
					continue
				}
			}
			if a.opts.Retry.Enabled && attempt < a.opts.Retry.MaxRetries &&
				IsRetryableError(final.ErrorMessage) && ctx.Err() == nil {
				attempt++
				delay := a.opts.Retry.Delay(attempt, a.opts.MaxRetryDelayMs)
				a.emit(Event{
					Kind:         EventRetryStart,
					Attempt:      attempt,
					MaxAttempts:  a.opts.Retry.MaxRetries,
					DelayMs:      delay.Milliseconds(),
					ErrorMessage: final.ErrorMessage,
				})
				select {
				case <-ctx.Done():
					a.emit(Event{Kind: EventRetryEnd, Attempt: attempt, Success: false})
					return nil, fmt.Errorf("turn cancelled during retry backoff")
				case <-time.After(delay):
				}
				a.emit(Event{Kind: EventRetryEnd, Attempt: attempt, Success: true})
				continue
			}
			// Not retryable (or budget exhausted): persist and surface.
			if err := a.appendMessage(sessionID, final); err != nil {
				return nil, err
			}
			a.emit(Event{Kind: EventTurnEnd, Message: final})
			return nil, fmt.Errorf("assistant error: %s", final.ErrorMessage)
		}

		// Aborted and normal turns both persist.
		if err := a.appendMessage(sessionID, final); err != nil {
			return nil, err
		}

		if final.StopReason == msg.StopReasonToolUse && ctx.Err() == nil {
			if err := a.dispatchToolCalls(ctx, sessionID, final); err != nil {
				return nil, err
			}
		}
		a.emit(Event{Kind: EventTurnEnd, Message: final})
		return final, nil
	}
}

// streamOnce issues one provider stream and pumps its events to subscribers.
func (a *AgentSession) streamOnce(ctx context.Context, sessionID string) (*msg.AssistantMessage, error) {
	a.mu.Lock()
	model := a.model
	messages := append([]msg.Message(nil), a.messages...)
	thinkingLevel := a.thinkingLevel
	a.mu.Unlock()

	normalized := transform.Messages(messages, model, a.opts.NormalizeToolCallID)

	apiKey := a.opts.APIKey
	if apiKey == "" {
		apiKey, _ = a.resolver.APIKey(model.Provider)
	}

	opts := provider.StreamOptions{
		Temperature:     a.opts.Temperature,
		MaxTokens:       a.opts.MaxTokens,
		APIKey:          apiKey,
		CacheRetention:  a.opts.CacheRetention,
		SessionID:       sessionID,
		Headers:         a.opts.Headers,
		MaxRetryDelayMs: a.opts.MaxRetryDelayMs,
		ThinkingBudgets: a.opts.ThinkingBudgets,
	}
	if level, on := thinkingLevel.ThinkingLevel(); on {
		clamped := msg.ClampThinkingLevel(level, model)
		opts.ThinkingLevel = &clamped
	}

	defs := make([]tools.Definition, 0, len(a.toolList))
	for _, tool := range a.toolList {
		defs = append(defs, tool.Definition())
	}

	s, err := a.registry.Stream(ctx, model, provider.Request{
		SystemPrompt: a.opts.SystemPrompt,
		Messages:     normalized,
		Tools:        defs,
	}, opts)
	if err != nil {
		return nil, err
	}

	started := false
	for {
		event, ok := s.Next(ctx)
		if !ok {
			break
		}
		if !started {
			started = true
			a.emit(Event{Kind: EventMessageStart, StreamEvent: &event})
		}
		a.emit(Event{Kind: EventMessageUpdate, StreamEvent: &event})
		if event.Terminal() {
			a.emit(Event{Kind: EventMessageEnd, Message: event.Message, StreamEvent: &event})
		}
	}

	resultCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	final, ok := s.Result(resultCtx)
	if !ok {
		if ctx.Err() != nil {
			aborted := msg.EmptyAssistant(a.Model())
			aborted.StopReason = msg.StopReasonAborted
			return aborted, nil
		}
		return nil, fmt.Errorf("provider stream ended without a result")
	}
	if ctx.Err() != nil && final.StopReason != msg.StopReasonError {
		final.StopReason = msg.StopReasonAborted
	}
	a.mu.Lock()
	a.justCompacted = false
	a.mu.Unlock()
	return final, nil
}

// dispatchToolCalls runs every tool call of the assistant message
// concurrently and appends each result in call order.
func (a *AgentSession) dispatchToolCalls(ctx context.Context, sessionID string, assistant *msg.AssistantMessage) error {
	calls := assistant.ToolCalls()
	if len(calls) == 0 {
		return nil
	}

	results := make([]*msg.ToolResultMessage, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call msg.ToolCall) {
			defer wg.Done()
			results[i] = a.executeToolCall(ctx, call)
		}(i, call)
	}
	wg.Wait()

	for _, result := range results {
		if err := a.appendMessage(sessionID, result); err != nil {
			return err
		}
	}
	return nil
}

// executeToolCall validates and runs one call with a per-call context,
// translating every failure into an error tool result.
func (a *AgentSession) executeToolCall(ctx context.Context, call msg.ToolCall) *msg.ToolResultMessage {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errorResult := func(text string) *msg.ToolResultMessage {
		return &msg.ToolResultMessage{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    []msg.ContentBlock{msg.TextContent{Text: text}},
			IsError:    true,
			Time:       msg.NowMillis(),
		}
	}

	args, ok := call.Arguments.(map[string]any)
	if !ok {
		if call.Arguments == nil {
			args = map[string]any{}
		} else {
			return errorResult(fmt.Sprintf("tool %q: arguments must be a JSON object", call.Name))
		}
	}

	tool := a.findTool(call.Name)
	if tool == nil {
		return errorResult(fmt.Sprintf("Tool %q not found", call.Name))
	}

	if err := tools.ValidateArguments(tool.Definition(), args); err != nil {
		return errorResult(err.Error())
	}

	a.emit(Event{
		Kind:       EventToolExecutionStart,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		ToolArgs:   args,
	})

	onUpdate := func(partial tools.Result) {
		a.emit(Event{
			Kind:       EventToolExecutionUpdate,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			ToolArgs:   args,
			ToolResult: &partial,
		})
	}

	result, err := tool.Execute(callCtx, call.ID, args, onUpdate)
	isError := err != nil
	if isError {
		result = tools.TextResult(err.Error())
	}

	a.emit(Event{
		Kind:       EventToolExecutionEnd,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		ToolResult: &result,
		IsError:    isError,
	})

	content := result.Content
	if len(content) == 0 {
		content = []msg.ContentBlock{msg.TextContent{}}
	}
	return &msg.ToolResultMessage{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    content,
		Details:    result.Details,
		IsError:    isError,
		Time:       msg.NowMillis(),
	}
}

func (a *AgentSession) findTool(name string) tools.Tool {
	for _, tool := range a.toolList {
		if tool.Name() == name {
			return tool
		}
	}
	return nil
}

// Compact forces a compaction regardless of the threshold.
func (a *AgentSession) Compact(ctx context.Context) error {
	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()
	if sessionID == "" {
		return fmt.Errorf("no active session to compact")
	}
	return a.compact(ctx, sessionID)
}

// maybeCompact compacts when forced, or when auto-compaction is on and the
// estimate crosses the threshold.
func (a *AgentSession) maybeCompact(ctx context.Context, sessionID string, force bool) error {
	if !force {
		if !a.opts.Compaction.Auto {
			return nil
		}
		a.mu.Lock()
		trigger := ShouldCompact(a.messages, a.model.ContextWindow, a.opts.Compaction.Threshold)
		a.mu.Unlock()
		if !trigger {
			return nil
		}
	}
	return a.compact(ctx, sessionID)
}

func (a *AgentSession) compact(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	messages := append([]msg.Message(nil), a.messages...)
	model := a.model
	parentID := a.lastEntryID
	a.mu.Unlock()

	keepRecent := a.opts.Compaction.KeepRecent
	if keepRecent <= 0 {
		keepRecent = DefaultCompactionConfig().KeepRecent
	}
	toSummarize, toKeep := PrepareCompaction(messages, keepRecent)
	if len(toSummarize) == 0 {
		return nil
	}
	tokensBefore := EstimateMessagesTokens(messages)

	summaryModel := model
	if a.opts.Compaction.Model != nil {
		summaryModel = *a.opts.Compaction.Model
	}
	apiKey := a.opts.APIKey
	if apiKey == "" {
		apiKey, _ = a.resolver.APIKey(summaryModel.Provider)
	}

	request := provider.Request{
		Messages: []msg.Message{
			msg.NewUserText(SummaryPrompt + "\n\n" + RenderForSummary(toSummarize)),
		},
	}
	summaryMsg, err := a.registry.Complete(ctx, summaryModel, request, provider.StreamOptions{APIKey: apiKey})
	if err != nil {
		return fmt.Errorf("compaction summary call: %w", err)
	}
	if summaryMsg.StopReason == msg.StopReasonError {
		return fmt.Errorf("compaction summary call: %s", summaryMsg.ErrorMessage)
	}
	summary := strings.TrimSpace(summaryMsg.TextBlock())
	if summary == "" {
		return fmt.Errorf("compaction summary call returned no text")
	}

	compacted := ApplyCompaction(summary, toKeep)

	entry := session.CompactionEntry(summary, tokensBefore, parentID)
	if err := a.appendEntry(sessionID, entry); err != nil {
		return err
	}

	a.mu.Lock()
	before := len(a.messages)
	a.messages = compacted
	a.justCompacted = true
	a.mu.Unlock()

	a.emit(Event{
		Kind:           EventCompacted,
		MessagesBefore: before,
		MessagesAfter:  len(compacted),
		TokensBefore:   tokensBefore,
	})
	return nil
}
