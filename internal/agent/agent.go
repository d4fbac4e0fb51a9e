package agent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gq3171/piagent/internal/extension"
	"github.com/gq3171/piagent/internal/msg"
	"github.com/gq3171/piagent/internal/provider"
	"github.com/gq3171/piagent/internal/session"
	"github.com/gq3171/piagent/internal/tools"
	"github.com/gq3171/piagent/internal/transform"
)

// defaultTurnCap bounds consecutive tool-use iterations per prompt.
const defaultTurnCap = 50

// Options configures an AgentSession.
type Options struct {
	WorkingDir   string
	BaseDir      string
	Model        msg.Model
	SystemPrompt string

	ThinkingLevel   msg.AgentThinkingLevel
	ThinkingBudgets *msg.ThinkingBudgets
	Temperature     *float64
	MaxTokens       int64
	APIKey          string
	Headers         map[string]string
	CacheRetention  msg.CacheRetention
	MaxRetryDelayMs int64

	Compaction CompactionConfig
	Retry      RetryConfig
	TurnCap    int

	// NormalizeToolCallID optionally rewrites tool-call ids on cross-model
	// replay.
	NormalizeToolCallID transform.NormalizeToolCallID

	Logger *zap.Logger
}

// Stats is a session snapshot for UIs.
type Stats struct {
	SessionID       string
	MessageCount    int
	TurnCount       int
	EstimatedTokens int64
}

// ContextUsage reports how full the model's context window is.
type ContextUsage struct {
	Tokens        int64
	ContextWindow int64
	Percent       float64
}

// AgentSession owns the in-memory conversation, the tool set, the extension
// runner, credential resolution, retry and compaction policy, and the session
// log. One prompt runs at a time.
type AgentSession struct {
	opts   Options
	logger *zap.Logger

	registry   *provider.Registry
	resolver   *provider.Resolver
	sessions   *session.Manager
	extensions *extension.Runner
	toolList   []tools.Tool

	mu            sync.Mutex
	model         msg.Model
	thinkingLevel msg.AgentThinkingLevel
	messages      []msg.Message
	sessionID     string
	lastEntryID   string
	turnCount     int
	justCompacted bool
	listeners     []Listener
	running       bool

	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	turnCancel    context.CancelFunc
}

// New assembles a session: provider registry, credential resolver, session
// manager, extension runner, and the built-in tool set rooted at the working
// directory.
func New(opts Options) (*AgentSession, error) {
	if opts.WorkingDir == "" {
		return nil, fmt.Errorf("working directory is required")
	}
	if opts.Model.ID == "" {
		return nil, fmt.Errorf("model is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Compaction == (CompactionConfig{}) {
		opts.Compaction = DefaultCompactionConfig()
	}
	if opts.Retry == (RetryConfig{}) {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.TurnCap <= 0 {
		opts.TurnCap = defaultTurnCap
	}
	if opts.ThinkingLevel == "" {
		opts.ThinkingLevel = msg.AgentThinkingOff
	}

	sessions, err := session.NewManager(opts.BaseDir, opts.Logger)
	if err != nil {
		return nil, err
	}

	extensions := extension.NewRunner(extension.Context{
		WorkingDir: opts.WorkingDir,
		ModelID:    opts.Model.ID,
	}, opts.Logger)

	sessionCtx, sessionCancel := context.WithCancel(context.Background())

	a := &AgentSession{
		opts:          opts,
		logger:        opts.Logger,
		registry:      provider.NewRegistry(opts.Logger),
		resolver:      provider.NewResolver(opts.BaseDir, opts.Logger),
		sessions:      sessions,
		extensions:    extensions,
		model:         opts.Model,
		thinkingLevel: opts.ThinkingLevel,
		sessionCtx:    sessionCtx,
		sessionCancel: sessionCancel,
	}
	a.rebuildTools()
	return a, nil
}

// rebuildTools wraps the built-ins with extension hooks and appends
// extension-provided tools.
func (a *AgentSession) rebuildTools() {
	list := extension.WrapTools(tools.DefaultTools(a.opts.WorkingDir), a.extensions)
	list = append(list, extension.ProvidedTools(a.extensions)...)
	a.toolList = list
}

// AddExtension registers an extension. Must be called between turns.
func (a *AgentSession) AddExtension(ctx context.Context, ext extension.Extension) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("cannot register extensions while a turn is running")
	}
	if err := a.extensions.Add(ctx, ext); err != nil {
		return err
	}
	a.rebuildTools()
	return nil
}

// RegisterProvider replaces or adds a provider (used for custom endpoints
// and by tests).
func (a *AgentSession) RegisterProvider(p provider.Provider) {
	a.registry.Register(p)
}

// Resolver exposes credential management (save/remove/runtime overrides).
func (a *AgentSession) Resolver() *provider.Resolver { return a.resolver }

// Subscribe registers an event listener. Listeners must not block.
func (a *AgentSession) Subscribe(listener Listener) {
	a.mu.Lock()
	a.listeners = append(a.listeners, listener)
	a.mu.Unlock()
}

func (a *AgentSession) emit(event Event) {
	a.mu.Lock()
	listeners := append([]Listener(nil), a.listeners...)
	a.mu.Unlock()
	for _, listener := range listeners {
		listener(event)
	}
}

// Abort cancels the current turn; in-flight provider requests and tools see
// their contexts cancelled.
func (a *AgentSession) Abort() {
	a.mu.Lock()
	cancel := a.turnCancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close tears the session down: cancels any turn, stops extensions, releases
// the resolver watch and the session index.
func (a *AgentSession) Close() error {
	a.sessionCancel()
	a.extensions.Shutdown(context.Background())
	a.resolver.Close()
	return a.sessions.Close()
}

// Model returns the active model.
func (a *AgentSession) Model() msg.Model {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

// SetModel switches the active model and records a model-change entry.
func (a *AgentSession) SetModel(m msg.Model) error {
	a.mu.Lock()
	from := a.model
	a.model = m
	sessionID := a.sessionID
	parentID := a.lastEntryID
	a.mu.Unlock()

	if sessionID != "" {
		entry := session.ModelChangeEntry(from.ID, m.ID, m.Provider, parentID)
		if err := a.appendEntry(sessionID, entry); err != nil {
			return err
		}
	}
	a.emit(Event{Kind: EventModelChanged, Model: &m})
	return nil
}

// SetThinkingLevel switches reasoning effort and records an entry.
func (a *AgentSession) SetThinkingLevel(level msg.AgentThinkingLevel) error {
	a.mu.Lock()
	a.thinkingLevel = level
	sessionID := a.sessionID
	parentID := a.lastEntryID
	a.mu.Unlock()

	if sessionID == "" {
		return nil
	}
	return a.appendEntry(sessionID, session.ThinkingLevelChangeEntry(level, parentID))
}

// ResetSession clears in-memory messages and unbinds the session id; the next
// prompt starts a fresh session file.
func (a *AgentSession) ResetSession() {
	a.mu.Lock()
	a.messages = nil
	a.sessionID = ""
	a.lastEntryID = ""
	a.turnCount = 0
	a.justCompacted = false
	a.mu.Unlock()
}

// Fork creates a new session anchored at entryID and returns a fresh facade
// positioned there. The receiver is untouched.
func (a *AgentSession) Fork(entryID string) (*AgentSession, error) {
	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()
	if sessionID == "" {
		return nil, fmt.Errorf("no active session to fork")
	}

	header, err := a.sessions.Fork(sessionID, entryID)
	if err != nil {
		return nil, err
	}
	forked, err := New(a.opts)
	if err != nil {
		return nil, err
	}
	_, entries, err := forked.sessions.Load(header.SessionID)
	if err != nil {
		forked.Close()
		return nil, err
	}
	forked.mu.Lock()
	forked.sessionID = header.SessionID
	forked.messages = session.BuildContext(entries)
	if len(entries) > 0 {
		forked.lastEntryID = entries[len(entries)-1].ID
	}
	forked.mu.Unlock()

	a.emit(Event{Kind: EventForked, SessionID: header.SessionID})
	return forked, nil
}

// GetStats snapshots the session.
func (a *AgentSession) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		SessionID:       a.sessionID,
		MessageCount:    len(a.messages),
		TurnCount:       a.turnCount,
		EstimatedTokens: EstimateMessagesTokens(a.messages),
	}
}

// GetContextUsage reports estimated context fill; nil immediately after a
// compaction, before the next assistant turn establishes real usage.
func (a *AgentSession) GetContextUsage() *ContextUsage {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.justCompacted || a.model.ContextWindow <= 0 {
		return nil
	}
	tokens := EstimateMessagesTokens(a.messages)
	return &ContextUsage{
		Tokens:        tokens,
		ContextWindow: a.model.ContextWindow,
		Percent:       float64(tokens) / float64(a.model.ContextWindow) * 100,
	}
}

// Messages returns a copy of the in-memory conversation.
func (a *AgentSession) Messages() []msg.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]msg.Message(nil), a.messages...)
}

// SessionID returns the bound session id, empty before the first prompt.
func (a *AgentSession) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// ensureSession creates the session file on first use.
func (a *AgentSession) ensureSession() (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionID != "" {
		return a.sessionID, false, nil
	}
	header, err := a.sessions.Create("")
	if err != nil {
		return "", false, err
	}
	a.sessionID = header.SessionID
	return a.sessionID, true, nil
}

// appendEntry persists an entry and advances the parent pointer.
func (a *AgentSession) appendEntry(sessionID string, entry session.Entry) error {
	if err := a.sessions.Append(sessionID, entry); err != nil {
		return err
	}
	a.mu.Lock()
	a.lastEntryID = entry.ID
	a.mu.Unlock()
	return nil
}

// appendMessage persists a message entry and mirrors it in memory.
func (a *AgentSession) appendMessage(sessionID string, m msg.Message) error {
	a.mu.Lock()
	parentID := a.lastEntryID
	a.mu.Unlock()

	entry, err := session.MessageEntry(m, parentID)
	if err != nil {
		return err
	}
	if err := a.appendEntry(sessionID, entry); err != nil {
		return err
	}
	a.mu.Lock()
	a.messages = append(a.messages, m)
	a.mu.Unlock()
	return nil
}
