// Package piagent is a programmable coding-agent runtime: a conversational
// loop between a user, an LLM, and a sandboxed set of side-effecting tools.
// Terminal UIs, RPC daemons, and headless drivers embed AgentSession; the
// cmd/pi binary is the reference print-mode driver.
package piagent

import (
	"github.com/gq3171/piagent/internal/agent"
	"github.com/gq3171/piagent/internal/extension"
	"github.com/gq3171/piagent/internal/msg"
	"github.com/gq3171/piagent/internal/provider"
	"github.com/gq3171/piagent/internal/session"
	"github.com/gq3171/piagent/internal/tools"
)

// Facade surface.
type (
	AgentSession = agent.AgentSession
	Options      = agent.Options
	Event        = agent.Event
	EventKind    = agent.EventKind
	Listener     = agent.Listener
	Stats        = agent.Stats
	ContextUsage = agent.ContextUsage

	RetryConfig      = agent.RetryConfig
	CompactionConfig = agent.CompactionConfig
)

// Data model.
type (
	Model              = msg.Model
	Message            = msg.Message
	UserMessage        = msg.UserMessage
	AssistantMessage   = msg.AssistantMessage
	ToolResultMessage  = msg.ToolResultMessage
	ContentBlock       = msg.ContentBlock
	TextContent        = msg.TextContent
	ThinkingContent    = msg.ThinkingContent
	ToolCall           = msg.ToolCall
	ImageContent       = msg.ImageContent
	StopReason         = msg.StopReason
	ThinkingLevel      = msg.ThinkingLevel
	AgentThinkingLevel = msg.AgentThinkingLevel
)

// Extensibility.
type (
	Extension        = extension.Extension
	NopExtension     = extension.NopExtension
	Tool             = tools.Tool
	ToolDefinition   = tools.Definition
	ToolResult       = tools.Result
	Provider         = provider.Provider
	Catalog          = provider.Catalog
	OAuthCredentials = provider.OAuthCredentials
	SessionInfo      = session.Info
)

// New assembles an AgentSession; see agent.Options for configuration.
var New = agent.New

// NewCatalog returns the built-in model catalog.
var NewCatalog = provider.NewCatalog

// DefaultRetryConfig and DefaultCompactionConfig expose the standard policies.
var (
	DefaultRetryConfig      = agent.DefaultRetryConfig
	DefaultCompactionConfig = agent.DefaultCompactionConfig
)
