package provider

import (
	"sync"

	"github.com/gq3171/piagent/internal/msg"
)

// builtinModels is the static model catalog: a read-once lookup table.
// Custom models from settings are layered on top per Catalog.
var builtinModels = sync.OnceValue(func() []msg.Model {
	return []msg.Model{
		{
			ID:            "claude-opus-4-5",
			Name:          "Claude Opus 4.5",
			API:           "anthropic-messages",
			Provider:      "anthropic",
			BaseURL:       "https://api.anthropic.com",
			Reasoning:     true,
			Input:         []string{"text", "image"},
			Cost:          msg.ModelCost{Input: 5, Output: 25, CacheRead: 0.5, CacheWrite: 6.25},
			ContextWindow: 200000,
			MaxTokens:     64000,
		},
		{
			ID:            "claude-sonnet-4-5",
			Name:          "Claude Sonnet 4.5",
			API:           "anthropic-messages",
			Provider:      "anthropic",
			BaseURL:       "https://api.anthropic.com",
			Reasoning:     true,
			Input:         []string{"text", "image"},
			Cost:          msg.ModelCost{Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
			ContextWindow: 200000,
			MaxTokens:     64000,
		},
		{
			ID:            "claude-haiku-4-5",
			Name:          "Claude Haiku 4.5",
			API:           "anthropic-messages",
			Provider:      "anthropic",
			BaseURL:       "https://api.anthropic.com",
			Reasoning:     true,
			Input:         []string{"text", "image"},
			Cost:          msg.ModelCost{Input: 1, Output: 5, CacheRead: 0.1, CacheWrite: 1.25},
			ContextWindow: 200000,
			MaxTokens:     64000,
		},
		{
			ID:            "gpt-4o",
			Name:          "GPT-4o",
			API:           "openai-completions",
			Provider:      "openai",
			BaseURL:       "https://api.openai.com/v1",
			Input:         []string{"text", "image"},
			Cost:          msg.ModelCost{Input: 2.5, Output: 10, CacheRead: 1.25},
			ContextWindow: 128000,
			MaxTokens:     16384,
		},
		{
			ID:            "gpt-4o-mini",
			Name:          "GPT-4o mini",
			API:           "openai-completions",
			Provider:      "openai",
			BaseURL:       "https://api.openai.com/v1",
			Input:         []string{"text", "image"},
			Cost:          msg.ModelCost{Input: 0.15, Output: 0.6, CacheRead: 0.075},
			ContextWindow: 128000,
			MaxTokens:     16384,
		},
		{
			ID:            "o4-mini",
			Name:          "o4-mini",
			API:           "openai-completions",
			Provider:      "openai",
			BaseURL:       "https://api.openai.com/v1",
			Reasoning:     true,
			Input:         []string{"text", "image"},
			Cost:          msg.ModelCost{Input: 1.1, Output: 4.4, CacheRead: 0.275},
			ContextWindow: 200000,
			MaxTokens:     100000,
		},
	}
})

// Catalog resolves model ids to descriptors. Custom models shadow builtins.
type Catalog struct {
	mu     sync.RWMutex
	custom []msg.Model
}

// NewCatalog creates a catalog over the builtin table.
func NewCatalog() *Catalog { return &Catalog{} }

// AddCustom registers additional models (from settings or options).
func (c *Catalog) AddCustom(models ...msg.Model) {
	c.mu.Lock()
	c.custom = append(c.custom, models...)
	c.mu.Unlock()
}

// Get looks a model up by provider and id.
func (c *Catalog) Get(provider, id string) (msg.Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.custom {
		if m.Provider == provider && m.ID == id {
			return m, true
		}
	}
	for _, m := range builtinModels() {
		if m.Provider == provider && m.ID == id {
			return m, true
		}
	}
	return msg.Model{}, false
}

// Find looks a model up by id alone; the first hit wins, custom first.
func (c *Catalog) Find(id string) (msg.Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.custom {
		if m.ID == id {
			return m, true
		}
	}
	for _, m := range builtinModels() {
		if m.ID == id {
			return m, true
		}
	}
	return msg.Model{}, false
}

// All returns every known model, custom first.
func (c *Catalog) All() []msg.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]msg.Model, 0, len(c.custom)+len(builtinModels()))
	out = append(out, c.custom...)
	out = append(out, builtinModels()...)
	return out
}
