package msg

// ModelCost holds dollar rates per million tokens of each usage counter.
type ModelCost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
}

// ModelCompat carries per-model quirks the wire translators consult.
type ModelCompat struct {
	SupportsXhigh      bool `json:"supportsXhigh,omitempty"`
	NoTemperature      bool `json:"noTemperature,omitempty"`
	RequiresToolChoice bool `json:"requiresToolChoice,omitempty"`
	MaxToolNameLength  int  `json:"maxToolNameLength,omitempty"`
}

// Model is an immutable capability descriptor for one LLM.
type Model struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	API           string            `json:"api"`
	Provider      string            `json:"provider"`
	BaseURL       string            `json:"baseUrl"`
	Reasoning     bool              `json:"reasoning"`
	Input         []string          `json:"input"`
	Cost          ModelCost         `json:"cost"`
	ContextWindow int64             `json:"contextWindow"`
	MaxTokens     int64             `json:"maxTokens"`
	Headers       map[string]string `json:"headers,omitempty"`
	Compat        *ModelCompat      `json:"compat,omitempty"`
}

// ThinkingLevel is the requested reasoning effort.
type ThinkingLevel string

const (
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingXhigh   ThinkingLevel = "xhigh"
)

// AgentThinkingLevel adds an "off" sentinel meaning "do not request reasoning".
type AgentThinkingLevel string

const (
	AgentThinkingOff     AgentThinkingLevel = "off"
	AgentThinkingMinimal AgentThinkingLevel = "minimal"
	AgentThinkingLow     AgentThinkingLevel = "low"
	AgentThinkingMedium  AgentThinkingLevel = "medium"
	AgentThinkingHigh    AgentThinkingLevel = "high"
	AgentThinkingXhigh   AgentThinkingLevel = "xhigh"
)

// ThinkingLevel converts to the provider-facing level; false when off.
func (l AgentThinkingLevel) ThinkingLevel() (ThinkingLevel, bool) {
	if l == AgentThinkingOff || l == "" {
		return "", false
	}
	return ThinkingLevel(l), true
}

// ThinkingBudgets holds the per-level reasoning token budgets.
// Zero fields fall back to the defaults.
type ThinkingBudgets struct {
	Minimal int64 `json:"minimal,omitempty"`
	Low     int64 `json:"low,omitempty"`
	Medium  int64 `json:"medium,omitempty"`
	High    int64 `json:"high,omitempty"`
}

// DefaultThinkingBudgets returns the standard per-level budgets.
func DefaultThinkingBudgets() ThinkingBudgets {
	return ThinkingBudgets{Minimal: 1024, Low: 2048, Medium: 8192, High: 16384}
}

// CacheRetention selects provider prompt-cache behavior.
type CacheRetention string

const (
	CacheRetentionNone  CacheRetention = "none"
	CacheRetentionShort CacheRetention = "short"
	CacheRetentionLong  CacheRetention = "long"
)

// SupportsXhigh reports whether the model accepts xhigh reasoning effort.
func SupportsXhigh(model Model) bool {
	return model.Compat != nil && model.Compat.SupportsXhigh
}

// ClampThinkingLevel lowers xhigh to high for models that do not support it.
func ClampThinkingLevel(level ThinkingLevel, model Model) ThinkingLevel {
	if level == ThinkingXhigh && !SupportsXhigh(model) {
		return ThinkingHigh
	}
	return level
}

const minOutputTokens = 1024

// AdjustMaxTokensForThinking raises maxTokens to make room for the thinking
// budget, capped by the model's limit. When the cap would starve output, the
// budget is reduced to leave a minimum output floor.
// Returns (maxTokens, thinkingBudget).
func AdjustMaxTokensForThinking(baseMax, modelMax int64, level ThinkingLevel, budgets *ThinkingBudgets) (int64, int64) {
	defaults := DefaultThinkingBudgets()
	effective := defaults
	if budgets != nil {
		if budgets.Minimal > 0 {
			effective.Minimal = budgets.Minimal
		}
		if budgets.Low > 0 {
			effective.Low = budgets.Low
		}
		if budgets.Medium > 0 {
			effective.Medium = budgets.Medium
		}
		if budgets.High > 0 {
			effective.High = budgets.High
		}
	}

	var budget int64
	switch level {
	case ThinkingMinimal:
		budget = effective.Minimal
	case ThinkingLow:
		budget = effective.Low
	case ThinkingMedium:
		budget = effective.Medium
	default:
		// high and xhigh share the high budget
		budget = effective.High
	}

	maxTokens := baseMax + budget
	if maxTokens > modelMax {
		maxTokens = modelMax
	}
	thinkingBudget := budget
	if maxTokens-budget < minOutputTokens {
		thinkingBudget = maxTokens - minOutputTokens
		if thinkingBudget < 0 {
			thinkingBudget = 0
		}
	}
	return maxTokens, thinkingBudget
}

// CalculateCost fills usage.Cost from the model's per-million rates.
func CalculateCost(model Model, usage *Usage) {
	usage.Cost.Input = model.Cost.Input / 1e6 * float64(usage.Input)
	usage.Cost.Output = model.Cost.Output / 1e6 * float64(usage.Output)
	usage.Cost.CacheRead = model.Cost.CacheRead / 1e6 * float64(usage.CacheRead)
	usage.Cost.CacheWrite = model.Cost.CacheWrite / 1e6 * float64(usage.CacheWrite)
	usage.Cost.Total = usage.Cost.Input + usage.Cost.Output + usage.Cost.CacheRead + usage.Cost.CacheWrite
}

// SameModel reports whether an assistant message was produced by the given
// (provider, api, model) tuple. The transform layer keys all signature and
// thinking policy off this.
func SameModel(a *AssistantMessage, model Model) bool {
	return a.Provider == model.Provider && a.API == model.API && a.ModelID == model.ID
}
