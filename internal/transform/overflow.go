package transform

import (
	"regexp"
	"sync"

	"github.com/gq3171/piagent/internal/msg"
)

// Provider-agnostic context-overflow signatures. Compiled once on first use.
var overflowPatterns = sync.OnceValue(func() []*regexp.Regexp {
	sources := []string{
		`(?i)prompt is too long`,
		`(?i)input is too long for requested model`,
		`(?i)exceeds the context window`,
		`(?i)input token count.*exceeds the maximum`,
		`(?i)maximum prompt length is \d+`,
		`(?i)reduce the length of the messages`,
		`(?i)maximum context length is \d+ tokens`,
		`(?i)exceeds the limit of \d+`,
		`(?i)exceeds the available context size`,
		`(?i)greater than the context length`,
		`(?i)context window exceeds limit`,
		`(?i)exceeded model token limit`,
		`(?i)context[_ ]length[_ ]exceeded`,
		`(?i)too many tokens`,
		`(?i)token limit exceeded`,
	}
	patterns := make([]*regexp.Regexp, len(sources))
	for i, src := range sources {
		patterns[i] = regexp.MustCompile(src)
	}
	return patterns
})

// Some providers (Cerebras, Mistral) answer overflow with a bare 400/413.
var overflowStatusPattern = sync.OnceValue(func() *regexp.Regexp {
	return regexp.MustCompile(`(?i)^4(00|13)\s*(status code)?\s*\(no body\)`)
})

// IsContextOverflow reports whether an assistant message represents a context
// overflow. Two cases:
//
//  1. Error overflow: stop reason is error and the message matches a known
//     provider pattern (or a bare 400/413 with no body).
//  2. Silent overflow: the provider returned stop despite input plus cache
//     reads exceeding the context window.
//
// Pass contextWindow <= 0 to skip the silent check.
func IsContextOverflow(m *msg.AssistantMessage, contextWindow int64) bool {
	if m.StopReason == msg.StopReasonError && m.ErrorMessage != "" {
		for _, pattern := range overflowPatterns() {
			if pattern.MatchString(m.ErrorMessage) {
				return true
			}
		}
		if overflowStatusPattern().MatchString(m.ErrorMessage) {
			return true
		}
	}

	if contextWindow > 0 && m.StopReason == msg.StopReasonStop {
		if m.Usage.Input+m.Usage.CacheRead > contextWindow {
			return true
		}
	}
	return false
}
