package provider

import "strings"

// Headers that carry credentials. These are never overwritten when merging
// user or model headers over provider defaults.
var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"api-key":       true,
}

func isSensitiveHeader(key string) bool {
	return sensitiveHeaders[strings.ToLower(key)]
}

// MergeHeadersSafe copies source into target, skipping any sensitive key the
// target already carries under any casing.
func MergeHeadersSafe(target, source map[string]string) {
	for key, value := range source {
		if isSensitiveHeader(key) && hasHeaderFold(target, key) {
			continue
		}
		target[key] = value
	}
}

func hasHeaderFold(headers map[string]string, key string) bool {
	for existing := range headers {
		if strings.EqualFold(existing, key) {
			return true
		}
	}
	return false
}

// BuildHeaders layers model headers and per-call headers over provider
// defaults under the sensitive-header rule.
func BuildHeaders(defaults, modelHeaders, callHeaders map[string]string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(modelHeaders)+len(callHeaders))
	for key, value := range defaults {
		merged[key] = value
	}
	MergeHeadersSafe(merged, modelHeaders)
	MergeHeadersSafe(merged, callHeaders)
	return merged
}
