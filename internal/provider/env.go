package provider

import (
	"os"
	"path/filepath"
)

// EnvAPIKey resolves a provider's API key from its conventional environment
// variables. Google-Vertex and Amazon-Bedrock have no single key: when their
// ambient credential scheme is complete, a sentinel token is returned meaning
// "ambient auth available".
func EnvAPIKey(provider string) (string, bool) {
	switch provider {
	case "github-copilot":
		for _, name := range []string{"COPILOT_GITHUB_TOKEN", "GH_TOKEN", "GITHUB_TOKEN"} {
			if v := os.Getenv(name); v != "" {
				return v, true
			}
		}
		return "", false

	case "anthropic":
		for _, name := range []string{"ANTHROPIC_OAUTH_TOKEN", "ANTHROPIC_API_KEY"} {
			if v := os.Getenv(name); v != "" {
				return v, true
			}
		}
		return "", false

	case "google-vertex":
		hasCredentials := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != ""
		if !hasCredentials {
			defaultCreds := filepath.Join(os.Getenv("HOME"),
				".config", "gcloud", "application_default_credentials.json")
			if _, err := os.Stat(defaultCreds); err == nil {
				hasCredentials = true
			}
		}
		hasProject := os.Getenv("GOOGLE_CLOUD_PROJECT") != "" || os.Getenv("GCLOUD_PROJECT") != ""
		hasLocation := os.Getenv("GOOGLE_CLOUD_LOCATION") != ""
		if hasCredentials && hasProject && hasLocation {
			return "<authenticated>", true
		}
		return "", false

	case "amazon-bedrock":
		if os.Getenv("AWS_PROFILE") != "" ||
			(os.Getenv("AWS_ACCESS_KEY_ID") != "" && os.Getenv("AWS_SECRET_ACCESS_KEY") != "") ||
			os.Getenv("AWS_BEARER_TOKEN_BEDROCK") != "" ||
			os.Getenv("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI") != "" ||
			os.Getenv("AWS_CONTAINER_CREDENTIALS_FULL_URI") != "" ||
			os.Getenv("AWS_WEB_IDENTITY_TOKEN_FILE") != "" {
			return "<authenticated>", true
		}
		return "", false
	}

	names := map[string]string{
		"openai":     "OPENAI_API_KEY",
		"google":     "GEMINI_API_KEY",
		"groq":       "GROQ_API_KEY",
		"cerebras":   "CEREBRAS_API_KEY",
		"xai":        "XAI_API_KEY",
		"openrouter": "OPENROUTER_API_KEY",
		"zai":        "ZAI_API_KEY",
		"mistral":    "MISTRAL_API_KEY",
	}
	name, ok := names[provider]
	if !ok {
		return "", false
	}
	if v := os.Getenv(name); v != "" {
		return v, true
	}
	return "", false
}

// GenericFallbackEnv is consulted after every provider-specific source.
const GenericFallbackEnv = "PI_API_KEY"
