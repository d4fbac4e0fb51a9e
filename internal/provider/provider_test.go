package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gq3171/piagent/internal/msg"
)

// ---------- headers ----------

func TestMergeHeadersSafe(t *testing.T) {
	target := map[string]string{
		"Authorization": "Bearer original",
		"X-Custom":      "keep",
	}
	MergeHeadersSafe(target, map[string]string{
		"authorization": "Bearer attacker",
		"x-api-key":     "sneaky",
		"X-Extra":       "added",
	})

	if target["Authorization"] != "Bearer original" {
		t.Fatalf("authorization overwritten: %v", target)
	}
	if _, ok := target["authorization"]; ok {
		t.Fatalf("lowercase duplicate added: %v", target)
	}
	// x-api-key was absent from target, so it may be set.
	if target["x-api-key"] != "sneaky" {
		t.Fatalf("absent sensitive key should merge: %v", target)
	}
	if target["X-Extra"] != "added" {
		t.Fatalf("plain key should merge: %v", target)
	}
}

func TestBuildHeadersLayering(t *testing.T) {
	merged := BuildHeaders(
		map[string]string{"x-api-key": "real", "anthropic-version": "2023-06-01"},
		map[string]string{"x-api-key": "model-injected", "x-model": "m"},
		map[string]string{"X-API-KEY": "call-injected", "x-call": "c"},
	)
	if merged["x-api-key"] != "real" {
		t.Fatalf("sensitive default overwritten: %v", merged)
	}
	if merged["x-model"] != "m" || merged["x-call"] != "c" {
		t.Fatalf("plain keys lost: %v", merged)
	}
}

// ---------- env ----------

func TestEnvAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	key, ok := EnvAPIKey("openai")
	if !ok || key != "sk-test" {
		t.Fatalf("got %q %v", key, ok)
	}

	t.Setenv("ANTHROPIC_OAUTH_TOKEN", "oauth-tok")
	t.Setenv("ANTHROPIC_API_KEY", "api-key")
	key, _ = EnvAPIKey("anthropic")
	if key != "oauth-tok" {
		t.Fatalf("oauth token should take precedence, got %q", key)
	}

	if _, ok := EnvAPIKey("unknown-provider"); ok {
		t.Fatal("unknown provider should not resolve")
	}
}

func TestEnvAPIKeyVertexNeedsAllThree(t *testing.T) {
	dir := t.TempDir()
	credFile := filepath.Join(dir, "creds.json")
	os.WriteFile(credFile, []byte("{}"), 0o600)

	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", credFile)
	t.Setenv("GOOGLE_CLOUD_PROJECT", "proj")
	t.Setenv("GOOGLE_CLOUD_LOCATION", "")
	if _, ok := EnvAPIKey("google-vertex"); ok {
		t.Fatal("missing location should not resolve")
	}
	t.Setenv("GOOGLE_CLOUD_LOCATION", "us-central1")
	key, ok := EnvAPIKey("google-vertex")
	if !ok || key != "<authenticated>" {
		t.Fatalf("got %q %v", key, ok)
	}
}

// ---------- credentials ----------

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "ANTHROPIC_OAUTH_TOKEN", "PI_API_KEY"} {
		t.Setenv(name, "")
	}
}

func TestResolverLayerOrder(t *testing.T) {
	clearProviderEnv(t)
	dir := t.TempDir()
	r := NewResolver(dir, zap.NewNop())
	defer r.Close()

	// 4. Generic fallback.
	t.Setenv("PI_API_KEY", "fallback")
	if key, ok := r.APIKey("openai"); !ok || key != "fallback" {
		t.Fatalf("fallback: %q %v", key, ok)
	}

	// 3. Provider env wins over fallback.
	t.Setenv("OPENAI_API_KEY", "from-env")
	if key, _ := r.APIKey("openai"); key != "from-env" {
		t.Fatalf("env: %q", key)
	}

	// 2. File wins over env.
	if err := r.Save("openai", APIKeyCredential("from-file")); err != nil {
		t.Fatal(err)
	}
	if key, _ := r.APIKey("openai"); key != "from-file" {
		t.Fatalf("file: %q", key)
	}

	// 1. Runtime wins over file.
	r.SetRuntime("openai", APIKeyCredential("from-runtime"))
	if key, _ := r.APIKey("openai"); key != "from-runtime" {
		t.Fatalf("runtime: %q", key)
	}

	r.ClearRuntime("openai")
	if key, _ := r.APIKey("openai"); key != "from-file" {
		t.Fatalf("after clear: %q", key)
	}
}

func TestResolverSkipsExpiredOAuth(t *testing.T) {
	clearProviderEnv(t)
	dir := t.TempDir()
	r := NewResolver(dir, zap.NewNop())
	defer r.Close()

	expired := OAuthCredential(OAuthCredentials{
		AccessToken: "stale",
		ExpiresAt:   time.Now().Unix() - 10,
	})
	if err := r.Save("anthropic", expired); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	if key, _ := r.APIKey("anthropic"); key != "env-key" {
		t.Fatalf("expired oauth should be skipped: %q", key)
	}
}

func TestCredentialsFilePermissionsAndFormat(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver(dir, zap.NewNop())
	defer r.Close()

	creds := OAuthCredential(OAuthCredentials{
		AccessToken:  "tok",
		RefreshToken: "ref",
		ExpiresAt:    9999999999,
	})
	if err := r.Save("anthropic", creds); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "credentials.json")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o", perm)
	}

	data, _ := os.ReadFile(path)
	var parsed map[string]map[string]map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unparseable file: %v\n%s", err, data)
	}
	entry := parsed["credentials"]["anthropic"]
	if entry["type"] != "oauth" || entry["accessToken"] != "tok" {
		t.Fatalf("entry = %v", entry)
	}
}

// ---------- oauth ----------

func TestOAuthExpiry(t *testing.T) {
	now := time.Now().Unix()
	tests := []struct {
		name      string
		expiresAt int64
		want      bool
	}{
		{"no expiry", 0, false},
		{"far future", now + 3600, false},
		{"inside skew", now + 30, true},
		{"past", now - 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := OAuthCredentials{AccessToken: "x", ExpiresAt: tt.expiresAt}
			if got := creds.IsExpired(); got != tt.want {
				t.Fatalf("IsExpired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPKCEChallenge(t *testing.T) {
	a, err := NewPKCEChallenge()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewPKCEChallenge()
	if err != nil {
		t.Fatal(err)
	}
	if a.CodeVerifier == b.CodeVerifier {
		t.Fatal("verifiers should be unique")
	}
	if a.CodeChallengeMethod != "S256" {
		t.Fatalf("method = %q", a.CodeChallengeMethod)
	}
	if strings.ContainsAny(a.CodeVerifier, "+/=") || strings.ContainsAny(a.CodeChallenge, "+/=") {
		t.Fatal("expected base64url without padding")
	}
	// 32 bytes base64url-no-pad is 43 chars.
	if len(a.CodeVerifier) != 43 {
		t.Fatalf("verifier length = %d", len(a.CodeVerifier))
	}
}

func TestBuildAuthorizationURL(t *testing.T) {
	flow, err := BuildAuthorizationURL(
		"https://auth.example.com/authorize",
		"my-client",
		"http://localhost:8080/callback",
		"read write",
		map[string]string{"prompt": "consent"},
	)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := url.Parse(flow.AuthURL)
	if err != nil {
		t.Fatal(err)
	}
	q := parsed.Query()
	if q.Get("client_id") != "my-client" || q.Get("response_type") != "code" {
		t.Fatalf("query = %v", q)
	}
	if q.Get("code_challenge") != flow.PKCE.CodeChallenge {
		t.Fatal("challenge mismatch")
	}
	if q.Get("code_challenge_method") != "S256" || q.Get("state") != flow.State {
		t.Fatalf("query = %v", q)
	}
	if q.Get("prompt") != "consent" {
		t.Fatalf("extra param lost: %v", q)
	}
}

func TestExchangeAuthorizationCode(t *testing.T) {
	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
			"expires_in":    3600,
			"token_type":    "Bearer",
			"scope":         "read write",
		})
	}))
	defer server.Close()

	token, err := ExchangeAuthorizationCode(context.Background(),
		server.URL, "client", "http://cb", "the-code", "the-verifier", nil)
	if err != nil {
		t.Fatal(err)
	}
	if gotForm.Get("grant_type") != "authorization_code" || gotForm.Get("code_verifier") != "the-verifier" {
		t.Fatalf("form = %v", gotForm)
	}
	creds := token.Credentials("anthropic")
	if creds.AccessToken != "at" || creds.RefreshToken != "rt" || len(creds.Scopes) != 2 {
		t.Fatalf("creds = %+v", creds)
	}
	if creds.IsExpired() {
		t.Fatal("fresh credential reported expired")
	}
}

func TestExchangeAuthorizationCodeNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad code", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := ExchangeAuthorizationCode(context.Background(),
		server.URL, "client", "http://cb", "bad", "v", nil)
	if err == nil || !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "bad code") {
		t.Fatalf("err = %v", err)
	}
}

// ---------- catalog / options ----------

func TestCatalogLookup(t *testing.T) {
	c := NewCatalog()
	m, ok := c.Get("anthropic", "claude-sonnet-4-5")
	if !ok || m.API != "anthropic-messages" {
		t.Fatalf("m = %+v ok = %v", m, ok)
	}
	if _, ok := c.Get("anthropic", "nope"); ok {
		t.Fatal("unknown id should miss")
	}

	c.AddCustom(msg.Model{ID: "local-llm", Provider: "openai", API: "openai-completions"})
	if _, ok := c.Find("local-llm"); !ok {
		t.Fatal("custom model not found")
	}
}

func TestEffectiveMaxTokens(t *testing.T) {
	model := msg.Model{ID: "m", Reasoning: true, MaxTokens: 64000, ContextWindow: 200000}
	level := msg.ThinkingHigh

	opts := StreamOptions{MaxTokens: 8192, ThinkingLevel: &level}
	maxTokens, budget, enabled := opts.EffectiveMaxTokens(model)
	if !enabled || maxTokens != 8192+16384 || budget != 16384 {
		t.Fatalf("got %d %d %v", maxTokens, budget, enabled)
	}

	// Thinking off.
	opts = StreamOptions{MaxTokens: 8192}
	maxTokens, budget, enabled = opts.EffectiveMaxTokens(model)
	if enabled || budget != 0 || maxTokens != 8192 {
		t.Fatalf("got %d %d %v", maxTokens, budget, enabled)
	}

	// Non-reasoning model ignores the level.
	model.Reasoning = false
	opts = StreamOptions{MaxTokens: 8192, ThinkingLevel: &level}
	if _, _, enabled := opts.EffectiveMaxTokens(model); enabled {
		t.Fatal("non-reasoning model should not enable thinking")
	}
}
