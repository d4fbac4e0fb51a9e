package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Credential is one stored credential: an API key or an OAuth token set.
type Credential struct {
	Type  string            `json:"type"` // "apiKey" | "oauth"
	Key   string            `json:"key,omitempty"`
	OAuth *OAuthCredentials `json:"-"`
}

// credentialWire flattens the oauth fields into the credential object, per
// the credentials file format.
type credentialWire struct {
	Type         string   `json:"type"`
	Key          string   `json:"key,omitempty"`
	AccessToken  string   `json:"accessToken,omitempty"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	ExpiresAt    int64    `json:"expiresAt,omitempty"`
	TokenType    string   `json:"tokenType,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// MarshalJSON renders the flat wire form.
func (c Credential) MarshalJSON() ([]byte, error) {
	wire := credentialWire{Type: c.Type, Key: c.Key}
	if c.OAuth != nil {
		wire.AccessToken = c.OAuth.AccessToken
		wire.RefreshToken = c.OAuth.RefreshToken
		wire.ExpiresAt = c.OAuth.ExpiresAt
		wire.TokenType = c.OAuth.TokenType
		wire.Scopes = c.OAuth.Scopes
	}
	return json.Marshal(wire)
}

// UnmarshalJSON parses the flat wire form.
func (c *Credential) UnmarshalJSON(data []byte) error {
	var wire credentialWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	c.Type = wire.Type
	c.Key = wire.Key
	c.OAuth = nil
	if wire.Type == "oauth" {
		c.OAuth = &OAuthCredentials{
			AccessToken:  wire.AccessToken,
			RefreshToken: wire.RefreshToken,
			ExpiresAt:    wire.ExpiresAt,
			TokenType:    wire.TokenType,
			Scopes:       wire.Scopes,
		}
	}
	return nil
}

// APIKeyCredential wraps a plain key.
func APIKeyCredential(key string) Credential {
	return Credential{Type: "apiKey", Key: key}
}

// OAuthCredential wraps a token set.
func OAuthCredential(creds OAuthCredentials) Credential {
	return Credential{Type: "oauth", OAuth: &creds}
}

// Token returns the usable secret.
func (c Credential) Token() string {
	if c.Type == "oauth" && c.OAuth != nil {
		return c.OAuth.AccessToken
	}
	return c.Key
}

// IsExpired reports whether the credential should be skipped.
func (c Credential) IsExpired() bool {
	if c.Type == "oauth" && c.OAuth != nil {
		return c.OAuth.IsExpired()
	}
	return false
}

type credentialsFile struct {
	Credentials map[string]Credential `json:"credentials"`
}

// Resolver looks up credentials per provider in four layers: runtime
// override, credentials file, provider env vars, generic fallback env.
// Expired credentials are skipped. The file cache is invalidated by writes
// and by an fsnotify watch on the credentials file.
type Resolver struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	runtime map[string]Credential
	cache   *credentialsFile

	watcher *fsnotify.Watcher
}

// NewResolver creates a resolver over baseDir/credentials.json and starts
// the file watch (best effort).
func NewResolver(baseDir string, logger *zap.Logger) *Resolver {
	r := &Resolver{
		path:    filepath.Join(baseDir, "credentials.json"),
		logger:  logger,
		runtime: make(map[string]Credential),
	}
	r.startWatch(baseDir)
	return r
}

func (r *Resolver) startWatch(baseDir string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Debug("credentials watch unavailable", zap.Error(err))
		return
	}
	if err := watcher.Add(baseDir); err != nil {
		r.logger.Debug("credentials watch unavailable", zap.Error(err))
		watcher.Close()
		return
	}
	r.watcher = watcher
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) == r.path {
					r.Invalidate()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Debug("credentials watch error", zap.Error(err))
			}
		}
	}()
}

// Close stops the file watch.
func (r *Resolver) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// Invalidate drops the file cache; the next lookup re-reads the file.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}

// SetRuntime installs a programmatic override, the highest-priority layer.
func (r *Resolver) SetRuntime(provider string, cred Credential) {
	r.mu.Lock()
	r.runtime[provider] = cred
	r.mu.Unlock()
}

// ClearRuntime removes a programmatic override.
func (r *Resolver) ClearRuntime(provider string) {
	r.mu.Lock()
	delete(r.runtime, provider)
	r.mu.Unlock()
}

// APIKey resolves the provider's usable secret.
func (r *Resolver) APIKey(provider string) (string, bool) {
	cred, ok := r.Credential(provider)
	if !ok {
		return "", false
	}
	return cred.Token(), true
}

// Credential resolves the provider's credential through the four layers.
func (r *Resolver) Credential(provider string) (Credential, bool) {
	// 1. Runtime override.
	r.mu.RLock()
	cred, ok := r.runtime[provider]
	r.mu.RUnlock()
	if ok && !cred.IsExpired() {
		return cred, true
	}

	// 2. Credentials file.
	if cred, ok := r.fromFile(provider); ok && !cred.IsExpired() {
		return cred, true
	}

	// 3. Provider env vars.
	if key, ok := EnvAPIKey(provider); ok {
		return APIKeyCredential(key), true
	}

	// 4. Generic fallback.
	if key := os.Getenv(GenericFallbackEnv); key != "" {
		return APIKeyCredential(key), true
	}
	return Credential{}, false
}

func (r *Resolver) fromFile(provider string) (Credential, bool) {
	r.mu.RLock()
	cache := r.cache
	r.mu.RUnlock()

	if cache == nil {
		loaded := r.loadFile()
		r.mu.Lock()
		r.cache = loaded
		cache = loaded
		r.mu.Unlock()
	}
	cred, ok := cache.Credentials[provider]
	return cred, ok
}

func (r *Resolver) loadFile() *credentialsFile {
	empty := &credentialsFile{Credentials: map[string]Credential{}}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return empty
	}
	var file credentialsFile
	if err := json.Unmarshal(data, &file); err != nil {
		r.logger.Warn("credentials file unparseable", zap.Error(err))
		return empty
	}
	if file.Credentials == nil {
		file.Credentials = map[string]Credential{}
	}
	return &file
}

// Save writes a credential into the file: atomic temp-file + rename, owner
// permissions only. The cache is invalidated.
func (r *Resolver) Save(provider string, cred Credential) error {
	file := r.loadFile()
	file.Credentials[provider] = cred
	if err := r.writeFile(file); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}

// Remove deletes a provider's stored credential.
func (r *Resolver) Remove(provider string) error {
	file := r.loadFile()
	if _, ok := file.Credentials[provider]; !ok {
		return nil
	}
	delete(file.Credentials, provider)
	if err := r.writeFile(file); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}

func (r *Resolver) writeFile(file *credentialsFile) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace credentials file: %w", err)
	}
	return nil
}
