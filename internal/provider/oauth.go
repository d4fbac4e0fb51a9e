package provider

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OAuthCredentials is a stored OAuth token set for one provider.
type OAuthCredentials struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	ExpiresAt    int64    `json:"expiresAt,omitempty"` // Unix seconds
	TokenType    string   `json:"tokenType,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	Provider     string   `json:"provider,omitempty"`
}

// expirySkew treats credentials as expired a minute early so an in-flight
// request never races the real expiry.
const expirySkew = 60

// IsExpired reports whether the access token is unusable. Tokens without an
// expiry never expire locally.
func (c OAuthCredentials) IsExpired() bool {
	if c.ExpiresAt == 0 {
		return false
	}
	return time.Now().Unix() >= c.ExpiresAt-expirySkew
}

// AuthorizationHeader renders the token for an Authorization header.
func (c OAuthCredentials) AuthorizationHeader() string {
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return tokenType + " " + c.AccessToken
}

// TokenResponse is the provider's token endpoint reply.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Credentials converts a token response into stored credentials.
func (t TokenResponse) Credentials(provider string) OAuthCredentials {
	creds := OAuthCredentials{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Provider:     provider,
	}
	if creds.TokenType == "" {
		creds.TokenType = "Bearer"
	}
	if t.ExpiresIn > 0 {
		creds.ExpiresAt = time.Now().Unix() + t.ExpiresIn
	}
	if t.Scope != "" {
		creds.Scopes = strings.Fields(t.Scope)
	}
	return creds
}

// PKCEChallenge is a verifier/challenge pair for the authorization-code flow.
type PKCEChallenge struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
}

// NewPKCEChallenge generates a fresh pair: 32 random bytes base64url-no-pad,
// challenge is the SHA-256 of the verifier, same encoding.
func NewPKCEChallenge() (PKCEChallenge, error) {
	verifier, err := randomToken()
	if err != nil {
		return PKCEChallenge{}, fmt.Errorf("generate code verifier: %w", err)
	}
	sum := sha256.Sum256([]byte(verifier))
	return PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       base64.RawURLEncoding.EncodeToString(sum[:]),
		CodeChallengeMethod: "S256",
	}, nil
}

// GenerateState produces a CSRF state token.
func GenerateState() (string, error) {
	return randomToken()
}

func randomToken() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// OAuthFlowStart is everything the caller needs to drive the browser leg.
type OAuthFlowStart struct {
	AuthURL string
	PKCE    PKCEChallenge
	State   string
}

// BuildAuthorizationURL assembles the authorization URL with PKCE and state.
func BuildAuthorizationURL(authEndpoint, clientID, redirectURI, scope string, extraParams map[string]string) (OAuthFlowStart, error) {
	pkce, err := NewPKCEChallenge()
	if err != nil {
		return OAuthFlowStart{}, err
	}
	state, err := GenerateState()
	if err != nil {
		return OAuthFlowStart{}, fmt.Errorf("generate state: %w", err)
	}

	params := url.Values{}
	params.Set("client_id", clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("response_type", "code")
	params.Set("scope", scope)
	params.Set("state", state)
	params.Set("code_challenge", pkce.CodeChallenge)
	params.Set("code_challenge_method", pkce.CodeChallengeMethod)
	for key, value := range extraParams {
		params.Set(key, value)
	}

	return OAuthFlowStart{
		AuthURL: authEndpoint + "?" + params.Encode(),
		PKCE:    pkce,
		State:   state,
	}, nil
}

// ExchangeAuthorizationCode trades an authorization code for tokens.
// A non-2xx reply is an error carrying status and body.
func ExchangeAuthorizationCode(ctx context.Context, tokenEndpoint, clientID, redirectURI, code, codeVerifier string, extraForm map[string]string) (TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", clientID)
	form.Set("code_verifier", codeVerifier)
	for key, value := range extraForm {
		form.Set(key, value)
	}
	return postTokenForm(ctx, tokenEndpoint, form)
}

// RefreshAccessToken trades a refresh token for a fresh token set.
func RefreshAccessToken(ctx context.Context, tokenEndpoint, clientID, refreshToken string) (TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", clientID)
	return postTokenForm(ctx, tokenEndpoint, form)
}

func postTokenForm(ctx context.Context, endpoint string, form url.Values) (TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return TokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TokenResponse{}, fmt.Errorf("oauth token exchange failed (HTTP %d): %s", resp.StatusCode, body)
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return TokenResponse{}, fmt.Errorf("parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return TokenResponse{}, fmt.Errorf("token response missing access_token")
	}
	return token, nil
}
