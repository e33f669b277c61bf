package common

import (
	"sync"

	"golang.org/x/oauth2"
)

// CredentialProvider is consulted by the request client before every attempt.
// An invalid or absent credential means the request goes out without an
// Authorization header.
type CredentialProvider interface {
	IsValid() bool
	CurrentToken() (token string, ok bool)
}

var (
	_ CredentialProvider = (*TokenProvider)(nil)
	_ CredentialProvider = (*TokenSourceProvider)(nil)
)

// TokenProvider holds a single *oauth2.Token that can be swapped at runtime,
// e.g. after a login elsewhere in the application.
type TokenProvider struct {
	mu    sync.RWMutex
	token *oauth2.Token
}

// NewTokenProvider returns a provider for token. A nil token is allowed.
func NewTokenProvider(token *oauth2.Token) *TokenProvider {
	return &TokenProvider{token: token}
}

// SetToken replaces the current token.
func (p *TokenProvider) SetToken(token *oauth2.Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
}

// IsValid reports whether the token is non-nil, has an access token and is not expired.
func (p *TokenProvider) IsValid() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token.Valid()
}

// CurrentToken returns the access token while it is valid.
func (p *TokenProvider) CurrentToken() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.token.Valid() {
		return "", false
	}
	return p.token.AccessToken, true
}

// TokenSourceProvider adapts any oauth2.TokenSource (refresh-token flows,
// client credentials, ...). Tokens are reused until they expire.
type TokenSourceProvider struct {
	src oauth2.TokenSource
}

// NewTokenSourceProvider wraps src in an oauth2.ReuseTokenSource.
func NewTokenSourceProvider(src oauth2.TokenSource) *TokenSourceProvider {
	return &TokenSourceProvider{src: oauth2.ReuseTokenSource(nil, src)}
}

// IsValid reports whether the source currently yields a token.
func (p *TokenSourceProvider) IsValid() bool {
	_, ok := p.CurrentToken()
	return ok
}

// CurrentToken fetches from the source. A fetch error is treated as "no credential".
func (p *TokenSourceProvider) CurrentToken() (string, bool) {
	tok, err := p.src.Token()
	if err != nil || !tok.Valid() {
		return "", false
	}
	return tok.AccessToken, true
}
