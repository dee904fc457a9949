// Package auth supplies service credentials to the adapters. Token
// acquisition itself is external; this package defines the collaborator
// interface and two common providers.
package auth

import (
	"context"
	"sync"
	"time"

	"speechlink-go/src/core/utils"

	"github.com/golang-jwt/jwt/v5"
)

// Token is one credential with an optional known expiry.
type Token struct {
	Value  string
	Expiry time.Time
}

// Expired reports whether the token is past (or within a minute of) its
// expiry. Tokens with no known expiry never report expired.
func (t Token) Expired() bool {
	if t.Expiry.IsZero() {
		return false
	}
	return time.Now().Add(time.Minute).After(t.Expiry)
}

// Provider is the authentication collaborator.
//
// Fetch returns the current credential, possibly cached. FetchOnExpiry
// forces a refresh and is called by the adapter exactly once after a 403.
type Provider interface {
	Fetch(ctx context.Context) (Token, error)
	FetchOnExpiry(ctx context.Context) (Token, error)
}

// StaticProvider returns a fixed subscription key or token.
type StaticProvider struct {
	token Token
}

func NewStaticProvider(value string) *StaticProvider {
	return &StaticProvider{token: Token{Value: value}}
}

func (p *StaticProvider) Fetch(ctx context.Context) (Token, error) {
	return p.token, nil
}

func (p *StaticProvider) FetchOnExpiry(ctx context.Context) (Token, error) {
	return p.token, nil
}

// CachedProvider caches tokens from a fetch function and refreshes when
// the cached token expires. Expiry is read from the token's JWT exp claim
// when the issuer does not report it out of band.
type CachedProvider struct {
	fetch func(ctx context.Context) (string, error)

	mu    sync.Mutex
	token Token
}

func NewCachedProvider(fetch func(ctx context.Context) (string, error)) *CachedProvider {
	return &CachedProvider{fetch: fetch}
}

func (p *CachedProvider) Fetch(ctx context.Context) (Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token.Value != "" && !p.token.Expired() {
		return p.token, nil
	}
	return p.refreshLocked(ctx)
}

func (p *CachedProvider) FetchOnExpiry(ctx context.Context) (Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshLocked(ctx)
}

func (p *CachedProvider) refreshLocked(ctx context.Context) (Token, error) {
	value, err := p.fetch(ctx)
	if err != nil {
		return Token{}, utils.WrapError(utils.KindAuth, "auth.CachedProvider", "token fetch failed", err)
	}
	p.token = Token{Value: value, Expiry: tokenExpiry(value)}
	return p.token, nil
}

// tokenExpiry extracts the exp claim without verifying the signature; the
// client only needs the refresh deadline, validation is the service's job.
func tokenExpiry(value string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(value, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
