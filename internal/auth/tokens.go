// Package auth issues and verifies the opaque bearer tokens shared by the
// REST API and the realtime relay. It stands in for a hosted auth service;
// federated login is out of scope.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// ErrInvalidToken covers unknown, malformed and expired tokens alike.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Identity is the resolved owner of a token.
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// Token pairs a bearer value with its expiry.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type entry struct {
	identity  Identity
	expiresAt time.Time
}

// Provider hands out random bearer tokens with a fixed TTL and verifies them
// on every call. Refreshing swaps the bearer for a fresh one; the old value
// is revoked immediately.
type Provider struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	tokens map[string]entry
}

// NewProvider creates a provider whose tokens live for ttl.
func NewProvider(ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Provider{
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]entry),
	}
}

// Issue mints a fresh token for the identity.
func (p *Provider) Issue(id Identity) Token {
	value := randomToken()
	expires := p.now().Add(p.ttl)
	p.mu.Lock()
	p.tokens[value] = entry{identity: id, expiresAt: expires}
	p.pruneLocked()
	p.mu.Unlock()
	return Token{Value: value, ExpiresAt: expires}
}

// Verify resolves a bearer value to its identity.
func (p *Provider) Verify(value string) (Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.tokens[value]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	if p.now().After(e.expiresAt) {
		delete(p.tokens, value)
		return Identity{}, ErrInvalidToken
	}
	return e.identity, nil
}

// Refresh exchanges a still-valid token for a fresh one and revokes the old
// value.
func (p *Provider) Refresh(value string) (Token, error) {
	id, err := p.Verify(value)
	if err != nil {
		return Token{}, err
	}
	p.mu.Lock()
	delete(p.tokens, value)
	p.mu.Unlock()
	return p.Issue(id), nil
}

func (p *Provider) pruneLocked() {
	now := p.now()
	for value, e := range p.tokens {
		if now.After(e.expiresAt) {
			delete(p.tokens, value)
		}
	}
}

func randomToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform source is broken; there
		// is no reasonable recovery.
		panic(err)
	}
	return hex.EncodeToString(buf)
}
