// Package pool manages upstream credentials: configured long-lived tokens
// rotated round-robin with failure tracking, and a cached guest credential
// fetched from the upstream's anonymous issuance endpoint when no configured
// credential is usable.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNoCredentials is returned when neither a configured credential nor
	// a guest credential could be obtained.
	ErrNoCredentials = errors.New("no usable upstream credentials")

	// ErrGuestBlocked is returned when the guest issuance endpoint rejects
	// the request outright; retrying would not help.
	ErrGuestBlocked = errors.New("guest token issuance blocked by upstream")
)

// FailureThreshold is the consecutive-failure count at which a credential is
// marked invalid.
const FailureThreshold = 3

// Credential is one upstream identity. All mutation happens under the
// owning Pool's lock.
type Credential struct {
	Token  string
	UserID string

	isGuest             bool
	isValid             bool
	consecutiveFailures int
	lastUsedAt          time.Time
	expiresAt           time.Time // guest only; zero for configured tokens
}

// IsGuest reports whether this is a guest-issued credential.
func (c *Credential) IsGuest() bool { return c.isGuest }

// Pool selects and rotates credentials. Safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	creds  []*Credential
	cursor int

	guest      *Credential
	guestFetch GuestFetcher
	threshold  int
}

// GuestFetcher obtains a fresh guest credential. Implemented by GuestClient;
// a func type so tests can stub issuance.
type GuestFetcher interface {
	FetchGuest(ctx context.Context) (*Credential, error)
}

// New creates a pool over the configured tokens. gf may be nil when guest
// fallback is not wanted (tests).
func New(tokens []string, gf GuestFetcher) *Pool {
	p := &Pool{guestFetch: gf, threshold: FailureThreshold}
	for _, t := range tokens {
		p.creds = append(p.creds, &Credential{
			Token:   t,
			UserID:  userIDFromToken(t),
			isValid: true,
		})
	}
	return p
}

// Acquire returns the next usable credential, scanning round-robin from the
// last-used position. When no configured credential qualifies it falls back
// to the guest credential, fetching one if absent or expired.
func (p *Pool) Acquire(ctx context.Context) (*Credential, error) {
	p.mu.Lock()
	if c := p.nextLocked(); c != nil {
		c.lastUsedAt = time.Now()
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()
	return p.acquireGuest(ctx)
}

// ReportSuccess records a successful use of the credential.
func (p *Pool) ReportSuccess(c *Credential) {
	if c == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c.consecutiveFailures = 0
	c.lastUsedAt = time.Now()
}

// ReportFailure records a failed use. At the failure threshold the
// credential is invalidated. Returns the next eligible configured credential
// or nil when none remain (the caller then falls back to Acquire, which
// degrades to guest mode).
func (p *Pool) ReportFailure(c *Credential) *Credential {
	if c == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c.consecutiveFailures++
	if !c.isGuest && c.consecutiveFailures >= p.threshold {
		c.isValid = false
	}
	if c.isGuest {
		// A failing guest credential is simply discarded; the next Acquire
		// fetches a fresh one.
		if p.guest == c {
			p.guest = nil
		}
		return nil
	}
	return p.nextLocked()
}

// nextLocked returns the next valid under-threshold configured credential
// starting at the cursor and leaves the cursor just past the chosen one, or
// returns nil. Caller holds the lock.
func (p *Pool) nextLocked() *Credential {
	n := len(p.creds)
	for i := 0; i < n; i++ {
		c := p.creds[(p.cursor+i)%n]
		if c.isValid && c.consecutiveFailures < p.threshold {
			p.cursor = (p.cursor + i + 1) % n
			return c
		}
	}
	return nil
}

func (p *Pool) acquireGuest(ctx context.Context) (*Credential, error) {
	p.mu.Lock()
	if g := p.guest; g != nil && time.Now().Before(g.expiresAt) {
		g.lastUsedAt = time.Now()
		p.mu.Unlock()
		return g, nil
	}
	p.guest = nil
	p.mu.Unlock()

	if p.guestFetch == nil {
		return nil, ErrNoCredentials
	}
	g, err := p.guestFetch.FetchGuest(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.guest = g
	g.lastUsedAt = time.Now()
	p.mu.Unlock()
	return g, nil
}
