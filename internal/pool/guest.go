package pool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	guestAttempts   = 3
	guestRetryDelay = time.Second

	// guestDefaultTTL bounds the guest credential lifetime when the issued
	// token carries no parseable expiry.
	guestDefaultTTL = 10 * time.Minute

	// guestExpirySlack re-fetches slightly before the real expiry so an
	// in-flight request never rides a token across its deadline.
	guestExpirySlack = time.Minute
)

// GuestClient fetches anonymous credentials from the upstream issuance
// endpoint with bounded retry.
type GuestClient struct {
	URL        string
	HTTPClient *http.Client

	// RetryDelay overrides the inter-attempt delay; tests shorten it.
	RetryDelay time.Duration
}

// NewGuestClient creates a guest issuance client with the given per-attempt
// timeout.
func NewGuestClient(url string, timeout time.Duration) *GuestClient {
	return &GuestClient{
		URL:        url,
		HTTPClient: &http.Client{Timeout: timeout},
		RetryDelay: guestRetryDelay,
	}
}

// FetchGuest obtains a fresh guest credential. A 403 from the endpoint
// aborts immediately with ErrGuestBlocked instead of retrying into a wall.
func (g *GuestClient) FetchGuest(ctx context.Context) (*Credential, error) {
	var lastErr error
	for attempt := 1; attempt <= guestAttempts; attempt++ {
		cred, err := g.fetchOnce(ctx)
		if err == nil {
			return cred, nil
		}
		if err == ErrGuestBlocked {
			return nil, err
		}
		lastErr = err
		slog.Warn("guest token fetch failed", "attempt", attempt, "error", err)
		if attempt < guestAttempts {
			select {
			case <-time.After(g.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNoCredentials, lastErr)
}

func (g *GuestClient) fetchOnce(ctx context.Context) (*Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, ErrGuestBlocked
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("guest auth endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	token := gjson.GetBytes(body, "token").String()
	if token == "" {
		return nil, fmt.Errorf("guest auth response missing token")
	}
	userID := gjson.GetBytes(body, "id").String()
	if userID == "" {
		userID = userIDFromToken(token)
	}

	return &Credential{
		Token:     token,
		UserID:    userID,
		isGuest:   true,
		isValid:   true,
		expiresAt: guestExpiry(token),
	}, nil
}

// guestExpiry derives the credential expiry from the token's JWT exp claim,
// falling back to a fixed TTL for opaque tokens.
func guestExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time.Add(-guestExpirySlack)
		}
	}
	return time.Now().Add(guestDefaultTTL)
}

// userIDFromToken extracts a stable user id from a JWT's id claim. Opaque
// tokens get a random identity per process lifetime.
func userIDFromToken(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if id, ok := claims["id"].(string); ok && strings.TrimSpace(id) != "" {
			return id
		}
	}
	return "guest-" + uuid.New().String()
}
