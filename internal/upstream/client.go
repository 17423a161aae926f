package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"zaigate/internal/config"
	"zaigate/internal/fingerprint"
	"zaigate/internal/pool"
	"zaigate/internal/signing"
	"zaigate/internal/types"
)

// ErrNoSigningText is returned when the request carries no user-authored
// text to sign. The upstream rejects unsigned requests, so this is fatal
// before any network call.
var ErrNoSigningText = errors.New("no user message text available for request signing")

// Client sends signed, fingerprinted requests to the upstream chat endpoint.
type Client struct {
	cfg  *config.ServerConfig
	pool *pool.Pool
	fp   *fingerprint.Generator
	http *http.Client

	// OnRotate, if set, is invoked when a credential rotation happens.
	OnRotate func(guest bool)
}

// NewClient creates an upstream client. The HTTP timeout covers the full
// stream lifetime, so it is generous.
func NewClient(cfg *config.ServerConfig, p *pool.Pool, fp *fingerprint.Generator) *Client {
	return &Client{
		cfg:  cfg,
		pool: p,
		fp:   fp,
		http: &http.Client{Timeout: cfg.UpstreamTimeout},
	}
}

// Do sends the envelope once using the given credential. signText is the
// last user-authored message text; the upstream validates the signature
// against it.
func (c *Client) Do(ctx context.Context, env *types.UpstreamEnvelope, signText string, cred *pool.Credential) (*http.Response, error) {
	if signText == "" {
		return nil, ErrNoSigningText
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upstream payload: %w", err)
	}
	if c.cfg.Debug {
		slog.Debug("upstream.request.payload", "payload", string(redactPayload(body)))
	}

	requestID := uuid.NewString()
	now := time.Now().UnixMilli()
	identity := signing.Identity(requestID, now, cred.UserID)
	key := signing.RootKey(c.cfg.SigningSecret, config.SigningSecretDefault)
	sig, tsStr := signing.Sign(key, identity, signText, now)

	q := url.Values{}
	q.Set("requestId", requestID)
	q.Set("timestamp", tsStr)
	q.Set("user_id", cred.UserID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ChatURL()+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.Token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Signature", sig)
	for k, v := range c.fp.Headers(env.ChatID) {
		httpReq.Header.Set(k, v)
	}

	if c.cfg.Verbose {
		slog.Info("upstream.request",
			"model", env.Model,
			"messages", len(env.Messages),
			"stream", env.Stream,
			"guest", cred.IsGuest(),
			"request_id", requestID,
		)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if c.cfg.Verbose {
		slog.Info("upstream.response", "status", resp.StatusCode, "request_id", requestID)
	}
	return resp, nil
}

// DoWithRotate acquires a credential, sends the request, and on a transport
// or auth failure rotates to a replacement credential and retries exactly
// once. HTTP success is reported back to the pool.
func (c *Client) DoWithRotate(ctx context.Context, env *types.UpstreamEnvelope, signText string) (*http.Response, error) {
	cred, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.Do(ctx, env, signText, cred)
	if !shouldRotate(resp, err) {
		if err == nil && resp.StatusCode < 400 {
			c.pool.ReportSuccess(cred)
		}
		return resp, err
	}
	if resp != nil {
		resp.Body.Close()
	}
	slog.Warn("upstream call failed; rotating credential",
		"guest", cred.IsGuest(), "status", statusOf(resp), "error", err)
	if c.OnRotate != nil {
		c.OnRotate(cred.IsGuest())
	}

	next := c.pool.ReportFailure(cred)
	if next == nil {
		// No configured credential left; Acquire degrades to guest mode.
		next, err = c.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
	}

	resp, err = c.Do(ctx, env, signText, next)
	if err != nil {
		c.pool.ReportFailure(next)
		return nil, err
	}
	if resp.StatusCode < 400 {
		c.pool.ReportSuccess(next)
	} else {
		c.pool.ReportFailure(next)
	}
	return resp, nil
}

// shouldRotate reports whether the outcome warrants a one-shot retry with a
// replacement credential: transport failure or an auth-class rejection.
func shouldRotate(resp *http.Response, err error) bool {
	if errors.Is(err, ErrNoSigningText) {
		return false
	}
	if err != nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return true
	}
	return false
}

func statusOf(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	return strconv.Itoa(resp.StatusCode)
}
