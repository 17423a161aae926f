// Package tools provides the built-in server-side tools the gateway can
// execute when the model emits an embedded invocation.
package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	fetchTimeout = 10 * time.Second
	fetchBodyCap = 64 * 1024
)

// Handler executes one tool. argsJSON is the serialized arguments object as
// emitted by the model.
type Handler func(ctx context.Context, argsJSON string) (string, error)

// Registry maps tool names to handlers. It implements the executor contract
// of the stream pipeline. Immutable after construction.
type Registry struct {
	handlers map[string]Handler
	http     *http.Client
}

// NewRegistry creates a registry with the built-in tools registered.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		http:     &http.Client{Timeout: fetchTimeout},
	}
	r.handlers["get_current_time"] = r.currentTime
	r.handlers["fetch_url"] = r.fetchURL
	r.handlers["sha256_hash"] = r.hash
	return r
}

// Names returns the registered tool names, used to gate inline-call
// detection to known tools.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Execute runs the named tool. Unknown names are an error; the stream layer
// renders it into the output rather than failing the response.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	h, ok := r.handlers[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return h(ctx, argsJSON)
}

func (r *Registry) currentTime(_ context.Context, argsJSON string) (string, error) {
	now := time.Now()
	if tz := gjson.Get(argsJSON, "timezone").String(); tz != "" {
		loc, err := time.LoadLocation(normalizeTZ(tz))
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", tz)
		}
		now = now.In(loc)
	}
	return now.Format(time.RFC3339), nil
}

func (r *Registry) fetchURL(ctx context.Context, argsJSON string) (string, error) {
	target := gjson.Get(argsJSON, "url").String()
	if target == "" {
		target = gjson.Get(argsJSON, "input").String()
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return "", fmt.Errorf("fetch_url requires an http(s) URL, got %q", target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyCap))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}
	return string(body), nil
}

func (r *Registry) hash(_ context.Context, argsJSON string) (string, error) {
	text := gjson.Get(argsJSON, "text").String()
	if text == "" {
		text = gjson.Get(argsJSON, "input").String()
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:]), nil
}

// normalizeTZ accepts a few informal timezone spellings next to IANA names.
func normalizeTZ(tz string) string {
	switch strings.ToLower(tz) {
	case "utc", "gmt":
		return "UTC"
	case "local":
		return "Local"
	default:
		return tz
	}
}
