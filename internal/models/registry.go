// Package models maps public model identifiers to upstream model routing
// and capability defaults.
package models

import (
	"log/slog"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultModel is the public identifier requests fall back to when they name
// an unknown model.
const DefaultModel = "glm-4.5"

// Capabilities declares what a model supports. Feature defaults are derived
// from these unless the caller overrides them.
type Capabilities struct {
	Vision    bool `yaml:"vision"`
	Thinking  bool `yaml:"thinking"`
	WebSearch bool `yaml:"web_search"`
}

// Config describes one routable model.
type Config struct {
	// ID is the public identifier clients send.
	ID string `yaml:"id"`
	// UpstreamID is the identifier the upstream expects.
	UpstreamID string `yaml:"upstream_id"`
	// Name is the upstream display name, echoed into the payload model_item.
	Name         string       `yaml:"name"`
	Capabilities Capabilities `yaml:"capabilities"`
	// DefaultParams are the sampling parameters sent when the caller
	// specifies none.
	DefaultParams map[string]any `yaml:"default_params"`
}

var builtins = []Config{
	{
		ID:           "glm-4.5",
		UpstreamID:   "0727-360B-API",
		Name:         "GLM-4.5",
		Capabilities: Capabilities{Thinking: true, WebSearch: true},
		DefaultParams: map[string]any{
			"temperature": 0.6,
			"top_p":       0.95,
			"max_tokens":  80000,
		},
	},
	{
		ID:           "glm-4.5-air",
		UpstreamID:   "0727-106B-API",
		Name:         "GLM-4.5-Air",
		Capabilities: Capabilities{Thinking: true, WebSearch: true},
		DefaultParams: map[string]any{
			"temperature": 0.6,
			"top_p":       0.95,
			"max_tokens":  48000,
		},
	},
	{
		ID:           "glm-4.5v",
		UpstreamID:   "glm-4.5v",
		Name:         "GLM-4.5V",
		Capabilities: Capabilities{Vision: true, Thinking: true},
		DefaultParams: map[string]any{
			"temperature": 0.8,
			"top_p":       0.6,
			"max_tokens":  16000,
		},
	},
	{
		ID:           "glm-4.6",
		UpstreamID:   "GLM-4-6-API-V1",
		Name:         "GLM-4.6",
		Capabilities: Capabilities{Thinking: true, WebSearch: true},
		DefaultParams: map[string]any{
			"temperature": 1.0,
			"top_p":       0.95,
			"max_tokens":  195000,
		},
	},
}

// Registry resolves public model identifiers. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]Config
	listed []string
}

// NewRegistry builds a registry from the built-in model table.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[string]Config, len(builtins))}
	for _, m := range builtins {
		r.byID[m.ID] = m
		r.listed = append(r.listed, m.ID)
	}
	return r
}

// NewRegistryFromFile builds a registry from the built-ins merged with a YAML
// override file. File entries replace or extend built-ins by ID.
func NewRegistryFromFile(path string) (*Registry, error) {
	r := NewRegistry()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var overrides struct {
		Models []Config `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, err
	}
	for _, m := range overrides.Models {
		if m.ID == "" || m.UpstreamID == "" {
			slog.Warn("models file entry missing id or upstream_id, skipped")
			continue
		}
		if _, exists := r.byID[m.ID]; !exists {
			r.listed = append(r.listed, m.ID)
		}
		r.byID[m.ID] = m
	}
	sort.Strings(r.listed)
	return r, nil
}

// Resolve returns the config for a public model ID. Unknown IDs resolve to
// the default model with a logged warning; this is never an error.
func (r *Registry) Resolve(id string) Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.byID[id]; ok {
		return m
	}
	slog.Warn("unknown model, routing to default", "requested", id, "default", DefaultModel)
	return r.byID[DefaultModel]
}

// List returns all public model IDs in stable order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.listed))
	copy(out, r.listed)
	return out
}
