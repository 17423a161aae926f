// Package upstream builds and sends requests to the upstream chat API:
// payload assembly, request signing, fingerprinted transport, credential
// rotation, and file upload.
package upstream

import (
	"log/slog"

	"github.com/google/uuid"

	"zaigate/internal/models"
	"zaigate/internal/types"
)

// BuildEnvelope maps normalized messages onto the upstream payload shape.
// Caller params override the model's default sampling parameters key by key;
// feature overrides win over model-capability defaults. Non-text content
// sent to a model without vision capability is discarded with a logged
// warning, never an error.
func BuildEnvelope(messages []types.Message, mc models.Config, ov types.FeatureOverrides, params map[string]any, stream bool) *types.UpstreamEnvelope {
	env := &types.UpstreamEnvelope{
		Stream:   stream,
		Model:    mc.UpstreamID,
		Messages: make([]types.UpstreamMessage, 0, len(messages)),
		Params:   mergeParams(mc.DefaultParams, params),
		Features: buildFeatures(mc, ov),
		ChatID:   uuid.NewString(),
		ID:       uuid.NewString(),
		ModelItem: types.ModelItem{
			ID:      mc.UpstreamID,
			Name:    mc.Name,
			OwnedBy: "openai",
		},
		ToolServers: []string{},
		Variables:   map[string]string{},
	}

	for _, m := range messages {
		env.Messages = append(env.Messages, upstreamMessage(m, mc))
	}
	return env
}

func upstreamMessage(m types.Message, mc models.Config) types.UpstreamMessage {
	if !m.HasNonText() {
		return types.UpstreamMessage{Role: m.Role, Content: m.Text()}
	}
	if !mc.Capabilities.Vision {
		slog.Warn("discarding non-text content for model without vision capability",
			"model", mc.ID, "role", m.Role)
		return types.UpstreamMessage{Role: m.Role, Content: m.Text()}
	}

	blocks := make([]map[string]any, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		switch b.Type {
		case "text":
			blocks = append(blocks, map[string]any{"type": "text", "text": b.Text})
		case "image_url":
			blocks = append(blocks, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": b.URL},
			})
		default:
			slog.Warn("discarding unsupported content block", "type", b.Type)
		}
	}
	return types.UpstreamMessage{Role: m.Role, Content: blocks}
}

func mergeParams(defaults, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// buildFeatures applies the precedence rule: an explicit override wins
// verbatim, an absent one falls back to the model's capability default.
// Web search and image generation default off even on capable models.
func buildFeatures(mc models.Config, ov types.FeatureOverrides) map[string]any {
	return map[string]any{
		"enable_thinking":  boolOverride(ov.Thinking, mc.Capabilities.Thinking),
		"web_search":       boolOverride(ov.WebSearch, false),
		"auto_web_search":  boolOverride(ov.AutoWebSearch, false),
		"image_generation": boolOverride(ov.ImageGeneration, false),
	}
}

func boolOverride(ov *bool, def bool) bool {
	if ov != nil {
		return *ov
	}
	return def
}
