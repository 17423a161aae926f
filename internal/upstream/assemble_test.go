package upstream

import (
	"testing"

	"zaigate/internal/models"
	"zaigate/internal/types"
)

func boolPtr(v bool) *bool { return &v }

func TestBuildEnvelopeBasics(t *testing.T) {
	mc := models.NewRegistry().Resolve("glm-4.5")
	msgs := []types.Message{
		types.TextMessage(types.RoleSystem, "be terse"),
		types.TextMessage(types.RoleUser, "hello"),
	}

	env := BuildEnvelope(msgs, mc, types.FeatureOverrides{}, nil, true)

	if env.Model != mc.UpstreamID {
		t.Errorf("model = %q, want upstream id %q", env.Model, mc.UpstreamID)
	}
	if !env.Stream {
		t.Error("stream flag lost")
	}
	if len(env.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(env.Messages))
	}
	if env.Messages[1].Content != "hello" {
		t.Errorf("text-only content should be a plain string, got %#v", env.Messages[1].Content)
	}
	if env.ChatID == "" || env.ID == "" {
		t.Error("session identifiers not populated")
	}
	if env.ModelItem.Name != mc.Name {
		t.Errorf("model_item name = %q", env.ModelItem.Name)
	}
}

func TestBuildEnvelopeParamPrecedence(t *testing.T) {
	mc := models.NewRegistry().Resolve("glm-4.5")
	env := BuildEnvelope(nil, mc, types.FeatureOverrides{}, map[string]any{"temperature": 0.1}, false)

	if env.Params["temperature"] != 0.1 {
		t.Errorf("caller temperature lost: %v", env.Params["temperature"])
	}
	if env.Params["top_p"] != mc.DefaultParams["top_p"] {
		t.Errorf("model default top_p lost: %v", env.Params["top_p"])
	}
}

func TestBuildEnvelopeFeaturePrecedence(t *testing.T) {
	mc := models.NewRegistry().Resolve("glm-4.5") // thinking-capable

	env := BuildEnvelope(nil, mc, types.FeatureOverrides{}, nil, false)
	if env.Features["enable_thinking"] != true {
		t.Error("capability default should enable thinking")
	}

	env = BuildEnvelope(nil, mc, types.FeatureOverrides{Thinking: boolPtr(false)}, nil, false)
	if env.Features["enable_thinking"] != false {
		t.Error("explicit override must win over capability default")
	}

	env = BuildEnvelope(nil, mc, types.FeatureOverrides{WebSearch: boolPtr(true)}, nil, false)
	if env.Features["web_search"] != true {
		t.Error("web search override not honored")
	}
}

func TestBuildEnvelopeOverrideWinsOverCapability(t *testing.T) {
	mc := models.NewRegistry().Resolve("glm-4.5v") // no web-search capability

	env := BuildEnvelope(nil, mc, types.FeatureOverrides{WebSearch: boolPtr(true)}, nil, false)
	if env.Features["web_search"] != true {
		t.Error("explicit web_search override must win even without the capability flag")
	}

	env = BuildEnvelope(nil, mc, types.FeatureOverrides{}, nil, false)
	if env.Features["web_search"] != false {
		t.Error("absent web_search override must default off")
	}
}

func TestBuildEnvelopeTruncatesNonVisionMultimodal(t *testing.T) {
	mc := models.NewRegistry().Resolve("glm-4.5") // no vision
	msg := types.Message{Role: types.RoleUser, Blocks: []types.ContentBlock{
		{Type: "text", Text: "look at this"},
		{Type: "image_url", URL: "data:image/png;base64,AAAA"},
	}}

	env := BuildEnvelope([]types.Message{msg}, mc, types.FeatureOverrides{}, nil, false)

	if env.Messages[0].Content != "look at this" {
		t.Errorf("non-text blocks should be discarded to text-only, got %#v", env.Messages[0].Content)
	}
}

func TestBuildEnvelopeKeepsVisionBlocks(t *testing.T) {
	mc := models.NewRegistry().Resolve("glm-4.5v")
	msg := types.Message{Role: types.RoleUser, Blocks: []types.ContentBlock{
		{Type: "text", Text: "look"},
		{Type: "image_url", URL: "https://example.com/x.png"},
	}}

	env := BuildEnvelope([]types.Message{msg}, mc, types.FeatureOverrides{}, nil, false)

	blocks, ok := env.Messages[0].Content.([]map[string]any)
	if !ok || len(blocks) != 2 {
		t.Fatalf("vision model should keep block list, got %#v", env.Messages[0].Content)
	}
	if blocks[1]["type"] != "image_url" {
		t.Errorf("image block lost: %#v", blocks[1])
	}
}
