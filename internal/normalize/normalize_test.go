package normalize

import (
	"strings"
	"testing"

	"zaigate/internal/types"
)

func TestOpenAIChatBasics(t *testing.T) {
	body := []byte(`{
		"model": "glm-4.5",
		"messages": [
			{"role": "system", "content": "be terse"},
			{"role": "user", "content": "hello"}
		],
		"temperature": 0.3,
		"max_tokens": 100
	}`)

	req, nerr := OpenAIChat(body, true)
	if nerr != nil {
		t.Fatalf("OpenAIChat: %v", nerr)
	}
	if req.ModelID != "glm-4.5" {
		t.Errorf("model = %q", req.ModelID)
	}
	if !req.Stream {
		t.Error("unset stream should take the default")
	}
	if len(req.Messages) != 2 || req.Messages[1].Text() != "hello" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.Params["temperature"] != 0.3 || req.Params["max_tokens"] != 100 {
		t.Errorf("params = %+v", req.Params)
	}
}

func TestOpenAIChatExplicitStreamWins(t *testing.T) {
	body := []byte(`{"model":"m","stream":false,"messages":[{"role":"user","content":"x"}]}`)
	req, nerr := OpenAIChat(body, true)
	if nerr != nil {
		t.Fatalf("OpenAIChat: %v", nerr)
	}
	if req.Stream {
		t.Error("explicit stream:false must win over the default")
	}
}

func TestOpenAIChatMultimodalParts(t *testing.T) {
	body := []byte(`{
		"model": "glm-4.5v",
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "what is this"},
			{"type": "image_url", "image_url": {"url": "https://example.com/a.png"}}
		]}]
	}`)

	req, nerr := OpenAIChat(body, false)
	if nerr != nil {
		t.Fatalf("OpenAIChat: %v", nerr)
	}
	blocks := req.Messages[0].Blocks
	if len(blocks) != 2 || blocks[1].Type != "image_url" || blocks[1].URL != "https://example.com/a.png" {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestOpenAIChatFeatureOverrides(t *testing.T) {
	body := []byte(`{"model":"m","enable_thinking":false,"enable_web_search":true,"messages":[{"role":"user","content":"x"}]}`)
	req, nerr := OpenAIChat(body, false)
	if nerr != nil {
		t.Fatalf("OpenAIChat: %v", nerr)
	}
	if req.Overrides.Thinking == nil || *req.Overrides.Thinking {
		t.Error("enable_thinking:false not captured")
	}
	if req.Overrides.WebSearch == nil || !*req.Overrides.WebSearch {
		t.Error("enable_web_search:true not captured")
	}
}

func TestOpenAIChatRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"no messages", `{"model":"m","messages":[]}`},
		{"bad content type", `{"model":"m","messages":[{"role":"user","content":42}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, nerr := OpenAIChat([]byte(tc.body), false); nerr == nil {
				t.Error("expected a normalization error")
			}
		})
	}
}

func TestAnthropicMessagesBasics(t *testing.T) {
	body := []byte(`{
		"model": "glm-4.5",
		"system": "be helpful",
		"max_tokens": 256,
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	req, nerr := AnthropicMessages(body)
	if nerr != nil {
		t.Fatalf("AnthropicMessages: %v", nerr)
	}
	if req.Stream {
		t.Error("stream must default to false for the Messages API")
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != types.RoleSystem {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if req.Messages[0].Text() != "be helpful" {
		t.Errorf("system text = %q", req.Messages[0].Text())
	}
	if req.Params["max_tokens"] != 256 {
		t.Errorf("params = %+v", req.Params)
	}
}

func TestAnthropicSystemBlockArray(t *testing.T) {
	body := []byte(`{
		"model": "m",
		"system": [{"type":"text","text":"one"},{"type":"text","text":"two"}],
		"messages": [{"role":"user","content":"x"}]
	}`)
	req, nerr := AnthropicMessages(body)
	if nerr != nil {
		t.Fatalf("AnthropicMessages: %v", nerr)
	}
	if req.Messages[0].Text() != "one\ntwo" {
		t.Errorf("system text = %q", req.Messages[0].Text())
	}
}

func TestAnthropicBase64Image(t *testing.T) {
	body := []byte(`{
		"model": "glm-4.5v",
		"messages": [{"role":"user","content":[
			{"type":"text","text":"describe"},
			{"type":"image","source":{"type":"base64","media_type":"image/png","data":"AAAA"}}
		]}]
	}`)
	req, nerr := AnthropicMessages(body)
	if nerr != nil {
		t.Fatalf("AnthropicMessages: %v", nerr)
	}
	blocks := req.Messages[0].Blocks
	if len(blocks) != 2 {
		t.Fatalf("blocks = %+v", blocks)
	}
	if !strings.HasPrefix(blocks[1].URL, "data:image/png;base64,") {
		t.Errorf("image URL = %q", blocks[1].URL)
	}
}

func TestAnthropicThinkingToggle(t *testing.T) {
	body := []byte(`{"model":"m","thinking":{"type":"enabled"},"messages":[{"role":"user","content":"x"}]}`)
	req, nerr := AnthropicMessages(body)
	if nerr != nil {
		t.Fatalf("AnthropicMessages: %v", nerr)
	}
	if req.Overrides.Thinking == nil || !*req.Overrides.Thinking {
		t.Error("thinking enabled toggle not captured")
	}
}
