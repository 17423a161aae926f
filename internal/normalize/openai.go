package normalize

import (
	"encoding/json"
	"strings"

	"zaigate/internal/types"
)

// OpenAIChat normalizes an OpenAI chat completion request body.
// defaultStream applies when the request leaves "stream" unset.
func OpenAIChat(body []byte, defaultStream bool) (*Request, *Error) {
	var req types.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, badRequest("invalid JSON body")
	}
	if len(req.Messages) == 0 {
		return nil, badRequest("messages must not be empty")
	}

	out := &Request{
		ModelID: strings.TrimSpace(req.Model),
		Stream:  defaultStream,
		Params:  map[string]any{},
		Overrides: types.FeatureOverrides{
			Thinking:  req.EnableThinking,
			WebSearch: req.EnableWebSearch,
		},
	}
	if req.Stream != nil {
		out.Stream = *req.Stream
	}
	out.IncludeUsage = req.StreamOptions != nil && req.StreamOptions.IncludeUsage

	if req.Temperature != nil {
		out.Params["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		out.Params["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		out.Params["max_tokens"] = *req.MaxTokens
	}

	for _, m := range req.Messages {
		msg, err := openAIMessage(m)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, msg)
	}
	return out, nil
}

func openAIMessage(m types.ChatMessage) (types.Message, *Error) {
	switch content := m.Content.(type) {
	case nil:
		return types.TextMessage(m.Role, ""), nil
	case string:
		return types.TextMessage(m.Role, content), nil
	case []any:
		msg := types.Message{Role: m.Role}
		for _, raw := range content {
			part, ok := raw.(map[string]any)
			if !ok {
				return types.Message{}, badRequest("content parts must be objects")
			}
			switch part["type"] {
			case "text":
				text, _ := part["text"].(string)
				msg.Blocks = append(msg.Blocks, types.ContentBlock{Type: "text", Text: text})
			case "image_url":
				img, _ := part["image_url"].(map[string]any)
				url, _ := img["url"].(string)
				if url == "" {
					return types.Message{}, badRequest("image_url part missing url")
				}
				msg.Blocks = append(msg.Blocks, types.ContentBlock{Type: "image_url", URL: url})
			default:
				// Unknown part types are dropped rather than rejected; new
				// client SDK features should not hard-fail old gateways.
			}
		}
		return msg, nil
	default:
		return types.Message{}, badRequest("message content must be a string or an array of parts")
	}
}
