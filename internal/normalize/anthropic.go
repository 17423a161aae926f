package normalize

import (
	"encoding/json"
	"strings"

	"zaigate/internal/types"
)

// AnthropicMessages normalizes an Anthropic Messages API request body.
// The Messages API streams only when stream:true is explicit, so the
// gateway's default streaming preference does not apply here.
func AnthropicMessages(body []byte) (*Request, *Error) {
	var req types.AnthropicMessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, badRequest("invalid JSON body")
	}
	if len(req.Messages) == 0 {
		return nil, badRequest("messages must not be empty")
	}

	out := &Request{
		ModelID: strings.TrimSpace(req.Model),
		Stream:  req.Stream,
		Params:  map[string]any{},
	}
	if req.MaxTokens > 0 {
		out.Params["max_tokens"] = req.MaxTokens
	}
	if req.Thinking != nil {
		enabled := req.Thinking.Type == "enabled"
		out.Overrides.Thinking = &enabled
	}

	if sys := systemText(req.System); sys != "" {
		out.Messages = append(out.Messages, types.TextMessage(types.RoleSystem, sys))
	}

	for _, m := range req.Messages {
		msg, err := anthropicMessage(m)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, msg)
	}
	return out, nil
}

// systemText accepts the two wire shapes of the system field: a plain
// string or an array of text blocks.
func systemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []types.AnthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func anthropicMessage(m types.AnthropicMessage) (types.Message, *Error) {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return types.TextMessage(m.Role, s), nil
	}

	var blocks []types.AnthropicContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return types.Message{}, badRequest("message content must be a string or an array of blocks")
	}

	msg := types.Message{Role: m.Role}
	for _, b := range blocks {
		switch b.Type {
		case "text":
			msg.Blocks = append(msg.Blocks, types.ContentBlock{Type: "text", Text: b.Text})
		case "image":
			if b.Source == nil {
				return types.Message{}, badRequest("image block missing source")
			}
			switch b.Source.Type {
			case "base64":
				url := "data:" + b.Source.MediaType + ";base64," + b.Source.Data
				msg.Blocks = append(msg.Blocks, types.ContentBlock{Type: "image_url", URL: url, Mime: b.Source.MediaType})
			case "url":
				msg.Blocks = append(msg.Blocks, types.ContentBlock{Type: "image_url", URL: b.Source.URL})
			default:
				return types.Message{}, badRequest("unsupported image source type " + b.Source.Type)
			}
		default:
			// tool_use/tool_result blocks are outside this gateway's scope;
			// drop them rather than failing the whole conversation.
		}
	}
	return msg, nil
}
