package types

// Role constants for normalized messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ContentBlock is a single piece of message content. Text blocks carry Text;
// image and file blocks carry a URL or an upstream file handle reference.
type ContentBlock struct {
	Type string `json:"type"` // "text", "image_url", "file"
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
	Mime string `json:"mime,omitempty"`
}

// Message is the normalized internal representation of a chat message,
// produced by the public-format adapters and consumed by the request
// assembler.
type Message struct {
	Role   string
	Blocks []ContentBlock
}

// TextMessage builds a text-only message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Blocks: []ContentBlock{{Type: "text", Text: text}}}
}

// Text concatenates the text blocks of the message.
func (m Message) Text() string {
	var out string
	for _, b := range m.Blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// HasNonText reports whether the message carries any non-text block.
func (m Message) HasNonText() bool {
	for _, b := range m.Blocks {
		if b.Type != "text" {
			return true
		}
	}
	return false
}

// LastUserText returns the text of the last user-authored message, used as
// the signing payload. Empty when no user message with text exists.
func LastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			if t := messages[i].Text(); t != "" {
				return t
			}
		}
	}
	return ""
}

// Usage is the token accounting reported by the upstream.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCall is a model-emitted request to execute a named server-side
// function. Arguments is a serialized JSON object.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// FeatureOverrides carries caller-supplied feature toggles. Nil pointer
// means "no preference": the model-capability default applies.
type FeatureOverrides struct {
	Thinking        *bool
	WebSearch       *bool
	AutoWebSearch   *bool
	ImageGeneration *bool
}

// AggregateResult is the one-shot (non-streaming) outcome of a response.
type AggregateResult struct {
	Content          string
	ReasoningContent string
	Usage            *Usage
}

// FileHandle identifies a file uploaded to the upstream storage endpoint.
type FileHandle struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ErrorResponse is the OpenAI-style error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the error body inside an ErrorResponse.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

// AnthropicErrorResponse is the Anthropic-style error envelope.
type AnthropicErrorResponse struct {
	Type  string             `json:"type"`
	Error AnthropicErrorBody `json:"error"`
}

// AnthropicErrorBody is the error body inside an AnthropicErrorResponse.
type AnthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
