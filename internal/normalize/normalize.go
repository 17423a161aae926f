// Package normalize converts public-format chat requests (OpenAI chat
// completions, Anthropic messages) into the gateway's internal
// representation.
package normalize

import (
	"net/http"

	"zaigate/internal/types"
)

// Request is the format-independent result of normalization, consumed by
// the request assembler.
type Request struct {
	Messages  []types.Message
	ModelID   string
	Overrides types.FeatureOverrides
	Stream    bool
	// Params carries caller-supplied sampling parameters; merged over the
	// model defaults by the assembler.
	Params       map[string]any
	IncludeUsage bool
}

// Error is a normalization failure with the HTTP status it should map to.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string { return e.Message }

func badRequest(msg string) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Message: msg}
}
