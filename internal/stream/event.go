package stream

import (
	"github.com/tidwall/gjson"

	"zaigate/internal/types"
)

// Phases of an upstream stream event. The upstream labels the answer phase
// "answer"; it is normalized to "content" here.
const (
	PhaseThinking = "thinking"
	PhaseContent  = "content"
	PhaseDone     = "done"
	PhaseToolCall = "tool_call"
)

// UpstreamError is an error payload carried inside a stream event.
type UpstreamError struct {
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return "upstream error " + e.Code + ": " + e.Message
	}
	return "upstream error: " + e.Message
}

// Event is one parsed upstream stream record.
type Event struct {
	Type  string
	Phase string
	Delta string
	// Edit carries a complete replay of the just-finished block when the
	// upstream re-sends it to disambiguate partial tagging.
	Edit  string
	Done  bool
	Usage *types.Usage
	Err   *UpstreamError
}

// ParseEvent decodes one upstream data line. Returns false when the line is
// not valid JSON; callers log and skip such lines.
func ParseEvent(data []byte) (*Event, bool) {
	if !gjson.ValidBytes(data) {
		return nil, false
	}
	root := gjson.ParseBytes(data)

	evt := &Event{Type: root.Get("type").String()}

	d := root.Get("data")
	evt.Phase = normalizePhase(d.Get("phase").String())
	evt.Delta = d.Get("delta_content").String()
	evt.Edit = d.Get("edit_content").String()
	evt.Done = d.Get("done").Bool() || evt.Phase == PhaseDone

	if u := d.Get("usage"); u.Exists() {
		evt.Usage = &types.Usage{
			PromptTokens:     int(u.Get("prompt_tokens").Int()),
			CompletionTokens: int(u.Get("completion_tokens").Int()),
			TotalTokens:      int(u.Get("total_tokens").Int()),
		}
	}

	// Errors may be top-level, nested under data, or phase-scoped inside
	// data.data.
	for _, loc := range []gjson.Result{root.Get("error"), d.Get("error"), d.Get("data.error")} {
		if !loc.Exists() {
			continue
		}
		msg := loc.Get("detail").String()
		if msg == "" {
			msg = loc.Get("message").String()
		}
		if msg == "" {
			msg = loc.String()
		}
		evt.Err = &UpstreamError{Code: loc.Get("code").String(), Message: msg}
		break
	}

	return evt, true
}

func normalizePhase(phase string) string {
	switch phase {
	case "answer":
		return PhaseContent
	default:
		return phase
	}
}
