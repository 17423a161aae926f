package codec

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"zaigate/internal/stream"
	"zaigate/internal/types"
)

// WriteAnthropicMessage writes a non-streaming Messages API response from an
// aggregate result.
func WriteAnthropicMessage(w http.ResponseWriter, model string, res types.AggregateResult) {
	var content []types.AnthropicContentOut
	if res.ReasoningContent != "" {
		content = append(content, types.AnthropicContentOut{Type: "thinking", Thinking: res.ReasoningContent})
	}
	content = append(content, types.AnthropicContentOut{Type: "text", Text: res.Content})

	resp := types.AnthropicMessageResponse{
		ID:         newMessageID(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    content,
		StopReason: stringPtr("end_turn"),
	}
	if res.Usage != nil {
		resp.Usage = types.AnthropicUsage{
			InputTokens:  res.Usage.PromptTokens,
			OutputTokens: res.Usage.CompletionTokens,
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// MessageStream writes Messages API SSE events. Content and reasoning units
// become text and thinking blocks respectively, one block per kind.
type MessageStream struct {
	w  http.ResponseWriter
	fl http.Flusher

	id    string
	model string

	started   bool
	blockOpen bool
	blockType string
	blockIdx  int
	sentStop  bool
	failed    bool
	usage     *types.Usage
}

// NewMessageStream prepares the SSE response. Returns nil when the writer
// cannot stream.
func NewMessageStream(w http.ResponseWriter, model string) *MessageStream {
	fl, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &MessageStream{w: w, fl: fl, id: newMessageID(), model: model}
}

// Sink adapts the stream transformer's output to Messages API events.
func (s *MessageStream) Sink(u stream.Unit) error {
	switch u.Kind {
	case stream.UnitContent:
		if err := s.ensureBlock("text"); err != nil {
			return err
		}
		return s.writeEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": s.blockIdx,
			"delta": map[string]any{"type": "text_delta", "text": u.Text},
		})
	case stream.UnitReasoning:
		if err := s.ensureBlock("thinking"); err != nil {
			return err
		}
		return s.writeEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": s.blockIdx,
			"delta": map[string]any{"type": "thinking_delta", "thinking": u.Text},
		})
	case stream.UnitToolCall:
		// Tool execution happens inside the gateway; the result arrives as a
		// content unit, so the notification itself is not surfaced here.
		return nil
	case stream.UnitTerminal:
		s.usage = u.Usage
		return s.finish(u.Err)
	}
	return nil
}

func (s *MessageStream) ensureBlock(blockType string) error {
	if err := s.ensureStarted(); err != nil {
		return err
	}
	if s.blockOpen && s.blockType == blockType {
		return nil
	}
	if s.blockOpen {
		if err := s.closeBlock(); err != nil {
			return err
		}
		s.blockIdx++
	}
	s.blockOpen = true
	s.blockType = blockType

	block := map[string]any{"type": blockType}
	if blockType == "text" {
		block["text"] = ""
	} else {
		block["thinking"] = ""
	}
	return s.writeEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         s.blockIdx,
		"content_block": block,
	})
}

func (s *MessageStream) ensureStarted() error {
	if s.started {
		return nil
	}
	s.started = true
	return s.writeEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":      s.id,
			"type":    "message",
			"role":    "assistant",
			"model":   s.model,
			"content": []any{},
		},
	})
}

func (s *MessageStream) closeBlock() error {
	s.blockOpen = false
	return s.writeEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": s.blockIdx,
	})
}

func (s *MessageStream) finish(upstreamErr error) error {
	if s.sentStop {
		return nil
	}
	s.sentStop = true

	if err := s.ensureStarted(); err != nil {
		return err
	}
	if s.blockOpen {
		if err := s.closeBlock(); err != nil {
			return err
		}
	}

	if upstreamErr != nil {
		if err := s.writeEvent("error", map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "api_error", "message": upstreamErr.Error()},
		}); err != nil {
			return err
		}
		return upstreamErr
	}

	delta := map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": "end_turn", "stop_sequence": nil},
	}
	if s.usage != nil {
		delta["usage"] = map[string]any{"output_tokens": s.usage.CompletionTokens}
	}
	if err := s.writeEvent("message_delta", delta); err != nil {
		return err
	}
	return s.writeEvent("message_stop", map[string]any{"type": "message_stop"})
}

func (s *MessageStream) writeEvent(event string, payload any) error {
	if s.failed {
		return errClientGone
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal SSE event", "event", event, "error", err)
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		slog.Debug("client disconnected during SSE write", "error", err)
		s.failed = true
		return errClientGone
	}
	s.fl.Flush()
	return nil
}

func newMessageID() string {
	return "msg_" + uuid.NewString()
}
