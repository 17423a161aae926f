package codec

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"zaigate/internal/stream"
	"zaigate/internal/types"
)

// WriteChatCompletion writes a non-streaming OpenAI chat completion from an
// aggregate result.
func WriteChatCompletion(w http.ResponseWriter, model string, res types.AggregateResult) {
	msg := types.ChatResponseMsg{Role: "assistant", Content: res.Content}
	if res.ReasoningContent != "" {
		msg.ReasoningContent = res.ReasoningContent
	}
	WriteJSON(w, http.StatusOK, types.ChatCompletionResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.ChatChoice{
			{Index: 0, Message: msg, FinishReason: stringPtr("stop")},
		},
		Usage: res.Usage,
	})
}

// ChatStream writes OpenAI chat completion chunks as SSE. Create one per
// response and use Sink as the transformer output.
type ChatStream struct {
	w  http.ResponseWriter
	fl http.Flusher

	id           string
	created      int64
	model        string
	includeUsage bool

	sentRole bool
	sentDone bool
	failed   bool
	toolIdx  int
}

// NewChatStream prepares the SSE response. Returns nil when the writer
// cannot stream.
func NewChatStream(w http.ResponseWriter, model string, includeUsage bool) *ChatStream {
	fl, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &ChatStream{
		w:            w,
		fl:           fl,
		id:           newCompletionID(),
		created:      time.Now().Unix(),
		model:        model,
		includeUsage: includeUsage,
	}
}

// Sink adapts the stream transformer's output to OpenAI chunks.
func (s *ChatStream) Sink(u stream.Unit) error {
	switch u.Kind {
	case stream.UnitContent:
		return s.writeDelta(types.ChatDelta{Content: u.Text})
	case stream.UnitReasoning:
		return s.writeDelta(types.ChatDelta{ReasoningContent: u.Text})
	case stream.UnitToolCall:
		delta := types.ChatDelta{ToolCalls: []types.ChatToolCall{{
			Index: s.toolIdx,
			ID:    u.ToolCall.ID,
			Type:  "function",
			Function: types.FunctionCall{
				Name:      u.ToolCall.Name,
				Arguments: u.ToolCall.Arguments,
			},
		}}}
		s.toolIdx++
		return s.writeDelta(delta)
	case stream.UnitTerminal:
		return s.finish(u)
	}
	return nil
}

func (s *ChatStream) writeDelta(delta types.ChatDelta) error {
	if !s.sentRole {
		s.sentRole = true
		role := delta
		role.Role = "assistant"
		delta = role
	}
	return s.writeChunk(types.ChatCompletionChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []types.ChatChunkChoice{{Index: 0, Delta: delta}},
	})
}

func (s *ChatStream) finish(u stream.Unit) error {
	if s.sentDone {
		return nil
	}
	s.sentDone = true

	if u.Err != nil {
		// Headers are already committed; surface the error as an in-stream
		// error record the way the upstream SDKs expect.
		s.writeRaw([]byte(`{"error":{"message":` + jsonString(u.Err.Error()) + `}}`))
		s.writeDone()
		return u.Err
	}

	final := types.ChatCompletionChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []types.ChatChunkChoice{{Index: 0, FinishReason: stringPtr("stop")}},
	}
	if s.includeUsage && u.Usage != nil {
		final.Usage = u.Usage
	}
	if err := s.writeChunk(final); err != nil {
		return err
	}
	s.writeDone()
	return nil
}

func (s *ChatStream) writeChunk(chunk any) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		slog.Error("failed to marshal SSE chunk", "error", err)
		return err
	}
	return s.writeRaw(data)
}

func (s *ChatStream) writeRaw(data []byte) error {
	if s.failed {
		return errClientGone
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		slog.Debug("client disconnected during SSE write", "error", err)
		s.failed = true
		return errClientGone
	}
	s.fl.Flush()
	return nil
}

func (s *ChatStream) writeDone() {
	if s.failed {
		return
	}
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		s.failed = true
		return
	}
	s.fl.Flush()
}

func newCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
