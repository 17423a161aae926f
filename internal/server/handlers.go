package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"zaigate/internal/codec"
	"zaigate/internal/config"
	"zaigate/internal/normalize"
	"zaigate/internal/stream"
	"zaigate/internal/toolcall"
	"zaigate/internal/types"
	"zaigate/internal/upstream"
)

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	nreq, nerr := normalize.OpenAIChat(body, s.Config.DefaultStream)
	if nerr != nil {
		codec.WriteOpenAIError(w, nerr.StatusCode, nerr.Message)
		return
	}

	resp, status, errMsg := s.callUpstream(r.Context(), nreq)
	if errMsg != "" {
		codec.WriteOpenAIError(w, status, errMsg)
		return
	}
	defer resp.Body.Close()

	det := toolcall.NewDetector(s.tools.Names())
	bridge := &toolcall.Bridge{Exec: s.tools}
	reader := stream.NewReader(resp.Body)

	if !nreq.Stream {
		res, err := stream.Collect(r.Context(), reader, s.Config.ThinkingMode, det, bridge)
		if err != nil {
			codec.WriteOpenAIError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.recorder.TokensUsed(nreq.ModelID, res.Usage)
		codec.WriteChatCompletion(w, nreq.ModelID, res)
		return
	}

	cs := codec.NewChatStream(w, nreq.ModelID, nreq.IncludeUsage)
	if cs == nil {
		codec.WriteOpenAIError(w, http.StatusInternalServerError, "streaming unsupported by connection")
		return
	}
	tr := stream.NewTransformer(s.Config.ThinkingMode, s.meterSink(nreq.ModelID, cs.Sink), det, bridge)
	if err := pumpStream(r.Context(), reader, tr); err != nil {
		// Headers are committed; nothing more can be sent to the client.
		slog.Debug("stream ended with error", "error", err)
	}
}

func (s *Server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	nreq, nerr := normalize.AnthropicMessages(body)
	if nerr != nil {
		codec.WriteAnthropicError(w, nerr.StatusCode, "invalid_request_error", nerr.Message)
		return
	}

	resp, status, errMsg := s.callUpstream(r.Context(), nreq)
	if errMsg != "" {
		codec.WriteAnthropicError(w, status, "api_error", errMsg)
		return
	}
	defer resp.Body.Close()

	det := toolcall.NewDetector(s.tools.Names())
	bridge := &toolcall.Bridge{Exec: s.tools}
	reader := stream.NewReader(resp.Body)

	// The Messages API separates reasoning into thinking blocks, so the
	// separate presentation is forced here regardless of the gateway-wide
	// thinking mode.
	mode := s.Config.ThinkingMode
	if mode != config.ThinkingStrip && mode != config.ThinkingRaw {
		mode = config.ThinkingSeparate
	}

	if !nreq.Stream {
		res, err := stream.Collect(r.Context(), reader, mode, det, bridge)
		if err != nil {
			codec.WriteAnthropicError(w, http.StatusBadGateway, "api_error", err.Error())
			return
		}
		s.recorder.TokensUsed(nreq.ModelID, res.Usage)
		codec.WriteAnthropicMessage(w, nreq.ModelID, res)
		return
	}

	ms := codec.NewMessageStream(w, nreq.ModelID)
	if ms == nil {
		codec.WriteAnthropicError(w, http.StatusInternalServerError, "api_error", "streaming unsupported by connection")
		return
	}
	tr := stream.NewTransformer(mode, s.meterSink(nreq.ModelID, ms.Sink), det, bridge)
	if err := pumpStream(r.Context(), reader, tr); err != nil {
		slog.Debug("stream ended with error", "error", err)
	}
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	now := time.Now().Unix()
	resp := types.ModelListResponse{Object: "list"}
	for _, id := range s.Registry.List() {
		resp.Data = append(resp.Data, types.ModelInfo{
			ID:      id,
			Object:  "model",
			Created: now,
			OwnedBy: "zaigate",
		})
	}
	codec.WriteJSON(w, http.StatusOK, resp)
}

// callUpstream resolves the model, assembles the envelope, and performs the
// rotating upstream call. A non-empty errMsg means the request failed and
// carries the status to report.
func (s *Server) callUpstream(ctx context.Context, nreq *normalize.Request) (resp *http.Response, status int, errMsg string) {
	mc := s.Registry.Resolve(nreq.ModelID)

	signText := types.LastUserText(nreq.Messages)
	if signText == "" {
		return nil, http.StatusBadRequest, "request carries no user message text; upstream signing requires one"
	}

	env := upstream.BuildEnvelope(nreq.Messages, mc, nreq.Overrides, nreq.Params, true)
	resp, err := s.client.DoWithRotate(ctx, env, signText)
	if err != nil {
		return nil, http.StatusBadGateway, "upstream call failed: " + err.Error()
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, http.StatusBadGateway, codec.FormatUpstreamError(resp.StatusCode, body)
	}
	return resp, 0, ""
}

// meterSink records token usage off the terminal unit before forwarding.
func (s *Server) meterSink(model string, next stream.Sink) stream.Sink {
	return func(u stream.Unit) error {
		if u.Kind == stream.UnitTerminal {
			s.recorder.TokensUsed(model, u.Usage)
		}
		return next(u)
	}
}

func pumpStream(ctx context.Context, r *stream.Reader, tr *stream.Transformer) error {
	for !tr.Finished() {
		evt, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := tr.Feed(ctx, evt); err != nil {
			return err
		}
	}
	return tr.Finish()
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		codec.WriteOpenAIError(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	return body, true
}
