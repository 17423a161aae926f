package stream

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"zaigate/internal/config"
	"zaigate/internal/toolcall"
	"zaigate/internal/types"
)

// UnitKind tags a presentation unit emitted by the Transformer.
type UnitKind int

const (
	// UnitContent is ordinary answer text.
	UnitContent UnitKind = iota
	// UnitReasoning is separated reasoning text (separate mode only).
	UnitReasoning
	// UnitToolCall announces a detected tool invocation.
	UnitToolCall
	// UnitTerminal closes the response, carrying final usage and any
	// upstream error.
	UnitTerminal
)

// Unit is one tagged output of the transform state machine.
type Unit struct {
	Kind     UnitKind
	Text     string
	ToolCall *types.ToolCall
	Usage    *types.Usage
	Err      error
}

// Sink receives units as they are produced. A sink error aborts the
// response (typically: the client went away).
type Sink func(Unit) error

// Transformer converts upstream events into presentation units under one of
// the five thinking modes. State is response-local; create one per response
// and feed events in arrival order.
type Transformer struct {
	mode   config.ThinkingMode
	sink   Sink
	det    *toolcall.Detector
	bridge *toolcall.Bridge

	inThinking      bool
	openSent        bool
	thinkingEmitted bool
	thinkTail       string
	reasoningBuf    strings.Builder
	usage           *types.Usage
	finished        bool
}

// NewTransformer creates a transformer. det and bridge may be nil to
// disable tool-call detection.
func NewTransformer(mode config.ThinkingMode, sink Sink, det *toolcall.Detector, bridge *toolcall.Bridge) *Transformer {
	return &Transformer{mode: mode, sink: sink, det: det, bridge: bridge}
}

// Finished reports whether a terminal unit has been emitted.
func (t *Transformer) Finished() bool { return t.finished }

// Feed processes one upstream event.
func (t *Transformer) Feed(ctx context.Context, evt *Event) error {
	if t.finished || evt == nil {
		return nil
	}
	if evt.Err != nil {
		if isTransientError(evt.Err.Message) {
			slog.Warn("upstream reported a transient error; a retry of the same request usually succeeds",
				"code", evt.Err.Code, "message", evt.Err.Message)
		}
		return t.terminate(evt.Err)
	}
	if evt.Usage != nil {
		t.usage = evt.Usage
	}

	thinking := evt.Phase == PhaseThinking

	// An edit replay is authoritative for the just-finished block; it must
	// be applied before any phase-exit flush of partial accumulation.
	if evt.Edit != "" && t.mode != config.ThinkingRaw {
		if err := t.applyEdit(ctx, evt.Edit); err != nil {
			return err
		}
		if evt.Done {
			return t.terminate(nil)
		}
		return nil
	}

	switch {
	case thinking && !t.inThinking:
		t.inThinking = true
		if err := t.enterThinking(); err != nil {
			return err
		}
	case !thinking && t.inThinking:
		t.inThinking = false
		if err := t.leaveThinking(); err != nil {
			return err
		}
	}

	if evt.Delta != "" {
		var err error
		switch {
		case thinking:
			err = t.feedThinking(evt.Delta)
		case evt.Phase == PhaseToolCall:
			// Tool-call phase deltas carry the invocation text itself; they
			// ride the content path so the detector can claim them.
			err = t.feedContent(ctx, evt.Delta)
		default:
			err = t.feedContent(ctx, evt.Delta)
		}
		if err != nil {
			return err
		}
	}

	if evt.Done {
		return t.terminate(nil)
	}
	return nil
}

// Finish terminates the response when the upstream closed without a done
// event.
func (t *Transformer) Finish() error {
	return t.terminate(nil)
}

func (t *Transformer) terminate(upstreamErr error) error {
	if t.finished {
		return nil
	}
	t.finished = true

	if t.inThinking {
		t.inThinking = false
		if err := t.leaveThinking(); err != nil {
			return err
		}
	}
	if t.det != nil {
		if rest := t.det.Flush(); rest != "" {
			if err := t.emitContent(rest); err != nil {
				return err
			}
		}
	}
	return t.sink(Unit{Kind: UnitTerminal, Usage: t.usage, Err: upstreamErr})
}

func (t *Transformer) enterThinking() error {
	if t.thinkingEmitted {
		return nil
	}
	switch t.mode {
	case config.ThinkingThink, config.ThinkingThinkFul:
		t.openSent = true
		return t.emitContent(openMarker(t.mode))
	case config.ThinkingSeparate:
		t.reasoningBuf.Reset()
	}
	return nil
}

func (t *Transformer) leaveThinking() error {
	switch t.mode {
	case config.ThinkingThink, config.ThinkingThinkFul:
		if t.openSent {
			t.openSent = false
			t.thinkingEmitted = true
			if cleaned := cleanThinking(t.resolveTail()); cleaned != "" {
				if err := t.emitContent(cleaned); err != nil {
					return err
				}
			}
			return t.emitContent(closeMarker(t.mode))
		}
	case config.ThinkingSeparate:
		return t.flushReasoning()
	}
	return nil
}

func (t *Transformer) feedThinking(delta string) error {
	switch t.mode {
	case config.ThinkingRaw:
		return t.emitContent(delta)
	case config.ThinkingStrip:
		return nil
	case config.ThinkingThink, config.ThinkingThinkFul:
		if !t.openSent {
			return nil
		}
		// Structural tags can arrive split across deltas; a trailing
		// fragment that may still grow into one is withheld until the next
		// delta resolves it.
		joined := t.thinkTail + delta
		cut := holdbackStart(joined)
		t.thinkTail = joined[cut:]
		if cleaned := cleanThinking(joined[:cut]); cleaned != "" {
			return t.emitContent(cleaned)
		}
		return nil
	case config.ThinkingSeparate:
		if t.thinkingEmitted {
			return nil
		}
		// Deltas accumulate raw; cleanup runs once over the whole block in
		// flushReasoning, so tags split across deltas still match.
		t.reasoningBuf.WriteString(delta)
		if strings.Contains(t.reasoningBuf.String(), detailsClose) {
			return t.flushReasoning()
		}
		return nil
	}
	return nil
}

func (t *Transformer) feedContent(ctx context.Context, delta string) error {
	if t.mode == config.ThinkingRaw || t.det == nil {
		return t.emitContent(delta)
	}

	tc, release := t.det.Feed(delta)
	if release != "" {
		if err := t.emitContent(release); err != nil {
			return err
		}
	}
	if tc == nil {
		return nil
	}
	if err := t.sink(Unit{Kind: UnitToolCall, ToolCall: tc}); err != nil {
		return err
	}
	if result := t.bridge.Run(ctx, tc); result != "" {
		return t.emitContent(result)
	}
	return nil
}

// applyEdit consumes an authoritative full-block replay. The thinking block
// inside the replay is honored only when no block has been emitted yet;
// text after the block is ordinary content.
func (t *Transformer) applyEdit(ctx context.Context, edit string) error {
	block, rest := splitThinkingBlock(edit)

	if block != "" {
		if t.thinkingEmitted {
			slog.Debug("duplicate thinking replay discarded")
		} else {
			if err := t.emitEditedBlock(block); err != nil {
				return err
			}
		}
		t.thinkingEmitted = true
		t.openSent = false
		t.thinkTail = ""
		t.inThinking = false
	}

	if rest != "" {
		return t.feedContent(ctx, rest)
	}
	return nil
}

func (t *Transformer) emitEditedBlock(block string) error {
	switch t.mode {
	case config.ThinkingStrip:
		return nil
	case config.ThinkingSeparate:
		t.reasoningBuf.Reset()
		t.reasoningBuf.WriteString(block)
		return t.flushReasoning()
	case config.ThinkingThink, config.ThinkingThinkFul:
		if t.openSent {
			// Partial deltas already streamed; the replay can only close
			// the block, not rewrite what was written.
			return t.emitContent(closeMarker(t.mode))
		}
		cleaned := strings.TrimSpace(cleanThinking(block))
		if cleaned == "" {
			return nil
		}
		return t.emitContent(openMarker(t.mode) + cleaned + closeMarker(t.mode))
	}
	return nil
}

func (t *Transformer) flushReasoning() error {
	if t.thinkingEmitted {
		return nil
	}
	t.thinkingEmitted = true
	text := strings.TrimSpace(cleanThinking(t.reasoningBuf.String()))
	t.reasoningBuf.Reset()
	if text == "" {
		return nil
	}
	return t.sink(Unit{Kind: UnitReasoning, Text: text})
}

func (t *Transformer) emitContent(text string) error {
	return t.sink(Unit{Kind: UnitContent, Text: text})
}

func openMarker(mode config.ThinkingMode) string {
	if mode == config.ThinkingThinkFul {
		return "<thinking>"
	}
	return "<think>"
}

func closeMarker(mode config.ThinkingMode) string {
	if mode == config.ThinkingThinkFul {
		return "</thinking>"
	}
	return "</think>"
}

// --- thinking markup cleanup ---

const detailsClose = "</details>"

var (
	detailsOpenPattern = regexp.MustCompile(`<details[^>]*>`)
	summaryPattern     = regexp.MustCompile(`(?s)<summary>.*?</summary>`)
	quotePrefixPattern = regexp.MustCompile(`(?m)^> `)
)

// holdbackStart returns the index from which s may hold an incomplete
// structural token. Text before the index is safe to clean and emit; text
// from the index on must wait for more input.
func holdbackStart(s string) int {
	// An opened summary withholds through its close; the label is never
	// thinking text.
	if i := strings.LastIndex(s, "<summary>"); i >= 0 && !strings.Contains(s[i:], "</summary>") {
		return i
	}
	// A trailing unterminated fragment of a structural tag.
	if i := strings.LastIndexByte(s, '<'); i >= 0 && !strings.ContainsRune(s[i:], '>') {
		frag := s[i:]
		if strings.HasPrefix(frag, "<details") ||
			strings.HasPrefix("<details", frag) ||
			strings.HasPrefix("</details>", frag) ||
			strings.HasPrefix("<summary>", frag) ||
			strings.HasPrefix("</summary>", frag) {
			return i
		}
	}
	// A line-leading ">" may still grow into the quote prefix.
	if strings.HasSuffix(s, ">") && (len(s) == 1 || s[len(s)-2] == '\n') {
		return len(s) - 1
	}
	return len(s)
}

// resolveTail drains the withheld fragment when the thinking block ends. A
// still-unterminated tag fragment cannot be thinking text and is dropped.
func (t *Transformer) resolveTail() string {
	tail := t.thinkTail
	t.thinkTail = ""
	if cut := holdbackStart(tail); cut < len(tail) {
		tail = tail[:cut]
	}
	return tail
}

// cleanThinking removes the upstream's structural markup from thinking
// text: the details wrapper, the summary label, and line-quote prefixes.
func cleanThinking(s string) string {
	s = detailsOpenPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, detailsClose, "")
	s = summaryPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "<summary>", "")
	s = strings.ReplaceAll(s, "</summary>", "")
	s = quotePrefixPattern.ReplaceAllString(s, "")
	return s
}

// splitThinkingBlock cuts an edit replay at the end of its thinking block.
// Returns the block (including its closing tag) and the remaining content.
func splitThinkingBlock(edit string) (block, rest string) {
	if idx := strings.Index(edit, detailsClose); idx >= 0 {
		block = edit[:idx+len(detailsClose)]
		rest = strings.TrimPrefix(edit[idx+len(detailsClose):], "\n")
		return block, rest
	}
	if strings.HasPrefix(strings.TrimSpace(edit), "<details") {
		return edit, ""
	}
	return "", edit
}

func isTransientError(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "try again")
}
