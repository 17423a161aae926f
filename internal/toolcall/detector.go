package toolcall

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"zaigate/internal/types"
)

// maxBufferSize bounds the detection buffer; a runaway candidate is
// released as plain content once it exceeds this.
const maxBufferSize = 256 * 1024

// Detector accumulates non-thinking content deltas and tests them against
// the matcher strategies in order; the first complete match wins. Text that
// cannot be part of an invocation is released back to the caller for normal
// pass-through. Not safe for concurrent use; one Detector per response.
type Detector struct {
	matchers []Matcher
	buf      strings.Builder
}

// NewDetector builds a detector over the standard encodings, in priority
// order: fenced JSON, markup block, inline call. knownNames gates the inline
// encoding.
func NewDetector(knownNames []string) *Detector {
	return &Detector{
		matchers: []Matcher{
			NewFencedMatcher(),
			NewMarkupMatcher(),
			NewInlineMatcher(knownNames),
		},
	}
}

// NewDetectorWithMatchers builds a detector over a custom strategy list.
func NewDetectorWithMatchers(matchers ...Matcher) *Detector {
	return &Detector{matchers: matchers}
}

// Feed appends delta to the buffer and re-runs detection. It returns the
// detected call (nil when none) and any buffered text that is now known not
// to be part of an invocation and should be emitted as ordinary content.
// The buffer is cleared on a successful match; at most one call is returned
// per buffer lifetime.
func (d *Detector) Feed(delta string) (*types.ToolCall, string) {
	d.buf.WriteString(delta)
	buf := d.buf.String()

	for _, m := range d.matchers {
		match, ok := m.TryMatch(buf)
		if !ok {
			continue
		}
		d.buf.Reset()
		// Anything after the invocation resumes normal pass-through and
		// detection on the fresh buffer.
		if rest := buf[match.End:]; rest != "" {
			d.buf.WriteString(rest)
		}
		return match.Call, buf[:match.Start]
	}

	pending := -1
	for _, m := range d.matchers {
		if i := m.PendingAt(buf); i >= 0 && (pending < 0 || i < pending) {
			pending = i
		}
	}
	if pending < 0 || len(buf) > maxBufferSize {
		d.buf.Reset()
		return nil, buf
	}
	d.buf.Reset()
	d.buf.WriteString(buf[pending:])
	return nil, buf[:pending]
}

// Flush releases any withheld text that never completed an invocation.
// Called when the response ends.
func (d *Detector) Flush() string {
	out := d.buf.String()
	d.buf.Reset()
	return out
}

// Executor runs a named tool with serialized JSON arguments. Implemented by
// the tools registry; injected so the transform layer stays independent of
// concrete tool implementations.
type Executor interface {
	Execute(ctx context.Context, name, argsJSON string) (string, error)
}

// Bridge invokes the executor for a detected call and renders the outcome
// as content text.
type Bridge struct {
	Exec Executor
}

// Run executes the call synchronously. Execution failures are rendered into
// the content stream rather than failing the response.
func (b *Bridge) Run(ctx context.Context, call *types.ToolCall) string {
	if b == nil || b.Exec == nil {
		return fmt.Sprintf("[tool %s unavailable]", call.Name)
	}
	result, err := b.Exec.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		slog.Warn("tool execution failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("[tool %s error: %v]", call.Name, err)
	}
	return result
}
