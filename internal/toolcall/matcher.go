// Package toolcall detects tool invocations embedded in the upstream content
// stream and bridges them to the tool executor. Detection runs over a
// growing buffer so invocations split across arbitrary chunk boundaries are
// still recognized, and malformed or incomplete candidates are released back
// into the content stream rather than treated as errors.
package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"zaigate/internal/types"
)

// Match is one recognized invocation and its span within the buffer.
type Match struct {
	Call  *types.ToolCall
	Start int
	End   int
}

// Matcher recognizes one embedded tool-call encoding.
type Matcher interface {
	// TryMatch scans buf for a complete invocation.
	TryMatch(buf string) (Match, bool)
	// PendingAt returns the earliest index where a not-yet-complete
	// invocation may have started, or -1 when nothing in buf could still
	// become a match.
	PendingAt(buf string) int
}

// --- fenced JSON block: ```json\n{"name": ..., "arguments": ...}\n``` ---

type fencedMatcher struct{}

// NewFencedMatcher recognizes a fenced code block whose body is a JSON
// object with name/arguments keys.
func NewFencedMatcher() Matcher { return fencedMatcher{} }

const fence = "```"

func (fencedMatcher) TryMatch(buf string) (Match, bool) {
	search := 0
	for {
		open := strings.Index(buf[search:], fence)
		if open < 0 {
			return Match{}, false
		}
		open += search
		bodyStart := open + len(fence)
		// Skip an optional language tag up to end of line.
		if nl := strings.IndexByte(buf[bodyStart:], '\n'); nl >= 0 {
			tag := strings.TrimSpace(buf[bodyStart : bodyStart+nl])
			if tag == "" || isFenceTag(tag) {
				bodyStart += nl + 1
			}
		}
		close := strings.Index(buf[bodyStart:], fence)
		if close < 0 {
			return Match{}, false
		}
		body := strings.TrimSpace(buf[bodyStart : bodyStart+close])
		end := bodyStart + close + len(fence)

		if call := callFromJSON(body); call != nil {
			return Match{Call: call, Start: open, End: end}, true
		}
		search = end
	}
}

func (fencedMatcher) PendingAt(buf string) int {
	// An odd number of fence delimiters means the last one is unclosed.
	if idx := unclosedFenceAt(buf); idx >= 0 {
		return idx
	}
	return tailTokenStart(buf, fence)
}

func unclosedFenceAt(buf string) int {
	last := -1
	count := 0
	for i := 0; ; {
		j := strings.Index(buf[i:], fence)
		if j < 0 {
			break
		}
		last = i + j
		count++
		i = last + len(fence)
	}
	if count%2 == 1 {
		return last
	}
	return -1
}

func isFenceTag(tag string) bool {
	switch strings.ToLower(tag) {
	case "json", "tool_call", "tool", "function":
		return true
	}
	return false
}

func callFromJSON(body string) *types.ToolCall {
	if !gjson.Valid(body) {
		return nil
	}
	name := gjson.Get(body, "name").String()
	if name == "" {
		return nil
	}
	args := gjson.Get(body, "arguments")
	serialized := "{}"
	if args.Exists() {
		if args.IsObject() || args.IsArray() {
			serialized = args.Raw
		} else if s := strings.TrimSpace(args.String()); s != "" {
			if gjson.Valid(s) && strings.HasPrefix(s, "{") {
				serialized = s
			} else {
				b, _ := json.Marshal(map[string]string{"input": s})
				serialized = string(b)
			}
		}
	}
	return &types.ToolCall{ID: newCallID(), Name: name, Arguments: serialized}
}

// --- markup block: <tool_call>name <arg_key>k</arg_key><arg_value>v</arg_value></tool_call> ---

type markupMatcher struct{}

// NewMarkupMatcher recognizes the upstream's XML-ish invocation block.
func NewMarkupMatcher() Matcher { return markupMatcher{} }

const (
	markupOpen  = "<tool_call>"
	markupClose = "</tool_call>"
)

var argPairPattern = regexp.MustCompile(`(?s)<arg_key>(.*?)</arg_key>\s*<arg_value>(.*?)</arg_value>`)

func (markupMatcher) TryMatch(buf string) (Match, bool) {
	open := strings.Index(buf, markupOpen)
	if open < 0 {
		return Match{}, false
	}
	rel := strings.Index(buf[open:], markupClose)
	if rel < 0 {
		return Match{}, false
	}
	inner := buf[open+len(markupOpen) : open+rel]
	end := open + rel + len(markupClose)

	name := inner
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		name = inner[:nl]
	} else if lt := strings.IndexByte(inner, '<'); lt >= 0 {
		name = inner[:lt]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Match{}, false
	}

	args := map[string]any{}
	for _, pair := range argPairPattern.FindAllStringSubmatch(inner, -1) {
		key := strings.TrimSpace(pair[1])
		val := strings.TrimSpace(pair[2])
		if key == "" {
			continue
		}
		var parsed any
		if err := json.Unmarshal([]byte(val), &parsed); err == nil {
			args[key] = parsed
		} else {
			args[key] = val
		}
	}
	serialized, _ := json.Marshal(args)

	return Match{
		Call:  &types.ToolCall{ID: newCallID(), Name: name, Arguments: string(serialized)},
		Start: open,
		End:   end,
	}, true
}

func (markupMatcher) PendingAt(buf string) int {
	if open := strings.Index(buf, markupOpen); open >= 0 {
		if !strings.Contains(buf[open:], markupClose) {
			return open
		}
		return -1
	}
	return tailTokenStart(buf, markupOpen)
}

// --- inline call: name(args) for known tool names ---

type inlineMatcher struct {
	names []string
}

// NewInlineMatcher recognizes the bare `name(args)` syntax. Only names from
// the known set are considered, so ordinary prose like `f(x)` never fires.
func NewInlineMatcher(names []string) Matcher {
	return &inlineMatcher{names: names}
}

var identPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*\(`)

func (m *inlineMatcher) TryMatch(buf string) (Match, bool) {
	for _, loc := range identPattern.FindAllStringIndex(buf, -1) {
		name := buf[loc[0] : loc[1]-1]
		if !m.known(name) {
			continue
		}
		argEnd := balancedParenEnd(buf, loc[1])
		if argEnd < 0 {
			continue
		}
		raw := strings.TrimSpace(buf[loc[1]:argEnd])
		return Match{
			Call:  &types.ToolCall{ID: newCallID(), Name: name, Arguments: inlineArgs(raw)},
			Start: loc[0],
			End:   argEnd + 1,
		}, true
	}
	return Match{}, false
}

func (m *inlineMatcher) PendingAt(buf string) int {
	for _, loc := range identPattern.FindAllStringIndex(buf, -1) {
		if m.known(buf[loc[0]:loc[1]-1]) && balancedParenEnd(buf, loc[1]) < 0 {
			return loc[0]
		}
	}
	// A trailing identifier may still grow into a known name.
	tail := trailingIdent(buf)
	if tail == "" {
		return -1
	}
	for _, n := range m.names {
		if strings.HasPrefix(n, tail) {
			return len(buf) - len(tail)
		}
	}
	return -1
}

func (m *inlineMatcher) known(name string) bool {
	for _, n := range m.names {
		if n == name {
			return true
		}
	}
	return false
}

// inlineArgs keeps a JSON object verbatim and wraps anything else
// best-effort; the grammar is deliberately not expanded beyond this.
func inlineArgs(raw string) string {
	if raw == "" {
		return "{}"
	}
	if strings.HasPrefix(raw, "{") && gjson.Valid(raw) {
		return raw
	}
	raw = strings.Trim(raw, `"'`)
	b, _ := json.Marshal(map[string]string{"input": raw})
	return string(b)
}

// balancedParenEnd returns the index of the parenthesis closing the group
// opened just before start, skipping over double-quoted strings, or -1.
func balancedParenEnd(buf string, start int) int {
	depth := 1
	inString := false
	for i := start; i < len(buf); i++ {
		c := buf[i]
		switch {
		case inString:
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func trailingIdent(buf string) string {
	i := len(buf)
	for i > 0 {
		c := buf[i-1]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			i--
			continue
		}
		break
	}
	return buf[i:]
}

// tailTokenStart reports where a proper prefix of token ends the buffer,
// so an opener split across chunk boundaries is still withheld.
func tailTokenStart(buf, token string) int {
	max := len(token) - 1
	if len(buf) < max {
		max = len(buf)
	}
	for l := max; l > 0; l-- {
		if strings.HasSuffix(buf, token[:l]) {
			return len(buf) - l
		}
	}
	return -1
}

func newCallID() string {
	return "call_" + uuid.New().String()[:8]
}
