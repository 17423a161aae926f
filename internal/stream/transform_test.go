package stream

import (
	"context"
	"strings"
	"testing"

	"zaigate/internal/config"
	"zaigate/internal/toolcall"
	"zaigate/internal/types"
)

func thinkEvt(delta string) *Event   { return &Event{Phase: PhaseThinking, Delta: delta} }
func contentEvt(delta string) *Event { return &Event{Phase: PhaseContent, Delta: delta} }
func doneEvt() *Event                { return &Event{Phase: PhaseDone, Done: true} }

type fakeExec struct {
	calls  int
	result string
}

func (f *fakeExec) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	f.calls++
	return f.result, nil
}

// run feeds events through an incremental transformer and returns the
// concatenated content, concatenated reasoning, and all emitted units.
func run(t *testing.T, mode config.ThinkingMode, det *toolcall.Detector, bridge *toolcall.Bridge, evts ...*Event) (string, string, []Unit) {
	t.Helper()
	var content, reasoning strings.Builder
	var units []Unit
	tr := NewTransformer(mode, func(u Unit) error {
		units = append(units, u)
		switch u.Kind {
		case UnitContent:
			content.WriteString(u.Text)
		case UnitReasoning:
			reasoning.WriteString(u.Text)
		}
		return nil
	}, det, bridge)
	for _, e := range evts {
		if err := tr.Feed(context.Background(), e); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
	if err := tr.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return content.String(), reasoning.String(), units
}

func TestPlainContentAggregate(t *testing.T) {
	content, reasoning, units := run(t, config.ThinkingStrip, nil, nil,
		contentEvt("Hello"), doneEvt())
	if content != "Hello" {
		t.Errorf("content = %q, want Hello", content)
	}
	if reasoning != "" {
		t.Errorf("reasoning = %q, want empty", reasoning)
	}
	last := units[len(units)-1]
	if last.Kind != UnitTerminal {
		t.Error("stream must end with a terminal unit")
	}
}

func TestThinkModeWrapsBlock(t *testing.T) {
	content, _, _ := run(t, config.ThinkingThink, nil, nil,
		thinkEvt("<details>"), thinkEvt("reason A"), thinkEvt("</details>"),
		contentEvt("Answer"), doneEvt())
	if content != "<think>reason A</think>Answer" {
		t.Errorf("content = %q, want <think>reason A</think>Answer", content)
	}
}

func TestThinkingModeWrapsBlock(t *testing.T) {
	content, _, _ := run(t, config.ThinkingThinkFul, nil, nil,
		thinkEvt("<details type=\"reasoning\" open><summary>Thought for 2s</summary>"),
		thinkEvt("> step one"),
		contentEvt("done"), doneEvt())
	if content != "<thinking>step one</thinking>done" {
		t.Errorf("content = %q", content)
	}
}

func TestThinkModeCleansTagsSplitAcrossChunks(t *testing.T) {
	content, _, _ := run(t, config.ThinkingThink, nil, nil,
		thinkEvt("<det"), thinkEvt("ails open>"), thinkEvt("> reason"),
		thinkEvt("</det"), thinkEvt("ails>"),
		contentEvt("Answer"), doneEvt())
	if content != "<think>reason</think>Answer" {
		t.Errorf("content = %q, want <think>reason</think>Answer", content)
	}
}

func TestThinkingModeCleansSummarySplitAcrossChunks(t *testing.T) {
	content, _, _ := run(t, config.ThinkingThinkFul, nil, nil,
		thinkEvt("<details type=\"reasoning\" open><summ"),
		thinkEvt("ary>Thought for 2s</summ"),
		thinkEvt("ary>step one"),
		contentEvt("done"), doneEvt())
	if content != "<thinking>step one</thinking>done" {
		t.Errorf("content = %q", content)
	}
}

func TestSeparateModeCleansTagsSplitAcrossChunks(t *testing.T) {
	content, reasoning, _ := run(t, config.ThinkingSeparate, nil, nil,
		thinkEvt("<det"), thinkEvt("ails open>"), thinkEvt("> reason"),
		thinkEvt("</det"), thinkEvt("ails>"),
		contentEvt("Answer"), doneEvt())
	if reasoning != "reason" {
		t.Errorf("reasoning = %q, want reason", reasoning)
	}
	if content != "Answer" {
		t.Errorf("content = %q", content)
	}
}

func TestStripModeRemovesThinkingEntirely(t *testing.T) {
	content, reasoning, _ := run(t, config.ThinkingStrip, nil, nil,
		thinkEvt("<details open>"), thinkEvt("secret reasoning"), thinkEvt("</details>"),
		contentEvt("Answer"), doneEvt())
	if content != "Answer" {
		t.Errorf("content = %q, want Answer", content)
	}
	if reasoning != "" {
		t.Errorf("reasoning = %q, want empty", reasoning)
	}
	for _, marker := range []string{"<details", "</details>", "<summary", "<think"} {
		if strings.Contains(content, marker) {
			t.Errorf("strip output contains structural marker %q", marker)
		}
	}
}

func TestRawModeIsIdentity(t *testing.T) {
	deltas := []string{"<details open>", "> raw reasoning\n", "</details>", "Answer ", "with get_current_time(x)"}
	evts := []*Event{
		thinkEvt(deltas[0]), thinkEvt(deltas[1]), thinkEvt(deltas[2]),
		contentEvt(deltas[3]), contentEvt(deltas[4]), doneEvt(),
	}
	det := toolcall.NewDetector([]string{"get_current_time"})
	content, reasoning, _ := run(t, config.ThinkingRaw, det, &toolcall.Bridge{}, evts...)
	if content != strings.Join(deltas, "") {
		t.Errorf("raw mode not identity:\n got %q\nwant %q", content, strings.Join(deltas, ""))
	}
	if reasoning != "" {
		t.Errorf("raw mode emitted reasoning %q", reasoning)
	}
}

func TestSeparateModeSplitsReasoning(t *testing.T) {
	content, reasoning, _ := run(t, config.ThinkingSeparate, nil, nil,
		thinkEvt("<details type=\"reasoning\"><summary>Thinking</summary>"),
		thinkEvt("> first\n> second"),
		thinkEvt("</details>"),
		contentEvt("Answer"), doneEvt())
	if reasoning != "first\nsecond" {
		t.Errorf("reasoning = %q", reasoning)
	}
	if content != "Answer" {
		t.Errorf("content = %q", content)
	}
	if strings.Contains(content, "<details") || strings.Contains(reasoning, "<details") {
		t.Error("structural markup leaked")
	}
}

func TestSeparateModeIdempotentOnOwnContent(t *testing.T) {
	firstContent, firstReasoning, _ := run(t, config.ThinkingSeparate, nil, nil,
		thinkEvt("<details>"), thinkEvt("why"), thinkEvt("</details>"),
		contentEvt("The answer"), doneEvt())
	if firstReasoning == "" {
		t.Fatal("first pass produced no reasoning")
	}

	secondContent, secondReasoning, _ := run(t, config.ThinkingSeparate, nil, nil,
		contentEvt(firstContent), doneEvt())
	if secondReasoning != "" {
		t.Errorf("second pass reasoning = %q, want empty", secondReasoning)
	}
	if secondContent != firstContent {
		t.Errorf("second pass content = %q, want %q", secondContent, firstContent)
	}
}

func TestSingleThinkingBlockInvariant(t *testing.T) {
	content, _, _ := run(t, config.ThinkingThink, nil, nil,
		thinkEvt("first block"), contentEvt("mid"),
		thinkEvt("second block"), contentEvt("end"), doneEvt())
	if got := strings.Count(content, "<think>"); got != 1 {
		t.Errorf("emitted %d thinking blocks, want 1 (content %q)", got, content)
	}
	if strings.Contains(content, "second block") {
		t.Errorf("second thinking block leaked: %q", content)
	}
}

func TestEditReplayEmitsReasoningOnce(t *testing.T) {
	edit := "<details type=\"reasoning\"><summary>Thought</summary>\n> the reason\n</details>\nAnswer part"
	content, reasoning, units := run(t, config.ThinkingSeparate, nil, nil,
		&Event{Phase: PhaseContent, Edit: edit},
		contentEvt(" two"),
		&Event{Phase: PhaseContent, Edit: edit}, // duplicate replay
		doneEvt())
	if reasoning != "the reason" {
		t.Errorf("reasoning = %q", reasoning)
	}
	reasoningUnits := 0
	for _, u := range units {
		if u.Kind == UnitReasoning {
			reasoningUnits++
		}
	}
	if reasoningUnits != 1 {
		t.Errorf("emitted %d reasoning units, want exactly 1", reasoningUnits)
	}
	if !strings.HasPrefix(content, "Answer part two") {
		t.Errorf("content = %q", content)
	}
}

func TestEditReplaySupersedesPartialAccumulation(t *testing.T) {
	content, reasoning, _ := run(t, config.ThinkingSeparate, nil, nil,
		thinkEvt("<details><summary>T</summary>"),
		thinkEvt("> par"),
		&Event{Phase: PhaseContent, Edit: "<details><summary>T</summary>\n> partial became whole\n</details>\nAnswer"},
		doneEvt())
	if reasoning != "partial became whole" {
		t.Errorf("reasoning = %q", reasoning)
	}
	if content != "Answer" {
		t.Errorf("content = %q", content)
	}
}

func TestUpstreamErrorShortCircuits(t *testing.T) {
	_, _, units := run(t, config.ThinkingStrip, nil, nil,
		contentEvt("partial"),
		&Event{Err: &UpstreamError{Code: "500", Message: "Something went wrong, please try again"}},
		contentEvt("after error"), doneEvt())
	last := units[len(units)-1]
	if last.Kind != UnitTerminal || last.Err == nil {
		t.Fatalf("expected terminal unit with error, got %+v", last)
	}
	for _, u := range units {
		if u.Kind == UnitContent && u.Text == "after error" {
			t.Error("events after the error were processed")
		}
	}
}

func TestDoneFlushesUsage(t *testing.T) {
	_, _, units := run(t, config.ThinkingStrip, nil, nil,
		contentEvt("hi"),
		&Event{Phase: PhaseDone, Done: true, Usage: &types.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8}})
	last := units[len(units)-1]
	if last.Kind != UnitTerminal || last.Usage == nil || last.Usage.TotalTokens != 8 {
		t.Errorf("terminal usage = %+v", last.Usage)
	}
}

func TestToolCallPhaseRoutesThroughDetector(t *testing.T) {
	payload := "```json\n{\"name\": \"sha256_hash\", \"arguments\": {\"text\": \"abc\"}}\n```"
	exec := &fakeExec{result: "hashed"}
	det := toolcall.NewDetector([]string{"sha256_hash"})
	bridge := &toolcall.Bridge{Exec: exec}

	content, _, _ := run(t, config.ThinkingStrip, det, bridge,
		&Event{Phase: PhaseToolCall, Delta: payload[:12]},
		&Event{Phase: PhaseToolCall, Delta: payload[12:]},
		doneEvt())
	if exec.calls != 1 {
		t.Errorf("executor called %d times, want 1", exec.calls)
	}
	if !strings.Contains(content, "hashed") {
		t.Errorf("result missing from content %q", content)
	}
}

func TestToolCallAcrossChunks(t *testing.T) {
	payload := "```json\n{\"name\": \"get_current_time\", \"arguments\": {\"timezone\": \"utc\"}}\n```"
	exec := &fakeExec{result: "2026-08-25T12:00:00Z"}
	det := toolcall.NewDetector([]string{"get_current_time"})
	bridge := &toolcall.Bridge{Exec: exec}

	content, _, units := run(t, config.ThinkingStrip, det, bridge,
		contentEvt(payload[:10]), contentEvt(payload[10:30]), contentEvt(payload[30:]),
		doneEvt())

	if exec.calls != 1 {
		t.Errorf("executor called %d times, want exactly 1", exec.calls)
	}
	sawCall := false
	for i, u := range units {
		if u.Kind == UnitToolCall {
			sawCall = true
			if u.ToolCall.Name != "get_current_time" {
				t.Errorf("tool call name = %q", u.ToolCall.Name)
			}
			if i+1 >= len(units) || units[i+1].Kind != UnitContent || units[i+1].Text != exec.result {
				t.Error("tool-call notification not followed by result content unit")
			}
		}
	}
	if !sawCall {
		t.Fatal("no tool-call unit emitted")
	}
	if !strings.Contains(content, exec.result) {
		t.Errorf("result missing from content %q", content)
	}
}
