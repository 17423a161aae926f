package stream

import (
	"context"
	"io"

	"zaigate/internal/config"
	"zaigate/internal/toolcall"
	"zaigate/internal/types"
)

// Collect consumes an entire upstream stream through a Transformer and
// aggregates it into a single result. Aggregate output equals the
// concatenation of the corresponding incremental emissions by construction:
// both paths share the same state machine.
func Collect(ctx context.Context, r *Reader, mode config.ThinkingMode, det *toolcall.Detector, bridge *toolcall.Bridge) (types.AggregateResult, error) {
	var res types.AggregateResult
	var upstreamErr error

	tr := NewTransformer(mode, func(u Unit) error {
		switch u.Kind {
		case UnitContent:
			res.Content += u.Text
		case UnitReasoning:
			res.ReasoningContent += u.Text
		case UnitTerminal:
			res.Usage = u.Usage
			upstreamErr = u.Err
		}
		return nil
	}, det, bridge)

	for !tr.Finished() {
		evt, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}
		if err := tr.Feed(ctx, evt); err != nil {
			return res, err
		}
	}
	if err := tr.Finish(); err != nil {
		return res, err
	}
	return res, upstreamErr
}
