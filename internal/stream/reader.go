package stream

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
)

// Reader reads upstream SSE events from an io.Reader.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a new SSE reader.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	return &Reader{scanner: scanner}
}

// Next returns the next parsed event. Returns nil, io.EOF when the stream
// ends. Lines that fail to parse are logged and skipped; they never fail
// the rest of the stream.
func (r *Reader) Next() (*Event, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(line[6:])
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil, io.EOF
		}
		evt, ok := ParseEvent([]byte(data))
		if !ok {
			slog.Debug("skipping malformed stream line", "len", len(data))
			continue
		}
		return evt, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
