// Package sse reads vendor server-sent event streams and encodes the relay
// wire protocol.
//
// The wire protocol is standard SSE framing: every frame is a single
// "data: <json>\n\n" line pair carrying a [Frame] whose Type is one of the
// Frame* constants.
package sse

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxLineSize bounds a single SSE line. Vendor frames carrying whole
// response objects can exceed bufio's 64KiB default.
const maxLineSize = 4 << 20

// Message is one decoded server-sent event.
type Message struct {
	Event string
	Data  string
}

// Reader decodes server-sent events from a stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: sc}
}

// Next reads lines until a complete event is assembled. Events without data
// are skipped. Returns io.EOF when the underlying stream is exhausted.
func (r *Reader) Next() (Message, error) {
	var msg Message
	var data strings.Builder
	hasData := false

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if hasData {
				msg.Data = data.String()
				return msg, nil
			}
			msg = Message{}
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			msg.Event = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
		// Comments (empty field name) and unknown fields are ignored.
	}

	if err := r.scanner.Err(); err != nil {
		return Message{}, fmt.Errorf("sse: %w", err)
	}
	if hasData {
		msg.Data = data.String()
		return msg, nil
	}
	return Message{}, io.EOF
}
