// Package toolargs accumulates fragmented tool-call arguments.
//
// Vendors stream the arguments of a tool call as text fragments that are
// only valid JSON once concatenated. An [Accumulator] buffers fragments per
// call ID and tries to parse the buffer after every fragment; a parse
// failure means more fragments are needed. Resolved arguments are reported
// exactly once per call.
package toolargs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformed indicates the arguments were declared complete but do not
// parse as a JSON object.
var ErrMalformed = errors.New("toolargs: malformed arguments")

var emptyObject = json.RawMessage(`{}`)

type call struct {
	raw      strings.Builder
	resolved bool
}

// Accumulator buffers argument fragments per tool call ID.
// The zero value is not usable; call New.
type Accumulator struct {
	calls map[string]*call
}

// New returns an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{calls: make(map[string]*call)}
}

func (a *Accumulator) get(id string) *call {
	c, ok := a.calls[id]
	if !ok {
		c = &call{}
		a.calls[id] = c
	}
	return c
}

// Append adds a fragment to the buffer for id. It returns the resolved
// arguments and true the first time the buffer parses as a JSON object.
func (a *Accumulator) Append(id, fragment string) (json.RawMessage, bool) {
	c := a.get(id)
	if c.resolved {
		return nil, false
	}
	c.raw.WriteString(fragment)
	args, ok := parse(c.raw.String())
	if !ok {
		return nil, false
	}
	c.resolved = true
	return args, true
}

// Complete handles an explicit "arguments complete" signal. A non-empty full
// replaces the buffered text. An empty buffer resolves to {}. It returns
// emit=false when the call was already resolved by Append, and ErrMalformed
// (with {} as arguments) when the final text does not parse.
func (a *Accumulator) Complete(id, full string) (args json.RawMessage, emit bool, err error) {
	c := a.get(id)
	if c.resolved {
		return nil, false, nil
	}
	c.resolved = true
	raw := c.raw.String()
	if full != "" {
		raw = full
	}
	if strings.TrimSpace(raw) == "" {
		return emptyObject, true, nil
	}
	if args, ok := parse(raw); ok {
		return args, true, nil
	}
	return emptyObject, true, ErrMalformed
}

// Raw returns the text buffered so far for id.
func (a *Accumulator) Raw(id string) string {
	if c, ok := a.calls[id]; ok {
		return c.raw.String()
	}
	return ""
}

// Resolved reports whether arguments for id have been reported.
func (a *Accumulator) Resolved(id string) bool {
	c, ok := a.calls[id]
	return ok && c.resolved
}

func parse(raw string) (json.RawMessage, bool) {
	if !gjson.Valid(raw) {
		return nil, false
	}
	if !gjson.Parse(raw).IsObject() {
		return nil, false
	}
	return json.RawMessage(strings.TrimSpace(raw)), true
}
