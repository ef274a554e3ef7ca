package mcp

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultMaxChars caps the characters of one tool result.
const DefaultMaxChars = 50_000

// TruncateResult describes the outcome of output truncation.
type TruncateResult struct {
	Output      json.RawMessage
	Truncated   bool
	TotalChars  int
	OutputChars int
}

// Truncate keeps the head of output within maxChars characters, counted over
// the "content" string when output carries one. Oversized output is rewritten as {"content": head + marker, "truncated": true}. The
// head is the "content" string when output carries one, else the raw JSON
// text.
func Truncate(output json.RawMessage, maxChars int) TruncateResult {
	text := string(output)
	if c := gjson.GetBytes(output, "content"); c.Type == gjson.String {
		text = c.Str
	}
	total := utf8.RuneCountInString(text)
	if total <= maxChars {
		return TruncateResult{Output: output, TotalChars: total, OutputChars: utf8.RuneCount(output)}
	}

	head := headRunes(text, maxChars)
	shown := utf8.RuneCountInString(head)
	content := head + fmt.Sprintf("\n\n[output truncated: showing %d of %d characters]", shown, total)

	out, _ := sjson.SetBytes([]byte(`{}`), "content", content)
	out, _ = sjson.SetBytes(out, "truncated", true)
	return TruncateResult{
		Output:      out,
		Truncated:   true,
		TotalChars:  total,
		OutputChars: utf8.RuneCount(out),
	}
}

// headRunes returns the first n runes of s.
func headRunes(s string, n int) string {
	i := 0
	for j := range s {
		if i == n {
			return s[:j]
		}
		i++
	}
	return s
}
