package builtin

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Sanitize strips ANSI escape codes and control characters from command
// output. Tabs and newlines survive; CRLF becomes LF and a lone CR
// overwrites the line from its start, as a terminal would.
func Sanitize(s string) string {
	s = ansi.Strip(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\t' || r == '\n' || r == '\r' || r > 0x1F {
			b.WriteRune(r)
		}
	}

	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		if strings.ContainsRune(line, '\r') {
			lines[i] = resolveCarriageReturns(line)
		}
	}
	return strings.Join(lines, "\n")
}

func resolveCarriageReturns(line string) string {
	segments := strings.Split(line, "\r")
	buf := []rune(segments[0])
	for _, seg := range segments[1:] {
		for j, r := range []rune(seg) {
			if j < len(buf) {
				buf[j] = r
			} else {
				buf = append(buf, r)
			}
		}
	}
	return string(buf)
}
