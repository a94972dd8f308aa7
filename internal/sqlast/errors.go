package sqlast

import (
	"fmt"

	"github.com/dreamware/conductor/internal/sqltoken"
)

// ParserError reports a syntax error at a specific token, naming what the
// parser expected to see there.
type ParserError struct {
	Token    sqltoken.Token
	Expected string
	Source   string
}

func (e *ParserError) Error() string {
	return fmt.Sprintf("unexpected %s %q: expected %s", e.Token.Type, e.Token.Text, e.Expected)
}

// Caret renders a two-line diagnostic pointing at the offending token,
// mirroring sqltoken.TokenizerError.Caret.
func (e *ParserError) Caret() string {
	line, col := lineCol(e.Source, e.Token.Start)
	lines := splitLines(e.Source)
	if line-1 < 0 || line-1 >= len(lines) {
		return e.Error()
	}
	src := lines[line-1]
	c := col - 1
	if c < 0 {
		c = 0
	}
	if c > len(src) {
		c = len(src)
	}
	caret := make([]byte, c)
	for i := range caret {
		caret[i] = ' '
	}
	return fmt.Sprintf("%s\n%s\n%s^", e.Error(), src, caret)
}

func lineCol(src string, offset int) (int, int) {
	line := 1
	lastNL := -1
	for i := 0; i < offset && i < len(src); i++ {
		if src[i] == '\n' {
			line++
			lastNL = i
		}
	}
	return line, offset - lastNL
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}
