package changelog

import (
	"errors"
	"regexp"
	"strings"
)

var dollarTagRe = regexp.MustCompile(`^\$([A-Za-z_][A-Za-z0-9_]*)?\$`)

// SplitStatements splits SQL text on ';' terminators. Line comments ("--",
// and "#" at the start of a line) and block comments are dropped. Quoted
// strings, quoted identifiers and dollar-quoted bodies are kept intact. A
// trailing statement without a terminator is accepted.
func SplitStatements(src string) ([]string, error) {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '-' && strings.HasPrefix(src[i:], "--"),
			c == '#' && atLineStart(src, i):
			j := strings.IndexByte(src[i:], '\n')
			if j < 0 {
				i = len(src)
				continue
			}
			i += j - 1 // resume on the newline
		case c == '/' && strings.HasPrefix(src[i:], "/*"):
			j := strings.Index(src[i+2:], "*/")
			if j < 0 {
				return nil, errors.New("unterminated block comment")
			}
			cur.WriteByte(' ')
			i += j + 3
		case c == '\'' || c == '"' || c == '`':
			end, err := scanQuoted(src, i)
			if err != nil {
				return nil, err
			}
			cur.WriteString(src[i : end+1])
			i = end
		case c == '$' && dollarTagRe.MatchString(src[i:]):
			tag := dollarTagRe.FindString(src[i:])
			j := strings.Index(src[i+len(tag):], tag)
			if j < 0 {
				return nil, errors.New("unterminated dollar-quoted string")
			}
			end := i + len(tag) + j + len(tag)
			cur.WriteString(src[i:end])
			i = end - 1
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out, nil
}

// scanQuoted returns the index of the quote closing the one at start.
// Doubled quotes and backslash escapes (outside backticks) are skipped.
func scanQuoted(src string, start int) (int, error) {
	q := src[start]
	for j := start + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			if q != '`' {
				j++
			}
		case q:
			if j+1 < len(src) && src[j+1] == q {
				j++
				continue
			}
			return j, nil
		}
	}
	return 0, errors.New("unterminated quoted string starting with " + string(q))
}

func atLineStart(src string, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch src[j] {
		case '\n':
			return true
		case ' ', '\t', '\r':
		default:
			return false
		}
	}
	return true
}
