package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func SHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Normalize collapses every run of whitespace outside quoted text to a single
// space and trims the ends, so reformatting a statement does not register as
// drift. Text inside '...', "..." or `...` is kept byte for byte.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			space = b.Len() > 0
			continue
		case c == '\'' || c == '"' || c == '`':
			if space {
				b.WriteByte(' ')
				space = false
			}
			end := closing(s, i)
			b.WriteString(s[i:end])
			i = end - 1
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

// closing returns the index just past the literal opened at s[start]. An
// unterminated literal runs to the end of s.
func closing(s string, start int) int {
	q := s[start]
	for i := start + 1; i < len(s); i++ {
		switch {
		case s[i] == '\\' && q != '`':
			i++
		case s[i] == q:
			return i + 1
		}
	}
	return len(s)
}

// Statements returns the checksum of an ordered statement list. Each entry is
// normalized first; order is significant.
func Statements(stmts []string) string {
	h := sha256.New()
	for _, s := range stmts {
		h.Write([]byte(Normalize(s)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
