package sqlutil

import (
	"strings"
	"unicode"
)

// NormalizeQuestion canonicalizes a user question for cache fingerprinting:
// lower-case, trimmed, punctuation at the edges dropped, inner whitespace
// collapsed. Two questions that normalize equal are treated as the same
// cache key for a given schema version.
func NormalizeQuestion(question string) string {
	q := strings.ToLower(strings.TrimSpace(question))
	q = strings.TrimFunc(q, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	return strings.Join(strings.Fields(q), " ")
}

// NormalizeSQL canonicalizes SQL for whitespace-insensitive shape
// comparison: whitespace runs collapse to one space, keywords are not
// reordered, case outside string literals is folded.
func NormalizeSQL(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	inString := false
	lastSpace := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if inString {
			b.WriteByte(c)
			if c == '\'' {
				// Doubled quote is an escaped quote inside the literal.
				if i+1 < len(sql) && sql[i+1] == '\'' {
					b.WriteByte(sql[i+1])
					i++
					continue
				}
				inString = false
			}
			continue
		}
		switch {
		case c == '\'':
			inString = true
			b.WriteByte(c)
			lastSpace = false
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			b.WriteByte(byte(unicode.ToLower(rune(c))))
			lastSpace = false
		}
	}
	return strings.TrimRight(strings.TrimSuffix(strings.TrimSpace(b.String()), ";"), " ")
}

// StringLiterals extracts the contents of single-quoted literals from a
// statement. Used by the injection screen on generated SQL.
func StringLiterals(sql string) []string {
	var literals []string
	var current strings.Builder
	inString := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if !inString {
			if c == '\'' {
				inString = true
				current.Reset()
			}
			continue
		}
		if c == '\'' {
			if i+1 < len(sql) && sql[i+1] == '\'' {
				current.WriteByte('\'')
				i++
				continue
			}
			inString = false
			literals = append(literals, current.String())
			continue
		}
		current.WriteByte(c)
	}
	return literals
}
