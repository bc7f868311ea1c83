package protocol

import (
	"unicode"
	"unicode/utf8"
)

// Tokenize splits a line of request content into a command name and its
// arguments. It never fails: unterminated quotes run to the end of the line
// and stray backslashes are kept.
//
// Closing a quote does not end the current token, so `a"b c"d` is the single
// token `ab cd`. Quotes that enclose nothing produce no token.
func Tokenize(line string) Command {
	var (
		tokens   []string
		current  []byte
		inSingle bool
		inDouble bool
	)

	for i := 0; i < len(line); {
		c, size := utf8.DecodeRuneInString(line[i:])

		// Invalid UTF-8 is carried through byte for byte
		if c == utf8.RuneError && size == 1 {
			current = append(current, line[i])
			i++
			continue
		}

		switch {
		case c == '\\' && !inSingle:
			if i+1 < len(line) && isEscapable(line[i+1]) {
				current = append(current, line[i+1])
				i += 2
				continue
			}

			// Not an escape we know, keep the backslash and let the next
			// character be handled on its own
			current = append(current, '\\')

		case c == '\'' && !inDouble:
			inSingle = !inSingle

		case c == '"' && !inSingle:
			inDouble = !inDouble

		case unicode.IsSpace(c) && !inSingle && !inDouble:
			if len(current) > 0 {
				tokens = append(tokens, string(current))
				current = current[:0]
			}

		default:
			current = append(current, line[i:i+size]...)
		}

		i += size
	}

	if len(current) > 0 {
		tokens = append(tokens, string(current))
	}

	if len(tokens) == 0 {
		return Command{Args: []string{}}
	}

	return Command{Name: tokens[0], Args: tokens[1:]}
}

func isEscapable(c byte) bool {
	return c == '\\' || c == '"' || c == '\''
}
