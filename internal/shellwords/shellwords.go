// Package shellwords splits a command line into words using POSIX quoting
// rules. It is a deliberately small state machine: single quotes, double
// quotes, and backslash escapes are honored; no variable, glob, or command
// expansion is ever performed. Keeping the accepted grammar in one file makes
// the tokenizer auditable — it sits on a security boundary.
package shellwords

import "errors"

// ErrUnterminatedQuote is returned when the input ends inside a quoted
// region or after a trailing backslash.
var ErrUnterminatedQuote = errors.New("unterminated quote")

// Split breaks line into words.
//
//   - Unquoted whitespace (space, tab) separates words.
//   - 'single quotes' preserve everything literally.
//   - "double quotes" preserve everything except backslash-escaped `"` and `\`.
//   - A backslash outside quotes escapes the next character.
//
// An empty quoted string yields an empty word; runs of whitespace yield none.
func Split(line string) ([]string, error) {
	const (
		stateBare = iota
		stateSingle
		stateDouble
	)

	var words []string
	var word []byte
	state := stateBare
	escaped := false
	inWord := false

	for i := 0; i < len(line); i++ {
		c := line[i]

		if escaped {
			word = append(word, c)
			escaped = false
			continue
		}

		switch state {
		case stateSingle:
			if c == '\'' {
				state = stateBare
			} else {
				word = append(word, c)
			}

		case stateDouble:
			switch c {
			case '"':
				state = stateBare
			case '\\':
				if i+1 < len(line) && (line[i+1] == '"' || line[i+1] == '\\') {
					escaped = true
				} else {
					word = append(word, c)
				}
			default:
				word = append(word, c)
			}

		default: // stateBare
			switch c {
			case ' ', '\t':
				if inWord {
					words = append(words, string(word))
					word = word[:0]
					inWord = false
				}
			case '\'':
				state = stateSingle
				inWord = true
			case '"':
				state = stateDouble
				inWord = true
			case '\\':
				escaped = true
				inWord = true
			default:
				word = append(word, c)
				inWord = true
			}
		}
	}

	if escaped || state != stateBare {
		return nil, ErrUnterminatedQuote
	}
	if inWord {
		words = append(words, string(word))
	}
	return words, nil
}
