package token

import (
	"strings"
	"unicode"
)

// Tokenization used for all length accounting in the engine. ASCII text
// tokenizes per whitespace-separated word, anything outside ASCII (CJK
// in particular) tokenizes per rune. The scheme is cheap, deterministic
// and reversible enough for overlap/window arithmetic; it is not a
// model tokenizer and never leaves this process.

// Encode splits text into tokens.
func Encode(text string) []string {
	var tokens []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case r > 127:
			flush()
			tokens = append(tokens, string(r))
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// Decode joins tokens back into text. Whitespace is normalized: a
// single space separates adjacent ASCII word tokens, wide-rune tokens
// concatenate directly.
func Decode(tokens []string) string {
	var sb strings.Builder
	prevWord := false
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		isWord := tok[0] <= 127
		if prevWord && isWord {
			sb.WriteByte(' ')
		}
		sb.WriteString(tok)
		prevWord = isWord
	}
	return sb.String()
}

func Count(text string) int {
	return len(Encode(text))
}

// Tail returns the text of the last n tokens.
func Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	tokens := Encode(text)
	if len(tokens) > n {
		tokens = tokens[len(tokens)-n:]
	}
	return Decode(tokens)
}

// Head returns the text of the first n tokens.
func Head(text string, n int) string {
	if n <= 0 {
		return ""
	}
	tokens := Encode(text)
	if len(tokens) > n {
		tokens = tokens[:n]
	}
	return Decode(tokens)
}
