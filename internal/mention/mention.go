// Package mention extracts @handle tokens from chat message content.
//
// A token is '@' followed by the longest run of letters, digits and
// underscores. An '@' that directly follows one of those characters (as in
// an e-mail address) does not start a token. Tokens are returned once each,
// in order of first appearance, and keep their original case.
package mention

import (
	"unicode"
	"unicode/utf8"
)

func isHandleRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Parse returns the distinct handles mentioned in content.
func Parse(content string) []string {
	var out []string
	seen := map[string]bool{}
	prev := rune(-1)
	for i := 0; i < len(content); {
		r, size := utf8.DecodeRuneInString(content[i:])
		if r != '@' || (prev >= 0 && isHandleRune(prev)) {
			prev = r
			i += size
			continue
		}
		j := i + size
		for j < len(content) {
			nr, nsize := utf8.DecodeRuneInString(content[j:])
			if !isHandleRune(nr) {
				break
			}
			j += nsize
		}
		if handle := content[i+size : j]; handle != "" && !seen[handle] {
			seen[handle] = true
			out = append(out, handle)
		}
		if j == i+size {
			prev = r
			i = j
			continue
		}
		last, _ := utf8.DecodeLastRuneInString(content[i:j])
		prev = last
		i = j
	}
	return out
}

// ValidHandle reports whether s can be mentioned in full.
func ValidHandle(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isHandleRune(r) {
			return false
		}
	}
	return true
}
