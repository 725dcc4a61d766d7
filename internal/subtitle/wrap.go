package subtitle

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFC and collapses runs of whitespace
func Normalize(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

// Wrap breaks text into lines of at most maxLineLength runes, preferring
// whitespace, then punctuation, then a hard cut. At most maxLines lines are
// returned; any overflow is joined into the last line so no text is lost.
func Wrap(text string, maxLineLength, maxLines int) []string {
	rest := []rune(Normalize(text))
	if len(rest) == 0 {
		return nil
	}
	if maxLineLength <= 0 {
		return []string{string(rest)}
	}

	var lines []string
	for len(rest) > maxLineLength {
		cut, skip := breakPoint(rest, maxLineLength)
		lines = append(lines, strings.TrimSpace(string(rest[:cut])))
		rest = []rune(strings.TrimLeftFunc(string(rest[cut+skip:]), unicode.IsSpace))
	}
	if len(rest) > 0 {
		lines = append(lines, string(rest))
	}

	if maxLines > 0 && len(lines) > maxLines {
		tail := strings.Join(lines[maxLines-1:], " ")
		lines = append(lines[:maxLines-1], tail)
	}
	return lines
}

// breakPoint returns where to cut and how many runes to drop at the cut
func breakPoint(text []rune, max int) (int, int) {
	for i := max; i > 0; i-- {
		if unicode.IsSpace(text[i]) {
			return i, 1
		}
	}
	for i := max - 1; i > 0; i-- {
		if isBreakPunct(text[i]) {
			return i + 1, 0
		}
	}
	return max, 0
}

func isBreakPunct(r rune) bool {
	switch r {
	case ',', '.', ';', ':', '!', '?', '-', '/', '、', '。', '，':
		return true
	}
	return false
}
