package parser

import (
	"regexp"
	"strings"
	"unicode"
)

// Span is a chunk of text with its rune offsets in the source text.
type Span struct {
	Text  string
	Start int
	End   int
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

// normalizeText unifies line endings and collapses runs of blank lines.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// ChunkText splits text into chunks of at most size runes where consecutive chunks share
// exactly overlap runes. Break points prefer paragraph ends, then sentence ends, then
// whitespace.
func ChunkText(text string, size, overlap int) []Span {
	if size <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	if n <= size {
		return []Span{{Text: text, Start: 0, End: n}}
	}

	// shortest chunk we accept when backing off to a break point
	minLen := max(overlap+1, size/2)

	var spans []Span
	start := 0
	for {
		end := min(start+size, n)
		if end < n {
			end = breakPoint(runes, start+minLen, end)
		}
		spans = append(spans, Span{Text: string(runes[start:end]), Start: start, End: end})
		if end >= n {
			break
		}
		start = end - overlap
	}
	return spans
}

// breakPoint returns the best chunk end in [lo, hi]; hi when nothing better exists.
func breakPoint(runes []rune, lo, hi int) int {
	if lo > hi {
		return hi
	}
	checks := []func(b int) bool{
		func(b int) bool { return b >= 2 && runes[b-2] == '\n' && runes[b-1] == '\n' },
		func(b int) bool {
			return b >= 2 && strings.ContainsRune(".!?", runes[b-2]) && unicode.IsSpace(runes[b-1])
		},
		func(b int) bool { return b >= 1 && unicode.IsSpace(runes[b-1]) },
	}
	for _, check := range checks {
		for b := hi; b >= lo; b-- {
			if check(b) {
				return b
			}
		}
	}
	return hi
}
