package article

import (
	"strings"
	"unicode"
)

// isCJKIdeograph reports whether r falls in the CJK Unified Ideographs
// block (U+4E00-U+9FFF), per spec.md §4.6's word-count rule for Chinese
// text.
func isCJKIdeograph(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

// WordCount implements spec.md §4.6's language-dependent counting rule:
// for Chinese text, the count of CJK Unified Ideographs code points;
// for other languages, the whitespace-delimited token count.
func WordCount(language, body string) int {
	if language == "zh-CN" {
		n := 0
		for _, r := range body {
			if isCJKIdeograph(r) {
				n++
			}
		}
		return n
	}
	return len(strings.FieldsFunc(body, unicode.IsSpace))
}
