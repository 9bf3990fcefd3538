package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SentenceSplitter creates a splitter that breaks text after '.', '!' or '?'
// followed by whitespace. Offsets point into the original text.
func SentenceSplitter() SplitFunc {
	return func(text string) []Sentence {
		var sentences []Sentence
		start := 0

		emit := func(end int) {
			raw := text[start:end]
			trimmedLeft := strings.TrimLeftFunc(raw, unicode.IsSpace)
			content := strings.TrimRightFunc(trimmedLeft, unicode.IsSpace)
			if content != "" {
				offset := start + len(raw) - len(trimmedLeft)
				sentences = append(sentences, Sentence{
					Content: content,
					Start:   offset,
					End:     offset + len(content),
					Index:   len(sentences),
				})
			}
			start = end
		}

		for i := 0; i < len(text); {
			r, size := utf8.DecodeRuneInString(text[i:])
			i += size
			if r != '.' && r != '!' && r != '?' {
				continue
			}
			if i == len(text) {
				break
			}
			next, _ := utf8.DecodeRuneInString(text[i:])
			if unicode.IsSpace(next) {
				emit(i)
			}
		}
		if start < len(text) {
			emit(len(text))
		}

		return sentences
	}
}
