// Package normalize folds raw entity names into comparable lookup keys.
package normalize

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrEmptyName is returned for names that are empty after trimming.
var ErrEmptyName = errors.New("name is empty")

// honorifics are stripped from the front of a name. Epithets and suffixes are kept.
var honorifics = map[string]struct{}{
	// nobility
	"sir": {}, "lord": {}, "lady": {}, "dame": {}, "king": {}, "queen": {}, "prince": {}, "princess": {},
	"duke": {}, "duchess": {}, "count": {}, "countess": {}, "baron": {}, "earl": {}, "emperor": {},
	"empress": {}, "tsar": {},
	// religious
	"saint": {}, "st": {}, "pope": {}, "father": {}, "brother": {}, "sister": {}, "rev": {},
	"reverend": {}, "bishop": {}, "archbishop": {}, "cardinal": {},
	// civil
	"mr": {}, "mrs": {}, "ms": {}, "dr": {},
}

// Name returns the lookup key of a raw name: case folded, diacritics removed,
// honorific prefixes stripped, surrounding punctuation dropped and whitespace collapsed.
func Name(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrEmptyName
	}

	tokens := Tokens(fold(raw))
	if len(tokens) == 0 {
		return "", ErrEmptyName
	}

	stripped := tokens
	for len(stripped) > 0 {
		if _, ok := honorifics[stripped[0]]; !ok {
			break
		}
		stripped = stripped[1:]
	}
	// A bare title is kept as the name
	if len(stripped) == 0 {
		stripped = tokens
	}

	return strings.Join(stripped, " "), nil
}

// Tokens splits a key into words, dropping punctuation at both ends of each word.
// Inner punctuation such as in "d'arc" or "jean-paul" is kept.
func Tokens(key string) []string {
	fields := strings.FieldsFunc(key, func(r rune) bool {
		return unicode.IsSpace(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Words folds free text into tokens like Name does, but keeps every word.
func Words(text string) []string {
	return Tokens(fold(text))
}

func fold(s string) string {
	// Transformers and casers are stateful, one per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		result = s
	}
	return cases.Fold().String(result)
}
