// Package normalize turns free-text BOQ rows into stable query text.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/boq-resolver/internal/model"
)

var (
	decimalCommaRe = regexp.MustCompile(`(\d),(\d)`)
	dimensionRe    = regexp.MustCompile(`(\d)\s*[x×*]\s*(\d)`)
	multiSpaceRe   = regexp.MustCompile(`\s+`)
	lower          = cases.Lower(language.Und)
)

// edgePunct is trimmed from both ends of a normalized row.
const edgePunct = ".,;:-–—_*#\"'()[]"

// Fold removes diacritics and applies compatibility decomposition, so
// "Betón m²" becomes "Beton m2".
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Text returns the normalized form of a raw row: folded, lowercased,
// with decimal commas and dimension separators unified and whitespace
// collapsed.
func Text(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = lower.String(Fold(s))
	s = decimalCommaRe.ReplaceAllString(s, "$1.$2")
	s = dimensionRe.ReplaceAllString(s, "${1}x${2}")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = strings.Trim(s, edgePunct+" ")
	return s
}

// Tokens splits normalized text into search tokens. Slashes and dots inside
// alphanumeric runs are kept, so "c25/30" and "0.5" survive as one token.
// Stopwords of the supported languages are dropped.
func Tokens(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '/' && r != '.'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "./")
		if f == "" || stopwords[f] {
			continue
		}
		if len([]rune(f)) < 2 && !isDigits(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Query builds a normalized query for a raw row under the given context.
func Query(raw string, ctx model.ContextDescriptor) model.NormalizedQuery {
	return model.NormalizedQuery{
		Raw:         raw,
		Text:        Text(raw),
		Language:    DetectLanguage(raw),
		Context:     ctx,
		ContextHash: ctx.Hash(),
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
