package normalize

import (
	"strings"
	"unicode"
)

// Supported language tags. Und is returned when no signal is found.
const (
	LangCzech   = "cs"
	LangSlovak  = "sk"
	LangGerman  = "de"
	LangEnglish = "en"
	LangUnknown = "und"
)

// Characters that only occur in one of the supported languages.
var signatureRunes = map[string]string{
	LangCzech:  "ěřůĚŘŮ",
	LangSlovak: "ľĺŕôäĽĹŔÔ",
	LangGerman: "ßöüÖÜ",
}

var stopwordsByLang = map[string][]string{
	LangCzech:   {"a", "v", "na", "se", "z", "do", "vc", "vcetne", "pro", "nebo", "tl", "ze"},
	LangSlovak:  {"a", "v", "na", "sa", "z", "do", "vratane", "pre", "alebo", "hr"},
	LangGerman:  {"und", "mit", "der", "die", "das", "fur", "inkl", "aus", "von", "oder"},
	LangEnglish: {"and", "with", "the", "of", "for", "incl", "including", "to", "or", "in"},
}

// stopwords is the union of all stopword lists, keyed by folded form.
var stopwords = func() map[string]bool {
	m := make(map[string]bool)
	for _, words := range stopwordsByLang {
		for _, w := range words {
			m[w] = true
		}
	}
	return m
}()

// DetectLanguage guesses the input language of a raw row from diacritic
// signatures first and stopword hits second.
func DetectLanguage(raw string) string {
	// German goes before Slovak: "ä" is shared, "ü/ö/ß" are not.
	for _, lang := range []string{LangCzech, LangGerman, LangSlovak} {
		if strings.ContainsAny(raw, signatureRunes[lang]) {
			return lang
		}
	}

	words := strings.FieldsFunc(strings.ToLower(Fold(raw)), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	best, bestHits := LangUnknown, 0
	for _, lang := range []string{LangCzech, LangSlovak, LangGerman, LangEnglish} {
		hits := 0
		set := make(map[string]bool, len(stopwordsByLang[lang]))
		for _, w := range stopwordsByLang[lang] {
			// Single-letter words are shared by cs/sk and say little.
			if len(w) > 1 {
				set[w] = true
			}
		}
		for _, w := range words {
			if set[w] {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = lang, hits
		}
	}
	if best != LangUnknown {
		return best
	}

	// Czech/Slovak shared diacritics without a stopword signal.
	if strings.ContainsAny(raw, "áéíóúýčďňšťžÁÉÍÓÚÝČĎŇŠŤŽ") {
		return LangCzech
	}
	return LangUnknown
}
