package classify

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/sells-group/boq-resolver/internal/model"
)

var (
	// Separators that always delimit independent work descriptions.
	hardSepRe = regexp.MustCompile(`\s*(?:\r?\n|;|\s\+\s)\s*`)
	// Enumerations such as "1) ..." or "b) ...".
	enumRe = regexp.MustCompile(`(?:^|\s)(?:\d{1,2}|[a-zA-Z])\)\s+`)
	// Conjunctions split only when both sides describe different work.
	conjRe = regexp.MustCompile(`(?i)\s+(?:a|and|und|&)\s+`)
)

// DetectShape reports whether a row holds one work description, several, or
// nothing recognizable. A nil table uses DefaultKeywords.
func DetectShape(raw string, kw *KeywordTable) model.Shape {
	switch n := len(Split(raw, kw)); {
	case n == 0:
		return model.ShapeUnknown
	case n == 1:
		return model.ShapeSingle
	default:
		return model.ShapeComposite
	}
}

// Split breaks a row into independent work descriptions. Newlines,
// semicolons, " + " and enumerations always split; "a", "and", "und" and "&"
// split only when the keyword table puts both sides in different categories.
// Parts without letters are dropped, so numeric-only rows yield nothing.
func Split(raw string, kw *KeywordTable) []string {
	if kw == nil {
		kw = DefaultKeywords()
	}

	var out []string
	for _, hard := range hardSepRe.Split(raw, -1) {
		for _, enum := range enumRe.Split(hard, -1) {
			for _, part := range splitConjunctions(enum, kw) {
				part = strings.Trim(part, " \t,.:-")
				if hasLetter(part) {
					out = append(out, part)
				}
			}
		}
	}
	return out
}

// splitConjunctions groups conjunction-separated segments, opening a new
// group only when a segment's category differs from the current group's.
func splitConjunctions(s string, kw *KeywordTable) []string {
	seps := conjRe.FindAllStringIndex(s, -1)
	if len(seps) == 0 {
		return []string{s}
	}

	var groups []string
	start, groupCat := 0, ""
	segStart := 0
	for i := 0; i <= len(seps); i++ {
		segEnd := len(s)
		if i < len(seps) {
			segEnd = seps[i][0]
		}
		seg := s[segStart:segEnd]
		cat := kw.Category(seg)

		switch {
		case i == 0:
			groupCat = cat
		case cat != Uncategorized && groupCat != Uncategorized && cat != groupCat:
			groups = append(groups, s[start:seps[i-1][0]])
			start, groupCat = segStart, cat
		case groupCat == Uncategorized:
			groupCat = cat
		}

		if i < len(seps) {
			segStart = seps[i][1]
		}
	}
	return append(groups, s[start:])
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
