package classify

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/boq-resolver/internal/normalize"
)

// Uncategorized is assigned to rows no keyword matches.
const Uncategorized = "uncategorized"

// CategoryKeywords lists keyword stems for one category. A stem matches a
// token it prefixes, so "beton" matches "betonu" and "betonova".
type CategoryKeywords struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// KeywordTable is the deterministic fallback classifier. Categories are
// tried in order; the category with the most matched stems wins and ties
// go to the earlier category.
type KeywordTable struct {
	Categories []CategoryKeywords `yaml:"categories"`
}

// DefaultKeywords returns the built-in construction keyword table. Stems are
// in folded form (no diacritics) and cover Czech, Slovak, German and English.
func DefaultKeywords() *KeywordTable {
	return &KeywordTable{Categories: []CategoryKeywords{
		{Name: "demolition", Keywords: []string{"bouran", "vybour", "demolic", "demont", "odstran", "rozober", "abbruch", "ruckbau", "demolition", "dismantl"}},
		{Name: "earthworks", Keywords: []string{"vykop", "hlouben", "zasyp", "odkop", "zemin", "zemni", "nasyp", "ornic", "ryh", "jam", "aushub", "erdarbeit", "verfull", "excavat", "backfill", "earthwork", "trench"}},
		{Name: "reinforcement", Keywords: []string{"vyztuz", "vystuz", "armatur", "kari", "b500", "bewehr", "betonstahl", "rebar", "reinforc"}},
		{Name: "formwork", Keywords: []string{"bednen", "debnen", "schalung", "formwork", "shutter"}},
		{Name: "concrete", Keywords: []string{"beton", "zelezobeton", "mazanin", "poter", "stahlbeton", "estrich", "concrete", "screed", "c12/15", "c16/20", "c20/25", "c25/30", "c30/37", "c35/45"}},
		{Name: "masonry", Keywords: []string{"zdiv", "murivo", "muriv", "cihel", "cihl", "tehl", "tvarnic", "prick", "mauerwerk", "ziegel", "masonry", "brick", "blockwork", "porotherm", "ytong"}},
		{Name: "roofing", Keywords: []string{"strech", "stresn", "krytin", "krov", "klempir", "okap", "zlab", "dach", "roof", "gutter"}},
		{Name: "insulation", Keywords: []string{"izolac", "hydroizol", "tepeln", "zatepl", "polystyren", "eps", "xps", "dammung", "warmedamm", "insulat", "waterproof"}},
		{Name: "finishes", Keywords: []string{"omitk", "malb", "nater", "obklad", "dlazb", "podlah", "sadrokarton", "stierk", "putz", "fliesen", "anstrich", "plaster", "paint", "tiling", "flooring", "drywall"}},
		{Name: "plumbing", Keywords: []string{"vodovod", "kanalizac", "potrub", "sanitar", "umyvad", "zachod", "wasser", "rohr", "abwasser", "plumb", "pipe", "drain", "sewer"}},
		{Name: "electrical", Keywords: []string{"elektr", "kabel", "zasuvk", "svitid", "rozvad", "vypinac", "leuchte", "steckdose", "electric", "cable", "lighting", "socket", "wiring"}},
	}}
}

// LoadKeywords reads a keyword table from a YAML file. Stems are normalized.
func LoadKeywords(path string) (*KeywordTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: read keywords %s", path)
	}
	var t KeywordTable
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, eris.Wrap(err, "classify: parse keywords")
	}
	if len(t.Categories) == 0 {
		return nil, eris.New("classify: keyword table has no categories")
	}
	for i := range t.Categories {
		c := &t.Categories[i]
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
		if c.Name == "" {
			return nil, eris.Errorf("classify: category %d has no name", i)
		}
		for j, k := range c.Keywords {
			c.Keywords[j] = normalize.Text(k)
		}
	}
	return &t, nil
}

// Names returns the category names in table order plus Uncategorized.
func (t *KeywordTable) Names() []string {
	out := make([]string, 0, len(t.Categories)+1)
	for _, c := range t.Categories {
		out = append(out, c.Name)
	}
	return append(out, Uncategorized)
}

// Has reports whether name is a known category.
func (t *KeywordTable) Has(name string) bool {
	if name == Uncategorized {
		return true
	}
	for _, c := range t.Categories {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Category returns the best matching category for raw text. It never fails.
func (t *KeywordTable) Category(raw string) string {
	tokens := normalize.Tokens(normalize.Text(raw))
	if len(tokens) == 0 {
		return Uncategorized
	}

	best, bestHits := Uncategorized, 0
	for _, c := range t.Categories {
		hits := 0
		for _, k := range c.Keywords {
			for _, tok := range tokens {
				if k != "" && strings.HasPrefix(tok, k) {
					hits++
					break
				}
			}
		}
		if hits > bestHits {
			best, bestHits = c.Name, hits
		}
	}
	return best
}
