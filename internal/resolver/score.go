package resolver

import (
	"strings"

	"github.com/agext/levenshtein"

	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/normalize"
)

// Weights blends the similarity signals. They are normalized by their sum,
// so only the ratios matter.
type Weights struct {
	Edit        float64 `yaml:"edit" mapstructure:"edit"`
	Dice        float64 `yaml:"dice" mapstructure:"dice"`
	Containment float64 `yaml:"containment" mapstructure:"containment"`
}

// DefaultWeights favors token overlap over raw edit distance, since catalog
// names are usually longer than the rows that reference them.
func DefaultWeights() Weights {
	return Weights{Edit: 0.25, Dice: 0.35, Containment: 0.40}
}

func (w Weights) sum() float64 { return w.Edit + w.Dice + w.Containment }

// minStem is the shortest token that may match another by prefix, so
// inflected forms like "betonu" and "beton" count as the same word.
const minStem = 4

// Score rates how well a catalog entry matches normalized query text, in
// [0,1]. An exact code match scores 1.
func Score(query string, e model.CatalogEntry, w Weights) float64 {
	query = strings.TrimSpace(query)
	if query == "" {
		return 0
	}
	if strings.EqualFold(query, strings.TrimSpace(e.Code)) {
		return 1
	}
	if w.sum() <= 0 {
		w = DefaultWeights()
	}

	name := normalize.Text(e.Name)
	qt := normalize.Tokens(query)
	nt := normalize.Tokens(name)

	edit := levenshtein.Similarity(query, name, nil)
	dice := diceCoefficient(qt, nt)
	cont := containment(qt, nt)

	s := (w.Edit*edit + w.Dice*dice + w.Containment*cont) / w.sum()
	return model.ClampConfidence(s)
}

func tokenMatch(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) < minStem || len(b) < minStem {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// diceCoefficient is 2|A∩B| / (|A|+|B|) over token sets.
func diceCoefficient(a, b []string) float64 {
	a, b = dedup(a), dedup(b)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	used := make([]bool, len(b))
	shared := 0
	for _, x := range a {
		for j, y := range b {
			if !used[j] && tokenMatch(x, y) {
				used[j] = true
				shared++
				break
			}
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

// containment is the fraction of query tokens present in the name.
func containment(query, name []string) float64 {
	query = dedup(query)
	if len(query) == 0 {
		return 0
	}
	hit := 0
	for _, q := range query {
		for _, n := range name {
			if tokenMatch(q, n) {
				hit++
				break
			}
		}
	}
	return float64(hit) / float64(len(query))
}

func dedup(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
