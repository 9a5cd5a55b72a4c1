// Package related suggests catalog entries that usually accompany a
// resolved item, such as formwork and reinforcement next to cast concrete.
// Rules are data; Related is a pure function of the table, the entry and
// the project context.
package related

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/boq-resolver/internal/model"
)

// Rule attaches related codes to entries of a category and/or code prefix.
// Context entries must all match the project context (case-insensitive);
// a rule without context applies everywhere.
type Rule struct {
	Name       string             `yaml:"name"`
	Category   string             `yaml:"category"`
	CodePrefix string             `yaml:"code_prefix"`
	Context    map[string]string  `yaml:"context"`
	Related    []model.RelatedRef `yaml:"related"`
}

// Table is an ordered list of rules.
type Table struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultTable returns the built-in rules.
func DefaultTable() *Table {
	return &Table{Rules: []Rule{
		{
			Name:     "cast concrete needs formwork",
			Category: "concrete",
			Related: []model.RelatedRef{
				{Code: "801361821", Reason: "formwork for cast concrete"},
				{Code: "801361822", Reason: "formwork removal"},
			},
		},
		{
			Name:     "monolithic concrete needs reinforcement",
			Category: "concrete",
			Context:  map[string]string{"structural_system": "monolithic"},
			Related: []model.RelatedRef{
				{Code: "801361901", Reason: "reinforcement of monolithic members"},
			},
		},
		{
			Name:     "excavation needs backfill and haulage",
			Category: "earthworks",
			Related: []model.RelatedRef{
				{Code: "174101101", Reason: "backfill of excavation"},
				{Code: "162701105", Reason: "haulage of excavated soil"},
			},
		},
		{
			Name:     "masonry needs plaster",
			Category: "masonry",
			Related: []model.RelatedRef{
				{Code: "612321141", Reason: "internal plaster on new masonry"},
			},
		},
		{
			Name:     "roofing needs flashing",
			Category: "roofing",
			Related: []model.RelatedRef{
				{Code: "764211404", Reason: "flashing and gutters"},
			},
		},
	}}
}

// Load reads a rule table from a YAML file.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "related: read rules %s", path)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML rule table.
func Parse(raw []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, eris.Wrap(err, "related: parse rules")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate rejects rules that would match everything or suggest nothing.
func (t *Table) Validate() error {
	for i, r := range t.Rules {
		if strings.TrimSpace(r.Category) == "" && strings.TrimSpace(r.CodePrefix) == "" {
			return eris.Errorf("related: rule %d (%s) needs a category or code_prefix", i, r.Name)
		}
		if len(r.Related) == 0 {
			return eris.Errorf("related: rule %d (%s) lists no related codes", i, r.Name)
		}
		for _, ref := range r.Related {
			if strings.TrimSpace(ref.Code) == "" {
				return eris.Errorf("related: rule %d (%s) has an empty code", i, r.Name)
			}
		}
	}
	return nil
}

// Related returns the related codes of every rule matching entry under
// cctx, in rule order, without duplicates and without the entry itself.
func (t *Table) Related(entry model.CatalogEntry, cctx model.ContextDescriptor) []model.RelatedRef {
	if t == nil {
		return nil
	}
	seen := map[string]bool{entry.Code: true}
	var out []model.RelatedRef
	for _, r := range t.Rules {
		if !r.matches(entry, cctx) {
			continue
		}
		for _, ref := range r.Related {
			code := strings.TrimSpace(ref.Code)
			if seen[code] {
				continue
			}
			seen[code] = true
			out = append(out, model.RelatedRef{Code: code, Reason: ref.Reason})
		}
	}
	return out
}

func (r Rule) matches(entry model.CatalogEntry, cctx model.ContextDescriptor) bool {
	if r.Category != "" && !strings.EqualFold(r.Category, entry.Category) {
		return false
	}
	if r.CodePrefix != "" && !strings.HasPrefix(entry.Code, r.CodePrefix) {
		return false
	}
	for k, v := range r.Context {
		if cctx.Get(k) != strings.ToLower(strings.TrimSpace(v)) {
			return false
		}
	}
	return true
}

// Merge appends refs not already present in base, skipping self.
func Merge(self string, base []model.RelatedRef, extra ...[]model.RelatedRef) []model.RelatedRef {
	seen := map[string]bool{self: true}
	out := make([]model.RelatedRef, 0, len(base))
	for _, group := range append([][]model.RelatedRef{base}, extra...) {
		for _, ref := range group {
			if ref.Code == "" || seen[ref.Code] {
				continue
			}
			seen[ref.Code] = true
			out = append(out, ref)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
