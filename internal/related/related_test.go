package related

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/boq-resolver/internal/model"
)

func codes(refs []model.RelatedRef) []string {
	var out []string
	for _, r := range refs {
		out = append(out, r.Code)
	}
	return out
}

func TestTable_Related(t *testing.T) {
	tbl := DefaultTable()
	concrete := model.CatalogEntry{Code: "801321111", Name: "Beton C25/30", Category: "concrete"}

	tests := []struct {
		name  string
		entry model.CatalogEntry
		cctx  model.ContextDescriptor
		want  []string
	}{
		{"category only", concrete, model.ContextDescriptor{}, []string{"801361821", "801361822"}},
		{"context adds rule", concrete, model.ContextDescriptor{StructuralSystem: "Monolithic"}, []string{"801361821", "801361822", "801361901"}},
		{"other context", concrete, model.ContextDescriptor{StructuralSystem: "precast"}, []string{"801361821", "801361822"}},
		{"self excluded", model.CatalogEntry{Code: "801361821", Category: "concrete"}, model.ContextDescriptor{}, []string{"801361822"}},
		{"no rule", model.CatalogEntry{Code: "1", Category: "electrical"}, model.ContextDescriptor{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, codes(tbl.Related(tt.entry, tt.cctx)))
		})
	}
}

func TestTable_RelatedIsPure(t *testing.T) {
	tbl := DefaultTable()
	entry := model.CatalogEntry{Code: "132201101", Category: "earthworks"}
	first := tbl.Related(entry, model.ContextDescriptor{})
	first[0].Code = "mutated"

	second := tbl.Related(entry, model.ContextDescriptor{})
	assert.Equal(t, "174101101", second[0].Code)
	assert.Equal(t, "174101101", tbl.Rules[2].Related[0].Code)
}

func TestTable_CodePrefix(t *testing.T) {
	tbl := &Table{Rules: []Rule{{
		CodePrefix: "3112",
		Related:    []model.RelatedRef{{Code: "612321141"}, {Code: "612321141"}},
	}}}
	assert.Equal(t, []string{"612321141"}, codes(tbl.Related(model.CatalogEntry{Code: "311235151"}, model.ContextDescriptor{})))
	assert.Nil(t, tbl.Related(model.CatalogEntry{Code: "411235151"}, model.ContextDescriptor{}))

	var nilTable *Table
	assert.Nil(t, nilTable.Related(model.CatalogEntry{Code: "311235151"}, model.ContextDescriptor{}))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "related.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - name: walls
    category: masonry
    context:
      region: CZ
    related:
      - code: "612321141"
        reason: plaster
`), 0o600))

	tbl, err := Load(path)
	require.NoError(t, err)
	require.Len(t, tbl.Rules, 1)

	wall := model.CatalogEntry{Code: "311235151", Category: "Masonry"}
	assert.Equal(t, []string{"612321141"}, codes(tbl.Related(wall, model.ContextDescriptor{Region: "cz"})))
	assert.Nil(t, tbl.Related(wall, model.ContextDescriptor{Region: "sk"}))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "rules: [", "parse rules"},
		{"no selector", "rules:\n  - related:\n      - code: \"1\"\n", "category or code_prefix"},
		{"no related", "rules:\n  - category: concrete\n", "no related codes"},
		{"empty code", "rules:\n  - category: concrete\n    related:\n      - reason: x\n", "empty code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestMerge(t *testing.T) {
	got := Merge("A",
		[]model.RelatedRef{{Code: "B", Reason: "rule"}, {Code: "A"}},
		[]model.RelatedRef{{Code: "B", Reason: "selector"}, {Code: "C"}, {Code: ""}},
	)
	assert.Equal(t, []model.RelatedRef{{Code: "B", Reason: "rule"}, {Code: "C"}}, got)
	assert.Nil(t, Merge("A", nil))
}
