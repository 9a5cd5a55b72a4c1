package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/boq-resolver/internal/model"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"single", "Beton základových pásů C25/30", []string{"Beton základových pásů C25/30"}},
		{"semicolon", "Výkop jam; zásyp jam", []string{"Výkop jam", "zásyp jam"}},
		{"plus", "Beton C25/30 + výztuž B500B", []string{"Beton C25/30", "výztuž B500B"}},
		{"newline", "Bednění\nodbednění", []string{"Bednění", "odbednění"}},
		{"enumeration", "1) výkop rýh 2) zásyp rýh", []string{"výkop rýh", "zásyp rýh"}},
		{"different categories", "Beton a výztuž", []string{"Beton", "výztuž"}},
		{"same category", "Zdivo z cihel a tvárnic", []string{"Zdivo z cihel a tvárnic"}},
		{"uncategorized side", "Beton a ostatní", []string{"Beton a ostatní"}},
		{"english", "Concrete slab and formwork", []string{"Concrete slab", "formwork"}},
		{"numeric only", "12,5", nil},
		{"empty", "  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.raw, nil))
		})
	}
}

func TestDetectShape(t *testing.T) {
	assert.Equal(t, model.ShapeSingle, DetectShape("Beton C25/30", nil))
	assert.Equal(t, model.ShapeComposite, DetectShape("Beton C25/30; bednění", nil))
	assert.Equal(t, model.ShapeUnknown, DetectShape("---", nil))
	assert.Equal(t, model.ShapeUnknown, DetectShape("", nil))
}
