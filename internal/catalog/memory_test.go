package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRows() [][]string {
	return [][]string{
		{"801321111", "Beton základových pásů C25/30", "m3", "Concrete"},
		{"801321121", "Beton základových pásů C30/37", "m3", "concrete"},
		{"311235151", "Zdivo z cihel plných tl. 300 mm", "m2", "masonry"},
		{"", "missing code", "m", "x"},
		{"801321111", "duplicate", "m3", "concrete"},
		{"132201101", "Hloubení rýh šířky do 600 mm", "m3", "earthworks"},
	}
}

func TestLoadRows(t *testing.T) {
	s, err := LoadRows(testRows())
	require.NoError(t, err)
	assert.Equal(t, 4, s.Len())

	entries := s.Entries()
	assert.Equal(t, "132201101", entries[0].Code)
	assert.Equal(t, "concrete", entries[2].Category)
	assert.Equal(t, "Beton základových pásů C25/30", entries[2].Name)
}

func TestLoadRows_Empty(t *testing.T) {
	_, err := LoadRows([][]string{{"", ""}})
	require.Error(t, err)
}

func TestMemoryStore_Lookup(t *testing.T) {
	s, err := LoadRows(testRows())
	require.NoError(t, err)

	e, err := s.Lookup(context.Background(), " 311235151 ")
	require.NoError(t, err)
	assert.Equal(t, "m2", e.Unit)

	_, err = s.Lookup(context.Background(), "999")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_Search(t *testing.T) {
	s, err := LoadRows(testRows())
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"substring folded", "beton zakladovych", 0, []string{"801321111", "801321121"}},
		{"all tokens", "beton C25/30", 0, []string{"801321111"}},
		{"code prefix", "8013211", 0, []string{"801321111", "801321121"}},
		{"limit", "beton", 1, []string{"801321111"}},
		{"no match", "střešní krytina", 0, nil},
		{"empty", "  ", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(ctx, tt.text, tt.limit)
			require.NoError(t, err)
			var codes []string
			for _, e := range got {
				codes = append(codes, e.Code)
			}
			assert.Equal(t, tt.want, codes)
		})
	}
}

func TestMemoryStore_SearchCanceled(t *testing.T) {
	s, err := LoadRows(testRows())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Search(ctx, "beton", 0)
	require.Error(t, err)
}

func TestMemoryStore_ListByCategory(t *testing.T) {
	s, err := LoadRows(testRows())
	require.NoError(t, err)

	got, err := s.ListByCategory(context.Background(), "CONCRETE")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "801321111", got[0].Code)

	got, err = s.ListByCategory(context.Background(), "roofing")
	require.NoError(t, err)
	assert.Empty(t, got)
}
