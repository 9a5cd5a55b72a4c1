// Package catalog provides read access to the reference catalog of
// construction work codes.
package catalog

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/boq-resolver/internal/model"
)

// ErrNotFound is returned by Lookup when a code does not exist.
var ErrNotFound = eris.New("catalog: entry not found")

// Store is the read-only catalog interface used by the resolver.
type Store interface {
	// Lookup returns the entry with the given code or ErrNotFound.
	Lookup(ctx context.Context, code string) (*model.CatalogEntry, error)
	// Search returns entries whose name or code matches text. It is a
	// pre-filter; callers score and rank the result themselves.
	Search(ctx context.Context, text string, limit int) ([]model.CatalogEntry, error)
	// ListByCategory returns all entries of a category ordered by code.
	ListByCategory(ctx context.Context, category string) ([]model.CatalogEntry, error)
}

// Column positions in a catalog sheet.
const (
	colCode = iota
	colName
	colUnit
	colCategory
)

// ParseRows converts code,name,unit,category rows into entries. Rows without
// a code or name are skipped; later duplicates of a code are ignored.
func ParseRows(rows [][]string) []model.CatalogEntry {
	seen := make(map[string]bool, len(rows))
	out := make([]model.CatalogEntry, 0, len(rows))
	for _, r := range rows {
		code := cell(r, colCode)
		name := cell(r, colName)
		if code == "" || name == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, model.CatalogEntry{
			Code:     code,
			Name:     name,
			Unit:     cell(r, colUnit),
			Category: strings.ToLower(cell(r, colCategory)),
		})
	}
	return out
}

func cell(r []string, idx int) string {
	if idx >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[idx])
}
