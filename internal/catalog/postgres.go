package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/boq-resolver/internal/db"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/normalize"
)

// Schema creates the catalog table. search_text holds the normalized name so
// that folded queries match accented names; the trigram index backs
// similarity() ordering.
const Schema = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS catalog_entries (
	code        TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	unit        TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	search_text TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_catalog_entries_category ON catalog_entries(category);
CREATE INDEX IF NOT EXISTS idx_catalog_entries_search_trgm
	ON catalog_entries USING gin (search_text gin_trgm_ops);
`

// PostgresConfig configures the Postgres catalog.
type PostgresConfig struct {
	URL                 string  `mapstructure:"database_url"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// PostgresStore reads the catalog from a catalog_entries table.
type PostgresStore struct {
	pool      db.Pool
	threshold float64
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the catalog database.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "catalog: ping")
	}
	return NewPostgresStoreFromPool(pool, cfg.SimilarityThreshold), nil
}

// NewPostgresStoreFromPool wraps an existing pool.
func NewPostgresStoreFromPool(pool db.Pool, threshold float64) *PostgresStore {
	if threshold <= 0 {
		threshold = 0.3
	}
	return &PostgresStore{pool: pool, threshold: threshold}
}

// Close releases the pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// Migrate creates the catalog schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return eris.Wrap(err, "catalog: migrate")
	}
	return nil
}

const lookupSQL = `SELECT code, name, unit, category FROM catalog_entries WHERE code = $1`

// Lookup returns the entry with the given code.
func (s *PostgresStore) Lookup(ctx context.Context, code string) (*model.CatalogEntry, error) {
	var e model.CatalogEntry
	err := s.pool.QueryRow(ctx, lookupSQL, strings.TrimSpace(code)).
		Scan(&e.Code, &e.Name, &e.Unit, &e.Category)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "code %q", code)
	}
	if err != nil {
		return nil, eris.Wrap(err, "catalog: lookup")
	}
	return &e, nil
}

const searchSQL = `
SELECT code, name, unit, category
FROM catalog_entries
WHERE search_text LIKE '%' || $1 || '%'
   OR lower(code) LIKE $1 || '%'
   OR similarity(search_text, $1) >= $2
ORDER BY similarity(search_text, $1) DESC, code
LIMIT $3`

// Search runs a substring and trigram pre-filter over normalized names.
func (s *PostgresStore) Search(ctx context.Context, text string, limit int) ([]model.CatalogEntry, error) {
	q := normalize.Text(text)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, searchSQL, q, s.threshold, limit)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: search")
	}
	defer rows.Close()
	return scanEntries(rows)
}

const categorySQL = `
SELECT code, name, unit, category
FROM catalog_entries
WHERE category = $1
ORDER BY code`

// ListByCategory returns every entry of a category.
func (s *PostgresStore) ListByCategory(ctx context.Context, category string) ([]model.CatalogEntry, error) {
	rows, err := s.pool.Query(ctx, categorySQL, strings.ToLower(strings.TrimSpace(category)))
	if err != nil {
		return nil, eris.Wrap(err, "catalog: list by category")
	}
	defer rows.Close()
	return scanEntries(rows)
}

var importColumns = []string{"code", "name", "unit", "category", "search_text"}

// Import bulk-loads a snapshot into an empty catalog_entries table.
func (s *PostgresStore) Import(ctx context.Context, entries []model.CatalogEntry) (int64, error) {
	data := make([][]any, len(entries))
	for i, e := range entries {
		data[i] = []any{e.Code, e.Name, e.Unit, e.Category, normalize.Text(e.Name)}
	}
	n, err := db.CopyFrom(ctx, s.pool, "catalog_entries", importColumns, data)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: import")
	}
	return n, nil
}

func scanEntries(rows pgx.Rows) ([]model.CatalogEntry, error) {
	var out []model.CatalogEntry
	for rows.Next() {
		var e model.CatalogEntry
		if err := rows.Scan(&e.Code, &e.Name, &e.Unit, &e.Category); err != nil {
			return nil, eris.Wrap(err, "catalog: scan entry")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "catalog: iterate entries")
	}
	return out, nil
}
