package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/boq-resolver/internal/model"
)

var entryColumns = []string{"code", "name", "unit", "category"}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStoreFromPool(mock, 0), mock
}

func TestPostgresStore_Lookup(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT code, name, unit, category FROM catalog_entries WHERE code").
		WithArgs("801321111").
		WillReturnRows(pgxmock.NewRows(entryColumns).
			AddRow("801321111", "Beton C25/30", "m3", "concrete"))

	e, err := s.Lookup(context.Background(), "801321111")
	require.NoError(t, err)
	assert.Equal(t, "Beton C25/30", e.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT code, name, unit, category FROM catalog_entries WHERE code").
		WithArgs("x").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Lookup(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Search(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("similarity\\(search_text").
		WithArgs("beton zakladovych", 0.3, 20).
		WillReturnRows(pgxmock.NewRows(entryColumns).
			AddRow("801321111", "Beton základových pásů C25/30", "m3", "concrete").
			AddRow("801321121", "Beton základových pásů C30/37", "m3", "concrete"))

	got, err := s.Search(context.Background(), "Beton základových", 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "801321121", got[1].Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchEmptySkipsQuery(t *testing.T) {
	s, mock := newMockStore(t)

	got, err := s.Search(context.Background(), " ", 10)
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("similarity").WillReturnError(errors.New("boom"))

	_, err := s.Search(context.Background(), "beton", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog: search")
}

func TestPostgresStore_ListByCategory(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("WHERE category").
		WithArgs("masonry").
		WillReturnRows(pgxmock.NewRows(entryColumns).
			AddRow("311235151", "Zdivo", "m2", "masonry"))

	got, err := s.ListByCategory(context.Background(), " Masonry ")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Import(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"catalog_entries"}, importColumns).WillReturnResult(1)

	n, err := s.Import(context.Background(), []model.CatalogEntry{
		{Code: "801321111", Name: "Betón", Unit: "m3", Category: "concrete"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS pg_trgm").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
