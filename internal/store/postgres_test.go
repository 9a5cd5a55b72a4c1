package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/boq-resolver/internal/model"
)

var fixedTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := NewPostgresFromPool(mock)
	s.nowFunc = func() time.Time { return fixedTime }
	return s, mock
}

var itemCols = []string{"id", "job_id", "seq", "raw", "category", "text", "language", "shape", "sub_items", "status", "result", "error", "error_kind", "attempts", "updated_at"}

var mappingCols = []string{"normalized_text", "context_hash", "code", "confidence", "usage_count", "validated_by_user", "created_at", "updated_at", "last_used_at"}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS batch_jobs`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_CopiesItems(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO batch_jobs`).
		WithArgs("job-1", pgxmock.AnyArg(), pgxmock.AnyArg(), fixedTime, fixedTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"batch_items"}, itemCopyColumns).
		WillReturnResult(2)
	mock.ExpectCommit()

	job, err := s.CreateJob(context.Background(), model.BatchJob{ID: "job-1"},
		[]model.BatchItem{{ID: "i1", Raw: "beton"}, {ID: "i2", Raw: "zdivo"}})
	require.NoError(t, err)
	assert.Equal(t, 2, job.Counts.Total)
	assert.Equal(t, model.JobPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_CopyFailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO batch_jobs`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"batch_items"}, itemCopyColumns).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err := s.CreateJob(context.Background(), model.BatchJob{ID: "job-1"}, []model.BatchItem{{Raw: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert items")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_InsertFailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO batch_jobs`).
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	_, err := s.CreateJob(context.Background(), model.BatchJob{ID: "job-1"}, []model.BatchItem{{Raw: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_BeginFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	_, err := s.CreateJob(context.Background(), model.BatchJob{ID: "job-1"}, []model.BatchItem{{Raw: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin create job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, settings, context, started, paused, created_at, updated_at FROM batch_jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "settings", "context", "started", "paused", "created_at", "updated_at"}).
			AddRow("job-1", []byte(`{"concurrency":3}`), []byte(`{"region":"cz"}`), true, false, fixedTime, fixedTime))
	mock.ExpectQuery(`SELECT status, COUNT\(\*\)`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count", "fallbacks", "cost"}).
			AddRow("done", int64(2), int64(1), 0.02).
			AddRow("error", int64(1), int64(0), 0.0))

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, job.Settings.Concurrency)
	assert.Equal(t, "cz", job.Context.Region)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, 2, job.Counts.Processed)
	assert.Equal(t, 1, job.Counts.Errors)
	assert.True(t, job.Flags.HasErrors)
	assert.True(t, job.Flags.UsedFallback)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`FROM batch_jobs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetJobPaused_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`UPDATE batch_jobs SET paused`).
		WithArgs(true, fixedTime, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetJobPaused(context.Background(), "missing", true)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveItem_Illegal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE batch_items SET .* WHERE id = \$14 AND status = ANY\(\$15\)`).
		WithArgs("", "", "", "", nil, "queued", nil, "", "", 0, false, 0.0, fixedTime, "item-1", []string{"queued", "error"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM batch_items WHERE id = \$1`).
		WithArgs("item-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("ranked"))

	err := s.SaveItem(context.Background(), model.BatchItem{ID: "item-1", Status: model.ItemQueued})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrIllegalTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveItem_OK(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE batch_items SET`).
		WithArgs("concrete", "beton", "cs", "SINGLE", pgxmock.AnyArg(), "retrieved", nil, "", "", 1, false, 0.0, fixedTime, "item-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.SaveItem(context.Background(), model.BatchItem{
		ID: "item-1", Status: model.ItemRetrieved, Category: "concrete", Text: "beton", Language: "cs",
		Shape: model.ShapeSingle, Attempts: 1, SubItems: []model.SubItem{{Raw: "beton"}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RetryItem(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE batch_items SET status = \$1.*RETURNING`).
		WithArgs("queued", fixedTime, "item-1", "error").
		WillReturnRows(pgxmock.NewRows(itemCols).
			AddRow("item-1", "job-1", 0, "beton", "concrete", "beton", "cs", "SINGLE", []byte(nil), "queued", []byte(nil), "", "", 2, fixedTime))

	it, err := s.RetryItem(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, model.ItemQueued, it.Status)
	assert.Equal(t, 2, it.Attempts)
	assert.Nil(t, it.Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListItems_StatusFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM batch_items WHERE job_id = \$1 AND status = ANY\(\$2\) ORDER BY seq LIMIT \$3`).
		WithArgs("job-1", []string{"queued"}, 10).
		WillReturnRows(pgxmock.NewRows(itemCols).
			AddRow("item-1", "job-1", 0, "beton", "", "", "", "", []byte(nil), "queued", []byte(nil), "", "", 0, fixedTime))

	items, err := s.ListItems(context.Background(), "job-1", ItemFilter{Statuses: []model.ItemStatus{model.ItemQueued}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "beton", items[0].Raw)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertMapping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO learned_mappings .* GREATEST\(learned_mappings.confidence, EXCLUDED.confidence\)`).
		WithArgs("beton c25/30", "h1", "801321111", 0.94, fixedTime).
		WillReturnRows(pgxmock.NewRows(mappingCols).
			AddRow("beton c25/30", "h1", "801321111", 0.94, 1, false, fixedTime, fixedTime, fixedTime))

	m, err := s.UpsertMapping(context.Background(), model.LearnedMapping{
		NormalizedText: "beton c25/30", ContextHash: "h1", Code: "801321111", Confidence: 0.94,
	}, fixedTime)
	require.NoError(t, err)
	assert.Equal(t, 1, m.UsageCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMapping_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`FROM learned_mappings WHERE normalized_text = \$1 AND context_hash = \$2`).
		WithArgs("x", "").
		WillReturnError(pgx.ErrNoRows)

	m, err := s.GetMapping(context.Background(), model.MappingKey{Text: "x"})
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteMappings_Operators(t *testing.T) {
	tests := []struct {
		name  string
		rule  model.CleanupRule
		query string
	}{
		{"strict", model.CleanupRule{MaxConfidence: 0.7, MaxUsage: 2}, `confidence < \$1\s+AND usage_count < \$2`},
		{"inclusive", model.CleanupRule{MaxConfidence: 0.7, MaxUsage: 2, ConfidenceInclusive: true, UsageInclusive: true}, `confidence <= \$1\s+AND usage_count <= \$2`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgresStore(t)
			mock.ExpectExec(`DELETE FROM learned_mappings WHERE NOT validated_by_user\s+AND ` + tt.query).
				WithArgs(0.7, 2).
				WillReturnResult(pgxmock.NewResult("DELETE", 4))

			n, err := s.DeleteMappings(context.Background(), tt.rule)
			require.NoError(t, err)
			assert.Equal(t, int64(4), n)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_GetStage_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT value FROM stage_cache`).
		WithArgs("k", fixedTime).
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := s.GetStage(context.Background(), "k", fixedTime)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutStage_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`ON CONFLICT`).
		WithArgs("k", "retrieve", []byte(`[]`), fixedTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.PutStage(context.Background(), "k", "retrieve", []byte(`[]`), fixedTime))
	assert.NoError(t, mock.ExpectationsWereMet())
}
