package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/boq-resolver/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection, so keep exactly one.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, nowFunc: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	id         TEXT PRIMARY KEY,
	settings   TEXT NOT NULL,
	context    TEXT NOT NULL,
	started    INTEGER NOT NULL DEFAULT 0,
	paused     INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_items (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL REFERENCES batch_jobs(id) ON DELETE CASCADE,
	seq           INTEGER NOT NULL,
	raw           TEXT NOT NULL,
	category      TEXT NOT NULL DEFAULT '',
	text          TEXT NOT NULL DEFAULT '',
	language      TEXT NOT NULL DEFAULT '',
	shape         TEXT NOT NULL DEFAULT '',
	sub_items     TEXT,
	status        TEXT NOT NULL DEFAULT 'queued',
	result        TEXT,
	error         TEXT NOT NULL DEFAULT '',
	error_kind    TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	used_fallback INTEGER NOT NULL DEFAULT 0,
	cost_usd      REAL NOT NULL DEFAULT 0,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS learned_mappings (
	normalized_text   TEXT NOT NULL,
	context_hash      TEXT NOT NULL,
	code              TEXT NOT NULL,
	confidence        REAL NOT NULL,
	usage_count       INTEGER NOT NULL DEFAULT 0,
	validated_by_user INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	last_used_at      DATETIME NOT NULL,
	PRIMARY KEY (normalized_text, context_hash)
);

CREATE TABLE IF NOT EXISTS stage_cache (
	key        TEXT PRIMARY KEY,
	stage      TEXT NOT NULL,
	value      BLOB NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batch_items_job_seq ON batch_items(job_id, seq);
CREATE INDEX IF NOT EXISTS idx_batch_items_job_status ON batch_items(job_id, status);
CREATE INDEX IF NOT EXISTS idx_learned_mappings_cleanup ON learned_mappings(confidence, usage_count);
CREATE INDEX IF NOT EXISTS idx_stage_cache_expires_at ON stage_cache(expires_at);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Jobs ---

// CreateJob inserts a job and its items in one transaction. Missing ids are
// generated and every item starts queued.
func (s *SQLiteStore) CreateJob(ctx context.Context, job model.BatchJob, items []model.BatchItem) (*model.BatchJob, error) {
	now := s.nowFunc().UTC()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt, job.UpdatedAt = now, now

	settingsJSON, err := json.Marshal(job.Settings)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal settings")
	}
	contextJSON, err := json.Marshal(job.Context)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal context")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin create job")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batch_jobs (id, settings, context, started, paused, created_at, updated_at) VALUES (?, ?, ?, 0, 0, ?, ?)`,
		job.ID, string(settingsJSON), string(contextJSON), now, now,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO batch_items (id, job_id, seq, raw, status, attempts, updated_at) VALUES (?, ?, ?, ?, ?, 0, ?)`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prepare insert item")
	}
	defer stmt.Close() //nolint:errcheck

	for i, it := range items {
		id := it.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx, id, job.ID, i, it.Raw, string(model.ItemQueued), now); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert item %d", i)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit create job")
	}

	job.Counts = model.JobCounts{Total: len(items), Pending: len(items)}
	job.Started, job.Paused = false, false
	job.Finalize()
	return &job, nil
}

// GetJob returns a job with counts and derived status.
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.BatchJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, settings, context, started, paused, created_at, updated_at FROM batch_jobs WHERE id = ?`,
		jobID,
	)
	job, err := scanSQLiteJob(row)
	if err != nil {
		return nil, err
	}
	counts, err := s.JobCounts(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job.Counts = counts
	job.Finalize()
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.BatchJob, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, settings, context, started, paused, created_at, updated_at FROM batch_jobs
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}

	var jobs []model.BatchJob
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			rows.Close() //nolint:errcheck
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Close(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs close")
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs iterate")
	}

	for i := range jobs {
		counts, err := s.JobCounts(ctx, jobs[i].ID)
		if err != nil {
			return nil, err
		}
		jobs[i].Counts = counts
		jobs[i].Finalize()
	}
	return jobs, nil
}

// MarkJobStarted records that the job was started at least once.
func (s *SQLiteStore) MarkJobStarted(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batch_jobs SET started = 1, updated_at = ? WHERE id = ?`,
		s.nowFunc().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark job started %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

// SetJobPaused sets the pause flag.
func (s *SQLiteStore) SetJobPaused(ctx context.Context, jobID string, paused bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batch_jobs SET paused = ?, updated_at = ? WHERE id = ?`,
		paused, s.nowFunc().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job paused %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

// JobCounts tallies item states for a job.
func (s *SQLiteStore) JobCounts(ctx context.Context, jobID string) (model.JobCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(used_fallback), 0), COALESCE(SUM(cost_usd), 0)
		 FROM batch_items WHERE job_id = ? GROUP BY status`,
		jobID,
	)
	if err != nil {
		return model.JobCounts{}, eris.Wrapf(err, "sqlite: job counts %s", jobID)
	}
	defer rows.Close() //nolint:errcheck

	byStatus := make(map[model.ItemStatus]int)
	var fallbacks int
	var costUSD float64
	for rows.Next() {
		var (
			status string
			n, fb  int
			c      float64
		)
		if err := rows.Scan(&status, &n, &fb, &c); err != nil {
			return model.JobCounts{}, eris.Wrap(err, "sqlite: scan job counts")
		}
		byStatus[model.ItemStatus(status)] += n
		fallbacks += fb
		costUSD += c
	}
	if err := rows.Err(); err != nil {
		return model.JobCounts{}, eris.Wrap(err, "sqlite: job counts iterate")
	}
	return countsFromStatuses(byStatus, fallbacks, costUSD), nil
}

// --- Items ---

const sqliteItemColumns = `id, job_id, seq, raw, category, text, language, shape, sub_items, status, result, error, error_kind, attempts, updated_at`

// GetItem returns one item.
func (s *SQLiteStore) GetItem(ctx context.Context, itemID string) (*model.BatchItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteItemColumns+` FROM batch_items WHERE id = ?`, itemID)
	return scanSQLiteItem(row)
}

// ListItems returns a job's items in submission order.
func (s *SQLiteStore) ListItems(ctx context.Context, jobID string, filter ItemFilter) ([]model.BatchItem, error) {
	query := `SELECT ` + sqliteItemColumns + ` FROM batch_items WHERE job_id = ?`
	args := []any{jobID}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(filter.Statuses)), ", ") + `)`
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY seq`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list items %s", jobID)
	}
	defer rows.Close() //nolint:errcheck

	var items []model.BatchItem
	for rows.Next() {
		it, err := scanSQLiteItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

// SaveItem checkpoints an item. The update only applies when the stored
// status may legally move to item.Status; otherwise it returns
// model.ErrIllegalTransition.
func (s *SQLiteStore) SaveItem(ctx context.Context, item model.BatchItem) error {
	if !item.Status.Valid() {
		return eris.Errorf("sqlite: invalid item status %q", item.Status)
	}
	subJSON, resultJSON, err := marshalItemPayload(item)
	if err != nil {
		return err
	}

	from := allowedFrom(item.Status)
	args := []any{
		item.Category, item.Text, item.Language, string(item.Shape), subJSON, string(item.Status),
		resultJSON, item.Error, item.ErrorKind, item.Attempts, usedFallback(item), itemCost(item),
		s.nowFunc().UTC(), item.ID,
	}
	for _, f := range from {
		args = append(args, f)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE batch_items SET category = ?, text = ?, language = ?, shape = ?, sub_items = ?, status = ?,
		 result = ?, error = ?, error_kind = ?, attempts = ?, used_fallback = ?, cost_usd = ?, updated_at = ?
		 WHERE id = ? AND status IN (`+strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save item %s", item.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	return s.transitionError(ctx, item)
}

func (s *SQLiteStore) transitionError(ctx context.Context, item model.BatchItem) error {
	var cur string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM batch_items WHERE id = ?`, item.ID).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "item %s", item.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read item status %s", item.ID)
	}
	return model.CheckTransition(model.ItemStatus(cur), item.Status)
}

// RetryItem moves an errored item back to queued and clears its outcome.
func (s *SQLiteStore) RetryItem(ctx context.Context, itemID string) (*model.BatchItem, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batch_items SET status = ?, sub_items = NULL, result = NULL, error = '', error_kind = '',
		 used_fallback = 0, cost_usd = 0, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.ItemQueued), s.nowFunc().UTC(), itemID, string(model.ItemError),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: retry item %s", itemID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil, s.transitionError(ctx, model.BatchItem{ID: itemID, Status: model.ItemQueued})
	}
	return s.GetItem(ctx, itemID)
}

// --- Learned mappings ---

const sqliteMappingColumns = `normalized_text, context_hash, code, confidence, usage_count, validated_by_user, created_at, updated_at, last_used_at`

// GetMapping returns nil, nil when the key is absent.
func (s *SQLiteStore) GetMapping(ctx context.Context, key model.MappingKey) (*model.LearnedMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteMappingColumns+` FROM learned_mappings WHERE normalized_text = ? AND context_hash = ?`,
		key.Text, key.ContextHash,
	)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get mapping")
	}
	return m, nil
}

// UpsertMapping merges a confirmation atomically: confidence takes the max,
// usage grows by one, a validated code is kept.
func (s *SQLiteStore) UpsertMapping(ctx context.Context, m model.LearnedMapping, now time.Time) (*model.LearnedMapping, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learned_mappings (`+sqliteMappingColumns+`)
		 VALUES (?, ?, ?, ?, 1, 0, ?, ?, ?)
		 ON CONFLICT (normalized_text, context_hash) DO UPDATE SET
		   code = CASE WHEN learned_mappings.validated_by_user = 1 THEN learned_mappings.code ELSE excluded.code END,
		   confidence = MAX(learned_mappings.confidence, excluded.confidence),
		   usage_count = learned_mappings.usage_count + 1,
		   updated_at = excluded.updated_at,
		   last_used_at = excluded.last_used_at`,
		m.NormalizedText, m.ContextHash, m.Code, m.Confidence, now, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert mapping")
	}
	return s.GetMapping(ctx, m.Key())
}

// ValidateMapping pins a user-confirmed code with confidence 1.0.
func (s *SQLiteStore) ValidateMapping(ctx context.Context, key model.MappingKey, code string, now time.Time) (*model.LearnedMapping, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learned_mappings (`+sqliteMappingColumns+`)
		 VALUES (?, ?, ?, 1.0, 0, 1, ?, ?, ?)
		 ON CONFLICT (normalized_text, context_hash) DO UPDATE SET
		   code = excluded.code, confidence = 1.0, validated_by_user = 1, updated_at = excluded.updated_at`,
		key.Text, key.ContextHash, code, now, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: validate mapping")
	}
	return s.GetMapping(ctx, key)
}

// DeleteMappings removes mappings matched by the cleanup rule.
func (s *SQLiteStore) DeleteMappings(ctx context.Context, rule model.CleanupRule) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM learned_mappings WHERE validated_by_user = 0
		 AND confidence `+cmpOp(rule.ConfidenceInclusive)+` ?
		 AND usage_count `+cmpOp(rule.UsageInclusive)+` ?`,
		rule.MaxConfidence, rule.MaxUsage,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete mappings")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// ListMappings returns mappings matching the filter ordered by text.
func (s *SQLiteStore) ListMappings(ctx context.Context, f model.MappingFilter) ([]model.LearnedMapping, error) {
	query := `SELECT ` + sqliteMappingColumns + ` FROM learned_mappings WHERE confidence >= ?`
	args := []any{f.MinConfidence}
	if f.ContextHash != "" {
		query += ` AND context_hash = ?`
		args = append(args, f.ContextHash)
	}
	if f.TextPrefix != "" {
		query += ` AND substr(normalized_text, 1, ?) = ?`
		args = append(args, len([]rune(f.TextPrefix)), f.TextPrefix)
	}
	if f.ValidatedOnly {
		query += ` AND validated_by_user = 1`
	}
	query += ` ORDER BY normalized_text, context_hash`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list mappings")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.LearnedMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mapping")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list mappings iterate")
}

// --- Stage cache ---

// GetStage returns an unexpired stage entry.
func (s *SQLiteStore) GetStage(ctx context.Context, key string, now time.Time) ([]byte, bool, error) {
	var val []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM stage_cache WHERE key = ? AND expires_at > ?`, key, now,
	).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get stage")
	}
	return val, true, nil
}

// PutStage stores or replaces a stage entry.
func (s *SQLiteStore) PutStage(ctx context.Context, key, stage string, val []byte, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_cache (key, stage, value, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET stage = excluded.stage, value = excluded.value, expires_at = excluded.expires_at`,
		key, stage, val, expiresAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: put stage")
}

// DeleteExpiredStages sweeps expired stage entries.
func (s *SQLiteStore) DeleteExpiredStages(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stage_cache WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired stages")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row scannable) (*model.BatchJob, error) {
	var j model.BatchJob
	var settingsJSON, contextJSON string
	err := row.Scan(&j.ID, &settingsJSON, &contextJSON, &j.Started, &j.Paused, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "job")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	if err := json.Unmarshal([]byte(settingsJSON), &j.Settings); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal settings")
	}
	if err := json.Unmarshal([]byte(contextJSON), &j.Context); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal context")
	}
	return &j, nil
}

func scanSQLiteItem(row scannable) (*model.BatchItem, error) {
	var it model.BatchItem
	var shape, status string
	var subJSON, resultJSON sql.NullString
	err := row.Scan(&it.ID, &it.JobID, &it.Seq, &it.Raw, &it.Category, &it.Text, &it.Language, &shape,
		&subJSON, &status, &resultJSON, &it.Error, &it.ErrorKind, &it.Attempts, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "item")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan item")
	}
	it.Shape = model.Shape(shape)
	it.Status = model.ItemStatus(status)
	if err := unmarshalItemPayload(&it, nullBytes(subJSON), nullBytes(resultJSON)); err != nil {
		return nil, err
	}
	return &it, nil
}

func scanMapping(row scannable) (*model.LearnedMapping, error) {
	var m model.LearnedMapping
	err := row.Scan(&m.NormalizedText, &m.ContextHash, &m.Code, &m.Confidence, &m.UsageCount,
		&m.ValidatedByUser, &m.CreatedAt, &m.UpdatedAt, &m.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func nullBytes(ns sql.NullString) []byte {
	if !ns.Valid {
		return nil
	}
	return []byte(ns.String)
}

func cmpOp(inclusive bool) string {
	if inclusive {
		return "<="
	}
	return "<"
}

// marshalItemPayload encodes the JSON columns of an item. Empty values are
// stored as NULL.
func marshalItemPayload(it model.BatchItem) (sub, result any, err error) {
	if len(it.SubItems) > 0 {
		b, err := json.Marshal(it.SubItems)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal sub items")
		}
		sub = string(b)
	}
	if it.Result != nil {
		b, err := json.Marshal(it.Result)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal result")
		}
		result = string(b)
	}
	return sub, result, nil
}

func unmarshalItemPayload(it *model.BatchItem, sub, result []byte) error {
	if len(sub) > 0 {
		if err := json.Unmarshal(sub, &it.SubItems); err != nil {
			return eris.Wrap(err, "store: unmarshal sub items")
		}
	}
	if len(result) > 0 {
		it.Result = &model.ItemResult{}
		if err := json.Unmarshal(result, it.Result); err != nil {
			return eris.Wrap(err, "store: unmarshal result")
		}
	}
	return nil
}
