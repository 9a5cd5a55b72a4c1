package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/boq-resolver/internal/db"
	"github.com/sells-group/boq-resolver/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	nowFunc func() time.Time
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_item":    `SELECT ` + pgItemColumns + ` FROM batch_items WHERE id = $1`,
	"get_mapping": `SELECT ` + pgMappingColumns + ` FROM learned_mappings WHERE normalized_text = $1 AND context_hash = $2`,
	"get_stage":   `SELECT value FROM stage_cache WHERE key = $1 AND expires_at > $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, nowFunc: time.Now}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, nowFunc: time.Now}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	id         TEXT PRIMARY KEY,
	settings   JSONB NOT NULL,
	context    JSONB NOT NULL,
	started    BOOLEAN NOT NULL DEFAULT false,
	paused     BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
	sub_items     JSONB,
	status        TEXT NOT NULL DEFAULT 'queued',
	result        JSONB,
	error         TEXT NOT NULL DEFAULT '',
	error_kind    TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	used_fallback BOOLEAN NOT NULL DEFAULT false,
	cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_batch_items_job_seq ON batch_items(job_id, seq);
CREATE INDEX IF NOT EXISTS idx_batch_items_job_status ON batch_items(job_id, status);

CREATE TABLE IF NOT EXISTS learned_mappings (
	normalized_text   TEXT NOT NULL,
	context_hash      TEXT NOT NULL,
	code              TEXT NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	usage_count       INTEGER NOT NULL DEFAULT 0,
	validated_by_user BOOLEAN NOT NULL DEFAULT false,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_used_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (normalized_text, context_hash)
);

CREATE INDEX IF NOT EXISTS idx_learned_mappings_cleanup ON learned_mappings(confidence, usage_count) WHERE NOT validated_by_user;

CREATE TABLE IF NOT EXISTS stage_cache (
	key        TEXT PRIMARY KEY,
	stage      TEXT NOT NULL,
	value      BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stage_cache_expires_at ON stage_cache(expires_at);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Jobs ---

var itemCopyColumns = []string{"id", "job_id", "seq", "raw", "status", "attempts", "updated_at"}

// CreateJob inserts the job row and bulk-loads its items with COPY in one
// transaction.
func (s *PostgresStore) CreateJob(ctx context.Context, job model.BatchJob, items []model.BatchItem) (*model.BatchJob, error) {
	now := s.nowFunc().UTC()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt, job.UpdatedAt = now, now

	settingsJSON, err := json.Marshal(job.Settings)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal settings")
	}
	contextJSON, err := json.Marshal(job.Context)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal context")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create job")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO batch_jobs (id, settings, context, started, paused, created_at, updated_at) VALUES ($1, $2, $3, false, false, $4, $5)`,
		job.ID, settingsJSON, contextJSON, now, now,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	rows := make([][]any, len(items))
	for i, it := range items {
		id := it.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows[i] = []any{id, job.ID, i, it.Raw, string(model.ItemQueued), 0, now}
	}
	if _, err := db.CopyFrom(ctx, tx, "batch_items", itemCopyColumns, rows); err != nil {
		return nil, eris.Wrap(err, "postgres: insert items")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create job")
	}

	job.Counts = model.JobCounts{Total: len(items), Pending: len(items)}
	job.Started, job.Paused = false, false
	job.Finalize()
	return &job, nil
}

const pgJobColumns = `id, settings, context, started, paused, created_at, updated_at`

// GetJob returns a job with counts and derived status.
func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.BatchJob, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM batch_jobs WHERE id = $1`, jobID))
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
func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.BatchJob, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgJobColumns+` FROM batch_jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	var jobs []model.BatchJob
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs iterate")
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
func (s *PostgresStore) MarkJobStarted(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs SET started = true, updated_at = $1 WHERE id = $2`,
		s.nowFunc().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark job started %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

// SetJobPaused sets the pause flag.
func (s *PostgresStore) SetJobPaused(ctx context.Context, jobID string, paused bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs SET paused = $1, updated_at = $2 WHERE id = $3`,
		paused, s.nowFunc().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job paused %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

// JobCounts tallies item states for a job.
func (s *PostgresStore) JobCounts(ctx context.Context, jobID string) (model.JobCounts, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*), COUNT(*) FILTER (WHERE used_fallback), COALESCE(SUM(cost_usd), 0)
		 FROM batch_items WHERE job_id = $1 GROUP BY status`,
		jobID,
	)
	if err != nil {
		return model.JobCounts{}, eris.Wrapf(err, "postgres: job counts %s", jobID)
	}
	defer rows.Close()

	byStatus := make(map[model.ItemStatus]int)
	var fallbacks int
	var costUSD float64
	for rows.Next() {
		var (
			status string
			n, fb  int64
			c      float64
		)
		if err := rows.Scan(&status, &n, &fb, &c); err != nil {
			return model.JobCounts{}, eris.Wrap(err, "postgres: scan job counts")
		}
		byStatus[model.ItemStatus(status)] += int(n)
		fallbacks += int(fb)
		costUSD += c
	}
	if err := rows.Err(); err != nil {
		return model.JobCounts{}, eris.Wrap(err, "postgres: job counts iterate")
	}
	return countsFromStatuses(byStatus, fallbacks, costUSD), nil
}

// --- Items ---

const pgItemColumns = `id, job_id, seq, raw, category, text, language, shape, sub_items, status, result, error, error_kind, attempts, updated_at`

// GetItem returns one item.
func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (*model.BatchItem, error) {
	return scanPgItem(s.pool.QueryRow(ctx, `SELECT `+pgItemColumns+` FROM batch_items WHERE id = $1`, itemID))
}

// ListItems returns a job's items in submission order.
func (s *PostgresStore) ListItems(ctx context.Context, jobID string, filter ItemFilter) ([]model.BatchItem, error) {
	query := `SELECT ` + pgItemColumns + ` FROM batch_items WHERE job_id = $1`
	args := []any{jobID}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	query += ` ORDER BY seq`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list items %s", jobID)
	}
	defer rows.Close()

	var items []model.BatchItem
	for rows.Next() {
		it, err := scanPgItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

// SaveItem checkpoints an item under the same transition guard as SQLite.
func (s *PostgresStore) SaveItem(ctx context.Context, item model.BatchItem) error {
	if !item.Status.Valid() {
		return eris.Errorf("postgres: invalid item status %q", item.Status)
	}
	subJSON, resultJSON, err := marshalItemPayload(item)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_items SET category = $1, text = $2, language = $3, shape = $4, sub_items = $5, status = $6,
		 result = $7, error = $8, error_kind = $9, attempts = $10, used_fallback = $11, cost_usd = $12, updated_at = $13
		 WHERE id = $14 AND status = ANY($15)`,
		item.Category, item.Text, item.Language, string(item.Shape), subJSON, string(item.Status),
		resultJSON, item.Error, item.ErrorKind, item.Attempts, usedFallback(item), itemCost(item),
		s.nowFunc().UTC(), item.ID, allowedFrom(item.Status),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save item %s", item.ID)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.transitionError(ctx, item)
}

func (s *PostgresStore) transitionError(ctx context.Context, item model.BatchItem) error {
	var cur string
	err := s.pool.QueryRow(ctx, `SELECT status FROM batch_items WHERE id = $1`, item.ID).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "item %s", item.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read item status %s", item.ID)
	}
	return model.CheckTransition(model.ItemStatus(cur), item.Status)
}

// RetryItem moves an errored item back to queued and clears its outcome.
func (s *PostgresStore) RetryItem(ctx context.Context, itemID string) (*model.BatchItem, error) {
	it, err := scanPgItem(s.pool.QueryRow(ctx,
		`UPDATE batch_items SET status = $1, sub_items = NULL, result = NULL, error = '', error_kind = '',
		 used_fallback = false, cost_usd = 0, updated_at = $2
		 WHERE id = $3 AND status = $4
		 RETURNING `+pgItemColumns,
		string(model.ItemQueued), s.nowFunc().UTC(), itemID, string(model.ItemError),
	))
	if errors.Is(err, ErrNotFound) {
		return nil, s.transitionError(ctx, model.BatchItem{ID: itemID, Status: model.ItemQueued})
	}
	return it, err
}

// --- Learned mappings ---

const pgMappingColumns = `normalized_text, context_hash, code, confidence, usage_count, validated_by_user, created_at, updated_at, last_used_at`

// GetMapping returns nil, nil when the key is absent.
func (s *PostgresStore) GetMapping(ctx context.Context, key model.MappingKey) (*model.LearnedMapping, error) {
	m, err := scanMapping(s.pool.QueryRow(ctx,
		`SELECT `+pgMappingColumns+` FROM learned_mappings WHERE normalized_text = $1 AND context_hash = $2`,
		key.Text, key.ContextHash,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get mapping")
	}
	return m, nil
}

// UpsertMapping merges a confirmation in one statement.
func (s *PostgresStore) UpsertMapping(ctx context.Context, m model.LearnedMapping, now time.Time) (*model.LearnedMapping, error) {
	out, err := scanMapping(s.pool.QueryRow(ctx,
		`INSERT INTO learned_mappings (`+pgMappingColumns+`)
		 VALUES ($1, $2, $3, $4, 1, false, $5, $5, $5)
		 ON CONFLICT (normalized_text, context_hash) DO UPDATE SET
		   code = CASE WHEN learned_mappings.validated_by_user THEN learned_mappings.code ELSE EXCLUDED.code END,
		   confidence = GREATEST(learned_mappings.confidence, EXCLUDED.confidence),
		   usage_count = learned_mappings.usage_count + 1,
		   updated_at = EXCLUDED.updated_at,
		   last_used_at = EXCLUDED.last_used_at
		 RETURNING `+pgMappingColumns,
		m.NormalizedText, m.ContextHash, m.Code, m.Confidence, now,
	))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert mapping")
	}
	return out, nil
}

// ValidateMapping pins a user-confirmed code with confidence 1.0.
func (s *PostgresStore) ValidateMapping(ctx context.Context, key model.MappingKey, code string, now time.Time) (*model.LearnedMapping, error) {
	out, err := scanMapping(s.pool.QueryRow(ctx,
		`INSERT INTO learned_mappings (`+pgMappingColumns+`)
		 VALUES ($1, $2, $3, 1.0, 0, true, $4, $4, $4)
		 ON CONFLICT (normalized_text, context_hash) DO UPDATE SET
		   code = EXCLUDED.code, confidence = 1.0, validated_by_user = true, updated_at = EXCLUDED.updated_at
		 RETURNING `+pgMappingColumns,
		key.Text, key.ContextHash, code, now,
	))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: validate mapping")
	}
	return out, nil
}

// DeleteMappings removes mappings matched by the cleanup rule.
func (s *PostgresStore) DeleteMappings(ctx context.Context, rule model.CleanupRule) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM learned_mappings WHERE NOT validated_by_user
		 AND confidence `+cmpOp(rule.ConfidenceInclusive)+` $1
		 AND usage_count `+cmpOp(rule.UsageInclusive)+` $2`,
		rule.MaxConfidence, rule.MaxUsage,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete mappings")
	}
	return tag.RowsAffected(), nil
}

// ListMappings returns mappings matching the filter ordered by text.
func (s *PostgresStore) ListMappings(ctx context.Context, f model.MappingFilter) ([]model.LearnedMapping, error) {
	query := `SELECT ` + pgMappingColumns + ` FROM learned_mappings WHERE confidence >= $1`
	args := []any{f.MinConfidence}
	if f.ContextHash != "" {
		args = append(args, f.ContextHash)
		query += fmt.Sprintf(` AND context_hash = $%d`, len(args))
	}
	if f.TextPrefix != "" {
		args = append(args, f.TextPrefix)
		query += fmt.Sprintf(` AND starts_with(normalized_text, $%d)`, len(args))
	}
	if f.ValidatedOnly {
		query += ` AND validated_by_user`
	}
	query += ` ORDER BY normalized_text, context_hash`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list mappings")
	}
	defer rows.Close()

	var out []model.LearnedMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan mapping")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list mappings iterate")
}

// --- Stage cache ---

// GetStage returns an unexpired stage entry.
func (s *PostgresStore) GetStage(ctx context.Context, key string, now time.Time) ([]byte, bool, error) {
	var val []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM stage_cache WHERE key = $1 AND expires_at > $2`, key, now,
	).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: get stage")
	}
	return val, true, nil
}

// PutStage stores or replaces a stage entry.
func (s *PostgresStore) PutStage(ctx context.Context, key, stage string, val []byte, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stage_cache (key, stage, value, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET stage = $2, value = $3, expires_at = $4`,
		key, stage, val, expiresAt,
	)
	return eris.Wrap(err, "postgres: put stage")
}

// DeleteExpiredStages sweeps expired stage entries.
func (s *PostgresStore) DeleteExpiredStages(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stage_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired stages")
	}
	return tag.RowsAffected(), nil
}

func scanPgJob(row pgx.Row) (*model.BatchJob, error) {
	var j model.BatchJob
	var settingsJSON, contextJSON []byte
	err := row.Scan(&j.ID, &settingsJSON, &contextJSON, &j.Started, &j.Paused, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "job")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}
	if err := json.Unmarshal(settingsJSON, &j.Settings); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal settings")
	}
	if err := json.Unmarshal(contextJSON, &j.Context); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal context")
	}
	return &j, nil
}

func scanPgItem(row pgx.Row) (*model.BatchItem, error) {
	var it model.BatchItem
	var shape, status string
	var subJSON, resultJSON []byte
	err := row.Scan(&it.ID, &it.JobID, &it.Seq, &it.Raw, &it.Category, &it.Text, &it.Language, &shape,
		&subJSON, &status, &resultJSON, &it.Error, &it.ErrorKind, &it.Attempts, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "item")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan item")
	}
	it.Shape = model.Shape(shape)
	it.Status = model.ItemStatus(status)
	if err := unmarshalItemPayload(&it, subJSON, resultJSON); err != nil {
		return nil, err
	}
	return &it, nil
}
