package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/wvfoia/wvfoia/internal/corrections"
	"github.com/wvfoia/wvfoia/internal/db"
	"github.com/wvfoia/wvfoia/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	sql     sqlBuilder
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, overlay *corrections.Overlay) (*PostgresStore, error) {
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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{
		pool:    pool,
		sql:     newSQLBuilder(dialectPostgres, overlay),
		closeFn: pool.Close,
	}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests and by the bulk
// import path, which shares the pool with the COPY-based loader.
func NewPostgresWithPool(pool db.Pool, overlay *corrections.Overlay) *PostgresStore {
	return &PostgresStore{pool: pool, sql: newSQLBuilder(dialectPostgres, overlay)}
}

// Pool exposes the underlying pool for subsystems that need direct access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entries (
	id              INTEGER PRIMARY KEY,
	agency          TEXT NOT NULL,
	organization    TEXT,
	first_name      TEXT,
	middle_name     TEXT,
	last_name       TEXT,
	request_date    TEXT,
	completion_date TEXT,
	entry_date      TEXT,
	fee             TEXT,
	is_amended      BOOLEAN NOT NULL DEFAULT false,
	subject         TEXT,
	details         TEXT,
	resolution      TEXT,
	response        TEXT
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	added        INTEGER NOT NULL DEFAULT 0,
	checked      INTEGER NOT NULL DEFAULT 0,
	start_from   INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_entries_agency ON entries(agency);
CREATE INDEX IF NOT EXISTS idx_entries_entry_date ON entries(entry_date);
CREATE INDEX IF NOT EXISTS idx_entries_request_date ON entries(request_date);
CREATE INDEX IF NOT EXISTS idx_entries_completion_date ON entries(completion_date);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertEntry(ctx context.Context, entry *model.Entry) error {
	_, err := s.pool.Exec(ctx, s.sql.upsertEntry(), entryArgs(entry)...)
	return eris.Wrapf(err, "postgres: upsert entry %d", entry.ID)
}

func (s *PostgresStore) GetEntry(ctx context.Context, id int) (*model.Entry, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE id = $1", id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entry %d", id)
	}
	return &e, nil
}

func (s *PostgresStore) LatestEntryID(ctx context.Context) (int, error) {
	var id int
	err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(id), 0) FROM entries").Scan(&id)
	return id, eris.Wrap(err, "postgres: latest entry id")
}

func (s *PostgresStore) ListEntries(ctx context.Context, filter EntryFilter) ([]model.Entry, int, error) {
	query, countQuery, args, countArgs := s.sql.listEntries(filter)

	var total int
	if err := s.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count entries")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list entries")
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan entry")
		}
		entries = append(entries, e)
	}
	return entries, total, eris.Wrap(rows.Err(), "postgres: list entries iterate")
}

func (s *PostgresStore) LatestEntryDate(ctx context.Context) (*string, error) {
	var date *string
	err := s.pool.QueryRow(ctx,
		"SELECT MAX(entry_date) FROM entries WHERE entry_date IS NOT NULL").Scan(&date)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "postgres: latest entry date")
	}
	return date, nil
}

func (s *PostgresStore) EntriesByEntryDate(ctx context.Context, date string, limit int) ([]model.Entry, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE entry_date = $1 ORDER BY id DESC LIMIT $2",
		date, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: entries by entry date")
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: entries by entry date iterate")
}

func (s *PostgresStore) AgencyMetricRows(ctx context.Context, cutoffs WindowCutoffs) ([]AgencyMetricRow, error) {
	rows, err := s.pool.Query(ctx, s.sql.agencyMetrics(), metricArgs(cutoffs)...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: agency metrics")
	}
	defer rows.Close()

	var metrics []AgencyMetricRow
	for rows.Next() {
		m, err := scanMetricRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan agency metrics")
		}
		metrics = append(metrics, m)
	}
	return metrics, eris.Wrap(rows.Err(), "postgres: agency metrics iterate")
}

func (s *PostgresStore) AgencyResolutionRows(ctx context.Context) ([]AgencyResolutionRow, error) {
	rows, err := s.pool.Query(ctx, s.sql.agencyResolutions())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: agency resolutions")
	}
	defer rows.Close()

	var counts []AgencyResolutionRow
	for rows.Next() {
		var r AgencyResolutionRow
		if err := rows.Scan(&r.Agency, &r.Resolution, &r.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan agency resolution")
		}
		counts = append(counts, r)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: agency resolutions iterate")
}

func (s *PostgresStore) ResolutionTimelineRows(ctx context.Context, start, end string) ([]TimelineRow, error) {
	query, args := s.sql.timeline(start, end)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: resolution timeline")
	}
	defer rows.Close()

	var points []TimelineRow
	for rows.Next() {
		var r TimelineRow
		if err := rows.Scan(&r.Agency, &r.Date, &r.Resolution, &r.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan timeline row")
		}
		points = append(points, r)
	}
	return points, eris.Wrap(rows.Err(), "postgres: resolution timeline iterate")
}

func (s *PostgresStore) StartSyncRun(ctx context.Context, startFrom int) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:        uuid.New().String(),
		Status:    model.SyncRunning,
		StartedAt: time.Now().UTC(),
		StartFrom: startFrom,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, status, started_at, start_from) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Status), run.StartedAt, run.StartFrom)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: start sync run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteSyncRun(ctx context.Context, runID string, result model.SyncResult) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, completed_at = $2, added = $3, checked = $4 WHERE id = $5`,
		string(model.SyncComplete), time.Now().UTC(), result.Added, result.Checked, runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete sync run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sync run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailSyncRun(ctx context.Context, runID string, cause error) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
		string(model.SyncFailed), time.Now().UTC(), cause.Error(), runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail sync run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sync run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, started_at, completed_at, added, checked, start_from, error
		 FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sync runs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		r, err := scanSyncRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list sync runs iterate")
}
