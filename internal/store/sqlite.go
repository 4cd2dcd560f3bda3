package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/wvfoia/wvfoia/internal/corrections"
	"github.com/wvfoia/wvfoia/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. The same database
// file doubles as the published bulk-export artifact, so the schema carries
// nothing beyond the mirror and its sync history.
type SQLiteStore struct {
	db  *sql.DB
	sql sqlBuilder
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, overlay *corrections.Overlay) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, sql: newSQLBuilder(dialectSQLite, overlay)}, nil
}

const sqliteMigration = `
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
	is_amended      INTEGER NOT NULL DEFAULT 0,
	subject         TEXT,
	details         TEXT,
	resolution      TEXT,
	response        TEXT
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME,
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func entryArgs(e *model.Entry) []any {
	return []any{
		e.ID, e.Agency, e.Organization, e.FirstName, e.MiddleName, e.LastName,
		e.RequestDate, e.CompletionDate, e.EntryDate, e.Fee, e.IsAmended,
		e.Subject, e.Details, e.Resolution, e.Response,
	}
}

func (s *SQLiteStore) UpsertEntry(ctx context.Context, entry *model.Entry) error {
	_, err := s.db.ExecContext(ctx, s.sql.upsertEntry(), entryArgs(entry)...)
	return eris.Wrapf(err, "sqlite: upsert entry %d", entry.ID)
}

func (s *SQLiteStore) GetEntry(ctx context.Context, id int) (*model.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entry %d", id)
	}
	return &e, nil
}

func (s *SQLiteStore) LatestEntryID(ctx context.Context) (int, error) {
	var id int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM entries").Scan(&id)
	return id, eris.Wrap(err, "sqlite: latest entry id")
}

func (s *SQLiteStore) ListEntries(ctx context.Context, filter EntryFilter) ([]model.Entry, int, error) {
	query, countQuery, args, countArgs := s.sql.listEntries(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count entries")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list entries")
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan entry")
		}
		entries = append(entries, e)
	}
	return entries, total, eris.Wrap(rows.Err(), "sqlite: list entries iterate")
}

func (s *SQLiteStore) LatestEntryDate(ctx context.Context) (*string, error) {
	var date *string
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(entry_date) FROM entries WHERE entry_date IS NOT NULL").Scan(&date)
	if err != nil && err != sql.ErrNoRows {
		return nil, eris.Wrap(err, "sqlite: latest entry date")
	}
	return date, nil
}

func (s *SQLiteStore) EntriesByEntryDate(ctx context.Context, date string, limit int) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE entry_date = ? ORDER BY id DESC LIMIT ?",
		date, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: entries by entry date")
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: entries by entry date iterate")
}

func (s *SQLiteStore) AgencyMetricRows(ctx context.Context, cutoffs WindowCutoffs) ([]AgencyMetricRow, error) {
	rows, err := s.db.QueryContext(ctx, s.sql.agencyMetrics(), metricArgs(cutoffs)...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: agency metrics")
	}
	defer rows.Close()

	var metrics []AgencyMetricRow
	for rows.Next() {
		m, err := scanMetricRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan agency metrics")
		}
		metrics = append(metrics, m)
	}
	return metrics, eris.Wrap(rows.Err(), "sqlite: agency metrics iterate")
}

func (s *SQLiteStore) AgencyResolutionRows(ctx context.Context) ([]AgencyResolutionRow, error) {
	rows, err := s.db.QueryContext(ctx, s.sql.agencyResolutions())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: agency resolutions")
	}
	defer rows.Close()

	var counts []AgencyResolutionRow
	for rows.Next() {
		var r AgencyResolutionRow
		if err := rows.Scan(&r.Agency, &r.Resolution, &r.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan agency resolution")
		}
		counts = append(counts, r)
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: agency resolutions iterate")
}

func (s *SQLiteStore) ResolutionTimelineRows(ctx context.Context, start, end string) ([]TimelineRow, error) {
	query, args := s.sql.timeline(start, end)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: resolution timeline")
	}
	defer rows.Close()

	var points []TimelineRow
	for rows.Next() {
		var r TimelineRow
		if err := rows.Scan(&r.Agency, &r.Date, &r.Resolution, &r.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan timeline row")
		}
		points = append(points, r)
	}
	return points, eris.Wrap(rows.Err(), "sqlite: resolution timeline iterate")
}

func (s *SQLiteStore) StartSyncRun(ctx context.Context, startFrom int) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:        uuid.New().String(),
		Status:    model.SyncRunning,
		StartedAt: time.Now().UTC(),
		StartFrom: startFrom,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, status, started_at, start_from) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Status), run.StartedAt, run.StartFrom)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: start sync run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteSyncRun(ctx context.Context, runID string, result model.SyncResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, completed_at = ?, added = ?, checked = ? WHERE id = ?`,
		string(model.SyncComplete), time.Now().UTC(), result.Added, result.Checked, runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete sync run %s", runID)
	}
	return checkRowsAffected(res, "sync run", runID)
}

func (s *SQLiteStore) FailSyncRun(ctx context.Context, runID string, cause error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(model.SyncFailed), time.Now().UTC(), cause.Error(), runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail sync run %s", runID)
	}
	return checkRowsAffected(res, "sync run", runID)
}

func (s *SQLiteStore) ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, started_at, completed_at, added, checked, start_from, error
		 FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sync runs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		r, err := scanSyncRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list sync runs iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
