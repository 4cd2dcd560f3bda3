// Package store persists mirrored entries and sync-run history. Two
// implementations share one interface: Postgres via pgxpool for deployments,
// SQLite via modernc.org/sqlite for local work and the published bulk export.
package store

import (
	"context"

	"github.com/wvfoia/wvfoia/internal/model"
)

// EntryFilter selects entries for one listing page. AgencyNames carries the
// resolved alias candidates for an agency filter; matching is by lowercased
// exact name so historical spellings still in storage are caught.
type EntryFilter struct {
	model.EntrySearchOptions
	AgencyNames []string         `json:"agency_names,omitempty"`
	Cursor      model.PageCursor `json:"cursor"`
}

// WindowCutoffs holds the ISO dates bounding each rolling window, computed by
// the caller so both dialects receive plain text comparisons.
type WindowCutoffs struct {
	D30  string
	D90  string
	D365 string
}

// AgencyMetricRow is the aggregate for one raw agency spelling. Sums and
// counts are kept separate so rows merging into one corrected identity can
// still produce exact averages.
type AgencyMetricRow struct {
	Agency string

	Requests     int
	Requests30d  int
	Requests90d  int
	Requests365d int

	ResponseDays     float64
	ResponseDays30d  float64
	ResponseDays90d  float64
	ResponseDays365d float64

	Completed     int
	Completed30d  int
	Completed90d  int
	Completed365d int
}

// AgencyResolutionRow is one (raw agency, raw resolution) count.
type AgencyResolutionRow struct {
	Agency     string
	Resolution *string
	Count      int
}

// TimelineRow is one (raw agency, corrected completion date, raw resolution)
// count. Alias matching and bucketing happen in the caller.
type TimelineRow struct {
	Agency     string
	Date       string
	Resolution *string
	Count      int
}

// Store defines persistence for the mirror and its sync history.
type Store interface {
	// Entries
	UpsertEntry(ctx context.Context, entry *model.Entry) error
	GetEntry(ctx context.Context, id int) (*model.Entry, error)
	LatestEntryID(ctx context.Context) (int, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]model.Entry, int, error)
	LatestEntryDate(ctx context.Context) (*string, error)
	EntriesByEntryDate(ctx context.Context, date string, limit int) ([]model.Entry, error)

	// Aggregation inputs
	AgencyMetricRows(ctx context.Context, cutoffs WindowCutoffs) ([]AgencyMetricRow, error)
	AgencyResolutionRows(ctx context.Context) ([]AgencyResolutionRow, error)
	ResolutionTimelineRows(ctx context.Context, start, end string) ([]TimelineRow, error)

	// Sync history
	StartSyncRun(ctx context.Context, startFrom int) (*model.SyncRun, error)
	CompleteSyncRun(ctx context.Context, runID string, result model.SyncResult) error
	FailSyncRun(ctx context.Context, runID string, cause error) error
	ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
