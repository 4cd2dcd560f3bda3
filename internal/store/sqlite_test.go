package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wvfoia/wvfoia/internal/corrections"
	"github.com/wvfoia/wvfoia/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	overlay, err := corrections.Load()
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath, overlay)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func str(s string) *string { return &s }

func testEntry(id int, agency string) *model.Entry {
	return &model.Entry{ID: id, Agency: agency}
}

// --- Entries ---

func TestSQLite_UpsertEntry_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e := testEntry(1, "WV State Police")
	e.Subject = str("Incident reports")
	require.NoError(t, st.UpsertEntry(ctx, e))
	require.NoError(t, st.UpsertEntry(ctx, e))

	got, err := st.GetEntry(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Incident reports", *got.Subject)

	latest, err := st.LatestEntryID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, latest)
}

func TestSQLite_UpsertEntry_OverwritesAllFields(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e := testEntry(2, "DHHR")
	e.Fee = str("$10.00")
	e.IsAmended = false
	require.NoError(t, st.UpsertEntry(ctx, e))

	e.Agency = "WV Department of Health and Human Resources"
	e.Fee = nil
	e.IsAmended = true
	require.NoError(t, st.UpsertEntry(ctx, e))

	got, err := st.GetEntry(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "WV Department of Health and Human Resources", got.Agency)
	assert.Nil(t, got.Fee)
	assert.True(t, got.IsAmended)
}

func TestSQLite_GetEntry_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetEntry(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_LatestEntryID_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	latest, err := st.LatestEntryID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, latest)
}

func seedListEntries(t *testing.T, st *SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	rows := []*model.Entry{
		{ID: 1, Agency: "WV State Police", Subject: str("Dash camera footage"), RequestDate: str("2024-01-10"), EntryDate: str("2024-01-15"), Fee: str("$5.00")},
		{ID: 2, Agency: "WV State Police", Subject: str("Payroll records"), RequestDate: str("2024-02-01"), EntryDate: str("2024-02-10"), Resolution: str("Granted"), Fee: str("$120.00")},
		{ID: 3, Agency: "City of Charleston", Subject: str("Zoning appeals"), RequestDate: str("2024-03-01"), EntryDate: str("2024-03-05"), Resolution: str("Rejected")},
		{ID: 4, Agency: "City of Charleston", Subject: str("Police payroll"), RequestDate: str("2024-03-20"), EntryDate: str("2024-03-22"), Resolution: str("No Responsive Documents")},
	}
	for _, e := range rows {
		require.NoError(t, st.UpsertEntry(ctx, e))
	}
}

func TestSQLite_ListEntries_SearchTokens(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedListEntries(t, st)

	entries, total, err := st.ListEntries(context.Background(), EntryFilter{
		EntrySearchOptions: model.EntrySearchOptions{Search: "payroll police"},
		Cursor:             model.PageCursor{Page: 1, PageSize: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, entries, 2)
	// Both tokens must match, order irrelevant.
	assert.ElementsMatch(t, []int{2, 4}, []int{entries[0].ID, entries[1].ID})
}

func TestSQLite_ListEntries_AgencyCandidates(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedListEntries(t, st)

	entries, total, err := st.ListEntries(context.Background(), EntryFilter{
		AgencyNames: []string{"City of Charleston", "Charleston City Hall"},
		Cursor:      model.PageCursor{Page: 1, PageSize: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, entries, 2)
}

func TestSQLite_ListEntries_ResolutionBuckets(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedListEntries(t, st)

	entries, total, err := st.ListEntries(context.Background(), EntryFilter{
		EntrySearchOptions: model.EntrySearchOptions{Resolutions: []string{"other"}},
		Cursor:             model.PageCursor{Page: 1, PageSize: 10},
	})
	require.NoError(t, err)
	// Entries 1 (no resolution) and 4 (unrecognized category) fall in "other".
	assert.Equal(t, 2, total)
	assert.Len(t, entries, 2)
}

func TestSQLite_ListEntries_SortHighestFee(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedListEntries(t, st)

	entries, _, err := st.ListEntries(context.Background(), EntryFilter{
		EntrySearchOptions: model.EntrySearchOptions{Sort: model.SortHighestFee},
		Cursor:             model.PageCursor{Page: 1, PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].ID)
	assert.Equal(t, 1, entries[1].ID)
}

func TestSQLite_ListEntries_Pagination(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedListEntries(t, st)

	entries, total, err := st.ListEntries(context.Background(), EntryFilter{
		Cursor: model.PageCursor{Page: 2, PageSize: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, entries, 1)
}

func TestSQLite_LatestEntryDate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	date, err := st.LatestEntryDate(ctx)
	require.NoError(t, err)
	assert.Nil(t, date)

	seedListEntries(t, st)

	date, err = st.LatestEntryDate(ctx)
	require.NoError(t, err)
	require.NotNil(t, date)
	assert.Equal(t, "2024-03-22", *date)

	entries, err := st.EntriesByEntryDate(ctx, *date, 200)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 4, entries[0].ID)
}

// --- Aggregation ---

func TestSQLite_AgencyMetricRows(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rows := []*model.Entry{
		{ID: 1, Agency: "WV State Police", RequestDate: str("2024-06-01"), CompletionDate: str("2024-06-11")},
		{ID: 2, Agency: "WV State Police", RequestDate: str("2024-06-05"), CompletionDate: str("2024-06-07")},
		// Completion earlier than request contributes to counts only.
		{ID: 3, Agency: "WV State Police", RequestDate: str("2024-06-10"), CompletionDate: str("2024-06-01")},
		// Outside every window.
		{ID: 4, Agency: "WV State Police", RequestDate: str("2020-01-01"), CompletionDate: str("2020-01-03")},
	}
	for _, e := range rows {
		require.NoError(t, st.UpsertEntry(ctx, e))
	}

	metrics, err := st.AgencyMetricRows(ctx, WindowCutoffs{
		D30: "2024-06-01", D90: "2024-04-01", D365: "2023-07-01",
	})
	require.NoError(t, err)
	require.Len(t, metrics, 1)

	m := metrics[0]
	assert.Equal(t, "WV State Police", m.Agency)
	assert.Equal(t, 4, m.Requests)
	assert.Equal(t, 3, m.Requests30d)
	assert.Equal(t, 3, m.Requests90d)
	assert.Equal(t, 3, m.Requests365d)
	assert.Equal(t, 3, m.Completed)
	assert.Equal(t, 2, m.Completed30d)
	assert.InDelta(t, 14, m.ResponseDays, 0.001)
	assert.InDelta(t, 12, m.ResponseDays30d, 0.001)
}

func TestSQLite_AgencyResolutionRows(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertEntry(ctx, &model.Entry{ID: 1, Agency: "DHHR", Resolution: str("Granted")}))
	require.NoError(t, st.UpsertEntry(ctx, &model.Entry{ID: 2, Agency: "DHHR", Resolution: str("Granted")}))
	require.NoError(t, st.UpsertEntry(ctx, &model.Entry{ID: 3, Agency: "DHHR"}))

	counts, err := st.AgencyResolutionRows(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 2)
}

func TestSQLite_ResolutionTimelineRows_CorrectedDates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// 12873 carries a completion-date override in the overlay; the raw value
	// here is deliberately wrong.
	require.NoError(t, st.UpsertEntry(ctx, &model.Entry{
		ID: 12873, Agency: "DHHR", CompletionDate: str("2019-01-01"), Resolution: str("Granted"),
	}))
	require.NoError(t, st.UpsertEntry(ctx, &model.Entry{
		ID: 5, Agency: "DHHR", CompletionDate: str("2019-05-02"), Resolution: str("Rejected"),
	}))

	points, err := st.ResolutionTimelineRows(ctx, "", "2019-12-31")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2019-04-30", points[0].Date)
	assert.Equal(t, "2019-05-02", points[1].Date)
}

func TestSQLite_ResolutionTimelineRows_StartBound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertEntry(ctx, &model.Entry{ID: 1, Agency: "DHHR", CompletionDate: str("2024-01-01")}))
	require.NoError(t, st.UpsertEntry(ctx, &model.Entry{ID: 2, Agency: "DHHR", CompletionDate: str("2024-02-01")}))

	points, err := st.ResolutionTimelineRows(ctx, "2024-01-15", "2024-12-31")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "2024-02-01", points[0].Date)
}

// --- Sync runs ---

func TestSQLite_SyncRunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.StartSyncRun(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, model.SyncRunning, run.Status)

	require.NoError(t, st.CompleteSyncRun(ctx, run.ID, model.SyncResult{Added: 2, Checked: 5}))

	runs, err := st.ListSyncRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.SyncComplete, runs[0].Status)
	assert.Equal(t, 2, runs[0].Added)
	assert.Equal(t, 5, runs[0].Checked)
	assert.Equal(t, 101, runs[0].StartFrom)
	assert.NotNil(t, runs[0].CompletedAt)
}

func TestSQLite_FailSyncRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.StartSyncRun(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, st.FailSyncRun(ctx, run.ID, eris.New("upstream returned 503")))

	runs, err := st.ListSyncRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.SyncFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "503")
}

func TestSQLite_CompleteSyncRun_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.CompleteSyncRun(context.Background(), "nonexistent", model.SyncResult{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
