package stats

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wvfoia/wvfoia/internal/cache"
	"github.com/wvfoia/wvfoia/internal/corrections"
	"github.com/wvfoia/wvfoia/internal/model"
	"github.com/wvfoia/wvfoia/internal/store"
)

// countingStore counts aggregate queries so tests can assert cache hits.
type countingStore struct {
	store.Store
	metricCalls atomic.Int64
}

func (c *countingStore) AgencyMetricRows(ctx context.Context, cutoffs store.WindowCutoffs) ([]store.AgencyMetricRow, error) {
	c.metricCalls.Add(1)
	return c.Store.AgencyMetricRows(ctx, cutoffs)
}

var testClock = func() time.Time {
	return time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
}

func str(s string) *string { return &s }

func newTestService(t *testing.T) (*Service, *countingStore) {
	t.Helper()
	overlay, err := corrections.Load()
	require.NoError(t, err)

	st, err := store.NewSQLite(t.TempDir()+"/stats.db", overlay)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	counting := &countingStore{Store: st}
	svc := New(counting, overlay, cache.New(cache.NewMemoryKV(), nil)).WithClock(testClock)
	return svc, counting
}

func seed(t *testing.T, svc *Service, entries ...*model.Entry) {
	t.Helper()
	for _, e := range entries {
		require.NoError(t, svc.store.(*countingStore).UpsertEntry(context.Background(), e))
	}
}

func TestAgencyStats_MergesAliasSpellings(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc,
		&model.Entry{ID: 1, Agency: "DHHR", RequestDate: str("2024-06-10"), CompletionDate: str("2024-06-20"), Resolution: str("Granted")},
		&model.Entry{ID: 2, Agency: "WV Dept of Health and Human Resources", RequestDate: str("2024-06-12"), CompletionDate: str("2024-06-16"), Resolution: str("Rejected")},
		&model.Entry{ID: 3, Agency: "Department of Health and Human Resources", RequestDate: str("2023-01-05")},
	)

	all, err := svc.AgencyStats(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)

	a := all[0]
	assert.Equal(t, "WV Department of Health and Human Resources", a.Name)
	assert.Equal(t, "wv-department-of-health-and-human-resources", a.Slug)
	assert.Equal(t, 3, a.Requests)
	assert.Equal(t, 2, a.Requests30d)
	assert.InDelta(t, 7.0, a.AvgResponseTime, 0.001)
	assert.Equal(t, 1, a.Resolutions["granted"])
	assert.Equal(t, 1, a.Resolutions["rejected"])
	assert.Equal(t, 0, a.Resolutions["exempted"])
}

func TestAgencyStats_ZeroAverageWhenNoCompletions(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc, &model.Entry{ID: 1, Agency: "WV State Police", RequestDate: str("2024-06-01")})

	all, err := svc.AgencyStats(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Zero(t, all[0].AvgResponseTime)
	assert.Zero(t, all[0].AvgResponseTime30d)
}

func TestAgencyStats_Memoized(t *testing.T) {
	svc, counting := newTestService(t)
	seed(t, svc, &model.Entry{ID: 1, Agency: "DHHR", RequestDate: str("2024-06-01")})

	_, err := svc.AgencyStats(context.Background())
	require.NoError(t, err)
	_, err = svc.AgencyStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), counting.metricCalls.Load())
}

func TestAgenciesPage_TokenFilterAndSort(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc,
		&model.Entry{ID: 1, Agency: "WV State Police", RequestDate: str("2024-06-01")},
		&model.Entry{ID: 2, Agency: "WV State Police", RequestDate: str("2024-06-02")},
		&model.Entry{ID: 3, Agency: "City of Charleston", RequestDate: str("2024-06-03")},
		&model.Entry{ID: 4, Agency: "Office of the Secretary of State", RequestDate: str("2024-06-04")},
	)
	ctx := context.Background()

	page, err := svc.AgenciesPage(ctx, "", model.SortMostRequests, model.PageCursor{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.NotEmpty(t, page.Agencies)
	assert.Equal(t, "WV State Police", page.Agencies[0].Name)

	// Tokens match in any order against name+slug.
	page, err = svc.AgenciesPage(ctx, "state police", model.SortMostRequests, model.PageCursor{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "WV State Police", page.Agencies[0].Name)

	page, err = svc.AgenciesPage(ctx, "police state", "", model.PageCursor{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestAgenciesPage_ClampsPageNumber(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc,
		&model.Entry{ID: 1, Agency: "WV State Police"},
		&model.Entry{ID: 2, Agency: "City of Charleston"},
	)

	page, err := svc.AgenciesPage(context.Background(), "", "", model.PageCursor{Page: 99, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Agencies, 1)

	page, err = svc.AgenciesPage(context.Background(), "", "", model.PageCursor{Page: -1, PageSize: 1})
	require.NoError(t, err)
	require.Len(t, page.Agencies, 1)
}

func TestHomeStats(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc,
		&model.Entry{ID: 1, Agency: "DHHR", RequestDate: str("2024-06-10"), CompletionDate: str("2024-06-20")},
		&model.Entry{ID: 2, Agency: "WV State Police", RequestDate: str("2023-01-10"), CompletionDate: str("2023-01-12")},
	)

	home, err := svc.HomeStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, home.TotalAll)
	assert.Equal(t, 1, home.Total30d)
	assert.InDelta(t, 6.0, home.AvgAll, 0.001)
	assert.InDelta(t, 10.0, home.Avg30d, 0.001)
}

func TestResolutionTimeline_DenseAndAliased(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc,
		&model.Entry{ID: 1, Agency: "DHHR", CompletionDate: str("2024-06-25"), Resolution: str("Granted")},
		&model.Entry{ID: 2, Agency: "WV Dept of Health and Human Resources", CompletionDate: str("2024-06-27"), Resolution: str("Granted")},
		&model.Entry{ID: 3, Agency: "WV State Police", CompletionDate: str("2024-06-26"), Resolution: str("Rejected")},
	)

	points, err := svc.ResolutionTimeline(context.Background(), "DHHR", 0)
	require.NoError(t, err)
	// Dense series from earliest matching completion to today.
	require.Len(t, points, 6)
	assert.Equal(t, "2024-06-25", points[0].Date)
	assert.Equal(t, 1, points[0].Granted)
	assert.Equal(t, "2024-06-26", points[1].Date)
	assert.Zero(t, points[1].Granted)
	assert.Zero(t, points[1].Rejected)
	assert.Equal(t, 1, points[2].Granted)
	assert.Equal(t, "2024-06-30", points[5].Date)
}

func TestResolutionTimeline_ExplicitDays(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc, &model.Entry{ID: 1, Agency: "DHHR", CompletionDate: str("2024-06-29"), Resolution: str("Exempted")})

	points, err := svc.ResolutionTimeline(context.Background(), "DHHR", 3)
	require.NoError(t, err)
	// Inclusive range: 3 days back through today.
	require.Len(t, points, 4)
	assert.Equal(t, "2024-06-27", points[0].Date)
	assert.Equal(t, 1, points[2].Exempted)
}

func TestResolutionTimeline_NoData(t *testing.T) {
	svc, _ := newTestService(t)

	points, err := svc.ResolutionTimeline(context.Background(), "DHHR", 0)
	require.NoError(t, err)
	assert.Empty(t, points)

	// With an explicit window the series is still dense, all zeros.
	points, err = svc.ResolutionTimeline(context.Background(), "DHHR", 10)
	require.NoError(t, err)
	require.Len(t, points, 11)
	for _, p := range points {
		assert.Zero(t, p.Granted+p.GrantedInPart+p.Exempted+p.Rejected+p.Other)
	}
}

func TestListEntries_ResolvesAgencySlug(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc,
		&model.Entry{ID: 1, Agency: "DHHR", RequestDate: str("2024-06-01"), EntryDate: str("2024-06-02")},
		&model.Entry{ID: 2, Agency: "WV Dept of Health and Human Resources", RequestDate: str("2024-06-03"), EntryDate: str("2024-06-04")},
		&model.Entry{ID: 3, Agency: "WV State Police", RequestDate: str("2024-06-05"), EntryDate: str("2024-06-06")},
	)

	page, err := svc.ListEntries(context.Background(), model.EntrySearchOptions{
		Agency: "wv-department-of-health-and-human-resources",
	}, model.PageCursor{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Entries, 2)
	// Corrections applied on the way out.
	assert.Equal(t, "WV Department of Health and Human Resources", page.Entries[0].Agency)
}

func TestListEntries_UnknownSlug(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc, &model.Entry{ID: 1, Agency: "DHHR"})

	page, err := svc.ListEntries(context.Background(), model.EntrySearchOptions{Agency: "no-such-agency"},
		model.PageCursor{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, page.Entries)
}

func TestLatestEntries(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc,
		&model.Entry{ID: 1, Agency: "DHHR", EntryDate: str("2024-06-10")},
		&model.Entry{ID: 2, Agency: "DHHR", EntryDate: str("2024-06-12")},
		&model.Entry{ID: 3, Agency: "WV State Police", EntryDate: str("2024-06-12")},
	)

	snap, err := svc.LatestEntries(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Date)
	assert.Equal(t, "2024-06-12", *snap.Date)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, 3, snap.Entries[0].ID)
}

func TestLatestEntries_Empty(t *testing.T) {
	svc, _ := newTestService(t)

	snap, err := svc.LatestEntries(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Date)
	assert.Empty(t, snap.Entries)
}
