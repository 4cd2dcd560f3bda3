package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wvfoia/wvfoia/internal/cache"
	"github.com/wvfoia/wvfoia/internal/corrections"
	"github.com/wvfoia/wvfoia/internal/model"
	"github.com/wvfoia/wvfoia/internal/stats"
	"github.com/wvfoia/wvfoia/internal/store"
)

func str(s string) *string { return &s }

func newTestBuilder(t *testing.T, entries ...*model.Entry) *Builder {
	t.Helper()
	overlay, err := corrections.Load()
	require.NoError(t, err)

	st, err := store.NewSQLite(t.TempDir()+"/feed.db", overlay)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	for _, e := range entries {
		require.NoError(t, st.UpsertEntry(ctx, e))
	}

	svc := stats.New(st, overlay, cache.New(cache.NewMemoryKV(), nil)).
		WithClock(func() time.Time { return time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC) })
	return NewBuilder(svc, "https://wvfoia.org/")
}

func TestLatestFeed(t *testing.T) {
	b := newTestBuilder(t,
		&model.Entry{ID: 1, Agency: "DHHR", EntryDate: str("2024-06-10"), Subject: str("Payroll <records>")},
		&model.Entry{ID: 2, Agency: "DHHR", EntryDate: str("2024-06-12"), Subject: str("Inspection reports")},
	)

	body, err := b.Latest(context.Background())
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, `<rss version="2.0">`)
	assert.Contains(t, out, "<guid isPermaLink=\"false\">entry-2</guid>")
	assert.NotContains(t, out, "entry-1")
	// Reporting-date noon UTC.
	assert.Contains(t, out, "12 Jun 2024 12:00:00 +0000")
	// Links use the trimmed site URL.
	assert.Contains(t, out, "https://wvfoia.org/entries/2")
}

func TestLatestFeed_EscapesText(t *testing.T) {
	b := newTestBuilder(t,
		&model.Entry{ID: 1, Agency: "DHHR", EntryDate: str("2024-06-10"), Subject: str("Payroll <records> & audits")},
	)

	body, err := b.Latest(context.Background())
	require.NoError(t, err)
	out := string(body)
	assert.Contains(t, out, "Payroll &lt;records&gt; &amp; audits")
	assert.NotContains(t, out, "<records>")
}

func TestAgencyFeed(t *testing.T) {
	b := newTestBuilder(t,
		&model.Entry{ID: 1, Agency: "DHHR", EntryDate: str("2024-06-10"), Resolution: str("Granted")},
		&model.Entry{ID: 2, Agency: "WV State Police", EntryDate: str("2024-06-11")},
	)

	body, err := b.Agency(context.Background(), "wv-department-of-health-and-human-resources")
	require.NoError(t, err)
	require.NotNil(t, body)
	out := string(body)

	assert.Contains(t, out, "WV FOIA: WV Department of Health and Human Resources")
	assert.Contains(t, out, "agency-wv-department-of-health-and-human-resources-entry-1")
	assert.NotContains(t, out, "entry-2</guid>")
	assert.Contains(t, out, "Resolution: Granted")
}

func TestAgencyFeed_UnknownSlug(t *testing.T) {
	b := newTestBuilder(t, &model.Entry{ID: 1, Agency: "DHHR"})

	body, err := b.Agency(context.Background(), "no-such-agency")
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestPubDate_FallbackChain(t *testing.T) {
	assert.Equal(t, "", pubDate(model.Entry{}))
	assert.Contains(t, pubDate(model.Entry{RequestDate: str("2024-01-05")}), "05 Jan 2024")
	assert.Contains(t, pubDate(model.Entry{
		RequestDate:    str("2024-01-05"),
		CompletionDate: str("2024-02-06"),
	}), "06 Feb 2024")
	assert.Contains(t, pubDate(model.Entry{
		RequestDate:    str("2024-01-05"),
		CompletionDate: str("2024-02-06"),
		EntryDate:      str("2024-03-07"),
	}), "07 Mar 2024")
}
