// Package stats computes the aggregate statistics served by the site:
// per-agency request volume and response times, resolution breakdowns and
// timelines, and global homepage numbers. Every entry point applies the
// correction overlay before counting and routes through the query cache
// keyed by its full parameter set.
package stats

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/wvfoia/wvfoia/internal/cache"
	"github.com/wvfoia/wvfoia/internal/corrections"
	"github.com/wvfoia/wvfoia/internal/model"
	"github.com/wvfoia/wvfoia/internal/store"
)

const dateLayout = "2006-01-02"

// Cache lifetimes by volatility. Aggregates only move when a sync adds rows,
// and a sync flushes everything, so long TTLs are a backstop rather than the
// primary freshness mechanism.
const (
	ttlAgencyStats = 7 * 24 * time.Hour
	ttlEntries     = 3 * 24 * time.Hour
	ttlAlias       = 30 * 24 * time.Hour
)

// Table-cache dependency names for the base aggregation queries.
const (
	entriesTable       = "entries"
	metricsTag         = "agency_stats_metrics"
	resolutionsTag     = "agency_stats_resolutions"
	defaultPageSize    = 25
	latestEntriesLimit = 200
)

// Service answers aggregate queries over the mirrored entries.
type Service struct {
	store   store.Store
	overlay *corrections.Overlay
	cache   *cache.Cache
	now     func() time.Time
}

// New creates a Service. The clock is UTC wall time; tests substitute it via
// WithClock.
func New(st store.Store, overlay *corrections.Overlay, c *cache.Cache) *Service {
	return &Service{store: st, overlay: overlay, cache: c, now: time.Now}
}

// WithClock replaces the time source, for deterministic window cutoffs in
// tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) today() string {
	return s.now().UTC().Format(dateLayout)
}

func (s *Service) windows() store.WindowCutoffs {
	now := s.now().UTC()
	day := func(d int) string { return now.AddDate(0, 0, -d).Format(dateLayout) }
	return store.WindowCutoffs{D30: day(30), D90: day(90), D365: day(365)}
}

// metricRows fetches the per-raw-agency aggregates through the table cache.
func (s *Service) metricRows(ctx context.Context, cutoffs store.WindowCutoffs) ([]store.AgencyMetricRow, error) {
	hash, err := cache.Hash("agency-metrics", cutoffs)
	if err != nil {
		return nil, err
	}

	var rows []store.AgencyMetricRow
	if ok, err := s.cache.Tables.Get(ctx, hash, &rows); err != nil {
		return nil, err
	} else if ok {
		return rows, nil
	}

	rows, err = s.store.AgencyMetricRows(ctx, cutoffs)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Tables.Put(ctx, hash, rows, cache.PutOptions{
		Tables: []string{entriesTable},
		Tag:    metricsTag,
		TTL:    ttlAgencyStats,
	}); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) resolutionRows(ctx context.Context) ([]store.AgencyResolutionRow, error) {
	hash, err := cache.Hash("agency-resolutions", nil)
	if err != nil {
		return nil, err
	}

	var rows []store.AgencyResolutionRow
	if ok, err := s.cache.Tables.Get(ctx, hash, &rows); err != nil {
		return nil, err
	} else if ok {
		return rows, nil
	}

	rows, err = s.store.AgencyResolutionRows(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Tables.Put(ctx, hash, rows, cache.PutOptions{
		Tables: []string{entriesTable},
		Tag:    resolutionsTag,
		TTL:    ttlAgencyStats,
	}); err != nil {
		return nil, err
	}
	return rows, nil
}

// AgencyStats returns statistics for every corrected agency identity. Raw
// spellings that normalize to the same identity merge into one bucket;
// averages are recomputed from merged sums so the merge is exact.
func (s *Service) AgencyStats(ctx context.Context) ([]model.AgencyStats, error) {
	cutoffs := s.windows()
	return cache.Memoize(ctx, s.cache.Query, "agency-stats", ttlAgencyStats, cutoffs,
		func(ctx context.Context) ([]model.AgencyStats, error) {
			return s.buildAgencyStats(ctx, cutoffs)
		})
}

type agencyAccum struct {
	stats store.AgencyMetricRow
	name  string
	slug  string
}

func (s *Service) buildAgencyStats(ctx context.Context, cutoffs store.WindowCutoffs) ([]model.AgencyStats, error) {
	metrics, err := s.metricRows(ctx, cutoffs)
	if err != nil {
		return nil, err
	}
	resolutions, err := s.resolutionRows(ctx)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*agencyAccum)
	for _, row := range metrics {
		name, slug := s.overlay.AgencyIdentity(row.Agency)
		acc, ok := merged[slug]
		if !ok {
			acc = &agencyAccum{name: name, slug: slug}
			merged[slug] = acc
		}
		acc.stats.Requests += row.Requests
		acc.stats.Requests30d += row.Requests30d
		acc.stats.Requests90d += row.Requests90d
		acc.stats.Requests365d += row.Requests365d
		acc.stats.ResponseDays += row.ResponseDays
		acc.stats.ResponseDays30d += row.ResponseDays30d
		acc.stats.ResponseDays90d += row.ResponseDays90d
		acc.stats.ResponseDays365d += row.ResponseDays365d
		acc.stats.Completed += row.Completed
		acc.stats.Completed30d += row.Completed30d
		acc.stats.Completed90d += row.Completed90d
		acc.stats.Completed365d += row.Completed365d
	}

	histograms := make(map[string]map[string]int)
	for _, row := range resolutions {
		_, slug := s.overlay.AgencyIdentity(row.Agency)
		hist, ok := histograms[slug]
		if !ok {
			hist = make(map[string]int)
			histograms[slug] = hist
		}
		hist[string(model.BucketForResolution(row.Resolution))] += row.Count
	}

	out := make([]model.AgencyStats, 0, len(merged))
	for slug, acc := range merged {
		out = append(out, model.AgencyStats{
			Name:                acc.name,
			Slug:                acc.slug,
			Requests:            acc.stats.Requests,
			Requests30d:         acc.stats.Requests30d,
			Requests90d:         acc.stats.Requests90d,
			Requests365d:        acc.stats.Requests365d,
			AvgResponseTime:     safeAvg(acc.stats.ResponseDays, acc.stats.Completed),
			AvgResponseTime30d:  safeAvg(acc.stats.ResponseDays30d, acc.stats.Completed30d),
			AvgResponseTime90d:  safeAvg(acc.stats.ResponseDays90d, acc.stats.Completed90d),
			AvgResponseTime365d: safeAvg(acc.stats.ResponseDays365d, acc.stats.Completed365d),
			Resolutions:         histogramFor(histograms, slug),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// safeAvg returns 0 rather than NaN for empty windows so callers can sort
// unconditionally.
func safeAvg(sum float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func histogramFor(histograms map[string]map[string]int, slug string) map[string]int {
	hist := make(map[string]int, len(model.ResolutionBuckets))
	for _, bucket := range model.ResolutionBuckets {
		hist[string(bucket)] = histograms[slug][string(bucket)]
	}
	return hist
}

// HomeStats returns the global rolling-window numbers: the same logic as
// agency stats without the agency split.
func (s *Service) HomeStats(ctx context.Context) (model.HomeStats, error) {
	cutoffs := s.windows()
	return cache.Memoize(ctx, s.cache.Query, "home-stats", ttlAgencyStats, cutoffs,
		func(ctx context.Context) (model.HomeStats, error) {
			metrics, err := s.metricRows(ctx, cutoffs)
			if err != nil {
				return model.HomeStats{}, err
			}
			var total store.AgencyMetricRow
			for _, row := range metrics {
				total.Requests += row.Requests
				total.Requests30d += row.Requests30d
				total.Requests90d += row.Requests90d
				total.Requests365d += row.Requests365d
				total.ResponseDays += row.ResponseDays
				total.ResponseDays30d += row.ResponseDays30d
				total.ResponseDays90d += row.ResponseDays90d
				total.ResponseDays365d += row.ResponseDays365d
				total.Completed += row.Completed
				total.Completed30d += row.Completed30d
				total.Completed90d += row.Completed90d
				total.Completed365d += row.Completed365d
			}
			return model.HomeStats{
				TotalAll:  total.Requests,
				Total30d:  total.Requests30d,
				Total90d:  total.Requests90d,
				Total365d: total.Requests365d,
				AvgAll:    safeAvg(total.ResponseDays, total.Completed),
				Avg30d:    safeAvg(total.ResponseDays30d, total.Completed30d),
				Avg90d:    safeAvg(total.ResponseDays90d, total.Completed90d),
				Avg365d:   safeAvg(total.ResponseDays365d, total.Completed365d),
			}, nil
		})
}

// AgenciesPage returns one page of the agency listing. Search is a
// case-insensitive tokenized match over name and slug: every token must
// appear, order irrelevant. Page numbers are 1-based and clamped.
func (s *Service) AgenciesPage(ctx context.Context, search, sortKey string, cursor model.PageCursor) (model.PaginatedAgencies, error) {
	params := struct {
		Search  string              `json:"search"`
		Sort    string              `json:"sort"`
		Cursor  model.PageCursor    `json:"cursor"`
		Cutoffs store.WindowCutoffs `json:"cutoffs"`
	}{Search: search, Sort: sortKey, Cursor: cursor, Cutoffs: s.windows()}

	return cache.Memoize(ctx, s.cache.Query, "agencies-page", ttlAgencyStats, params,
		func(ctx context.Context) (model.PaginatedAgencies, error) {
			all, err := s.AgencyStats(ctx)
			if err != nil {
				return model.PaginatedAgencies{}, err
			}

			matched := filterAgencies(all, search)
			sortAgencies(matched, sortKey)

			size := cursor.PageSize
			if size <= 0 {
				size = defaultPageSize
			}
			total := len(matched)
			totalPages := (total + size - 1) / size
			page := clampPage(cursor.Page, totalPages)

			start := (page - 1) * size
			end := start + size
			if start > total {
				start = total
			}
			if end > total {
				end = total
			}
			return model.PaginatedAgencies{
				Agencies:   matched[start:end],
				Total:      total,
				TotalPages: totalPages,
			}, nil
		})
}

func clampPage(page, totalPages int) int {
	if page < 1 {
		return 1
	}
	if totalPages > 0 && page > totalPages {
		return totalPages
	}
	return page
}

func filterAgencies(all []model.AgencyStats, search string) []model.AgencyStats {
	tokens := strings.Fields(strings.ToLower(search))
	if len(tokens) == 0 {
		return append([]model.AgencyStats(nil), all...)
	}
	var matched []model.AgencyStats
	for _, agency := range all {
		haystack := strings.ToLower(agency.Name + " " + agency.Slug)
		ok := true
		for _, token := range tokens {
			if !strings.Contains(haystack, token) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, agency)
		}
	}
	return matched
}

func sortAgencies(agencies []model.AgencyStats, key string) {
	less := func(i, j int) bool { return agencies[i].Requests > agencies[j].Requests }
	switch key {
	case model.SortLeastRequests:
		less = func(i, j int) bool { return agencies[i].Requests < agencies[j].Requests }
	case model.SortHighestResponseTime:
		less = func(i, j int) bool { return agencies[i].AvgResponseTime > agencies[j].AvgResponseTime }
	case model.SortLowestResponseTime:
		less = func(i, j int) bool { return agencies[i].AvgResponseTime < agencies[j].AvgResponseTime }
	}
	sort.SliceStable(agencies, less)
}

// AgencyBySlug resolves one agency's statistics by its URL slug, or nil when
// no corrected identity matches. Resolution is cached long: the slug table
// only changes when the correction overlay does.
func (s *Service) AgencyBySlug(ctx context.Context, slug string) (*model.AgencyStats, error) {
	params := struct {
		Slug    string              `json:"slug"`
		Cutoffs store.WindowCutoffs `json:"cutoffs"`
	}{Slug: slug, Cutoffs: s.windows()}

	return cache.Memoize(ctx, s.cache.Query, "agency-by-slug", ttlAlias, params,
		func(ctx context.Context) (*model.AgencyStats, error) {
			all, err := s.AgencyStats(ctx)
			if err != nil {
				return nil, err
			}
			for i := range all {
				if all[i].Slug == slug {
					return &all[i], nil
				}
			}
			return nil, nil
		})
}
