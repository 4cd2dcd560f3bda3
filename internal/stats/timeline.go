package stats

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/wvfoia/wvfoia/internal/cache"
	"github.com/wvfoia/wvfoia/internal/model"
	"github.com/wvfoia/wvfoia/internal/store"
)

const timelineTag = "resolution_timeline"

// timelineRows fetches grouped completion-date counts through the table
// cache. Alias matching happens after the fetch, so one cached result serves
// every agency.
func (s *Service) timelineRows(ctx context.Context, start, end string) ([]store.TimelineRow, error) {
	hash, err := cache.Hash("timeline-rows", []string{start, end})
	if err != nil {
		return nil, err
	}

	var rows []store.TimelineRow
	if ok, err := s.cache.Tables.Get(ctx, hash, &rows); err != nil {
		return nil, err
	} else if ok {
		return rows, nil
	}

	rows, err = s.store.ResolutionTimelineRows(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Tables.Put(ctx, hash, rows, cache.PutOptions{
		Tables: []string{entriesTable},
		Tag:    timelineTag,
		TTL:    ttlAgencyStats,
	}); err != nil {
		return nil, err
	}
	return rows, nil
}

// ResolutionTimeline returns per-day resolution bucket counts for one agency.
// days > 0 bounds the range to [today-days, today], both ends inclusive;
// otherwise the range starts at the agency's earliest completion date on or
// before today. The series is dense: every calendar day in range is present,
// zero filled.
func (s *Service) ResolutionTimeline(ctx context.Context, agency string, days int) ([]model.ResolutionTimelinePoint, error) {
	end := s.today()
	_, targetSlug := s.overlay.AgencyIdentity(agency)

	params := struct {
		Slug string `json:"slug"`
		Days int    `json:"days"`
		End  string `json:"end"`
	}{Slug: targetSlug, Days: days, End: end}

	return cache.Memoize(ctx, s.cache.Query, "resolution-timeline", ttlAgencyStats, params,
		func(ctx context.Context) ([]model.ResolutionTimelinePoint, error) {
			start := ""
			if days > 0 {
				endDate, err := time.Parse(dateLayout, end)
				if err != nil {
					return nil, eris.Wrap(err, "stats: parse timeline end")
				}
				start = endDate.AddDate(0, 0, -days).Format(dateLayout)
			}

			rows, err := s.timelineRows(ctx, start, end)
			if err != nil {
				return nil, err
			}

			counts := make(map[string]map[model.ResolutionBucket]int)
			minDate := ""
			for _, row := range rows {
				if _, slug := s.overlay.AgencyIdentity(row.Agency); slug != targetSlug {
					continue
				}
				day, ok := counts[row.Date]
				if !ok {
					day = make(map[model.ResolutionBucket]int)
					counts[row.Date] = day
				}
				day[model.BucketForResolution(row.Resolution)] += row.Count
				if minDate == "" || row.Date < minDate {
					minDate = row.Date
				}
			}

			if start == "" {
				if minDate == "" {
					return []model.ResolutionTimelinePoint{}, nil
				}
				start = minDate
			}
			return densify(counts, start, end)
		})
}

// densify expands sparse per-day counts into a contiguous daily series.
func densify(counts map[string]map[model.ResolutionBucket]int, start, end string) ([]model.ResolutionTimelinePoint, error) {
	from, err := time.Parse(dateLayout, start)
	if err != nil {
		return nil, eris.Wrap(err, "stats: parse timeline start")
	}
	to, err := time.Parse(dateLayout, end)
	if err != nil {
		return nil, eris.Wrap(err, "stats: parse timeline end")
	}

	var points []model.ResolutionTimelinePoint
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		date := day.Format(dateLayout)
		buckets := counts[date]
		points = append(points, model.ResolutionTimelinePoint{
			Date:          date,
			Granted:       buckets[model.ResolutionGranted],
			GrantedInPart: buckets[model.ResolutionGrantedInPart],
			Exempted:      buckets[model.ResolutionExempted],
			Rejected:      buckets[model.ResolutionRejected],
			Other:         buckets[model.ResolutionOther],
		})
	}
	return points, nil
}
