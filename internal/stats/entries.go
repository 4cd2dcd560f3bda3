package stats

import (
	"context"

	"github.com/wvfoia/wvfoia/internal/cache"
	"github.com/wvfoia/wvfoia/internal/model"
	"github.com/wvfoia/wvfoia/internal/store"
)

// ListEntries returns one page of corrected entries. An agency filter is a
// slug; it resolves through the correction overlay to every known spelling
// before hitting storage, so historical rows under old names are included.
func (s *Service) ListEntries(ctx context.Context, opts model.EntrySearchOptions, cursor model.PageCursor) (model.PaginatedEntries, error) {
	if cursor.PageSize <= 0 {
		cursor.PageSize = defaultPageSize
	}
	if cursor.Page < 1 {
		cursor.Page = 1
	}

	params := struct {
		Opts   model.EntrySearchOptions `json:"opts"`
		Cursor model.PageCursor         `json:"cursor"`
	}{Opts: opts, Cursor: cursor}

	return cache.Memoize(ctx, s.cache.Query, "entries", ttlEntries, params,
		func(ctx context.Context) (model.PaginatedEntries, error) {
			filter := store.EntryFilter{EntrySearchOptions: opts, Cursor: cursor}

			if opts.Agency != "" {
				agency, err := s.AgencyBySlug(ctx, opts.Agency)
				if err != nil {
					return model.PaginatedEntries{}, err
				}
				if agency == nil {
					return model.PaginatedEntries{Entries: []model.Entry{}}, nil
				}
				filter.AgencyNames = s.overlay.AgencyNameCandidates(agency.Name)
			}

			entries, total, err := s.store.ListEntries(ctx, filter)
			if err != nil {
				return model.PaginatedEntries{}, err
			}

			totalPages := (total + cursor.PageSize - 1) / cursor.PageSize
			if clamped := clampPage(cursor.Page, totalPages); clamped != cursor.Page {
				filter.Cursor.Page = clamped
				entries, total, err = s.store.ListEntries(ctx, filter)
				if err != nil {
					return model.PaginatedEntries{}, err
				}
			}

			return model.PaginatedEntries{
				Entries:    s.applyCorrections(entries),
				Total:      total,
				TotalPages: totalPages,
			}, nil
		})
}

// LatestEntries returns every entry reported on the most recent reporting
// date, newest id first.
func (s *Service) LatestEntries(ctx context.Context) (model.LatestEntriesSnapshot, error) {
	return cache.Memoize(ctx, s.cache.Query, "latest-entries", ttlEntries, nil,
		func(ctx context.Context) (model.LatestEntriesSnapshot, error) {
			date, err := s.store.LatestEntryDate(ctx)
			if err != nil {
				return model.LatestEntriesSnapshot{}, err
			}
			if date == nil {
				return model.LatestEntriesSnapshot{Entries: []model.Entry{}}, nil
			}

			entries, err := s.store.EntriesByEntryDate(ctx, *date, latestEntriesLimit)
			if err != nil {
				return model.LatestEntriesSnapshot{}, err
			}
			return model.LatestEntriesSnapshot{
				Date:    date,
				Entries: s.applyCorrections(entries),
			}, nil
		})
}

// Entry returns one corrected entry by id, or nil when absent.
func (s *Service) Entry(ctx context.Context, id int) (*model.Entry, error) {
	entry, err := s.store.GetEntry(ctx, id)
	if err != nil || entry == nil {
		return nil, err
	}
	corrected := s.overlay.ApplyEntry(*entry)
	return &corrected, nil
}

func (s *Service) applyCorrections(entries []model.Entry) []model.Entry {
	out := make([]model.Entry, len(entries))
	for i, entry := range entries {
		out[i] = s.overlay.ApplyEntry(entry)
	}
	return out
}
