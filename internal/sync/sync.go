// Package sync implements the incremental mirror pass: walk forward from the
// highest stored id, upsert what exists upstream, and stop after a run of
// consecutive missing ids.
package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wvfoia/wvfoia/internal/cache"
	"github.com/wvfoia/wvfoia/internal/model"
	"github.com/wvfoia/wvfoia/internal/store"
)

// Fetcher retrieves one upstream entry. A (nil, nil) return means the id does
// not exist upstream; an error aborts the run.
type Fetcher interface {
	FetchEntry(ctx context.Context, id int) (*model.Entry, error)
}

// Recorder receives the outcome of each run. Nil disables recording.
type Recorder interface {
	RecordSyncRun(result model.SyncResult, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordSyncRun(model.SyncResult, error) {}

// Options tunes one engine.
type Options struct {
	// DriftTolerance is how many consecutive missing ids end the scan.
	// Source ids are monotonic but gappy, so a single miss proves nothing.
	DriftTolerance int
	// MaxScan caps ids checked per run, as a safety net against the stop
	// condition never triggering (a persistent parse bug reads as an
	// endless run of missing ids).
	MaxScan int
}

const (
	defaultDriftTolerance = 3
	defaultMaxScan        = 500
)

// Engine runs incremental sync passes. Fetch and upsert are sequential per
// id; the upstream site's rate sensitivity is unknown and accurate drift
// detection matters more than throughput.
type Engine struct {
	store   store.Store
	fetcher Fetcher
	cache   *cache.Cache
	rec     Recorder
	opts    Options
}

// New creates an Engine. rec may be nil.
func New(st store.Store, fetcher Fetcher, c *cache.Cache, rec Recorder, opts Options) *Engine {
	if opts.DriftTolerance <= 0 {
		opts.DriftTolerance = defaultDriftTolerance
	}
	if opts.MaxScan <= 0 {
		opts.MaxScan = defaultMaxScan
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Engine{store: st, fetcher: fetcher, cache: c, rec: rec, opts: opts}
}

// Run executes one sync pass and persists its outcome to the run log. The
// whole result cache is flushed when anything was added; the last-updated
// timestamp is written on every run, including empty ones, so staleness
// reporting reflects "sync ran" rather than "data changed".
func (e *Engine) Run(ctx context.Context) (*model.SyncResult, error) {
	latest, err := e.store.LatestEntryID(ctx)
	if err != nil {
		e.rec.RecordSyncRun(model.SyncResult{}, err)
		return nil, err
	}
	startFrom := latest + 1

	run, err := e.store.StartSyncRun(ctx, startFrom)
	if err != nil {
		e.rec.RecordSyncRun(model.SyncResult{}, err)
		return nil, err
	}

	zap.L().Info("sync run started",
		zap.String("run_id", run.ID),
		zap.Int("start_from", startFrom),
		zap.Int("drift_tolerance", e.opts.DriftTolerance))

	result, scanErr := e.scan(ctx, startFrom)
	if scanErr != nil {
		if failErr := e.store.FailSyncRun(ctx, run.ID, scanErr); failErr != nil {
			zap.L().Error("recording failed sync run", zap.Error(failErr))
		}
		e.rec.RecordSyncRun(result, scanErr)
		return nil, scanErr
	}

	if result.Added > 0 {
		if err := e.cache.FlushAll(ctx); err != nil {
			e.rec.RecordSyncRun(result, err)
			return nil, err
		}
	}
	if err := e.cache.SetLastUpdated(ctx, time.Now()); err != nil {
		e.rec.RecordSyncRun(result, err)
		return nil, err
	}

	if err := e.store.CompleteSyncRun(ctx, run.ID, result); err != nil {
		e.rec.RecordSyncRun(result, err)
		return nil, err
	}

	zap.L().Info("sync run complete",
		zap.String("run_id", run.ID),
		zap.Int("added", result.Added),
		zap.Int("checked", result.Checked))
	e.rec.RecordSyncRun(result, nil)
	return &result, nil
}

func (e *Engine) scan(ctx context.Context, startFrom int) (model.SyncResult, error) {
	result := model.SyncResult{
		StartFrom:      startFrom,
		DriftTolerance: e.opts.DriftTolerance,
	}

	missing := 0
	for id := startFrom; missing < e.opts.DriftTolerance && result.Checked < e.opts.MaxScan; id++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		entry, err := e.fetcher.FetchEntry(ctx, id)
		if err != nil {
			return result, err
		}
		result.Checked++
		result.LastCheckedID = id

		if entry == nil {
			missing++
			continue
		}
		missing = 0

		if err := e.store.UpsertEntry(ctx, entry); err != nil {
			return result, err
		}
		result.Added++
		zap.L().Debug("entry added", zap.Int("entry_id", id), zap.String("agency", entry.Agency))
	}
	return result, nil
}
