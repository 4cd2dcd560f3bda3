// Package server exposes the HTTP surface: the JSON API, the RSS feeds, the
// guarded bulk exports, and the Prometheus scrape endpoint.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/wvfoia/wvfoia/internal/cache"
	"github.com/wvfoia/wvfoia/internal/config"
	"github.com/wvfoia/wvfoia/internal/feed"
	"github.com/wvfoia/wvfoia/internal/model"
	"github.com/wvfoia/wvfoia/internal/stats"
	"github.com/wvfoia/wvfoia/internal/store"
)

// Feed responses may be cached by intermediaries; they only change when a
// sync lands, at most daily.
const feedCacheControl = "public, max-age=120, s-maxage=300, stale-while-revalidate=86400"

const syncRunsLimit = 20

// Server wires the HTTP handlers over the application services.
type Server struct {
	cfg      *config.Config
	stats    *stats.Service
	feeds    *feed.Builder
	cache    *cache.Cache
	store    store.Store
	promview http.Handler
	verifier Verifier
	signer   ObjectSigner
}

// Options carries the collaborators the server serves. Metrics, Verifier and
// Signer may be nil; the corresponding endpoints degrade gracefully.
type Options struct {
	Config   *config.Config
	Stats    *stats.Service
	Feeds    *feed.Builder
	Cache    *cache.Cache
	Store    store.Store
	Metrics  http.Handler
	Verifier Verifier
	Signer   ObjectSigner
}

func New(opts Options) *Server {
	return &Server{
		cfg:      opts.Config,
		stats:    opts.Stats,
		feeds:    opts.Feeds,
		cache:    opts.Cache,
		store:    opts.Store,
		promview: opts.Metrics,
		verifier: opts.Verifier,
		signer:   opts.Signer,
	}
}

// Router builds the route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	// The API is public and read-only apart from the verified export POST.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/health", s.handleHealth)
	if s.promview != nil {
		r.Method("GET", "/metrics", s.promview)
	}

	r.Get("/feeds/latest.xml", s.handleLatestFeed)
	r.Get("/feeds/agencies/{slug}.xml", s.handleAgencyFeed)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats/home", s.handleHomeStats)
		r.Get("/agencies", s.handleAgencies)
		r.Get("/agencies/{slug}", s.handleAgency)
		r.Get("/agencies/{slug}/timeline", s.handleTimeline)
		r.Get("/entries", s.handleEntries)
		r.Get("/entries/latest", s.handleLatestEntries)
		r.Get("/entries/{id}", s.handleEntry)
		r.Get("/sync/runs", s.handleSyncRuns)
		r.Get("/sync/status", s.handleSyncStatus)
	})

	r.HandleFunc("/wvfoia.{ext}", s.handleExport)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("handler failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHomeStats(w http.ResponseWriter, r *http.Request) {
	home, err := s.stats.HomeStats(r.Context())
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, home)
}

func (s *Server) handleAgencies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cursor := model.PageCursor{
		Page:     intParam(q.Get("page"), 1),
		PageSize: intParam(q.Get("page_size"), 0),
	}
	page, err := s.stats.AgenciesPage(r.Context(), q.Get("search"), q.Get("sort"), cursor)
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleAgency(w http.ResponseWriter, r *http.Request) {
	agency, err := s.stats.AgencyBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		serverError(w, r, err)
		return
	}
	if agency == nil {
		writeError(w, http.StatusNotFound, "unknown agency")
		return
	}
	writeJSON(w, http.StatusOK, agency)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	days := intParam(r.URL.Query().Get("days"), 0)
	points, err := s.stats.ResolutionTimeline(r.Context(), chi.URLParam(r, "slug"), days)
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeline": points})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := model.EntrySearchOptions{
		Search:             q.Get("search"),
		Agency:             q.Get("agency"),
		Resolutions:        q["resolution"],
		RequestDateFrom:    q.Get("request_date_from"),
		RequestDateTo:      q.Get("request_date_to"),
		CompletionDateFrom: q.Get("completion_date_from"),
		CompletionDateTo:   q.Get("completion_date_to"),
		Sort:               q.Get("sort"),
	}
	cursor := model.PageCursor{
		Page:     intParam(q.Get("page"), 1),
		PageSize: intParam(q.Get("page_size"), 0),
	}
	page, err := s.stats.ListEntries(r.Context(), opts, cursor)
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleLatestEntries(w http.ResponseWriter, r *http.Request) {
	snap, err := s.stats.LatestEntries(r.Context())
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "entry id must be an integer")
		return
	}
	entry, err := s.stats.Entry(r.Context(), id)
	if err != nil {
		serverError(w, r, err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "no such entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleSyncRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListSyncRuns(r.Context(), syncRunsLimit)
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	last, err := s.cache.LastUpdated(r.Context())
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"last_updated_at": last})
}

func (s *Server) handleLatestFeed(w http.ResponseWriter, r *http.Request) {
	body, err := s.feeds.Latest(r.Context())
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeFeed(w, body)
}

func (s *Server) handleAgencyFeed(w http.ResponseWriter, r *http.Request) {
	body, err := s.feeds.Agency(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		serverError(w, r, err)
		return
	}
	if body == nil {
		writeError(w, http.StatusNotFound, "unknown agency")
		return
	}
	writeFeed(w, body)
}

func writeFeed(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Header().Set("Cache-Control", feedCacheControl)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		zap.L().Error("write feed", zap.Error(err))
	}
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
