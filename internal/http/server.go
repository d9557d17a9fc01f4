package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"entregas/internal/cache"
	"entregas/internal/core"
	"entregas/internal/log"
	"entregas/internal/services"
)

// Tracker is the service surface the API exposes.
type Tracker interface {
	Entry(ctx context.Context, date time.Time) (core.DailyEntry, bool, error)
	SaveEntry(ctx context.Context, date time.Time, e core.DailyEntry) error
	DeleteEntry(ctx context.Context, date time.Time) (bool, error)
	Summary(ctx context.Context, date time.Time) (services.Summary, error)
	Today() time.Time
	MonthSeries(ctx context.Context, monthKey string) ([]services.DayPoint, error)
	AddExpense(ctx context.Context, monthKey string, q core.Quinzena, amount float64) (float64, error)
	QuinzenaExpense(ctx context.Context, monthKey string, q core.Quinzena) (float64, error)
	MonthlyExpense(ctx context.Context, monthKey string) (float64, error)
	Export(ctx context.Context) (services.Snapshot, error)
	Import(ctx context.Context, snap services.Snapshot) error
	OnChange(fn func())
}

type Options struct {
	Logger            *log.Logger
	CacheSize         int
	CacheTTL          time.Duration
	RequestsPerMinute int
	// Ready reports whether dependencies can serve traffic; nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	http.Server
	tracker Tracker
	logger  *log.Logger
	ready   func(ctx context.Context) error

	summaries *cache.LRUCache[summaryResponse]
	// cacheMu orders summary stores against purges; generation counts purges
	// so a summary loaded before a write is never stored after it.
	cacheMu    sync.Mutex
	generation uint64

	caches       *cache.Manager
	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
// Summary responses are cached until the next write through the tracker.
func NewServer(addr string, tracker Tracker, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 64
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	s := &Server{
		tracker:     tracker,
		logger:      logger.WithComponent(log.ComponentHTTP),
		ready:       opts.Ready,
		summaries:   cache.NewLRUCache[summaryResponse](opts.CacheSize, opts.CacheTTL),
		caches:      cache.NewManager(logger.WithComponent(log.ComponentCache).Logger),
		rateLimiter: newRateLimiter(opts.RequestsPerMinute),
	}
	s.caches.Register(s.summaries)
	s.caches.StartCleanup(10 * time.Minute)
	go s.rateLimiter.startCleanup()

	tracker.OnChange(s.Invalidate)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/entries/{date}", s.handleGetEntry)
	mux.HandleFunc("PUT /api/entries/{date}", s.handlePutEntry)
	mux.HandleFunc("DELETE /api/entries/{date}", s.handleDeleteEntry)
	mux.HandleFunc("GET /api/months/{month}/series", s.handleMonthSeries)
	mux.HandleFunc("GET /api/months/{month}/expenses", s.handleMonthExpenses)
	mux.HandleFunc("POST /api/expenses", s.handleAddExpense)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("POST /api/import", s.handleImport)

	var handler http.Handler = mux
	handler = s.withRateLimit(handler)
	handler = withSecurityHeaders(handler)
	handler = log.Middleware(logger, extractClientIP)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Invalidate drops every cached summary. Rates changes call it too.
func (s *Server) Invalidate() {
	s.cacheMu.Lock()
	s.generation++
	s.summaries.Purge()
	s.cacheMu.Unlock()
	s.logger.Debug("Summary cache purged")
}

func (s *Server) cacheGeneration() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.generation
}

// storeSummary caches resp unless the cache was purged since gen was read.
func (s *Server) storeSummary(gen uint64, key string, resp summaryResponse) bool {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.generation != gen {
		return false
	}
	s.summaries.Set(key, resp)
	return true
}

// Shutdown stops background cleanup and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withRateLimit limits writes per client IP. Reads are served from cache and
// are not limited.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
			clientIP := extractClientIP(r)
			if !s.rateLimiter.allow(clientIP) {
				log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
					log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
				TooManyRequestsError().Write(w)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err.Error())
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
