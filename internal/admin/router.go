package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/middleware"
)

// RouterConfig holds the optional pieces of the router.
type RouterConfig struct {
	Health         *health.Checker
	Metrics        *metrics.Metrics
	RequestTimeout time.Duration
	// CORS is applied to every route when AllowOrigins is non-empty.
	CORS middleware.CORSConfig
	// SearchLimiter throttles the /api/search routes per client address.
	SearchLimiter *middleware.Limiter
}

// NewRouter builds the HTTP handler.
//
// Route table:
//
//	POST /api/search-sync/rebuild                    → rebuild (optional scope body)
//	POST /api/search-sync/rebuild-tenant/{tenantId}  → tenant rebuild
//	POST /api/search-sync/rebuild-corpus             → full rebuild (?batchSize=)
//	POST /api/search-sync/sync                       → incremental job (body)
//	POST /api/search-sync/index/{businessId}         → index one business
//	POST /api/search-sync/update/{businessId}        → re-index one business
//	POST /api/search-sync/delete/{businessId}        → remove one business
//	GET  /api/search-sync/job-status/{jobId}         → job status
//	GET  /api/search-sync/stats                      → queue counts and job summary
//	POST /api/search-sync/pause|resume|drain|clear   → queue control
//	POST /api/search                                 → structured search
//	GET  /api/search/autocomplete                    → name completions (?q=&limit=)
//	GET  /api/search/similar/{businessId}            → similar businesses
//	GET  /health/live, /health/ready                 → probes
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → Timeout → handler
//
// Search routes additionally pass through the rate limiter.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if len(cfg.CORS.AllowOrigins) > 0 {
		r.Use(middleware.CORS(cfg.CORS))
	}
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.LiveHandler())
		r.Get("/health/ready", cfg.Health.ReadyHandler())
	}

	r.Route("/api/search-sync", func(r chi.Router) {
		r.Post("/rebuild", h.Rebuild)
		r.Post("/rebuild-tenant/{tenantId}", h.RebuildTenant)
		r.Post("/rebuild-corpus", h.RebuildCorpus)
		r.Post("/sync", h.Sync)
		r.Post("/index/{businessId}", h.IndexEntity)
		r.Post("/update/{businessId}", h.UpdateEntity)
		r.Post("/delete/{businessId}", h.DeleteEntity)
		r.Get("/job-status/{jobId}", h.JobStatus)
		r.Get("/stats", h.Stats)
		r.Post("/pause", h.Pause)
		r.Post("/resume", h.Resume)
		r.Post("/drain", h.Drain)
		r.Post("/clear", h.Clear)
	})

	r.Route("/api/search", func(r chi.Router) {
		if cfg.SearchLimiter != nil {
			r.Use(middleware.RateLimit(cfg.SearchLimiter))
		}
		r.Post("/", h.Search)
		r.Get("/autocomplete", h.Autocomplete)
		r.Get("/similar/{businessId}", h.Similar)
	})

	return r
}
