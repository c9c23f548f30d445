// Package api exposes the administrative HTTP surface: job control, run
// history, runtime metrics, endpoint CRUD, and test sends. It fronts the
// scheduler and dispatcher with plain request/response operations and owns
// no domain state of its own.
package api

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mediarr/internal/metrics"
	"mediarr/internal/notify"
	"mediarr/internal/ratelimit"
	"mediarr/internal/scheduler"
	logx "mediarr/pkg/logx"
)

type Config struct {
	// TestSendWindow/TestSendMax rate-limit test notifications per client.
	TestSendWindow time.Duration
	TestSendMax    int
}

func (c Config) withDefaults() Config {
	if c.TestSendWindow <= 0 {
		c.TestSendWindow = time.Minute
	}
	if c.TestSendMax <= 0 {
		c.TestSendMax = 5
	}
	return c
}

type Server struct {
	cfg     Config
	sched   *scheduler.Service
	notify  *notify.Service
	limiter *ratelimit.Limiter
	log     logx.Logger
}

func NewServer(cfg Config, sched *scheduler.Service, notifySvc *notify.Service, limiter *ratelimit.Limiter, log logx.Logger) *Server {
	if limiter == nil {
		limiter = ratelimit.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		cfg:     cfg.withDefaults(),
		sched:   sched,
		notify:  notifySvc,
		limiter: limiter,
		log:     log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/metrics", s.handleRuntimeMetrics)
			r.Get("/running", s.handleRunningJobs)
			r.Get("/runs", s.handleListRuns)
			r.Delete("/runs", s.handleClearRuns)
			r.Post("/{name}/run", s.handleRunNow)
			r.Route("/{id:[0-9]+}", func(r chi.Router) {
				r.Put("/schedule", s.handleUpdateSchedule)
				r.Post("/enable", s.handleSetEnabled(true))
				r.Post("/disable", s.handleSetEnabled(false))
			})
		})

		r.Route("/endpoints", func(r chi.Router) {
			r.Get("/", s.handleListEndpoints)
			r.Post("/", s.handleCreateEndpoint)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetEndpoint)
				r.Put("/", s.handleUpdateEndpoint)
				r.Delete("/", s.handleDeleteEndpoint)
				r.With(s.testSendLimit).Post("/test", s.handleTestEndpoint)
			})
		})

		r.Route("/users/{userID:[0-9]+}/endpoints/{endpointID}", func(r chi.Router) {
			r.Put("/", s.handleAssign)
			r.Delete("/", s.handleUnassign)
		})
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	})
}

// testSendLimit keys the rate limit on client IP so one admin hammering
// "send test" cannot exhaust another's budget.
func (s *Server) testSendLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "test_send:" + clientIP(r)
		res := s.limiter.Check(key, ratelimit.Options{
			Window: s.cfg.TestSendWindow,
			Max:    s.cfg.TestSendMax,
		})
		if !res.OK {
			metrics.RecordRateLimitRejection("test_send")
			retryAfter(w, res)
			writeError(w, http.StatusTooManyRequests, "too many test sends, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
