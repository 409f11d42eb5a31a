// Package api exposes rules, evaluation, generation and editor sessions over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/tgforwarder/internal/audit"
	"github.com/TimurManjosov/tgforwarder/internal/generator"
	"github.com/TimurManjosov/tgforwarder/internal/session"
	"github.com/TimurManjosov/tgforwarder/internal/store"
	"github.com/TimurManjosov/tgforwarder/internal/telemetry"
)

const (
	defaultRequestTimeout    = 5 * time.Second
	defaultGeneratorTimeout  = 30 * time.Second
	defaultGeneratePerMinute = 20
)

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Store       store.Store
	Sessions    *session.Registry
	Generator   *generator.Adapter
	Analyzer    *generator.Analyzer
	AdminAPIKey string
	Logger      zerolog.Logger

	// Audit records rule changes when set. AuditLog, when set, backs
	// GET /v1/audit and should be one of the service's sinks.
	Audit    *audit.Service
	AuditLog *audit.MemorySink

	GeneratorTimeout  time.Duration // upper bound for /v1/generate and /v1/analyze
	GeneratePerMinute int           // per-IP limit shared by every route that calls the generator
}

type Server struct {
	store       store.Store
	sessions    *session.Registry
	generator   *generator.Adapter
	analyzer    *generator.Analyzer
	adminAPIKey string
	logger      zerolog.Logger
	audit       *audit.Service
	auditLog    *audit.MemorySink

	generatorTimeout  time.Duration
	generatePerMinute int
	genLimiter        *httprate.RateLimiter
}

func NewServer(d Deps) *Server {
	s := &Server{
		store:             d.Store,
		sessions:          d.Sessions,
		generator:         d.Generator,
		analyzer:          d.Analyzer,
		adminAPIKey:       d.AdminAPIKey,
		logger:            d.Logger,
		audit:             d.Audit,
		auditLog:          d.AuditLog,
		generatorTimeout:  d.GeneratorTimeout,
		generatePerMinute: d.GeneratePerMinute,
	}
	if s.generatorTimeout <= 0 {
		s.generatorTimeout = defaultGeneratorTimeout
	}
	if s.generatePerMinute <= 0 {
		s.generatePerMinute = defaultGeneratePerMinute
	}
	s.genLimiter = httprate.NewRateLimiter(
		s.generatePerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			RateLimitedError(w, r, "too many generation requests, retry later")
		}),
	)
	if s.generator == nil {
		s.generator = generator.NewAdapter(nil, generator.WithLogger(d.Logger))
	}
	if s.analyzer == nil {
		s.analyzer = generator.NewAnalyzer(nil, d.Logger)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(telemetry.Middleware)
	r.Use(accessLog(s.logger))

	// health
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	fast := middleware.Timeout(defaultRequestTimeout)
	// routes that call the generation service
	slow := middleware.Timeout(s.generatorTimeout + defaultRequestTimeout)

	r.Route("/rules", func(r chi.Router) {
		r.Use(fast)
		r.Get("/", s.handleListRules)
		r.Post("/test", s.handleTestRule)
		r.Get("/{id}", s.handleGetRule)

		// admin (protected)
		r.Group(func(r chi.Router) {
			r.Use(s.authAdmin)
			r.Post("/", s.handleCreateRule)
			r.Patch("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.With(fast).Post("/evaluate", s.handleEvaluate)
		r.With(fast).Post("/match", s.handleMatch)

		// generation is rate limited per IP inside the handlers, see allowGeneration
		r.With(slow).Post("/generate", s.handleGenerate)
		r.With(slow).Post("/analyze", s.handleAnalyze)
		r.With(fast, s.authAdmin).Get("/audit", s.handleListAudit)

		r.Route("/sessions", func(r chi.Router) {
			r.With(fast).Get("/", s.handleListSessions)
			// a prompt makes session creation call the generator
			r.With(slow).Post("/", s.handleCreateSession)

			r.Route("/{sid}", func(r chi.Router) {
				// long-lived stream, no timeout
				r.Get("/bench/events", s.handleBenchEvents)

				r.Group(func(r chi.Router) {
					r.Use(fast)
					r.Get("/", s.handleGetSession)
					r.Delete("/", s.handleDeleteSession)
					r.Put("/tree", s.handleReplaceTree)
					r.Patch("/meta", s.handleSetMeta)
					r.Post("/nodes/update", s.handleUpdateNode)
					r.Post("/nodes/add", s.handleAddNode)
					r.Post("/nodes/remove", s.handleRemoveNode)
					r.With(s.authAdmin).Post("/save", s.handleSaveSession)

					r.Get("/bench", s.handleBenchSnapshot)
					r.Post("/bench/manual", s.handleBenchManual)
					r.Post("/bench/start", s.handleBenchStart)
					r.Post("/bench/stop", s.handleBenchStop)
					r.Post("/bench/clear", s.handleBenchClear)
				})
			})
		})
	})

	return r
}
