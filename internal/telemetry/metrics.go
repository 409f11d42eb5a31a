package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Evaluations counts tree evaluations served over the API by result (match|no_match).
	Evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfwd_evaluations_total",
			Help: "Total logic tree evaluations",
		},
		[]string{"result"},
	)
	RegexErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tgfwd_regex_errors_total",
		Help: "Conditions skipped because their regex did not compile",
	})
	// Generations counts natural-language generation attempts by outcome.
	Generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfwd_generations_total",
			Help: "Total natural-language tree generations",
		},
		[]string{"outcome"},
	)
	BenchTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tgfwd_bench_ticks_total",
		Help: "Synthetic messages evaluated by streaming test benches",
	})
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tgfwd_sessions_active",
		Help: "Number of open editor sessions",
	})
	SSEClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sse_clients",
		Help: "Number of currently connected SSE clients",
	})

	initOnce sync.Once
)

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpReqs, httpDur, Evaluations, RegexErrors, Generations, BenchTicks, SessionsActive, SSEClients)
	})
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		// the route pattern is only complete once routing has finished
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
