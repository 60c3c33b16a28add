// Package api serves the ledger's write hooks and query endpoints over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/roach88/traceledger/internal/audit"
	"github.com/roach88/traceledger/internal/custody"
	"github.com/roach88/traceledger/internal/graph"
	"github.com/roach88/traceledger/internal/integrity"
	"github.com/roach88/traceledger/internal/lineage"
	"github.com/roach88/traceledger/internal/metrics"
	"github.com/roach88/traceledger/internal/rtm"
	"github.com/roach88/traceledger/internal/snapshot"
)

// defaultTraceDepth is used when a trace request omits depth.
const defaultTraceDepth = 3

// Deps are the services the API exposes. Every field except Gatherer,
// Metrics and Logger is required.
type Deps struct {
	Audit     *audit.Service
	Verifier  *integrity.Verifier
	Graph     *graph.Service
	Lineage   *lineage.Tracker
	RTM       *rtm.Matrix
	Custody   *custody.Ledger
	Snapshots *snapshot.Service

	// Gatherer backs /metrics. The endpoint is not mounted when nil.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Server routes HTTP requests to the ledger services.
type Server struct {
	deps   Deps
	logger *zap.Logger
	router chi.Router
}

// New builds the router.
func New(deps Deps) *Server {
	s := &Server{deps: deps, logger: deps.Logger}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("api")
	if s.deps.Metrics == nil {
		s.deps.Metrics = metrics.NewMetrics(nil)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/audit", func(r chi.Router) {
			r.Post("/events", s.appendEvent)
			r.Get("/events", s.searchEvents)
			r.Get("/verify", s.verify)
			r.Get("/export", s.export)
			r.Get("/entities/{type}/{id}/state", s.reconstruct)
			r.Get("/entities/{type}/{id}/history", s.history)
		})

		r.Route("/links", func(r chi.Router) {
			r.Post("/", s.createLink)
			r.Get("/", s.listLinks)
			r.Get("/{id}", s.getLink)
			r.Post("/{id}/deactivate", s.deactivateLink)
		})
		r.Route("/trace/{type}/{id}", func(r chi.Router) {
			r.Get("/forward", s.forwardTrace)
			r.Get("/backward", s.backwardTrace)
			r.Get("/bidirectional", s.bidirectional)
		})
		r.Get("/impact/{type}/{id}", s.impact)

		r.Post("/lineage", s.recordTransformation)
		r.Get("/lineage/{type}/{id}/{stage}", s.lineagePath)
		r.Get("/lineage/{type}/{id}/{stage}/downstream", s.downstream)

		r.Route("/requirements", func(r chi.Router) {
			r.Post("/", s.createRequirement)
			r.Get("/", s.listRequirements)
			r.Get("/{id}", s.getRequirement)
			r.Post("/{id}/evidence", s.linkEvidence)
		})
		r.Get("/coverage", s.coverage)

		r.Post("/custody", s.recordCustody)
		r.Get("/custody/{type}/{id}", s.custodyChain)

		r.Route("/snapshots", func(r chi.Router) {
			r.Post("/", s.createSnapshot)
			r.Get("/{type}/{id}", s.listSnapshots)
			r.Get("/{type}/{id}/latest", s.latestSnapshot)
			r.Get("/{type}/{id}/compare", s.compareSnapshots)
			r.Get("/{type}/{id}/{version}", s.getSnapshot)
		})
	})
	return r
}

// accessLog logs every request and counts it by route pattern.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.deps.Metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", requestID(r)))
	})
}
