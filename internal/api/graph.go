package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/traceledger/internal/graph"
	"github.com/roach88/traceledger/internal/model"
)

type deactivateRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) createLink(w http.ResponseWriter, r *http.Request) {
	var req graph.CreateLinkRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	link, err := s.deps.Graph.CreateLink(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (s *Server) listLinks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entity := model.Ref(q.Get("entity_type"), q.Get("entity_id"))
	links, err := s.deps.Graph.ListLinks(r.Context(), entity, q.Get("include_inactive") == "true")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (s *Server) getLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.deps.Graph.GetLink(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) deactivateLink(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	link, err := s.deps.Graph.DeactivateLink(r.Context(), chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) forwardTrace(w http.ResponseWriter, r *http.Request) {
	s.trace(w, r, s.deps.Graph.ForwardTrace)
}

func (s *Server) backwardTrace(w http.ResponseWriter, r *http.Request) {
	s.trace(w, r, s.deps.Graph.BackwardTrace)
}

type traceFunc func(ctx context.Context, entity model.EntityRef, maxDepth int) (*graph.TraceResult, error)

func (s *Server) trace(w http.ResponseWriter, r *http.Request, fn traceFunc) {
	depth, err := intQuery(r, "depth", defaultTraceDepth)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := fn(r.Context(), entityParam(r), depth)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) bidirectional(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Graph.Bidirectional(r.Context(), entityParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) impact(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Graph.ImpactAnalysis(r.Context(), entityParam(r), r.URL.Query().Get("change"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
