package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/traceledger/internal/lineage"
	"github.com/roach88/traceledger/internal/model"
)

func nodeParam(r *http.Request) model.LineageNode {
	return model.LineageNode{
		EntityType: chi.URLParam(r, "type"),
		EntityID:   chi.URLParam(r, "id"),
		Stage:      model.Stage(chi.URLParam(r, "stage")),
	}
}

func (s *Server) recordTransformation(w http.ResponseWriter, r *http.Request) {
	var req lineage.RecordRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Lineage.RecordTransformation(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) lineagePath(w http.ResponseWriter, r *http.Request) {
	path, err := s.deps.Lineage.GetLineagePath(r.Context(), nodeParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, path)
}

func (s *Server) downstream(w http.ResponseWriter, r *http.Request) {
	depth, err := intQuery(r, "depth", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.deps.Lineage.Downstream(r.Context(), nodeParam(r), depth)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
