package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/traceledger/internal/model"
	"github.com/roach88/traceledger/internal/rtm"
)

type evidenceRequest struct {
	Entity model.EntityRef `json:"entity"`
	Method string          `json:"method"`
}

func requirementFilter(r *http.Request) model.RequirementFilter {
	q := r.URL.Query()
	return model.RequirementFilter{
		Category: q.Get("category"),
		Priority: model.Priority(q.Get("priority")),
		Source:   q.Get("source"),
	}
}

func (s *Server) createRequirement(w http.ResponseWriter, r *http.Request) {
	var req rtm.CreateRequirementRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.deps.RTM.CreateRequirement(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listRequirements(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.deps.RTM.ListRequirements(r.Context(), requirementFilter(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) getRequirement(w http.ResponseWriter, r *http.Request) {
	req, err := s.deps.RTM.GetRequirement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) linkEvidence(w http.ResponseWriter, r *http.Request) {
	var req evidenceRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	link, err := s.deps.RTM.LinkEvidence(r.Context(), chi.URLParam(r, "id"), req.Entity, req.Method)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (s *Server) coverage(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.RTM.CoverageReport(r.Context(), requirementFilter(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
