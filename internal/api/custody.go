package api

import (
	"net/http"

	"github.com/roach88/traceledger/internal/custody"
)

func (s *Server) recordCustody(w http.ResponseWriter, r *http.Request) {
	var req custody.RecordRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ev, err := s.deps.Custody.RecordEvent(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) custodyChain(w http.ResponseWriter, r *http.Request) {
	chain, err := s.deps.Custody.GetChain(r.Context(), entityParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}
