package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

type snapshotRequest struct {
	Entity    model.EntityRef `json:"entity"`
	Data      canon.Object    `json:"data"`
	Trigger   string          `json:"trigger"`
	CreatedBy string          `json:"created_by"`
}

func (s *Server) createSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.deps.Snapshots.CreateSnapshot(r.Context(), req.Entity, req.Data, req.Trigger, req.CreatedBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.deps.Snapshots.ListVersions(r.Context(), entityParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) latestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Snapshots.Latest(r.Context(), entityParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "version")
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.writeError(w, r, errs.ValidationField("version", "version must be an integer, got %q", raw))
		return
	}
	snap, err := s.deps.Snapshots.Get(r.Context(), entityParam(r), version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) compareSnapshots(w http.ResponseWriter, r *http.Request) {
	from, err := int64Query(r, "from", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := int64Query(r, "to", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	diff, err := s.deps.Snapshots.Compare(r.Context(), entityParam(r), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}
