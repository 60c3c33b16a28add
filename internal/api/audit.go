package api

import (
	"net/http"
	"time"

	"github.com/roach88/traceledger/internal/audit"
	"github.com/roach88/traceledger/internal/integrity"
	"github.com/roach88/traceledger/internal/model"
)

// Verification statuses.
const (
	statusOK        = "ok"
	statusViolation = "violation"
)

type verifyResponse struct {
	Status   string              `json:"status"`
	From     int64               `json:"from"`
	To       int64               `json:"to"`
	Checked  int                 `json:"checked"`
	Findings []integrity.Finding `json:"findings"`
}

var exportContentTypes = map[audit.ExportFormat]string{
	audit.ExportJSON: "application/json",
	audit.ExportCSV:  "text/csv",
	audit.ExportCBOR: "application/cbor",
}

func (s *Server) appendEvent(w http.ResponseWriter, r *http.Request) {
	var req audit.AppendRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ev, err := s.deps.Audit.Append(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func eventFilter(r *http.Request) (model.EventFilter, error) {
	q := r.URL.Query()
	f := model.EventFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
		Action:     model.Action(q.Get("action")),
	}
	var err error
	if f.Since, err = timeQuery(r, "since"); err != nil {
		return f, err
	}
	if f.Until, err = timeQuery(r, "until"); err != nil {
		return f, err
	}
	if f.FromSeq, err = int64Query(r, "from_sequence", 0); err != nil {
		return f, err
	}
	if f.ToSeq, err = int64Query(r, "to_sequence", 0); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) searchEvents(w http.ResponseWriter, r *http.Request) {
	f, err := eventFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var p model.Page
	if p.Limit, err = intQuery(r, "limit", 0); err != nil {
		s.writeError(w, r, err)
		return
	}
	if p.Offset, err = intQuery(r, "offset", 0); err != nil {
		s.writeError(w, r, err)
		return
	}
	p.Ascending = r.URL.Query().Get("order") == "asc"

	page, err := s.deps.Audit.Search(r.Context(), f, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// verify checks [from, to] and escalates findings through the verifier's
// sinks. Violations are a successful response with status "violation".
func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	from, err := int64Query(r, "from", 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := int64Query(r, "to", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	report, err := s.deps.Verifier.VerifyRange(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := verifyResponse{
		Status:   statusOK,
		From:     report.From,
		To:       report.To,
		Checked:  report.Checked,
		Findings: report.Findings,
	}
	if !report.Clean() {
		resp.Status = statusViolation
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	format := audit.ExportJSON
	if raw := r.URL.Query().Get("format"); raw != "" {
		var err error
		if format, err = audit.ParseExportFormat(raw); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	f, err := eventFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	data, err := s.deps.Audit.Export(r.Context(), f, format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", exportContentTypes[format])
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.`+string(format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) reconstruct(w http.ResponseWriter, r *http.Request) {
	at, err := timeQuery(r, "at")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var asOf time.Time
	if at != nil {
		asOf = *at
	}
	state, err := s.deps.Audit.ReconstructState(r.Context(), entityParam(r), asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Audit.History(r.Context(), entityParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
