package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

// ExportFormat is a supported export encoding.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
	ExportCBOR ExportFormat = "cbor"
)

// ExportFormatVersion is bumped whenever the document layout changes.
const ExportFormatVersion = 1

// ParseExportFormat validates a format name.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(s); f {
	case ExportJSON, ExportCSV, ExportCBOR:
		return f, nil
	default:
		return "", errs.ValidationField("format", "unsupported export format %q (json, csv, cbor)", s)
	}
}

// Segment is a run of consecutive sequences. AnchorChecksum is the previous
// checksum of the first event, which lets the segment be re-verified
// without access to the rest of the chain.
type Segment struct {
	FirstSequence  int64              `json:"first_sequence"`
	LastSequence   int64              `json:"last_sequence"`
	AnchorChecksum string             `json:"anchor_checksum"`
	Events         []model.AuditEvent `json:"events"`
}

// ExportDocument is the self-describing export layout.
type ExportDocument struct {
	FormatVersion   int               `json:"format_version"`
	HashAlgorithm   string            `json:"hash_algorithm"`
	HashDomain      string            `json:"hash_domain"`
	GenesisChecksum string            `json:"genesis_checksum"`
	GeneratedAt     time.Time         `json:"generated_at"`
	Filter          model.EventFilter `json:"filter"`
	EventCount      int               `json:"event_count"`
	Segments        []Segment         `json:"segments"`
}

// BuildExport collects the events matching f into an ExportDocument.
func (s *Service) BuildExport(ctx context.Context, f model.EventFilter) (*ExportDocument, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	segments := Segments(events)
	for i := range segments {
		anchor, verified, err := s.AnchorFor(ctx, segments[i].FirstSequence)
		if err != nil {
			return nil, fmt.Errorf("export: %w", err)
		}
		if !verified {
			anchor = ""
		}
		segments[i].AnchorChecksum = anchor
	}
	return &ExportDocument{
		FormatVersion:   ExportFormatVersion,
		HashAlgorithm:   HashAlgorithm,
		HashDomain:      HashDomain,
		GenesisChecksum: GenesisChecksum,
		GeneratedAt:     s.now().UTC(),
		Filter:          f,
		EventCount:      len(events),
		Segments:        segments,
	}, nil
}

// Export renders the events matching f in the requested format.
func (s *Service) Export(ctx context.Context, f model.EventFilter, format ExportFormat) ([]byte, error) {
	if _, err := ParseExportFormat(string(format)); err != nil {
		return nil, err
	}
	doc, err := s.BuildExport(ctx, f)
	if err != nil {
		return nil, err
	}
	return EncodeExport(doc, format)
}

// Segments splits sorted events into runs of consecutive sequences. Each
// anchor is the first event's own previous checksum; BuildExport replaces
// it with the ledger's stored checksum of the event before.
func Segments(events []model.AuditEvent) []Segment {
	segments := []Segment{}
	for _, ev := range events {
		n := len(segments)
		if n > 0 && segments[n-1].LastSequence+1 == ev.Sequence {
			segments[n-1].Events = append(segments[n-1].Events, ev)
			segments[n-1].LastSequence = ev.Sequence
			continue
		}
		segments = append(segments, Segment{
			FirstSequence:  ev.Sequence,
			LastSequence:   ev.Sequence,
			AnchorChecksum: ev.PreviousChecksum,
			Events:         []model.AuditEvent{ev},
		})
	}
	return segments
}

// VerifyExport re-verifies every segment of an export offline. A segment
// starting at sequence 1 is always checked against the genesis checksum,
// whatever anchor it carries. An empty anchor skips the segment's first link.
func VerifyExport(doc *ExportDocument) []Mismatch {
	findings := []Mismatch{}
	for _, seg := range doc.Segments {
		anchor := seg.AnchorChecksum
		if seg.FirstSequence == 1 {
			anchor = GenesisChecksum
		}
		findings = append(findings, VerifyChain(seg.Events, seg.FirstSequence, anchor)...)
		if n := len(seg.Events); n > 0 && seg.Events[n-1].Sequence != seg.LastSequence {
			findings = append(findings, Mismatch{
				Sequence: seg.LastSequence,
				Reason:   ReasonSequenceGap,
				Expected: strconv.FormatInt(seg.LastSequence, 10),
				Actual:   strconv.FormatInt(seg.Events[n-1].Sequence, 10),
			})
		}
	}
	return findings
}

// EncodeExport renders doc in format.
func EncodeExport(doc *ExportDocument, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode json export: %w", err)
		}
		return buf.Bytes(), nil
	case ExportCSV:
		return encodeCSV(doc)
	case ExportCBOR:
		return encodeCBOR(doc)
	default:
		return nil, errs.ValidationField("format", "unsupported export format %q", format)
	}
}

// DecodeExport parses an export produced by EncodeExport. CSV carries
// events plus each row's segment anchor, so the rest of the document
// metadata is rebuilt from them.
func DecodeExport(data []byte, format ExportFormat) (*ExportDocument, error) {
	switch format {
	case ExportJSON:
		var doc ExportDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode json export: %w", err)
		}
		return &doc, nil
	case ExportCSV:
		return decodeCSV(data)
	case ExportCBOR:
		return decodeCBOR(data)
	default:
		return nil, errs.ValidationField("format", "unsupported export format %q", format)
	}
}

// ============================================================================
// CSV
// ============================================================================

var csvHeader = []string{
	"segment",
	"sequence",
	"entity_type",
	"entity_id",
	"actor_id",
	"action",
	"timestamp",
	"old_values",
	"new_values",
	"ip_address",
	"device",
	"location",
	"reason",
	"previous_checksum",
	"checksum",
	"anchor_checksum",
}

func encodeCSV(doc *ExportDocument) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for i, seg := range doc.Segments {
		for _, ev := range seg.Events {
			oldJSON, err := canon.Marshal(orEmpty(ev.OldValues))
			if err != nil {
				return nil, fmt.Errorf("csv event %d: %w", ev.Sequence, err)
			}
			newJSON, err := canon.Marshal(orEmpty(ev.NewValues))
			if err != nil {
				return nil, fmt.Errorf("csv event %d: %w", ev.Sequence, err)
			}
			row := []string{
				strconv.Itoa(i + 1),
				strconv.FormatInt(ev.Sequence, 10),
				ev.EntityType,
				ev.EntityID,
				ev.ActorID,
				string(ev.Action),
				ev.Timestamp.UTC().Format(time.RFC3339Nano),
				string(oldJSON),
				string(newJSON),
				ev.Context.IP,
				ev.Context.Device,
				ev.Context.Location,
				ev.Context.Reason,
				ev.PreviousChecksum,
				ev.Checksum,
				seg.AnchorChecksum,
			}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("write csv row: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeCSV(data []byte) (*ExportDocument, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(csvHeader)

	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var events []model.AuditEvent
	anchors := map[int64]string{}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}

		seq, err := strconv.ParseInt(row[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("csv sequence %q: %w", row[1], err)
		}
		ts, err := time.Parse(time.RFC3339Nano, row[6])
		if err != nil {
			return nil, fmt.Errorf("csv event %d timestamp: %w", seq, err)
		}
		oldValues, err := canon.ParseObject([]byte(row[7]))
		if err != nil {
			return nil, fmt.Errorf("csv event %d old_values: %w", seq, err)
		}
		newValues, err := canon.ParseObject([]byte(row[8]))
		if err != nil {
			return nil, fmt.Errorf("csv event %d new_values: %w", seq, err)
		}

		events = append(events, model.AuditEvent{
			Sequence:   seq,
			EntityType: row[2],
			EntityID:   row[3],
			ActorID:    row[4],
			Action:     model.Action(row[5]),
			Timestamp:  ts.UTC(),
			OldValues:  oldValues,
			NewValues:  newValues,
			Context: model.EventContext{
				IP:       row[9],
				Device:   row[10],
				Location: row[11],
				Reason:   row[12],
			},
			PreviousChecksum: row[13],
			Checksum:         row[14],
		})
		anchors[seq] = row[15]
	}

	segments := Segments(events)
	for i := range segments {
		segments[i].AnchorChecksum = anchors[segments[i].FirstSequence]
	}

	return &ExportDocument{
		FormatVersion:   ExportFormatVersion,
		HashAlgorithm:   HashAlgorithm,
		HashDomain:      HashDomain,
		GenesisChecksum: GenesisChecksum,
		EventCount:      len(events),
		Segments:        segments,
	}, nil
}

// ============================================================================
// CBOR
// ============================================================================

type cborDocument struct {
	FormatVersion   int            `cbor:"format_version"`
	HashAlgorithm   string         `cbor:"hash_algorithm"`
	HashDomain      string         `cbor:"hash_domain"`
	GenesisChecksum string         `cbor:"genesis_checksum"`
	GeneratedAt     string         `cbor:"generated_at"`
	Filter          map[string]any `cbor:"filter"`
	EventCount      int            `cbor:"event_count"`
	Segments        []cborSegment  `cbor:"segments"`
}

type cborSegment struct {
	FirstSequence  int64       `cbor:"first_sequence"`
	LastSequence   int64       `cbor:"last_sequence"`
	AnchorChecksum string      `cbor:"anchor_checksum"`
	Events         []cborEvent `cbor:"events"`
}

type cborEvent struct {
	Sequence         int64          `cbor:"sequence"`
	EntityType       string         `cbor:"entity_type"`
	EntityID         string         `cbor:"entity_id"`
	ActorID          string         `cbor:"actor_id"`
	Action           string         `cbor:"action"`
	Timestamp        string         `cbor:"timestamp"`
	OldValues        map[string]any `cbor:"old_values"`
	NewValues        map[string]any `cbor:"new_values"`
	IP               string         `cbor:"ip_address"`
	Device           string         `cbor:"device"`
	Location         string         `cbor:"location"`
	Reason           string         `cbor:"reason"`
	Checksum         string         `cbor:"checksum"`
	PreviousChecksum string         `cbor:"previous_checksum"`
}

var cborEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

var cborDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

func encodeCBOR(doc *ExportDocument) ([]byte, error) {
	filter, err := filterMap(doc.Filter)
	if err != nil {
		return nil, err
	}

	out := cborDocument{
		FormatVersion:   doc.FormatVersion,
		HashAlgorithm:   doc.HashAlgorithm,
		HashDomain:      doc.HashDomain,
		GenesisChecksum: doc.GenesisChecksum,
		GeneratedAt:     doc.GeneratedAt.UTC().Format(time.RFC3339Nano),
		Filter:          filter,
		EventCount:      doc.EventCount,
		Segments:        make([]cborSegment, len(doc.Segments)),
	}
	for i, seg := range doc.Segments {
		cs := cborSegment{
			FirstSequence:  seg.FirstSequence,
			LastSequence:   seg.LastSequence,
			AnchorChecksum: seg.AnchorChecksum,
			Events:         make([]cborEvent, len(seg.Events)),
		}
		for j, ev := range seg.Events {
			cs.Events[j] = cborEvent{
				Sequence:         ev.Sequence,
				EntityType:       ev.EntityType,
				EntityID:         ev.EntityID,
				ActorID:          ev.ActorID,
				Action:           string(ev.Action),
				Timestamp:        ev.Timestamp.UTC().Format(time.RFC3339Nano),
				OldValues:        toPlainMap(ev.OldValues),
				NewValues:        toPlainMap(ev.NewValues),
				IP:               ev.Context.IP,
				Device:           ev.Context.Device,
				Location:         ev.Context.Location,
				Reason:           ev.Context.Reason,
				Checksum:         ev.Checksum,
				PreviousChecksum: ev.PreviousChecksum,
			}
		}
		out.Segments[i] = cs
	}

	data, err := cborEncMode.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode cbor export: %w", err)
	}
	return data, nil
}

func decodeCBOR(data []byte) (*ExportDocument, error) {
	var in cborDocument
	if err := cborDecMode.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode cbor export: %w", err)
	}

	generated, err := time.Parse(time.RFC3339Nano, in.GeneratedAt)
	if err != nil {
		return nil, fmt.Errorf("cbor generated_at: %w", err)
	}

	var filter model.EventFilter
	if len(in.Filter) > 0 {
		raw, err := json.Marshal(in.Filter)
		if err != nil {
			return nil, fmt.Errorf("cbor filter: %w", err)
		}
		if err := json.Unmarshal(raw, &filter); err != nil {
			return nil, fmt.Errorf("cbor filter: %w", err)
		}
	}

	doc := &ExportDocument{
		FormatVersion:   in.FormatVersion,
		HashAlgorithm:   in.HashAlgorithm,
		HashDomain:      in.HashDomain,
		GenesisChecksum: in.GenesisChecksum,
		GeneratedAt:     generated.UTC(),
		Filter:          filter,
		EventCount:      in.EventCount,
		Segments:        make([]Segment, len(in.Segments)),
	}
	for i, cs := range in.Segments {
		seg := Segment{
			FirstSequence:  cs.FirstSequence,
			LastSequence:   cs.LastSequence,
			AnchorChecksum: cs.AnchorChecksum,
			Events:         make([]model.AuditEvent, len(cs.Events)),
		}
		for j, ce := range cs.Events {
			ts, err := time.Parse(time.RFC3339Nano, ce.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("cbor event %d timestamp: %w", ce.Sequence, err)
			}
			oldValues, err := canon.ObjectFromMap(ce.OldValues)
			if err != nil {
				return nil, fmt.Errorf("cbor event %d old_values: %w", ce.Sequence, err)
			}
			newValues, err := canon.ObjectFromMap(ce.NewValues)
			if err != nil {
				return nil, fmt.Errorf("cbor event %d new_values: %w", ce.Sequence, err)
			}
			seg.Events[j] = model.AuditEvent{
				Sequence:   ce.Sequence,
				EntityType: ce.EntityType,
				EntityID:   ce.EntityID,
				ActorID:    ce.ActorID,
				Action:     model.Action(ce.Action),
				Timestamp:  ts.UTC(),
				OldValues:  oldValues,
				NewValues:  newValues,
				Context: model.EventContext{
					IP:       ce.IP,
					Device:   ce.Device,
					Location: ce.Location,
					Reason:   ce.Reason,
				},
				Checksum:         ce.Checksum,
				PreviousChecksum: ce.PreviousChecksum,
			}
		}
		doc.Segments[i] = seg
	}
	return doc, nil
}

func toPlainMap(obj canon.Object) map[string]any {
	m, _ := canon.ToAny(orEmpty(obj)).(map[string]any)
	return m
}

func filterMap(f model.EventFilter) (map[string]any, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	return m, nil
}
