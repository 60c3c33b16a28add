// Package fixtures loads YAML seed documents and replays them through the
// ledger services. Seeding goes through the same validation and continuity
// checks as live traffic.
package fixtures

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/model"
)

// Document is one seed file.
type Document struct {
	// Name identifies the document in logs and summaries.
	Name string `yaml:"name"`

	// Description explains what the seed sets up.
	Description string `yaml:"description,omitempty"`

	Events       []Event       `yaml:"events,omitempty"`
	Links        []Link        `yaml:"links,omitempty"`
	Lineage      []Lineage     `yaml:"lineage,omitempty"`
	Requirements []Requirement `yaml:"requirements,omitempty"`
	Custody      []Custody     `yaml:"custody,omitempty"`
	Snapshots    []Snapshot    `yaml:"snapshots,omitempty"`
}

// Event is an audit event to append.
type Event struct {
	Entity    model.EntityRef `yaml:"entity"`
	Actor     string          `yaml:"actor"`
	Action    model.Action    `yaml:"action"`
	OldValues map[string]any  `yaml:"old_values,omitempty"`
	NewValues map[string]any  `yaml:"new_values,omitempty"`
	Reason    string          `yaml:"reason"`
	IPAddress string          `yaml:"ip_address,omitempty"`
	Device    string          `yaml:"device,omitempty"`
	Location  string          `yaml:"location,omitempty"`
	Timestamp time.Time       `yaml:"timestamp,omitempty"`
}

// Link is a traceability link to create.
type Link struct {
	Source      model.EntityRef `yaml:"source"`
	Target      model.EntityRef `yaml:"target"`
	Type        model.LinkType  `yaml:"type"`
	Description string          `yaml:"description,omitempty"`
	CreatedBy   string          `yaml:"created_by"`
}

// Lineage is a transformation to record.
type Lineage struct {
	Source         model.LineageNode      `yaml:"source"`
	Target         model.LineageNode      `yaml:"target"`
	Transformation string                 `yaml:"transformation"`
	Logic          string                 `yaml:"logic,omitempty"`
	Quality        float64                `yaml:"quality"`
	Status         model.ValidationStatus `yaml:"status,omitempty"`
	Timestamp      time.Time              `yaml:"timestamp,omitempty"`
}

// Requirement is a requirement to create, with its evidence.
type Requirement struct {
	Number   string         `yaml:"number"`
	Title    string         `yaml:"title"`
	Source   string         `yaml:"source,omitempty"`
	Category string         `yaml:"category"`
	Priority model.Priority `yaml:"priority"`
	Evidence []Evidence     `yaml:"evidence,omitempty"`
}

// Evidence links an entity to the enclosing requirement.
type Evidence struct {
	Entity model.EntityRef `yaml:"entity"`
	Method string          `yaml:"method"`
}

// Custody is a custody event to record.
type Custody struct {
	Entity          model.EntityRef        `yaml:"entity"`
	Identifier      string                 `yaml:"identifier"`
	EventType       model.CustodyEventType `yaml:"event_type"`
	FromActor       string                 `yaml:"from_actor,omitempty"`
	ToActor         string                 `yaml:"to_actor"`
	FromLocation    string                 `yaml:"from_location,omitempty"`
	ToLocation      string                 `yaml:"to_location"`
	ConditionBefore string                 `yaml:"condition_before,omitempty"`
	ConditionAfter  string                 `yaml:"condition_after,omitempty"`
	IntegrityCheck  bool                   `yaml:"integrity_check"`
	Timestamp       time.Time              `yaml:"timestamp,omitempty"`
}

// Snapshot is a snapshot to create.
type Snapshot struct {
	Entity    model.EntityRef `yaml:"entity"`
	Data      map[string]any  `yaml:"data"`
	Trigger   string          `yaml:"trigger"`
	CreatedBy string          `yaml:"created_by"`
}

// Load reads and parses a seed file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a seed document. Unknown fields are rejected so typos do not
// silently drop records.
func Parse(data []byte) (*Document, error) {
	var doc Document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateDocument(&doc); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &doc, nil
}

// Records is the total number of records the document seeds, evidence
// included.
func (d *Document) Records() int {
	n := len(d.Events) + len(d.Links) + len(d.Lineage) + len(d.Requirements) + len(d.Custody) + len(d.Snapshots)
	for _, r := range d.Requirements {
		n += len(r.Evidence)
	}
	return n
}

// validateDocument checks the structure only. Field-level rules belong to
// the services the records are replayed through.
func validateDocument(d *Document) error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if d.Records() == 0 {
		return fmt.Errorf("document %q seeds nothing", d.Name)
	}
	for i, e := range d.Events {
		if e.Entity.IsZero() {
			return fmt.Errorf("events[%d]: entity type and id are required", i)
		}
	}
	for i, c := range d.Custody {
		if c.Entity.IsZero() {
			return fmt.Errorf("custody[%d]: entity type and id are required", i)
		}
	}
	for i, s := range d.Snapshots {
		if s.Entity.IsZero() {
			return fmt.Errorf("snapshots[%d]: entity type and id are required", i)
		}
	}
	return nil
}

// toObject converts YAML-decoded values. Timestamps yaml.v3 resolves
// implicitly are kept as RFC 3339 strings.
func toObject(m map[string]any) (canon.Object, error) {
	if m == nil {
		return nil, nil
	}
	return canon.ObjectFromMap(normalize(m).(map[string]any))
}

func normalize(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalize(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalize(elem)
		}
		return out
	default:
		return v
	}
}
