package cli

import (
	"strings"
	"time"

	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

func parseRef(s string) (model.EntityRef, error) {
	ref, err := model.ParseRef(s)
	if err != nil {
		return model.EntityRef{}, errs.Validation("%v", err)
	}
	return ref, nil
}

// parseNode parses "type/id@stage".
func parseNode(s string) (model.LineageNode, error) {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return model.LineageNode{}, errs.Validation("lineage node %q must have the form type/id@stage", s)
	}
	ref, err := parseRef(s[:at])
	if err != nil {
		return model.LineageNode{}, err
	}
	return model.LineageNode{EntityType: ref.Type, EntityID: ref.ID, Stage: model.Stage(s[at+1:])}, nil
}

// parseObject parses a JSON object flag. An empty string yields nil.
func parseObject(flag, raw string) (canon.Object, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	obj, err := canon.ParseObject([]byte(raw))
	if err != nil {
		return nil, errs.ValidationField(flag, "--%s must be a JSON object: %v", flag, err)
	}
	return obj, nil
}

// parseTime parses an RFC 3339 flag. An empty string yields nil.
func parseTime(flag, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, errs.ValidationField(flag, "--%s must be an RFC 3339 timestamp, got %q", flag, raw)
	}
	return &t, nil
}
