package model

import (
	"fmt"
	"strings"
)

// EntityRef identifies a business entity by type and id.
type EntityRef struct {
	Type string `json:"entity_type" yaml:"type"`
	ID   string `json:"entity_id" yaml:"id"`
}

// Ref builds an EntityRef.
func Ref(entityType, id string) EntityRef {
	return EntityRef{Type: entityType, ID: id}
}

// ParseRef parses "type/id". The id may itself contain slashes.
func ParseRef(s string) (EntityRef, error) {
	t, id, ok := strings.Cut(s, "/")
	if !ok || t == "" || id == "" {
		return EntityRef{}, fmt.Errorf("entity reference %q must have the form type/id", s)
	}
	return EntityRef{Type: t, ID: id}, nil
}

// String renders the reference as "type/id".
func (r EntityRef) String() string {
	return r.Type + "/" + r.ID
}

// IsZero reports whether either part is missing.
func (r EntityRef) IsZero() bool {
	return r.Type == "" || r.ID == ""
}

// Key returns a map key that cannot collide across type/id boundaries.
func (r EntityRef) Key() string {
	return r.Type + "\x00" + r.ID
}
