package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// ENTITIES & IDENTIFIERS
// =============================================================================

// EntityTypePerson is the only entity variant currently harvested.
const EntityTypePerson = "person"

// Identifier is an external identifier attached to an entity,
// unique on (type, value).
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Entity is the subject of a retrieval. For a person it carries the
// display name and the set of external identifiers the harvesters
// match against.
type Entity struct {
	ID          uuid.UUID    `json:"id"`
	Type        string       `json:"type"`
	Name        string       `json:"name"`
	FirstName   string       `json:"first_name,omitempty"`
	LastName    string       `json:"last_name,omitempty"`
	Identifiers []Identifier `json:"identifiers"`
}

// NewPerson builds a person entity from inbound fields. Identifier
// types outside the allowed set are rejected; a person is valid with
// at least one identifier or a full first+last name.
func NewPerson(firstName, lastName string, identifiers []Identifier, allowedTypes []string) (*Entity, error) {
	for _, id := range identifiers {
		if strings.TrimSpace(id.Type) == "" {
			return nil, &Error{Code: CodeInvalidEntity, Err: fmt.Errorf("identifier with empty type")}
		}
		if strings.TrimSpace(id.Value) == "" {
			return nil, &Error{Code: CodeInvalidEntity, Err: fmt.Errorf("empty value for identifier %q", id.Type)}
		}
		if !containsString(allowedTypes, id.Type) {
			return nil, &Error{Code: CodeInvalidEntity, Err: fmt.Errorf("unknown identifier type %q", id.Type)}
		}
	}
	if len(identifiers) == 0 && (strings.TrimSpace(firstName) == "" || strings.TrimSpace(lastName) == "") {
		return nil, &Error{Code: CodeInvalidEntity, Err: fmt.Errorf("a person requires at least one identifier or a full name")}
	}
	name := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	return &Entity{
		ID:          uuid.New(),
		Type:        EntityTypePerson,
		Name:        name,
		FirstName:   strings.TrimSpace(firstName),
		LastName:    strings.TrimSpace(lastName),
		Identifiers: identifiers,
	}, nil
}

// IdentifierValue returns the value for the given identifier type, or
// the empty string when the entity does not carry one.
func (e *Entity) IdentifierValue(idType string) string {
	for _, id := range e.Identifiers {
		if id.Type == idType {
			return id.Value
		}
	}
	return ""
}

// HasIdentifier reports whether the entity carries an identifier of
// the given type.
func (e *Entity) HasIdentifier(idType string) bool {
	return e.IdentifierValue(idType) != ""
}

// WithoutIdentifiers returns a shallow copy of the entity with the
// listed identifier types removed. Used by the nullify retrieval
// option.
func (e *Entity) WithoutIdentifiers(types []string) *Entity {
	if len(types) == 0 {
		return e
	}
	clone := *e
	clone.Identifiers = make([]Identifier, 0, len(e.Identifiers))
	for _, id := range e.Identifiers {
		if !containsString(types, id.Type) {
			clone.Identifiers = append(clone.Identifiers, id)
		}
	}
	return &clone
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
