// Package broker connects the service to the AMQP topic exchange: it
// consumes retrieval requests through a backpressured worker pool and
// publishes retrieval, harvesting and reference events back.
package broker

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/retrieval"
)

var validate = validator.New()

// PersonFields is the inbound person description.
type PersonFields struct {
	FirstName   string            `json:"first_name"`
	LastName    string            `json:"last_name"`
	Identifiers []core.Identifier `json:"identifiers"`
}

// InboundMessage is the decoded retrieval request. The identifier
// types are checked later against the configured set; the struct
// validation only covers the message shape.
type InboundMessage struct {
	Type                string       `json:"type" validate:"required,oneof=person"`
	Fields              PersonFields `json:"fields"`
	Reply               bool         `json:"reply"`
	Nullify             []string     `json:"nullify"`
	IdentifiersSafeMode bool         `json:"identifiers_safe_mode"`
	Harvesters          []string     `json:"harvesters"`
	Events              []string     `json:"events" validate:"dive,oneof=created updated unchanged deleted"`
}

// DecodeMessage parses and validates one inbound message body.
func DecodeMessage(raw []byte) (*InboundMessage, error) {
	msg := &InboundMessage{}
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, core.WrapError(core.CodeMessageDecode, false, err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, core.WrapError(core.CodeMessageDecode, false, err)
	}
	return msg, nil
}

// Person builds the entity described by the message, rejecting
// identifier types outside the configured set.
func (m *InboundMessage) Person(allowedTypes []string) (*core.Entity, error) {
	return core.NewPerson(m.Fields.FirstName, m.Fields.LastName, m.Fields.Identifiers, allowedTypes)
}

// HasIdentifiers reports whether the message carries any identifier.
func (m *InboundMessage) HasIdentifiers() bool {
	return len(m.Fields.Identifiers) > 0
}

// Options maps the message flags to retrieval options.
func (m *InboundMessage) Options() retrieval.Options {
	return retrieval.Options{
		IdentifiersSafeMode: m.IdentifiersSafeMode,
		Nullify:             m.Nullify,
		Harvesters:          m.Harvesters,
		Events:              m.Events,
	}
}
