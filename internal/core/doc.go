// Package core provides the shared domain model for reference
// harvesting. These models are implementation-agnostic and are
// consumed by the harvester adapters, the store and the broker alike.
//
// Structure:
//
//	entity.go     - Entity, Identifier, person construction rules
//	reference.go  - Reference and its owned sub-structures
//	contributor.go- Contributor, Contribution, external identifiers
//	ancillary.go  - Concept, Organization, Journal, Issue, Book, DocumentType
//	retrieval.go  - Retrieval, Harvesting lifecycle, ReferenceEvent
//	errors.go     - Coded error vocabulary
package core
