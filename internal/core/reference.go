package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// NORMALISED REFERENCE
// =============================================================================

// Title is a reference title in a given language.
type Title struct {
	Value    string `json:"value"`
	Language string `json:"language,omitempty"`
}

// Subtitle is a secondary title in a given language.
type Subtitle struct {
	Value    string `json:"value"`
	Language string `json:"language,omitempty"`
}

// Abstract is a reference summary in a given language.
type Abstract struct {
	Value    string `json:"value"`
	Language string `json:"language,omitempty"`
}

// ReferenceIdentifier is an identifier carried by the reference
// itself (doi, pubmed, uri, ...), as opposed to entity identifiers.
type ReferenceIdentifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Manifestation is a concrete expression of the reference: a landing
// page and an optional direct download URL.
type Manifestation struct {
	Page        string `json:"page"`
	DownloadURL string `json:"download_url,omitempty"`
}

// NewManifestation validates the URLs before building a manifestation.
func NewManifestation(page, downloadURL string) (Manifestation, error) {
	if !isValidURL(page) {
		return Manifestation{}, fmt.Errorf("invalid manifestation page URL %q", page)
	}
	if downloadURL != "" && !isValidURL(downloadURL) {
		return Manifestation{}, fmt.Errorf("invalid manifestation download URL %q", downloadURL)
	}
	return Manifestation{Page: page, DownloadURL: downloadURL}, nil
}

func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Reference is a normalised publication as produced by a harvester
// adapter. A new version of the same (harvester, source_identifier)
// pair is a new row; prior versions are never mutated.
type Reference struct {
	ID               uuid.UUID             `json:"id"`
	SourceIdentifier string                `json:"source_identifier"`
	Harvester        string                `json:"harvester"`
	HarvesterVersion string                `json:"harvester_version"`
	Hash             string                `json:"hash"`
	Version          int                   `json:"version"`
	Titles           []Title               `json:"titles"`
	Subtitles        []Subtitle            `json:"subtitles"`
	Abstracts        []Abstract            `json:"abstracts"`
	Subjects         []*Concept            `json:"subjects"`
	DocumentType     []*DocumentType       `json:"document_type"`
	Contributions    []*Contribution       `json:"contributions"`
	Identifiers      []ReferenceIdentifier `json:"identifiers"`
	Manifestations   []Manifestation       `json:"manifestations"`
	Issue            *Issue                `json:"issue,omitempty"`
	Book             *Book                 `json:"book,omitempty"`
	Page             string                `json:"page,omitempty"`
	Created          *time.Time            `json:"created,omitempty"`
	Issued           *time.Time            `json:"issued,omitempty"`
	RawIssued        string                `json:"raw_issued,omitempty"`
}

// NewReference seeds a reference with the fields every adapter must
// set before conversion: identity, versioned harvester and payload
// hash. Collection fields start empty but non-nil so that a converted
// reference always satisfies Validate.
func NewReference(harvester, harvesterVersion, sourceIdentifier, hash string) *Reference {
	return &Reference{
		ID:               uuid.New(),
		SourceIdentifier: sourceIdentifier,
		Harvester:        harvester,
		HarvesterVersion: harvesterVersion,
		Hash:             hash,
		Version:          1,
		Titles:           []Title{},
		Subtitles:        []Subtitle{},
		Abstracts:        []Abstract{},
		Subjects:         []*Concept{},
		DocumentType:     []*DocumentType{},
		Contributions:    []*Contribution{},
		Identifiers:      []ReferenceIdentifier{},
		Manifestations:   []Manifestation{},
	}
}

// Validate enforces the reference invariants: a non-empty source
// identifier, a non-blank harvester, at least one title, and non-nil
// abstracts, subtitles, subjects, document types and contributions.
func (r *Reference) Validate() error {
	if r.SourceIdentifier == "" {
		return &Error{Code: CodeReferenceValidation, Err: fmt.Errorf("source identifier should be set on reference")}
	}
	var failed []string
	if len(r.Titles) == 0 {
		failed = append(failed, "titles")
	}
	if strings.TrimSpace(r.Harvester) == "" {
		failed = append(failed, "harvester")
	}
	if r.Abstracts == nil {
		failed = append(failed, "abstracts")
	}
	if r.Subtitles == nil {
		failed = append(failed, "subtitles")
	}
	if r.Subjects == nil {
		failed = append(failed, "subjects")
	}
	if r.DocumentType == nil {
		failed = append(failed, "document_type")
	}
	if r.Contributions == nil {
		failed = append(failed, "contributions")
	}
	if len(failed) > 0 {
		return &Error{
			Code: CodeReferenceValidation,
			Err: fmt.Errorf("reference %s: %s should be set on reference",
				r.SourceIdentifier, strings.Join(failed, ", ")),
		}
	}
	return nil
}
