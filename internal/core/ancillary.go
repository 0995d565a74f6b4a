package core

import "strings"

// =============================================================================
// RECONCILED ANCILLARY ENTITIES
// =============================================================================
// Concepts, document types, organizations, journals, issues and books
// are shared across references and across harvesters. They are written
// through get-or-create reconciliation rather than owned by any single
// reference row.

// Label is a language-tagged string attached to a concept. Preferred
// marks SKOS prefLabel values.
type Label struct {
	Value     string `json:"value"`
	Language  string `json:"language,omitempty"`
	Preferred bool   `json:"preferred"`
}

// Concept is a subject keyword, either a dereferenceable URI concept
// or a free label without URI.
type Concept struct {
	ID     int64    `json:"-"`
	URI    string   `json:"uri,omitempty"`
	Labels []*Label `json:"labels,omitempty"`
	// Dereferenced marks URI concepts whose labels were fetched from
	// the authority. Stub concepts keep it false so a later pass can
	// complete them.
	Dereferenced bool `json:"-"`
}

// PrefLabel returns the first preferred label value, falling back to
// the first label of any kind.
func (c *Concept) PrefLabel() string {
	for _, l := range c.Labels {
		if l.Preferred {
			return l.Value
		}
	}
	if len(c.Labels) > 0 {
		return c.Labels[0].Value
	}
	return ""
}

// MarkPreferred re-marks the preferred flag according to an ordered
// language preference. The first language carrying at least one label
// wins; within it a label already flagged by the authority is kept,
// otherwise the first label in that language takes the flag. When no
// listed language matches, the authority's flags stand.
func (c *Concept) MarkPreferred(languages []string) {
	for _, lang := range languages {
		var pick *Label
		for _, l := range c.Labels {
			if l.Language != lang {
				continue
			}
			if pick == nil || (l.Preferred && !pick.Preferred) {
				pick = l
			}
		}
		if pick == nil {
			continue
		}
		for _, l := range c.Labels {
			l.Preferred = l == pick
		}
		return
	}
}

// AddLabel appends a label unless an identical one is already present.
func (c *Concept) AddLabel(value, language string, preferred bool) {
	for _, l := range c.Labels {
		if l.Value == value && l.Language == language && l.Preferred == preferred {
			return
		}
	}
	c.Labels = append(c.Labels, &Label{Value: value, Language: language, Preferred: preferred})
}

// DocumentType is a controlled publication type identified by URI.
type DocumentType struct {
	ID    int64  `json:"-"`
	URI   string `json:"uri"`
	Label string `json:"label"`
}

// OrganizationIdentifier attaches an external identifier (ror, idref,
// rnsr, ...) to an organization.
type OrganizationIdentifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Organization is an affiliation structure reconciled across sources:
// two records sharing any identifier denote the same organization and
// are merged, the record carrying more identifiers winning.
type Organization struct {
	ID               int64                    `json:"-"`
	Source           string                   `json:"source"`
	SourceIdentifier string                   `json:"source_identifier,omitempty"`
	Name             string                   `json:"name"`
	Type             string                   `json:"type,omitempty"`
	Identifiers      []OrganizationIdentifier `json:"identifiers,omitempty"`
}

// SharesIdentifier reports whether o and other carry at least one
// identical (type, value) identifier.
func (o *Organization) SharesIdentifier(other *Organization) bool {
	for _, a := range o.Identifiers {
		for _, b := range other.Identifiers {
			if a.Type == b.Type && a.Value == b.Value {
				return true
			}
		}
	}
	return false
}

// MergeIdentifiers adds identifiers from other that o does not carry
// and reports the ones added.
func (o *Organization) MergeIdentifiers(other *Organization) []OrganizationIdentifier {
	var added []OrganizationIdentifier
	for _, cand := range other.Identifiers {
		present := false
		for _, own := range o.Identifiers {
			if own.Type == cand.Type && own.Value == cand.Value {
				present = true
				break
			}
		}
		if !present {
			o.Identifiers = append(o.Identifiers, cand)
			added = append(added, cand)
		}
	}
	return added
}

// Journal is a serial publication venue, matched by ISSN family first
// and by (source, source_identifier) as a fallback.
type Journal struct {
	ID               int64    `json:"-"`
	Source           string   `json:"source"`
	SourceIdentifier string   `json:"source_identifier,omitempty"`
	ISSN             []string `json:"issn,omitempty"`
	EISSN            []string `json:"eissn,omitempty"`
	ISSNL            string   `json:"issn_l,omitempty"`
	Publisher        string   `json:"publisher,omitempty"`
	Titles           []string `json:"titles,omitempty"`
}

// Issue is a dated issue of a journal, unique on (source,
// source_identifier).
type Issue struct {
	ID               int64    `json:"-"`
	Source           string   `json:"source"`
	SourceIdentifier string   `json:"source_identifier"`
	Volume           string   `json:"volume,omitempty"`
	Number           []string `json:"number,omitempty"`
	Rights           string   `json:"rights,omitempty"`
	Date             string   `json:"date,omitempty"`
	Journal          *Journal `json:"journal,omitempty"`
}

// IssueSourceIdentifier derives the deterministic issue key from the
// journal titles, volume, number and harvester name.
func IssueSourceIdentifier(journalTitles []string, volume string, number []string, harvester string) string {
	parts := []string{normalizeKeyPart(strings.Join(journalTitles, "-")), volume, strings.Join(number, "-"), harvester}
	return strings.Join(parts, "-")
}

func normalizeKeyPart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

// Book is a monograph container, matched by ISBN first and by title as
// a fallback; a title drift on an ISBN match is kept as a variant.
type Book struct {
	ID            int64    `json:"-"`
	Source        string   `json:"source"`
	Title         string   `json:"title,omitempty"`
	TitleVariants []string `json:"title_variants,omitempty"`
	ISBN10        string   `json:"isbn10,omitempty"`
	ISBN13        string   `json:"isbn13,omitempty"`
	Publisher     string   `json:"publisher,omitempty"`
}
