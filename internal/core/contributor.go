package core

// =============================================================================
// CONTRIBUTORS & CONTRIBUTIONS
// =============================================================================

// LOC relator vocabulary, used as the role namespace on contributions.
const relatorBase = "http://id.loc.gov/vocabulary/relators/"

// RoleUnknown is assigned when a source provides no usable role.
var RoleUnknown = RelatorURL("unknown")

// RelatorURL maps a MARC relator code (AUT, EDT, ...) to its LOC
// vocabulary URL.
func RelatorURL(code string) string {
	return relatorBase + lowerASCII(code)
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// StructuredName is a (first name, last name) pair kept as a variant
// when a contributor's structured name drifts between harvests.
type StructuredName struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ExternalPersonIdentifier attaches a recognised identifier (orcid,
// idref, scopus, ...) to a contributor. Scoped to the contributor
// row, unique on (contributor, type, value).
type ExternalPersonIdentifier struct {
	ID     int64  `json:"-"`
	Type   string `json:"type"`
	Value  string `json:"value"`
	Source string `json:"source,omitempty"`
}

// ValidExternalIdentifierTypes is the closed set accepted on
// contributor external identifiers.
var ValidExternalIdentifierTypes = []string{"idref", "orcid", "id_hal_i", "id_hal_s", "scopus", "open_alex"}

// Contributor is a person in the authorship graph of references from
// one source. Uniqueness is (source, source_identifier) when the
// source identifies the person, (source, name) otherwise.
type Contributor struct {
	ID                     int64                      `json:"-"`
	Source                 string                     `json:"source"`
	SourceIdentifier       string                     `json:"source_identifier,omitempty"`
	Name                   string                     `json:"name"`
	FirstName              string                     `json:"first_name,omitempty"`
	LastName               string                     `json:"last_name,omitempty"`
	NameVariants           []string                   `json:"name_variants"`
	StructuredNameVariants []StructuredName           `json:"structured_name_variants"`
	Identifiers            []ExternalPersonIdentifier `json:"identifiers"`
}

// Contribution ties a contributor to a reference with a role and an
// optional rank. Affiliations hold the organizations attached to this
// particular contribution.
type Contribution struct {
	Contributor  *Contributor    `json:"contributor"`
	Role         string          `json:"role"`
	Rank         *int            `json:"rank,omitempty"`
	Affiliations []*Organization `json:"affiliations,omitempty"`
}
