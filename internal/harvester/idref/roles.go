package idref

import (
	"strings"

	"github.com/crisref/harvest-core/internal/core"
)

const thesisRolePrefix = "http://www.abes.fr/vocabularies/theses/roles/"

// Thesis roles from the ABES vocabulary mapped to MARC relator codes.
var thesisRoles = map[string]string{
	"directeurThese": "ths",
	"presidentJury":  "pra",
	"rapporteur":     "opn",
	"membreJury":     "oth",
}

// convertRole normalises a contributor role URI to a LOC relator URL.
// LOC relator URIs pass through; ABES thesis roles are translated;
// anything else maps to the unknown role.
func convertRole(roleURI string) string {
	if roleURI == "" {
		return core.RoleUnknown
	}
	if code, ok := strings.CutPrefix(roleURI, thesisRolePrefix); ok {
		if relator, known := thesisRoles[code]; known {
			return core.RelatorURL(relator)
		}
		return core.RoleUnknown
	}
	if code, ok := strings.CutPrefix(roleURI, "http://id.loc.gov/vocabulary/relators/"); ok {
		return core.RelatorURL(code)
	}
	return core.RoleUnknown
}
