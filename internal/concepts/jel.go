package concepts

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/crisref/harvest-core/internal/client"
	"github.com/crisref/harvest-core/internal/core"
)

const jelNamespace = "http://zbw.eu/beta/external_identifiers/jel#"

// JELURI returns the URI of a JEL classification code. Dotted codes
// keep only their last segment.
func JELURI(code string) string {
	if idx := strings.LastIndex(code, "."); idx >= 0 {
		code = code[idx+1:]
	}
	return jelNamespace + code
}

// JELSolver dereferences JEL classification URIs through a SPARQL
// proxy endpoint.
type JELSolver struct {
	client *client.Client
}

var _ Solver = (*JELSolver)(nil)

// NewJELSolver builds a solver querying the given SPARQL endpoint.
func NewJELSolver(endpoint string, timeout time.Duration) *JELSolver {
	return &JELSolver{
		client: client.New(&client.Config{
			BaseURL: endpoint,
			Timeout: timeout,
			Headers: map[string]string{"Accept": "application/sparql-results+json"},
		}),
	}
}

func (s *JELSolver) CanSolve(uri string) bool {
	return strings.HasPrefix(uri, jelNamespace)
}

// Dereference queries the SPARQL endpoint for the SKOS labels of the
// JEL concept. A concept without a preferred label is a failure.
func (s *JELSolver) Dereference(ctx context.Context, uri string) (*core.Concept, error) {
	query := fmt.Sprintf(`
	PREFIX skos: <http://www.w3.org/2004/02/skos/core#>
	SELECT ?prefLabel ?altLabel
	WHERE {
	  <%s> skos:prefLabel ?prefLabel .
	  OPTIONAL { <%s> skos:altLabel ?altLabel . }
	}`, uri, uri)

	resp, err := s.client.Get(ctx, "", url.Values{"query": {query}})
	if err != nil {
		return nil, &DereferencingError{URI: uri, Err: err}
	}

	var result sparqlResult
	if err := resp.JSON(&result); err != nil {
		return nil, &DereferencingError{URI: uri, Err: fmt.Errorf("failed to parse sparql results: %w", err)}
	}

	concept := &core.Concept{URI: uri}
	for _, binding := range result.Results.Bindings {
		if pref, ok := binding["prefLabel"]; ok {
			concept.AddLabel(pref.Value, pref.Lang, true)
		}
		if alt, ok := binding["altLabel"]; ok {
			concept.AddLabel(alt.Value, alt.Lang, false)
		}
	}
	if concept.PrefLabel() == "" {
		return nil, &DereferencingError{URI: uri, Err: fmt.Errorf("sparql endpoint returned no preferred label")}
	}
	return concept, nil
}

// sparqlResult is the application/sparql-results+json envelope.
type sparqlResult struct {
	Results struct {
		Bindings []map[string]sparqlBinding `json:"bindings"`
	} `json:"results"`
}

type sparqlBinding struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Lang  string `json:"xml:lang"`
}
