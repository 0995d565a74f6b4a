package concepts

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/crisref/harvest-core/internal/client"
	"github.com/crisref/harvest-core/internal/core"
)

// idRefURIPattern extracts the numeric notice code (with its optional
// X check digit) from an IdRef concept URI.
var idRefURIPattern = regexp.MustCompile(`^https?://www\.idref\.fr/(\d+X?)/id$`)

// IdRefURI returns the canonical URI of an IdRef concept code.
func IdRefURI(code string) string {
	return fmt.Sprintf("http://www.idref.fr/%s/id", code)
}

// IdRefSolver dereferences IdRef concept URIs against the RDF
// representation published at idref.fr.
type IdRefSolver struct {
	client *client.Client
}

var _ Solver = (*IdRefSolver)(nil)

// NewIdRefSolver builds a solver over the IdRef RDF endpoint
// (https://www.idref.fr in production).
func NewIdRefSolver(baseURL string, timeout time.Duration) *IdRefSolver {
	return &IdRefSolver{
		client: client.New(&client.Config{
			BaseURL: baseURL,
			Timeout: timeout,
		}),
	}
}

func (s *IdRefSolver) CanSolve(uri string) bool {
	return idRefURIPattern.MatchString(uri)
}

// Dereference fetches the concept RDF and collects the SKOS preferred
// and alternative labels attached to the concept subject.
func (s *IdRefSolver) Dereference(ctx context.Context, uri string) (*core.Concept, error) {
	match := idRefURIPattern.FindStringSubmatch(uri)
	if match == nil {
		return nil, &DereferencingError{URI: uri, Err: fmt.Errorf("not an idref concept uri")}
	}
	code := match[1]
	canonical := IdRefURI(code)

	resp, err := s.client.Get(ctx, fmt.Sprintf("/%s.rdf", code), nil)
	if err != nil {
		return nil, &DereferencingError{URI: uri, Err: err}
	}

	var doc rdfDocument
	if err := resp.XML(&doc); err != nil {
		return nil, &DereferencingError{URI: uri, Err: fmt.Errorf("failed to parse rdf: %w", err)}
	}

	concept := &core.Concept{URI: canonical}
	for _, node := range doc.Nodes {
		if node.About != canonical {
			continue
		}
		for _, label := range node.PrefLabels {
			concept.AddLabel(label.Value, label.Lang, true)
		}
		for _, label := range node.AltLabels {
			concept.AddLabel(label.Value, label.Lang, false)
		}
	}
	return concept, nil
}

// rdfDocument captures the subset of an RDF/XML document the solvers
// need: every subject node with its SKOS labels.
type rdfDocument struct {
	Nodes []rdfNode `xml:",any"`
}

type rdfNode struct {
	About      string     `xml:"about,attr"`
	PrefLabels []rdfLabel `xml:"prefLabel"`
	AltLabels  []rdfLabel `xml:"altLabel"`
}

type rdfLabel struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}
