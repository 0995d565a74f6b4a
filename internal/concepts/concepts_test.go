package concepts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crisref/harvest-core/internal/core"
)

const ornithologyRDF = `<?xml version="1.0" encoding="UTF-8"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"
         xmlns:skos="http://www.w3.org/2004/02/skos/core#">
  <skos:Concept rdf:about="http://www.idref.fr/027234168/id">
    <skos:prefLabel xml:lang="fr">Ornithologie</skos:prefLabel>
    <skos:altLabel xml:lang="fr">Étude des oiseaux</skos:altLabel>
  </skos:Concept>
  <skos:Concept rdf:about="http://www.idref.fr/999999999/id">
    <skos:prefLabel xml:lang="fr">Autre concept</skos:prefLabel>
  </skos:Concept>
</rdf:RDF>`

func TestIdRefSolverCollectsSubjectLabels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/027234168.rdf" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rdf+xml")
		w.Write([]byte(ornithologyRDF))
	}))
	defer server.Close()

	solver := NewIdRefSolver(server.URL, 5*time.Second)
	concept, err := solver.Dereference(context.Background(), "https://www.idref.fr/027234168/id")
	if err != nil {
		t.Fatalf("Dereference failed: %v", err)
	}
	if concept.URI != "http://www.idref.fr/027234168/id" {
		t.Errorf("expected canonical http uri, got %s", concept.URI)
	}
	if concept.PrefLabel() != "Ornithologie" {
		t.Errorf("expected preferred label Ornithologie, got %q", concept.PrefLabel())
	}
	if len(concept.Labels) != 2 {
		t.Fatalf("expected labels of the requested subject only, got %v", concept.Labels)
	}
	if concept.Labels[1].Preferred {
		t.Error("alt label must not be preferred")
	}
}

func TestIdRefSolverRejectsForeignURI(t *testing.T) {
	solver := NewIdRefSolver("https://www.idref.fr", time.Second)
	if solver.CanSolve("http://zbw.eu/beta/external_identifiers/jel#C02") {
		t.Error("idref solver must not claim jel uris")
	}
	if !solver.CanSolve("http://www.idref.fr/027234168/id") {
		t.Error("idref solver must claim idref concept uris")
	}
}

func TestIdRefSolverWrapsEndpointFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	solver := NewIdRefSolver(server.URL, time.Second)
	_, err := solver.Dereference(context.Background(), "http://www.idref.fr/027234168/id")
	var derefErr *DereferencingError
	if !errors.As(err, &derefErr) {
		t.Fatalf("expected a DereferencingError, got %v", err)
	}
	if derefErr.URI != "http://www.idref.fr/027234168/id" {
		t.Errorf("error carries wrong uri: %s", derefErr.URI)
	}
}

func TestJELSolverParsesSparqlResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") == "" {
			http.Error(w, "missing query", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/sparql-results+json")
		w.Write([]byte(`{
			"results": {"bindings": [
				{"prefLabel": {"type": "literal", "value": "Mathematical Methods", "xml:lang": "en"}},
				{"prefLabel": {"type": "literal", "value": "Mathematical Methods", "xml:lang": "en"},
				 "altLabel": {"type": "literal", "value": "Math. methods", "xml:lang": "en"}}
			]}
		}`))
	}))
	defer server.Close()

	solver := NewJELSolver(server.URL, time.Second)
	concept, err := solver.Dereference(context.Background(), JELURI("jel.C02"))
	if err != nil {
		t.Fatalf("Dereference failed: %v", err)
	}
	if concept.URI != "http://zbw.eu/beta/external_identifiers/jel#C02" {
		t.Errorf("unexpected jel uri %s", concept.URI)
	}
	if concept.PrefLabel() != "Mathematical Methods" {
		t.Errorf("expected preferred label, got %q", concept.PrefLabel())
	}
	// The duplicated prefLabel binding must collapse to one label.
	if len(concept.Labels) != 2 {
		t.Errorf("expected 2 distinct labels, got %v", concept.Labels)
	}
}

func TestJELSolverRequiresPrefLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": {"bindings": []}}`))
	}))
	defer server.Close()

	solver := NewJELSolver(server.URL, time.Second)
	_, err := solver.Dereference(context.Background(), JELURI("C02"))
	var derefErr *DereferencingError
	if !errors.As(err, &derefErr) {
		t.Fatalf("expected a DereferencingError, got %v", err)
	}
}

type staticSolver struct {
	concept *core.Concept
}

func (s *staticSolver) CanSolve(string) bool { return true }

func (s *staticSolver) Dereference(context.Context, string) (*core.Concept, error) {
	return s.concept, nil
}

func TestRegistryAppliesLanguagePreference(t *testing.T) {
	concept := &core.Concept{URI: "http://example.org/concept/1"}
	concept.AddLabel("Oiseaux", "fr", true)
	concept.AddLabel("Birds", "en", false)

	registry := NewRegistry([]string{"en", "fr"}, &staticSolver{concept: concept})
	resolved, err := registry.Dereference(context.Background(), concept.URI)
	if err != nil {
		t.Fatalf("dereference: %v", err)
	}
	if resolved.PrefLabel() != "Birds" {
		t.Errorf("expected the english label preferred, got %q", resolved.PrefLabel())
	}
	for _, l := range resolved.Labels {
		if l.Language == "fr" && l.Preferred {
			t.Errorf("french label should have lost the preferred flag")
		}
	}
}

func TestRegistryDispatchesByURI(t *testing.T) {
	registry := NewRegistry(nil, NewIdRefSolver("https://www.idref.fr", time.Second))
	_, err := registry.Dereference(context.Background(), "http://unknown.example.org/concept/1")
	var derefErr *DereferencingError
	if !errors.As(err, &derefErr) {
		t.Fatalf("expected a DereferencingError for an unmatched uri, got %v", err)
	}
}
