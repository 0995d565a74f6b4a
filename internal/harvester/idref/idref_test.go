package idref

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/cache"
	"github.com/crisref/harvest-core/internal/config"
	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/harvester"
)

func newTestHarvester(t *testing.T, sparqlURL string) *Harvester {
	t.Helper()
	h, err := New(harvester.Deps{
		Sources: config.SourcesConfig{
			IdrefSparqlEndpoint: sparqlURL,
			IdrefSparqlTimeout:  5 * time.Second,
			SciencePlusURL:      "https://scienceplus.example/sparql",
		},
		Cache:  cache.NoopCache{},
		Logger: zap.NewNop(),
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func newPersonWithIdref(t *testing.T) *core.Entity {
	t.Helper()
	entity, err := core.NewPerson("Camille", "Robert",
		[]core.Identifier{{Type: "idref", Value: "123456789"}},
		[]string{"idref", "orcid"})
	if err != nil {
		t.Fatalf("NewPerson: %v", err)
	}
	return entity
}

func binding(pairs map[string]string) map[string]any {
	out := make(map[string]any, len(pairs))
	for name, value := range pairs {
		out[name] = map[string]any{"value": value}
	}
	return out
}

func sparqlServer(t *testing.T, bindings []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("query") == "" {
			t.Error("expected a sparql query in the request body")
		}
		response := map[string]any{"results": map[string]any{"bindings": bindings}}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func TestFetchAggregatesSparqlBindings(t *testing.T) {
	pubURI := "http://www.idref.fr/987654321/id"
	srv := sparqlServer(t, []map[string]any{
		binding(map[string]string{
			"pub":                   pubURI,
			"role":                  "http://id.loc.gov/vocabulary/relators/aut",
			"title":                 "Histoire des bibliothèques",
			"type":                  "http://purl.org/ontology/bibo/Book",
			"date":                  "2019",
			"contributor":           "http://www.idref.fr/123456789/id",
			"contributorRole":       "http://id.loc.gov/vocabulary/relators/aut",
			"contributorName":       "Camille Robert",
			"contributorFamilyName": "Robert",
			"contributorGivenName":  "Camille",
		}),
		binding(map[string]string{
			"pub":      pubURI,
			"role":     "http://id.loc.gov/vocabulary/relators/aut",
			"title":    "Histoire des bibliothèques",
			"altLabel": "Des origines à nos jours",
		}),
		// HAL publications are left to the dedicated adapter.
		binding(map[string]string{
			"pub":   "https://hal.archives-ouvertes.fr/hal-01234567",
			"role":  "http://id.loc.gov/vocabulary/relators/aut",
			"title": "Skipped",
		}),
		// Bindings without an authorship role are dropped.
		binding(map[string]string{
			"pub":   "http://www.idref.fr/555555555/id",
			"role":  "http://purl.org/dc/terms/subject",
			"title": "Not an authorship",
		}),
	})
	defer srv.Close()

	h := newTestHarvester(t, srv.URL)
	it := h.Fetch(context.Background(), newPersonWithIdref(t))
	defer it.Close()

	var records []harvester.RawRecord
	for it.Next() {
		records = append(records, it.Value())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	record := records[0]
	if record.SourceIdentifier != pubURI {
		t.Errorf("source identifier: got %q", record.SourceIdentifier)
	}
	titles := harvester.StringsField(record.Fields, "title")
	if len(titles) != 1 || titles[0] != "Histoire des bibliothèques" {
		t.Errorf("titles: got %v", titles)
	}
	if alt := harvester.StringsField(record.Fields, "altLabel"); len(alt) != 1 {
		t.Errorf("altLabel: got %v", alt)
	}
	if source := harvester.StringField(record.Fields, "secondary_source"); source != "IDREF" {
		t.Errorf("secondary source: got %q", source)
	}
	contributors := harvester.MapField(record.Fields, "contributors")
	if len(contributors) != 1 {
		t.Fatalf("contributors: got %v", contributors)
	}
}

func TestFetchSurfacesEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := newTestHarvester(t, srv.URL)
	it := h.Fetch(context.Background(), newPersonWithIdref(t))
	defer it.Close()

	for it.Next() {
		t.Fatal("no records expected from a failing endpoint")
	}
	if it.Err() == nil {
		t.Fatal("expected an error from the iterator")
	}
}

func TestSecondarySourceClassification(t *testing.T) {
	cases := map[string]string{
		"http://www.idref.fr/123/id":               "IDREF",
		"http://www.sudoc.fr/456/id":               "SUDOC",
		"http://hub.abes.fr/cairn/doc":             "SCIENCE_PLUS",
		"https://journals.openedition.org/rsl/123": "OPEN_EDITION",
		"http://books.openedition.org/pur/456":     "OPEN_EDITION",
		"http://data.persee.fr/doc/issn#Web":       "PERSEE",
		"https://hal.archives-ouvertes.fr/hal-01":  "HAL",
	}
	for uri, want := range cases {
		got, err := secondarySource(uri)
		if err != nil {
			t.Errorf("%s: %v", uri, err)
			continue
		}
		if got != want {
			t.Errorf("%s: got %q, want %q", uri, got, want)
		}
	}
	if _, err := secondarySource("https://unknown.example/doc"); err == nil {
		t.Error("expected an error for an unknown source prefix")
	}
}

func TestResolverRejectsMalformedSecondaryURIs(t *testing.T) {
	r := newResolver(resolverDeps{
		defaultTimeout: time.Second,
		cache:          cache.NoopCache{},
		logger:         zap.NewNop(),
	})

	sudoc := &publication{URI: "http://www.sudoc.fr/456", SecondarySource: "SUDOC"}
	if err := r.resolve(context.Background(), sudoc); err == nil {
		t.Error("expected an error for a sudoc uri without /id suffix")
	}

	persee := &publication{URI: "http://data.persee.fr/doc/issn", SecondarySource: "PERSEE"}
	if err := r.resolve(context.Background(), persee); err == nil {
		t.Error("expected an error for a persee uri without #Web fragment")
	}
}

func TestConvertRole(t *testing.T) {
	cases := map[string]string{
		"http://id.loc.gov/vocabulary/relators/aut":             core.RelatorURL("aut"),
		"http://www.abes.fr/vocabularies/theses/roles/directeurThese": core.RelatorURL("ths"),
		"http://www.abes.fr/vocabularies/theses/roles/rapporteur":     core.RelatorURL("opn"),
		"http://www.abes.fr/vocabularies/theses/roles/inconnu":        core.RoleUnknown,
		"": core.RoleUnknown,
	}
	for roleURI, want := range cases {
		if got := convertRole(roleURI); got != want {
			t.Errorf("%q: got %q, want %q", roleURI, got, want)
		}
	}
}

func TestParseRDFExtractsKnownProperties(t *testing.T) {
	payload := []byte(`<?xml version="1.0"?>
		<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"
			xmlns:dc="http://purl.org/dc/elements/1.1/"
			xmlns:dcterms="http://purl.org/dc/terms/"
			xmlns:bibo="http://purl.org/ontology/bibo/">
			<rdf:Description rdf:about="https://www.sudoc.fr/456">
				<dc:title xml:lang="fr">Les archives du Sud</dc:title>
				<dcterms:abstract xml:lang="fr">Une étude des fonds.</dcterms:abstract>
				<dcterms:date>2021</dcterms:date>
				<bibo:doi>10.1234/sudoc.456</bibo:doi>
			</rdf:Description>
		</rdf:RDF>`)

	fields, err := parseRDF(payload)
	if err != nil {
		t.Fatalf("parseRDF: %v", err)
	}
	if len(fields.Titles) != 1 || fields.Titles[0].Value != "Les archives du Sud" {
		t.Errorf("titles: got %v", fields.Titles)
	}
	if fields.Titles[0].Language != "fr" {
		t.Errorf("title language: got %q", fields.Titles[0].Language)
	}
	if len(fields.Abstracts) != 1 || len(fields.Dates) != 1 || len(fields.DOIs) != 1 {
		t.Errorf("fields: got %+v", fields)
	}
}

func TestContributionSpecsExpandRoles(t *testing.T) {
	h := newTestHarvester(t, "http://idref.example")
	fields := map[string]any{
		"contributors": map[string]any{
			"http://www.idref.fr/123456789/id": map[string]any{
				"name":       "Camille Robert",
				"familyName": "Robert",
				"givenName":  "Camille",
				"roles": []string{
					"http://id.loc.gov/vocabulary/relators/aut",
					"http://www.abes.fr/vocabularies/theses/roles/directeurThese",
				},
			},
		},
	}

	specs := h.contributionSpecs(fields)
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want one per role", len(specs))
	}
	roles := map[string]bool{}
	for _, spec := range specs {
		roles[spec.Role] = true
		if spec.SourceIdentifier != "http://www.idref.fr/123456789/id" {
			t.Errorf("source identifier: got %q", spec.SourceIdentifier)
		}
		if spec.FirstName != "Camille" || spec.LastName != "Robert" {
			t.Errorf("structured name: got %q %q", spec.FirstName, spec.LastName)
		}
		if len(spec.Identifiers) != 1 || spec.Identifiers[0].Value != "123456789" {
			t.Errorf("external identifiers: got %v", spec.Identifiers)
		}
	}
	if !roles[core.RelatorURL("aut")] || !roles[core.RelatorURL("ths")] {
		t.Errorf("roles: got %v", roles)
	}
}

func TestHashIgnoresFieldsOutsideKeyList(t *testing.T) {
	h := newTestHarvester(t, "http://idref.example")
	base := map[string]any{
		"uri":   "http://www.idref.fr/987654321/id",
		"title": []string{"Stable"},
		"note":  []string{"A note"},
		"type":  []string{"http://purl.org/ontology/bibo/Book"},
	}
	record := harvester.RawRecord{SourceIdentifier: "http://www.idref.fr/987654321/id", Fields: base}
	before := harvester.Digest(h, record)

	changed := map[string]any{}
	for k, v := range base {
		changed[k] = v
	}
	changed["note"] = []string{"Edited note"}
	if after := harvester.Digest(h, harvester.RawRecord{SourceIdentifier: record.SourceIdentifier, Fields: changed}); after != before {
		t.Error("note does not participate in the digest, hash should not move")
	}

	changed["title"] = []string{"Renamed"}
	if after := harvester.Digest(h, harvester.RawRecord{SourceIdentifier: record.SourceIdentifier, Fields: changed}); after == before {
		t.Error("title participates in the digest, hash should move")
	}
}
