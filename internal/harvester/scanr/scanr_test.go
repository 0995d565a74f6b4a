package scanr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/config"
	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/harvester"
)

func newTestHarvester(t *testing.T, searchURL string) *Harvester {
	t.Helper()
	h, err := New(harvester.Deps{
		Sources: config.SourcesConfig{ScanRURL: searchURL},
		Logger:  zap.NewNop(),
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func newPersonWithIdref(t *testing.T) *core.Entity {
	t.Helper()
	entity, err := core.NewPerson("Alicia", "Fontaine",
		[]core.Identifier{{Type: "idref", Value: "244072808"}},
		[]string{"idref", "orcid"})
	if err != nil {
		t.Fatalf("NewPerson: %v", err)
	}
	return entity
}

func TestFetchScrollsUntilExhausted(t *testing.T) {
	pages := []map[string]any{
		{
			"_scroll_id": "s1",
			"hits": map[string]any{"hits": []any{
				map[string]any{"_source": map[string]any{"id": "doi10.1000/a"}},
				map[string]any{"_source": map[string]any{"id": "doi10.1000/b"}},
			}},
		},
		{
			"_scroll_id": "s2",
			"hits": map[string]any{"hits": []any{
				map[string]any{"_source": map[string]any{"id": "nnt2020abc"}},
			}},
		},
		{
			"_scroll_id": "s3",
			"hits":       map[string]any{"hits": []any{}},
		},
	}
	var scrollCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var page map[string]any
		switch {
		case strings.HasSuffix(r.URL.Path, "/scanr-publications/_search"):
			if r.URL.Query().Get("scroll") == "" {
				t.Error("search request without scroll parameter")
			}
			page = pages[0]
		case strings.HasSuffix(r.URL.Path, "/_search/scroll"):
			scrollCalls++
			page = pages[scrollCalls]
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			return
		}
		if err := json.NewEncoder(w).Encode(page); err != nil {
			t.Errorf("encode page: %v", err)
		}
	}))
	defer srv.Close()

	h := newTestHarvester(t, srv.URL+"/scanr-publications/_search")
	it := h.Fetch(context.Background(), newPersonWithIdref(t))
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, it.Value().SourceIdentifier)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	want := []string{"doi10.1000/a", "doi10.1000/b", "nnt2020abc"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d: got %q, want %q", i, got[i], want[i])
		}
	}
	if scrollCalls != 2 {
		t.Errorf("got %d scroll continuations, want 2", scrollCalls)
	}
}

func TestSearchQueryCombinesIdentifiers(t *testing.T) {
	h := newTestHarvester(t, "http://scanr.example/scanr-publications/_search")
	entity, err := core.NewPerson("", "", []core.Identifier{
		{Type: "idref", Value: "244072808"},
		{Type: "orcid", Value: "0000-0001-2345-6789"},
	}, []string{"idref", "orcid"})
	if err != nil {
		t.Fatalf("NewPerson: %v", err)
	}

	raw, err := json.Marshal(h.searchQuery(entity))
	if err != nil {
		t.Fatalf("marshal query: %v", err)
	}
	query := string(raw)
	if !strings.Contains(query, `"authors.person":"idref244072808"`) {
		t.Errorf("query misses prefixed idref term: %s", query)
	}
	if !strings.Contains(query, `"authors.orcid":"0000-0001-2345-6789"`) {
		t.Errorf("query misses orcid term: %s", query)
	}
}

func TestLanguageValuesKeepDefaultLanguageless(t *testing.T) {
	fields := map[string]any{"title": map[string]any{
		"default": "Titre",
		"en":      "Title",
		"fr":      "Titre",
	}}
	values := languageValues(fields, "title")
	if len(values) != 3 {
		t.Fatalf("got %d values, want 3", len(values))
	}
	if values[0].value != "Titre" || values[0].language != "" {
		t.Errorf("default entry: got %+v", values[0])
	}
	if values[1].language != "en" || values[2].language != "fr" {
		t.Errorf("language order: got %q then %q, want en then fr", values[1].language, values[2].language)
	}
}

func TestContributionSpecsResolveAffiliations(t *testing.T) {
	h := newTestHarvester(t, "http://scanr.example/scanr-publications/_search")
	fields := map[string]any{
		"authors": []any{
			map[string]any{
				"fullName":     "Alicia Fontaine",
				"firstName":    "Alicia",
				"lastName":     "Fontaine",
				"person":       "idref244072808",
				"role":         "author",
				"orcid":        "0000-0001-2345-6789",
				"affiliations": []any{"struct-1"},
			},
			map[string]any{
				"fullName": "Marc Leroy",
				"role":     "directeurthese",
			},
		},
		"affiliations": []any{
			map[string]any{
				"id":    "struct-1",
				"label": map[string]any{"default": "Laboratoire de Zoologie"},
			},
		},
	}

	specs := h.contributionSpecs(fields)
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}

	first := specs[0]
	if first.SourceIdentifier != "idref244072808" {
		t.Errorf("first source identifier: got %q", first.SourceIdentifier)
	}
	var types []string
	for _, id := range first.Identifiers {
		types = append(types, id.Type+":"+id.Value)
	}
	joined := strings.Join(types, ",")
	if !strings.Contains(joined, "idref:244072808") || !strings.Contains(joined, "orcid:") {
		t.Errorf("first external identifiers: got %v", first.Identifiers)
	}
	if len(first.Affiliations) != 1 || first.Affiliations[0].Name != "Laboratoire de Zoologie" {
		t.Errorf("first affiliations: got %+v", first.Affiliations)
	}
	if first.Role != core.RelatorURL("aut") {
		t.Errorf("first role: got %q", first.Role)
	}

	if specs[1].Role != core.RelatorURL("ths") {
		t.Errorf("thesis director role: got %q", specs[1].Role)
	}
}
