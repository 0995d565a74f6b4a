package hal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/config"
	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/harvester"
)

func newTestHarvester(t *testing.T, baseURL string, settings map[string]string) *Harvester {
	t.Helper()
	h, err := New(harvester.Deps{
		Sources: config.SourcesConfig{HalURL: baseURL},
		Logger:  zap.NewNop(),
	}, settings)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func newPersonWithIdHal(t *testing.T) *core.Entity {
	t.Helper()
	entity, err := core.NewPerson("Alicia", "Fontaine",
		[]core.Identifier{{Type: "id_hal_i", Value: "411558"}},
		[]string{"id_hal_i", "id_hal_s"})
	if err != nil {
		t.Fatalf("NewPerson: %v", err)
	}
	return entity
}

func TestFetchPagesThroughAllResults(t *testing.T) {
	docs := []map[string]any{
		{"docid": 1, "title_s": []string{"First"}},
		{"docid": 2, "title_s": []string{"Second"}},
		{"docid": 3, "title_s": []string{"Third"}},
	}
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("q"))
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		rows, _ := strconv.Atoi(r.URL.Query().Get("rows"))
		end := start + rows
		if end > len(docs) {
			end = len(docs)
		}
		page := map[string]any{"response": map[string]any{
			"numFound": len(docs),
			"docs":     docs[start:end],
		}}
		if err := json.NewEncoder(w).Encode(page); err != nil {
			t.Errorf("encode page: %v", err)
		}
	}))
	defer srv.Close()

	h := newTestHarvester(t, srv.URL, map[string]string{"page_size": "2"})
	it := h.Fetch(context.Background(), newPersonWithIdHal(t))
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, it.Value().SourceIdentifier)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	want := []string{"1", "2", "3"}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d: got %q, want %q", i, got[i], want[i])
		}
	}
	for _, q := range queries {
		if q != "authIdHal_i:411558" {
			t.Errorf("unexpected search query %q", q)
		}
	}
}

func TestFetchSurfacesEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	h := newTestHarvester(t, srv.URL, nil)
	it := h.Fetch(context.Background(), newPersonWithIdHal(t))
	defer it.Close()

	for it.Next() {
		t.Fatal("no records expected from a failing endpoint")
	}
	if it.Err() == nil {
		t.Fatal("expected an error from the iterator")
	}
}

func TestSearchQueryPrefersNumericIdentifier(t *testing.T) {
	h := newTestHarvester(t, "http://hal.example", nil)

	entity, err := core.NewPerson("", "", []core.Identifier{
		{Type: "id_hal_s", Value: "alicia-fontaine"},
		{Type: "id_hal_i", Value: "411558"},
	}, []string{"id_hal_i", "id_hal_s"})
	if err != nil {
		t.Fatalf("NewPerson: %v", err)
	}
	if q := h.searchQuery(entity); q != "authIdHal_i:411558" {
		t.Errorf("got %q, want numeric idHAL query", q)
	}

	entity, err = core.NewPerson("", "", []core.Identifier{
		{Type: "id_hal_s", Value: "alicia-fontaine"},
	}, []string{"id_hal_s"})
	if err != nil {
		t.Fatalf("NewPerson: %v", err)
	}
	if q := h.searchQuery(entity); q != `authIdHal_s:"alicia-fontaine"` {
		t.Errorf("got %q, want quoted alphanumeric idHAL query", q)
	}
}

func TestContributionSpecsPairFacets(t *testing.T) {
	h := newTestHarvester(t, "http://hal.example", nil)
	fields := map[string]any{
		"authFullName_s":  []any{"Alicia Fontaine", "Marc Leroy"},
		"authFirstName_s": []any{"Alicia", "Marc"},
		"authLastName_s":  []any{"Fontaine", "Leroy"},
		"authQuality_s":   []any{"aut", "edt"},
		"authIdHalFullName_fs": []any{
			"alicia-fontaine_FacetSep_Alicia Fontaine",
		},
	}

	specs := h.contributionSpecs(fields)
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}

	first := specs[0]
	if first.SourceIdentifier != "alicia-fontaine" {
		t.Errorf("first author idHAL: got %q", first.SourceIdentifier)
	}
	if first.FirstName != "Alicia" || first.LastName != "Fontaine" {
		t.Errorf("first author structured name: got %q %q", first.FirstName, first.LastName)
	}
	if first.Role != core.RelatorURL("aut") {
		t.Errorf("first author role: got %q", first.Role)
	}
	if first.Rank == nil || *first.Rank != 1 {
		t.Errorf("first author rank: got %v", first.Rank)
	}
	if len(first.Identifiers) != 1 || first.Identifiers[0].Type != "id_hal_s" {
		t.Errorf("first author external identifiers: got %v", first.Identifiers)
	}

	second := specs[1]
	if second.SourceIdentifier != "" {
		t.Errorf("second author should have no idHAL, got %q", second.SourceIdentifier)
	}
	if second.Role != core.RelatorURL("edt") {
		t.Errorf("second author role: got %q", second.Role)
	}
	if second.Rank == nil || *second.Rank != 2 {
		t.Errorf("second author rank: got %v", second.Rank)
	}
}

func TestDocumentTypeMappingFallsBackToUnknown(t *testing.T) {
	if spec, known := documentTypes.Convert("ART"); !known || spec.Label != "Journal article" {
		t.Errorf("ART: got %+v known=%v", spec, known)
	}
	spec, known := documentTypes.Convert("NO_SUCH_TYPE")
	if known {
		t.Error("unexpected mapping for NO_SUCH_TYPE")
	}
	if spec != harvester.UnknownDocumentType {
		t.Errorf("got %+v, want unknown fallback", spec)
	}
}

func TestHashIgnoresFieldsOutsideKeyList(t *testing.T) {
	h := newTestHarvester(t, "http://hal.example", nil)
	base := map[string]any{
		"docid":     float64(12),
		"title_s":   []any{"Stable"},
		"uri_s":     "https://hal.example/hal-12",
		"docType_s": "ART",
	}
	record := harvester.RawRecord{SourceIdentifier: "12", Fields: base}
	before := harvester.Digest(h, record)

	changed := map[string]any{}
	for k, v := range base {
		changed[k] = v
	}
	changed["uri_s"] = "https://hal.example/hal-12v2"
	if after := harvester.Digest(h, harvester.RawRecord{SourceIdentifier: "12", Fields: changed}); after != before {
		t.Error("uri_s does not participate in the digest, hash should not move")
	}

	changed["title_s"] = []any{"Renamed"}
	if after := harvester.Digest(h, harvester.RawRecord{SourceIdentifier: "12", Fields: changed}); after == before {
		t.Error("title_s participates in the digest, hash should move")
	}
}

func TestFetchSkipsDocumentsWithoutDocid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{"numFound":2,"docs":[{"title_s":["Orphan"]},{"docid":7,"title_s":["Kept"]}]}}`)
	}))
	defer srv.Close()

	h := newTestHarvester(t, srv.URL, nil)
	it := h.Fetch(context.Background(), newPersonWithIdHal(t))
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, it.Value().SourceIdentifier)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if len(got) != 1 || got[0] != "7" {
		t.Fatalf("got %v, want only the document with a docid", got)
	}
}
