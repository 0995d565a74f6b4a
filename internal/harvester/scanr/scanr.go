// Package scanr harvests bibliographic references from the scanR
// Elasticsearch publication index (scroll pagination, hits carrying
// the document under _source).
package scanr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/client"
	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/harvester"
	"github.com/crisref/harvest-core/internal/hash"
)

const (
	harvesterName    = "scanr"
	harvesterVersion = "1.1.0"

	defaultPageSize = 200
	defaultTimeout  = 30 * time.Second

	// scrollTTL keeps the server-side scroll context alive between
	// pages.
	scrollTTL = "1m"

	// idrefPrefix prefixes idref codes in scanR author person keys.
	idrefPrefix = "idref"
)

// Harvester implements the scanR adapter.
type Harvester struct {
	deps     harvester.Deps
	search   *client.Client
	scroll   *client.Client
	pageSize int
}

var _ harvester.Harvester = (*Harvester)(nil)

// New builds the scanR adapter. The scroll continuation endpoint
// lives at the server root, so a second client is derived from the
// search URL.
func New(deps harvester.Deps, settings map[string]string) (*Harvester, error) {
	searchURL := deps.Sources.ScanRURL
	parsed, err := url.Parse(searchURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid scanr search url %q", searchURL)
	}
	root := parsed.Scheme + "://" + parsed.Host
	return &Harvester{
		deps:     deps,
		search:   client.New(&client.Config{BaseURL: searchURL, Timeout: defaultTimeout}),
		scroll:   client.New(&client.Config{BaseURL: root, Timeout: defaultTimeout}),
		pageSize: defaultPageSize,
	}, nil
}

func (h *Harvester) Name() string    { return harvesterName }
func (h *Harvester) Version() string { return harvesterVersion }

// IsRelevant reports whether the entity carries an identifier scanR
// indexes authors by.
func (h *Harvester) IsRelevant(entity *core.Entity) bool {
	return entity.HasIdentifier("idref") || entity.HasIdentifier("orcid")
}

// HashKeys lists the _source fields participating in the digest.
func (h *Harvester) HashKeys() []hash.Key {
	return []hash.Key{
		{Name: "id"},
		{Name: "title"},
		{Name: "summary"},
		{Name: "type"},
		{Name: "productionType"},
		{Name: "publicationDate"},
		{Name: "domains"},
		{Name: "affiliations"},
		{Name: "authors"},
		{Name: "externalIds"},
	}
}

type scrollPage struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Fetch scrolls through the publication index for the entity's
// author identifiers and streams one record per hit.
func (h *Harvester) Fetch(ctx context.Context, entity *core.Entity) *harvester.RecordIterator {
	return harvester.NewRecordIterator(ctx, func(ctx context.Context, out chan<- harvester.RawRecord) error {
		page, err := h.openScroll(ctx, entity)
		if err != nil {
			return err
		}
		for len(page.Hits.Hits) > 0 {
			for _, hit := range page.Hits.Hits {
				identifier := harvester.StringField(hit.Source, "id")
				if identifier == "" {
					h.deps.Logger.Warn("scanr hit without id skipped")
					continue
				}
				record := harvester.RawRecord{SourceIdentifier: identifier, Fields: hit.Source}
				if err := harvester.Emit(ctx, out, record); err != nil {
					return err
				}
			}
			if page, err = h.continueScroll(ctx, page.ScrollID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *Harvester) openScroll(ctx context.Context, entity *core.Entity) (*scrollPage, error) {
	body, err := json.Marshal(map[string]any{
		"query": h.searchQuery(entity),
		"size":  h.pageSize,
		"sort":  []string{"_doc"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode scanr query: %w", err)
	}
	resp, err := h.search.Do(ctx, &client.Request{
		Method:  http.MethodPost,
		Query:   url.Values{"scroll": []string{scrollTTL}},
		Body:    bytes.NewReader(body),
		Headers: map[string]string{"Content-Type": "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open scanr scroll: %w", err)
	}
	return decodePage(resp)
}

func (h *Harvester) continueScroll(ctx context.Context, scrollID string) (*scrollPage, error) {
	if scrollID == "" {
		return &scrollPage{}, nil
	}
	body, err := json.Marshal(map[string]string{"scroll": scrollTTL, "scroll_id": scrollID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode scroll continuation: %w", err)
	}
	resp, err := h.scroll.Do(ctx, &client.Request{
		Method:  http.MethodPost,
		Path:    "/_search/scroll",
		Body:    bytes.NewReader(body),
		Headers: map[string]string{"Content-Type": "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to continue scanr scroll: %w", err)
	}
	return decodePage(resp)
}

func decodePage(resp *client.Response) (*scrollPage, error) {
	var page scrollPage
	if err := resp.JSON(&page); err != nil {
		return nil, fmt.Errorf("failed to decode scanr response: %w", err)
	}
	return &page, nil
}

// searchQuery matches publications authored by the entity: scanR
// keys authors by prefixed idref codes, orcids are carried verbatim.
func (h *Harvester) searchQuery(entity *core.Entity) map[string]any {
	var should []map[string]any
	if idref := entity.IdentifierValue("idref"); idref != "" {
		should = append(should, map[string]any{
			"term": map[string]any{"authors.person": idrefPrefix + idref},
		})
	}
	if orcid := entity.IdentifierValue("orcid"); orcid != "" {
		should = append(should, map[string]any{
			"term": map[string]any{"authors.orcid": orcid},
		})
	}
	return map[string]any{
		"bool": map[string]any{
			"should":               should,
			"minimum_should_match": 1,
		},
	}
}

// Convert normalises one scanR publication document.
func (h *Harvester) Convert(ctx context.Context, record harvester.RawRecord) (*core.Reference, error) {
	ref := harvester.Seed(h, record)
	conv := harvester.NewConversion(h.deps, harvesterName)
	fields := record.Fields

	for _, t := range languageValues(fields, "title") {
		ref.Titles = append(ref.Titles, core.Title{Value: t.value, Language: t.language})
	}
	for _, a := range languageValues(fields, "summary") {
		ref.Abstracts = append(ref.Abstracts, core.Abstract{Value: a.value, Language: a.language})
	}

	code := harvester.StringField(fields, "type")
	spec, known := documentTypes.Convert(code)
	if !known {
		h.deps.Logger.Warn("unknown scanr document type", zap.String("code", code))
	}
	docType, err := conv.DocumentType(ctx, spec.URI, spec.Label)
	if err != nil {
		return nil, err
	}
	ref.DocumentType = append(ref.DocumentType, docType)

	subjects, err := conv.Subjects(ctx, h.subjectSpecs(fields))
	if err != nil {
		return nil, err
	}
	ref.Subjects = append(ref.Subjects, subjects...)

	contributions, err := conv.Contributions(ctx, h.contributionSpecs(fields))
	if err != nil {
		return nil, err
	}
	ref.Contributions = append(ref.Contributions, contributions...)

	for _, ext := range harvester.MapsField(fields, "externalIds") {
		idType := harvester.StringField(ext, "type")
		idValue := harvester.StringField(ext, "id")
		if idType == "" || idValue == "" {
			continue
		}
		ref.Identifiers = append(ref.Identifiers, core.ReferenceIdentifier{Type: idType, Value: idValue})
	}

	if err := h.issue(ctx, conv, fields, ref); err != nil {
		return nil, err
	}

	if raw := harvester.StringField(fields, "publicationDate"); raw != "" {
		ref.RawIssued = raw
		issued, err := harvester.ParseDate(raw)
		if err != nil {
			h.deps.Logger.Warn("unparseable scanr publication date",
				zap.String("source_identifier", ref.SourceIdentifier), zap.Error(err))
		} else {
			ref.Issued = issued
		}
	}

	return ref, nil
}

type localizedValue struct {
	value    string
	language string
}

// languageValues flattens a scanR {lang: text} map under key. The
// "default" key carries no language information and always comes
// first; remaining languages follow in lexical order so conversion
// output is deterministic.
func languageValues(fields map[string]any, key string) []localizedValue {
	return localized(harvester.MapField(fields, key))
}

func localized(m map[string]any) []localizedValue {
	if len(m) == 0 {
		return nil
	}
	out := make([]localizedValue, 0, len(m))
	if v, ok := m["default"].(string); ok && v != "" {
		out = append(out, localizedValue{value: v})
	}
	langs := make([]string, 0, len(m))
	for lang := range m {
		if lang != "default" {
			langs = append(langs, lang)
		}
	}
	sort.Strings(langs)
	for _, lang := range langs {
		if v, ok := m[lang].(string); ok && v != "" {
			out = append(out, localizedValue{value: v, language: lang})
		}
	}
	return out
}

func (h *Harvester) subjectSpecs(fields map[string]any) []harvester.SubjectSpec {
	domains := harvester.MapsField(fields, "domains")
	specs := make([]harvester.SubjectSpec, 0, len(domains))
	seen := make(map[string]bool)
	for _, domain := range domains {
		for _, lv := range localized(harvester.MapField(domain, "label")) {
			key := lv.value + "\x1f" + lv.language
			if seen[key] {
				continue
			}
			seen[key] = true
			specs = append(specs, harvester.SubjectSpec{Label: lv.value, Language: lv.language})
		}
	}
	return specs
}

// Thesis jury roles appear in scanR with flattened lowercase names.
var roleCodes = map[string]string{
	"author":         "aut",
	"directeurthese": "ths",
	"presidentjury":  "pra",
	"rapporteur":     "opn",
	"membrejury":     "oth",
}

func (h *Harvester) contributionSpecs(fields map[string]any) []harvester.ContributionSpec {
	affiliationsByID := h.affiliationIndex(fields)
	authors := harvester.MapsField(fields, "authors")
	specs := make([]harvester.ContributionSpec, 0, len(authors))
	for i, author := range authors {
		fullName := harvester.StringField(author, "fullName")
		person := harvester.StringField(author, "person")
		if fullName == "" && person == "" {
			continue
		}
		rank := i + 1
		spec := harvester.ContributionSpec{
			SourceIdentifier: person,
			Name:             fullName,
			FirstName:        harvester.StringField(author, "firstName"),
			LastName:         harvester.StringField(author, "lastName"),
			Rank:             &rank,
			Role:             h.role(author),
		}
		if code, ok := strings.CutPrefix(person, idrefPrefix); ok && code != "" {
			spec.Identifiers = append(spec.Identifiers,
				core.ExternalPersonIdentifier{Type: "idref", Value: code})
		}
		if orcid := harvester.StringField(author, "orcid"); orcid != "" {
			spec.Identifiers = append(spec.Identifiers,
				core.ExternalPersonIdentifier{Type: "orcid", Value: orcid})
		}
		for _, affiliationID := range harvester.StringsField(author, "affiliations") {
			if org, ok := affiliationsByID[affiliationID]; ok {
				spec.Affiliations = append(spec.Affiliations, org)
			}
		}
		specs = append(specs, spec)
	}
	return specs
}

func (h *Harvester) role(author map[string]any) string {
	raw := strings.ToLower(harvester.StringField(author, "role"))
	if raw == "" {
		return core.RoleUnknown
	}
	if code, ok := roleCodes[raw]; ok {
		return core.RelatorURL(code)
	}
	h.deps.Logger.Warn("unknown scanr author role", zap.String("role", raw))
	return core.RoleUnknown
}

// affiliationIndex maps structure ids to organizations from the
// document-level affiliations list.
func (h *Harvester) affiliationIndex(fields map[string]any) map[string]*core.Organization {
	out := make(map[string]*core.Organization)
	for _, affiliation := range harvester.MapsField(fields, "affiliations") {
		id := harvester.StringField(affiliation, "id")
		if id == "" {
			continue
		}
		name := id
		if label := harvester.MapField(affiliation, "label"); label != nil {
			if v, ok := label["default"].(string); ok && v != "" {
				name = v
			}
		}
		out[id] = &core.Organization{
			Source:           harvesterName,
			SourceIdentifier: id,
			Name:             name,
			Identifiers:      []core.OrganizationIdentifier{{Type: "scanr", Value: id}},
		}
	}
	return out
}

func (h *Harvester) issue(ctx context.Context, conv *harvester.Conversion, fields map[string]any, ref *core.Reference) error {
	source := harvester.MapField(fields, "source")
	if source == nil {
		return nil
	}
	title := harvester.StringField(source, "title")
	issns := harvester.StringsField(source, "journalIssns")
	if title == "" || len(issns) == 0 {
		return nil
	}
	journal := &core.Journal{
		Source:           harvesterName,
		SourceIdentifier: issns[0],
		ISSN:             issns,
		Titles:           []string{title},
		Publisher:        harvester.StringField(source, "publisher"),
	}
	issue := &core.Issue{
		Source:           harvesterName,
		SourceIdentifier: core.IssueSourceIdentifier(journal.Titles, "", nil, harvesterName),
	}
	resolved, err := conv.Issue(ctx, journal, issue)
	if err != nil {
		return err
	}
	ref.Issue = resolved
	return nil
}
