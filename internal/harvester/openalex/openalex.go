// Package openalex harvests bibliographic references from the
// OpenAlex works API (JSON documents, cursor pagination).
package openalex

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
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
	harvesterName    = "openalex"
	harvesterVersion = "1.0.0"

	defaultPageSize = 200
	defaultTimeout  = 30 * time.Second
)

// Identifier keys from the works payload never mapped to reference
// identifiers.
var ignoredIdentifierKeys = map[string]bool{"mag": true}

// halURLPattern recognises HAL landing pages so a hal identifier can
// be inferred when OpenAlex does not report one.
var halURLPattern = regexp.MustCompile(`https?://(?:[a-z0-9-]+\.)*(?:hal\.science|archives-ouvertes\.fr|hal\.inria\.fr)/([a-z]+-\d+)`)

// Harvester implements the OpenAlex adapter.
type Harvester struct {
	deps     harvester.Deps
	client   *client.Client
	email    string
	pageSize int
}

var _ harvester.Harvester = (*Harvester)(nil)

// New builds the OpenAlex adapter. A configured contact email joins
// the polite pool, which carries a higher rate limit.
func New(deps harvester.Deps, settings map[string]string) (*Harvester, error) {
	c := client.New(&client.Config{
		BaseURL: deps.Sources.OpenAlexURL,
		Timeout: defaultTimeout,
	})
	return &Harvester{
		deps:     deps,
		client:   c,
		email:    deps.Sources.OpenAlexEmail,
		pageSize: defaultPageSize,
	}, nil
}

func (h *Harvester) Name() string    { return harvesterName }
func (h *Harvester) Version() string { return harvesterVersion }

// IsRelevant reports whether the entity carries an identifier the
// works API can filter authorships by.
func (h *Harvester) IsRelevant(entity *core.Entity) bool {
	return entity.HasIdentifier("open_alex") || entity.HasIdentifier("orcid")
}

// HashKeys lists the payload fields participating in the digest.
// Authorship order is meaningful, so authorships stays ordered.
func (h *Harvester) HashKeys() []hash.Key {
	return []hash.Key{
		{Name: "id"},
		{Name: "ids"},
		{Name: "title"},
		{Name: "type"},
		{Name: "concepts"},
		{Name: "authorships", Ordered: true},
		{Name: "created_date"},
		{Name: "publication_date"},
	}
}

// Fetch cursors through the works filtered on the entity's author
// identifier and streams one record per work.
func (h *Harvester) Fetch(ctx context.Context, entity *core.Entity) *harvester.RecordIterator {
	return harvester.NewRecordIterator(ctx, func(ctx context.Context, out chan<- harvester.RawRecord) error {
		query := url.Values{"filter": []string{h.authorFilter(entity)}}
		if h.email != "" {
			query.Set("mailto", h.email)
		}
		paginator := client.NewCursorPaginator("", h.pageSize, query)
		it := client.NewPaginatedIterator(ctx, h.client, paginator.FirstPage(), paginator, parseWorks)
		defer it.Close()
		for it.Next() {
			work := it.Value()
			identifier := harvester.StringField(work, "id")
			if identifier == "" {
				h.deps.Logger.Warn("openalex work without id skipped")
				continue
			}
			record := harvester.RawRecord{SourceIdentifier: identifier, Fields: work}
			if err := harvester.Emit(ctx, out, record); err != nil {
				return err
			}
		}
		return it.Err()
	})
}

func (h *Harvester) authorFilter(entity *core.Entity) string {
	if v := entity.IdentifierValue("open_alex"); v != "" {
		return "author.id:" + v
	}
	return "author.orcid:" + entity.IdentifierValue("orcid")
}

func parseWorks(resp *client.Response) ([]map[string]any, error) {
	var body struct {
		Results []map[string]any `json:"results"`
	}
	if err := resp.JSON(&body); err != nil {
		return nil, fmt.Errorf("failed to decode openalex response: %w", err)
	}
	return body.Results, nil
}

// Convert normalises one OpenAlex work.
func (h *Harvester) Convert(ctx context.Context, record harvester.RawRecord) (*core.Reference, error) {
	ref := harvester.Seed(h, record)
	conv := harvester.NewConversion(h.deps, harvesterName)
	fields := record.Fields
	language := harvester.StringField(fields, "language")

	if title := harvester.StringField(fields, "title"); title != "" {
		ref.Titles = append(ref.Titles, core.Title{Value: title, Language: language})
	}
	if abstract := invertedAbstract(fields); abstract != "" {
		ref.Abstracts = append(ref.Abstracts, core.Abstract{Value: abstract, Language: language})
	}

	code := harvester.StringField(fields, "type")
	spec, known := documentTypes.Convert(code)
	if !known {
		h.deps.Logger.Warn("unknown openalex document type", zap.String("code", code))
	}
	docType, err := conv.DocumentType(ctx, spec.URI, spec.Label)
	if err != nil {
		return nil, err
	}
	ref.DocumentType = append(ref.DocumentType, docType)

	subjects, err := conv.Subjects(ctx, h.subjectSpecs(fields, language))
	if err != nil {
		return nil, err
	}
	ref.Subjects = append(ref.Subjects, subjects...)

	contributions, err := conv.Contributions(ctx, h.contributionSpecs(fields))
	if err != nil {
		return nil, err
	}
	ref.Contributions = append(ref.Contributions, contributions...)

	ref.Identifiers = append(ref.Identifiers, h.identifiers(fields)...)
	ref.Manifestations = append(ref.Manifestations, h.manifestations(fields)...)
	inferHalIdentifier(ref)

	if err := h.issue(ctx, conv, fields, ref); err != nil {
		return nil, err
	}

	biblio := harvester.MapField(fields, "biblio")
	first := harvester.StringField(biblio, "first_page")
	last := harvester.StringField(biblio, "last_page")
	if first != "" || last != "" {
		ref.Page = first + "-" + last
	}

	h.dates(fields, ref)

	return ref, nil
}

// invertedAbstract rebuilds an abstract from the inverted index
// OpenAlex distributes instead of plain text. Words are restored in
// position order.
func invertedAbstract(fields map[string]any) string {
	index := harvester.MapField(fields, "abstract_inverted_index")
	if len(index) == 0 {
		return ""
	}
	type positioned struct {
		word string
		pos  int
	}
	var words []positioned
	for word, raw := range index {
		positions, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, p := range positions {
			if n, ok := p.(float64); ok {
				words = append(words, positioned{word: word, pos: int(n)})
			}
		}
	}
	sort.Slice(words, func(i, j int) bool { return words[i].pos < words[j].pos })
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.word
	}
	return strings.Join(parts, " ")
}

func (h *Harvester) subjectSpecs(fields map[string]any, language string) []harvester.SubjectSpec {
	concepts := harvester.MapsField(fields, "concepts")
	specs := make([]harvester.SubjectSpec, 0, len(concepts))
	seen := make(map[string]bool)
	for _, concept := range concepts {
		uri := harvester.StringField(concept, "wikidata")
		if uri == "" || seen[uri] {
			continue
		}
		seen[uri] = true
		specs = append(specs, harvester.SubjectSpec{
			URI:      uri,
			Label:    harvester.StringField(concept, "display_name"),
			Language: language,
		})
	}
	return specs
}

func (h *Harvester) contributionSpecs(fields map[string]any) []harvester.ContributionSpec {
	authorships := harvester.MapsField(fields, "authorships")
	specs := make([]harvester.ContributionSpec, 0, len(authorships))
	for i, authorship := range authorships {
		author := harvester.MapField(authorship, "author")
		if author == nil {
			continue
		}
		id := harvester.StringField(author, "id")
		name := harvester.StringField(author, "display_name")
		if id == "" && name == "" {
			continue
		}
		rank := i + 1
		spec := harvester.ContributionSpec{
			SourceIdentifier: id,
			Name:             name,
			Rank:             &rank,
			Role:             core.RelatorURL("aut"),
		}
		if id != "" {
			spec.Identifiers = append(spec.Identifiers,
				core.ExternalPersonIdentifier{Type: "open_alex", Value: id})
		}
		if orcid := harvester.StringField(author, "orcid"); orcid != "" {
			spec.Identifiers = append(spec.Identifiers,
				core.ExternalPersonIdentifier{Type: "orcid", Value: orcid})
		}
		specs = append(specs, spec)
	}
	return specs
}

func (h *Harvester) identifiers(fields map[string]any) []core.ReferenceIdentifier {
	ids := harvester.MapField(fields, "ids")
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for key := range ids {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]core.ReferenceIdentifier, 0, len(keys))
	for _, key := range keys {
		if ignoredIdentifierKeys[key] {
			continue
		}
		value, ok := ids[key].(string)
		if !ok || value == "" {
			continue
		}
		idType := key
		if idType == "openalex" {
			idType = "open_alex"
		}
		out = append(out, core.ReferenceIdentifier{Type: idType, Value: value})
	}
	return out
}

func (h *Harvester) manifestations(fields map[string]any) []core.Manifestation {
	var out []core.Manifestation
	for _, location := range harvester.MapsField(fields, "locations") {
		page := harvester.StringField(location, "landing_page_url")
		if page == "" {
			continue
		}
		m, err := core.NewManifestation(page, harvester.StringField(location, "pdf_url"))
		if err != nil {
			h.deps.Logger.Warn("invalid openalex manifestation skipped",
				zap.String("page", page), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out
}

// inferHalIdentifier adds a hal reference identifier when a
// manifestation points at a HAL landing page and the work does not
// already carry one.
func inferHalIdentifier(ref *core.Reference) {
	for _, id := range ref.Identifiers {
		if id.Type == "hal" {
			return
		}
	}
	for _, m := range ref.Manifestations {
		if match := halURLPattern.FindStringSubmatch(m.Page); match != nil {
			ref.Identifiers = append(ref.Identifiers, core.ReferenceIdentifier{Type: "hal", Value: match[1]})
			return
		}
	}
}

func (h *Harvester) issue(ctx context.Context, conv *harvester.Conversion, fields map[string]any, ref *core.Reference) error {
	location := harvester.MapField(fields, "primary_location")
	source := harvester.MapField(location, "source")
	if source == nil || harvester.StringField(source, "type") != "journal" {
		return nil
	}
	sourceIdentifier := harvester.StringField(source, "id")
	if sourceIdentifier == "" {
		return nil
	}
	journal := &core.Journal{
		Source:           harvesterName,
		SourceIdentifier: sourceIdentifier,
		ISSN:             harvester.StringsField(source, "issn"),
		ISSNL:            harvester.StringField(source, "issn_l"),
		Publisher:        harvester.StringField(source, "host_organization_name"),
	}
	if title := harvester.StringField(source, "display_name"); title != "" {
		journal.Titles = []string{title}
	}

	biblio := harvester.MapField(fields, "biblio")
	volume := harvester.StringField(biblio, "volume")
	var numbers []string
	if n := harvester.StringField(biblio, "issue"); n != "" {
		numbers = []string{n}
	}
	issue := &core.Issue{
		Source:           harvesterName,
		SourceIdentifier: core.IssueSourceIdentifier(journal.Titles, volume, numbers, harvesterName),
		Volume:           volume,
		Number:           numbers,
	}
	resolved, err := conv.Issue(ctx, journal, issue)
	if err != nil {
		return err
	}
	ref.Issue = resolved
	return nil
}

func (h *Harvester) dates(fields map[string]any, ref *core.Reference) {
	if raw := harvester.StringField(fields, "created_date"); raw != "" {
		created, err := harvester.ParseDate(raw)
		if err != nil {
			h.deps.Logger.Warn("unparseable openalex created date",
				zap.String("source_identifier", ref.SourceIdentifier), zap.Error(err))
		} else {
			ref.Created = created
		}
	}
	if raw := harvester.StringField(fields, "publication_date"); raw != "" {
		ref.RawIssued = raw
		issued, err := harvester.ParseDate(raw)
		if err != nil {
			h.deps.Logger.Warn("unparseable openalex publication date",
				zap.String("source_identifier", ref.SourceIdentifier), zap.Error(err))
		} else {
			ref.Issued = issued
		}
	}
}
