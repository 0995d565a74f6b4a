// Package scopus harvests bibliographic references from the Elsevier
// Scopus search API (Atom XML entries, API-key authentication).
package scopus

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/client"
	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/harvester"
	"github.com/crisref/harvest-core/internal/hash"
)

const (
	harvesterName    = "scopus"
	harvesterVersion = "1.0.0"

	defaultPageSize = 25
	defaultTimeout  = 30 * time.Second

	// defaultView asks the search API for the full record shape,
	// including authors and affiliations.
	defaultView = "COMPLETE"
)

// Harvester implements the Scopus adapter.
type Harvester struct {
	deps     harvester.Deps
	client   *client.Client
	view     string
	pageSize int
}

var _ harvester.Harvester = (*Harvester)(nil)

// New builds the Scopus adapter. The institutional token is optional;
// without it the API serves the standard entitlements of the key.
func New(deps harvester.Deps, settings map[string]string) (*Harvester, error) {
	view := defaultView
	if v, ok := settings["view"]; ok && v != "" {
		view = v
	}
	pageSize := defaultPageSize
	if raw, ok := settings["page_size"]; ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid scopus page_size %q", raw)
		}
		pageSize = parsed
	}
	c := client.New(&client.Config{
		BaseURL: deps.Sources.ScopusURL,
		Timeout: defaultTimeout,
		Auth: client.ElsevierAuth{
			APIKey:    deps.Sources.ScopusAPIKey,
			InstToken: deps.Sources.ScopusInstToken,
		},
		Headers: map[string]string{"Accept": "application/xml"},
	})
	return &Harvester{deps: deps, client: c, view: view, pageSize: pageSize}, nil
}

func (h *Harvester) Name() string    { return harvesterName }
func (h *Harvester) Version() string { return harvesterVersion }

// IsRelevant reports whether the entity carries an identifier the
// search API can target an author with.
func (h *Harvester) IsRelevant(entity *core.Entity) bool {
	return entity.HasIdentifier("scopus") || entity.HasIdentifier("orcid")
}

// HashKeys lists the flattened entry fields participating in the
// digest. Author order is meaningful, so default:author stays
// ordered.
func (h *Harvester) HashKeys() []hash.Key {
	return []hash.Key{
		{Name: "prism:url"},
		{Name: "dc:identifier"},
		{Name: "dc:title"},
		{Name: "dc:description"},
		{Name: "default:subtype"},
		{Name: "prism:coverDate"},
		{Name: "prism:doi"},
		{Name: "prism:issn"},
		{Name: "default:authkeywords"},
		{Name: "default:affiliation"},
		{Name: "default:author", Ordered: true},
	}
}

// searchFeed is the paging envelope of one result page.
type searchFeed struct {
	TotalResults int       `xml:"http://a9.com/-/spec/opensearch/1.1/ totalResults"`
	Entries      []xmlNode `xml:"http://www.w3.org/2005/Atom entry"`
}

// Fetch pages through the search results for the entity's author
// query and streams one record per entry.
func (h *Harvester) Fetch(ctx context.Context, entity *core.Entity) *harvester.RecordIterator {
	return harvester.NewRecordIterator(ctx, func(ctx context.Context, out chan<- harvester.RawRecord) error {
		start := 0
		for {
			feed, err := h.fetchPage(ctx, entity, start)
			if err != nil {
				return err
			}
			if len(feed.Entries) == 0 {
				return nil
			}
			for _, entry := range feed.Entries {
				fields, ok := flattenNode(entry).(map[string]any)
				if !ok {
					continue
				}
				identifier := textValue(fields, "dc:identifier")
				if identifier == "" {
					h.deps.Logger.Warn("scopus entry without dc:identifier skipped")
					continue
				}
				record := harvester.RawRecord{SourceIdentifier: identifier, Fields: fields}
				if err := harvester.Emit(ctx, out, record); err != nil {
					return err
				}
			}
			start += len(feed.Entries)
			if start >= feed.TotalResults {
				return nil
			}
		}
	})
}

func (h *Harvester) fetchPage(ctx context.Context, entity *core.Entity, start int) (*searchFeed, error) {
	resp, err := h.client.Get(ctx, "", url.Values{
		"query": []string{h.searchQuery(entity)},
		"view":  []string{h.view},
		"start": []string{strconv.Itoa(start)},
		"count": []string{strconv.Itoa(h.pageSize)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch scopus page at %d: %w", start, err)
	}
	var feed searchFeed
	if err := resp.XML(&feed); err != nil {
		return nil, fmt.Errorf("failed to decode scopus feed: %w", err)
	}
	return &feed, nil
}

func (h *Harvester) searchQuery(entity *core.Entity) string {
	if v := entity.IdentifierValue("scopus"); v != "" {
		return fmt.Sprintf("AU-ID(%s)", v)
	}
	return fmt.Sprintf("ORCID(%s)", entity.IdentifierValue("orcid"))
}

// Field-to-type mapping for reference identifiers.
var identifierFields = map[string]string{
	"prism:doi":         "doi",
	"default:pubmed-id": "pubmed",
}

// Convert normalises one Scopus entry.
func (h *Harvester) Convert(ctx context.Context, record harvester.RawRecord) (*core.Reference, error) {
	ref := harvester.Seed(h, record)
	conv := harvester.NewConversion(h.deps, harvesterName)
	fields := record.Fields

	for _, t := range textValues(fields, "dc:title") {
		ref.Titles = append(ref.Titles, core.Title{Value: t})
	}
	for _, a := range textValues(fields, "dc:description") {
		ref.Abstracts = append(ref.Abstracts, core.Abstract{Value: a})
	}

	if err := h.documentTypes(ctx, conv, fields, ref); err != nil {
		return nil, err
	}

	for field, idType := range identifierFields {
		if v := textValue(fields, field); v != "" {
			ref.Identifiers = append(ref.Identifiers, core.ReferenceIdentifier{Type: idType, Value: v})
		}
	}

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

	if raw := textValue(fields, "prism:coverDate"); raw != "" {
		ref.RawIssued = raw
		issued, err := harvester.ParseDate(raw)
		if err != nil {
			h.deps.Logger.Warn("unparseable scopus cover date",
				zap.String("source_identifier", ref.SourceIdentifier), zap.Error(err))
		} else {
			ref.Issued = issued
		}
	}

	if err := h.issue(ctx, conv, fields, ref); err != nil {
		return nil, err
	}
	if err := h.book(ctx, conv, fields, ref); err != nil {
		return nil, err
	}

	ref.Page = textValue(fields, "prism:pageRange")

	return ref, nil
}

func (h *Harvester) documentTypes(ctx context.Context, conv *harvester.Conversion, fields map[string]any, ref *core.Reference) error {
	for _, code := range textValues(fields, "default:subtype") {
		spec, known := documentTypes.Convert(code)
		if !known {
			h.deps.Logger.Warn("unknown scopus document type", zap.String("code", code))
		}
		docType, err := conv.DocumentType(ctx, spec.URI, spec.Label)
		if err != nil {
			return err
		}
		ref.DocumentType = append(ref.DocumentType, docType)
	}
	return nil
}

// subjectSpecs splits the authkeywords field, a single string of
// keywords separated by pipes.
func (h *Harvester) subjectSpecs(fields map[string]any) []harvester.SubjectSpec {
	var specs []harvester.SubjectSpec
	for _, keyword := range splitKeywords(textValue(fields, "default:authkeywords")) {
		specs = append(specs, harvester.SubjectSpec{Label: keyword})
	}
	return specs
}

func (h *Harvester) contributionSpecs(fields map[string]any) []harvester.ContributionSpec {
	affiliations := h.affiliationIndex(fields)
	authors := entryMaps(fields, "default:author")
	specs := make([]harvester.ContributionSpec, 0, len(authors))
	for _, author := range authors {
		identifier := textValue(author, "default:authid")
		name := textValue(author, "default:authname")
		if identifier == "" && name == "" {
			continue
		}
		spec := harvester.ContributionSpec{
			SourceIdentifier: identifier,
			Name:             name,
			FirstName:        textValue(author, "default:given-name"),
			LastName:         textValue(author, "default:surname"),
			Role:             core.RelatorURL("aut"),
		}
		if seq, ok := author["@seq"].(string); ok {
			if rank, err := strconv.Atoi(seq); err == nil {
				spec.Rank = &rank
			}
		}
		if identifier != "" {
			spec.Identifiers = append(spec.Identifiers,
				core.ExternalPersonIdentifier{Type: "scopus", Value: identifier})
		}
		if orcid := textValue(author, "default:orcid"); orcid != "" {
			spec.Identifiers = append(spec.Identifiers,
				core.ExternalPersonIdentifier{Type: "orcid", Value: orcid})
		}
		for _, afid := range textValues(author, "default:afid") {
			if org, ok := affiliations[afid]; ok {
				spec.Affiliations = append(spec.Affiliations, org)
			}
		}
		specs = append(specs, spec)
	}
	return specs
}

// affiliationIndex maps afid codes to organizations from the
// entry-level affiliation list.
func (h *Harvester) affiliationIndex(fields map[string]any) map[string]*core.Organization {
	out := make(map[string]*core.Organization)
	for _, affiliation := range entryMaps(fields, "default:affiliation") {
		afid := textValue(affiliation, "default:afid")
		if afid == "" {
			continue
		}
		out[afid] = &core.Organization{
			Source:           harvesterName,
			SourceIdentifier: afid,
			Name:             textValue(affiliation, "default:affilname"),
			Identifiers:      []core.OrganizationIdentifier{{Type: "scopus", Value: afid}},
		}
	}
	return out
}

func (h *Harvester) issue(ctx context.Context, conv *harvester.Conversion, fields map[string]any, ref *core.Reference) error {
	issn := formatISSN(textValue(fields, "prism:issn"))
	eissn := formatISSN(textValue(fields, "prism:eIssn"))
	sourceIdentifier := textValue(fields, "default:source-id")
	if (issn == "" && eissn == "") || sourceIdentifier == "" {
		return nil
	}
	journal := &core.Journal{
		Source:           harvesterName,
		SourceIdentifier: sourceIdentifier,
	}
	if issn != "" {
		journal.ISSN = []string{issn}
	}
	if eissn != "" {
		journal.EISSN = []string{eissn}
	}
	if title := textValue(fields, "prism:publicationName"); title != "" {
		journal.Titles = []string{title}
	}

	volume := textValue(fields, "prism:volume")
	var numbers []string
	if n := textValue(fields, "prism:issueIdentifier"); n != "" {
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

// book resolves the host book for entries typed Book or Chapter.
func (h *Harvester) book(ctx context.Context, conv *harvester.Conversion, fields map[string]any, ref *core.Reference) error {
	hosted := false
	for _, dt := range ref.DocumentType {
		if dt.Label == "Book" || dt.Label == "Chapter" {
			hosted = true
			break
		}
	}
	if !hosted {
		return nil
	}

	var isbn10, isbn13 string
	for _, raw := range textValues(fields, "prism:isbn") {
		ten, thirteen := parseISBN(raw)
		if ten != "" {
			isbn10 = ten
		}
		if thirteen != "" {
			isbn13 = thirteen
		}
		if isbn10 != "" && isbn13 != "" {
			break
		}
	}
	title := textValue(fields, "prism:publicationName")
	if title == "" && isbn10 == "" && isbn13 == "" {
		return nil
	}
	book, err := conv.Book(ctx, &core.Book{
		Source: harvesterName,
		Title:  title,
		ISBN10: isbn10,
		ISBN13: isbn13,
	})
	if err != nil {
		return err
	}
	ref.Book = book
	return nil
}
