// Package hal harvests bibliographic references from the HAL open
// archive search API (JSON documents, offset pagination).
package hal

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/client"
	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/harvester"
	"github.com/crisref/harvest-core/internal/hash"
)

const (
	harvesterName    = "hal"
	harvesterVersion = "1.2.0"

	defaultPageSize = 100
	defaultTimeout  = 20 * time.Second
)

// Fields requested from the search API. Requesting an explicit list
// keeps payloads stable when HAL adds fields.
var requestedFields = []string{
	"docid",
	"title_s",
	"subTitle_s",
	"abstract_s",
	"keyword_s",
	"docType_s",
	"authFullName_s",
	"authFirstName_s",
	"authLastName_s",
	"authQuality_s",
	"authIdHalFullName_fs",
	"halId_s",
	"doiId_s",
	"arxivId_s",
	"nntId_s",
	"uri_s",
	"fileMain_s",
	"journalId_i",
	"journalTitle_s",
	"journalIssn_s",
	"journalEissn_s",
	"journalPublisher_s",
	"volume_s",
	"issue_s",
	"page_s",
	"publicationDate_tdate",
	"submittedDate_tdate",
}

// facetSeparator splits the two halves of HAL *_fs facet fields.
const facetSeparator = "_FacetSep_"

// Harvester implements the HAL adapter.
type Harvester struct {
	deps     harvester.Deps
	client   *client.Client
	pageSize int
}

var _ harvester.Harvester = (*Harvester)(nil)

// New builds the HAL adapter from the shared dependencies and the
// registry settings for this entry.
func New(deps harvester.Deps, settings map[string]string) (*Harvester, error) {
	pageSize := defaultPageSize
	if raw, ok := settings["page_size"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid hal page_size %q", raw)
		}
		pageSize = n
	}
	c := client.New(&client.Config{
		BaseURL: deps.Sources.HalURL,
		Timeout: defaultTimeout,
	})
	return &Harvester{deps: deps, client: c, pageSize: pageSize}, nil
}

func (h *Harvester) Name() string    { return harvesterName }
func (h *Harvester) Version() string { return harvesterVersion }

// IsRelevant reports whether the entity carries a HAL author
// identifier, numeric or alphanumeric.
func (h *Harvester) IsRelevant(entity *core.Entity) bool {
	return entity.HasIdentifier("id_hal_i") || entity.HasIdentifier("id_hal_s")
}

// HashKeys lists the payload fields participating in the digest.
// Author order is meaningful in HAL, so authFullName_s stays ordered.
func (h *Harvester) HashKeys() []hash.Key {
	return []hash.Key{
		{Name: "docid"},
		{Name: "title_s"},
		{Name: "subTitle_s"},
		{Name: "abstract_s"},
		{Name: "keyword_s"},
		{Name: "docType_s"},
		{Name: "authFullName_s", Ordered: true},
		{Name: "doiId_s"},
		{Name: "publicationDate_tdate"},
		{Name: "journalTitle_s"},
	}
}

// Fetch pages through the search results for the entity's HAL
// identifier and streams one record per document.
func (h *Harvester) Fetch(ctx context.Context, entity *core.Entity) *harvester.RecordIterator {
	return harvester.NewRecordIterator(ctx, func(ctx context.Context, out chan<- harvester.RawRecord) error {
		paginator := client.NewOffsetPaginator("", h.pageSize, url.Values{
			"q":    []string{h.searchQuery(entity)},
			"fl":   []string{strings.Join(requestedFields, ",")},
			"sort": []string{"docid asc"},
			"wt":   []string{"json"},
		})
		it := client.NewPaginatedIterator(ctx, h.client, paginator.FirstPage(), paginator, parseDocs)
		defer it.Close()
		for it.Next() {
			doc := it.Value()
			docid, ok := harvester.NumberField(doc, "docid")
			identifier := harvester.StringField(doc, "docid")
			if ok {
				identifier = strconv.FormatInt(int64(docid), 10)
			}
			if identifier == "" {
				h.deps.Logger.Warn("hal document without docid skipped")
				continue
			}
			record := harvester.RawRecord{SourceIdentifier: identifier, Fields: doc}
			if err := harvester.Emit(ctx, out, record); err != nil {
				return err
			}
		}
		return it.Err()
	})
}

func (h *Harvester) searchQuery(entity *core.Entity) string {
	if v := entity.IdentifierValue("id_hal_i"); v != "" {
		return fmt.Sprintf("authIdHal_i:%s", v)
	}
	return fmt.Sprintf("authIdHal_s:%q", entity.IdentifierValue("id_hal_s"))
}

func parseDocs(resp *client.Response) ([]map[string]any, error) {
	var body struct {
		Response struct {
			Docs []map[string]any `json:"docs"`
		} `json:"response"`
	}
	if err := resp.JSON(&body); err != nil {
		return nil, fmt.Errorf("failed to decode hal response: %w", err)
	}
	return body.Response.Docs, nil
}

// Convert normalises one HAL document.
func (h *Harvester) Convert(ctx context.Context, record harvester.RawRecord) (*core.Reference, error) {
	ref := harvester.Seed(h, record)
	conv := harvester.NewConversion(h.deps, harvesterName)
	fields := record.Fields

	for _, t := range harvester.StringsField(fields, "title_s") {
		ref.Titles = append(ref.Titles, core.Title{Value: t})
	}
	for _, s := range harvester.StringsField(fields, "subTitle_s") {
		ref.Subtitles = append(ref.Subtitles, core.Subtitle{Value: s})
	}
	for _, a := range harvester.StringsField(fields, "abstract_s") {
		ref.Abstracts = append(ref.Abstracts, core.Abstract{Value: a})
	}

	docType, err := h.documentType(ctx, conv, fields)
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

	ref.Identifiers = append(ref.Identifiers, h.identifiers(fields)...)
	ref.Manifestations = append(ref.Manifestations, h.manifestations(fields)...)
	ref.Page = harvester.StringField(fields, "page_s")

	if err := h.issue(ctx, conv, fields, ref); err != nil {
		return nil, err
	}
	h.dates(fields, ref)

	return ref, nil
}

func (h *Harvester) documentType(ctx context.Context, conv *harvester.Conversion, fields map[string]any) (*core.DocumentType, error) {
	code := harvester.StringField(fields, "docType_s")
	spec, known := documentTypes.Convert(code)
	if !known {
		h.deps.Logger.Warn("unknown hal document type", zap.String("code", code))
	}
	return conv.DocumentType(ctx, spec.URI, spec.Label)
}

func (h *Harvester) subjectSpecs(fields map[string]any) []harvester.SubjectSpec {
	keywords := harvester.StringsField(fields, "keyword_s")
	specs := make([]harvester.SubjectSpec, 0, len(keywords))
	for _, kw := range keywords {
		specs = append(specs, harvester.SubjectSpec{Label: kw})
	}
	return specs
}

// contributionSpecs pairs the ordered author facets of a HAL
// document. authFullName_s carries every author in citation order;
// the parallel name and quality lists align with it index-wise, while
// idHAL codes come from the authIdHalFullName_fs facet keyed by full
// name (authors without an idHAL are absent from it).
func (h *Harvester) contributionSpecs(fields map[string]any) []harvester.ContributionSpec {
	fullNames := harvester.StringsField(fields, "authFullName_s")
	firstNames := harvester.StringsField(fields, "authFirstName_s")
	lastNames := harvester.StringsField(fields, "authLastName_s")
	qualities := harvester.StringsField(fields, "authQuality_s")

	idHalByName := make(map[string]string)
	for _, facet := range harvester.StringsField(fields, "authIdHalFullName_fs") {
		parts := strings.SplitN(facet, facetSeparator, 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		idHalByName[parts[1]] = parts[0]
	}

	specs := make([]harvester.ContributionSpec, 0, len(fullNames))
	for i, name := range fullNames {
		rank := i + 1
		spec := harvester.ContributionSpec{
			Name: name,
			Rank: &rank,
			Role: core.RelatorURL("aut"),
		}
		if i < len(firstNames) {
			spec.FirstName = firstNames[i]
		}
		if i < len(lastNames) {
			spec.LastName = lastNames[i]
		}
		if i < len(qualities) && qualities[i] != "" {
			spec.Role = core.RelatorURL(qualities[i])
		}
		if idHal, ok := idHalByName[name]; ok {
			spec.SourceIdentifier = idHal
			spec.Identifiers = []core.ExternalPersonIdentifier{{Type: "id_hal_s", Value: idHal}}
		}
		specs = append(specs, spec)
	}
	return specs
}

// Straight field-to-type mapping for persistent identifiers.
var identifierFields = map[string]string{
	"halId_s":   "hal",
	"doiId_s":   "doi",
	"arxivId_s": "arxiv",
	"nntId_s":   "nnt",
}

func (h *Harvester) identifiers(fields map[string]any) []core.ReferenceIdentifier {
	var out []core.ReferenceIdentifier
	for field, idType := range identifierFields {
		if v := harvester.StringField(fields, field); v != "" {
			out = append(out, core.ReferenceIdentifier{Type: idType, Value: v})
		}
	}
	if uri := harvester.StringField(fields, "uri_s"); uri != "" {
		out = append(out, core.ReferenceIdentifier{Type: "uri", Value: uri})
	}
	return out
}

func (h *Harvester) manifestations(fields map[string]any) []core.Manifestation {
	page := harvester.StringField(fields, "uri_s")
	if page == "" {
		return nil
	}
	m, err := core.NewManifestation(page, harvester.StringField(fields, "fileMain_s"))
	if err != nil {
		h.deps.Logger.Warn("invalid hal manifestation skipped",
			zap.String("page", page), zap.Error(err))
		return nil
	}
	return []core.Manifestation{m}
}

func (h *Harvester) issue(ctx context.Context, conv *harvester.Conversion, fields map[string]any, ref *core.Reference) error {
	title := harvester.StringField(fields, "journalTitle_s")
	journalID, ok := harvester.NumberField(fields, "journalId_i")
	if title == "" || !ok {
		return nil
	}
	journal := &core.Journal{
		Source:           harvesterName,
		SourceIdentifier: strconv.FormatInt(int64(journalID), 10),
		Titles:           []string{title},
		Publisher:        harvester.StringField(fields, "journalPublisher_s"),
	}
	if issn := harvester.StringField(fields, "journalIssn_s"); issn != "" {
		journal.ISSN = []string{issn}
	}
	if eissn := harvester.StringField(fields, "journalEissn_s"); eissn != "" {
		journal.EISSN = []string{eissn}
	}

	volume := harvester.StringField(fields, "volume_s")
	numbers := harvester.StringsField(fields, "issue_s")
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
	if raw := harvester.StringField(fields, "publicationDate_tdate"); raw != "" {
		ref.RawIssued = raw
		issued, err := harvester.ParseDate(raw)
		if err != nil {
			h.deps.Logger.Warn("unparseable hal publication date",
				zap.String("source_identifier", ref.SourceIdentifier), zap.Error(err))
		} else {
			ref.Issued = issued
		}
	}
	if raw := harvester.StringField(fields, "submittedDate_tdate"); raw != "" {
		created, err := harvester.ParseDate(raw)
		if err != nil {
			h.deps.Logger.Warn("unparseable hal submitted date",
				zap.String("source_identifier", ref.SourceIdentifier), zap.Error(err))
		} else {
			ref.Created = created
		}
	}
}
