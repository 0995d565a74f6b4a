// Package idref harvests bibliographic references from the
// data.idref.fr SPARQL endpoint. The endpoint aggregates publication
// stubs from several catalogues; full records are fetched from the
// secondary source each stub points to (SUDOC, SciencePlus,
// OpenEdition, Persée) with third-party caching.
package idref

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/harvester"
	"github.com/crisref/harvest-core/internal/hash"
)

const (
	harvesterName    = "idref"
	harvesterVersion = "1.6.0"

	// The SUDOC server rejects clients running more than a handful of
	// parallel requests, so after this many pending SUDOC fetches the
	// whole pending set is drained before accepting more.
	maxSudocParallelism = 3

	defaultSecondaryTimeout = 30 * time.Second
)

// idrefURIPrefix frames contributor and publication idref URIs:
// http://www.idref.fr/<code>/id.
const idrefURIPrefix = "http://www.idref.fr/"

// Harvester implements the IdRef adapter.
type Harvester struct {
	deps     harvester.Deps
	sparql   *sparqlClient
	resolver *resolver
}

var _ harvester.Harvester = (*Harvester)(nil)

// New builds the IdRef adapter from the configured endpoints.
func New(deps harvester.Deps, settings map[string]string) (*Harvester, error) {
	sources := deps.Sources
	return &Harvester{
		deps:   deps,
		sparql: newSparqlClient(sources.IdrefSparqlEndpoint, sources.IdrefSparqlTimeout),
		resolver: newResolver(resolverDeps{
			sudocTimeout:        sources.IdrefSudocTimeout,
			sciencePlusTimeout:  sources.IdrefSciencePlusTimeout,
			defaultTimeout:      defaultSecondaryTimeout,
			sciencePlusEndpoint: sources.SciencePlusURL,
			cache:               deps.Cache,
			logger:              deps.Logger,
		}),
	}, nil
}

func (h *Harvester) Name() string    { return harvesterName }
func (h *Harvester) Version() string { return harvesterVersion }

// IsRelevant reports whether the entity carries an identifier
// data.idref.fr indexes persons by.
func (h *Harvester) IsRelevant(entity *core.Entity) bool {
	return entity.HasIdentifier("idref") || entity.HasIdentifier("orcid")
}

// HashKeys lists the publication fields participating in the digest.
func (h *Harvester) HashKeys() []hash.Key {
	return []hash.Key{
		{Name: "uri"},
		{Name: "role"},
		{Name: "title"},
		{Name: "type"},
		{Name: "altLabel"},
		{Name: "subject"},
	}
}

// Fetch queries the SPARQL endpoint for the person's publications and
// fans out to the secondary sources. Secondary fetches run in
// parallel, bounded by the SUDOC drain rule; failures surface as
// per-record errors so the remaining publications keep flowing.
func (h *Harvester) Fetch(ctx context.Context, entity *core.Entity) *harvester.RecordIterator {
	return harvester.NewRecordIterator(ctx, func(ctx context.Context, out chan<- harvester.RawRecord) error {
		query := personQuery(entity.IdentifierValue("idref"), entity.IdentifierValue("orcid"))
		publications, err := h.sparql.fetchPublications(ctx, query)
		if err != nil {
			return err
		}

		var pending []chan harvester.RawRecord
		drain := func() error {
			for _, result := range pending {
				select {
				case record := <-result:
					if err := harvester.Emit(ctx, out, record); err != nil {
						return err
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			pending = nil
			return nil
		}

		sudocWaiting := 0
		for _, pub := range publications {
			if pub.SecondarySource == sourceHal {
				// HAL publications are harvested by the dedicated
				// adapter with far richer payloads.
				continue
			}
			result := make(chan harvester.RawRecord, 1)
			pending = append(pending, result)
			go func(pub *publication) {
				record := harvester.RawRecord{SourceIdentifier: pub.URI}
				if err := h.resolver.resolve(ctx, pub); err != nil {
					record.Err = err
				} else {
					record.Fields = pub.fields()
				}
				result <- record
			}(pub)

			if pub.SecondarySource == sourceSudoc {
				sudocWaiting++
			}
			if sudocWaiting >= maxSudocParallelism {
				sudocWaiting = 0
				if err := drain(); err != nil {
					return err
				}
			}
		}
		return drain()
	})
}

// fields flattens the aggregated publication for hashing and
// conversion, contributor and subject maps keyed by URI.
func (p *publication) fields() map[string]any {
	contributors := make(map[string]any, len(p.Contributors))
	for _, uri := range p.ContributorURIs {
		person := p.Contributors[uri]
		contributors[uri] = map[string]any{
			"name":       person.Name,
			"familyName": person.FamilyName,
			"givenName":  person.GivenName,
			"roles":      person.Roles,
		}
	}
	subjects := make(map[string]any, len(p.Subjects))
	for _, uri := range p.SubjectURIs {
		s := p.Subjects[uri]
		subjects[uri] = map[string]any{"uri": s.URI, "label": s.Label, "lang": s.Language}
	}
	return map[string]any{
		"uri":              p.URI,
		"role":             p.Role,
		"date":             p.Date,
		"doi":              p.DOI,
		"title":            p.Titles,
		"altLabel":         p.AltLabels,
		"note":             p.Notes,
		"type":             p.Types,
		"equivalent":       p.Equivalents,
		"contributors":     contributors,
		"subject":          subjects,
		"secondary_source": p.SecondarySource,
	}
}

// Convert normalises one aggregated IdRef publication.
func (h *Harvester) Convert(ctx context.Context, record harvester.RawRecord) (*core.Reference, error) {
	ref := harvester.Seed(h, record)
	conv := harvester.NewConversion(h.deps, harvesterName)
	fields := record.Fields

	for _, title := range harvester.StringsField(fields, "title") {
		ref.Titles = append(ref.Titles, core.Title{Value: title, Language: "fr"})
	}
	for _, subtitle := range harvester.StringsField(fields, "altLabel") {
		ref.Subtitles = append(ref.Subtitles, core.Subtitle{Value: subtitle, Language: "fr"})
	}
	for _, abstract := range harvester.StringsField(fields, "note") {
		ref.Abstracts = append(ref.Abstracts, core.Abstract{Value: abstract, Language: "fr"})
	}

	subjects, err := conv.Subjects(ctx, h.subjectSpecs(fields))
	if err != nil {
		return nil, err
	}
	ref.Subjects = append(ref.Subjects, subjects...)

	for _, typeURI := range harvester.StringsField(fields, "type") {
		spec, known := documentTypes.Convert(typeURI)
		if !known {
			h.deps.Logger.Warn("unknown idref document type", zap.String("uri", typeURI))
		}
		docType, err := conv.DocumentType(ctx, spec.URI, spec.Label)
		if err != nil {
			return nil, err
		}
		ref.DocumentType = append(ref.DocumentType, docType)
	}

	contributions, err := conv.Contributions(ctx, h.contributionSpecs(fields))
	if err != nil {
		return nil, err
	}
	ref.Contributions = append(ref.Contributions, contributions...)

	ref.Identifiers = append(ref.Identifiers,
		core.ReferenceIdentifier{Type: "uri", Value: harvester.StringField(fields, "uri")})
	for _, equivalent := range harvester.StringsField(fields, "equivalent") {
		ref.Identifiers = append(ref.Identifiers,
			core.ReferenceIdentifier{Type: "uri", Value: equivalent})
	}
	if doi := harvester.StringField(fields, "doi"); doi != "" {
		ref.Identifiers = append(ref.Identifiers,
			core.ReferenceIdentifier{Type: "doi", Value: doi})
	}

	if raw := harvester.StringField(fields, "date"); raw != "" {
		ref.RawIssued = raw
		issued, err := harvester.ParseDate(raw)
		if err != nil {
			h.deps.Logger.Warn("unparseable idref publication date",
				zap.String("source_identifier", ref.SourceIdentifier), zap.Error(err))
		} else {
			ref.Issued = issued
		}
	}

	return ref, nil
}

func (h *Harvester) subjectSpecs(fields map[string]any) []harvester.SubjectSpec {
	subjects := harvester.MapField(fields, "subject")
	specs := make([]harvester.SubjectSpec, 0, len(subjects))
	for _, raw := range subjects {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		specs = append(specs, harvester.SubjectSpec{
			URI:      harvester.StringField(entry, "uri"),
			Label:    harvester.StringField(entry, "label"),
			Language: "fr",
		})
	}
	return specs
}

// contributionSpecs emits one contribution per contributor role. The
// contributor URI doubles as the idref external identifier.
func (h *Harvester) contributionSpecs(fields map[string]any) []harvester.ContributionSpec {
	contributors := harvester.MapField(fields, "contributors")
	var specs []harvester.ContributionSpec
	for contributorURI, raw := range contributors {
		entry, ok := raw.(map[string]any)
		if !ok || contributorURI == "" {
			continue
		}
		name := harvester.StringField(entry, "name")
		familyName := harvester.StringField(entry, "familyName")
		givenName := harvester.StringField(entry, "givenName")
		if familyName != "" && givenName != "" {
			name = givenName + " " + familyName
		}

		var identifiers []core.ExternalPersonIdentifier
		if code := idrefCode(contributorURI); code != "" {
			identifiers = append(identifiers,
				core.ExternalPersonIdentifier{Type: "idref", Value: code})
		}

		roles := harvester.StringsField(entry, "roles")
		if len(roles) == 0 {
			roles = []string{""}
		}
		for _, roleURI := range roles {
			specs = append(specs, harvester.ContributionSpec{
				SourceIdentifier: contributorURI,
				Name:             name,
				FirstName:        givenName,
				LastName:         familyName,
				Role:             convertRole(roleURI),
				Identifiers:      identifiers,
			})
		}
	}
	return specs
}

// idrefCode extracts the idref code from a contributor URI.
func idrefCode(uri string) string {
	rest, ok := strings.CutPrefix(uri, idrefURIPrefix)
	if !ok {
		return ""
	}
	return strings.TrimSuffix(rest, "/id")
}
