package idref

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/cache"
	"github.com/crisref/harvest-core/internal/client"
	"github.com/crisref/harvest-core/internal/core"
)

// Cache namespaces for secondary-source documents.
const (
	nsSudoc       = "sudoc_publications"
	nsSciencePlus = "science_plus_publications"
	nsOpenEdition = "open_edition_publications"
	nsPersee      = "persee_publications"
)

// resolver fetches and caches the full document behind a publication
// URI from its secondary source.
type resolver struct {
	sudoc       *client.Client
	sciencePlus *client.Client
	openEdition *client.Client
	persee      *client.Client

	sciencePlusEndpoint string
	cache               cache.Cache
	logger              *zap.Logger
}

func newResolver(deps resolverDeps) *resolver {
	return &resolver{
		sudoc:               client.New(&client.Config{Timeout: deps.sudocTimeout}),
		sciencePlus:         client.New(&client.Config{Timeout: deps.sciencePlusTimeout}),
		openEdition:         client.New(&client.Config{Timeout: deps.defaultTimeout}),
		persee:              client.New(&client.Config{Timeout: deps.defaultTimeout}),
		sciencePlusEndpoint: deps.sciencePlusEndpoint,
		cache:               deps.cache,
		logger:              deps.logger,
	}
}

type resolverDeps struct {
	sudocTimeout        time.Duration
	sciencePlusTimeout  time.Duration
	defaultTimeout      time.Duration
	sciencePlusEndpoint string
	cache               cache.Cache
	logger              *zap.Logger
}

// resolve enriches the publication with its secondary-source document.
// IDREF publications are complete as delivered; HAL publications are
// harvested by the dedicated adapter and reported as unresolvable.
func (r *resolver) resolve(ctx context.Context, pub *publication) error {
	switch pub.SecondarySource {
	case sourceIdref, sourceHal:
		return nil
	case sourceSudoc:
		return r.resolveSudoc(ctx, pub)
	case sourceSciencePlus:
		return r.resolveSciencePlus(ctx, pub)
	case sourceOpenEdition:
		return r.resolveOpenEdition(ctx, pub)
	case sourcePersee:
		return r.resolvePersee(ctx, pub)
	}
	return core.Errorf(core.CodePermanentExternal, false,
		"unknown secondary source %q for uri %s", pub.SecondarySource, pub.URI)
}

// resolveSudoc fetches the SUDOC RDF document: the /id URI suffix is
// swapped for .rdf and the scheme upgraded to https.
func (r *resolver) resolveSudoc(ctx context.Context, pub *publication) error {
	if !strings.HasSuffix(pub.URI, "/id") {
		return core.Errorf(core.CodePermanentExternal, false,
			"sudoc uri %s should end with /id", pub.URI)
	}
	documentURI := strings.TrimSuffix(pub.URI, "/id") + ".rdf"
	documentURI = upgradeScheme(documentURI)
	return r.fetchDocument(ctx, r.sudoc, nsSudoc, documentURI, pub)
}

// resolveSciencePlus runs a CBD DESCRIBE query against the SciencePlus
// SPARQL endpoint for the publication URI.
func (r *resolver) resolveSciencePlus(ctx context.Context, pub *publication) error {
	params := url.Values{
		"query":  []string{fmt.Sprintf("define sql:describe-mode \"CBD\"  DESCRIBE <%s>", pub.URI)},
		"output": []string{"application/rdf+xml"},
	}
	queryURI := r.sciencePlusEndpoint + "?" + params.Encode()
	return r.fetchDocument(ctx, r.sciencePlus, nsSciencePlus, queryURI, pub)
}

func (r *resolver) resolveOpenEdition(ctx context.Context, pub *publication) error {
	return r.fetchDocument(ctx, r.openEdition, nsOpenEdition, pub.URI, pub)
}

// resolvePersee fetches the Persée RDF document: the #Web fragment is
// dropped and the scheme upgraded to https.
func (r *resolver) resolvePersee(ctx context.Context, pub *publication) error {
	if !strings.HasSuffix(pub.URI, "#Web") {
		return core.Errorf(core.CodePermanentExternal, false,
			"persee uri %s should end with #Web", pub.URI)
	}
	documentURI := upgradeScheme(strings.TrimSuffix(pub.URI, "#Web"))
	return r.fetchDocument(ctx, r.persee, nsPersee, documentURI, pub)
}

// fetchDocument retrieves the document from the cache or the source,
// parses it and merges the extracted fields into the publication.
func (r *resolver) fetchDocument(ctx context.Context, c *client.Client, namespace, documentURI string, pub *publication) error {
	payload, err := r.cache.Get(ctx, namespace, documentURI)
	if err != nil {
		r.logger.Warn("secondary document cache lookup failed",
			zap.String("namespace", namespace), zap.Error(err))
	}
	if payload == nil {
		resp, err := c.Do(ctx, &client.Request{
			Method:  http.MethodGet,
			Path:    documentURI,
			Headers: map[string]string{"Accept": "application/rdf+xml"},
		})
		if err != nil {
			return core.WrapError(core.CodeTransientExternal, true,
				fmt.Errorf("fetching %s document %s: %w", pub.SecondarySource, documentURI, err))
		}
		payload = resp.Body
		if err := r.cache.Set(ctx, namespace, documentURI, payload); err != nil {
			r.logger.Warn("secondary document cache write failed",
				zap.String("namespace", namespace), zap.Error(err))
		}
	}

	fields, err := parseRDF(payload)
	if err != nil {
		return err
	}
	mergeSecondary(pub, fields)
	return nil
}

// mergeSecondary folds the secondary document fields into the
// publication, preferring the richer secondary values.
func mergeSecondary(pub *publication, fields *rdfFields) {
	pub.Secondary = map[string]any{}
	for _, title := range fields.Titles {
		pub.Titles = appendUnique(pub.Titles, title.Value)
	}
	for _, abstract := range fields.Abstracts {
		pub.Notes = appendUnique(pub.Notes, abstract.Value)
	}
	if pub.Date == "" && len(fields.Dates) > 0 {
		pub.Date = fields.Dates[0]
	}
	if pub.DOI == "" && len(fields.DOIs) > 0 {
		pub.DOI = fields.DOIs[0]
	}
}

func upgradeScheme(uri string) string {
	if rest, ok := strings.CutPrefix(uri, "http://"); ok {
		return "https://" + rest
	}
	return uri
}
