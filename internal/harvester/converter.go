package harvester

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/cache"
	"github.com/crisref/harvest-core/internal/config"
	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/store"
)

// =============================================================================
// SHARED CONVERSION CONTEXT
// =============================================================================

// Deps carries the collaborators every adapter shares: persistent
// store, third-party cache, concept dereferencing and source endpoint
// configuration.
type Deps struct {
	Store   *store.Store
	Cache   cache.Cache
	Solvers store.Dereferencer
	Sources config.SourcesConfig
	Logger  *zap.Logger
}

// ContributionSpec describes one contribution before reconciliation.
type ContributionSpec struct {
	// SourceIdentifier is the contributor's identifier at the source,
	// empty when the source only provides a name.
	SourceIdentifier string
	Name             string
	FirstName        string
	LastName         string
	// Role is a LOC relator URL; defaults to the unknown role.
	Role string
	Rank *int
	// Identifiers are the contributor's external identifiers as
	// reported by the source (orcid, idref, ...).
	Identifiers []core.ExternalPersonIdentifier
	// Affiliations are the raw organizations attached to this
	// contribution, reconciled during conversion.
	Affiliations []*core.Organization
}

// SubjectSpec describes one subject concept before resolution: either
// a dereferenceable URI (with an optional fallback label) or a bare
// label.
type SubjectSpec struct {
	URI      string
	Label    string
	Language string
}

// Conversion reconciles the entities of one reference. Duplicate
// contributors or organizations inside a single reference would break
// unique constraints at flush time, so every lookup goes through a
// per-conversion cache before touching the database.
type Conversion struct {
	deps   Deps
	source string

	contributorsByIdentifier map[string]*core.Contributor
	contributorsByName       map[string]*core.Contributor
	organizations            map[string]*core.Organization
}

// NewConversion opens a reconciliation context for one reference
// converted by the named harvester.
func NewConversion(deps Deps, source string) *Conversion {
	return &Conversion{
		deps:                     deps,
		source:                   source,
		contributorsByIdentifier: make(map[string]*core.Contributor),
		contributorsByName:       make(map[string]*core.Contributor),
		organizations:            make(map[string]*core.Organization),
	}
}

// Contributions reconciles each spec into a contribution. Contributor
// updates (name drift, structured name drift, external identifier
// set-diff) apply only when the source identifies the contributor.
func (c *Conversion) Contributions(ctx context.Context, specs []ContributionSpec) ([]*core.Contribution, error) {
	contributions := make([]*core.Contribution, 0, len(specs))
	for _, spec := range specs {
		if spec.SourceIdentifier == "" && spec.Name == "" {
			return nil, fmt.Errorf("no identifier or name provided for contributor")
		}

		contributor, err := c.contributor(ctx, spec)
		if err != nil {
			return nil, err
		}

		affiliations := make([]*core.Organization, 0, len(spec.Affiliations))
		for _, org := range spec.Affiliations {
			resolved, err := c.Organization(ctx, org)
			if err != nil {
				return nil, err
			}
			affiliations = append(affiliations, resolved)
		}

		role := spec.Role
		if role == "" {
			role = string(core.RoleUnknown)
		}
		contributions = append(contributions, &core.Contribution{
			Contributor:  contributor,
			Role:         role,
			Rank:         spec.Rank,
			Affiliations: affiliations,
		})
	}
	return contributions, nil
}

func (c *Conversion) contributor(ctx context.Context, spec ContributionSpec) (*core.Contributor, error) {
	if spec.SourceIdentifier == "" {
		if cached, ok := c.contributorsByName[spec.Name]; ok {
			return cached, nil
		}
		contributor, err := c.deps.Store.GetOrCreateContributorByName(ctx, c.source, spec.Name)
		if err != nil {
			return nil, err
		}
		c.contributorsByName[spec.Name] = contributor
		return contributor, nil
	}

	if cached, ok := c.contributorsByIdentifier[spec.SourceIdentifier]; ok {
		return cached, nil
	}
	contributor, err := c.deps.Store.GetOrCreateContributorByIdentifier(ctx,
		c.source, spec.SourceIdentifier, spec.Name, spec.FirstName, spec.LastName)
	if err != nil {
		return nil, err
	}
	if err := c.deps.Store.UpdateContributorNames(ctx, contributor, spec.Name, spec.FirstName, spec.LastName); err != nil {
		return nil, err
	}
	if err := c.deps.Store.UpdateContributorExternalIdentifiers(ctx, contributor,
		spec.Identifiers, core.ValidExternalIdentifierTypes); err != nil {
		return nil, err
	}
	c.contributorsByIdentifier[spec.SourceIdentifier] = contributor
	return contributor, nil
}

// Organization reconciles one organization through the per-conversion
// cache.
func (c *Conversion) Organization(ctx context.Context, org *core.Organization) (*core.Organization, error) {
	key := org.Source + ":" + org.SourceIdentifier
	if cached, ok := c.organizations[key]; ok {
		return cached, nil
	}
	resolved, err := c.deps.Store.GetOrCreateOrganization(ctx, org)
	if err != nil {
		return nil, err
	}
	c.organizations[key] = resolved
	return resolved, nil
}

// Subjects resolves subject concepts: URI-carrying specs are batch
// dereferenced, bare labels are resolved by (value, language).
func (c *Conversion) Subjects(ctx context.Context, specs []SubjectSpec) ([]*core.Concept, error) {
	var uris []string
	fallbacks := make(map[string]*core.Label)
	for _, spec := range specs {
		if spec.URI == "" {
			continue
		}
		uris = append(uris, spec.URI)
		if spec.Label != "" {
			fallbacks[spec.URI] = &core.Label{Value: spec.Label, Language: spec.Language, Preferred: true}
		}
	}

	byURI, err := c.deps.Store.GetOrCreateConceptsByURI(ctx, uris, fallbacks, c.deps.Solvers)
	if err != nil {
		return nil, err
	}

	concepts := make([]*core.Concept, 0, len(specs))
	for _, spec := range specs {
		if spec.URI != "" {
			if concept, ok := byURI[spec.URI]; ok && concept != nil {
				concepts = append(concepts, concept)
			}
			continue
		}
		if spec.Label == "" {
			continue
		}
		concept, err := c.deps.Store.GetOrCreateConceptByLabel(ctx, spec.Label, spec.Language)
		if err != nil {
			return nil, err
		}
		concepts = append(concepts, concept)
	}
	return concepts, nil
}

// DocumentType resolves a controlled document type by URI.
func (c *Conversion) DocumentType(ctx context.Context, uri, label string) (*core.DocumentType, error) {
	return c.deps.Store.GetOrCreateDocumentType(ctx, uri, label)
}

// Issue resolves the journal first, then the issue inside it.
func (c *Conversion) Issue(ctx context.Context, journal *core.Journal, issue *core.Issue) (*core.Issue, error) {
	resolvedJournal, err := c.deps.Store.GetOrCreateJournal(ctx, journal)
	if err != nil {
		return nil, err
	}
	issue.Journal = resolvedJournal
	return c.deps.Store.GetOrCreateIssue(ctx, issue)
}

// Book resolves a book venue.
func (c *Conversion) Book(ctx context.Context, book *core.Book) (*core.Book, error) {
	return c.deps.Store.GetOrCreateBook(ctx, book)
}
