package idref

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crisref/harvest-core/internal/client"
	"github.com/crisref/harvest-core/internal/core"
)

// Secondary sources data.idref.fr aggregates publications from. The
// publication URI prefix identifies where the full record lives.
const (
	sourceIdref       = "IDREF"
	sourceHal         = "HAL"
	sourceSudoc       = "SUDOC"
	sourceSciencePlus = "SCIENCE_PLUS"
	sourceOpenEdition = "OPEN_EDITION"
	sourcePersee      = "PERSEE"
)

var sourcePrefixes = map[string][]string{
	sourceIdref:       {"http://www.idref.fr/"},
	sourceHal:         {"https://hal.archives-ouvertes.fr/"},
	sourceSudoc:       {"http://www.sudoc.fr/"},
	sourceSciencePlus: {"http://hub.abes.fr/"},
	sourceOpenEdition: {
		"http://journals.openedition.org/",
		"https://journals.openedition.org/",
		"http://books.openedition.org/",
		"https://books.openedition.org/",
	},
	sourcePersee: {"http://data.persee.fr/"},
}

// Contributor roles are kept only when expressed in a recognised
// authorship vocabulary.
var authorRolePrefixes = []string{
	"http://id.loc.gov/vocabulary/relators/",
	"http://www.abes.fr/vocabularies/theses/roles/",
}

// sparqlClient queries a SPARQL endpoint returning JSON bindings.
type sparqlClient struct {
	http *client.Client
}

func newSparqlClient(endpoint string, timeout time.Duration) *sparqlClient {
	return &sparqlClient{
		http: client.New(&client.Config{BaseURL: endpoint, Timeout: timeout}),
	}
}

type sparqlResponse struct {
	Results struct {
		Bindings []map[string]sparqlTerm `json:"bindings"`
	} `json:"results"`
}

type sparqlTerm struct {
	Value    string `json:"value"`
	Language string `json:"xml:lang"`
}

// publication is one aggregated publication row of the person query.
type publication struct {
	URI             string
	Role            string
	Date            string
	DOI             string
	Titles          []string
	AltLabels       []string
	Notes           []string
	Types           []string
	Equivalents     []string
	Contributors    map[string]*contributor
	ContributorURIs []string
	Subjects        map[string]subject
	SubjectURIs     []string
	SecondarySource string

	// Payload fields merged from the secondary source document.
	Secondary map[string]any
}

type contributor struct {
	Name       string
	FamilyName string
	GivenName  string
	Roles      []string
}

type subject struct {
	URI      string
	Label    string
	Language string
}

// fetchPublications runs the person query and aggregates the flat
// bindings into one publication per distinct ?pub, preserving first
// appearance order.
func (c *sparqlClient) fetchPublications(ctx context.Context, query string) ([]*publication, error) {
	form := url.Values{"query": []string{query}}
	resp, err := c.http.Do(ctx, &client.Request{
		Method: http.MethodPost,
		Body:   strings.NewReader(form.Encode()),
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
			"Accept":       "application/sparql-results+json",
		},
	})
	if err != nil {
		return nil, core.WrapError(core.CodeTransientExternal, true,
			fmt.Errorf("querying idref sparql endpoint: %w", err))
	}
	var decoded sparqlResponse
	if err := resp.JSON(&decoded); err != nil {
		return nil, core.WrapError(core.CodePermanentExternal, false,
			fmt.Errorf("decoding idref sparql response: %w", err))
	}

	byURI := make(map[string]*publication)
	var ordered []*publication
	for _, binding := range decoded.Results.Bindings {
		if !hasAuthorRole(binding["role"].Value) {
			continue
		}
		uri := binding["pub"].Value
		if uri == "" {
			continue
		}
		pub, ok := byURI[uri]
		if !ok {
			source, err := secondarySource(uri)
			if err != nil {
				return nil, err
			}
			pub = &publication{
				URI:             uri,
				Role:            binding["role"].Value,
				Date:            binding["date"].Value,
				DOI:             binding["doi"].Value,
				Contributors:    make(map[string]*contributor),
				Subjects:        make(map[string]subject),
				SecondarySource: source,
			}
			byURI[uri] = pub
			ordered = append(ordered, pub)
		}

		pub.Titles = appendUnique(pub.Titles, binding["title"].Value)
		pub.AltLabels = appendUnique(pub.AltLabels, binding["altLabel"].Value)
		pub.Notes = appendUnique(pub.Notes, binding["note"].Value)
		pub.Types = appendUnique(pub.Types, binding["type"].Value)
		pub.Equivalents = appendUnique(pub.Equivalents, binding["equivalent"].Value)

		if contributorURI := binding["contributor"].Value; contributorURI != "" {
			person, ok := pub.Contributors[contributorURI]
			if !ok {
				person = &contributor{
					Name:       binding["contributorName"].Value,
					FamilyName: binding["contributorFamilyName"].Value,
					GivenName:  binding["contributorGivenName"].Value,
				}
				pub.Contributors[contributorURI] = person
				pub.ContributorURIs = append(pub.ContributorURIs, contributorURI)
			}
			if role := binding["contributorRole"].Value; role != "" {
				person.Roles = appendUnique(person.Roles, role)
			}
		}

		if subjectURI := binding["subject_uri"].Value; subjectURI != "" {
			if _, ok := pub.Subjects[subjectURI]; !ok {
				pub.Subjects[subjectURI] = subject{
					URI:      subjectURI,
					Label:    binding["subject_label"].Value,
					Language: binding["subject_label"].Language,
				}
				pub.SubjectURIs = append(pub.SubjectURIs, subjectURI)
			}
		}
	}
	return ordered, nil
}

func hasAuthorRole(role string) bool {
	for _, prefix := range authorRolePrefixes {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

// secondarySource classifies a publication URI by its prefix.
func secondarySource(uri string) (string, error) {
	for source, prefixes := range sourcePrefixes {
		for _, prefix := range prefixes {
			if strings.HasPrefix(uri, prefix) {
				return source, nil
			}
		}
	}
	return "", core.Errorf(core.CodePermanentExternal, false,
		"unknown data source for uri %s", uri)
}

func appendUnique(values []string, value string) []string {
	if value == "" {
		return values
	}
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}
