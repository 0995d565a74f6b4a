package openalex

import "github.com/crisref/harvest-core/internal/harvester"

// OpenAlex work type values mapped to the controlled vocabulary.
var documentTypes = harvester.TypeMapping{
	"article":                 {URI: "http://purl.org/ontology/bibo/AcademicArticle", Label: "Journal article"},
	"book":                    {URI: "http://purl.org/ontology/bibo/Book", Label: "Book"},
	"book-chapter":            {URI: "http://purl.org/ontology/bibo/Chapter", Label: "Book chapter"},
	"dissertation":            {URI: "http://purl.org/ontology/bibo/Thesis", Label: "Thesis"},
	"dataset":                 {URI: "http://purl.org/coar/resource_type/c_ddb1", Label: "Dataset"},
	"preprint":                {URI: "http://purl.org/coar/resource_type/c_816b", Label: "Preprint"},
	"report":                  {URI: "http://purl.org/ontology/bibo/Report", Label: "Report"},
	"review":                  {URI: "http://purl.org/coar/resource_type/c_efa0", Label: "Review"},
	"peer-review":             {URI: "http://purl.org/coar/resource_type/c_efa0", Label: "Review"},
	"editorial":               {URI: "http://purl.org/coar/resource_type/c_b239", Label: "Editorial"},
	"letter":                  {URI: "http://purl.org/ontology/bibo/Letter", Label: "Letter"},
	"erratum":                 {URI: "http://purl.org/coar/resource_type/c_1843", Label: "Erratum"},
	"standard":                {URI: "http://purl.org/ontology/bibo/Standard", Label: "Standard"},
	"reference-entry":         {URI: "http://purl.org/ontology/bibo/ReferenceSource", Label: "Reference entry"},
	"paratext":                {URI: "http://purl.org/coar/resource_type/c_1843", Label: "Other"},
	"grant":                   {URI: "http://purl.org/coar/resource_type/c_1843", Label: "Grant"},
	"supplementary-materials": {URI: "http://purl.org/coar/resource_type/c_1843", Label: "Supplementary materials"},
	"other":                   {URI: "http://purl.org/coar/resource_type/c_1843", Label: "Other"},
}
