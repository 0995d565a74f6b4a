package scanr

import "github.com/crisref/harvest-core/internal/harvester"

// scanR publication type values mapped to the controlled vocabulary.
var documentTypes = harvester.TypeMapping{
	"journal-article": {URI: "http://purl.org/ontology/bibo/AcademicArticle", Label: "Journal article"},
	"proceedings":     {URI: "http://purl.org/coar/resource_type/c_5794", Label: "Conference paper"},
	"book-chapter":    {URI: "http://purl.org/ontology/bibo/Chapter", Label: "Book chapter"},
	"book":            {URI: "http://purl.org/ontology/bibo/Book", Label: "Book"},
	"thesis":          {URI: "http://purl.org/ontology/bibo/Thesis", Label: "Thesis"},
	"preprint":        {URI: "http://purl.org/coar/resource_type/c_816b", Label: "Preprint"},
	"working-paper":   {URI: "http://purl.org/coar/resource_type/c_8042", Label: "Working paper"},
	"report":          {URI: "http://purl.org/ontology/bibo/Report", Label: "Report"},
	"patent":          {URI: "http://purl.org/ontology/bibo/Patent", Label: "Patent"},
	"other":           {URI: "http://purl.org/coar/resource_type/c_1843", Label: "Other"},
}
