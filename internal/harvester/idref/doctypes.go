package idref

import "github.com/crisref/harvest-core/internal/harvester"

// RDF classes data.idref.fr types publications with, mapped to the
// controlled vocabulary. bibo classes pass through mostly unchanged;
// FRBRoo and RDA work classes collapse onto broad genres.
var documentTypes = harvester.TypeMapping{
	"http://purl.org/ontology/bibo/Book":            {URI: "http://purl.org/ontology/bibo/Book", Label: "Book"},
	"http://purl.org/ontology/bibo/Article":         {URI: "http://purl.org/ontology/bibo/Article", Label: "Article"},
	"http://purl.org/ontology/bibo/AcademicArticle": {URI: "http://purl.org/ontology/bibo/AcademicArticle", Label: "Journal article"},
	"http://purl.org/ontology/bibo/Chapter":         {URI: "http://purl.org/ontology/bibo/Chapter", Label: "Book chapter"},
	"http://purl.org/ontology/bibo/Thesis":          {URI: "http://purl.org/ontology/bibo/Thesis", Label: "Thesis"},
	"http://purl.org/ontology/bibo/Proceedings":     {URI: "http://purl.org/ontology/bibo/Proceedings", Label: "Conference proceedings"},
	"http://purl.org/ontology/bibo/Document":        {URI: "http://purl.org/ontology/bibo/Document", Label: "Document"},
	"http://purl.org/ontology/bibo/Map":             {URI: "http://purl.org/ontology/bibo/Map", Label: "Map"},
	"http://purl.org/ontology/bibo/Image":           {URI: "http://purl.org/ontology/bibo/Image", Label: "Image"},
	"http://purl.org/ontology/bibo/Periodical":      {URI: "http://purl.org/ontology/bibo/Periodical", Label: "Periodical"},
	"http://rdaregistry.info/Elements/c/C10001":     {URI: "http://purl.org/ontology/bibo/Document", Label: "Document"},
	"http://rdaregistry.info/Elements/c/C10006":     {URI: "http://purl.org/ontology/bibo/Document", Label: "Document"},
	"http://www.w3.org/2004/02/skos/core#Concept":   {URI: "http://purl.org/ontology/bibo/Document", Label: "Document"},
}
