package scopus

import "github.com/crisref/harvest-core/internal/harvester"

// Scopus subtype codes mapped to the controlled vocabulary. The Book
// and Chapter labels also drive host-book resolution.
var documentTypes = harvester.TypeMapping{
	"ar": {URI: "http://purl.org/ontology/bibo/AcademicArticle", Label: "Article"},
	"ab": {URI: "http://purl.org/coar/resource_type/c_1843", Label: "Abstract Report"},
	"bk": {URI: "http://purl.org/ontology/bibo/Book", Label: "Book"},
	"bz": {URI: "http://purl.org/coar/resource_type/c_3e5a", Label: "Business Article"},
	"ch": {URI: "http://purl.org/ontology/bibo/Chapter", Label: "Chapter"},
	"cp": {URI: "http://purl.org/coar/resource_type/c_5794", Label: "Conference Paper"},
	"cr": {URI: "http://purl.org/coar/resource_type/c_efa0", Label: "Conference Review"},
	"dp": {URI: "http://purl.org/coar/resource_type/c_beb9", Label: "Data Paper"},
	"ed": {URI: "http://purl.org/coar/resource_type/c_b239", Label: "Editorial"},
	"er": {URI: "http://purl.org/coar/resource_type/c_1843", Label: "Erratum"},
	"le": {URI: "http://purl.org/ontology/bibo/Letter", Label: "Letter"},
	"no": {URI: "http://purl.org/ontology/bibo/Note", Label: "Note"},
	"pr": {URI: "http://purl.org/coar/resource_type/c_1843", Label: "Press Release"},
	"re": {URI: "http://purl.org/coar/resource_type/c_efa0", Label: "Review"},
	"rp": {URI: "http://purl.org/ontology/bibo/Report", Label: "Report"},
	"sh": {URI: "http://purl.org/coar/resource_type/c_efa0", Label: "Short Survey"},
	"wp": {URI: "http://purl.org/coar/resource_type/c_8042", Label: "Working Paper"},
}
