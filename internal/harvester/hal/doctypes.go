package hal

import "github.com/crisref/harvest-core/internal/harvester"

// HAL docType_s codes mapped to the controlled vocabulary. bibo
// covers the classic genres; COAR resource types fill the gaps.
var documentTypes = harvester.TypeMapping{
	"ART":         {URI: "http://purl.org/ontology/bibo/AcademicArticle", Label: "Journal article"},
	"COMM":        {URI: "http://purl.org/coar/resource_type/c_5794", Label: "Conference paper"},
	"POSTER":      {URI: "http://purl.org/coar/resource_type/c_6670", Label: "Conference poster"},
	"PROCEEDINGS": {URI: "http://purl.org/ontology/bibo/Proceedings", Label: "Conference proceedings"},
	"OUV":         {URI: "http://purl.org/ontology/bibo/Book", Label: "Book"},
	"COUV":        {URI: "http://purl.org/ontology/bibo/Chapter", Label: "Book chapter"},
	"THESE":       {URI: "http://purl.org/ontology/bibo/Thesis", Label: "Thesis"},
	"HDR":         {URI: "http://purl.org/coar/resource_type/c_46ec", Label: "Habilitation thesis"},
	"MEM":         {URI: "http://purl.org/coar/resource_type/c_bdcc", Label: "Master thesis"},
	"REPORT":      {URI: "http://purl.org/ontology/bibo/Report", Label: "Report"},
	"UNDEFINED":   {URI: "http://purl.org/coar/resource_type/c_816b", Label: "Preprint"},
	"OTHER":       {URI: "http://purl.org/coar/resource_type/c_1843", Label: "Other"},
	"IMG":         {URI: "http://purl.org/ontology/bibo/Image", Label: "Image"},
	"VIDEO":       {URI: "http://purl.org/ontology/bibo/AudioVisualDocument", Label: "Video"},
	"SON":         {URI: "http://purl.org/coar/resource_type/c_18cc", Label: "Sound"},
	"MAP":         {URI: "http://purl.org/ontology/bibo/Map", Label: "Map"},
	"PATENT":      {URI: "http://purl.org/ontology/bibo/Patent", Label: "Patent"},
	"SOFTWARE":    {URI: "http://purl.org/coar/resource_type/c_5ce6", Label: "Software"},
	"LECTURE":     {URI: "http://purl.org/coar/resource_type/c_8544", Label: "Lecture"},
	"NOTE":        {URI: "http://purl.org/ontology/bibo/Note", Label: "Note"},
	"ISSUE":       {URI: "http://purl.org/ontology/bibo/Issue", Label: "Journal issue"},
	"BLOG":        {URI: "http://purl.org/coar/resource_type/c_6947", Label: "Blog post"},
}
