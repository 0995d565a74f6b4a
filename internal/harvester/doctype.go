package harvester

// =============================================================================
// DOCUMENT TYPE MAPPING
// =============================================================================

// DocumentTypeSpec is one entry of an adapter's controlled document
// type vocabulary.
type DocumentTypeSpec struct {
	URI   string
	Label string
}

// UnknownDocumentType absorbs source codes missing from an adapter's
// mapping table so unknown codes never block a conversion.
var UnknownDocumentType = DocumentTypeSpec{
	URI:   "http://data.crisref.org/document_types#unknown",
	Label: "Unknown",
}

// TypeMapping maps source-specific document type codes to the
// controlled vocabulary.
type TypeMapping map[string]DocumentTypeSpec

// Convert resolves a source code, falling back to the unknown type.
// The second return value reports whether the code was mapped.
func (m TypeMapping) Convert(code string) (DocumentTypeSpec, bool) {
	if spec, ok := m[code]; ok {
		return spec, true
	}
	return UnknownDocumentType, false
}
