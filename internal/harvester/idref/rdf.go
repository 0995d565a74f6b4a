package idref

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/crisref/harvest-core/internal/core"
)

// rdfFields is the subset of an RDF/XML document the conversion uses.
// Secondary sources describe publications with Dublin Core and bibo
// properties; anything else is ignored.
type rdfFields struct {
	Titles    []localized
	Abstracts []localized
	Dates     []string
	DOIs      []string
}

type localized struct {
	Value    string
	Language string
}

// parseRDF extracts the known properties from an RDF/XML payload,
// matching elements by local name so namespace prefix variations
// across sources do not matter.
func parseRDF(payload []byte) (*rdfFields, error) {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	fields := &rdfFields{}
	for {
		token, err := decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, core.WrapError(core.CodePermanentExternal, false,
				fmt.Errorf("parsing rdf document: %w", err))
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "title":
			if value, lang, err := textElement(decoder, start); err == nil && value != "" {
				fields.Titles = append(fields.Titles, localized{Value: value, Language: lang})
			}
		case "abstract", "note":
			if value, lang, err := textElement(decoder, start); err == nil && value != "" {
				fields.Abstracts = append(fields.Abstracts, localized{Value: value, Language: lang})
			}
		case "date", "issued":
			if value, _, err := textElement(decoder, start); err == nil && value != "" {
				fields.Dates = append(fields.Dates, value)
			}
		case "doi":
			if value, _, err := textElement(decoder, start); err == nil && value != "" {
				fields.DOIs = append(fields.DOIs, value)
			}
		}
	}
	return fields, nil
}

func textElement(decoder *xml.Decoder, start xml.StartElement) (string, string, error) {
	var lang string
	for _, attr := range start.Attr {
		if attr.Name.Local == "lang" {
			lang = attr.Value
		}
	}
	var value string
	if err := decoder.DecodeElement(&value, &start); err != nil {
		return "", "", err
	}
	return value, lang, nil
}
