package scopus

import (
	"encoding/xml"
	"strings"
)

// =============================================================================
// ENTRY FLATTENING
// =============================================================================

// The search API serves Atom entries mixing four namespaces. Fields
// are flattened into a map keyed "prefix:local" so hash keys and
// accessors line up with the documented field names.
var namespacePrefixes = map[string]string{
	"http://www.w3.org/2005/Atom":                    "default",
	"http://purl.org/dc/elements/1.1/":               "dc",
	"http://prismstandard.org/namespaces/basic/2.0/": "prism",
	"http://a9.com/-/spec/opensearch/1.1/":           "opensearch",
}

// xmlNode captures an arbitrary element subtree.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []xmlNode  `xml:",any"`
	Text     string     `xml:",chardata"`
}

func qualifiedName(name xml.Name) string {
	prefix, ok := namespacePrefixes[name.Space]
	if !ok {
		prefix = "default"
	}
	return prefix + ":" + name.Local
}

// flattenNode turns an element into a string (leaf without
// attributes) or a map. Attributes become "@name" keys, leaf text
// under attributes becomes "#text", and repeated children collapse
// into a slice.
func flattenNode(n xmlNode) any {
	attrs := make([]xml.Attr, 0, len(n.Attrs))
	for _, attr := range n.Attrs {
		if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
			continue
		}
		attrs = append(attrs, attr)
	}
	if len(n.Children) == 0 && len(attrs) == 0 {
		return strings.TrimSpace(n.Text)
	}
	m := make(map[string]any, len(n.Children)+len(attrs))
	for _, attr := range attrs {
		m["@"+attr.Name.Local] = attr.Value
	}
	if len(n.Children) == 0 {
		m["#text"] = strings.TrimSpace(n.Text)
		return m
	}
	for _, child := range n.Children {
		key := qualifiedName(child.XMLName)
		value := flattenNode(child)
		switch existing := m[key].(type) {
		case nil:
			m[key] = value
		case []any:
			m[key] = append(existing, value)
		default:
			m[key] = []any{existing, value}
		}
	}
	return m
}

// =============================================================================
// FIELD ACCESS
// =============================================================================

// textValues returns every text value under a key, whether the field
// flattened to a string, a map with text, or a list of either.
func textValues(fields map[string]any, key string) []string {
	return collectText(fields[key])
}

func collectText(value any) []string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case map[string]any:
		if text, ok := v["#text"].(string); ok && text != "" {
			return []string{text}
		}
		return nil
	case []any:
		var out []string
		for _, item := range v {
			out = append(out, collectText(item)...)
		}
		return out
	default:
		return nil
	}
}

// textValue returns the first text value under a key, or "".
func textValue(fields map[string]any, key string) string {
	values := collectText(fields[key])
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// entryMaps returns the map-shaped values under a key.
func entryMaps(fields map[string]any, key string) []map[string]any {
	switch v := fields[key].(type) {
	case map[string]any:
		return []map[string]any{v}
	case []any:
		var out []map[string]any
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// =============================================================================
// VALUE NORMALISATION
// =============================================================================

// splitKeywords splits the authkeywords value on its pipe separator.
func splitKeywords(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, " | ") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// formatISSN rewrites a bare 8-character ISSN into its dashed form.
func formatISSN(raw string) string {
	if len(raw) == 8 && !strings.Contains(raw, "-") {
		return raw[:4] + "-" + raw[4:]
	}
	return raw
}

// parseISBN classifies an ISBN by digit length after stripping
// separators. Returns the ISBN-10 and ISBN-13 readings, at most one
// of which is non-empty.
func parseISBN(raw string) (isbn10, isbn13 string) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), "-", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	switch len(cleaned) {
	case 10:
		return cleaned, ""
	case 13:
		return "", cleaned
	default:
		return "", ""
	}
}
