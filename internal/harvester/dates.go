package harvester

import (
	"fmt"
	"strings"
	"time"
)

// Accepted layouts for source-provided dates, from most to least
// precise. Sources are inconsistent: OpenAlex sends plain dates, HAL
// sends UTC timestamps, IdRef sometimes sends bare years.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseDate parses a source-provided date string. The raw value
// should be kept alongside the parsed result so unparseable inputs
// are not lost.
func ParseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date format: %q", raw)
}
