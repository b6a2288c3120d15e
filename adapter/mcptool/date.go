package mcptool

import "time"

// dateLayouts are tried in order when normalizing a due date. The
// destination tools expect a bare calendar date.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// NormalizeDate reduces an extracted due-date value to YYYY-MM-DD.
// Values that do not parse as a date are dropped rather than forwarded,
// so a destination never sees junk in a date field.
func NormalizeDate(value interface{}) (string, bool) {
	s, ok := value.(string)
	if !ok || s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}
