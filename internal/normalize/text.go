package normalize

import "strings"

func Trim(value string) string {
	return strings.TrimSpace(value)
}

func Lower(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func EqualFoldTrimmed(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// FirstNonEmpty returns the first value that is not blank, trimmed.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
