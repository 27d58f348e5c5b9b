package upstream

import "strings"

// BuildURL joins base and path with exactly one slash and appends the query
// string when present.
func BuildURL(base, path, rawQuery string) string {
	url := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	rawQuery = strings.TrimPrefix(rawQuery, "?")
	if rawQuery != "" {
		url += "?" + rawQuery
	}
	return url
}
