package capture

import "regexp"

var slugRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// ValidSlug reports whether slug is a well-formed capture key.
func ValidSlug(slug string) bool {
	return slugRe.MatchString(slug)
}

// NormalizePath collapses an empty sub-path to "/" and otherwise ensures a
// leading slash.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
