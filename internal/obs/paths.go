package obs

import "strings"

// CanonicalPath normalizes a request path into a stable label value so
// metric cardinality stays bounded: the query string is dropped and
// unknown paths collapse to /other.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "/other"
}

var knownPaths = map[string]struct{}{
	"/":                        {},
	"/healthz":                 {},
	"/readyz":                  {},
	"/metrics":                 {},
	"/v1/info":                 {},
	"/v1/auth/register":        {},
	"/v1/auth/login":           {},
	"/v1/auth/refresh":         {},
	"/v1/auth/logout":          {},
	"/v1/auth/logout-all":      {},
	"/v1/auth/profile":         {},
	"/v1/auth/change-password": {},
	"/v1/ops/stats":            {},
}
