// Package pathutil maps concrete request paths to route templates so
// metric labels stay bounded.
package pathutil

import (
	"regexp"
	"strings"
)

// PathPattern represents a regex pattern and its corresponding normalized template.
type PathPattern struct {
	Pattern  *regexp.Regexp
	Template string
}

// Request and provider message ids are opaque strings (UUIDs, wamid.*,
// Twilio SIDs, Telegram chat:message pairs), so any non-empty segment matches.
var pathPatterns = []*PathPattern{
	{Pattern: regexp.MustCompile(`^/status/[^/]+$`), Template: "/status/:requestId"},
	{Pattern: regexp.MustCompile(`^/messages/[^/]+$`), Template: "/messages/:id"},
	{Pattern: regexp.MustCompile(`^/webhooks/[^/]+$`), Template: "/webhooks/:provider"},
}

// NormalizePath converts a request path to its route template.
// Unknown paths collapse to "/other" so scanners cannot inflate the label set.
//
//	NormalizePath("/status/3f2b9c4e")        // "/status/:requestId"
//	NormalizePath("/messages/wamid.HBg=")    // "/messages/:id"
//	NormalizePath("/notifications?x=1")      // "/notifications"
//	NormalizePath("/wp-login.php")           // "/other"
func NormalizePath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx != -1 {
		path = path[:idx]
	}
	if len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}

	if _, ok := staticPaths[path]; ok {
		return path
	}
	for _, p := range pathPatterns {
		if p.Pattern.MatchString(path) {
			return p.Template
		}
	}
	return "/other"
}

var staticPaths = map[string]struct{}{
	"/":                 {},
	"/notifications":    {},
	"/sendNotification": {},
	"/health":           {},
	"/ready":            {},
	"/live":             {},
	"/metrics":          {},
}

// GetExpectedCardinality returns the upper bound of distinct labels
// NormalizePath can produce.
func GetExpectedCardinality() int {
	return len(staticPaths) + len(pathPatterns) + 1
}
