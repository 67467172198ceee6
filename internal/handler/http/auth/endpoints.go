// Package auth guards the gateway API with HS256 bearer tokens.
//
// Tokens are minted by the operator (see IssueToken) and carry a subject
// (the calling service) and a role. Probes, metrics and provider webhook
// callbacks are public; provider callbacks authenticate with their own
// verify token instead.
package auth

import "strings"

// PublicEndpoints are reachable without a bearer token.
// Entries ending in '/' match by prefix.
var PublicEndpoints = []string{
	"/health",
	"/ready",
	"/live",
	"/metrics",
	"/webhooks/",
}

// IsPublicEndpoint reports whether path may be served without a token.
//
//	IsPublicEndpoint("/health")             // true
//	IsPublicEndpoint("/health/")            // true
//	IsPublicEndpoint("/healthz")            // false
//	IsPublicEndpoint("/webhooks/whatsapp")  // true
//	IsPublicEndpoint("/notifications")      // false
func IsPublicEndpoint(path string) bool {
	for _, endpoint := range PublicEndpoints {
		if strings.HasSuffix(endpoint, "/") {
			if strings.HasPrefix(path, endpoint) {
				return true
			}
			continue
		}
		if path == endpoint || path == endpoint+"/" {
			return true
		}
	}
	return false
}
