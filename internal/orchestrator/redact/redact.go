// Package redact strips secrets from error text before it is persisted
// or transmitted, spec 7: "Sensitive strings (tokens, bearer,
// user:pass@ URLs) must be stripped from any error text."
package redact

import "regexp"

var (
	bearerRe   = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-_.=]+`)
	userPassRe = regexp.MustCompile(`://[^/@\s]+:[^/@\s]+@`)
	tokenRe    = regexp.MustCompile(`(?i)\b(ghp|gho|ghu|ghs|github_pat|sk|xox[baprs])[A-Za-z0-9_\-]{10,}\b`)
)

// Text replaces bearer tokens, user:pass@host credentials, and common
// API-token shapes with a fixed placeholder.
func Text(s string) string {
	s = bearerRe.ReplaceAllString(s, "Bearer [redacted]")
	s = userPassRe.ReplaceAllString(s, "://[redacted]@")
	s = tokenRe.ReplaceAllString(s, "[redacted]")
	return s
}
