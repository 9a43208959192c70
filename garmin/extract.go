package garmin

import (
	"regexp"
	"strings"
)

// The SSO pages are an external contract with a fixed, versioned shape.
// Extraction is deliberately narrow pattern matching rather than a DOM
// parse: if Garmin changes the page, these patterns are the only lines
// that move.
var (
	csrfRe   = regexp.MustCompile(`name="_csrf"\s+value="(.+?)"`)
	titleRe  = regexp.MustCompile(`<title>(.+?)</title>`)
	ticketRe = regexp.MustCompile(`embed\?ticket=([^"]+)"`)
)

// extractCSRF pulls the hidden _csrf form field out of a signin page.
func extractCSRF(page string) (string, bool) {
	m := csrfRe.FindStringSubmatch(page)
	if m == nil {
		return "", false
	}

	return m[1], true
}

// extractTitle pulls the document title. Titles carry human-readable
// outcome signals from the SSO service ("Success", "MFA Required", ...).
func extractTitle(page string) (string, bool) {
	m := titleRe.FindStringSubmatch(page)
	if m == nil {
		return "", false
	}

	return m[1], true
}

// extractTicket pulls the SSO hand-off ticket from the embedded
// "embed?ticket=" anchor on a successful login page.
func extractTicket(page string) (string, bool) {
	m := ticketRe.FindStringSubmatch(page)
	if m == nil {
		return "", false
	}

	return m[1], true
}

// titleNeedsMFA reports whether a page title indicates a multi-factor
// challenge. Substring match on "MFA" or "Challenge"; unknown challenge
// titles intentionally fall through to a hard failure so new challenge
// types surface loudly instead of being misread.
func titleNeedsMFA(title string) bool {
	return strings.Contains(title, "MFA") || strings.Contains(title, "Challenge")
}
