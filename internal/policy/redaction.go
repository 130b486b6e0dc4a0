package policy

import "regexp"

type redactionRule struct {
	kind        string
	pattern     *regexp.Regexp
	placeholder string
}

// Rules run in order. Cards go before phones so long digit runs are not
// classified as phone numbers, and secrets go first so keys with digits stay whole.
var redactionRules = []redactionRule{
	{"api_key", regexp.MustCompile(`\b(?:sk|pk|rk)-[A-Za-z0-9_\-]{16,}\b`), "[REDACTED_KEY]"},
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{"card", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{"phone", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks secrets, emails, card and phone numbers before text is
// persisted as a memory record.
func RedactPII(input string) (string, bool) {
	out, kinds := Redact(input)
	return out, len(kinds) > 0
}

// Redact returns the masked text and the kinds of data that were found.
func Redact(input string) (string, []string) {
	var kinds []string
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.placeholder)
		if next != out {
			kinds = append(kinds, rule.kind)
		}
		out = next
	}
	return out, kinds
}
