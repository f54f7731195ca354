package logger

import (
	netmail "net/mail"
	"strings"
)

// RedactEmail masks an address for safe logging. Display-name forms
// ("Jane <jane.doe@example.com>") are unwrapped first.
// "john.doe@example.com" → "jo***@example.com"; local parts of ≤2 chars are
// fully masked.
func RedactEmail(email string) string {
	if parsed, err := netmail.ParseAddress(email); err == nil {
		email = parsed.Address
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}
