package mail

import (
	netmail "net/mail"
	"strings"
)

// NormalizeAddress lowercases and trims an email address, unwrapping a
// display-name form ("Name <addr>") when present. Idempotent.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if parsed, err := netmail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

// IsValidAddress does a light syntactic check: exactly one @, non-empty
// local part, and a domain containing a dot.
func IsValidAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	at := strings.Index(addr, "@")
	if at <= 0 || at != strings.LastIndex(addr, "@") {
		return false
	}
	domain := addr[at+1:]
	return domain != "" && strings.Contains(domain, ".") &&
		!strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

// LocalPart extracts the normalized local part of an address with any
// "+suffix" stripped: "Ask+ref@svc.example" → "ask".
func LocalPart(addr string) string {
	addr = NormalizeAddress(addr)
	at := strings.Index(addr, "@")
	if at < 0 {
		return addr
	}
	local := addr[:at]
	if plus := strings.Index(local, "+"); plus >= 0 {
		local = local[:plus]
	}
	return local
}

// Domain extracts the normalized domain of an address, or "" if malformed.
func Domain(addr string) string {
	addr = NormalizeAddress(addr)
	at := strings.Index(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return addr[at+1:]
}
