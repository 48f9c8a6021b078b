package smtp

import (
	"strings"

	"github.com/infodancer/mailserv/internal/spool"
)

// ParsePath parses the <path> argument of a MAIL FROM or RCPT TO
// command per spec.md §4.4: an optional source-route prefix ("@a,@b:")
// is discarded, the remaining mailbox is split at the last "@" into
// local-part and domain, and both are validated.
//
// "<>" (the null reverse path, used by bounce messages) parses as an
// empty Address with ok=true and isNull=true.
func ParsePath(arg string) (addr spool.Address, isNull bool, ok bool) {
	arg = strings.TrimSpace(arg)
	if !strings.HasPrefix(arg, "<") || !strings.HasSuffix(arg, ">") {
		return spool.Address{}, false, false
	}
	inner := arg[1 : len(arg)-1]

	if inner == "" {
		return spool.Address{}, true, true
	}

	if idx := strings.LastIndex(inner, ":"); idx >= 0 && strings.HasPrefix(inner, "@") {
		inner = inner[idx+1:]
	}

	local, domain, ok := splitMailbox(inner)
	if !ok {
		return spool.Address{}, false, false
	}
	if !validLocalPart(local) || !validDomain(domain) {
		return spool.Address{}, false, false
	}

	return spool.Address{Local: local, Domain: domain}, false, true
}

// splitMailbox splits at the last unquoted "@".
func splitMailbox(s string) (local, domain string, ok bool) {
	if strings.HasPrefix(s, "\"") {
		end := strings.Index(s[1:], "\"")
		if end < 0 {
			return "", "", false
		}
		end += 1
		rest := s[end+1:]
		if !strings.HasPrefix(rest, "@") {
			return "", "", false
		}
		return s[:end+1], rest[1:], true
	}

	idx := strings.LastIndex(s, "@")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// validLocalPart accepts either a dot-atom of alphanumerics and dots
// (no leading/trailing dot, no consecutive dots) or a double-quoted
// string.
func validLocalPart(local string) bool {
	if strings.HasPrefix(local, "\"") && strings.HasSuffix(local, "\"") && len(local) >= 2 {
		return true
	}

	if local == "" || local[0] == '.' || local[len(local)-1] == '.' {
		return false
	}
	prevDot := false
	for _, r := range local {
		if r == '.' {
			if prevDot {
				return false
			}
			prevDot = true
			continue
		}
		prevDot = false
		if !isAlphaNumeric(r) {
			return false
		}
	}
	return true
}

// validDomain accepts a dot-separated sequence of alphanumeric-or-hyphen
// labels (no leading/trailing "." or "-" per label) or an IPv4 literal.
func validDomain(domain string) bool {
	if domain == "" {
		return false
	}
	if isIPv4Literal(domain) {
		return true
	}

	labels := strings.Split(domain, ".")
	for _, label := range labels {
		if !validLabel(label) {
			return false
		}
	}
	return true
}

func validLabel(label string) bool {
	if label == "" || label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, r := range label {
		if !isAlphaNumeric(r) && r != '-' {
			return false
		}
	}
	return true
}

func isIPv4Literal(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		n := 0
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
			n = n*10 + int(r-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

func isAlphaNumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
