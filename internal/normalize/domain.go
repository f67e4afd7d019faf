package normalize

import (
	"net"
	"net/mail"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Domain reduces a host, URL or bare domain to its registrable domain
// (eTLD+1), e.g. "https://mail.news.example.co.uk/x" becomes "example.co.uk".
// IP addresses yield "".
func Domain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err == nil && u.Host != "" {
		candidate = u.Hostname()
	}
	candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "*.")
	candidate = strings.ToLower(strings.Trim(candidate, "."))
	if candidate == "" || net.ParseIP(candidate) != nil {
		return ""
	}
	eTLD, err := publicsuffix.EffectiveTLDPlusOne(candidate)
	if err != nil {
		return candidate
	}
	return strings.ToLower(eTLD)
}

// EmailDomain returns the registrable domain of an address, or "" when the
// address has no domain part.
func EmailDomain(email string) string {
	_, host, ok := strings.Cut(Lower(email), "@")
	if !ok {
		return ""
	}
	return Domain(host)
}

// SameOrganization reports whether two addresses share a registrable domain.
// Unknown domains never match.
func SameOrganization(a, b string) bool {
	da, db := EmailDomain(a), EmailDomain(b)
	return da != "" && da == db
}

// Address splits a From-style header into display name and lowercased
// address. Headers that do not parse fall back to the angle-bracket or bare
// token form.
func Address(header string) (name, email string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ""
	}
	if parsed, err := mail.ParseAddress(header); err == nil {
		return strings.TrimSpace(parsed.Name), Lower(parsed.Address)
	}
	if open := strings.LastIndex(header, "<"); open >= 0 {
		if end := strings.Index(header[open:], ">"); end > 0 {
			name = strings.Trim(strings.TrimSpace(header[:open]), `"`)
			return name, Lower(header[open+1 : open+end])
		}
	}
	if strings.Contains(header, "@") {
		return "", Lower(header)
	}
	return header, ""
}
