// Package urlnorm parses, validates and canonicalizes monitored URLs.
//
// Canonical form rules:
//  1. A missing scheme becomes https.
//  2. Only http and https are accepted, and the host must be non-empty.
//  3. Scheme and host are lowercased, default ports are dropped.
//  4. An empty path becomes "/".
//  5. Query, fragment and userinfo are kept as given.
package urlnorm

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalid is returned for input that cannot be turned into a monitored URL.
var ErrInvalid = errors.New("invalid url")

// schemePrefix matches an explicit scheme at the start of the input only, so
// a URL carried in the query does not count.
var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

// Parsed holds the components of a canonicalized URL.
type Parsed struct {
	Scheme   string
	Hostname string
	Port     string
	Path     string
	Query    string // includes the leading "?", empty when absent
	Fragment string // includes the leading "#", empty when absent
	Base     string // scheme://[userinfo@]host[:port]/path without query or fragment
	Origin   string // scheme://host[:port], never carries userinfo
	Full     string
}

// Parse canonicalizes raw.
func Parse(raw string) (*Parsed, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalid)
	}

	if !schemePrefix.MatchString(raw) {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalid, u.Scheme)
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return nil, fmt.Errorf("%w: missing hostname", ErrInvalid)
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	p := &Parsed{
		Scheme:   scheme,
		Hostname: hostname,
		Port:     port,
		Path:     path,
	}
	if u.RawQuery != "" {
		p.Query = "?" + u.RawQuery
	}
	if u.Fragment != "" {
		p.Fragment = "#" + u.EscapedFragment()
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		// IPv6 literal
		host = "[" + hostname + "]"
	}
	if port != "" {
		host += ":" + port
	}
	p.Origin = scheme + "://" + host
	authority := host
	if u.User != nil {
		authority = u.User.String() + "@" + host
	}
	p.Base = scheme + "://" + authority + path
	p.Full = p.Base + p.Query + p.Fragment
	return p, nil
}

// Validate returns the canonical form of raw.
func Validate(raw string) (string, error) {
	p, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return p.Full, nil
}

// SameBase reports whether a and b both parse and share scheme, host, port and path.
func SameBase(a, b string) bool {
	pa, err := Parse(a)
	if err != nil {
		return false
	}
	pb, err := Parse(b)
	if err != nil {
		return false
	}
	return pa.Base == pb.Base
}

// MergePreservingQuery replaces oldURL with newURL, carrying oldURL's query
// over when newURL has none.
func MergePreservingQuery(oldURL, newURL string) (string, error) {
	oldP, err := Parse(oldURL)
	if err != nil {
		return "", fmt.Errorf("stored url: %w", err)
	}
	newP, err := Parse(newURL)
	if err != nil {
		return "", err
	}

	if newP.Query != "" {
		return newP.Full, nil
	}
	if oldP.Query != "" {
		return newP.Base + oldP.Query, nil
	}
	return newP.Full, nil
}

// Entry is one name/url pair in iteration order.
type Entry struct {
	Name string
	URL  string
}

// FindDuplicate returns the name of the first entry other than excludeName
// whose canonical URL equals candidate's. Entries that fail to parse are skipped.
func FindDuplicate(entries []Entry, candidate, excludeName string) (string, bool) {
	cand, err := Parse(candidate)
	if err != nil {
		return "", false
	}

	for _, e := range entries {
		if excludeName != "" && e.Name == excludeName {
			continue
		}
		existing, err := Parse(e.URL)
		if err != nil {
			continue
		}
		if existing.Full == cand.Full {
			return e.Name, true
		}
	}
	return "", false
}

// Domain returns the hostname of raw, or raw itself when it does not parse.
func Domain(raw string) string {
	p, err := Parse(raw)
	if err != nil {
		return raw
	}
	return p.Hostname
}

// Truncate shortens s to max characters, ending with "...".
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// SuggestName derives a site name from a URL's hostname, e.g.
// "shop.example.com" becomes "shop_example_com_url".
func SuggestName(raw string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return r.Replace(Domain(raw)) + "_url"
}
