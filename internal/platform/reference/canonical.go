package reference

import "strings"

// Canonical is a url[|version] reference to a definitional resource.
type Canonical struct {
	URL     string
	Version string
}

// ParseCanonical splits "url|version". A "#fragment" suffix on the url is
// dropped.
func ParseCanonical(s string) Canonical {
	s = strings.TrimSpace(s)
	var c Canonical
	if i := strings.LastIndex(s, "|"); i >= 0 {
		c.URL, c.Version = s[:i], s[i+1:]
	} else {
		c.URL = s
	}
	if i := strings.Index(c.URL, "#"); i >= 0 {
		c.URL = c.URL[:i]
	}
	return c
}

// Matches reports whether a resource published at url with the given
// business version satisfies c. Without a version in c any version matches;
// otherwise the versions must be equal.
func (c Canonical) Matches(url, version string) bool {
	if c.URL == "" || c.URL != url {
		return false
	}
	return c.Version == "" || c.Version == version
}

func (c Canonical) String() string {
	if c.Version == "" {
		return c.URL
	}
	return c.URL + "|" + c.Version
}
