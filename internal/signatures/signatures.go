// Package signatures holds the curated, pre-compiled regex families the
// payload inspector sweeps every request against.
package signatures

import "regexp"

// Signature is one curated pattern plus the family it belongs to, kept
// together so a match can report both to the audit log.
type Signature struct {
	Family  string
	Pattern string
	re      *regexp.Regexp
}

// Match reports whether text contains this signature.
func (s Signature) Match(text string) bool {
	return s.re.MatchString(text)
}

var sqli = []string{
	`union\s*select`,
	`(--|#|;)\s*$`,
	`\s*or\s*\d+=\d+`,
	`and\s*(select|update|delete)`,
	`benchmark\s*\(`,
	`information_schema`,
}

var xss = []string{
	`<script.*?>`,
	`</script.*?>`,
	`(<|%3c)img\s+src\s*=\s*['"]?\s*j\s*a\s*v\s*a\s*s\s*c\s*r\s*i\s*p\s*t\s*:`,
	`on(error|load|click|mouseover|submit)\s*=`,
	`alert\s*\(`,
	`javascript:`,
}

var traversal = []string{
	`\.\./`,
	`\.\.\\`,
	`etc/passwd`,
	`cmd\.exe`,
	`/bin/sh`,
}

// All is the full curated signature set, compiled once at package init
// and matched case-insensitively (canonicalization already lower-cases
// the scanned text, but the flag is kept so signatures remain correct
// even against text that bypassed canonicalization).
var All = compile()

func compile() []Signature {
	families := []struct {
		name     string
		patterns []string
	}{
		{"sqli", sqli},
		{"xss", xss},
		{"traversal", traversal},
	}

	var out []Signature
	for _, f := range families {
		for _, p := range f.patterns {
			out = append(out, Signature{
				Family:  f.name,
				Pattern: p,
				re:      regexp.MustCompile(`(?i)` + p),
			})
		}
	}
	return out
}

// Scan returns the first signature in All that matches text, or false if none do.
func Scan(text string) (Signature, bool) {
	for _, s := range All {
		if s.Match(text) {
			return s, true
		}
	}
	return Signature{}, false
}
