// Package text implements the display-casing and slug rules used for agency
// names and titles throughout the site.
package text

import (
	"regexp"
	"strings"
)

var (
	quoteRuns      = regexp.MustCompile(`'+`)
	connectorWords = regexp.MustCompile(`(?i)\b(?:'s|and|of|the|at|dba|for)\b`)
	slugSeparators = regexp.MustCompile(`[\s+|/]+`)
	slugStrip      = regexp.MustCompile(`[^a-z0-9-]+`)
	hyphenRuns     = regexp.MustCompile(`-+`)
	spaceRuns      = regexp.MustCompile(`\s+`)
)

func isWordChar(r rune) bool {
	return r == '_' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z')
}

// capitalizeWords upper-cases the first word character of every word, except
// when the word follows an apostrophe (so "Governor's" keeps its possessive).
func capitalizeWords(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prev := rune(0)
	for i, r := range s {
		if isWordChar(r) && (i == 0 || !isWordChar(prev)) && prev != '\'' {
			b.WriteString(strings.ToUpper(string(r)))
		} else {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

// lowerConnectors lower-cases connector words everywhere but at the start of
// the string.
func lowerConnectors(s string) string {
	return replaceAllStringSubmatchIndex(connectorWords, s, func(start int, match string) string {
		if start == 0 {
			return match
		}
		return strings.ToLower(match)
	})
}

func replaceAllStringSubmatchIndex(re *regexp.Regexp, s string, fn func(start int, match string) string) string {
	matches := re.FindAllStringIndex(s, -1)
	if matches == nil {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		b.WriteString(fn(m[0], s[m[0]:m[1]]))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// Titlify title-cases input for display. A single token with no space or
// hyphen is treated as an acronym and fully upper-cased unless
// disableCapAcro is set.
func Titlify(input string, disableCapAcro bool) string {
	if !disableCapAcro && !strings.ContainsAny(input, " -") {
		return strings.ToUpper(input)
	}
	s := strings.ReplaceAll(input, "-", " ")
	s = quoteRuns.ReplaceAllString(s, "'")
	s = capitalizeWords(s)
	return lowerConnectors(s)
}

// Slugify converts input to a URL-safe slug: lowercase, whitespace and the
// characters + | / become hyphens, everything outside [a-z0-9-] is dropped,
// and hyphen runs are collapsed and trimmed.
func Slugify(input string) string {
	s := strings.ToLower(input)
	s = slugSeparators.ReplaceAllString(s, "-")
	s = slugStrip.ReplaceAllString(s, "")
	s = hyphenRuns.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// CollapseWhitespace trims and squeezes all interior whitespace runs to a
// single space.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(spaceRuns.ReplaceAllString(s, " "))
}

// NormalizeToken reduces a value to lowercase alphanumerics after title
// casing, for fuzzy alias comparison.
func NormalizeToken(value string) string {
	s := strings.ToLower(Titlify(value, false))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
