// Package corrections applies the static correction overlay: per-entry field
// overrides, agency-name alias groups, and organization remaps. The overlay
// is applied at read time only; the entries table stays an unedited mirror of
// the source system.
package corrections

import (
	_ "embed"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/wvfoia/wvfoia/internal/model"
	"github.com/wvfoia/wvfoia/internal/text"
)

//go:embed corrections.yaml
var rawOverlay []byte

// EntryPatch overrides individual fields of one entry by id. Nil fields are
// left untouched.
type EntryPatch struct {
	Agency         *string `yaml:"agency"`
	Organization   *string `yaml:"organization"`
	RequestDate    *string `yaml:"request_date"`
	CompletionDate *string `yaml:"completion_date"`
	Resolution     *string `yaml:"resolution"`
	Subject        *string `yaml:"subject"`
	Fee            *string `yaml:"fee"`
}

// DateOverride is one per-entry date correction, used to build corrected
// date expressions in SQL.
type DateOverride struct {
	ID   int
	Date string
}

type overlayFile struct {
	Entries       map[int]EntryPatch  `yaml:"entries"`
	Agencies      map[string][]string `yaml:"agencies"`
	Organizations map[string]string   `yaml:"organizations"`
}

// Overlay is a loaded, validated correction table.
type Overlay struct {
	entries       map[int]EntryPatch
	agencies      map[string][]string
	organizations map[string]string

	// Alias lookups resolved at load time. exact maps
	// lower(titlify(alias)) -> canonical; token maps the stripped
	// alphanumeric form -> canonical. Ambiguous aliases are a load error.
	exact map[string]string
	token map[string]string
}

// spellingRule is one ordered source-text correction applied before alias
// matching. Rules are pure and applied in sequence; ordering is part of the
// contract.
type spellingRule struct {
	name string
	re   *regexp.Regexp
	with string
}

var spellingRules = []spellingRule{
	{name: "department-typos", re: regexp.MustCompile(`(?i)Departm[ei]n?t`), with: "Department"},
	{name: "tcity", re: regexp.MustCompile(`(?i)Tcity`), with: "City"},
}

var (
	mcToken   = regexp.MustCompile(`\bMc[A-Z][A-Za-z]*\b`)
	mcLowered = regexp.MustCompile(`\bMc[a-z]+\b`)
	wvToken   = regexp.MustCompile(`\bWv\b`)
	quoteRuns = regexp.MustCompile(`'{2,}`)
	isoDay    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Load parses and validates the embedded overlay. Validation rejects alias
// tables where two canonical agencies claim the same spelling, and date
// overrides that are not ISO days.
func Load() (*Overlay, error) {
	return parse(rawOverlay)
}

func parse(raw []byte) (*Overlay, error) {
	var file overlayFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, eris.Wrap(err, "corrections: parse overlay")
	}

	o := &Overlay{
		entries:       file.Entries,
		agencies:      file.Agencies,
		organizations: file.Organizations,
		exact:         make(map[string]string),
		token:         make(map[string]string),
	}
	if o.entries == nil {
		o.entries = map[int]EntryPatch{}
	}

	for canonical, aliases := range o.agencies {
		for _, spelling := range append([]string{canonical}, aliases...) {
			exact := strings.ToLower(text.Titlify(spelling, false))
			token := text.NormalizeToken(spelling)
			if exact == "" && token == "" {
				continue
			}
			if owner, ok := o.exact[exact]; ok && owner != canonical {
				return nil, eris.Errorf("corrections: alias %q claimed by both %q and %q", spelling, owner, canonical)
			}
			if owner, ok := o.token[token]; ok && owner != canonical {
				return nil, eris.Errorf("corrections: alias %q claimed by both %q and %q", spelling, owner, canonical)
			}
			o.exact[exact] = canonical
			o.token[token] = canonical
		}
	}

	for id, patch := range o.entries {
		for _, date := range []*string{patch.RequestDate, patch.CompletionDate} {
			if date != nil && !isoDay.MatchString(*date) {
				return nil, eris.Errorf("corrections: entry %d has non-ISO date override %q", id, *date)
			}
		}
	}

	return o, nil
}

// canonicalMatch resolves raw agency text against the alias table using the
// exact comparator first, then the stripped-token comparator. Returns "" when
// unmatched.
func (o *Overlay) canonicalMatch(agency string) string {
	exact := strings.ToLower(text.Titlify(agency, false))
	token := text.NormalizeToken(agency)
	if exact == "" && token == "" {
		return ""
	}
	if canonical, ok := o.exact[exact]; ok {
		return canonical
	}
	if canonical, ok := o.token[token]; ok {
		return canonical
	}
	return ""
}

// NormalizeAgencyName canonicalizes raw agency text: ordered spelling rules,
// then alias-table matching, then the generic title-casing fallback that
// preserves Mc-prefixed surnames and upper-cases the WV token.
func (o *Overlay) NormalizeAgencyName(agency string) string {
	for _, rule := range spellingRules {
		agency = rule.re.ReplaceAllString(agency, rule.with)
	}

	if canonical := o.canonicalMatch(agency); canonical != "" {
		return canonical
	}

	spaced := text.CollapseWhitespace(agency)
	preserved := make(map[string]string)
	for _, token := range mcToken.FindAllString(spaced, -1) {
		preserved[strings.ToLower(token)] = token
	}

	normalized := text.Titlify(strings.ToLower(spaced), true)
	normalized = mcLowered.ReplaceAllStringFunc(normalized, func(token string) string {
		if original, ok := preserved[strings.ToLower(token)]; ok {
			return original
		}
		return token
	})
	return wvToken.ReplaceAllString(normalized, "WV")
}

// AgencyNameCandidates returns the canonical name plus every known alias for
// a matched agency, or the raw input alone when unmatched. The result feeds
// exact-match SQL predicates that also catch historical spellings still in
// storage.
func (o *Overlay) AgencyNameCandidates(agency string) []string {
	canonical := o.canonicalMatch(agency)
	if canonical == "" {
		return []string{agency}
	}
	return append([]string{canonical}, o.agencies[canonical]...)
}

// AgencyIdentity derives the display name and URL-safe slug for raw agency
// text. Any two spellings that resolve to the same canonical agency yield the
// same identity.
func (o *Overlay) AgencyIdentity(raw string) (name, slug string) {
	name = text.Titlify(o.NormalizeAgencyName(raw), false)
	return name, text.Slugify(name)
}

// ApplyEntry returns the entry with its per-id patch, agency normalization,
// and organization remap applied. The input is not modified.
func (o *Overlay) ApplyEntry(entry model.Entry) model.Entry {
	if patch, ok := o.entries[entry.ID]; ok {
		if patch.Agency != nil {
			entry.Agency = *patch.Agency
		}
		if patch.Organization != nil {
			entry.Organization = patch.Organization
		}
		if patch.RequestDate != nil {
			entry.RequestDate = patch.RequestDate
		}
		if patch.CompletionDate != nil {
			entry.CompletionDate = patch.CompletionDate
		}
		if patch.Resolution != nil {
			entry.Resolution = patch.Resolution
		}
		if patch.Subject != nil {
			entry.Subject = patch.Subject
		}
		if patch.Fee != nil {
			entry.Fee = patch.Fee
		}
	}

	cleaned := quoteRuns.ReplaceAllString(entry.Agency, "'")
	if normalized := o.NormalizeAgencyName(cleaned); normalized != entry.Agency {
		entry.Agency = normalized
	}

	if entry.Organization != nil {
		if remapped, ok := o.organizations[*entry.Organization]; ok {
			entry.Organization = &remapped
		}
	}
	return entry
}

// DateOverrides returns the per-entry overrides for one date column, sorted
// by id, for building corrected date expressions in SQL.
func (o *Overlay) DateOverrides(column string) []DateOverride {
	var out []DateOverride
	for id, patch := range o.entries {
		var date *string
		switch column {
		case "request_date":
			date = patch.RequestDate
		case "completion_date":
			date = patch.CompletionDate
		}
		if date != nil {
			out = append(out, DateOverride{ID: id, Date: *date})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
