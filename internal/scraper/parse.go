package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/wvfoia/wvfoia/internal/model"
	"github.com/wvfoia/wvfoia/internal/text"
)

var (
	nonAlnumRuns = regexp.MustCompile(`[^a-z0-9]+`)
	mmddyyyy     = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	isoDay       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// normalizeKey turns a page label into a snake_case field key: colons
// removed, trimmed, lowercased, non-alphanumeric runs collapsed to
// underscores.
func normalizeKey(label string) string {
	s := strings.ReplaceAll(label, ":", "")
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnumRuns.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// normalizeDate accepts MM/DD/YYYY or an already-ISO day and returns ISO
// YYYY-MM-DD. Anything else is treated as absent.
func normalizeDate(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	if m := mmddyyyy.FindStringSubmatch(trimmed); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		iso := fmt.Sprintf("%s-%02d-%02d", m[3], month, day)
		return &iso
	}
	if isoDay.MatchString(trimmed) {
		return &trimmed
	}
	return nil
}

func optional(values map[string]string, key string) *string {
	if v := values[key]; v != "" {
		return &v
	}
	return nil
}

// parseEntry extracts an entry from a detail page. The page carries fields
// in two regions: a label/value column pair, and a panel list of longer
// request items. Unrecognized keys are discarded. A page that parses to zero
// pairs returns nil: it is indistinguishable from a removed record and must
// not become a blank row.
func parseEntry(doc *goquery.Document, id int) *model.Entry {
	values := make(map[string]string)

	labels := doc.Find(".content-col-label .content-div-var strong")
	data := doc.Find(".content-col-data .content-div-var")
	pairCount := labels.Length()
	if data.Length() < pairCount {
		pairCount = data.Length()
	}
	for i := 0; i < pairCount; i++ {
		key := normalizeKey(labels.Eq(i).Text())
		if key == "" {
			continue
		}
		values[key] = text.CollapseWhitespace(data.Eq(i).Text())
	}

	doc.Find(".container-requestitems .panel-body").Each(func(_ int, panel *goquery.Selection) {
		value := panel.Find("p").First()
		key := normalizeKey(text.CollapseWhitespace(panel.Find("strong").First().Text()))
		if key == "" || value.Length() == 0 {
			return
		}
		values[key] = text.CollapseWhitespace(value.Text())
	})

	if len(values) == 0 {
		return nil
	}

	agency := values["agency"]
	if agency == "" {
		agency = "Unknown"
	}

	var requestDate, completionDate, entryDate *string
	if v, ok := values["request_date"]; ok {
		requestDate = normalizeDate(v)
	}
	if v, ok := values["completion_date"]; ok {
		completionDate = normalizeDate(v)
	}
	if v, ok := values["entry_date"]; ok {
		entryDate = normalizeDate(v)
	}

	return &model.Entry{
		ID:             id,
		Agency:         agency,
		Organization:   optional(values, "organization"),
		FirstName:      optional(values, "first_name"),
		MiddleName:     optional(values, "middle_name"),
		LastName:       optional(values, "last_name"),
		RequestDate:    requestDate,
		CompletionDate: completionDate,
		EntryDate:      entryDate,
		Fee:            optional(values, "fee"),
		IsAmended:      values["amended"] != "",
		Subject:        optional(values, "subject"),
		Details:        optional(values, "details"),
		Resolution:     optional(values, "resolution"),
		Response:       optional(values, "response"),
	}
}
