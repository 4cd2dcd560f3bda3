// Package feed renders the RSS 2.0 documents for latest entries and
// per-agency entries.
package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/wvfoia/wvfoia/internal/model"
	"github.com/wvfoia/wvfoia/internal/stats"
)

const (
	latestItemCap = 200
	agencyItemCap = 100
	dateLayout    = "2006-01-02"
)

type rss struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Channel channel  `xml:"channel"`
}

type channel struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Items       []item `xml:"item"`
}

type item struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        guid   `xml:"guid"`
	PubDate     string `xml:"pubDate,omitempty"`
	Description string `xml:"description"`
}

type guid struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// Builder renders feeds from the stats service. siteURL is the public base
// for item links, without a trailing slash.
type Builder struct {
	stats   *stats.Service
	siteURL string
}

func NewBuilder(svc *stats.Service, siteURL string) *Builder {
	return &Builder{stats: svc, siteURL: strings.TrimRight(siteURL, "/")}
}

// Latest renders the feed of entries reported on the most recent reporting
// date.
func (b *Builder) Latest(ctx context.Context) ([]byte, error) {
	snap, err := b.stats.LatestEntries(ctx)
	if err != nil {
		return nil, err
	}

	entries := snap.Entries
	if len(entries) > latestItemCap {
		entries = entries[:latestItemCap]
	}

	items := make([]item, 0, len(entries))
	for _, e := range entries {
		items = append(items, b.item(e, fmt.Sprintf("entry-%d", e.ID)))
	}
	return render(channel{
		Title:       "WV FOIA: Latest Entries",
		Link:        b.siteURL + "/entries",
		Description: "Public records requests from the most recent reporting date.",
		Items:       items,
	})
}

// Agency renders the feed for one agency slug, or (nil, nil) when the slug
// resolves to no corrected identity.
func (b *Builder) Agency(ctx context.Context, slug string) ([]byte, error) {
	agency, err := b.stats.AgencyBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if agency == nil {
		return nil, nil
	}

	page, err := b.stats.ListEntries(ctx, model.EntrySearchOptions{Agency: slug},
		model.PageCursor{Page: 1, PageSize: agencyItemCap})
	if err != nil {
		return nil, err
	}

	items := make([]item, 0, len(page.Entries))
	for _, e := range page.Entries {
		items = append(items, b.item(e, fmt.Sprintf("agency-%s-entry-%d", slug, e.ID)))
	}
	return render(channel{
		Title:       "WV FOIA: " + agency.Name,
		Link:        b.siteURL + "/agencies/" + slug,
		Description: "Public records requests received by " + agency.Name + ".",
		Items:       items,
	})
}

func (b *Builder) item(e model.Entry, guidValue string) item {
	title := e.Agency
	if e.Subject != nil && *e.Subject != "" {
		title = *e.Subject
	}
	var desc strings.Builder
	fmt.Fprintf(&desc, "Request to %s", e.Agency)
	if e.Resolution != nil && *e.Resolution != "" {
		fmt.Fprintf(&desc, ". Resolution: %s", *e.Resolution)
	}
	if e.Details != nil && *e.Details != "" {
		fmt.Fprintf(&desc, ". %s", *e.Details)
	}

	return item{
		Title:       title,
		Link:        fmt.Sprintf("%s/entries/%d", b.siteURL, e.ID),
		GUID:        guid{IsPermaLink: false, Value: guidValue},
		PubDate:     pubDate(e),
		Description: desc.String(),
	}
}

// pubDate picks the first available date, preferring the reporting date, and
// renders it as noon UTC so timezone ambiguity never shifts the calendar day.
func pubDate(e model.Entry) string {
	for _, candidate := range []*string{e.EntryDate, e.CompletionDate, e.RequestDate} {
		if candidate == nil {
			continue
		}
		day, err := time.Parse(dateLayout, *candidate)
		if err != nil {
			continue
		}
		return day.Add(12 * time.Hour).Format(time.RFC1123Z)
	}
	return ""
}

func render(ch channel) ([]byte, error) {
	doc := rss{Version: "2.0", Channel: ch}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "feed: marshal rss")
	}
	return append([]byte(xml.Header), body...), nil
}
