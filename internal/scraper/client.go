// Package scraper fetches and parses public-records entry pages from the
// state portal.
package scraper

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wvfoia/wvfoia/internal/model"
)

// UpstreamError reports an unexpected portal response. Redirects and 404s
// are ordinary "entry does not exist" signals and never produce one; anything
// else is an outage and must stop the caller before it misreads a gap.
type UpstreamError struct {
	EntryID    int
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return "scraper: upstream returned " + strconv.Itoa(e.StatusCode) + " for entry " + strconv.Itoa(e.EntryID)
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	RetryCount  int
	RequestsPer time.Duration // minimum spacing between requests; zero disables throttling
}

// Client fetches entry detail pages. It never follows redirects: the portal
// answers a missing entry with a redirect to its search page, and following
// it would hand the parser a page full of unrelated markup.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// New creates a Client for the given portal.
func New(opts Options) *Client {
	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetHeader("User-Agent", opts.UserAgent).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}))

	var limiter *rate.Limiter
	if opts.RequestsPer > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.RequestsPer), 1)
	}
	return &Client{http: client, limiter: limiter}
}

// FetchEntry downloads and parses one entry page. It returns (nil, nil) when
// the entry does not exist upstream, which the portal signals with a redirect
// or a 404, and also when the page exists but carries no recognizable fields.
func (c *Client) FetchEntry(ctx context.Context, id int) (*model.Entry, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "scraper: wait for rate limit")
		}
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("entryId", strconv.Itoa(id)).
		Get("")
	if err != nil {
		return nil, eris.Wrapf(err, "scraper: fetch entry %d", id)
	}

	switch res.StatusCode() {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusNotFound:
		zap.L().Debug("entry not present upstream",
			zap.Int("entry_id", id),
			zap.Int("status", res.StatusCode()))
		return nil, nil
	}
	if !res.IsSuccess() {
		return nil, eris.Wrapf(&UpstreamError{EntryID: id, StatusCode: res.StatusCode()}, "scraper: fetch entry %d", id)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.String()))
	if err != nil {
		return nil, eris.Wrapf(err, "scraper: parse entry %d", id)
	}
	return parseEntry(doc, id), nil
}
