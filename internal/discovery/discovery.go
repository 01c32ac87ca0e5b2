// Package discovery walks the paginated archive index and extracts bulletin links.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/guttosm/spimexpulse/internal/fetcher"
	"github.com/guttosm/spimexpulse/internal/logger"
	"github.com/guttosm/spimexpulse/internal/metrics"
)

const (
	// linkSelector matches the archive's bulletin anchors.
	linkSelector    = "a.accordeon-inner__item-title.link.xls"
	timestampLayout = "20060102150405"
)

var hrefPattern = regexp.MustCompile(`oil_xls_(\d{8})(\d{6})\.xls`)

// Getter fetches one URL; *fetcher.Fetcher satisfies it.
type Getter interface {
	Fetch(ctx context.Context, url string) fetcher.Result
}

// Link is one bulletin anchor found on an index page.
type Link struct {
	Href        string    // raw href attribute
	URL         string    // href resolved against the index URL
	PublishedAt time.Time // timestamp embedded in the href
}

// Year is the publication year used for the cutoff check.
func (l Link) Year() int { return l.PublishedAt.Year() }

// Page is the outcome of discovering one index page. Links is empty when the
// page could not be fetched or carries no bulletin anchors.
type Page struct {
	Number   int
	URL      string
	Links    []Link
	Response *fetcher.Response
}

// Discoverer builds index URLs and parses them into links.
type Discoverer struct {
	base   *url.URL
	getter Getter
}

// New validates baseURL and returns a Discoverer.
func New(baseURL string, getter Getter) (*Discoverer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	return &Discoverer{base: u, getter: getter}, nil
}

// PageURL returns the index URL for page n, e.g. "<base>?page=page-3".
func (d *Discoverer) PageURL(n int) string {
	u := *d.base
	q := u.Query()
	q.Set("page", fmt.Sprintf("page-%d", n))
	u.RawQuery = q.Encode()
	return u.String()
}

// DiscoverPage fetches page n and returns its bulletin links in document order.
func (d *Discoverer) DiscoverPage(ctx context.Context, n int) Page {
	pageURL := d.PageURL(n)
	page := Page{Number: n, URL: pageURL}
	log := logger.Component("discovery")

	res := d.getter.Fetch(ctx, pageURL)
	if res.Failed() {
		metrics.ObservePage("failed")
		log.Error().Int("page", n).Err(res.Err).Msg("index page fetch failed")
		return page
	}
	page.Response = res.Response
	if res.Response.StatusCode != http.StatusOK {
		metrics.ObservePage("failed")
		log.Error().Int("page", n).Int("status", res.Response.StatusCode).Msg("index page returned non-200")
		return page
	}

	page.Links = ExtractLinks(d.base, res.Response.Body)
	if len(page.Links) == 0 {
		metrics.ObservePage("empty")
		log.Info().Int("page", n).Msg("no bulletin links on page")
		return page
	}
	metrics.ObservePage("links")
	log.Debug().Int("page", n).Int("links", len(page.Links)).Msg("page discovered")
	return page
}

// ExtractLinks parses an index page body. Anchors whose href does not carry a valid
// embedded timestamp are skipped with a warning; duplicates keep their first position.
func ExtractLinks(base *url.URL, body []byte) []Link {
	log := logger.Component("discovery")
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Msg("index page is not parseable html")
		return nil
	}

	seen := make(map[string]struct{})
	var links []Link
	doc.Find(linkSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		published, err := ParseHref(href)
		if err != nil {
			log.Warn().Str("href", href).Err(err).Msg("skipping link")
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			log.Warn().Str("href", href).Err(err).Msg("skipping link with malformed url")
			return
		}
		seen[href] = struct{}{}
		links = append(links, Link{
			Href:        href,
			URL:         base.ResolveReference(ref).String(),
			PublishedAt: published,
		})
	})
	return links
}

// ParseHref extracts the publication timestamp from an "oil_xls_<yyyymmdd><hhmmss>.xls" href.
func ParseHref(href string) (time.Time, error) {
	m := hrefPattern.FindStringSubmatch(href)
	if m == nil {
		return time.Time{}, fmt.Errorf("href %q does not match oil_xls_<date><time>.xls", href)
	}
	ts, err := time.ParseInLocation(timestampLayout, m[1]+m[2], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("href %q: invalid timestamp: %w", href, err)
	}
	return ts, nil
}
