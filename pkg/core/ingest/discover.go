package ingest

import (
	"bytes"
	"context"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"disclosure_pipeline/pkg/platform/logger"
)

var yearDirPattern = regexp.MustCompile(`^20\d{2}/?$`)

// Discoverer walks the regulator's year/archive directory listing.
type Discoverer struct {
	client  Getter
	baseURL string
	timeout time.Duration
	log     *zap.Logger
}

// NewDiscoverer creates a Discoverer rooted at baseURL.
func NewDiscoverer(client Getter, baseURL string, listingTimeout time.Duration, log *zap.Logger) *Discoverer {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Discoverer{
		client:  client,
		baseURL: baseURL,
		timeout: listingTimeout,
		log:     logger.OrNop(log).With(zap.String("stage", "discover")),
	}
}

// Discover returns up to count archive URLs, most recent first: years are
// visited newest first and each year's archives are sorted descending by
// name. On a listing failure it stops and returns what it has so far along
// with the error; callers should treat a short list as a warning.
func (d *Discoverer) Discover(ctx context.Context, count int) ([]string, error) {
	var found []string
	if count <= 0 {
		return found, nil
	}

	years, err := d.listYears(ctx)
	if err != nil {
		return found, err
	}

	for _, yearURL := range years {
		archives, err := d.listArchives(ctx, yearURL)
		if err != nil {
			d.log.Warn("year listing failed, discovery truncated",
				zap.String("url", yearURL), zap.Int("found", len(found)), zap.Error(err))
			return found, err
		}
		for _, a := range archives {
			found = append(found, a)
			if len(found) == count {
				return found, nil
			}
		}
	}

	d.log.Info("discovery finished with fewer archives than requested",
		zap.Int("found", len(found)), zap.Int("requested", count))
	return found, nil
}

func (d *Discoverer) listYears(ctx context.Context) ([]string, error) {
	base, hrefs, err := d.anchors(ctx, d.baseURL)
	if err != nil {
		return nil, err
	}

	type year struct{ name, url string }
	var years []year
	for _, href := range hrefs {
		name := path.Base(strings.TrimSuffix(href, "/"))
		if !yearDirPattern.MatchString(name) && !yearDirPattern.MatchString(href) {
			continue
		}
		u, err := resolve(base, href)
		if err != nil {
			continue
		}
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		years = append(years, year{name: name, url: u})
	}
	sort.SliceStable(years, func(i, j int) bool { return years[i].name > years[j].name })

	urls := make([]string, 0, len(years))
	seen := make(map[string]bool)
	for _, y := range years {
		if !seen[y.url] {
			seen[y.url] = true
			urls = append(urls, y.url)
		}
	}
	return urls, nil
}

func (d *Discoverer) listArchives(ctx context.Context, yearURL string) ([]string, error) {
	base, hrefs, err := d.anchors(ctx, yearURL)
	if err != nil {
		return nil, err
	}

	var archives []string
	for _, href := range hrefs {
		if !strings.HasSuffix(strings.ToLower(href), ".zip") {
			continue
		}
		u, err := resolve(base, href)
		if err != nil {
			continue
		}
		archives = append(archives, u)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(archives)))
	return archives, nil
}

// anchors fetches a listing page and returns its parsed URL and every href.
func (d *Discoverer) anchors(ctx context.Context, pageURL string) (*url.URL, []string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "ingest: parse listing url %s", pageURL)
	}

	body, err := d.client.Get(ctx, pageURL, d.timeout)
	if err != nil {
		return nil, nil, eris.Wrap(err, "ingest: fetch listing")
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "ingest: parse listing %s", pageURL)
	}

	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" {
			hrefs = append(hrefs, strings.TrimSpace(href))
		}
	})
	return base, hrefs, nil
}

func resolve(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
