// Package listing crawls HTML directory listings of an MRMS archive.
package listing

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
	"golang.org/x/net/html"
)

// Crawler walks a two-level listing: product directories under a base URL,
// then timestamped files inside each matching directory.
type Crawler struct {
	client  *http.Client
	base    *url.URL
	product string
	logger  *slog.Logger
}

// New creates a Crawler rooted at baseURL that follows entries containing
// product.
func New(client *http.Client, baseURL, product string, logger *slog.Logger) (*Crawler, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &Crawler{client: client, base: u, product: product, logger: logger}, nil
}

// Crawl yields the files of the configured product whose embedded valid time
// falls inside w. Each call re-issues the listing requests.
//
// A failed sub-listing is yielded with the sub-listing URL in the entry and
// crawling continues. A failed top-level listing is yielded with a zero entry
// and ends the sequence.
func (c *Crawler) Crawl(ctx context.Context, w domain.Window) iter.Seq2[domain.ArchiveEntry, error] {
	return func(yield func(domain.ArchiveEntry, error) bool) {
		top, err := c.list(ctx, c.base)
		if err != nil {
			yield(domain.ArchiveEntry{}, err)
			return
		}
		for _, ref := range top {
			name := entryName(ref)
			if !strings.Contains(name, c.product) {
				continue
			}
			if !strings.HasSuffix(ref.Path, "/") {
				if e, ok := c.entry(ref, w); ok && !yield(e, nil) {
					return
				}
				continue
			}
			files, err := c.list(ctx, ref)
			if err != nil {
				c.logger.Warn("sub-listing failed, skipping", "url", ref.String(), "error", err)
				if !yield(domain.ArchiveEntry{URL: ref.String()}, err) {
					return
				}
				continue
			}
			for _, f := range files {
				if e, ok := c.entry(f, w); ok && !yield(e, nil) {
					return
				}
			}
		}
	}
}

func (c *Crawler) entry(ref *url.URL, w domain.Window) (domain.ArchiveEntry, bool) {
	name := entryName(ref)
	vt, ok := domain.ParseValidTime(name)
	if !ok || !w.Contains(vt) {
		return domain.ArchiveEntry{}, false
	}
	product := domain.ProductToken(name)
	if product == "" {
		product = c.product
	}
	return domain.ArchiveEntry{URL: ref.String(), ValidTime: vt, Product: product}, true
}

// list fetches one listing page and returns the links below it.
func (c *Crawler) list(ctx context.Context, u *url.URL) ([]*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &domain.NetworkError{URL: u.String(), Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{URL: u.String(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &domain.NetworkError{URL: u.String(), StatusCode: resp.StatusCode}
	}

	hrefs, err := parseLinks(resp.Body)
	if err != nil {
		return nil, &domain.NetworkError{URL: u.String(), StatusCode: resp.StatusCode, Err: err}
	}
	prefix := u.String()
	var out []*url.URL
	for _, h := range hrefs {
		ref, err := u.Parse(h)
		if err != nil {
			continue
		}
		ref.RawQuery, ref.Fragment = "", ""
		// Only descend: sort links, parent links and external links are dropped.
		if s := ref.String(); len(s) > len(prefix) && strings.HasPrefix(s, prefix) {
			out = append(out, ref)
		}
	}
	return out, nil
}

func entryName(u *url.URL) string {
	return path.Base(strings.TrimSuffix(u.Path, "/"))
}

// parseLinks returns the href of every anchor in an HTML document.
func parseLinks(r io.Reader) ([]string, error) {
	z := html.NewTokenizer(r)
	var hrefs []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return hrefs, nil
			}
			return hrefs, z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" {
				continue
			}
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) == "href" {
					hrefs = append(hrefs, string(val))
				}
			}
		}
	}
}
