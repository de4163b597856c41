// Package s3listing crawls the MRMS archive mirrored in the public NOAA S3
// bucket, laid out as <prefix><product>_<level>/<YYYYMMDD>/<file>.
package s3listing

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
)

// Options configures the bucket and optional S3-compatible endpoint.
type Options struct {
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string
	Product  string
}

// Crawler lists product directories and day partitions overlapping a window.
type Crawler struct {
	client  s3.ListObjectsV2APIClient
	opts    Options
	baseURL string
	logger  *slog.Logger
}

// New creates a Crawler with anonymous credentials, which the public NOAA
// buckets require.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Crawler, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, opts, logger), nil
}

// NewWithClient creates a Crawler over an existing list client.
func NewWithClient(client s3.ListObjectsV2APIClient, opts Options, logger *slog.Logger) *Crawler {
	base := fmt.Sprintf("https://%s.s3.amazonaws.com/", opts.Bucket)
	if opts.Endpoint != "" {
		base = strings.TrimSuffix(opts.Endpoint, "/") + "/" + opts.Bucket + "/"
	}
	return &Crawler{client: client, opts: opts, baseURL: base, logger: logger}
}

// Crawl yields objects of the configured product whose valid time falls
// inside w, as HTTPS URLs the fetcher can download. A failed product listing
// ends the sequence; a failed day partition is yielded and skipped.
func (c *Crawler) Crawl(ctx context.Context, w domain.Window) iter.Seq2[domain.ArchiveEntry, error] {
	return func(yield func(domain.ArchiveEntry, error) bool) {
		dirs, err := c.productDirs(ctx)
		if err != nil {
			yield(domain.ArchiveEntry{}, err)
			return
		}
		for _, dir := range dirs {
			for _, day := range w.Days() {
				prefix := dir + day.Format("20060102") + "/"
				if !c.crawlPrefix(ctx, prefix, w, yield) {
					return
				}
			}
		}
	}
}

func (c *Crawler) productDirs(ctx context.Context) ([]string, error) {
	var dirs []string
	p := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.opts.Bucket),
		Prefix:    aws.String(c.opts.Prefix),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, &domain.NetworkError{URL: c.baseURL + c.opts.Prefix, Err: err}
		}
		for _, cp := range page.CommonPrefixes {
			dir := aws.ToString(cp.Prefix)
			if strings.Contains(path.Base(dir), c.opts.Product) {
				dirs = append(dirs, dir)
			}
		}
	}
	return dirs, nil
}

// crawlPrefix yields matching objects under prefix. It returns false when the
// consumer stopped iterating.
func (c *Crawler) crawlPrefix(ctx context.Context, prefix string, w domain.Window, yield func(domain.ArchiveEntry, error) bool) bool {
	p := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.opts.Bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			c.logger.Warn("list partition failed, skipping", "prefix", prefix, "error", err)
			return yield(domain.ArchiveEntry{URL: c.baseURL + prefix}, &domain.NetworkError{URL: c.baseURL + prefix, Err: err})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := path.Base(key)
			vt, ok := domain.ParseValidTime(name)
			if !ok || !w.Contains(vt) {
				continue
			}
			e := domain.ArchiveEntry{URL: c.objectURL(key), ValidTime: vt, Product: domain.ProductToken(name)}
			if e.Product == "" {
				e.Product = c.opts.Product
			}
			if !yield(e, nil) {
				return false
			}
		}
	}
	return true
}

func (c *Crawler) objectURL(key string) string {
	return c.baseURL + (&url.URL{Path: key}).EscapedPath()
}
