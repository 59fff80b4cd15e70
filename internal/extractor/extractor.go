package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"pagesum/internal/domain"
	"pagesum/internal/store"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const (
	DefaultFetchTimeout = 20 * time.Second
	DefaultDomainRPS    = 1.0

	maxPageBytes = 5 << 20
	userAgent    = "Mozilla/5.0 (compatible; pagesum/1.0; +https://github.com/pagesum)"
)

// Extractor downloads a page and turns it into a readable Markdown article.
type Extractor struct {
	client       *http.Client
	allowPrivate bool
	limiter   *domainLimiter
	converter *converter.Converter
	cache     *parseCache
	now       func() time.Time
	log       *slog.Logger
}

type Option func(*Extractor)

// WithHTTPClient replaces the page client. The replacement does not refuse non-public addresses.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Extractor) {
		e.client = client
	}
}

// WithDomainRPS sets the outbound request rate per host. Zero disables pacing.
func WithDomainRPS(rps float64) Option {
	return func(e *Extractor) {
		e.limiter = newDomainLimiter(rps)
	}
}

// WithPrivateAddresses lets the default client fetch pages from loopback and private networks.
func WithPrivateAddresses(allow bool) Option {
	return func(e *Extractor) {
		e.allowPrivate = allow
	}
}

func WithoutCache() Option {
	return func(e *Extractor) {
		e.cache = nil
	}
}

func New(timeout time.Duration, log *slog.Logger, opts ...Option) *Extractor {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	e := &Extractor{
		limiter: newDomainLimiter(DefaultDomainRPS),
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		cache: newParseCache(parseCacheMaxEntries),
		now:   time.Now,
		log:   log,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.client == nil {
		e.client = newFetchClient(timeout, e.allowPrivate)
	}

	return e
}

// Extract fetches rawURL and returns its main content as Markdown with whatever metadata the page exposes.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (domain.ParsedArticle, error) {
	normalized, ok := store.SanitizeURL(rawURL)
	if !ok {
		return domain.ParsedArticle{}, fmt.Errorf("extract: %w: %q", domain.ErrInvalidURL, rawURL)
	}

	if cached, hit, err := e.cache.lookup(normalized, e.now()); hit {
		e.log.DebugContext(ctx, "Parse cache hit",
			"url", normalized,
			"failed", err != nil)

		return cached, err
	}

	pageURL, err := url.Parse(normalized)
	if err != nil {
		return domain.ParsedArticle{}, fmt.Errorf("extract: %w: %w", domain.ErrInvalidURL, err)
	}

	if err = e.limiter.wait(ctx, pageURL.Hostname()); err != nil {
		return domain.ParsedArticle{}, classifyFetchError(err)
	}

	started := time.Now()

	rawHTML, finalURL, err := e.fetch(ctx, pageURL)
	if err != nil {
		e.rememberFailure(ctx, normalized, err)
		return domain.ParsedArticle{}, err
	}

	article, err := e.Parse(rawHTML, finalURL)
	if err != nil {
		e.rememberFailure(ctx, normalized, err)
		return domain.ParsedArticle{}, err
	}
	article.URL = normalized

	urls := []string{normalized}
	if redirected, ok := store.SanitizeURL(finalURL.String()); ok && redirected != normalized {
		urls = append(urls, redirected)
	}
	e.cache.rememberArticle(article, e.now(), urls...)

	e.log.InfoContext(ctx, "Article is extracted",
		"url", normalized,
		"title", article.Title,
		"contentChars", len(article.Content),
		"durationMs", time.Since(started).Milliseconds())

	return article, nil
}

// rememberFailure caches extraction failures briefly. Timeouts and cancelled requests may succeed on a retry,
// so they are not cached.
func (e *Extractor) rememberFailure(ctx context.Context, normalized string, err error) {
	if ctx.Err() != nil || errors.Is(err, domain.ErrUpstreamTimeout) || !errors.Is(err, domain.ErrExtractionFailed) {
		return
	}

	e.cache.rememberFailure(err, e.now(), normalized)
}

// Parse extracts the article from already downloaded HTML.
func (e *Extractor) Parse(rawHTML string, pageURL *url.URL) (domain.ParsedArticle, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return domain.ParsedArticle{}, fmt.Errorf("%w: empty HTML", domain.ErrExtractionFailed)
	}

	parsed, err := readability.FromReader(strings.NewReader(rawHTML), pageURL)
	if err != nil {
		return domain.ParsedArticle{}, fmt.Errorf("%w: readability: %w", domain.ErrExtractionFailed, err)
	}

	content := ""
	if strings.TrimSpace(parsed.Content) != "" {
		content, err = e.converter.ConvertString(parsed.Content)
		if err != nil {
			return domain.ParsedArticle{}, fmt.Errorf("%w: convert to markdown: %w", domain.ErrExtractionFailed, err)
		}
	}
	content = strings.TrimSpace(content)

	if content == "" {
		content = strings.TrimSpace(parsed.TextContent)
	}
	if content == "" {
		return domain.ParsedArticle{}, fmt.Errorf("%w: no readable content", domain.ErrExtractionFailed)
	}

	meta := readMeta(rawHTML)

	article := domain.ParsedArticle{
		URL:          pageURL.String(),
		Title:        firstNonEmpty(parsed.Title, meta.title),
		Author:       firstNonEmpty(parsed.Byline, meta.author),
		Domain:       pageURL.Hostname(),
		LeadImageURL: firstNonEmpty(parsed.Image, meta.image),
		Content:      content,
	}

	if article.LeadImageURL != "" {
		article.LeadImageURL = resolveReference(pageURL, article.LeadImageURL)
	}

	return article, nil
}

func (e *Extractor) fetch(ctx context.Context, pageURL *url.URL) (string, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("%w: create request: %w", domain.ErrExtractionFailed, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", nil, classifyFetchError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("%w: HTTP %d for %s", domain.ErrExtractionFailed, resp.StatusCode, pageURL)
	}

	if contentType := resp.Header.Get("Content-Type"); contentType != "" &&
		!strings.Contains(contentType, "html") && !strings.Contains(contentType, "xml") {
		return "", nil, fmt.Errorf("%w: unsupported content type %q", domain.ErrExtractionFailed, contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", nil, classifyFetchError(err)
	}

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	return string(body), finalURL, nil
}

type pageMeta struct {
	title  string
	author string
	image  string
}

func readMeta(rawHTML string) pageMeta {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return pageMeta{}
	}

	attr := func(selector string) string {
		v, _ := doc.Find(selector).First().Attr("content")
		return strings.TrimSpace(v)
	}

	return pageMeta{
		title: firstNonEmpty(
			attr(`meta[property="og:title"]`),
			strings.TrimSpace(doc.Find("title").First().Text()),
		),
		author: firstNonEmpty(
			attr(`meta[name="author"]`),
			attr(`meta[property="article:author"]`),
		),
		image: firstNonEmpty(
			attr(`meta[property="og:image"]`),
			attr(`meta[name="twitter:image"]`),
		),
	}
}

func classifyFetchError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("fetch page: %w: %w", domain.ErrUpstreamTimeout, err)
	}

	return fmt.Errorf("fetch page: %w: %w", domain.ErrExtractionFailed, err)
}

func resolveReference(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
