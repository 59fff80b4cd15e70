// Package app runs the user-facing flows on top of the local summary store, the client-side rate limiter
// and the server API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"pagesum/internal/domain"
	"pagesum/internal/ratelimiter"
	"pagesum/internal/store"
	"pagesum/internal/wire"
	"strings"
)

var (
	// ErrEmptyContent means the page parsed but had nothing to summarise.
	ErrEmptyContent = fmt.Errorf("%w: no content could be extracted from the provided URL", domain.ErrExtractionFailed)
	ErrNotStored    = errors.New("article is not stored")
)

// API is the part of the server the flows depend on.
type API interface {
	Parse(ctx context.Context, rawURL string) (domain.ParsedArticle, error)
	Summarize(ctx context.Context, text string, mode domain.Mode, sourceURL string) (wire.SummaryResponse, error)
}

type App struct {
	store   *store.Store
	limiter *ratelimiter.RateLimiter
	api     API
	log     *slog.Logger
}

// Result is the outcome of a summarise call.
type Result struct {
	Article *domain.StoredArticle
	Mode    domain.Mode
	Summary string
	// Cached is set when the summary came from the store without contacting the server.
	Cached bool
	// ServerRemaining is the server's remaining quota after the call, -1 when unknown.
	ServerRemaining int
}

func New(s *store.Store, limiter *ratelimiter.RateLimiter, api API, log *slog.Logger) *App {
	return &App{
		store:   s,
		limiter: limiter,
		api:     api,
		log:     log,
	}
}

// Summarise returns the summary of the page at rawURL in mode, generating and storing it when missing.
func (a *App) Summarise(ctx context.Context, rawURL string, mode domain.Mode) (Result, error) {
	if mode == "" {
		mode = domain.DefaultMode
	}
	if !mode.Valid() {
		return Result{}, fmt.Errorf("summarise: %w: %q", domain.ErrUnknownMode, mode)
	}

	normalized, ok := store.SanitizeURL(rawURL)
	if !ok {
		return Result{}, fmt.Errorf("summarise: %w: %q", domain.ErrInvalidURL, rawURL)
	}

	if article, found := a.store.FindByURL(ctx, normalized); found {
		if cached, has := article.Summaries[mode]; has {
			return Result{
				Article:         article,
				Mode:            mode,
				Summary:         cached.Text,
				Cached:          true,
				ServerRemaining: -1,
			}, nil
		}
	}

	if !a.limiter.CheckLimit(ratelimiter.UnknownIdentity) {
		return Result{}, fmt.Errorf("summarise: %w", domain.ErrRateLimited)
	}

	article, err := a.store.EnsureArticle(ctx, normalized)
	if err != nil {
		return Result{}, fmt.Errorf("ensure article: %w", err)
	}

	content := article.Content
	if strings.TrimSpace(content) == "" {
		parsed, parseErr := a.api.Parse(ctx, normalized)
		if parseErr != nil {
			return Result{}, fmt.Errorf("parse article: %w", parseErr)
		}

		article, err = a.storeParsed(ctx, normalized, parsed)
		if err != nil {
			return Result{}, err
		}
		content = article.Content
	}

	if strings.TrimSpace(content) == "" {
		return Result{}, ErrEmptyContent
	}

	resp, err := a.api.Summarize(ctx, content, mode, normalized)
	if err != nil {
		return Result{}, fmt.Errorf("summarize article: %w", err)
	}

	article, err = a.store.SetSummary(ctx, normalized, mode, resp.Response)
	if err != nil {
		return Result{}, fmt.Errorf("save summary: %w", err)
	}

	a.log.InfoContext(ctx, "Summary is generated",
		"url", normalized,
		"summaryMode", mode,
		"serverRemaining", resp.RemainingRequests)

	return Result{
		Article:         article,
		Mode:            mode,
		Summary:         resp.Response,
		ServerRemaining: resp.RemainingRequests,
	}, nil
}

// SummariseText summarises free text that has no page behind it. Nothing is stored.
func (a *App) SummariseText(ctx context.Context, text string, mode domain.Mode) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("summarise text: %w", ErrEmptyContent)
	}
	if mode == "" {
		mode = domain.DefaultMode
	}
	if !mode.Valid() {
		return Result{}, fmt.Errorf("summarise text: %w: %q", domain.ErrUnknownMode, mode)
	}

	if !a.limiter.CheckLimit(ratelimiter.UnknownIdentity) {
		return Result{}, fmt.Errorf("summarise text: %w", domain.ErrRateLimited)
	}

	resp, err := a.api.Summarize(ctx, text, mode, "")
	if err != nil {
		return Result{}, fmt.Errorf("summarize text: %w", err)
	}

	return Result{
		Mode:            mode,
		Summary:         resp.Response,
		ServerRemaining: resp.RemainingRequests,
	}, nil
}

// Refresh re-parses the page and regenerates every summary mode already saved for it.
func (a *App) Refresh(ctx context.Context, rawURL string) (*domain.StoredArticle, error) {
	normalized, ok := store.SanitizeURL(rawURL)
	if !ok {
		return nil, fmt.Errorf("refresh: %w: %q", domain.ErrInvalidURL, rawURL)
	}

	current, found := a.store.FindByURL(ctx, normalized)
	if !found {
		return nil, fmt.Errorf("refresh: %w", ErrNotStored)
	}

	if !a.limiter.CheckLimit(ratelimiter.UnknownIdentity) {
		return nil, fmt.Errorf("refresh: %w", domain.ErrRateLimited)
	}

	parsed, err := a.api.Parse(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("parse article: %w", err)
	}

	article, err := a.storeParsed(ctx, normalized, parsed)
	if err != nil {
		return nil, err
	}

	for _, mode := range current.SavedModes() {
		resp, sumErr := a.api.Summarize(ctx, article.Content, mode, normalized)
		if sumErr != nil {
			return article, fmt.Errorf("summarize %s: %w", mode, sumErr)
		}

		article, err = a.store.SetSummary(ctx, normalized, mode, resp.Response)
		if err != nil {
			return nil, fmt.Errorf("save summary: %w", err)
		}
	}

	a.log.InfoContext(ctx, "Article is refreshed",
		"url", normalized,
		"modes", current.SavedModes())

	return article, nil
}

func (a *App) List(ctx context.Context) []domain.ArticleListItem {
	return a.store.ListSummarised(ctx)
}

func (a *App) Show(ctx context.Context, rawURL string) (*domain.StoredArticle, error) {
	if _, ok := store.SanitizeURL(rawURL); !ok {
		return nil, fmt.Errorf("show: %w: %q", domain.ErrInvalidURL, rawURL)
	}

	article, found := a.store.FindByURL(ctx, rawURL)
	if !found {
		return nil, fmt.Errorf("show: %w", ErrNotStored)
	}

	return article, nil
}

func (a *App) Delete(ctx context.Context, rawURL string) {
	a.store.DeleteByURL(ctx, rawURL)
}

func (a *App) Clear(ctx context.Context) {
	a.store.ClearAll(ctx)
}

// Remaining reports the client-side quota left in the current window.
func (a *App) Remaining() int {
	return a.limiter.Remaining(ratelimiter.UnknownIdentity)
}

func (a *App) ResetLimit() {
	a.limiter.Reset(ratelimiter.UnknownIdentity)
}

// Subscribe exposes store change signals.
func (a *App) Subscribe() (<-chan struct{}, func()) {
	return a.store.Subscribe()
}

func (a *App) storeParsed(
	ctx context.Context,
	normalized string,
	parsed domain.ParsedArticle,
) (*domain.StoredArticle, error) {
	fields := parsed.Fields()
	if fields.Domain == nil {
		host := store.Hostname(normalized)
		fields.Domain = &host
	}

	article, err := a.store.SetArticleParsedData(ctx, normalized, fields)
	if err != nil {
		return nil, fmt.Errorf("save parsed data: %w", err)
	}

	return article, nil
}
