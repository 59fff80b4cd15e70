package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"pagesum/internal/app"
	"pagesum/internal/config"
	"pagesum/internal/domain"
	"pagesum/internal/wire"
	"regexp"
	"strings"

	"mvdan.cc/xurls/v2"
)

// Dependencies holds the services commands run against.
type Dependencies struct {
	Ctx    context.Context
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
	App    *app.App
	Server ServerStatus
	// Keys lists the backend keys. Only set for the sqlite backend.
	Keys func(ctx context.Context) ([]string, error)
}

// ServerStatus reports the server-side quota.
type ServerStatus interface {
	RateLimit(ctx context.Context) (wire.RateLimitResponse, error)
}

// CLI defines the command-line interface structure for Kong.
type CLI struct {
	Verbose bool `short:"v" help:"Log debug output to stderr"`

	Summarise  SummariseCmd  `cmd:"" aliases:"summarize,s" help:"Summarise a page URL or a piece of text"`
	Refresh    RefreshCmd    `cmd:"" help:"Re-parse a stored page and regenerate its saved summaries"`
	List       ListCmd       `cmd:"" aliases:"ls" help:"List summarised pages, most recent first"`
	Show       ShowCmd       `cmd:"" help:"Show a stored summary"`
	Delete     DeleteCmd     `cmd:"" aliases:"rm" help:"Delete a stored page and its summaries"`
	Clear      ClearCmd      `cmd:"" help:"Delete every stored page"`
	Remaining  RemainingCmd  `cmd:"" help:"Show the remaining summary quota"`
	ResetLimit ResetLimitCmd `cmd:"" name:"reset-limit" help:"Forget the local request history"`
	Modes      ModesCmd      `cmd:"" help:"List summary modes"`
	Batch      BatchCmd      `cmd:"" help:"Summarise every URL found on stdin"`
	Stats      StatsCmd      `cmd:"" help:"Show what the local store holds"`
}

type SummariseCmd struct {
	Input []string `arg:"" help:"Page URL, or text to summarise (a URL inside the text is used when present)"`
	Mode  string   `short:"m" default:"tldr" enum:"tldr,plain-english,key-takeaways,structured-outline,structured-summary,faqs" help:"Summary mode (${enum})"`
}

type RefreshCmd struct {
	URL string `arg:"" help:"Stored page URL"`
}

type ListCmd struct{}

type ShowCmd struct {
	URL  string `arg:"" help:"Stored page URL"`
	Mode string `short:"m" help:"Summary mode to show, defaults to the first saved one"`
	Full bool   `help:"Also print the extracted content"`
}

type DeleteCmd struct {
	URL string `arg:"" help:"Stored page URL"`
}

type ClearCmd struct {
	Force bool `help:"Confirm deletion"`
}

type RemainingCmd struct {
	Server bool `help:"Also ask the server for its quota"`
}

type ResetLimitCmd struct{}

type ModesCmd struct{}

type BatchCmd struct {
	Mode string `short:"m" default:"tldr" enum:"tldr,plain-english,key-takeaways,structured-outline,structured-summary,faqs" help:"Summary mode (${enum})"`
}

type StatsCmd struct{}

func newHTTPClient(cfg config.Client) *http.Client {
	return &http.Client{Timeout: cfg.RequestTimeout}
}

//nolint:gochecknoglobals // Compiled once, read-only.
var urlRe = compileURLRe()

func compileURLRe() *regexp.Regexp {
	re, err := xurls.StrictMatchingScheme(`https?://`)
	if err != nil {
		panic(err)
	}
	return re
}

// findURLs returns the http(s) URLs in text in order of appearance, without duplicates.
func findURLs(text string) []string {
	var urls []string
	seen := make(map[string]struct{})

	for _, u := range urlRe.FindAllString(text, -1) {
		u = strings.TrimSpace(u)
		if _, ok := seen[u]; ok {
			continue
		}

		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	return urls
}

// errorMessage turns an error into the single line shown to the user.
func errorMessage(err error) string {
	var flagged *domain.ContentFlaggedError

	switch {
	case errors.As(err, &flagged):
		return "Content flagged as inappropriate: " + strings.Join(flagged.Categories, ", ")
	case errors.Is(err, domain.ErrRateLimited):
		return "Rate limit exceeded. Please try again later."
	case errors.Is(err, app.ErrEmptyContent):
		return "No content could be extracted from the provided URL."
	case errors.Is(err, domain.ErrInvalidURL):
		return "Please enter a valid http or https URL."
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return "The request timed out. Please try again."
	case errors.Is(err, domain.ErrExtractionFailed):
		return "Could not read the page: " + err.Error()
	case errors.Is(err, domain.ErrGenerationFailed):
		return "Could not generate a summary: " + err.Error()
	case errors.Is(err, app.ErrNotStored):
		return "Nothing is stored for that URL. Use 'pagesum summarise' first."
	default:
		return "error: " + err.Error()
	}
}
