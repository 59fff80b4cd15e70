// Package wire holds the JSON bodies exchanged between the server and its clients.
package wire

import (
	"errors"
	"pagesum/internal/domain"
)

type Kind string

const (
	KindInvalidURL       Kind = "invalid_url"
	KindInvalidRequest   Kind = "invalid_request"
	KindRateLimited      Kind = "rate_limited"
	KindExtractionFailed Kind = "extraction_failed"
	KindContentFlagged   Kind = "content_flagged"
	KindGenerationFailed Kind = "generation_failed"
	KindUpstreamTimeout  Kind = "upstream_timeout"
	KindUnknownMode      Kind = "unknown_mode"
	KindUnavailable      Kind = "unavailable"
	KindInternal         Kind = "internal"
)

type ParseRequest struct {
	URL string `json:"url"`
}

type ParseResponse struct {
	Article domain.ParsedArticle `json:"article"`
}

type SummaryRequest struct {
	Input       string `json:"input"`
	SummaryMode string `json:"summaryMode"`
	URL         string `json:"url,omitempty"`
}

type SummaryResponse struct {
	Response          string `json:"response"`
	SummaryMode       string `json:"summaryMode"`
	RemainingRequests int    `json:"remainingRequests"`
}

type RateLimitResponse struct {
	Remaining     int   `json:"remaining"`
	Limit         int   `json:"limit"`
	WindowSeconds int64 `json:"windowSeconds"`
}

type ErrorResponse struct {
	Error      string   `json:"error"`
	Kind       Kind     `json:"kind"`
	Categories []string `json:"categories,omitempty"`
}

// KindOf classifies err into the kind reported to clients.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, domain.ErrInvalidURL):
		return KindInvalidURL
	case errors.Is(err, domain.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return KindUpstreamTimeout
	case errors.Is(err, domain.ErrExtractionFailed):
		return KindExtractionFailed
	case errors.Is(err, domain.ErrContentFlagged):
		return KindContentFlagged
	case errors.Is(err, domain.ErrUnknownMode):
		return KindUnknownMode
	case errors.Is(err, domain.ErrGenerationFailed):
		return KindGenerationFailed
	default:
		return KindInternal
	}
}

// Sentinel maps a kind back to the domain error it stands for, nil when there is none.
func (k Kind) Sentinel() error {
	switch k {
	case KindInvalidURL:
		return domain.ErrInvalidURL
	case KindRateLimited:
		return domain.ErrRateLimited
	case KindExtractionFailed:
		return domain.ErrExtractionFailed
	case KindContentFlagged:
		return domain.ErrContentFlagged
	case KindGenerationFailed:
		return domain.ErrGenerationFailed
	case KindUpstreamTimeout:
		return domain.ErrUpstreamTimeout
	case KindUnknownMode:
		return domain.ErrUnknownMode
	case KindInvalidRequest, KindUnavailable, KindInternal:
		return nil
	default:
		return nil
	}
}
