package domain

import (
	"errors"
	"strings"
)

var (
	ErrInvalidURL         = errors.New("invalid URL")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrExtractionFailed   = errors.New("extraction failed")
	ErrContentFlagged     = errors.New("content flagged as inappropriate")
	ErrGenerationFailed   = errors.New("generation failed")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrUpstreamTimeout    = errors.New("upstream timeout")
	ErrUnknownMode        = errors.New("unknown summary mode")
)

// ContentFlaggedError names the moderation categories that tripped.
type ContentFlaggedError struct {
	Categories []string
}

func (e *ContentFlaggedError) Error() string {
	return ErrContentFlagged.Error() + ": " + strings.Join(e.Categories, ", ")
}

func (e *ContentFlaggedError) Unwrap() error {
	return ErrContentFlagged
}
