package summarizer

import (
	"context"
	"pagesum/internal/domain"
)

// Input describes the payload for a summary request.
type Input struct {
	// Text contains the extracted article content to summarise.
	Text string
	// Mode selects the task instructions sent with the content.
	Mode domain.Mode
	// SourceURL is optional metadata that helps the model reference the origin.
	SourceURL string
}

// Summarizer produces a summary of the input in the requested mode.
type Summarizer interface {
	Summarize(ctx context.Context, input Input) (string, error)
}

// Moderator rejects text that falls into any moderation category with a *domain.ContentFlaggedError.
type Moderator interface {
	Moderate(ctx context.Context, text string) error
}

// Service moderates and then summarises.
type Service interface {
	Moderator
	Summarizer
}
