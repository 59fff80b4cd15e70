package wire

import (
	"errors"
	"fmt"
	"pagesum/internal/domain"
	"testing"
)

func TestKindOfSurvivesWrapping(t *testing.T) {
	sentinels := []error{
		domain.ErrInvalidURL,
		domain.ErrRateLimited,
		domain.ErrExtractionFailed,
		domain.ErrContentFlagged,
		domain.ErrGenerationFailed,
		domain.ErrUpstreamTimeout,
		domain.ErrUnknownMode,
	}

	for _, sentinel := range sentinels {
		wrapped := fmt.Errorf("handle request: %w", sentinel)

		kind := KindOf(wrapped)
		if !errors.Is(kind.Sentinel(), sentinel) {
			t.Fatalf("kind %q does not map back to %v", kind, sentinel)
		}
	}
}

func TestKindOfTimeoutBeatsExtraction(t *testing.T) {
	err := fmt.Errorf("fetch page: %w: %w", domain.ErrUpstreamTimeout, domain.ErrExtractionFailed)

	if got := KindOf(err); got != KindUpstreamTimeout {
		t.Fatalf("expected %q, got %q", KindUpstreamTimeout, got)
	}
}

func TestKindOfUnknownError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("expected %q, got %q", KindInternal, got)
	}
	if KindInternal.Sentinel() != nil || KindUnavailable.Sentinel() != nil {
		t.Fatalf("internal kinds must not map to a domain error")
	}
}

func TestContentFlaggedErrorKind(t *testing.T) {
	err := &domain.ContentFlaggedError{Categories: []string{"hate"}}

	if got := KindOf(err); got != KindContentFlagged {
		t.Fatalf("expected %q, got %q", KindContentFlagged, got)
	}
}
