// Package store is the local cache of parsed articles and their generated summaries, keyed by normalized URL.
//
// The whole collection lives as one JSON blob under a single key of a kv.Store. Every mutation re-reads that
// blob and writes it back inside one kv.Store.Update, so several processes sharing a backend do not overwrite
// each other. A change broadcast to subscribers follows each write. A failing or missing backend degrades to
// "nothing persisted" instead of an error.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"pagesum/internal/domain"
	"pagesum/internal/kv"
	"slices"
	"strings"
	"sync"
	"time"
)

const StorageKey = "summaries_v1"

type Store struct {
	mu       sync.Mutex
	backend  kv.Store
	key      string
	now      func() time.Time
	notifier *notifier
	log      *slog.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// New builds a store over backend. A nil backend behaves like an environment without durable storage.
func New(backend kv.Store, log *slog.Logger, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		key:      StorageKey,
		now:      time.Now,
		notifier: newNotifier(),
		log:      log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Subscribe returns a channel signalled after each write and a func that unsubscribes and closes it.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	return s.notifier.subscribe()
}

func (s *Store) FindByURL(ctx context.Context, rawURL string) (*domain.StoredArticle, bool) {
	normalized, ok := SanitizeURL(rawURL)
	if !ok {
		return nil, false
	}

	articles := s.load(ctx)
	if idx := indexOf(articles, normalized); idx >= 0 {
		return articles[idx].Clone(), true
	}

	return nil, false
}

func (s *Store) EnsureArticle(ctx context.Context, rawURL string) (*domain.StoredArticle, error) {
	normalized, ok := SanitizeURL(rawURL)
	if !ok {
		return nil, fmt.Errorf("ensure article: %w: %q", domain.ErrInvalidURL, rawURL)
	}

	var article *domain.StoredArticle

	s.mutate(ctx, func(articles []*domain.StoredArticle) ([]*domain.StoredArticle, bool) {
		if idx := indexOf(articles, normalized); idx >= 0 {
			article = articles[idx].Clone()
			return articles, false
		}

		articles, idx := s.ensure(articles, normalized)
		article = articles[idx].Clone()

		return articles, true
	})

	return article, nil
}

// SetArticleParsedData merges the non-nil fields onto the article, creating it first when needed.
func (s *Store) SetArticleParsedData(
	ctx context.Context,
	rawURL string,
	fields domain.ParsedFields,
) (*domain.StoredArticle, error) {
	normalized, ok := SanitizeURL(rawURL)
	if !ok {
		return nil, fmt.Errorf("set parsed data: %w: %q", domain.ErrInvalidURL, rawURL)
	}

	var article *domain.StoredArticle

	s.mutate(ctx, func(articles []*domain.StoredArticle) ([]*domain.StoredArticle, bool) {
		articles, idx := s.ensure(articles, normalized)
		a := articles[idx]

		if fields.Title != nil {
			a.Title = *fields.Title
		}
		if fields.Author != nil {
			a.Author = *fields.Author
		}
		if fields.Domain != nil {
			a.Domain = *fields.Domain
		}
		if fields.LeadImageURL != nil {
			a.LeadImageURL = *fields.LeadImageURL
		}
		if fields.Content != nil {
			a.Content = *fields.Content
		}
		a.UpdatedAt = s.timestamp()

		article = a.Clone()

		return articles, true
	})

	return article, nil
}

// SetSummary stores text as the summary for mode, leaving the other modes untouched.
func (s *Store) SetSummary(
	ctx context.Context,
	rawURL string,
	mode domain.Mode,
	text string,
) (*domain.StoredArticle, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("set summary: %w: %q", domain.ErrUnknownMode, mode)
	}

	normalized, ok := SanitizeURL(rawURL)
	if !ok {
		return nil, fmt.Errorf("set summary: %w: %q", domain.ErrInvalidURL, rawURL)
	}

	var article *domain.StoredArticle

	s.mutate(ctx, func(articles []*domain.StoredArticle) ([]*domain.StoredArticle, bool) {
		articles, idx := s.ensure(articles, normalized)
		a := articles[idx]

		now := s.timestamp()
		a.Summaries[mode] = domain.ModeSummary{Text: text, UpdatedAt: now}
		a.UpdatedAt = now

		article = a.Clone()

		return articles, true
	})

	return article, nil
}

// ListSummarised returns the articles that have at least one summary, most recently updated first.
func (s *Store) ListSummarised(ctx context.Context) []domain.ArticleListItem {
	articles := s.load(ctx)

	items := make([]domain.ArticleListItem, 0, len(articles))
	for _, a := range articles {
		if len(a.Summaries) == 0 {
			continue
		}

		items = append(items, domain.ArticleListItem{
			URL:       a.URL,
			Title:     a.Title,
			Domain:    a.Domain,
			UpdatedAt: a.UpdatedAt,
		})
	}

	slices.SortStableFunc(items, func(a, b domain.ArticleListItem) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})

	return items
}

func (s *Store) DeleteByURL(ctx context.Context, rawURL string) {
	if s.backend == nil {
		return
	}

	normalized, ok := SanitizeURL(rawURL)
	if !ok {
		return
	}

	s.mutate(ctx, func(articles []*domain.StoredArticle) ([]*domain.StoredArticle, bool) {
		before := len(articles)
		kept := slices.DeleteFunc(articles, func(a *domain.StoredArticle) bool {
			return a.URL == normalized
		})

		return kept, len(kept) != before
	})
}

func (s *Store) ClearAll(ctx context.Context) {
	if s.backend == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(ctx, s.key); err != nil {
		s.log.WarnContext(ctx, "Failed to clear stored articles",
			"error", fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err),
			"storageKey", s.key)

		return
	}

	s.notifier.broadcast()
}

// ensure returns the collection and the index of the article for normalized, prepending a placeholder
// when it is missing.
func (s *Store) ensure(
	articles []*domain.StoredArticle,
	normalized string,
) ([]*domain.StoredArticle, int) {
	if idx := indexOf(articles, normalized); idx >= 0 {
		return articles, idx
	}

	now := s.timestamp()
	fresh := &domain.StoredArticle{
		URL:       normalized,
		Domain:    Hostname(normalized),
		CreatedAt: now,
		UpdatedAt: now,
		Summaries: make(map[domain.Mode]domain.ModeSummary),
	}

	return append([]*domain.StoredArticle{fresh}, articles...), 0
}

func (s *Store) load(ctx context.Context) []*domain.StoredArticle {
	if s.backend == nil {
		return nil
	}

	raw, err := s.backend.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.log.WarnContext(ctx, "Failed to load stored articles",
			"error", fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err),
			"storageKey", s.key)

		return nil
	}

	return s.decode(ctx, raw)
}

// decode treats an empty or corrupted blob as an empty collection.
func (s *Store) decode(ctx context.Context, raw []byte) []*domain.StoredArticle {
	if strings.TrimSpace(string(raw)) == "" {
		return nil
	}

	articles, err := decodeArticles(raw)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to decode stored articles",
			"error", err,
			"storageKey", s.key,
			"sizeBytes", len(raw))

		return nil
	}

	return articles
}

// mutate applies fn to a fresh copy of the collection inside one backend update. fn reports whether it changed
// the collection; unchanged collections are not written back. When the backend fails before fn ran, fn still
// runs once on an empty collection so callers get their result without persistence.
func (s *Store) mutate(
	ctx context.Context,
	fn func(articles []*domain.StoredArticle) ([]*domain.StoredArticle, bool),
) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		fn(nil)
		return
	}

	applied, written := false, false

	err := s.backend.Update(ctx, s.key, func(raw []byte) ([]byte, error) {
		articles, changed := fn(s.decode(ctx, raw))
		applied = true

		if !changed {
			return nil, kv.ErrUnchanged
		}

		next, err := encodeArticles(articles)
		if err != nil {
			return nil, fmt.Errorf("encode articles: %w", err)
		}
		written = true

		return next, nil
	})
	if err != nil {
		s.log.WarnContext(ctx, "Failed to persist stored articles",
			"error", fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err),
			"storageKey", s.key)

		if !applied {
			fn(nil)
		}

		return
	}

	if written {
		s.notifier.broadcast()
	}
}

// timestamp has millisecond precision so values compare equal after a round trip through storage.
func (s *Store) timestamp() time.Time {
	return time.UnixMilli(s.now().UnixMilli())
}

func indexOf(articles []*domain.StoredArticle, normalized string) int {
	return slices.IndexFunc(articles, func(a *domain.StoredArticle) bool {
		return a.URL == normalized
	})
}
