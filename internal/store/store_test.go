package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"fmt"
	"log/slog"
	"pagesum/internal/domain"
	"pagesum/internal/kv"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, backend kv.Store) (*Store, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(backend, log, WithClock(clock.Now)), clock
}

func strPtr(s string) *string {
	return &s
}

func TestSummaryLifecycle(t *testing.T) {
	s, _ := newTestStore(t, kv.NewMemory())
	ctx := context.Background()

	url, ok := SanitizeURL("https://example.com/a#frag")
	if !ok || url != "https://example.com/a" {
		t.Fatalf("unexpected sanitized URL: %q (ok=%v)", url, ok)
	}

	article, err := s.EnsureArticle(ctx, url)
	if err != nil {
		t.Fatalf("ensure article: %v", err)
	}
	if article.Content != "" {
		t.Fatalf("expected empty content, got %q", article.Content)
	}
	if article.Domain != "example.com" {
		t.Fatalf("expected domain from hostname, got %q", article.Domain)
	}

	if _, err = s.SetSummary(ctx, url, domain.ModeTLDR, "short text"); err != nil {
		t.Fatalf("set summary: %v", err)
	}

	found, ok := s.FindByURL(ctx, url)
	if !ok {
		t.Fatalf("expected article to be found")
	}
	if got := found.Summaries[domain.ModeTLDR].Text; got != "short text" {
		t.Fatalf("unexpected summary text: %q", got)
	}

	s.DeleteByURL(ctx, url)

	if _, ok = s.FindByURL(ctx, url); ok {
		t.Fatalf("expected article to be deleted")
	}
}

func TestEnsureArticleInvalidURL(t *testing.T) {
	s, _ := newTestStore(t, kv.NewMemory())

	if _, err := s.EnsureArticle(context.Background(), "ftp://example.com"); !errors.Is(err, domain.ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestEnsureArticleReturnsExisting(t *testing.T) {
	s, clock := newTestStore(t, kv.NewMemory())
	ctx := context.Background()

	first, err := s.EnsureArticle(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}

	clock.Advance(time.Minute)

	second, err := s.EnsureArticle(ctx, "https://example.com/a#other")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected existing record, got new createdAt %v", second.CreatedAt)
	}
}

func TestSetSummaryKeepsOtherModes(t *testing.T) {
	s, clock := newTestStore(t, kv.NewMemory())
	ctx := context.Background()
	url := "https://example.com/a"

	if _, err := s.SetSummary(ctx, url, domain.ModeTLDR, "tldr v1"); err != nil {
		t.Fatalf("set tldr: %v", err)
	}

	clock.Advance(time.Minute)
	if _, err := s.SetSummary(ctx, url, domain.ModeFAQs, "faqs v1"); err != nil {
		t.Fatalf("set faqs: %v", err)
	}

	clock.Advance(time.Minute)
	updated, err := s.SetSummary(ctx, url, domain.ModeFAQs, "faqs v2")
	if err != nil {
		t.Fatalf("overwrite faqs: %v", err)
	}

	if got := updated.Summaries[domain.ModeFAQs]; got.Text != "faqs v2" || !got.UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("unexpected faqs summary: %+v", got)
	}

	found, _ := s.FindByURL(ctx, url)
	tldr := found.Summaries[domain.ModeTLDR]
	if tldr.Text != "tldr v1" || !tldr.UpdatedAt.Equal(clock.Now().Add(-2*time.Minute)) {
		t.Fatalf("expected tldr to be untouched, got %+v", tldr)
	}

	if len(found.Summaries) != 2 {
		t.Fatalf("expected 2 modes, got %d", len(found.Summaries))
	}
}

func TestSetSummaryRejectsUnknownMode(t *testing.T) {
	s, _ := newTestStore(t, kv.NewMemory())

	_, err := s.SetSummary(context.Background(), "https://example.com/a", domain.Mode("haiku"), "text")
	if !errors.Is(err, domain.ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
}

func TestSetArticleParsedDataMergesProvidedFields(t *testing.T) {
	s, clock := newTestStore(t, kv.NewMemory())
	ctx := context.Background()
	url := "https://example.com/a"

	if _, err := s.SetArticleParsedData(ctx, url, domain.ParsedFields{
		Title:   strPtr("Title"),
		Author:  strPtr("Author"),
		Content: strPtr("Body"),
	}); err != nil {
		t.Fatalf("first merge: %v", err)
	}

	clock.Advance(time.Minute)

	updated, err := s.SetArticleParsedData(ctx, url, domain.ParsedFields{
		Content:      strPtr("New body"),
		LeadImageURL: strPtr("https://example.com/img.png"),
	})
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}

	if updated.Title != "Title" || updated.Author != "Author" {
		t.Fatalf("expected untouched metadata, got title=%q author=%q", updated.Title, updated.Author)
	}
	if updated.Content != "New body" || updated.LeadImageURL != "https://example.com/img.png" {
		t.Fatalf("expected provided fields to overwrite, got %+v", updated)
	}
	if !updated.UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("expected updatedAt to be refreshed, got %v", updated.UpdatedAt)
	}
	if updated.CreatedAt.Equal(updated.UpdatedAt) {
		t.Fatalf("expected createdAt to keep the first write time")
	}
}

func TestListSummarised(t *testing.T) {
	s, clock := newTestStore(t, kv.NewMemory())
	ctx := context.Background()

	mustSummary := func(url string) {
		t.Helper()
		if _, err := s.SetSummary(ctx, url, domain.ModeTLDR, "text"); err != nil {
			t.Fatalf("set summary: %v", err)
		}
		clock.Advance(time.Minute)
	}

	mustSummary("https://example.com/old")
	mustSummary("https://example.com/new")

	if _, err := s.EnsureArticle(ctx, "https://example.com/unsummarised"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	mustSummary("https://example.com/old")

	items := s.ListSummarised(ctx)
	if len(items) != 2 {
		t.Fatalf("expected 2 summarised articles, got %d", len(items))
	}

	if items[0].URL != "https://example.com/old" || items[1].URL != "https://example.com/new" {
		t.Fatalf("unexpected order: %q, %q", items[0].URL, items[1].URL)
	}

	for i := 1; i < len(items); i++ {
		if items[i].UpdatedAt.After(items[i-1].UpdatedAt) {
			t.Fatalf("list is not sorted by updatedAt descending")
		}
	}
}

func TestClearAll(t *testing.T) {
	s, _ := newTestStore(t, kv.NewMemory())
	ctx := context.Background()

	_, _ = s.SetSummary(ctx, "https://example.com/a", domain.ModeTLDR, "a")
	_, _ = s.SetSummary(ctx, "https://example.com/b", domain.ModeTLDR, "b")

	s.ClearAll(ctx)

	if items := s.ListSummarised(ctx); len(items) != 0 {
		t.Fatalf("expected empty store, got %d items", len(items))
	}
}

func TestDeleteUnknownURLIsNoop(t *testing.T) {
	s, _ := newTestStore(t, kv.NewMemory())
	ctx := context.Background()

	_, _ = s.SetSummary(ctx, "https://example.com/a", domain.ModeTLDR, "a")

	ch, cancel := s.Subscribe()
	defer cancel()

	s.DeleteByURL(ctx, "https://example.com/missing")
	s.DeleteByURL(ctx, "not a url")

	select {
	case <-ch:
		t.Fatalf("expected no change signal for a no-op delete")
	default:
	}

	if _, ok := s.FindByURL(ctx, "https://example.com/a"); !ok {
		t.Fatalf("expected existing article to remain")
	}
}

func TestMutationsBroadcastChanges(t *testing.T) {
	s, _ := newTestStore(t, kv.NewMemory())
	ctx := context.Background()

	first, cancelFirst := s.Subscribe()
	defer cancelFirst()
	second, cancelSecond := s.Subscribe()
	defer cancelSecond()

	expectSignal := func(name string, ch <-chan struct{}) {
		t.Helper()
		select {
		case <-ch:
		default:
			t.Fatalf("%s: expected change signal", name)
		}
	}

	if _, err := s.EnsureArticle(ctx, "https://example.com/a"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	expectSignal("ensure/first", first)
	expectSignal("ensure/second", second)

	_, _ = s.SetSummary(ctx, "https://example.com/a", domain.ModeTLDR, "x")
	expectSignal("set summary", first)

	s.ClearAll(ctx)
	expectSignal("clear all", first)
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	s, _ := newTestStore(t, kv.NewMemory())

	ch, cancel := s.Subscribe()
	cancel()
	cancel()

	if _, open := <-ch; open {
		t.Fatalf("expected channel to be closed")
	}

	if got := s.notifier.count(); got != 0 {
		t.Fatalf("expected no subscribers, got %d", got)
	}
}

func TestPersistedLayout(t *testing.T) {
	backend := kv.NewMemory()
	s, clock := newTestStore(t, backend)
	ctx := context.Background()

	if _, err := s.SetSummary(ctx, "https://example.com/a", domain.ModeKeyTakeaways, "- one"); err != nil {
		t.Fatalf("set summary: %v", err)
	}

	raw, err := backend.Get(ctx, StorageKey)
	if err != nil {
		t.Fatalf("get raw: %v", err)
	}

	var records []map[string]any
	if err = json.Unmarshal(raw, &records); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	r := records[0]
	if r["url"] != "https://example.com/a" || r["content"] != "" || r["lead_image_url"] != nil {
		t.Fatalf("unexpected record: %v", r)
	}

	if r["updatedAt"] != float64(clock.Now().UnixMilli()) {
		t.Fatalf("expected epoch millis, got %v", r["updatedAt"])
	}

	summaries, ok := r["summaries"].(map[string]any)
	if !ok {
		t.Fatalf("expected summaries object, got %T", r["summaries"])
	}
	if _, ok = summaries["key-takeaways"]; !ok {
		t.Fatalf("expected key-takeaways entry, got %v", summaries)
	}
}

func TestNewArticlesArePrepended(t *testing.T) {
	backend := kv.NewMemory()
	s, _ := newTestStore(t, backend)
	ctx := context.Background()

	_, _ = s.EnsureArticle(ctx, "https://example.com/first")
	_, _ = s.EnsureArticle(ctx, "https://example.com/second")

	raw, _ := backend.Get(ctx, StorageKey)
	articles, err := decodeArticles(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(articles) != 2 || articles[0].URL != "https://example.com/second" {
		t.Fatalf("expected newest article first, got %+v", articles)
	}
}

func TestCorruptedBlobReadsAsEmpty(t *testing.T) {
	backend := kv.NewMemory()
	_ = backend.Put(context.Background(), StorageKey, []byte("{not json"))

	s, _ := newTestStore(t, backend)

	if items := s.ListSummarised(context.Background()); len(items) != 0 {
		t.Fatalf("expected corrupted storage to read as empty, got %d items", len(items))
	}
}

type unavailableBackend struct{}

func (unavailableBackend) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("quota exceeded")
}

func (unavailableBackend) Put(context.Context, string, []byte) error {
	return errors.New("quota exceeded")
}

func (unavailableBackend) Delete(context.Context, string) error {
	return errors.New("quota exceeded")
}

func (unavailableBackend) Update(context.Context, string, kv.UpdateFunc) error {
	return errors.New("quota exceeded")
}

func TestUnavailableStorageIsTolerated(t *testing.T) {
	for name, backend := range map[string]kv.Store{
		"failing": unavailableBackend{},
		"missing": nil,
	} {
		t.Run(name, func(t *testing.T) {
			s, _ := newTestStore(t, backend)
			ctx := context.Background()

			article, err := s.SetSummary(ctx, "https://example.com/a", domain.ModeTLDR, "text")
			if err != nil {
				t.Fatalf("expected write to degrade silently, got %v", err)
			}
			if article.Summaries[domain.ModeTLDR].Text != "text" {
				t.Fatalf("expected returned article to carry the summary")
			}

			if _, ok := s.FindByURL(ctx, "https://example.com/a"); ok {
				t.Fatalf("expected nothing to be persisted")
			}

			s.DeleteByURL(ctx, "https://example.com/a")
			s.ClearAll(ctx)
		})
	}
}

func TestReturnedArticlesAreCopies(t *testing.T) {
	s, _ := newTestStore(t, kv.NewMemory())
	ctx := context.Background()

	article, _ := s.SetSummary(ctx, "https://example.com/a", domain.ModeTLDR, "text")
	article.Summaries[domain.ModeFAQs] = domain.ModeSummary{Text: "leak"}

	found, _ := s.FindByURL(ctx, "https://example.com/a")
	if _, ok := found.Summaries[domain.ModeFAQs]; ok {
		t.Fatalf("expected caller mutation not to reach the store")
	}
}

func TestConcurrentMutationsKeepEveryRecord(t *testing.T) {
	s, _ := newTestStore(t, kv.NewMemory())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Go(func() {
			rawURL := fmt.Sprintf("https://example.com/%d", i)

			if _, err := s.EnsureArticle(ctx, rawURL); err != nil {
				t.Errorf("ensure %s: %v", rawURL, err)
			}
			if _, err := s.SetSummary(ctx, rawURL, domain.ModeTLDR, "text"); err != nil {
				t.Errorf("set summary %s: %v", rawURL, err)
			}
		})
	}
	wg.Wait()

	if got := len(s.ListSummarised(ctx)); got != 100 {
		t.Fatalf("expected 100 summarised articles, got %d", got)
	}
}

func TestStoresSharingBackendDoNotOverwriteEachOther(t *testing.T) {
	backend := kv.NewMemory()
	first, _ := newTestStore(t, backend)
	second, _ := newTestStore(t, backend)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		for name, s := range map[string]*Store{"first": first, "second": second} {
			wg.Go(func() {
				rawURL := fmt.Sprintf("https://example.com/%s/%d", name, i)
				if _, err := s.SetSummary(ctx, rawURL, domain.ModeTLDR, "text"); err != nil {
					t.Errorf("set summary %s: %v", rawURL, err)
				}
			})
		}
	}
	wg.Wait()

	for name, s := range map[string]*Store{"first": first, "second": second} {
		if got := len(s.ListSummarised(ctx)); got != 100 {
			t.Fatalf("%s: expected 100 records to survive, got %d", name, got)
		}
	}

	first.DeleteByURL(ctx, "https://example.com/second/0")
	if _, ok := second.FindByURL(ctx, "https://example.com/second/0"); ok {
		t.Fatalf("expected a delete through one store to be visible through the other")
	}
}

func TestDefaultPortSharesRecord(t *testing.T) {
	s, _ := newTestStore(t, kv.NewMemory())
	ctx := context.Background()

	if _, err := s.SetSummary(ctx, "https://example.com:443/a", domain.ModeTLDR, "text"); err != nil {
		t.Fatalf("set summary: %v", err)
	}

	found, ok := s.FindByURL(ctx, "https://example.com/a")
	if !ok {
		t.Fatalf("expected the record to be found without the default port")
	}
	if found.URL != "https://example.com/a" {
		t.Fatalf("expected stored URL without port, got %q", found.URL)
	}
}
