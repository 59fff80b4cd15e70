package extractor

import (
	"errors"
	"fmt"
	"pagesum/internal/domain"
	"testing"
	"time"
)

var cacheNow = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func cachedArticle(content string) domain.ParsedArticle {
	return domain.ParsedArticle{URL: "https://example.com/" + content, Title: content, Content: content}
}

func TestParseCacheRemembersArticle(t *testing.T) {
	cache := newParseCache(2)

	cache.rememberArticle(cachedArticle("body"), cacheNow, "https://example.com/a")

	got, hit, err := cache.lookup("https://example.com/a", cacheNow.Add(parseCacheTTL-time.Second))
	if !hit || err != nil {
		t.Fatalf("expected cached article, got hit=%v err=%v", hit, err)
	}
	if got.Content != "body" {
		t.Fatalf("unexpected article: %+v", got)
	}

	if _, hit, _ = cache.lookup("https://example.com/a", cacheNow.Add(parseCacheTTL+time.Second)); hit {
		t.Fatalf("expected article to expire")
	}
	if len(cache.byURL) != 0 || cache.lru.Len() != 0 {
		t.Fatalf("expected expired article to be dropped")
	}
}

func TestParseCacheSkipsEmptyContent(t *testing.T) {
	cache := newParseCache(2)

	cache.rememberArticle(cachedArticle(""), cacheNow, "https://example.com/a")

	if _, hit, _ := cache.lookup("https://example.com/a", cacheNow); hit {
		t.Fatalf("expected empty article not to be cached")
	}
}

func TestParseCacheRedirectAlias(t *testing.T) {
	cache := newParseCache(2)

	cache.rememberArticle(cachedArticle("body"), cacheNow, "https://example.com/old", "https://example.com/new")

	for _, u := range []string{"https://example.com/old", "https://example.com/new"} {
		got, hit, _ := cache.lookup(u, cacheNow)
		if !hit {
			t.Fatalf("expected %s to hit", u)
		}
		if got.URL != u {
			t.Fatalf("expected article URL %s, got %s", u, got.URL)
		}
	}

	if cache.lru.Len() != 1 {
		t.Fatalf("expected aliases to share one entry, got %d", cache.lru.Len())
	}

	cache.rememberArticle(cachedArticle("fresh"), cacheNow, "https://example.com/new")

	if _, hit, _ := cache.lookup("https://example.com/old", cacheNow); hit {
		t.Fatalf("expected replaced result to drop its other alias")
	}
}

func TestParseCacheFailuresExpireSooner(t *testing.T) {
	cache := newParseCache(2)
	failure := fmt.Errorf("%w: HTTP 404", domain.ErrExtractionFailed)

	cache.rememberFailure(failure, cacheNow, "https://example.com/gone")

	_, hit, err := cache.lookup("https://example.com/gone", cacheNow.Add(failureCacheTTL/2))
	if !hit || !errors.Is(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected remembered failure, got hit=%v err=%v", hit, err)
	}

	if _, hit, _ = cache.lookup("https://example.com/gone", cacheNow.Add(failureCacheTTL+time.Second)); hit {
		t.Fatalf("expected failure to expire after %s", failureCacheTTL)
	}
}

func TestParseCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := newParseCache(2)

	cache.rememberArticle(cachedArticle("a"), cacheNow, "a")
	cache.rememberArticle(cachedArticle("b"), cacheNow, "b")

	if _, hit, _ := cache.lookup("a", cacheNow); !hit {
		t.Fatalf("expected entry a to exist before eviction check")
	}

	cache.rememberFailure(domain.ErrExtractionFailed, cacheNow, "c")

	if _, hit, _ := cache.lookup("a", cacheNow); !hit {
		t.Fatalf("expected entry a to remain after evicting least recently used")
	}
	if _, hit, _ := cache.lookup("b", cacheNow); hit {
		t.Fatalf("expected entry b to be evicted")
	}
	if _, hit, _ := cache.lookup("c", cacheNow); !hit {
		t.Fatalf("expected entry c to be cached")
	}
}

func TestNilParseCacheIsSafe(t *testing.T) {
	var cache *parseCache

	cache.rememberArticle(cachedArticle("body"), cacheNow, "key")
	cache.rememberFailure(domain.ErrExtractionFailed, cacheNow, "key")

	if _, hit, _ := cache.lookup("key", cacheNow); hit {
		t.Fatalf("expected nil cache to miss")
	}
}
