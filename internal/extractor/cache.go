package extractor

import (
	"container/list"
	"pagesum/internal/domain"
	"sync"
	"time"
)

const (
	parseCacheMaxEntries = 256
	parseCacheTTL        = 15 * time.Minute
	// failureCacheTTL keeps a page that could not be extracted from being fetched again on every retry.
	failureCacheTTL = time.Minute
)

// parseCache remembers recent extraction outcomes, both articles and failures, in LRU order. One result can be
// reachable under several URLs, the requested one and the one a redirect ended at.
type parseCache struct {
	mu       sync.Mutex
	byURL    map[string]*list.Element
	lru      *list.List
	capacity int
}

type parseResult struct {
	urls      []string
	article   domain.ParsedArticle
	err       error
	expiresAt time.Time
}

func newParseCache(capacity int) *parseCache {
	if capacity <= 0 {
		return nil
	}

	return &parseCache{
		byURL:    make(map[string]*list.Element, capacity),
		lru:      list.New(),
		capacity: capacity,
	}
}

// lookup returns the cached outcome for url. On a hit err is the remembered failure, if any, and the article
// carries url as its URL.
func (c *parseCache) lookup(url string, now time.Time) (article domain.ParsedArticle, hit bool, err error) {
	if c == nil || url == "" {
		return domain.ParsedArticle{}, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.byURL[url]
	if !ok {
		return domain.ParsedArticle{}, false, nil
	}

	result := elem.Value.(*parseResult) //nolint:forcetypeassert // Only results are stored.
	if now.After(result.expiresAt) {
		c.dropLocked(elem)
		return domain.ParsedArticle{}, false, nil
	}

	c.lru.MoveToFront(elem)

	if result.err != nil {
		return domain.ParsedArticle{}, true, result.err
	}

	article = result.article
	article.URL = url

	return article, true, nil
}

// rememberArticle caches article under every given URL. Articles without content are not cached.
func (c *parseCache) rememberArticle(article domain.ParsedArticle, now time.Time, urls ...string) {
	if c == nil || article.Content == "" {
		return
	}

	c.insert(&parseResult{urls: urls, article: article, expiresAt: now.Add(parseCacheTTL)}, now)
}

func (c *parseCache) rememberFailure(err error, now time.Time, url string) {
	if c == nil || err == nil {
		return
	}

	c.insert(&parseResult{urls: []string{url}, err: err, expiresAt: now.Add(failureCacheTTL)}, now)
}

func (c *parseCache) insert(result *parseResult, now time.Time) {
	urls := make([]string, 0, len(result.urls))
	for _, u := range result.urls {
		if u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return
	}
	result.urls = urls

	c.mu.Lock()
	defer c.mu.Unlock()

	// A URL belongs to one result, so a newer outcome replaces whatever it pointed at.
	for _, u := range urls {
		if elem, ok := c.byURL[u]; ok {
			c.dropLocked(elem)
		}
	}

	elem := c.lru.PushFront(result)
	for _, u := range urls {
		c.byURL[u] = elem
	}

	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*parseResult).expiresAt) { //nolint:forcetypeassert // Only results are stored.
			c.dropLocked(elem)
		}
		elem = prev
	}

	for c.lru.Len() > c.capacity {
		c.dropLocked(c.lru.Back())
	}
}

func (c *parseCache) dropLocked(elem *list.Element) {
	result := elem.Value.(*parseResult) //nolint:forcetypeassert // Only results are stored.

	for _, u := range result.urls {
		if c.byURL[u] == elem {
			delete(c.byURL, u)
		}
	}
	c.lru.Remove(elem)
}
