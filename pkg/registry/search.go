package registry

import (
	"container/list"
	"sort"
	"strings"
)

// searchCacheEntries bounds the memo size.
const searchCacheEntries = 50

// searchCache is a small LRU memo of query results. It is invalidated
// wholesale whenever the file set changes.
type searchCache struct {
	capacity int
	order    *list.List               // front = most recent
	entries  map[string]*list.Element // key -> element holding *searchEntry
}

type searchEntry struct {
	key     string
	results []string
}

func newSearchCache(capacity int) *searchCache {
	return &searchCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (c *searchCache) get(key string) ([]string, bool) {
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*searchEntry).results, true
}

func (c *searchCache) put(key string, results []string) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*searchEntry).results = results
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&searchEntry{key: key, results: results})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*searchEntry).key)
	}
}

func (c *searchCache) clear() {
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// Search returns the filenames containing query (case-insensitive) that
// caller can read, sorted by name. Results are memoised per (caller, query)
// so one user's visibility never leaks into another's cached result. The hit
// flag reports whether the memo answered.
func (r *Registry) Search(caller, query string) (results []string, hit bool) {
	key := caller + "\x00" + strings.ToLower(query)

	r.searchMu.Lock()
	if cached, ok := r.search.get(key); ok {
		r.searchMu.Unlock()
		return cached, true
	}
	r.searchMu.Unlock()

	needle := strings.ToLower(query)

	r.filesMu.RLock()
	for name, f := range r.files {
		if !strings.Contains(strings.ToLower(name), needle) {
			continue
		}
		if !f.access(caller).Read {
			continue
		}
		results = append(results, name)
	}
	r.filesMu.RUnlock()

	sort.Strings(results)

	r.searchMu.Lock()
	r.search.put(key, results)
	r.searchMu.Unlock()

	return results, false
}

// InvalidateSearch drops every memoised query result. Called on any mutation
// of the file set.
func (r *Registry) InvalidateSearch() {
	r.searchMu.Lock()
	r.search.clear()
	r.searchMu.Unlock()
}
