package search

import (
	"log"
	"sync"
)

// Service is the site search facade: Meilisearch when healthy, otherwise an
// in-process Index over the content the gateway has already fetched.
type Service struct {
	meili *Meili
	local *localContent
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili, local: newLocalContent()}
}

// Search tries Meilisearch if healthy, otherwise falls back to the local index.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		log.Printf("search: meilisearch error, falling back to local index: %v", err)
	}

	results, total := s.local.search(q)
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "local"}
}

// Index remembers docs for the local fallback and pushes them to
// Meilisearch in the background.
func (s *Service) Index(docs []Document) {
	if len(docs) == 0 {
		return
	}
	s.local.put(docs)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDocuments(docs); err != nil {
			log.Printf("search: index %d site documents: %v", len(docs), err)
		}
	}()
}

// Delete forgets one document locally and removes it from Meilisearch
// (fire-and-forget).
func (s *Service) Delete(kind Kind, id string) {
	s.local.remove(kind, id)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDocument(kind, id); err != nil {
			log.Printf("search: delete %s %s: %v", kind, id, err)
		}
	}()
}

// Retain forgets every document of kind whose id is not in ids and returns
// how many were dropped. Only documents this process has seen are
// considered.
func (s *Service) Retain(kind Kind, ids []string) int {
	stale := s.local.missing(kind, ids)
	for _, id := range stale {
		s.Delete(kind, id)
	}
	return len(stale)
}

// Healthy reports whether the primary engine is available.
func (s *Service) Healthy() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Close stops the Meilisearch health monitor.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// localContent keeps site documents in first-seen order per kind.
type localContent struct {
	mu    sync.RWMutex
	order []docKey
	docs  map[docKey]Document
}

type docKey struct {
	kind Kind
	id   string
}

func newLocalContent() *localContent {
	return &localContent{docs: map[docKey]Document{}}
}

func (c *localContent) put(docs []Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, doc := range docs {
		key := docKey{kind: doc.Kind, id: doc.ID}
		if _, ok := c.docs[key]; !ok {
			c.order = append(c.order, key)
		}
		c.docs[key] = doc
	}
}

func (c *localContent) remove(kind Kind, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := docKey{kind: kind, id: id}
	if _, ok := c.docs[key]; !ok {
		return
	}
	delete(c.docs, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *localContent) missing(kind Kind, keep []string) []string {
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, key := range c.order {
		if key.kind == kind && !kept[key.id] {
			out = append(out, key.id)
		}
	}
	return out
}

func (c *localContent) search(q Query) ([]Result, int) {
	c.mu.RLock()
	var candidates []Document
	for _, key := range c.order {
		if q.Kind != "" && key.kind != q.Kind {
			continue
		}
		candidates = append(candidates, c.docs[key])
	}
	c.mu.RUnlock()

	rows := make([]map[string]any, len(candidates))
	for i, doc := range candidates {
		rows[i] = map[string]any{
			"title":    doc.Title,
			"summary":  doc.Summary,
			"body":     doc.Body,
			"category": doc.Category,
		}
	}
	matches := NewIndex(rows).Search(q.Text)

	total := len(matches)
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + defaultLimit(q.Limit)
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-start)
	for _, i := range matches[start:end] {
		results = append(results, candidates[i].result())
	}
	return results, total
}
