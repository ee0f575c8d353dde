package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxNews    = "panel_news"
	idxCourses = "panel_courses"
)

// Meili implements Searcher over the site content indexes.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. When the
// server is unreachable the client starts unhealthy and the health loop
// keeps probing.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	for _, uid := range []string{idxNews, idxCourses} {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", uid, err)
		}

		index := m.client.Index(uid)
		filterable := []interface{}{"category"}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", uid, err)
		}
		searchable := []string{"title", "summary", "body", "category"}
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the news and course indexes (or one of them) and merges hits.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	var queries []*meili.SearchRequest
	for _, uid := range []string{idxNews, idxCourses} {
		if q.Kind != "" && q.Kind != indexKind(uid) {
			continue
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              uid,
			Query:                 q.Text,
			Limit:                 int64(defaultLimit(q.Limit)),
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"title", "summary"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		})
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		kind := indexKind(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, kind))
		}
	}
	return results, total, nil
}

func indexKind(uid string) Kind {
	switch uid {
	case idxNews:
		return KindNews
	case idxCourses:
		return KindCourse
	default:
		return ""
	}
}

func indexFor(kind Kind) (string, error) {
	switch kind {
	case KindNews:
		return idxNews, nil
	case KindCourse:
		return idxCourses, nil
	default:
		return "", fmt.Errorf("unknown content kind %q", kind)
	}
}

func hitToResult(hit meili.Hit, kind Kind) Result {
	return Result{
		Kind:     kind,
		ID:       decodeString(hit, "id"),
		Title:    firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:  firstNonBlank(decodeFormattedString(hit, "summary"), decodeString(hit, "summary"), decodeString(hit, "body")),
		ImageURL: decodeString(hit, "imageUrl"),
		Date:     decodeString(hit, "date"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexDocuments adds or updates documents, grouped by kind.
func (m *Meili) IndexDocuments(docs []Document) error {
	byIndex := map[string][]Document{}
	for _, doc := range docs {
		uid, err := indexFor(doc.Kind)
		if err != nil {
			return err
		}
		byIndex[uid] = append(byIndex[uid], doc)
	}
	for uid, batch := range byIndex {
		if _, err := m.client.Index(uid).AddDocuments(batch, nil); err != nil {
			return fmt.Errorf("index %s: %w", uid, err)
		}
	}
	return nil
}

// DeleteDocument removes one document from its kind's index.
func (m *Meili) DeleteDocument(kind Kind, id string) error {
	uid, err := indexFor(kind)
	if err != nil {
		return err
	}
	_, err = m.client.Index(uid).DeleteDocument(id, nil)
	return err
}
