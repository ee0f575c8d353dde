// Package search holds the two search paths of the panel: the per-view row
// index answered by a background Worker, and the public site content search
// backed by Meilisearch with an in-process fallback.
package search

// Kind identifies the kind of site content in a search result.
type Kind string

const (
	KindNews   Kind = "news"
	KindCourse Kind = "course"
)

// Result is a single site search hit returned to the caller.
type Result struct {
	Kind     Kind   `json:"kind"`
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	ImageURL string `json:"imageUrl,omitempty"`
	Date     string `json:"date,omitempty"`
}

// Query describes a site search request.
type Query struct {
	Text   string
	Kind   Kind // empty = all kinds
	Limit  int
	Offset int
}

// Response is the envelope returned by the site search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text site search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Document is the data indexed for one piece of site content.
type Document struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Body     string `json:"body"`
	Category string `json:"category"`
	ImageURL string `json:"imageUrl"`
	Date     string `json:"date"`
}

func (d Document) result() Result {
	return Result{
		Kind:     d.Kind,
		ID:       d.ID,
		Title:    d.Title,
		Snippet:  firstNonBlank(d.Summary, d.Body),
		ImageURL: d.ImageURL,
		Date:     d.Date,
	}
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
