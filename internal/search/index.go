package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// cancelCheckEvery is how many rows a scan covers between context checks.
const cancelCheckEvery = 1024

// Index is a flat substring index over table rows: one lowercased haystack
// per row, matched conjunctively against whitespace-separated tokens.
// An Index is not safe for concurrent use; a Worker owns one.
type Index struct {
	rows      []map[string]any
	haystacks []string
}

// NewIndex builds an index over rows.
func NewIndex(rows []map[string]any) *Index {
	ix := &Index{}
	ix.SetData(rows)
	return ix
}

// SetData replaces the indexed rows entirely and returns the row count.
func (ix *Index) SetData(rows []map[string]any) int {
	ix.rows = rows
	ix.haystacks = make([]string, len(rows))
	for i, row := range rows {
		ix.haystacks[i] = Flatten(row)
	}
	return len(rows)
}

func (ix *Index) Len() int {
	return len(ix.haystacks)
}

// Rows returns the indexed rows at the given positions.
func (ix *Index) Rows(indices []int) []map[string]any {
	out := make([]map[string]any, 0, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(ix.rows) {
			out = append(out, ix.rows[i])
		}
	}
	return out
}

// Search returns the ascending positions of rows containing every token of
// query as a case-insensitive substring. An empty query matches every row.
func (ix *Index) Search(query string) []int {
	matches, _ := ix.SearchContext(context.Background(), query)
	return matches
}

// SearchContext is Search with cancellation checked while scanning.
func (ix *Index) SearchContext(ctx context.Context, query string) ([]int, error) {
	tokens := strings.Fields(strings.ToLower(query))
	matches := make([]int, 0, len(ix.haystacks))
	for i, haystack := range ix.haystacks {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if containsAll(haystack, tokens) {
			matches = append(matches, i)
		}
	}
	return matches, nil
}

func containsAll(haystack string, tokens []string) bool {
	for _, token := range tokens {
		if !strings.Contains(haystack, token) {
			return false
		}
	}
	return true
}

// Flatten joins a row's values into one lowercased, space-separated string.
// Keys are visited in sorted order so the haystack is stable; nil values
// contribute nothing.
func Flatten(row map[string]any) string {
	if len(row) == 0 {
		return ""
	}
	keys := make([]string, 0, len(row))
	for key := range row {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		if text := stringify(row[key]); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return v.String()
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	default:
		return fmt.Sprint(v)
	}
}
