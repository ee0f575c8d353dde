package export

import (
	"fmt"
	"strings"
	"time"
)

const (
	// IndexLinesPerColumn is how many entries fit in one index column.
	IndexLinesPerColumn = 32
	// IndexColumns is the number of columns on an index page.
	IndexColumns = 2
	// coverPages precede the index.
	coverPages = 1

	// A detail page holds at most MaxEntryFields rows. When an entry has
	// more, the last row is replaced by a note naming how many were left
	// out. Values longer than MaxFieldValueRunes are cut with an ellipsis.
	MaxEntryFields     = 24
	MaxFieldValueRunes = 120
	// IndexTitleRunes keeps an index line on a single row of its column.
	IndexTitleRunes = 40
)

// Bulletin is a paginated report: a cover, an index, and one detail page
// per entry.
type Bulletin struct {
	Title       string
	Subtitle    string
	Source      string
	GeneratedAt time.Time
	IncludeLogo bool
	Logo        *Image
	Entries     []BulletinEntry
}

// BulletinEntry is one top-level entity, rendered on its own page.
type BulletinEntry struct {
	Title  string
	Fields []Field
}

// Field is a label/value line of a detail page.
type Field struct {
	Label string
	Value string
}

// BulletinLayout is the outcome of the measure pass: every page number is
// known before rendering, so index links can point at their targets.
type BulletinLayout struct {
	IndexPages int
	TotalPages int
	Entries    []PlacedEntry
	// Index holds, per index page, its columns of entries.
	Index [][][]PlacedEntry
}

// PlacedEntry is an entry with its final page number and link anchor.
// Its fields are already fitted to one page.
type PlacedEntry struct {
	BulletinEntry
	IndexTitle string
	Number     int
	Page       int
	Anchor     string
}

// IndexPageCount returns how many index pages n entries need. An empty
// bulletin still gets one index page.
func IndexPageCount(n int) int {
	perPage := IndexLinesPerColumn * IndexColumns
	if n <= 0 {
		return 1
	}
	return (n + perPage - 1) / perPage
}

// PlanBulletin measures the bulletin. The index size depends only on the
// entry count, and entry pages start after the index, so a single pass
// fixes every page number.
func PlanBulletin(entries []BulletinEntry) BulletinLayout {
	indexPages := IndexPageCount(len(entries))
	firstEntryPage := coverPages + indexPages + 1

	layout := BulletinLayout{
		IndexPages: indexPages,
		TotalPages: coverPages + indexPages + len(entries),
		Entries:    make([]PlacedEntry, len(entries)),
		Index:      make([][][]PlacedEntry, indexPages),
	}
	for i, entry := range entries {
		layout.Entries[i] = PlacedEntry{
			BulletinEntry: fitEntry(entry),
			IndexTitle:    truncateRunes(entry.Title, IndexTitleRunes),
			Number:        i + 1,
			Page:          firstEntryPage + i,
			Anchor:        fmt.Sprintf("entry-%d", i+1),
		}
	}

	perPage := IndexLinesPerColumn * IndexColumns
	for p := 0; p < indexPages; p++ {
		columns := make([][]PlacedEntry, IndexColumns)
		for c := 0; c < IndexColumns; c++ {
			start := p*perPage + c*IndexLinesPerColumn
			end := min(start+IndexLinesPerColumn, len(layout.Entries))
			if start < end {
				columns[c] = layout.Entries[start:end]
			}
		}
		layout.Index[p] = columns
	}
	return layout
}

// BulletinFromRows builds one entry per row. titleColumn names the entry;
// the remaining columns become its fields.
func BulletinFromRows(titleColumn string, columns []string, rows []map[string]any, specialties map[string]string) []BulletinEntry {
	entries := make([]BulletinEntry, 0, len(rows))
	for i, row := range rows {
		title := strings.TrimSpace(CellText(row, titleColumn, specialties))
		if title == "" {
			title = fmt.Sprintf("Registro %d", i+1)
		}
		entry := BulletinEntry{Title: title}
		for _, key := range columns {
			if key == titleColumn {
				continue
			}
			entry.Fields = append(entry.Fields, Field{
				Label: Label(key),
				Value: CellText(row, key, specialties),
			})
		}
		entries = append(entries, entry)
	}
	return entries
}

func fitEntry(entry BulletinEntry) BulletinEntry {
	fields := entry.Fields
	var omitted int
	if len(fields) > MaxEntryFields {
		omitted = len(fields) - (MaxEntryFields - 1)
		fields = fields[:MaxEntryFields-1]
	}
	fitted := make([]Field, 0, len(fields)+1)
	for _, f := range fields {
		fitted = append(fitted, Field{Label: f.Label, Value: truncateRunes(f.Value, MaxFieldValueRunes)})
	}
	if omitted > 0 {
		fitted = append(fitted, Field{Label: "Campos omitidos", Value: fmt.Sprintf("%d campos no entran en la página", omitted)})
	}
	entry.Fields = fitted
	return entry
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
