package ranking

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// baselineTolerance is how far apart (in points) two text items may sit
// vertically and still share a line.
const baselineTolerance = 2.0

// ParsePDF groups each page's text items into lines and runs the line
// state machine over the whole document.
func ParsePDF(data []byte) (entries []Entry, err error) {
	defer func() {
		// The reader panics on some malformed streams.
		if r := recover(); r != nil {
			entries, err = nil, fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var lines []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		lines = append(lines, TextLines(page.Content().Text)...)
	}
	return ParseLines(lines), nil
}

// TextLines rebuilds reading-order lines from positioned text items: items
// are grouped by baseline, top to bottom, and joined left to right with a
// space wherever there is a visible gap.
func TextLines(items []pdf.Text) []string {
	sorted := make([]pdf.Text, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Y > sorted[j].Y
	})

	var lines []string
	for start := 0; start < len(sorted); {
		end := start + 1
		for end < len(sorted) && math.Abs(sorted[start].Y-sorted[end].Y) <= baselineTolerance {
			end++
		}
		if line := joinLine(sorted[start:end]); line != "" {
			lines = append(lines, line)
		}
		start = end
	}
	return lines
}

func joinLine(items []pdf.Text) string {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].X < items[j].X
	})
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			prev := items[i-1]
			gap := item.X - (prev.X + prev.W)
			if gap > spaceWidth(prev.FontSize) && !strings.HasSuffix(prev.S, " ") && !strings.HasPrefix(item.S, " ") {
				b.WriteByte(' ')
			}
		}
		b.WriteString(item.S)
	}
	return strings.TrimSpace(b.String())
}

func spaceWidth(fontSize float64) float64 {
	if fontSize <= 0 {
		return 1
	}
	return fontSize * 0.15
}
