package ranking

import (
	"regexp"
	"strings"

	"colegio/panel/internal/util"
)

var (
	headingLine  = regexp.MustCompile(`^\s*\d+\s*[-–]\s*(.*)$`)
	currencyLine = regexp.MustCompile(`(?i)^\s*consulta.*\$\s*(-?[\d.,]+)`)
)

// ParseLines runs the ranking state machine over text lines. A numbered
// heading ("12 - PEREZ JUAN") opens an entity; the next "Consulta ... $ amount"
// line closes it with a pair. Anything else is ignored, as is an entity still
// open at the end. Lines carrying a banned phrase are skipped entirely.
func ParseLines(lines []string) []Entry {
	var (
		entries []Entry
		current string
		open    bool
	)
	for _, line := range lines {
		line = util.CollapseSpace(line)
		if line == "" || containsBannedPhrase(line) {
			continue
		}

		if m := headingLine.FindStringSubmatch(line); m != nil {
			current = strings.TrimSpace(m[1])
			open = true
			continue
		}
		if !open {
			continue
		}
		if m := currencyLine.FindStringSubmatch(line); m != nil {
			if amount, ok := ParseAmount(m[1]); ok && current != "" {
				entries = append(entries, Entry{Name: current, Amount: amount})
			}
			current, open = "", false
			continue
		}
		// A heading without a name takes the next plain line as the name.
		if current == "" {
			current = line
		}
	}
	return entries
}

// SplitLines splits extracted text into lines, accepting any line ending.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}
