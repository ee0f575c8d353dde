package ranking

import (
	"bytes"
	"fmt"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ParseXLSX scans every sheet row by row. The first text-like cell is the
// name; scanning from the right, the first positive amount is the amount.
func ParseXLSX(data []byte) ([]Entry, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	var entries []Entry
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			if e, ok := rowEntry(row); ok {
				entries = append(entries, e)
			}
		}
	}
	return entries, nil
}

func rowEntry(cells []string) (Entry, bool) {
	nameAt := -1
	for i, cell := range cells {
		if isTextLike(cell) {
			nameAt = i
			break
		}
	}
	if nameAt < 0 {
		return Entry{}, false
	}

	for i := len(cells) - 1; i > nameAt; i-- {
		if amount, ok := cellAmount(cells[i]); ok && amount.IsPositive() {
			return Entry{Name: cells[nameAt], Amount: amount}, true
		}
	}
	return Entry{}, false
}

// isTextLike accepts non-empty cells with at least one letter that are not
// headers or footers.
func isTextLike(cell string) bool {
	hasLetter := false
	for _, r := range cell {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	return hasLetter && !isBannedName(cell)
}

// cellAmount reads raw numeric cells in invariant notation first and falls
// back to the locale-aware parser for amounts stored as text.
func cellAmount(cell string) (decimal.Decimal, bool) {
	if d, err := decimal.NewFromString(cell); err == nil {
		return d, true
	}
	for _, r := range cell {
		if unicode.IsLetter(r) {
			return decimal.Decimal{}, false
		}
	}
	return ParseAmount(cell)
}
