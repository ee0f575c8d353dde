package export

import (
	"fmt"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	xlsxSheet      = "Datos"
	minColumnWidth = 12
	maxColumnWidth = 45
	// xlsxHeaderRow leaves room for the title block above the table.
	xlsxHeaderRow = 5
)

// ColumnWidths sizes each column to its longest value, header included,
// clamped to [12, 45] characters.
func ColumnWidths(labels []string, cells [][]string) []int {
	widths := make([]int, len(labels))
	for i, label := range labels {
		widths[i] = utf8.RuneCountInString(label)
	}
	for _, row := range cells {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if n := utf8.RuneCountInString(row[i]); n > widths[i] {
				widths[i] = n
			}
		}
	}
	for i, w := range widths {
		widths[i] = min(max(w, minColumnWidth), maxColumnWidth)
	}
	return widths
}

// buildXLSX writes a single-sheet workbook: title block, optional logo, a
// bold frozen header row with an auto filter, then the data rows.
func buildXLSX(req Request) ([]byte, error) {
	if len(req.Columns) == 0 {
		return nil, ErrNoColumns
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	lastCol, err := excelize.ColumnNumberToName(len(req.Columns))
	if err != nil {
		return nil, fmt.Errorf("column name: %w", err)
	}

	if err := writeTitleBlock(f, req, lastCol); err != nil {
		return nil, err
	}
	if req.Logo != nil && len(req.Logo.Data) > 0 {
		logoCell, _ := excelize.CoordinatesToCellName(len(req.Columns)+1, 1)
		if err := f.AddPictureFromBytes(xlsxSheet, logoCell, &excelize.Picture{
			Extension: req.Logo.Extension,
			File:      req.Logo.Data,
			Format: &excelize.GraphicOptions{
				ScaleX:          0.4,
				ScaleY:          0.4,
				LockAspectRatio: true,
				Positioning:     "oneCell",
			},
		}); err != nil {
			return nil, fmt.Errorf("add logo: %w", err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"1F4E79"}},
		Alignment: &excelize.Alignment{Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	labels := Labels(req.Columns)
	for i, label := range labels {
		cell, _ := excelize.CoordinatesToCellName(i+1, xlsxHeaderRow)
		if err := f.SetCellValue(xlsxSheet, cell, label); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	firstHeader, _ := excelize.CoordinatesToCellName(1, xlsxHeaderRow)
	lastHeader, _ := excelize.CoordinatesToCellName(len(labels), xlsxHeaderRow)
	if err := f.SetCellStyle(xlsxSheet, firstHeader, lastHeader, headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	cells := make([][]string, len(req.Rows))
	for r, row := range req.Rows {
		cells[r] = make([]string, len(req.Columns))
		for c, key := range req.Columns {
			text := CellText(row, key, req.Specialties)
			cells[r][c] = text

			cell, _ := excelize.CoordinatesToCellName(c+1, xlsxHeaderRow+1+r)
			var value any = text
			if raw, ok := lookup(row, key); ok && !isSpecialtyColumn(key) {
				if n, ok := numericValue(raw); ok {
					value = n
				}
			}
			if err := f.SetCellValue(xlsxSheet, cell, value); err != nil {
				return nil, fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}

	for i, width := range ColumnWidths(labels, cells) {
		name, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(xlsxSheet, name, name, float64(width)); err != nil {
			return nil, fmt.Errorf("column width: %w", err)
		}
	}

	topLeft, _ := excelize.CoordinatesToCellName(1, xlsxHeaderRow+1)
	if err := f.SetPanes(xlsxSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      xlsxHeaderRow,
		TopLeftCell: topLeft,
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	lastRow := xlsxHeaderRow + len(req.Rows)
	filterRange := fmt.Sprintf("A%d:%s%d", xlsxHeaderRow, lastCol, lastRow)
	if err := f.AutoFilter(xlsxSheet, filterRange, []excelize.AutoFilterOptions{}); err != nil {
		return nil, fmt.Errorf("auto filter: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeTitleBlock(f *excelize.File, req Request, lastCol string) error {
	titleStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	if err != nil {
		return fmt.Errorf("title style: %w", err)
	}
	metaStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Italic: true, Color: "595959"}})
	if err != nil {
		return fmt.Errorf("meta style: %w", err)
	}

	lines := []struct {
		value string
		style int
	}{
		{req.Title, titleStyle},
		{"Generado: " + req.GeneratedAt.Format("02/01/2006 15:04"), metaStyle},
		{fmt.Sprintf("Registros: %d", len(req.Rows)), metaStyle},
	}
	for i, line := range lines {
		row := i + 1
		cell := fmt.Sprintf("A%d", row)
		if err := f.SetCellValue(xlsxSheet, cell, line.value); err != nil {
			return fmt.Errorf("write title block: %w", err)
		}
		if err := f.SetCellStyle(xlsxSheet, cell, cell, line.style); err != nil {
			return fmt.Errorf("style title block: %w", err)
		}
		if lastCol != "A" {
			if err := f.MergeCell(xlsxSheet, cell, fmt.Sprintf("%s%d", lastCol, row)); err != nil {
				return fmt.Errorf("merge title block: %w", err)
			}
		}
	}
	return nil
}
