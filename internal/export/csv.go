package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

// utf8BOM makes spreadsheet applications detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV writes a header of labels and one record per row, UTF-8 with a
// byte-order mark and CRLF line endings.
func WriteCSV(w io.Writer, columns []string, rows []map[string]any, specialties map[string]string) error {
	if len(columns) == 0 {
		return ErrNoColumns
	}
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}

	writer := csv.NewWriter(w)
	writer.UseCRLF = true
	if err := writer.Write(Labels(columns)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, key := range columns {
			record[i] = CellText(row, key, specialties)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func buildCSV(req Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, req.Columns, req.Rows, req.Specialties); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
