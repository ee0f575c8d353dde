// Package ranking extracts {name, amount} pairs from uploaded ranking
// documents (DOCX, XLSX, XLS and PDF) so they can be previewed before they are
// submitted to the backend.
package ranking

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnsupportedFormat is returned for file extensions no importer handles.
var ErrUnsupportedFormat = errors.New("unsupported ranking file format")

// NoEntriesWarning is attached to a parse that found nothing.
const NoEntriesWarning = "No se encontraron registros en el archivo. Verifique que sea un ranking válido."

// Entry is one ranked entity and its amount.
type Entry struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Result is the outcome of a parse. An empty parse is not an error; it
// carries a Warning instead.
type Result struct {
	Format  string  `json:"format"`
	Entries []Entry `json:"entries"`
	Warning string  `json:"warning,omitempty"`
}

// UnsupportedFormatError names the rejected extension.
type UnsupportedFormatError struct {
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	ext := e.Extension
	if ext == "" {
		ext = "sin extensión"
	}
	return fmt.Sprintf("Formato de archivo no soportado (%s). Use .docx, .xlsx, .xls o .pdf.", ext)
}

func (e *UnsupportedFormatError) Unwrap() error {
	return ErrUnsupportedFormat
}

// Parse picks an importer by file extension and post-processes its output.
func Parse(filename string, data []byte) (Result, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	var (
		raw []Entry
		err error
	)
	switch ext {
	case ".docx":
		raw, err = ParseDOCX(data)
	case ".xlsx", ".xlsm":
		raw, err = ParseXLSX(data)
	case ".xls":
		raw, err = ParseXLS(data)
	case ".pdf":
		raw, err = ParsePDF(data)
	default:
		return Result{}, &UnsupportedFormatError{Extension: ext}
	}
	if err != nil {
		return Result{}, fmt.Errorf("parse %s: %w", ext, err)
	}

	res := Result{Format: strings.TrimPrefix(ext, "."), Entries: Clean(raw)}
	if len(res.Entries) == 0 {
		res.Warning = NoEntriesWarning
	}
	return res, nil
}
