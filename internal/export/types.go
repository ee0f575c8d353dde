// Package export turns already-fetched row sets into downloadable CSV, XLSX
// and PDF files. Generation happens entirely in memory: any error aborts the
// export and no partial file is returned.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// Image is an embeddable picture, e.g. the college logo.
type Image struct {
	Data      []byte
	Extension string // ".png", ".jpg"
}

// Request describes a tabular export.
type Request struct {
	Format  Format
	Title   string
	Columns []string
	Rows    []map[string]any
	// Specialties resolves specialty ids to names.
	Specialties map[string]string
	// IncludeLogo asks the service to embed the configured logo.
	IncludeLogo bool
	Logo        *Image
	GeneratedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

const (
	mimeCSV  = "text/csv; charset=utf-8"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimePDF  = "application/pdf"
)

var (
	// ErrNoColumns indicates an export request without columns.
	ErrNoColumns = errors.New("export requires at least one column")
	// ErrUnsupportedFormat indicates an unknown output format.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
