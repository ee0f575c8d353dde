package export

import (
	"context"
	"fmt"
	"log"
	"time"
)

// LogoSource loads the image embedded in exports.
type LogoSource interface {
	Logo(ctx context.Context) (*Image, error)
}

// Service assembles exports and fills in the ambient pieces: logo, source
// label, generation time.
type Service struct {
	logo      LogoSource
	source    string
	renderPDF PDFRenderer
	now       func() time.Time
}

// NewService creates an export service. logo and render may be nil; PDF
// exports then fail with ErrPDFDependencyMissing.
func NewService(logo LogoSource, source string, render PDFRenderer) *Service {
	return &Service{logo: logo, source: source, renderPDF: render, now: time.Now}
}

// Export generates a tabular export in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if len(req.Columns) == 0 {
		return nil, ErrNoColumns
	}
	if req.GeneratedAt.IsZero() {
		req.GeneratedAt = s.now()
	}
	if req.IncludeLogo && req.Logo == nil {
		req.Logo = s.loadLogo(ctx)
	}

	base := sanitizeFilename(req.Title) + "-" + req.GeneratedAt.Format("20060102")
	switch req.Format {
	case FormatCSV:
		data, err := buildCSV(req)
		if err != nil {
			return nil, fmt.Errorf("build csv: %w", err)
		}
		return &Result{Data: data, Filename: base + ".csv", MimeType: mimeCSV}, nil
	case FormatXLSX:
		data, err := buildXLSX(req)
		if err != nil {
			return nil, fmt.Errorf("build xlsx: %w", err)
		}
		return &Result{Data: data, Filename: base + ".xlsx", MimeType: mimeXLSX}, nil
	case FormatPDF:
		entries := BulletinFromRows(req.Columns[0], req.Columns, req.Rows, req.Specialties)
		return s.Bulletin(ctx, Bulletin{
			Title:       req.Title,
			GeneratedAt: req.GeneratedAt,
			Logo:        req.Logo,
			Entries:     entries,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

// Bulletin renders a paginated PDF report.
func (s *Service) Bulletin(ctx context.Context, b Bulletin) (*Result, error) {
	if s.renderPDF == nil {
		return nil, fmt.Errorf("%w: no pdf renderer configured", ErrPDFDependencyMissing)
	}
	if b.GeneratedAt.IsZero() {
		b.GeneratedAt = s.now()
	}
	if b.Source == "" {
		b.Source = s.source
	}
	if b.IncludeLogo && b.Logo == nil {
		b.Logo = s.loadLogo(ctx)
	}

	html, err := RenderBulletinHTML(b)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	data, err := s.renderPDF(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(b.Title) + "-" + b.GeneratedAt.Format("20060102") + ".pdf",
		MimeType: mimePDF,
	}, nil
}

// loadLogo returns nil when no logo is configured or it cannot be read; the
// export goes out without it.
func (s *Service) loadLogo(ctx context.Context) *Image {
	if s.logo == nil {
		return nil
	}
	img, err := s.logo.Logo(ctx)
	if err != nil {
		log.Printf("export: logo unavailable: %v", err)
		return nil
	}
	return img
}
