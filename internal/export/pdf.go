package export

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"colegio/panel/internal/util"
)

// PDFRenderer turns a self-contained HTML document into PDF bytes.
type PDFRenderer func(ctx context.Context, html string) ([]byte, error)

// percentEncodeForDataURL encodes a string for use in a data URL.
// Spaces become %20, not +.
func percentEncodeForDataURL(s string) string {
	var result strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-', r == '_', r == '.', r == '~':
			result.WriteRune(r)
		case r == ' ':
			result.WriteString("%20")
		default:
			for _, b := range []byte(string(r)) {
				fmt.Fprintf(&result, "%%%02X", b)
			}
		}
	}
	return result.String()
}

// ChromiumRenderer prints HTML to A4 PDF with headless Chromium. Page
// headers and footers come from the HTML itself.
func ChromiumRenderer(timeout time.Duration) PDFRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return func(parent context.Context, html string) ([]byte, error) {
		if _, err := exec.LookPath("chromium-browser"); err != nil {
			if _, fallbackErr := exec.LookPath("chromium"); fallbackErr != nil {
				return nil, fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
			}
		}

		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)

		allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
		defer cancel()

		taskCtx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()

		dataURL := "data:text/html;charset=utf-8," + percentEncodeForDataURL(html)

		var pdfData []byte
		err := chromedp.Run(taskCtx,
			chromedp.Navigate(dataURL),
			chromedp.WaitReady("body"),
			chromedp.ActionFunc(func(ctx context.Context) error {
				var err error
				pdfData, _, err = page.PrintToPDF().
					WithPrintBackground(true).
					WithPaperWidth(8.27). // A4
					WithPaperHeight(11.69).
					WithMarginTop(0).
					WithMarginBottom(0).
					WithMarginLeft(0).
					WithMarginRight(0).
					WithPreferCSSPageSize(true).
					Do(ctx)
				return err
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("chrome pdf generation failed: %w", err)
		}
		return pdfData, nil
	}
}

// sanitizeFilename creates a safe ASCII filename from a title.
func sanitizeFilename(title string) string {
	var result strings.Builder
	for _, r := range util.StripAccents(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result.WriteRune(r)
		case r == ' ':
			result.WriteRune('-')
		case r == '-', r == '_':
			result.WriteRune(r)
		}
	}

	name := result.String()
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		name = "export"
	}
	return name
}
