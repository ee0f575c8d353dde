package export

import (
	"bytes"
	"embed"
	"encoding/base64"
	"html/template"
	"mime"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var bulletinTemplate = template.Must(
	template.New("bulletin.html").Funcs(template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"add":        func(a, b int) int { return a + b },
		"footerData": newPageFooter,
	}).ParseFS(templateFS, "templates/bulletin.html"),
)

// bulletinData is what the template sees.
type bulletinData struct {
	Bulletin
	Layout  BulletinLayout
	LogoURI template.URL
}

// RenderBulletinHTML lays the bulletin out and renders it as one HTML page
// per printed page, each carrying its own header and footer.
func RenderBulletinHTML(b Bulletin) (string, error) {
	data := bulletinData{
		Bulletin: b,
		Layout:   PlanBulletin(b.Entries),
	}
	if b.Logo != nil && len(b.Logo.Data) > 0 {
		data.LogoURI = logoDataURI(*b.Logo)
	}

	var buf bytes.Buffer
	if err := bulletinTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type pageFooter struct {
	Source      string
	GeneratedAt time.Time
	Page        int
	Total       int
}

func newPageFooter(d bulletinData, page int) pageFooter {
	return pageFooter{
		Source:      d.Source,
		GeneratedAt: d.GeneratedAt,
		Page:        page,
		Total:       d.Layout.TotalPages,
	}
}

func logoDataURI(img Image) template.URL {
	mimeType := mime.TypeByExtension(img.Extension)
	if mimeType == "" {
		mimeType = "image/png"
	}
	return template.URL("data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data))
}
