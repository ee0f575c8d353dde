package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// News is a public website article.
type News struct {
	ID          ID     `json:"id"`
	Title       string `json:"titulo"`
	Summary     string `json:"resumen"`
	Body        string `json:"cuerpo"`
	Category    string `json:"categoria"`
	ImageURL    string `json:"imagen_url"`
	PublishedAt string `json:"fecha_publicacion"`
}

// Course is an entry of the public course catalogue.
type Course struct {
	ID          ID     `json:"id"`
	Title       string `json:"titulo"`
	Description string `json:"descripcion"`
	Modality    string `json:"modalidad"`
	StartDate   string `json:"fecha_inicio"`
	Duration    string `json:"duracion"`
	ImageURL    string `json:"imagen_url"`
}

// Slide is one carousel item.
type Slide struct {
	Title    string `json:"titulo"`
	Subtitle string `json:"subtitulo"`
	ImageURL string `json:"imagen_url"`
	Link     string `json:"enlace"`
}

// ListNews returns one page of published news, newest first as the backend
// orders them.
func (c *Client) ListNews(ctx context.Context, skip, limit int) ([]News, int, error) {
	return listPublic[News](ctx, c, "public/noticias", skip, limit)
}

// ListCourses returns the course catalogue.
func (c *Client) ListCourses(ctx context.Context, skip, limit int) ([]Course, int, error) {
	return listPublic[Course](ctx, c, "public/cursos", skip, limit)
}

// Carousel returns the slides of a named carousel.
func (c *Client) Carousel(ctx context.Context, name string) ([]Slide, error) {
	path, err := resourcePath("public/carruseles/" + name)
	if err != nil {
		return nil, err
	}
	slides, _, err := listPublic[Slide](ctx, c, path, 0, 0)
	return slides, err
}

func listPublic[T any](ctx context.Context, c *Client, path string, skip, limit int) ([]T, int, error) {
	query := url.Values{}
	if skip > 0 {
		query.Set("skip", strconv.Itoa(skip))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, query, nil, &raw); err != nil {
		return nil, 0, err
	}
	items, total, err := decodeCollection[T](raw)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", path, err)
	}
	return items, total, nil
}
