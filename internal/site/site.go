// Package site serves the public website content: news, the course
// catalogue, carousels, content search and the contact form.
package site

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"colegio/panel/internal/backend"
	"colegio/panel/internal/email"
	"colegio/panel/internal/search"
)

var (
	ErrEmailNotConfigured = errors.New("contact email not configured")
)

const (
	defaultPageSize = 12
	maxPageSize     = 100
	maxMessageChars = 5000
)

// ValidationError reports a contact form field the visitor must fix.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Mailer is the part of email.Service the contact form needs.
type Mailer interface {
	IsConfigured() bool
	SendContact(to string, data email.ContactData) error
}

// Service fetches public content anonymously from the backend and keeps the
// site search index fed with whatever it has seen.
type Service struct {
	backend   *backend.Client
	search    *search.Service
	mailer    Mailer
	contactTo string
	now       func() time.Time
}

func NewService(client *backend.Client, searchSvc *search.Service, mailer Mailer, contactTo string) *Service {
	return &Service{
		backend:   client,
		search:    searchSvc,
		mailer:    mailer,
		contactTo: strings.TrimSpace(contactTo),
		now:       time.Now,
	}
}

// NewsPage is one page of the news listing.
type NewsPage struct {
	Items []backend.News `json:"items"`
	Total int            `json:"total"`
	Skip  int            `json:"skip"`
	Limit int            `json:"limit"`
}

// CoursePage is one page of the course catalogue.
type CoursePage struct {
	Items []backend.Course `json:"items"`
	Total int              `json:"total"`
	Skip  int              `json:"skip"`
	Limit int              `json:"limit"`
}

func pageBounds(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	return skip, min(limit, maxPageSize)
}

func (s *Service) News(ctx context.Context, skip, limit int) (NewsPage, error) {
	skip, limit = pageBounds(skip, limit)
	items, total, err := s.backend.ListNews(ctx, skip, limit)
	if err != nil {
		return NewsPage{}, fmt.Errorf("list news: %w", err)
	}
	if items == nil {
		items = []backend.News{}
	}
	s.indexNews(items)
	if completeListing(skip, limit, len(items), total) {
		s.retain(search.KindNews, len(items), func(i int) string { return items[i].ID.String() })
	}
	return NewsPage{Items: items, Total: total, Skip: skip, Limit: limit}, nil
}

func (s *Service) Courses(ctx context.Context, skip, limit int) (CoursePage, error) {
	skip, limit = pageBounds(skip, limit)
	items, total, err := s.backend.ListCourses(ctx, skip, limit)
	if err != nil {
		return CoursePage{}, fmt.Errorf("list courses: %w", err)
	}
	if items == nil {
		items = []backend.Course{}
	}
	s.indexCourses(items)
	if completeListing(skip, limit, len(items), total) {
		s.retain(search.KindCourse, len(items), func(i int) string { return items[i].ID.String() })
	}
	return CoursePage{Items: items, Total: total, Skip: skip, Limit: limit}, nil
}

func (s *Service) Carousel(ctx context.Context, name string) ([]backend.Slide, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "Carrusel inválido"}
	}
	slides, err := s.backend.Carousel(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("carousel %s: %w", name, err)
	}
	if slides == nil {
		slides = []backend.Slide{}
	}
	return slides, nil
}

// Search answers from Meilisearch when it is healthy, otherwise from the
// content this process has fetched so far.
func (s *Service) Search(q search.Query) search.Response {
	q.Text = strings.TrimSpace(q.Text)
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) SearchHealthy() bool {
	return s.search != nil && s.search.Healthy()
}

// completeListing reports whether a page holds the whole collection, so
// anything indexed earlier but missing from it has been withdrawn.
func completeListing(skip, limit, n, total int) bool {
	return skip == 0 && n < limit && total <= n
}

func (s *Service) retain(kind search.Kind, n int, id func(int) string) {
	if s.search == nil {
		return
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = id(i)
	}
	if dropped := s.search.Retain(kind, ids); dropped > 0 {
		log.Printf("site: dropped %d withdrawn %s documents from search", dropped, kind)
	}
}

func (s *Service) indexNews(items []backend.News) {
	if s.search == nil || len(items) == 0 {
		return
	}
	docs := make([]search.Document, 0, len(items))
	for _, n := range items {
		docs = append(docs, search.Document{
			ID:       n.ID.String(),
			Kind:     search.KindNews,
			Title:    n.Title,
			Summary:  n.Summary,
			Body:     n.Body,
			Category: n.Category,
			ImageURL: n.ImageURL,
			Date:     n.PublishedAt,
		})
	}
	s.search.Index(docs)
}

func (s *Service) indexCourses(items []backend.Course) {
	if s.search == nil || len(items) == 0 {
		return
	}
	docs := make([]search.Document, 0, len(items))
	for _, c := range items {
		docs = append(docs, search.Document{
			ID:       c.ID.String(),
			Kind:     search.KindCourse,
			Title:    c.Title,
			Summary:  c.Description,
			Category: c.Modality,
			ImageURL: c.ImageURL,
			Date:     c.StartDate,
		})
	}
	s.search.Index(docs)
}

// ContactForm is what a visitor submits from the contact page.
type ContactForm struct {
	Name    string `json:"nombre"`
	Email   string `json:"email"`
	Phone   string `json:"telefono"`
	Subject string `json:"asunto"`
	Message string `json:"mensaje"`
}

func (f ContactForm) normalized() ContactForm {
	return ContactForm{
		Name:    strings.TrimSpace(f.Name),
		Email:   strings.TrimSpace(f.Email),
		Phone:   strings.TrimSpace(f.Phone),
		Subject: strings.TrimSpace(f.Subject),
		Message: strings.TrimSpace(f.Message),
	}
}

// Validate returns the first field error, if any.
func (f ContactForm) Validate() error {
	f = f.normalized()
	if f.Name == "" {
		return &ValidationError{Field: "nombre", Message: "Ingrese su nombre"}
	}
	if f.Email == "" {
		return &ValidationError{Field: "email", Message: "Ingrese su email"}
	}
	if addr, err := mail.ParseAddress(f.Email); err != nil || addr.Address != f.Email {
		return &ValidationError{Field: "email", Message: "El email no es válido"}
	}
	if f.Message == "" {
		return &ValidationError{Field: "mensaje", Message: "Escriba su consulta"}
	}
	if utf8.RuneCountInString(f.Message) > maxMessageChars {
		return &ValidationError{Field: "mensaje", Message: fmt.Sprintf("La consulta no puede superar los %d caracteres", maxMessageChars)}
	}
	return nil
}

// Contact validates the form and forwards it to the college inbox.
func (s *Service) Contact(ctx context.Context, form ContactForm) error {
	if err := form.Validate(); err != nil {
		return err
	}
	if s.mailer == nil || !s.mailer.IsConfigured() || s.contactTo == "" {
		return ErrEmailNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	form = form.normalized()
	err := s.mailer.SendContact(s.contactTo, email.ContactData{
		Name:       form.Name,
		Email:      form.Email,
		Phone:      form.Phone,
		Subject:    form.Subject,
		Message:    form.Message,
		ReceivedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("send contact message: %w", err)
	}
	return nil
}
