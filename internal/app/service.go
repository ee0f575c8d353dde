package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"colegio/panel/internal/backend"
	"colegio/panel/internal/config"
	"colegio/panel/internal/export"
	"colegio/panel/internal/ranking"
	"colegio/panel/internal/rbac"
	"colegio/panel/internal/search"
	"colegio/panel/internal/session"
	"colegio/panel/internal/site"
	"colegio/panel/internal/util"
)

// Session is a browser session resolved from its cookie.
type Session struct {
	ID     string
	Record session.Record
}

func (s Session) User() *backend.User {
	return s.Record.User
}

// ViewRowsInput loads a view's search worker. Rows are either supplied
// inline or fetched from a backend resource.
type ViewRowsInput struct {
	Rows     []map[string]any `json:"rows"`
	Resource string           `json:"resource"`
	Status   string           `json:"status"`
	Query    string           `json:"q"`
}

// ExportInput describes a tabular export.
type ExportInput struct {
	Format      string            `json:"format"`
	Title       string            `json:"title"`
	Columns     []string          `json:"columns"`
	Rows        []map[string]any  `json:"rows"`
	Resource    string            `json:"resource"`
	Status      string            `json:"status"`
	Query       string            `json:"q"`
	Specialties map[string]string `json:"specialties"`
	IncludeLogo bool              `json:"includeLogo"`
}

// BulletinInput describes a PDF bulletin. TitleColumn names each entry and
// defaults to the first column.
type BulletinInput struct {
	Title       string            `json:"title"`
	Subtitle    string            `json:"subtitle"`
	TitleColumn string            `json:"titleColumn"`
	Columns     []string          `json:"columns"`
	Rows        []map[string]any  `json:"rows"`
	Resource    string            `json:"resource"`
	Status      string            `json:"status"`
	Query       string            `json:"q"`
	Specialties map[string]string `json:"specialties"`
	IncludeLogo bool              `json:"includeLogo"`
}

type Service struct {
	cfg          config.Config
	cookieSecret []byte
	sessions     session.Store
	views        *search.ViewRegistry
	exports      *export.Service
	site         *site.Service
	httpClient   *http.Client
	now          func() time.Time
}

func New(cfg config.Config, sessions session.Store, views *search.ViewRegistry, exports *export.Service, siteService *site.Service) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = session.DefaultTTL
	}
	secret := cfg.SessionSecret
	if secret == "" {
		log.Printf("app: PANEL_SESSION_SECRET not set; session cookies will not survive a restart")
		secret = util.NewID("")
	}
	return &Service{
		cfg:          cfg,
		cookieSecret: []byte(secret),
		sessions:     sessions,
		views:        views,
		exports:      exports,
		site:         siteService,
		now:          time.Now,
	}
}

func (s *Service) Site() *site.Service {
	return s.site
}

func (s *Service) Ping(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

func (s *Service) SearchHealthy() bool {
	return s.site != nil && s.site.SearchHealthy()
}

// client rebuilds the backend client for a session record.
func (s *Service) client(rec session.Record) (*backend.Client, error) {
	return backend.New(backend.Options{
		BaseURL:    s.cfg.BackendURL,
		CSRFCookie: s.cfg.CSRFCookie,
		CSRFHeader: s.cfg.CSRFHeader,
		Timeout:    s.cfg.RequestTimeout,
		Cookies:    rec.HTTPCookies(),
		HTTPClient: s.httpClient,
	}, backend.NewCredentials(rec.Token, rec.User))
}

func (s *Service) persist(ctx context.Context, id string, client *backend.Client, createdAt time.Time) (session.Record, error) {
	rec := session.Capture(client, createdAt)
	if err := s.sessions.Save(ctx, id, rec, s.cfg.SessionTTL); err != nil {
		return rec, fmt.Errorf("save session: %w", err)
	}
	return rec, nil
}

// Login authenticates against the backend and stores the resulting
// credentials under a fresh session id. A previous session id is discarded.
func (s *Service) Login(ctx context.Context, previousID, username, password string) (Session, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return Session{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Ingrese usuario y contraseña", nil)
	}
	if previousID != "" {
		s.forget(ctx, previousID)
	}

	client, err := s.client(session.Record{})
	if err != nil {
		return Session{}, err
	}
	if _, err := client.Login(ctx, username, password); err != nil {
		return Session{}, err
	}

	id := util.NewID("sess")
	rec, err := s.persist(ctx, id, client, s.now().UTC())
	if err != nil {
		return Session{}, err
	}
	return Session{ID: id, Record: rec}, nil
}

// Bootstrap resolves a session id on page load. An unknown id yields "no
// session" without contacting the backend; a failed validation drops the
// stored record.
func (s *Service) Bootstrap(ctx context.Context, id string) (Session, bool) {
	if id == "" {
		return Session{}, false
	}
	rec, err := s.sessions.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			log.Printf("app: load session: %v", err)
		}
		return Session{}, false
	}

	client, err := s.client(rec)
	if err != nil {
		log.Printf("app: build backend client: %v", err)
		return Session{}, false
	}
	if _, ok := client.Bootstrap(ctx); !ok {
		s.forget(ctx, id)
		return Session{}, false
	}
	rec, err = s.persist(ctx, id, client, rec.CreatedAt)
	if err != nil {
		log.Printf("app: %v", err)
	}
	return Session{ID: id, Record: rec}, true
}

// CachedUser returns the stored profile without validating it. It only
// serves optimistic rendering while Bootstrap runs.
func (s *Service) CachedUser(ctx context.Context, id string) *backend.User {
	if id == "" {
		return nil
	}
	rec, err := s.sessions.Load(ctx, id)
	if err != nil {
		return nil
	}
	return rec.User
}

// Logout ends the backend session and forgets everything held for id.
func (s *Service) Logout(ctx context.Context, id string) {
	if id == "" {
		return
	}
	rec, err := s.sessions.Load(ctx, id)
	if err == nil {
		if client, err := s.client(rec); err == nil {
			if err := client.Logout(ctx); err != nil {
				log.Printf("app: backend logout: %v", err)
			}
		}
	}
	s.forget(ctx, id)
}

func (s *Service) forget(ctx context.Context, id string) {
	if err := s.sessions.Delete(ctx, id); err != nil {
		log.Printf("app: delete session: %v", err)
	}
	if s.views != nil {
		s.views.DropSession(id)
	}
}

// SessionFromID loads a stored session; it does not contact the backend.
func (s *Service) SessionFromID(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, session.ErrNotFound
	}
	rec, err := s.sessions.Load(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if rec.Empty() {
		return Session{}, session.ErrNotFound
	}
	return Session{ID: id, Record: rec}, nil
}

func (s *Service) Can(sess Session, action rbac.Action) bool {
	user := sess.User()
	if user == nil {
		return false
	}
	return rbac.CanUser(user.Role, user.Scopes, action)
}

func (s *Service) authorize(sess Session, action rbac.Action) (*backend.Client, error) {
	if !s.Can(sess, action) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "No tiene permisos para esta operación", map[string]any{"action": action})
	}
	return s.client(sess.Record)
}

func (s *Service) ListResource(ctx context.Context, sess Session, resource string, params backend.ListParams) (backend.Page, error) {
	client, err := s.authorize(sess, rbac.ActionRead)
	if err != nil {
		return backend.Page{}, err
	}
	return client.List(ctx, resource, params)
}

func (s *Service) CreatePeriod(ctx context.Context, sess Session, year, month int) (backend.Period, bool, error) {
	if month < 1 || month > 12 || year < 1900 {
		return backend.Period{}, false, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Período inválido", map[string]any{"year": year, "month": month})
	}
	client, err := s.authorize(sess, rbac.ActionPeriods)
	if err != nil {
		return backend.Period{}, false, err
	}
	return client.CreatePeriod(ctx, year, month)
}

func (s *Service) ApplyPeriodAction(ctx context.Context, sess Session, id, action string) (backend.Period, error) {
	parsed, ok := backend.ParsePeriodAction(action)
	if !ok {
		return backend.Period{}, domainError(http.StatusBadRequest, "INVALID_ACTION", "Acción de período desconocida", map[string]any{"action": action})
	}
	client, err := s.authorize(sess, rbac.ActionPeriods)
	if err != nil {
		return backend.Period{}, err
	}
	return client.ApplyPeriodAction(ctx, id, parsed)
}

func (s *Service) UploadAttachment(ctx context.Context, sess Session, resource, id, filename string, content io.Reader) (backend.Row, error) {
	client, err := s.authorize(sess, rbac.ActionImport)
	if err != nil {
		return nil, err
	}
	return client.UploadAttachment(ctx, resource, id, filename, content)
}

// rows returns inline rows, or every row of resource when none were given.
func (s *Service) rows(ctx context.Context, client *backend.Client, inline []map[string]any, resource, status, query string) ([]map[string]any, error) {
	if inline != nil || strings.TrimSpace(resource) == "" {
		return inline, nil
	}
	rows, err := client.ListAll(ctx, resource, backend.ListParams{Status: status, Query: query})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", resource, err)
	}
	return rows, nil
}

// LoadView replaces the data of the view's search worker.
func (s *Service) LoadView(ctx context.Context, sess Session, view string, input ViewRowsInput) (search.Ack, error) {
	if strings.TrimSpace(view) == "" {
		return search.Ack{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Vista inválida", nil)
	}
	client, err := s.authorize(sess, rbac.ActionRead)
	if err != nil {
		return search.Ack{}, err
	}
	rows, err := s.rows(ctx, client, input.Rows, input.Resource, input.Status, input.Query)
	if err != nil {
		return search.Ack{}, err
	}
	return s.views.Worker(sess.ID, view).SetData(ctx, rows)
}

// SearchView runs a query on a loaded view. stale is true when a newer
// search on the same view was issued while this one ran.
func (s *Service) SearchView(ctx context.Context, sess Session, view, query string) (search.Match, bool, error) {
	if !s.Can(sess, rbac.ActionRead) {
		return search.Match{}, false, domainError(http.StatusForbidden, "FORBIDDEN", "No tiene permisos para esta operación", nil)
	}
	worker, ok := s.views.Lookup(sess.ID, view)
	if !ok {
		return search.Match{}, false, domainError(http.StatusNotFound, "VIEW_NOT_LOADED", "La vista no tiene datos cargados", map[string]any{"view": view})
	}
	match, err := worker.Search(ctx, query)
	if err != nil {
		return search.Match{}, false, err
	}
	return match, worker.Stale(match), nil
}

func (s *Service) Export(ctx context.Context, sess Session, input ExportInput) (*export.Result, error) {
	client, err := s.authorize(sess, rbac.ActionExport)
	if err != nil {
		return nil, err
	}
	rows, err := s.rows(ctx, client, input.Rows, input.Resource, input.Status, input.Query)
	if err != nil {
		return nil, err
	}
	return s.exports.Export(ctx, export.Request{
		Format:      export.Format(strings.ToLower(strings.TrimSpace(input.Format))),
		Title:       input.Title,
		Columns:     input.Columns,
		Rows:        rows,
		Specialties: input.Specialties,
		IncludeLogo: input.IncludeLogo,
	})
}

func (s *Service) Bulletin(ctx context.Context, sess Session, input BulletinInput) (*export.Result, error) {
	if len(input.Columns) == 0 {
		return nil, export.ErrNoColumns
	}
	client, err := s.authorize(sess, rbac.ActionExport)
	if err != nil {
		return nil, err
	}
	rows, err := s.rows(ctx, client, input.Rows, input.Resource, input.Status, input.Query)
	if err != nil {
		return nil, err
	}
	titleColumn := input.TitleColumn
	if titleColumn == "" {
		titleColumn = input.Columns[0]
	}
	return s.exports.Bulletin(ctx, export.Bulletin{
		Title:       input.Title,
		Subtitle:    input.Subtitle,
		IncludeLogo: input.IncludeLogo,
		Entries:     export.BulletinFromRows(titleColumn, input.Columns, rows, input.Specialties),
	})
}

// ImportRanking parses an uploaded ranking for preview. Nothing is sent to
// the backend.
func (s *Service) ImportRanking(sess Session, filename string, data []byte) (ranking.Result, error) {
	if !s.Can(sess, rbac.ActionImport) {
		return ranking.Result{}, domainError(http.StatusForbidden, "FORBIDDEN", "No tiene permisos para esta operación", nil)
	}
	result, err := ranking.Parse(filename, data)
	if err != nil {
		if errors.Is(err, ranking.ErrUnsupportedFormat) {
			return ranking.Result{}, err
		}
		log.Printf("app: ranking import %q: %v", filename, err)
		return ranking.Result{}, domainError(http.StatusUnprocessableEntity, "INVALID_FILE", "No se pudo leer el archivo. Verifique que no esté dañado.", nil)
	}
	return result, nil
}
