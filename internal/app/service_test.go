package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"colegio/panel/internal/auth"
	"colegio/panel/internal/backend"
	"colegio/panel/internal/config"
	"colegio/panel/internal/export"
	"colegio/panel/internal/search"
	"colegio/panel/internal/session"
	"colegio/panel/internal/site"
)

// fakeBackend is an httptest backend that records every call.
type fakeBackend struct {
	mu     sync.Mutex
	calls  []string
	auth   []string
	routes map[string]http.HandlerFunc
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	handler, ok := f.routes[key]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"no route"}`))
		return
	}
	handler(w, r)
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBackend) called(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

func (f *fakeBackend) lastAuth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.auth) == 0 {
		return ""
	}
	return f.auth[len(f.auth)-1]
}

func replyJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type testEnv struct {
	backend  *fakeBackend
	store    *session.MemoryStore
	views    *search.ViewRegistry
	service  *Service
	server   *HTTPServer
	rendered []string
}

func newTestEnv(t *testing.T, routes map[string]http.HandlerFunc) *testEnv {
	t.Helper()
	fb := &fakeBackend{routes: routes}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	env := &testEnv{backend: fb, store: session.NewMemoryStore(), views: search.NewViewRegistry(time.Minute)}
	t.Cleanup(env.views.Close)

	render := func(_ context.Context, html string) ([]byte, error) {
		env.rendered = append(env.rendered, html)
		return []byte("%PDF-1.4 fake"), nil
	}
	exports := export.NewService(nil, "Padrón oficial", render)

	anonymous, err := backend.New(backend.Options{BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	siteSvc := site.NewService(anonymous, search.NewService(nil), nil, "")

	cfg := config.Config{
		BackendURL:     srv.URL,
		CSRFCookie:     "csrf_token",
		CSRFHeader:     "X-CSRF-Token",
		SessionTTL:     time.Hour,
		SessionSecret:  "test-secret",
		RequestTimeout: 5 * time.Second,
	}
	env.service = New(cfg, env.store, env.views, exports, siteSvc)
	env.server = NewHTTPServer(env.service, "*")
	return env
}

// seed stores a session directly, as a previous login would have.
func (e *testEnv) seed(t *testing.T, role string, scopes ...string) string {
	t.Helper()
	id := "sess_" + role
	rec := session.Record{
		Token:     "tok-" + role,
		User:      &backend.User{ID: "1", Name: "Usuario " + role, Role: role, Scopes: scopes},
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.Save(context.Background(), id, rec, time.Hour); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return id
}

func (e *testEnv) do(t *testing.T, method, path, sid, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if sid != "" {
		req.AddCookie(e.cookie(t, sid))
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

// cookie signs sid the way the gateway does.
func (e *testEnv) cookie(t *testing.T, sid string) *http.Cookie {
	t.Helper()
	value, err := auth.IssueCookie(e.service.cookieSecret, sid, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign cookie: %v", err)
	}
	return &http.Cookie{Name: sessionCookieName, Value: value}
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestLoginRotatesSessionID(t *testing.T) {
	env := newTestEnv(t, map[string]http.HandlerFunc{
		"POST /api/auth/login": func(w http.ResponseWriter, r *http.Request) {
			replyJSON(w, http.StatusOK, map[string]any{
				"access_token": "tok-1",
				"user":         map[string]any{"id": 5, "name": "Ana", "role": "administrativo"},
			})
		},
		"POST /api/auth/logout": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
	})
	old := env.seed(t, "socio")

	sess, err := env.service.Login(context.Background(), old, "ana", "secreta")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if sess.ID == "" || sess.ID == old {
		t.Fatalf("expected a fresh session id, got %q", sess.ID)
	}
	if _, err := env.store.Load(context.Background(), old); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("previous session should be dropped, got %v", err)
	}
	rec, err := env.store.Load(context.Background(), sess.ID)
	if err != nil || rec.Token != "tok-1" || rec.User.Name != "Ana" {
		t.Fatalf("stored record = %+v, %v", rec, err)
	}
}

func TestLoginValidatesInput(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.service.Login(context.Background(), "", "  ", "x")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusBadRequest {
		t.Fatalf("expected validation error, got %v", err)
	}
	if env.backend.callCount() != 0 {
		t.Fatal("validation failures must not reach the backend")
	}
}

func TestCreatePeriodConflictReturnsExisting(t *testing.T) {
	env := newTestEnv(t, map[string]http.HandlerFunc{
		"POST /api/liquidaciones/periodos": func(w http.ResponseWriter, r *http.Request) {
			replyJSON(w, http.StatusConflict, map[string]any{"detail": "Ya existe"})
		},
		"GET /api/liquidaciones/periodos": func(w http.ResponseWriter, r *http.Request) {
			replyJSON(w, http.StatusOK, []map[string]any{{"id": 3, "anio": 2024, "mes": 3, "estado": "abierto"}})
		},
	})
	sid := env.seed(t, "administrativo")

	rr := env.do(t, http.MethodPost, "/api/periods", sid, `{"year":2024,"month":3}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	if payload["created"] != false {
		t.Fatalf("created = %v", payload["created"])
	}
	period, _ := payload["period"].(map[string]any)
	if period["id"] != "3" {
		t.Fatalf("period = %v", period)
	}
	if env.backend.lastAuth() != "Bearer tok-administrativo" {
		t.Fatalf("backend saw %q", env.backend.lastAuth())
	}
}

func TestPeriodsRequireRoleOrScope(t *testing.T) {
	env := newTestEnv(t, map[string]http.HandlerFunc{
		"POST /api/liquidaciones/periodos/9/cerrar": func(w http.ResponseWriter, r *http.Request) {
			replyJSON(w, http.StatusOK, map[string]any{"id": 9, "anio": 2024, "mes": 1, "estado": "cerrado"})
		},
	})

	rr := env.do(t, http.MethodPost, "/api/periods/9/close", env.seed(t, "socio"), "")
	if rr.Code != http.StatusForbidden || decodeMap(t, rr)["code"] != "FORBIDDEN" {
		t.Fatalf("socio should be forbidden, got %d %s", rr.Code, rr.Body.String())
	}
	if env.backend.callCount() != 0 {
		t.Fatal("forbidden requests must not reach the backend")
	}

	id := "sess_scoped"
	rec := session.Record{Token: "tok", User: &backend.User{Role: "socio", Scopes: []string{"periods"}}}
	if err := env.store.Save(context.Background(), id, rec, time.Hour); err != nil {
		t.Fatal(err)
	}
	rr = env.do(t, http.MethodPost, "/api/periods/9/close", id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("periods scope should grant access, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/api/periods/9/delete", id, "")
	if rr.Code != http.StatusBadRequest || decodeMap(t, rr)["code"] != "INVALID_ACTION" {
		t.Fatalf("unknown action: got %d %s", rr.Code, rr.Body.String())
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/api/resources/socios", "/api/views/socios/search?q=a"} {
		rr := env.do(t, http.MethodGet, path, "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rr.Code)
		}
		rr = env.do(t, http.MethodGet, path, "sess_unknown", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s with unknown session: expected 401, got %d", path, rr.Code)
		}
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "domain", err: domainError(http.StatusTeapot, "X", "x", nil), status: http.StatusTeapot, code: "X"},
		{name: "backend 422", err: &backend.APIError{Status: 422, Message: "Documento inválido"}, status: 422, code: "VALIDATION_ERROR"},
		{name: "backend 500", err: &backend.APIError{Status: 500, Message: "boom"}, status: http.StatusBadGateway, code: "BACKEND_ERROR"},
		{name: "session", err: session.ErrNotFound, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "no columns", err: export.ErrNoColumns, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "pdf missing", err: export.ErrPDFDependencyMissing, status: http.StatusServiceUnavailable, code: "PDF_UNAVAILABLE"},
		{name: "contact", err: site.ErrEmailNotConfigured, status: http.StatusServiceUnavailable, code: "EMAIL_UNAVAILABLE"},
		{name: "validation", err: &site.ValidationError{Field: "email", Message: "x"}, status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "SERVER_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code, message, _ := mapError(tc.err)
			if status != tc.status || code != tc.code {
				t.Fatalf("mapError() = %d %s, want %d %s", status, code, tc.status, tc.code)
			}
			if message == "" {
				t.Fatal("message must never be empty")
			}
		})
	}

	_, _, message, _ := mapError(&backend.APIError{Status: 400, Message: "El DNI ya está registrado"})
	if message != "El DNI ya está registrado" {
		t.Fatalf("backend message should be surfaced, got %q", message)
	}
}
