package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeBackend records every request path and dispatches to per-route handlers.
type fakeBackend struct {
	mu     sync.Mutex
	calls  []string
	routes map[string]http.HandlerFunc
}

func newFakeBackend(t *testing.T, routes map[string]http.HandlerFunc) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{routes: routes}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		fb.calls = append(fb.calls, r.Method+" "+r.URL.Path)
		fb.mu.Unlock()
		handler, ok := fb.routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"no route"}`)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) callCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.calls)
}

func (fb *fakeBackend) called(route string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n := 0
	for _, c := range fb.calls {
		if c == route {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func newTestClient(t *testing.T, baseURL string, creds *Credentials, cookies ...*http.Cookie) *Client {
	t.Helper()
	client, err := New(Options{BaseURL: baseURL, Cookies: cookies}, creds)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestAPIRoot(t *testing.T) {
	tests := []struct {
		origin string
		want   string
	}{
		{"https://colegio.example", "https://colegio.example/api"},
		{"https://colegio.example/", "https://colegio.example/api"},
		{"https://colegio.example/api", "https://colegio.example/api"},
		{"https://colegio.example/api/", "https://colegio.example/api"},
		{"", "/api"},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			if got := APIRoot(tt.origin); got != tt.want {
				t.Fatalf("APIRoot(%q) = %q, want %q", tt.origin, got, tt.want)
			}
		})
	}
}

func TestNewRejectsRelativeBase(t *testing.T) {
	if _, err := New(Options{BaseURL: ""}, nil); err == nil {
		t.Fatal("expected error for same-origin base without a host")
	}
}

func TestBootstrapWithoutCookieOrTokenMakesNoCalls(t *testing.T) {
	fb, srv := newFakeBackend(t, map[string]http.HandlerFunc{})
	client := newTestClient(t, srv.URL, NewCredentials("", &User{ID: "9", Name: "cached"}))

	user, ok := client.Bootstrap(context.Background())

	if ok || user != nil {
		t.Fatalf("expected no session, got %+v", user)
	}
	if n := fb.callCount(); n != 0 {
		t.Fatalf("expected zero backend calls, got %d", n)
	}
	if client.Credentials().User() != nil {
		t.Fatal("cached user should be cleared")
	}
}

func TestBootstrapRefreshesWithCSRFHeader(t *testing.T) {
	var gotCSRF, gotBearer string
	fb, srv := newFakeBackend(t, map[string]http.HandlerFunc{
		"POST /api/auth/refresh": func(w http.ResponseWriter, r *http.Request) {
			gotCSRF = r.Header.Get("X-CSRF-Token")
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "fresh-token"})
		},
		"GET /api/auth/me": func(w http.ResponseWriter, r *http.Request) {
			gotBearer = r.Header.Get("Authorization")
			writeJSON(w, http.StatusOK, map[string]any{
				"id": 42, "display_id": "M-1234", "name": "Juan Perez",
				"scopes": []string{"export"}, "role": "administrativo",
			})
		},
	})
	client := newTestClient(t, srv.URL, nil, &http.Cookie{Name: "csrf_token", Value: "csrf-abc"})

	user, ok := client.Bootstrap(context.Background())

	if !ok {
		t.Fatal("expected session")
	}
	if gotCSRF != "csrf-abc" {
		t.Fatalf("refresh csrf header = %q", gotCSRF)
	}
	if gotBearer != "Bearer fresh-token" {
		t.Fatalf("me authorization = %q", gotBearer)
	}
	want := &User{ID: "42", DisplayID: "M-1234", Name: "Juan Perez", Scopes: []string{"export"}, Role: "administrativo"}
	if diff := cmp.Diff(want, user); diff != "" {
		t.Fatalf("user mismatch (-want +got):\n%s", diff)
	}
	if fb.called("POST /api/auth/refresh") != 1 || fb.called("GET /api/auth/me") != 1 {
		t.Fatalf("unexpected calls: %v", fb.calls)
	}
}

func TestBootstrapMeOverridesCachedUser(t *testing.T) {
	_, srv := newFakeBackend(t, map[string]http.HandlerFunc{
		"GET /api/auth/me": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"id": "1", "name": "Ana Gomez", "role": "socio"})
		},
	})
	client := newTestClient(t, srv.URL, NewCredentials("still-valid", &User{ID: "1", Name: "Stale Name", Role: "admin"}))

	user, ok := client.Bootstrap(context.Background())

	if !ok {
		t.Fatal("expected session")
	}
	if user.Name != "Ana Gomez" || user.Role != "socio" {
		t.Fatalf("bootstrap should return server profile, got %+v", user)
	}
	if cached := client.Credentials().User(); cached.Name != "Ana Gomez" {
		t.Fatalf("cached user not overwritten: %+v", cached)
	}
}

func TestBootstrapRefreshFailureStillValidatesExistingToken(t *testing.T) {
	fb, srv := newFakeBackend(t, map[string]http.HandlerFunc{
		"POST /api/auth/refresh": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "refresh expired"})
		},
		"GET /api/auth/me": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer old-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": 3, "name": "Ana"})
		},
	})
	client := newTestClient(t, srv.URL, NewCredentials("old-token", nil), &http.Cookie{Name: "csrf_token", Value: "x"})

	if _, ok := client.Bootstrap(context.Background()); !ok {
		t.Fatal("expected session from existing token")
	}
	if fb.called("GET /api/auth/me") != 1 {
		t.Fatalf("me must be called regardless of refresh outcome: %v", fb.calls)
	}
}

func TestBootstrapFailureClearsState(t *testing.T) {
	_, srv := newFakeBackend(t, map[string]http.HandlerFunc{
		"GET /api/auth/me": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "token expired"})
		},
	})
	client := newTestClient(t, srv.URL, NewCredentials("expired", &User{ID: "1", Name: "cached"}))

	if _, ok := client.Bootstrap(context.Background()); ok {
		t.Fatal("expected no session")
	}
	if client.Credentials().Token() != "" || client.Credentials().User() != nil {
		t.Fatal("credentials should be cleared after failed validation")
	}
}

func TestLoginAuthorizesLaterRequests(t *testing.T) {
	var listAuth string
	_, srv := newFakeBackend(t, map[string]http.HandlerFunc{
		"POST /api/auth/login": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["username"] != "admin" || body["password"] != "secret" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Credenciales inválidas"})
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "csrf_token", Value: "csrf-1", Path: "/api/auth"})
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "tok-1",
				"user":         map[string]any{"id": 1, "name": "Admin", "role": "admin"},
			})
		},
		"GET /api/socios": func(w http.ResponseWriter, r *http.Request) {
			listAuth = r.Header.Get("Authorization")
			writeJSON(w, http.StatusOK, []map[string]any{})
		},
	})
	client := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	if _, err := client.Login(ctx, "admin", "wrong"); err == nil {
		t.Fatal("expected login failure")
	} else if UserMessage(err) != "Credenciales inválidas" {
		t.Fatalf("UserMessage = %q", UserMessage(err))
	}

	user, err := client.Login(ctx, " admin ", "secret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.Name != "Admin" {
		t.Fatalf("unexpected user %+v", user)
	}
	if client.CSRFToken() != "csrf-1" {
		t.Fatalf("CSRF cookie not captured, got %q", client.CSRFToken())
	}
	if _, err := client.List(ctx, "socios", ListParams{}); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if listAuth != "Bearer tok-1" {
		t.Fatalf("list authorization = %q", listAuth)
	}
}

func TestLogoutClearsCredentialsEvenOnFailure(t *testing.T) {
	_, srv := newFakeBackend(t, map[string]http.HandlerFunc{
		"POST /api/auth/logout": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	})
	client := newTestClient(t, srv.URL, NewCredentials("tok", &User{ID: "1"}))

	if err := client.Logout(context.Background()); err == nil {
		t.Fatal("expected logout error to be reported")
	}
	if client.Credentials().Token() != "" {
		t.Fatal("token should be cleared")
	}
}

func TestAPIErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"detail string", `{"detail":"Periodo cerrado"}`, "Periodo cerrado"},
		{"detail list", `{"detail":[{"msg":"mes inválido"},{"msg":"anio requerido"}]}`, "mes inválido; anio requerido"},
		{"message", `{"message":"Sin permiso"}`, "Sin permiso"},
		{"error", `{"error":"boom"}`, "boom"},
		{"html", `<html>502</html>`, FallbackMessage},
		{"empty detail", `{"detail":""}`, FallbackMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractMessage([]byte(tt.body)); got != tt.want {
				t.Fatalf("extractMessage() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := UserMessage(errors.New("dial tcp: refused")); got != FallbackMessage {
		t.Fatalf("UserMessage(non-api) = %q", got)
	}
}

func TestUploadAttachmentSendsMultipart(t *testing.T) {
	var gotName, gotContent string
	_, srv := newFakeBackend(t, map[string]http.HandlerFunc{
		"POST /api/socios/12/documentos": func(w http.ResponseWriter, r *http.Request) {
			file, header, err := r.FormFile("file")
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer file.Close()
			data, _ := io.ReadAll(file)
			gotName, gotContent = header.Filename, string(data)
			writeJSON(w, http.StatusCreated, map[string]any{"id": 5, "nombre": header.Filename})
		},
	})
	client := newTestClient(t, srv.URL, NewCredentials("tok", nil))

	row, err := client.UploadAttachment(context.Background(), "socios", "12", "titulo.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("UploadAttachment() error = %v", err)
	}
	if gotName != "titulo.pdf" || gotContent != "%PDF-1.4" {
		t.Fatalf("server received %q / %q", gotName, gotContent)
	}
	if row["nombre"] != "titulo.pdf" {
		t.Fatalf("unexpected response row %v", row)
	}
}

func TestResourcePathRejectsTraversal(t *testing.T) {
	for _, bad := range []string{"", "/", "../admin", "socios/../../x", "a//b"} {
		if _, err := resourcePath(bad); err == nil {
			t.Errorf("resourcePath(%q) expected error", bad)
		}
	}
	if got, err := resourcePath("/obras-sociales/3/padron/"); err != nil || got != "obras-sociales/3/padron" {
		t.Fatalf("resourcePath() = %q, %v", got, err)
	}
}
