package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"colegio/panel/internal/auth"
	"colegio/panel/internal/backend"
	"colegio/panel/internal/export"
	"colegio/panel/internal/ranking"
	"colegio/panel/internal/rbac"
	"colegio/panel/internal/search"
	"colegio/panel/internal/session"
	"colegio/panel/internal/site"
)

const (
	sessionCookieName = "panel_sid"
	maxUploadBytes    = 20 << 20
)

type HTTPServer struct {
	service      *Service
	corsOrigin   string
	cookieSecure bool
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, cookieSecure: service.cfg.CookieSecure}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"sessions": map[string]any{"status": "ok"},
			"search":   map[string]any{"status": "ok", "engine": "meilisearch"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["sessions"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		if !s.service.SearchHealthy() {
			// the local index keeps site search working
			checks["search"] = map[string]any{"status": "degraded", "engine": "local"}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		sess, ok := s.service.Bootstrap(r.Context(), s.sessionID(r))
		if !ok {
			if s.sessionID(r) != "" {
				s.clearSessionCookie(w)
			}
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "user": nil})
			return
		}
		s.setSessionCookie(w, sess.ID)
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": userView(sess.User())})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session/cached" {
		user := s.service.CachedUser(r.Context(), s.sessionID(r))
		if user == nil {
			writeJSON(w, http.StatusOK, map[string]any{"user": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": userView(user)})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		s.service.Logout(r.Context(), s.sessionID(r))
		s.clearSessionCookie(w)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "site" {
		s.handleSite(w, r, parts[2:])
		return
	}

	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "resources":
		s.handleResources(w, r, sess, parts[2:])
	case "periods":
		s.handlePeriods(w, r, sess, parts[2:])
	case "views":
		s.handleViews(w, r, sess, parts[2:])
	case "exports":
		s.handleExports(w, r, sess, parts[2:])
	case "imports":
		if r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "ranking" {
			s.handleRankingImport(w, r, sess)
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sess, err := s.service.Login(r.Context(), s.sessionID(r), body.Username, body.Password)
	if err != nil {
		s.clearSessionCookie(w)
		writeMappedError(w, err)
		return
	}
	s.setSessionCookie(w, sess.ID)
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": userView(sess.User())})
}

// handleResources serves GET /api/resources/{name...} and
// POST /api/resources/{name...}/{id}/attachments.
func (s *HTTPServer) handleResources(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if r.Method == http.MethodGet {
		params, err := listParams(r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		page, err := s.service.ListResource(r.Context(), sess, strings.Join(parts, "/"), params)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		if page.Items == nil {
			page.Items = []backend.Row{}
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	if r.Method == http.MethodPost && len(parts) >= 3 && parts[len(parts)-1] == "attachments" {
		resource := strings.Join(parts[:len(parts)-2], "/")
		id := parts[len(parts)-2]
		filename, data, err := readUpload(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", err.Error(), nil)
			return
		}
		row, err := s.service.UploadAttachment(r.Context(), sess, resource, id, filename, bytes.NewReader(data))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"attachment": row})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handlePeriods(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 0 {
		var body struct {
			Year  int `json:"year"`
			Month int `json:"month"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		period, created, err := s.service.CreatePeriod(r.Context(), sess, body.Year, body.Month)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{"period": period, "created": created})
		return
	}

	if len(parts) == 2 {
		period, err := s.service.ApplyPeriodAction(r.Context(), sess, parts[0], parts[1])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"period": period})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleViews(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	view := parts[0]

	switch {
	case r.Method == http.MethodPost && parts[1] == "rows":
		var body ViewRowsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ack, err := s.service.LoadView(r.Context(), sess, view, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ack)
	case r.Method == http.MethodGet && parts[1] == "search":
		match, stale, err := s.service.SearchView(r.Context(), sess, view, r.URL.Query().Get("q"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		if match.Indices == nil {
			match.Indices = []int{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"seq":        match.Seq,
			"generation": match.Generation,
			"query":      match.Query,
			"indices":    match.Indices,
			"rows":       match.Rows,
			"stale":      stale,
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleExports(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	var (
		result *export.Result
		err    error
	)
	switch {
	case len(parts) == 0:
		var body ExportInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err = s.service.Export(r.Context(), sess, body)
	case len(parts) == 1 && parts[0] == "bulletin":
		var body BulletinInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err = s.service.Bulletin(r.Context(), sess, body)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeFile(w, result)
}

func (s *HTTPServer) handleRankingImport(w http.ResponseWriter, r *http.Request, sess Session) {
	filename, data, err := readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", err.Error(), nil)
		return
	}
	result, err := s.service.ImportRanking(sess, filename, data)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if result.Entries == nil {
		result.Entries = []ranking.Entry{}
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSite serves the anonymous public endpoints under /api/site.
func (s *HTTPServer) handleSite(w http.ResponseWriter, r *http.Request, parts []string) {
	siteSvc := s.service.Site()
	if siteSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "SITE_UNAVAILABLE", "Site service not configured", nil)
		return
	}
	query := r.URL.Query()

	switch {
	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "news":
		page, err := siteSvc.News(r.Context(), queryInt(query, "skip", 0), queryInt(query, "limit", 0))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "courses":
		page, err := siteSvc.Courses(r.Context(), queryInt(query, "skip", 0), queryInt(query, "limit", 0))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "carousels":
		slides, err := siteSvc.Carousel(r.Context(), parts[1])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"name": parts[1], "slides": slides})
	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "search":
		writeJSON(w, http.StatusOK, siteSvc.Search(search.Query{
			Text:   query.Get("q"),
			Kind:   search.Kind(query.Get("kind")),
			Limit:  queryInt(query, "limit", 0),
			Offset: queryInt(query, "offset", 0),
		}))
	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "contact":
		var body site.ContactForm
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := siteSvc.Contact(r.Context(), body); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	sess, err := s.service.SessionFromID(r.Context(), s.sessionID(r))
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			log.Printf("app: resolve session: %v", err)
		}
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Sesión no válida", nil)
		return Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	if corsOrigin != "*" {
		// the session travels in a cookie
		header.Set("Access-Control-Allow-Credentials", "true")
		header.Add("Vary", "Origin")
	}
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func (s *HTTPServer) setSessionCookie(w http.ResponseWriter, id string) {
	ttl := s.service.cfg.SessionTTL
	value, err := auth.IssueCookie(s.service.cookieSecret, id, time.Now().Add(ttl))
	if err != nil {
		log.Printf("app: sign session cookie: %v", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionID returns the verified session id carried by the request, or "".
func (s *HTTPServer) sessionID(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	id, err := auth.ParseCookie(s.service.cookieSecret, cookie.Value)
	if err != nil {
		return ""
	}
	return id
}

func userView(user *backend.User) map[string]any {
	if user == nil {
		return nil
	}
	scopes := user.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return map[string]any{
		"id":        user.ID,
		"displayId": user.DisplayID,
		"name":      user.Name,
		"scopes":    scopes,
		"role":      rbac.Normalize(user.Role),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("app: %s: %v", code, err)
	}
	writeError(w, status, code, message, details)
}

func writeFile(w http.ResponseWriter, result *export.Result) {
	header := w.Header()
	header.Set("Content-Type", result.MimeType)
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	header.Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// readUpload reads the "file" part of a multipart request.
func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, fmt.Errorf("invalid multipart body")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("file is required")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	return header.Filename, data, nil
}

func listParams(query url.Values) (backend.ListParams, error) {
	params := backend.ListParams{
		Status: query.Get("status"),
		Query:  query.Get("q"),
		Extra:  url.Values{},
	}
	for key, values := range query {
		switch key {
		case "status", "q":
		case "skip", "limit":
			n, err := strconv.Atoi(query.Get(key))
			if err != nil || n < 0 {
				return backend.ListParams{}, fmt.Errorf("%s must be a non-negative integer", key)
			}
			if key == "skip" {
				params.Skip = n
			} else {
				params.Limit = n
			}
		default:
			params.Extra[key] = values
		}
	}
	return params, nil
}

func queryInt(query url.Values, key string, fallback int) int {
	n, err := strconv.Atoi(query.Get(key))
	if err != nil {
		return fallback
	}
	return n
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var validationErr *site.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Message, map[string]any{"field": validationErr.Field}
	}
	var unsupported *ranking.UnsupportedFormatError
	if errors.As(err, &unsupported) {
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", unsupported.Error(), nil
	}

	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Sesión no válida", nil
	case errors.Is(err, site.ErrEmailNotConfigured):
		return http.StatusServiceUnavailable, "EMAIL_UNAVAILABLE", "El formulario de contacto no está disponible", nil
	case errors.Is(err, export.ErrNoColumns):
		return http.StatusBadRequest, "VALIDATION_ERROR", "Seleccione al menos una columna", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Formato de exportación no soportado", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "La generación de PDF no está disponible", nil
	case errors.Is(err, ranking.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", err.Error(), nil
	case errors.Is(err, search.ErrWorkerClosed):
		return http.StatusGone, "VIEW_CLOSED", "La vista fue cerrada", nil
	}

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status >= http.StatusInternalServerError {
			return http.StatusBadGateway, "BACKEND_ERROR", backend.UserMessage(err), nil
		}
		return apiErr.Status, backendCode(apiErr.Status), backend.UserMessage(err), nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT", backend.FallbackMessage, nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", backend.FallbackMessage, nil
}

func backendCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusUnprocessableEntity:
		return "VALIDATION_ERROR"
	default:
		return "BACKEND_REJECTED"
	}
}
