package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// FallbackMessage is shown when the backend does not explain a failure.
const FallbackMessage = "No se pudo completar la operación. Intente nuevamente."

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrConflict        = errors.New("conflict")
	ErrNotFound        = errors.New("not found")
	ErrNoRefreshCookie = errors.New("refresh cookie missing")
)

// APIError is a non-2xx backend response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Message)
}

// Is lets callers match status classes with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// UserMessage returns the text to show in an inline error banner.
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	return FallbackMessage
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &APIError{Status: resp.StatusCode, Message: extractMessage(raw)}
}

// extractMessage understands the error envelopes the backend emits:
// {"detail": "..."}, {"detail": [{"msg": "..."}]}, {"message": "..."} and
// {"error": "..."}.
func extractMessage(raw []byte) string {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return FallbackMessage
	}
	for _, key := range []string{"detail", "message", "error"} {
		value, ok := envelope[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(value, &text); err == nil && strings.TrimSpace(text) != "" {
			return text
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(value, &items); err == nil {
			var parts []string
			for _, item := range items {
				if strings.TrimSpace(item.Msg) != "" {
					parts = append(parts, item.Msg)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "; ")
			}
		}
	}
	return FallbackMessage
}
