package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		err    *AppError
		status int
	}{
		{Internal("x"), http.StatusInternalServerError},
		{Validation("x"), http.StatusBadRequest},
		{BadRequest("x"), http.StatusBadRequest},
		{NotFound("x"), http.StatusNotFound},
		{Unauthorized("x"), http.StatusUnauthorized},
		{MethodNotAllowed("PUT"), http.StatusMethodNotAllowed},
		{Conflict("x"), http.StatusConflict},
		{RateLimit("x"), http.StatusTooManyRequests},
		{ServiceUnavailable("x"), http.StatusServiceUnavailable},
		{New("SOMETHING_ELSE", "x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			if tt.err.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", tt.err.StatusCode, tt.status)
			}
		})
	}
}

func TestWrap_Unwraps(t *testing.T) {
	cause := stderrors.New("file is corrupt")
	err := InternalWrap(cause, "Reload failed")

	if !stderrors.Is(err, cause) {
		t.Error("wrapped AppError should unwrap to its cause")
	}
	if got := err.Error(); got != "INTERNAL_ERROR: Reload failed (caused by: file is corrupt)" {
		t.Errorf("Error() = %q", got)
	}
	if got := MethodNotAllowed("PUT").Message; got != "Method PUT not allowed" {
		t.Errorf("message = %q", got)
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("invalid error JSON: %v", err)
	}
	return resp
}

func TestWriteError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		err     error
		status  int
		code    ErrorCode
		details string
	}{
		{"app error", Conflict("A reload is already in progress"), http.StatusConflict, CodeConflict, ""},
		{"wrapped app error", fmt.Errorf("handler: %w", Validation("bad range")), http.StatusBadRequest, CodeValidation, ""},
		{"plain error", stderrors.New("disk full"), http.StatusInternalServerError, CodeInternal, ""},
		{"details", InternalWrap(stderrors.New("eof"), "Reload failed").WithDetails("eof"), http.StatusInternalServerError, CodeInternal, "eof"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/kpis", nil)

			WriteError(w, r, logger, tt.err, "req-1")

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", cc)
			}

			resp := decodeError(t, w)
			if resp.Success {
				t.Error("success should be false")
			}
			if resp.Error.Code != tt.code {
				t.Errorf("code = %s, want %s", resp.Error.Code, tt.code)
			}
			if resp.Error.RequestID != "req-1" {
				t.Errorf("request_id = %q", resp.Error.RequestID)
			}
			if resp.Error.Details != tt.details {
				t.Errorf("details = %q, want %q", resp.Error.Details, tt.details)
			}
		})
	}
}

func TestWriteSuccessWithHeaders(t *testing.T) {
	w := httptest.NewRecorder()

	WriteSuccessWithHeaders(w, map[string]int{"orders": 3}, map[string]string{"Cache-Control": "no-cache"})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}

	var resp struct {
		Success bool           `json:"success"`
		Data    map[string]int `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Data["orders"] != 3 {
		t.Errorf("response = %+v", resp)
	}
}
