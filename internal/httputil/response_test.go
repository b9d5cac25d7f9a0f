package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusConflict, "address 3 already in use")

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "address 3 already in use" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestStatusHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func(http.ResponseWriter)
		want int
	}{
		{"method not allowed", MethodNotAllowed, http.StatusMethodNotAllowed},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad") }, http.StatusBadRequest},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "gone") }, http.StatusNotFound},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError},
		{"ok", func(w http.ResponseWriter) { WriteJSONOK(w, []int{1, 2}) }, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.fn(rec)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSetAttachment(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	SetAttachment(rec, "text/csv; charset=utf-8", "20260301 0800-20260301 1300 temperatures.csv")

	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="20260301 0800-20260301 1300 temperatures.csv"` {
		t.Errorf("Content-Disposition = %s", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv; charset=utf-8" {
		t.Errorf("Content-Type = %s", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type body struct {
		Port string `json:"port"`
	}

	tests := []struct {
		name   string
		input  string
		wantOK bool
		want   string
	}{
		{"valid", `{"port":"COM3"}`, true, "COM3"},
		{"unknown field", `{"port":"COM3","baud":9600}`, false, ""},
		{"trailing data", `{"port":"COM3"}{"port":"COM4"}`, false, ""},
		{"not json", `port=COM3`, false, ""},
		{"empty", ``, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(tt.input))
			rec := httptest.NewRecorder()
			var got body
			ok := DecodeJSON(rec, req, &got)
			if ok != tt.wantOK {
				t.Fatalf("DecodeJSON() = %v, want %v (body %s)", ok, tt.wantOK, rec.Body.String())
			}
			if !ok && rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if ok && got.Port != tt.want {
				t.Errorf("port = %q, want %q", got.Port, tt.want)
			}
		})
	}
}
