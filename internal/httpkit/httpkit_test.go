package httpkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORS(t *testing.T) {
	h := CORS(CORSOptions{AllowedOrigins: []string{" http://localhost:5173 ", ""}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/batches", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
			t.Errorf("expected origin echoed, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
		}
		if rec.Header().Get("Access-Control-Max-Age") != "600" {
			t.Errorf("unexpected max age %q", rec.Header().Get("Access-Control-Max-Age"))
		}
		if !strings.Contains(rec.Header().Get("Access-Control-Expose-Headers"), "Retry-After") {
			t.Error("expected Retry-After to be exposed")
		}
		if rec.Code != http.StatusTeapot {
			t.Errorf("expected handler to run, got %d", rec.Code)
		}
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/batches", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("expected no CORS headers")
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/v1/batches", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}
	})
}

func TestWriteErr(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErr(rec, http.StatusBadRequest, "VALIDATION_ERROR", "variant_count must be >= 1", map[string]any{"field": "variant_count"})

	var env ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusBadRequest || env.Error.Code != "VALIDATION_ERROR" || env.Error.Details["field"] != "variant_count" {
		t.Errorf("unexpected response %d %+v", rec.Code, env)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"paths":["a"],"bogus":true}`))
	var v struct {
		Paths []string `json:"paths"`
	}
	if err := DecodeJSON(req, &v); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestWriteCSV(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteCSV(rec, "variant-1.csv", []byte("text,media_url\n"))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "variant-1.csv") {
		t.Errorf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}
	if rec.Body.String() != "text,media_url\n" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}
