package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthHandlerHandle(t *testing.T) {
	handler := HealthHandler{Backend: "memory", Started: time.Now().Add(-time.Minute)}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.Handle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected json content type got %s", got)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["backend"] != "memory" || body["uptime"] == "" {
		t.Fatalf("unexpected health payload %v", body)
	}
}

func TestHealthHandlerOmitsUnsetFields(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler{}.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 1 || body["status"] != "ok" {
		t.Fatalf("expected bare status payload, got %v", body)
	}
}
