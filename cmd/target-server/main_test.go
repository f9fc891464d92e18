package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEcho(t *testing.T) {
	router := newRouter()

	req := httptest.NewRequest(http.MethodPost, "/echo?x=1", bytes.NewBufferString(`{"a":1}`))
	req.Header.Set("X-Test", "yes")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp echoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Method != http.MethodPost || resp.Body != `{"a":1}` {
		t.Errorf("Unexpected echo: %+v", resp)
	}
	if resp.Query["x"][0] != "1" || resp.Headers["X-Test"][0] != "yes" {
		t.Errorf("Expected query and headers echoed, got %+v", resp)
	}
}

func TestDelay(t *testing.T) {
	router := newRouter()

	start := time.Now()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/delay/50", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Expected at least 50ms delay, got %v", elapsed)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/delay/999999", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for excessive delay, got %d", w.Code)
	}
}

func TestStatus(t *testing.T) {
	router := newRouter()

	tests := []struct {
		path string
		code int
	}{
		{"/status/503", http.StatusServiceUnavailable},
		{"/status/204", http.StatusNoContent},
		{"/status/999", http.StatusBadRequest},
		{"/status/abc", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.code, w.Code)
		}
	}
}
