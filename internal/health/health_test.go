package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func getStatus(t *testing.T, handler http.Handler) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	return rec.Code, body.Status
}

func TestHealthyByDefault(t *testing.T) {
	state := NewState()
	code, status := getStatus(t, Handler(state, zap.NewNop()))
	if code != http.StatusOK || status != "OK" {
		t.Errorf("got %d %q, want 200 OK", code, status)
	}
}

func TestUnhealthyWhenBrokerDisconnected(t *testing.T) {
	state := NewState()
	state.SetBrokerDisconnected(true)
	handler := Handler(state, zap.NewNop())

	code, status := getStatus(t, handler)
	if code != http.StatusInternalServerError || status != "Unhealthy" {
		t.Errorf("got %d %q, want 500 Unhealthy", code, status)
	}

	// Reconnecting clears the flag.
	state.SetBrokerDisconnected(false)
	code, status = getStatus(t, handler)
	if code != http.StatusOK || status != "OK" {
		t.Errorf("after reconnect got %d %q, want 200 OK", code, status)
	}
}

func TestMetricsEndpointServed(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(NewState(), zap.NewNop()).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("metrics endpoint returned %d", rec.Code)
	}
}
