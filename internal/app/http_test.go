package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeHealth struct {
	registered, active int
}

func (f fakeHealth) RegisteredEndpoints() int { return f.registered }
func (f fakeHealth) ActiveSessions() int      { return f.active }

func TestRegisterHTTP_HealthReportsGauges(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHTTP(mux, fakeHealth{registered: 3, active: 1}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body healthBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.RegisteredEndpoints != 3 || body.ActiveSessions != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestRegisterHTTP_SkipsNilMetricsAndWS(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHTTP(mux, fakeHealth{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected /metrics unregistered, got status %d", rr.Code)
	}
}
