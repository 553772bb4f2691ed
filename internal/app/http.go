package app

import (
	"encoding/json"
	"net/http"
)

// HealthSource reports the gauges the /health endpoint exposes as plain
// JSON, spec.md §6.
type HealthSource interface {
	RegisteredEndpoints() int
	ActiveSessions() int
}

type healthBody struct {
	Status              string `json:"status"`
	RegisteredEndpoints int    `json:"registeredEndpoints"`
	ActiveSessions      int    `json:"activeSessions"`
}

// RegisterHTTP wires /health, /metrics, and the websocket upgrade path
// onto mux.
func RegisterHTTP(mux *http.ServeMux, health HealthSource, metricsHandler http.Handler, wsHandler http.HandlerFunc) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthBody{
			Status:              "ok",
			RegisteredEndpoints: health.RegisteredEndpoints(),
			ActiveSessions:      health.ActiveSessions(),
		})
	})

	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	if wsHandler != nil {
		// Path mandated by spec §6 ("A full-duplex text channel reached
		// at path /3gpp-swap/v1").
		mux.HandleFunc("/3gpp-swap/v1", wsHandler)
	}
}
