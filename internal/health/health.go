// Package health tracks the process-wide broker connection state and
// serves the health endpoint the deployment probes.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// State is the process-wide health flag. The broker consumer flips it
// on channel or connection failure, the message processor on database
// outages; the HTTP endpoint reports it.
type State struct {
	brokerDisconnected  atomic.Bool
	databaseUnavailable atomic.Bool
}

// NewState starts healthy.
func NewState() *State {
	return &State{}
}

// SetBrokerDisconnected records the broker connection state.
func (s *State) SetBrokerDisconnected(disconnected bool) {
	s.brokerDisconnected.Store(disconnected)
}

// BrokerDisconnected reports whether the broker connection is down.
func (s *State) BrokerDisconnected() bool {
	return s.brokerDisconnected.Load()
}

// SetDatabaseUnavailable records the database connection state.
func (s *State) SetDatabaseUnavailable(unavailable bool) {
	s.databaseUnavailable.Store(unavailable)
}

// DatabaseUnavailable reports whether the database is unreachable.
func (s *State) DatabaseUnavailable() bool {
	return s.databaseUnavailable.Load()
}

// Healthy reports whether every tracked dependency is up.
func (s *State) Healthy() bool {
	return !s.BrokerDisconnected() && !s.DatabaseUnavailable()
}

type status struct {
	Status string `json:"status"`
}

// Handler builds the health HTTP handler: GET / reports OK or
// Unhealthy from the state flag, GET /metrics serves the Prometheus
// exposition.
func Handler(state *State, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := status{Status: "OK"}
		code := http.StatusOK
		if !state.Healthy() {
			body = status{Status: "Unhealthy"}
			code = http.StatusInternalServerError
		}
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logger.Warn("failed to write health response", zap.Error(err))
		}
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
