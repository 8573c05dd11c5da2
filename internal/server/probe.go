// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"

	"github.com/ea2p/powermeter/internal/monitor"
	"github.com/ea2p/powermeter/internal/service"
)

type probe struct {
	api      APIService
	sessions monitor.SessionProvider
}

var (
	_ service.Service     = (*probe)(nil)
	_ service.Initializer = (*probe)(nil)
)

// sessionStatus is the readiness payload
type sessionStatus struct {
	Status       string            `json:"status"`
	Session      string            `json:"session"`
	Ticks        int64             `json:"ticks"`
	SampleErrors map[string]uint64 `json:"sampleErrors,omitempty"`
	LastElapsed  float64           `json:"lastElapsedSeconds,omitempty"`
}

// NewProbe creates a new probe service that provides health check endpoints
func NewProbe(api APIService, sessions monitor.SessionProvider) *probe {
	return &probe{
		api:      api,
		sessions: sessions,
	}
}

func (p *probe) Name() string {
	return "probe"
}

func (p *probe) Init() error {
	return p.api.Register("/probe/", "probe", "Health check endpoints", p.handlers())
}

func (p *probe) handlers() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/probe/readyz", p.readyzHandler)
	mux.HandleFunc("/probe/livez", p.livezHandler)
	return mux
}

// readyzHandler reports the state of the measurement session
func (p *probe) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := sessionStatus{
		Status:       "ok",
		Session:      "idle",
		Ticks:        p.sessions.Ticks(),
		SampleErrors: p.sessions.SampleErrors(),
	}
	if p.sessions.Active() {
		status.Session = "active"
	}
	if rec := p.sessions.LastRecord(); rec != nil {
		status.LastElapsed = rec.ElapsedSeconds
	}
	respond(w, http.StatusOK, status)
}

func (p *probe) livezHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "alive"})
}

func respond(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
