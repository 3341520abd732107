package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/itohio/garden/pkg/bridge"
	"github.com/itohio/garden/pkg/fusion"
	"github.com/itohio/garden/pkg/panel"
	"github.com/itohio/garden/pkg/protocol"
	"github.com/itohio/garden/pkg/station"
	"github.com/itohio/garden/pkg/watch"
)

// statusResponse is the body of GET /api/status.
type statusResponse struct {
	Status       *protocol.DeviceStatus `json:"status,omitempty"`
	Desired      protocol.StatusFlags   `json:"desired"`
	ResetPending bool                   `json:"reset_pending"`
	Estimates    fusion.Estimates       `json:"estimates"`
	Signal       *bridge.Signal         `json:"signal,omitempty"`
}

type server struct {
	desired  *station.Desired
	status   *watch.Cell[protocol.DeviceStatus]
	exporter *fusion.Exporter
	// signal and connected are nil when there is no bridge.
	signal    func() bridge.Signal
	connected func() bool
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ws", panel.NewHandler(s.desired, s.status))
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if s.connected != nil && !s.connected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("bridge disconnected\n"))
		return
	}
	w.Write([]byte("ok\n"))
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Desired:      s.desired.Flags(),
		ResetPending: s.desired.ResetWanted(),
		Estimates:    s.exporter.Estimates(),
	}
	if st, ok := s.status.Load(); ok {
		resp.Status = &st
	}
	if s.signal != nil {
		sig := s.signal()
		if !sig.At.IsZero() {
			resp.Signal = &sig
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Failed to write status response: %v", err)
	}
}
