package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/warpmeet/internal/relay"
)

// Configure the websocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Meeting clients are terminals and browsers on arbitrary origins.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs returns an http.HandlerFunc that upgrades the request and serves the
// connection against the registry until it closes.
func ServeWs(registry *relay.Registry, opts relay.ConnOptions, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Failed to upgrade connection", "err", err)
			return
		}

		conn := relay.NewConn(registry, ws, opts, logger)
		go conn.Serve()
	}
}

type healthResponse struct {
	Status       string `json:"status"`
	Rooms        int    `json:"rooms"`
	Participants int    `json:"participants"`
}

// Health reports liveness together with the current registry size.
func Health(registry *relay.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(healthResponse{
			Status:       "ok",
			Rooms:        registry.Rooms(),
			Participants: registry.Size(),
		})
	}
}

// NewMux wires the relay endpoints.
func NewMux(registry *relay.Registry, opts relay.ConnOptions, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", Health(registry))
	mux.HandleFunc("/ws", ServeWs(registry, opts, logger))
	return mux
}
