package liveevents

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/upmpd-go/upmpd-go/internal/api"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // developer tooling on the local network
	},
}

// RegisterRoutes wires the live-event feed to the router.
func RegisterRoutes(router chi.Router, hub *Hub) {
	router.HandleFunc("/debug/events", websocketHandler(hub))
	router.Method(http.MethodGet, "/debug/events/status", api.Handler(statusHandler(hub)))
}

func websocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade failed - error already written to response
			return
		}
		hub.Attach(conn)
	}
}

func statusHandler(hub *Hub) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"subscribers": hub.ClientCount(),
		})
	}
}
