package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomrelay/internal/server"
)

type HealthResponse struct {
	Status string `json:"status"`
}

func (s *RelayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *RelayApp) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// checkOrigin allows requests without an Origin header and requests from
// the configured origins.
func (s *RelayApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *RelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		s.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("error upgrading connection")
		return
	}

	client := server.NewClient(conn, s.cs, s.log, s.wsCfg)
	if err := s.cs.ServeClient(client); err != nil {
		s.log.Warn().Err(err).Msg("rejecting connection")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()))
		conn.Close()
	}
}
