package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const readyTimeout = 2 * time.Second

// handleChat upgrades GET /ws/chat/{room}/ to a WebSocket and runs a Session
// on it. The credential is taken from the token query parameter.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	room, err := chat.ParseRoom(r.PathValue("room"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	sess := newSession(s, conn, room, r.RemoteAddr)
	if !s.track(sess) {
		sess.closeConn()
		return
	}
	defer s.untrack(sess)

	sess.Run(r.URL.Query().Get("token"))
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth reports that the process is serving.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// handleReady runs every configured check and answers 503 if any fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	resp := statusResponse{Status: "ok", Checks: make(map[string]string, len(s.deps.Checks))}
	code := http.StatusOK

	for _, c := range s.deps.Checks {
		if err := c.Check(ctx); err != nil {
			resp.Checks[c.Name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}

	if code != http.StatusOK {
		s.log.Warn().Interface("checks", resp.Checks).Msg("readiness check failed")
	}
	writeJSON(w, code, resp)
}
