package server

import "net/http"

// Routes returns a ServeMux with the chat endpoint and the health probes.
// The chat path is accepted with or without its trailing slash.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat/{room}/{$}", s.handleChat)
	mux.HandleFunc("/ws/chat/{room}", s.handleChat)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	return mux
}
