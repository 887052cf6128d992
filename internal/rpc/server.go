package rpc

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/cors"
)

// maxBodyBytes caps a request body at 10 MiB.
const maxBodyBytes = 10 << 20

// Server is the JSON-RPC HTTP front end: POST-only dispatch into an API,
// CORS open to any origin.
type Server struct {
	api     *API
	handler http.Handler
}

// NewServer wraps api in the HTTP transport.
func NewServer(api *API) *Server {
	s := &Server{api: api}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	s.handler = cors.AllowAll().Handler(mux)
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HTTPServer builds a configured http.Server listening on addr. Shutdown
// is the caller's responsibility (the daemon calls Shutdown on signal).
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, nil, ErrCodeParse, "failed to read request body")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, ErrCodeParse, "invalid JSON")
		return
	}

	writeJSON(w, s.api.HandleRequest(&req))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	writeJSON(w, &Response{
		JSONRPC: "2.0",
		Error:   &RPCError{Code: code, Message: message},
		ID:      id,
	})
}
