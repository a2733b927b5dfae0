// Package api hosts the HTTP binding: the /mcp session endpoint plus the
// health and client-configuration routes.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Options configures the HTTP server.
type Options struct {
	Addr           string
	Log            *slog.Logger
	Resolve        ConfigResolver // maps initialize query params to an upstream client
	SessionTimeout time.Duration  // idle session reaping, 0 disables
}

// Server hosts MCP sessions over HTTP.
type Server struct {
	addr    string
	log     *slog.Logger
	resolve ConfigResolver
	timeout time.Duration

	httpSrv *http.Server

	mu       sync.RWMutex
	sessions map[string]*session

	done      chan struct{}
	closeOnce sync.Once
}

// New builds the server and its routes.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	resolve := opts.Resolve
	if resolve == nil {
		resolve = FixedResolver(nil)
	}

	s := &Server{
		addr:     opts.Addr,
		log:      log,
		resolve:  resolve,
		timeout:  opts.SessionTimeout,
		sessions: make(map[string]*session),
		done:     make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.mcpHandler)
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/.well-known/mcp-config", configSchemaHandler)
	s.httpSrv = &http.Server{Addr: opts.Addr, Handler: mux}

	return s
}

// Handler exposes the route table. Intended for testing only.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe blocks serving HTTP until the server shuts down.
func (s *Server) ListenAndServe() error {
	if s.timeout > 0 {
		go s.reapIdleSessions()
	}
	s.log.Info("HTTP server listening", "addr", s.addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown closes every live session and then stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	s.closeAll()
	return s.httpSrv.Shutdown(ctx)
}

type apiResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiResponse{Status: "ok"})
}

// configSchemaHandler serves the connection schema consumed by MCP client
// installers.
func configSchemaHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"AXYS_API_HOST": map[string]any{
				"type":        "string",
				"description": "Base URL of the Axys API deployment",
			},
			"MCP_KEY": map[string]any{
				"type":        "string",
				"description": "Access key used to authenticate against the Axys API",
			},
		},
		"required": []string{"AXYS_API_HOST", "MCP_KEY"},
	})
}
