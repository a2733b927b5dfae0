package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/user/axys-mcp/internal/axys"
	"github.com/user/axys-mcp/internal/cache"
	"github.com/user/axys-mcp/internal/config"
	"github.com/user/axys-mcp/internal/mcp"
)

const sessionHeader = "Mcp-Session-Id"

// JSON-RPC error codes used for requests rejected before reaching a session.
const (
	codeBadRequest = -32000
	codeInternal   = -32603
)

const noSessionMsg = "Bad Request: No valid session ID provided"

// rpcError is the JSON-RPC envelope for rejected POST requests.
type rpcError struct {
	JSONRPC string    `json:"jsonrpc"`
	Error   rpcDetail `json:"error"`
	ID      any       `json:"id"`
}

type rpcDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeRPCError(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, rpcError{
		JSONRPC: "2.0",
		Error:   rpcDetail{Code: code, Message: message},
	})
}

// ConfigResolver maps the query parameters of an incoming initialize
// request to the upstream client the new session should use. A nil client
// with a nil error produces a session without upstream configuration.
type ConfigResolver func(q url.Values) (*axys.Client, error)

// FixedResolver always resolves to the given client.
func FixedResolver(c *axys.Client) ConfigResolver {
	return func(url.Values) (*axys.Client, error) { return c, nil }
}

// NewQueryResolver builds the production resolver: connection settings
// supplied as query parameters override the process-wide default client.
// Clients are memoized per host and key pair so concurrent sessions of one
// tenant share a rate limiter and the response cache.
func NewQueryResolver(def *axys.Client, respCache *cache.Cache, log *slog.Logger) ConfigResolver {
	var (
		mu      sync.Mutex
		clients = make(map[config.Tenant]*axys.Client)
	)
	return func(q url.Values) (*axys.Client, error) {
		tenant, ok, err := config.TenantFromQuery(q)
		if err != nil {
			return nil, err
		}
		if !ok {
			return def, nil
		}

		mu.Lock()
		defer mu.Unlock()
		if c, ok := clients[tenant]; ok {
			return c, nil
		}
		c, err := axys.New(axys.Config{Host: tenant.Host, Key: tenant.Key}, respCache, log)
		if err != nil {
			return nil, err
		}
		clients[tenant] = c
		return c, nil
	}
}

// session is one live HTTP-bound MCP session.
type session struct {
	id        string
	transport *gomcp.StreamableServerTransport
	conn      *gomcp.ServerSession

	mu       sync.Mutex
	lastSeen time.Time
	streams  int
	closed   bool
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// close shuts the underlying connection down exactly once.
func (s *session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *Server) lookup(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// closeSession removes sess from the table and closes it.
func (s *Server) closeSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	if err := sess.close(); err != nil {
		s.log.Warn("session close failed", "session_id", sess.id, "error", err)
	}
}

// closeAll tears down every live session. Used on shutdown.
func (s *Server) closeAll() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.close(); err != nil {
			s.log.Warn("session close failed", "session_id", sess.id, "error", err)
		}
	}
}

// mcpHandler fans /mcp requests out by verb: POST drives the protocol, GET
// attaches the event stream, DELETE ends the session.
func (s *Server) mcpHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleGet(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	// 1. Requests carrying a known session ID go straight to its transport.
	if id := r.Header.Get(sessionHeader); id != "" {
		sess, ok := s.lookup(id)
		if !ok {
			writeRPCError(w, http.StatusBadRequest, codeBadRequest, noSessionMsg)
			return
		}
		sess.touch()
		s.log.Debug("routing to session", "session_id", id)
		sess.transport.ServeHTTP(w, r)
		return
	}

	// 2. Without a session ID only an initialize request may proceed. The
	// body is restored so the transport can read it again.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPCError(w, http.StatusInternalServerError, codeInternal, "Internal server error")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if !isInitialize(body) {
		writeRPCError(w, http.StatusBadRequest, codeBadRequest, noSessionMsg)
		return
	}

	// 3. Resolve the upstream configuration for the new session.
	client, err := s.resolve(r.URL.Query())
	if err != nil {
		s.log.Error("session config rejected", "error", err)
		writeRPCError(w, http.StatusInternalServerError, codeInternal, "Internal server error")
		return
	}

	// 4. Connect a fresh server over a fresh transport and let it answer
	// the initialize request.
	id := uuid.New().String()
	transport := &gomcp.StreamableServerTransport{SessionID: id}
	conn, err := mcp.NewServer(client, s.log).Connect(r.Context(), transport, nil)
	if err != nil {
		s.log.Error("session connect failed", "error", err)
		writeRPCError(w, http.StatusInternalServerError, codeInternal, "Internal server error")
		return
	}

	transport.ServeHTTP(w, r)

	// 5. Commit the session only after a completed initialize handshake;
	// anything else is torn down again.
	if conn.InitializeParams() == nil {
		_ = conn.Close()
		return
	}

	sess := &session{id: id, transport: transport, conn: conn, lastSeen: time.Now()}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	s.log.Info("session created", "session_id", id)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r.Header.Get(sessionHeader))
	if !ok {
		http.Error(w, noSessionMsg, http.StatusBadRequest)
		return
	}

	// A hanging stream keeps the session out of idle reaping until it ends.
	sess.mu.Lock()
	sess.streams++
	sess.mu.Unlock()
	s.log.Debug("event stream opened", "session_id", sess.id)
	defer func() {
		sess.mu.Lock()
		sess.streams--
		sess.lastSeen = time.Now()
		sess.mu.Unlock()
	}()

	sess.transport.ServeHTTP(w, r)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r.Header.Get(sessionHeader))
	if !ok {
		http.Error(w, noSessionMsg, http.StatusBadRequest)
		return
	}

	s.closeSession(sess)
	s.log.Info("session deleted", "session_id", sess.id)
	w.WriteHeader(http.StatusNoContent)
}

// isInitialize reports whether the raw body is an initialize request,
// either a single message or anywhere in a batch.
func isInitialize(body []byte) bool {
	var single struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(body, &single); err == nil && single.Method == "initialize" {
		return true
	}

	var batch []struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(body, &batch); err == nil {
		for _, msg := range batch {
			if msg.Method == "initialize" {
				return true
			}
		}
	}
	return false
}

// reapIdle closes sessions with no traffic since cutoff. Sessions with an
// open stream are left alone.
func (s *Server) reapIdle(cutoff time.Time) {
	s.mu.Lock()
	var idle []*session
	for id, sess := range s.sessions {
		sess.mu.Lock()
		expired := sess.streams == 0 && sess.lastSeen.Before(cutoff)
		sess.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			idle = append(idle, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range idle {
		s.log.Info("session expired", "session_id", sess.id)
		if err := sess.close(); err != nil {
			s.log.Warn("session close failed", "session_id", sess.id, "error", err)
		}
	}
}

// ReapIdleNow runs one idle sweep with the configured timeout.
// Intended for testing only.
func (s *Server) ReapIdleNow() {
	s.reapIdle(time.Now().Add(-s.timeout))
}

func (s *Server) reapIdleSessions() {
	tick := s.timeout / 4
	if tick < time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.reapIdle(time.Now().Add(-s.timeout))
		}
	}
}
