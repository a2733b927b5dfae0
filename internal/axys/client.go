// Package axys implements the client for the Axys AI search API: request
// shaping, authentication, error normalization and an optional response
// cache.
package axys

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/user/axys-mcp/internal/cache"
)

// DefaultHost is used when no upstream host is configured.
const DefaultHost = "https://api.axys.ai"

const (
	searchPath    = "/api/v1/search"
	searchTimeout = 5 * time.Minute
	probeTimeout  = 10 * time.Second
)

// Search modes accepted by the upstream API.
const (
	SearchTypeStructured   = "structured"
	SearchTypeUnstructured = "unstructured"
)

// Upstream rate limit, per process.
const (
	defLimit = 2 // requests per second
	defBurst = 5
)

// Package-level HTTP client for testability. Tests can override it.
// The generous timeout tolerates slow AI-backed searches.
var httpClient = &http.Client{Timeout: searchTimeout}

// OverrideHTTPClient replaces the HTTP client used by the axys package
// and returns a function to restore the original.
// Intended for testing only.
func OverrideHTTPClient(c *http.Client) (restore func()) {
	orig := httpClient
	httpClient = c
	return func() { httpClient = orig }
}

// Config holds the connection settings for one upstream tenant.
type Config struct {
	Host string // base URL, DefaultHost when empty
	Key  string // access key, required
}

// Client talks to one Axys deployment with one access key.
type Client struct {
	host  string
	key   string
	lim   *rate.Limiter
	cache *cache.Cache
	log   *slog.Logger
}

// New validates cfg and builds a Client. An empty host falls back to
// DefaultHost; a malformed host is rejected rather than silently replaced.
// respCache may be nil to disable response caching.
func New(cfg Config, respCache *cache.Cache, log *slog.Logger) (*Client, error) {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	u, err := url.Parse(host)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("axys: invalid host %q: must be an http(s) URL", cfg.Host)
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("axys: access key is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		host:  strings.TrimRight(host, "/"),
		key:   cfg.Key,
		lim:   rate.NewLimiter(defLimit, defBurst),
		cache: respCache,
		log:   log,
	}, nil
}

// Host returns the upstream base URL the client talks to.
func (c *Client) Host() string { return c.host }

// SearchRequest is the JSON body of an upstream search call. The optional
// fields are pointers so that an explicitly supplied false is forwarded
// while an omitted field stays off the wire.
type SearchRequest struct {
	Query         string  `json:"query"`
	SearchType    string  `json:"searchType"`
	SearchIndices *string `json:"searchIndices,omitempty"`
	FileOnly      *bool   `json:"fileOnly,omitempty"`
}

// SearchResponse is the upstream response envelope. Obj carries the result
// payload verbatim; its shape depends on the indices searched.
type SearchResponse struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Obj     json.RawMessage `json:"obj,omitempty"`
}

// Search executes one search call: hash → cache check → upstream call →
// cache store.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	hash := requestHash(c.host, c.key, req)

	// 1. Cache check.
	if c.cache != nil {
		body, hit, err := c.cache.Get(hash)
		if err != nil {
			return nil, fmt.Errorf("cache get: %w", err)
		}
		if hit {
			var resp SearchResponse
			if err := json.Unmarshal([]byte(body), &resp); err == nil {
				c.log.DebugContext(ctx, "axys cache hit", "query", req.Query)
				return &resp, nil
			}
			// An undecodable entry is treated as a miss.
		}
	}

	// 2. Upstream call.
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	// 3. Cache store, best effort. A failed write must not fail the search.
	if c.cache != nil {
		if body, err := json.Marshal(resp); err == nil {
			if err := c.cache.Set(hash, string(body)); err != nil {
				c.log.WarnContext(ctx, "axys cache store failed", "error", err)
			}
		}
	}

	return resp, nil
}

// Probe performs a lightweight connectivity check against the upstream: a
// minimal structured search with a short timeout, bypassing the cache.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err := c.do(ctx, SearchRequest{Query: "ping", SearchType: SearchTypeStructured})
	return err
}

// do performs the HTTP exchange and normalizes every failure into one of
// three shapes: the request could not be constructed, no response was
// received, or the server responded with an error carrying the API's own
// message and status.
func (c *Client) do(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if err := c.lim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+searchPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.key)

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("no response from %s: %w", c.host, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp SearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
			return nil, apiError(http.StatusText(httpResp.StatusCode), httpResp.StatusCode)
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// The envelope carries its own status; a response-shaped error object
	// is surfaced the same way as a non-2xx HTTP status.
	status := resp.Status
	if status == 0 {
		status = httpResp.StatusCode
	}
	if status < 200 || status >= 300 {
		msg := resp.Message
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return nil, apiError(msg, status)
	}

	return &resp, nil
}

// apiError renders the user-visible upstream error, e.g.
// "Axys Error: index not found (Status: 404)".
func apiError(message string, status int) error {
	return fmt.Errorf("Axys Error: %s (Status: %d)", message, status)
}

// requestHash produces a deterministic SHA-256 hex key for one search
// request against one tenant. Optional fields are folded in with presence
// markers so an explicit false hashes differently from an omitted field.
func requestHash(host, key string, req SearchRequest) string {
	indices := "-"
	if req.SearchIndices != nil {
		indices = "i:" + *req.SearchIndices
	}
	fileOnly := "-"
	if req.FileOnly != nil {
		fileOnly = "f:" + strconv.FormatBool(*req.FileOnly)
	}

	normalized := strings.Join([]string{
		host,
		key,
		req.SearchType,
		strings.TrimSpace(strings.ToLower(req.Query)),
		indices,
		fileOnly,
	}, "\x00")
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}
