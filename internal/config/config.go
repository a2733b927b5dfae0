package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rusq/osenv/v2"
)

// Env is the startup configuration, read once from the process environment.
type Env struct {
	Host           string        // AXYS_API_HOST, upstream base URL
	Key            string        // MCP_KEY, upstream access key
	Port           int           // PORT, HTTP bind port
	Transport      string        // MCP_TRANSPORT, "stdio" forces the stdio binding
	CachePath      string        // AXYS_CACHE_PATH, response cache location ("" disables)
	SessionTimeout time.Duration // MCP_SESSION_TIMEOUT, idle session reaping (0 disables)
}

// FromEnv reads the process environment into an Env snapshot.
func FromEnv() (Env, error) {
	e := Env{
		Host:      osenv.Value("AXYS_API_HOST", ""),
		Key:       osenv.Secret("MCP_KEY", ""),
		Port:      osenv.Value("PORT", 8000),
		Transport: osenv.Value("MCP_TRANSPORT", ""),
		CachePath: osenv.Value("AXYS_CACHE_PATH", ""),
	}

	if raw := osenv.Value("MCP_SESSION_TIMEOUT", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Env{}, fmt.Errorf("config: parse MCP_SESSION_TIMEOUT: %w", err)
		}
		if d < 0 {
			return Env{}, fmt.Errorf("config: MCP_SESSION_TIMEOUT must not be negative")
		}
		e.SessionTimeout = d
	}

	return e, nil
}

// Stdio reports whether the stdio binding was requested.
func (e Env) Stdio() bool { return e.Transport == "stdio" }

// Tenant is a per-request upstream configuration carried on the query
// string of an initializing request.
type Tenant struct {
	Host string `json:"AXYS_API_HOST"`
	Key  string `json:"MCP_KEY"`
}

// TenantFromQuery extracts tenant configuration from request query
// parameters. Direct AXYS_API_HOST / MCP_KEY parameters are checked first,
// then a single "config" parameter holding a JSON object with the same
// fields. ok is false when the request carries no tenant configuration.
func TenantFromQuery(q url.Values) (t Tenant, ok bool, err error) {
	if q.Has("AXYS_API_HOST") || q.Has("MCP_KEY") {
		return Tenant{
			Host: q.Get("AXYS_API_HOST"),
			Key:  q.Get("MCP_KEY"),
		}, true, nil
	}

	if raw := q.Get("config"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return Tenant{}, false, fmt.Errorf("config: parse config parameter: %w", err)
		}
		return t, true, nil
	}

	return Tenant{}, false, nil
}
