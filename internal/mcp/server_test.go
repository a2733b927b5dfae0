package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/user/axys-mcp/internal/axys"
)

// fakeUpstream returns a fake Axys endpoint plus a call counter and the
// last decoded request body.
func fakeUpstream(t *testing.T, status int, envelope string) (*httptest.Server, *atomic.Int64, *map[string]any) {
	t.Helper()
	var calls atomic.Int64
	lastBody := &map[string]any{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		body := map[string]any{}
		_ = json.Unmarshal(raw, &body)
		*lastBody = body
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(envelope))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, lastBody
}

func upstreamClient(t *testing.T, srv *httptest.Server) *axys.Client {
	t.Helper()
	restore := axys.OverrideHTTPClient(srv.Client())
	t.Cleanup(restore)

	c, err := axys.New(axys.Config{Host: srv.URL, Key: "test-key"}, nil, nil)
	if err != nil {
		t.Fatalf("axys.New() error: %v", err)
	}
	return c
}

func resultText(t *testing.T, res *gomcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content blocks = %d, want 1", len(res.Content))
	}
	tc, ok := res.Content[0].(*gomcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want *gomcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestStructuredSearch(t *testing.T) {
	srv, _, body := fakeUpstream(t, http.StatusOK,
		`{"status":200,"message":"Success","obj":{"rows":[{"id":7}]}}`)
	handler := newStructuredHandler(upstreamClient(t, srv), nil)

	res, _, err := handler(context.Background(), nil, structuredSearchInput{Query: "open invoices"})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}

	if (*body)["searchType"] != "structured" {
		t.Errorf("searchType = %v, want structured", (*body)["searchType"])
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"message": "Success"`) || !strings.Contains(text, `"id": 7`) {
		t.Errorf("result text missing envelope fields:\n%s", text)
	}
}

func TestStructuredSearchBlankQuery(t *testing.T) {
	srv, calls, _ := fakeUpstream(t, http.StatusOK, `{"status":200,"message":"Success"}`)
	handler := newStructuredHandler(upstreamClient(t, srv), nil)

	res, _, err := handler(context.Background(), nil, structuredSearchInput{Query: "   "})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected error result for blank query")
	}
	if got := resultText(t, res); got != "query must not be empty" {
		t.Errorf("result text = %q", got)
	}
	if calls.Load() != 0 {
		t.Error("blank query should not reach the upstream")
	}
}

func TestSearchWithoutClient(t *testing.T) {
	handler := newStructuredHandler(nil, nil)

	res, _, err := handler(context.Background(), nil, structuredSearchInput{Query: "q"})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected error result without a configured client")
	}
	if got := resultText(t, res); got != notConfiguredMsg {
		t.Errorf("result text = %q, want %q", got, notConfiguredMsg)
	}
}

func TestUnstructuredSearchOptionalFields(t *testing.T) {
	srv, _, body := fakeUpstream(t, http.StatusOK, `{"status":200,"message":"Success"}`)
	handler := newUnstructuredHandler(upstreamClient(t, srv), nil)

	// Omitted optionals stay off the wire.
	if _, _, err := handler(context.Background(), nil, unstructuredSearchInput{Query: "contracts"}); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if (*body)["searchType"] != "unstructured" {
		t.Errorf("searchType = %v, want unstructured", (*body)["searchType"])
	}
	if _, ok := (*body)["searchIndices"]; ok {
		t.Error("searchIndices forwarded despite not being supplied")
	}
	if _, ok := (*body)["fileOnly"]; ok {
		t.Error("fileOnly forwarded despite not being supplied")
	}

	// Supplied optionals are forwarded, including an explicit false.
	indices := "hr-docs"
	fileOnly := false
	if _, _, err := handler(context.Background(), nil, unstructuredSearchInput{
		Query:         "contracts",
		SearchIndices: &indices,
		FileOnly:      &fileOnly,
	}); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if (*body)["searchIndices"] != "hr-docs" {
		t.Errorf("searchIndices = %v, want hr-docs", (*body)["searchIndices"])
	}
	if v, ok := (*body)["fileOnly"]; !ok || v != false {
		t.Errorf("fileOnly = %v (present=%v), want explicit false", v, ok)
	}
}

func TestSearchUpstreamErrorSurfaced(t *testing.T) {
	srv, _, _ := fakeUpstream(t, http.StatusBadRequest, `{"status":400,"message":"query too long"}`)
	handler := newUnstructuredHandler(upstreamClient(t, srv), nil)

	res, _, err := handler(context.Background(), nil, unstructuredSearchInput{Query: "q"})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected error result for upstream failure")
	}
	want := "Axys Error: query too long (Status: 400)"
	if got := resultText(t, res); got != want {
		t.Errorf("result text = %q, want %q", got, want)
	}
}

func TestValidateConnection(t *testing.T) {
	srv, _, _ := fakeUpstream(t, http.StatusOK, `{"status":200,"message":"Success"}`)
	client := upstreamClient(t, srv)
	handler := newValidateHandler(client, nil)

	res, _, err := handler(context.Background(), nil, validateConnectionInput{})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatal("validate_connection must not produce error results")
	}
	if got := resultText(t, res); !strings.Contains(got, "Successfully connected to Axys API at") {
		t.Errorf("result text = %q", got)
	}

	// A failing upstream is still reported as a plain status message.
	srv.Close()
	res, _, err = handler(context.Background(), nil, validateConnectionInput{})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatal("validate_connection must not produce error results on failure")
	}
	if got := resultText(t, res); !strings.HasPrefix(got, "Connection to Axys API failed:") {
		t.Errorf("result text = %q", got)
	}
}

func TestValidateConnectionWithoutClient(t *testing.T) {
	handler := newValidateHandler(nil, nil)

	res, _, err := handler(context.Background(), nil, validateConnectionInput{})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatal("validate_connection must not produce error results")
	}
	if got := resultText(t, res); got != notConfiguredMsg {
		t.Errorf("result text = %q, want %q", got, notConfiguredMsg)
	}
}
