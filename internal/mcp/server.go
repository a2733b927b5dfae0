// Package mcp assembles the MCP server: tool registration and the stdio
// runner. The same server construction backs stdio and HTTP sessions.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/user/axys-mcp/internal/axys"
)

// structuredSearchInput defines the parameters for the ai_search_structured tool.
type structuredSearchInput struct {
	Query string `json:"query" jsonschema:"The search query to run against structured data"`
}

// unstructuredSearchInput defines the parameters for the ai_search_unstructured tool.
type unstructuredSearchInput struct {
	Query         string  `json:"query" jsonschema:"The search query to run against unstructured content"`
	SearchIndices *string `json:"searchIndices,omitempty" jsonschema:"Comma-separated indices to restrict the search to"`
	FileOnly      *bool   `json:"fileOnly,omitempty" jsonschema:"When true only file results are returned"`
}

// validateConnectionInput is empty; the tool takes no parameters.
type validateConnectionInput struct{}

// empty output — we return everything via CallToolResult text content.
type emptyOutput struct{}

const notConfiguredMsg = "Axys client is not configured. Set AXYS_API_HOST and MCP_KEY."

// NewServer builds the MCP server with the Axys tool set registered.
// client may be nil when the process has no upstream configured; the tools
// then report the missing configuration in-band instead of failing the
// protocol session.
func NewServer(client *axys.Client, log *slog.Logger) *gomcp.Server {
	server := gomcp.NewServer(
		&gomcp.Implementation{
			Name:    "axys-mcp",
			Version: "v1.0.0",
		},
		nil,
	)

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "ai_search_structured",
		Description: "Search structured data in the connected Axys workspace. Returns the raw API response including any matching records.",
	}, newStructuredHandler(client, log))

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "ai_search_unstructured",
		Description: "Search unstructured content in the connected Axys workspace. Optionally restrict the search to specific indices or to file results only.",
	}, newUnstructuredHandler(client, log))

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "validate_connection",
		Description: "Check connectivity to the configured Axys API endpoint. Always returns a status message.",
	}, newValidateHandler(client, log))

	return server
}

// Serve runs the MCP server over stdio until the client disconnects or ctx
// is canceled.
func Serve(ctx context.Context, client *axys.Client, log *slog.Logger) error {
	return NewServer(client, log).Run(ctx, &gomcp.StdioTransport{})
}

func newStructuredHandler(client *axys.Client, log *slog.Logger) func(context.Context, *gomcp.CallToolRequest, structuredSearchInput) (*gomcp.CallToolResult, emptyOutput, error) {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, req *gomcp.CallToolRequest, input structuredSearchInput) (*gomcp.CallToolResult, emptyOutput, error) {
		return runSearch(ctx, client, log, "ai_search_structured", axys.SearchRequest{
			Query:      input.Query,
			SearchType: axys.SearchTypeStructured,
		})
	}
}

func newUnstructuredHandler(client *axys.Client, log *slog.Logger) func(context.Context, *gomcp.CallToolRequest, unstructuredSearchInput) (*gomcp.CallToolResult, emptyOutput, error) {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, req *gomcp.CallToolRequest, input unstructuredSearchInput) (*gomcp.CallToolResult, emptyOutput, error) {
		// Optional fields are forwarded only when the caller supplied them.
		return runSearch(ctx, client, log, "ai_search_unstructured", axys.SearchRequest{
			Query:         input.Query,
			SearchType:    axys.SearchTypeUnstructured,
			SearchIndices: input.SearchIndices,
			FileOnly:      input.FileOnly,
		})
	}
}

func newValidateHandler(client *axys.Client, log *slog.Logger) func(context.Context, *gomcp.CallToolRequest, validateConnectionInput) (*gomcp.CallToolResult, emptyOutput, error) {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, req *gomcp.CallToolRequest, input validateConnectionInput) (*gomcp.CallToolResult, emptyOutput, error) {
		// Diagnostics never fail the call; every outcome is a plain text
		// status message.
		if client == nil {
			return textResult(notConfiguredMsg), emptyOutput{}, nil
		}

		log.InfoContext(ctx, "tool call", "tool", "validate_connection", "host", client.Host())
		if err := client.Probe(ctx); err != nil {
			log.WarnContext(ctx, "connectivity probe failed", "host", client.Host(), "error", err)
			return textResult(fmt.Sprintf("Connection to Axys API failed: %v", err)), emptyOutput{}, nil
		}
		log.DebugContext(ctx, "connectivity probe ok", "host", client.Host())
		return textResult(fmt.Sprintf("Successfully connected to Axys API at %s", client.Host())), emptyOutput{}, nil
	}
}

// runSearch is the shared body of both search tools: validate, call the
// upstream, and render the envelope as indented JSON.
func runSearch(ctx context.Context, client *axys.Client, log *slog.Logger, tool string, req axys.SearchRequest) (*gomcp.CallToolResult, emptyOutput, error) {
	if client == nil {
		return errorResult(notConfiguredMsg), emptyOutput{}, nil
	}
	if strings.TrimSpace(req.Query) == "" {
		return errorResult("query must not be empty"), emptyOutput{}, nil
	}

	log.InfoContext(ctx, "tool call", "tool", tool, "query", req.Query)
	resp, err := client.Search(ctx, req)
	if err != nil {
		log.WarnContext(ctx, "tool call failed", "tool", tool, "error", err)
		return errorResult(err.Error()), emptyOutput{}, nil
	}

	body, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode response: %v", err)), emptyOutput{}, nil
	}
	log.DebugContext(ctx, "tool call complete", "tool", tool, "status", resp.Status)
	return textResult(string(body)), emptyOutput{}, nil
}

func textResult(text string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		IsError: true,
		Content: []gomcp.Content{&gomcp.TextContent{Text: text}},
	}
}
