package mcpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/evanschultz/trackflow/internal/adapters/server/common"
	"github.com/evanschultz/trackflow/internal/adapters/storage/sqlite"
	"github.com/evanschultz/trackflow/internal/app"
)

// jsonRPCResponse models minimal JSON-RPC response fields used in MCP adapter tests.
type jsonRPCResponse struct {
	ID     float64        `json:"id"`
	Result map[string]any `json:"result"`
}

// newTestServer starts one MCP handler over an in-memory store.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	seq := 0
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := app.NewService(store.Stores(nil), func() string {
		seq++
		return "id-" + strconv.Itoa(seq)
	}, func() time.Time { return now }, app.ServiceConfig{Logger: log.New(io.Discard)})

	handler, err := NewHandler(Config{}, common.NewAppServiceAdapter(svc))
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	_, _ = postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	return server
}

// callToolRequest constructs one deterministic tools/call JSON-RPC request payload.
func callToolRequest(id int, toolName string, arguments map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	}
}

// toolResultText decodes the first text entry from one tool-call result payload.
func toolResultText(t *testing.T, result map[string]any) string {
	t.Helper()

	contentRaw, ok := result["content"].([]any)
	if !ok || len(contentRaw) == 0 {
		t.Fatalf("content missing in tool result: %#v", result)
	}
	first, ok := contentRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("first content entry has unexpected type: %#v", contentRaw[0])
	}
	text, ok := first["text"].(string)
	if !ok {
		t.Fatalf("content text missing in tool result: %#v", first)
	}
	return text
}

// toolResultInto decodes structuredContent into one typed value.
func toolResultInto[T any](t *testing.T, result map[string]any) T {
	t.Helper()
	structured, ok := result["structuredContent"]
	if !ok {
		t.Fatalf("structuredContent missing in tool result: %#v", result)
	}
	raw, err := json.Marshal(structured)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return out
}

// postJSONRPC sends one JSON-RPC payload and decodes the response body.
func postJSONRPC(t *testing.T, client *http.Client, url string, payload any) (*http.Response, jsonRPCResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	var decoded jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return resp, decoded
}

// initializeRequest builds a deterministic MCP initialize request payload.
func initializeRequest() map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"clientInfo": map[string]any{
				"name":    "trackflow-test",
				"version": "1.0.0",
			},
		},
	}
}

// callTool posts one tools/call request and returns its result payload.
func callTool(t *testing.T, server *httptest.Server, name string, args map[string]any) map[string]any {
	t.Helper()
	_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(2, name, args))
	if resp.Result == nil {
		t.Fatalf("tools/call %s returned no result", name)
	}
	return resp.Result
}

// isToolError reports whether a tool-call result is flagged as an error.
func isToolError(result map[string]any) bool {
	isError, _ := result["isError"].(bool)
	return isError
}

// callToolResultText decodes the first textual content block from a CallToolResult.
func callToolResultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatalf("result = nil, want non-nil")
	}
	if len(result.Content) == 0 {
		t.Fatalf("result content is empty")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] has unexpected type %T", result.Content[0])
	}
	return text.Text
}

// TestHandlerUsesStatelessTransport verifies MCP transport does not issue session ids.
func TestHandlerUsesStatelessTransport(t *testing.T) {
	server := newTestServer(t)

	resp, decoded := postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if decoded.ID != 1 {
		t.Fatalf("id = %v, want 1", decoded.ID)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got != "" {
		t.Fatalf("Mcp-Session-Id header = %q, want empty (stateless transport)", got)
	}
}

// TestHandlerRegistersBoardTools verifies tool discovery lists every board tool.
func TestHandlerRegistersBoardTools(t *testing.T) {
	server := newTestServer(t)
	_, toolsResp := postJSONRPC(t, server.Client(), server.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})

	toolsRaw, ok := toolsResp.Result["tools"].([]any)
	if !ok {
		t.Fatalf("tools list payload missing tools: %#v", toolsResp.Result)
	}
	toolNames := make([]string, 0, len(toolsRaw))
	for _, toolRaw := range toolsRaw {
		toolMap, ok := toolRaw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		toolNames = append(toolNames, name)
	}
	for _, want := range []string{
		"trackflow.board_state",
		"trackflow.move_entity",
		"trackflow.reorder_containers",
		"trackflow.entity_durations",
	} {
		if !slices.Contains(toolNames, want) {
			t.Fatalf("tool list missing %s: %#v", want, toolNames)
		}
	}
}

// TestHandlerBoardToolCalls drives state, move, reorder and durations through MCP.
func TestHandlerBoardToolCalls(t *testing.T) {
	server := newTestServer(t)

	state := toolResultInto[common.BoardState](t, callTool(t, server, "trackflow.board_state", map[string]any{"kind": "jobs"}))
	if len(state.Columns) != 4 {
		t.Fatalf("unexpected jobs board %#v", state)
	}
	created := toolResultInto[common.Entity](t, callTool(t, server, "trackflow.create_entity", map[string]any{
		"kind":         "jobs",
		"container_id": state.Columns[0].ID,
		"fields":       map[string]any{"title": "Spot"},
	}))
	if created.ID == "" {
		t.Fatal("expected created entity id")
	}

	moved := toolResultInto[common.MoveResult](t, callTool(t, server, "trackflow.move_entity", map[string]any{
		"kind":      "jobs",
		"entity_id": created.ID,
		"over_id":   state.Columns[1].ID,
	}))
	if !moved.Moved || moved.To != state.Columns[1].ID {
		t.Fatalf("unexpected move %#v", moved)
	}

	reordered := toolResultInto[map[string][]common.Container](t, callTool(t, server, "trackflow.reorder_containers", map[string]any{
		"kind":         "jobs",
		"container_id": state.Columns[3].ID,
		"over_id":      state.Columns[0].ID,
	}))["containers"]
	if len(reordered) != 4 || reordered[0].ID != state.Columns[3].ID {
		t.Fatalf("unexpected reorder %#v", reordered)
	}

	report := toolResultInto[common.DurationReport](t, callTool(t, server, "trackflow.entity_durations", map[string]any{
		"kind":      "jobs",
		"entity_id": created.ID,
	}))
	if report.ContainerID != state.Columns[1].ID || len(report.Stages) != 4 {
		t.Fatalf("unexpected durations %#v", report)
	}
}

// TestHandlerBoardToolErrorPaths verifies required-arg and mapped-service errors.
func TestHandlerBoardToolErrorPaths(t *testing.T) {
	server := newTestServer(t)

	missing := callTool(t, server, "trackflow.board_state", map[string]any{})
	if !isToolError(missing) || !strings.Contains(toolResultText(t, missing), `required argument "kind" not found`) {
		t.Fatalf("unexpected missing-arg result %#v", missing)
	}

	unscoped := callTool(t, server, "trackflow.board_state", map[string]any{"kind": "kanban"})
	if !isToolError(unscoped) || !strings.HasPrefix(toolResultText(t, unscoped), "invalid_request:") {
		t.Fatalf("unexpected unscoped result %#v", unscoped)
	}

	unknown := callTool(t, server, "trackflow.move_entity", map[string]any{
		"kind":      "sales",
		"entity_id": "ghost",
		"over_id":   "nowhere",
	})
	if !isToolError(unknown) || !strings.HasPrefix(toolResultText(t, unknown), "not_found:") {
		t.Fatalf("unexpected unknown-entity result %#v", unknown)
	}
}

// TestNewHandlerRequiresBoards verifies constructor guards.
func TestNewHandlerRequiresBoards(t *testing.T) {
	if _, err := NewHandler(Config{}, nil); err == nil {
		t.Fatal("expected NewHandler() to reject nil boards")
	}
}

func TestNormalizeConfig(t *testing.T) {
	cases := []struct {
		name string
		in   Config
		want Config
	}{
		{
			name: "defaults",
			in:   Config{},
			want: Config{
				ServerName:    "trackflow",
				ServerVersion: "dev",
				EndpointPath:  "/mcp",
			},
		},
		{
			name: "trimmed values and slash prefix",
			in: Config{
				ServerName:    " trackflow-server ",
				ServerVersion: " v1.2.3 ",
				EndpointPath:  "custom/path",
			},
			want: Config{
				ServerName:    "trackflow-server",
				ServerVersion: "v1.2.3",
				EndpointPath:  "/custom/path",
			},
		},
		{
			name: "endpoint trim of repeated slashes",
			in: Config{
				EndpointPath: "///mcp///",
			},
			want: Config{
				ServerName:    "trackflow",
				ServerVersion: "dev",
				EndpointPath:  "/mcp",
			},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeConfig(tt.in)
			if got != tt.want {
				t.Fatalf("normalizeConfig() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

// TestHandlerServeHTTPUnavailable verifies nil handler paths fail closed with 503.
func TestHandlerServeHTTPUnavailable(t *testing.T) {
	for name, handler := range map[string]*Handler{"nil receiver": nil, "missing inner http handler": {}} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{}`))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusServiceUnavailable {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
			}
			if !strings.Contains(rec.Body.String(), "mcp handler unavailable") {
				t.Fatalf("body = %q, want mcp handler unavailable", rec.Body.String())
			}
		})
	}
}

// TestToolResultFromErrorMapping verifies deterministic error-to-tool-result mapping.
func TestToolResultFromErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantPrefix string
	}{
		{"nil error", nil, "unknown error"},
		{"invalid", errors.Join(common.ErrInvalidRequest, errors.New("bad kind")), "invalid_request:"},
		{"not found", errors.Join(common.ErrNotFound, errors.New("missing")), "not_found:"},
		{"conflict", errors.Join(common.ErrConflict, errors.New("busy")), "gesture_conflict:"},
		{"unavailable", errors.Join(common.ErrUnavailable, errors.New("no files")), "not_implemented:"},
		{"internal", errors.New("boom"), "internal_error:"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			result := toolResultFromError(tt.err)
			if !result.IsError {
				t.Fatalf("IsError = false, want true")
			}
			if got := callToolResultText(t, result); !strings.HasPrefix(got, tt.wantPrefix) {
				t.Fatalf("text = %q, want prefix %q", got, tt.wantPrefix)
			}
		})
	}
}

// TestJSONResultMarksPendingWrites verifies queued writes still succeed.
func TestJSONResultMarksPendingWrites(t *testing.T) {
	result, err := jsonResult("x", map[string]string{"id": "a"}, errors.Join(common.ErrWritePending, app.ErrPersistence))
	if err != nil {
		t.Fatalf("jsonResult() error = %v", err)
	}
	if result.IsError {
		t.Fatal("expected pending write to be reported as success")
	}
	if !strings.Contains(callToolResultText(t, result), `"write_pending":true`) {
		t.Fatalf("expected write_pending marker, got %q", callToolResultText(t, result))
	}
}
