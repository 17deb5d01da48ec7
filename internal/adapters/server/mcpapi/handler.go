// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/evanschultz/trackflow/internal/adapters/server/common"
	"github.com/evanschultz/trackflow/internal/domain"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing board tools.
func NewHandler(cfg Config, boards *common.AppServiceAdapter) (*Handler, error) {
	if boards == nil {
		return nil, fmt.Errorf("boards service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerBoardTools(mcpSrv, boards)
	registerProjectTools(mcpSrv, boards)
	registerEntityTools(mcpSrv, boards)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "trackflow"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// kindNames lists the board kinds accepted by the kind argument.
func kindNames() []string {
	kinds := domain.Kinds()
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, string(k))
	}
	return out
}

// boardArgs declares the kind/scope pair every board tool accepts.
func boardArgs() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("kind", mcp.Required(), mcp.Description("Board kind"), mcp.Enum(kindNames()...)),
		mcp.WithString("scope", mcp.Description("Project id, required for kanban boards")),
	}
}

// boardRef reads the kind/scope pair from a tool call.
func boardRef(req mcp.CallToolRequest) (common.BoardRef, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return common.BoardRef{}, err
	}
	return common.BoardRef{Kind: kind, Scope: req.GetString("scope", "")}, nil
}

// registerBoardTools registers the board state, move, reorder and duration tools.
func registerBoardTools(srv *mcpserver.MCPServer, boards *common.AppServiceAdapter) {
	srv.AddTool(
		mcp.NewTool(
			"trackflow.board_state",
			append([]mcp.ToolOption{
				mcp.WithDescription("Return every stage of a board with its ordered entities."),
			}, boardArgs()...)...,
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			ref, err := boardRef(req)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			state, err := boards.BoardState(ctx, ref)
			return jsonResult("board_state", state, err)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"trackflow.move_entity",
			append([]mcp.ToolOption{
				mcp.WithDescription("Drag one entity onto another entity or an empty stage and drop it there."),
				mcp.WithString("entity_id", mcp.Required(), mcp.Description("Entity to move")),
				mcp.WithString("over_id", mcp.Required(), mcp.Description("Target entity id or stage id")),
			}, boardArgs()...)...,
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			ref, err := boardRef(req)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			entityID, err := req.RequireString("entity_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			overID, err := req.RequireString("over_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			result, err := boards.MoveEntity(ctx, ref, entityID, overID)
			return jsonResult("move_entity", result, err)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"trackflow.reorder_containers",
			append([]mcp.ToolOption{
				mcp.WithDescription("Move one stage onto the slot of another stage."),
				mcp.WithString("container_id", mcp.Required(), mcp.Description("Stage to move")),
				mcp.WithString("over_id", mcp.Required(), mcp.Description("Stage whose slot it takes")),
			}, boardArgs()...)...,
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			ref, err := boardRef(req)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			containerID, err := req.RequireString("container_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			overID, err := req.RequireString("over_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			containers, err := boards.ReorderContainers(ctx, ref, containerID, overID)
			return jsonResult("reorder_containers", map[string]any{"containers": containers}, err)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"trackflow.entity_durations",
			append([]mcp.ToolOption{
				mcp.WithDescription("Report how long one entity has spent in each stage."),
				mcp.WithString("entity_id", mcp.Required(), mcp.Description("Entity identifier")),
			}, boardArgs()...)...,
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			ref, err := boardRef(req)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			entityID, err := req.RequireString("entity_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			report, err := boards.EntityDurations(ctx, ref, entityID)
			return jsonResult("entity_durations", report, err)
		},
	)
}

// jsonResult encodes payload, mapping service errors to tool errors. Changes
// whose write is queued still succeed and carry a write_pending marker.
func jsonResult(name string, payload any, err error) (*mcp.CallToolResult, error) {
	if err != nil && !errors.Is(err, common.ErrWritePending) {
		return toolResultFromError(err), nil
	}
	if err != nil {
		payload = map[string]any{"result": payload, "write_pending": true}
	}
	result, encodeErr := mcp.NewToolResultJSON(payload)
	if encodeErr != nil {
		return nil, fmt.Errorf("encode %s result: %w", name, encodeErr)
	}
	return result, nil
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.Is(err, common.ErrConflict):
		return mcp.NewToolResultError("gesture_conflict: " + err.Error())
	case errors.Is(err, common.ErrUnavailable):
		return mcp.NewToolResultError("not_implemented: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}
