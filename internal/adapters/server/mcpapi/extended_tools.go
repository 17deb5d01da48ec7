package mcpapi

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/evanschultz/trackflow/internal/adapters/server/common"
)

// registerProjectTools registers list/create project tools.
func registerProjectTools(srv *mcpserver.MCPServer, boards *common.AppServiceAdapter) {
	srv.AddTool(
		mcp.NewTool(
			"trackflow.list_projects",
			mcp.WithDescription("List projects. Each project owns one kanban board."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			rows, err := boards.ListProjects(ctx)
			return jsonResult("list_projects", map[string]any{"projects": rows}, err)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"trackflow.create_project",
			mcp.WithDescription("Create one project and its kanban board."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Project name")),
			mcp.WithString("description", mcp.Description("Project description")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.Name) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "name" not found`), nil
			}
			project, err := boards.CreateProject(ctx, args.Name, args.Description)
			return jsonResult("create_project", project, err)
		},
	)
}

// registerEntityTools registers entity detail, create, update and comment tools.
func registerEntityTools(srv *mcpserver.MCPServer, boards *common.AppServiceAdapter) {
	srv.AddTool(
		mcp.NewTool(
			"trackflow.get_entity",
			append([]mcp.ToolOption{
				mcp.WithDescription("Return one entity with its history, comments and attachments."),
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
			entity, err := boards.GetEntity(ctx, ref, entityID)
			return jsonResult("get_entity", entity, err)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"trackflow.create_entity",
			append([]mcp.ToolOption{
				mcp.WithDescription("Create one entity at the end of a stage."),
				mcp.WithString("container_id", mcp.Required(), mcp.Description("Stage identifier")),
				mcp.WithObject("fields", mcp.Required(), mcp.Description("Kind-specific fields, e.g. title or name")),
			}, boardArgs()...)...,
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				Kind        string            `json:"kind"`
				Scope       string            `json:"scope"`
				ContainerID string            `json:"container_id"`
				Fields      map[string]string `json:"fields"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			entity, err := boards.CreateEntity(ctx, common.BoardRef{Kind: args.Kind, Scope: args.Scope}, args.ContainerID, args.Fields)
			return jsonResult("create_entity", entity, err)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"trackflow.update_entity",
			append([]mcp.ToolOption{
				mcp.WithDescription("Edit the fields of one entity."),
				mcp.WithString("entity_id", mcp.Required(), mcp.Description("Entity identifier")),
				mcp.WithObject("fields", mcp.Required(), mcp.Description("Fields to change")),
			}, boardArgs()...)...,
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				Kind     string            `json:"kind"`
				Scope    string            `json:"scope"`
				EntityID string            `json:"entity_id"`
				Fields   map[string]string `json:"fields"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			entity, err := boards.UpdateEntity(ctx, common.BoardRef{Kind: args.Kind, Scope: args.Scope}, args.EntityID, args.Fields)
			return jsonResult("update_entity", entity, err)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"trackflow.add_comment",
			append([]mcp.ToolOption{
				mcp.WithDescription("Comment on one entity."),
				mcp.WithString("entity_id", mcp.Required(), mcp.Description("Entity identifier")),
				mcp.WithString("body", mcp.Required(), mcp.Description("Comment text")),
				mcp.WithString("author", mcp.Description("Comment author")),
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
			body, err := req.RequireString("body")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			comment, err := boards.AddComment(ctx, ref, entityID, body, req.GetString("author", "mcp"))
			return jsonResult("add_comment", comment, err)
		},
	)
}

// invalidRequestToolResult maps argument binding failures.
func invalidRequestToolResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError("invalid_request: " + err.Error())
}
