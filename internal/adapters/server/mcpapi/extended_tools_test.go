package mcpapi

import (
	"strings"
	"testing"

	"github.com/evanschultz/trackflow/internal/adapters/server/common"
)

// TestProjectToolCalls verifies project create and list tools round-trip.
func TestProjectToolCalls(t *testing.T) {
	server := newTestServer(t)

	created := toolResultInto[common.Project](t, callTool(t, server, "trackflow.create_project", map[string]any{
		"name":        "Rebrand",
		"description": "Q3 campaign",
	}))
	if created.ID == "" || created.Slug != "rebrand" {
		t.Fatalf("unexpected project %#v", created)
	}

	listed := toolResultInto[map[string][]common.Project](t, callTool(t, server, "trackflow.list_projects", map[string]any{}))
	if len(listed["projects"]) != 1 || listed["projects"][0].ID != created.ID {
		t.Fatalf("unexpected project list %#v", listed)
	}

	blank := callTool(t, server, "trackflow.create_project", map[string]any{"name": "  "})
	if !isToolError(blank) || !strings.HasPrefix(toolResultText(t, blank), "invalid_request:") {
		t.Fatalf("expected invalid_request for blank name, got %#v", blank)
	}
}

// TestEntityToolCalls verifies create, update, comment and detail tools on a kanban board.
func TestEntityToolCalls(t *testing.T) {
	server := newTestServer(t)
	project := toolResultInto[common.Project](t, callTool(t, server, "trackflow.create_project", map[string]any{"name": "Launch"}))
	state := toolResultInto[common.BoardState](t, callTool(t, server, "trackflow.board_state", map[string]any{
		"kind":  "kanban",
		"scope": project.ID,
	}))

	card := toolResultInto[common.Entity](t, callTool(t, server, "trackflow.create_entity", map[string]any{
		"kind":         "kanban",
		"scope":        project.ID,
		"container_id": state.Columns[0].ID,
		"fields":       map[string]any{"title": "Script", "description": "first *draft*"},
	}))
	if card.Fields["project_id"] != project.ID {
		t.Fatalf("expected card scoped to project, got %#v", card.Fields)
	}

	updated := toolResultInto[common.Entity](t, callTool(t, server, "trackflow.update_entity", map[string]any{
		"kind":      "kanban",
		"scope":     project.ID,
		"entity_id": card.ID,
		"fields":    map[string]any{"title": "Script v2"},
	}))
	if updated.Label != "Script v2" {
		t.Fatalf("unexpected update %#v", updated)
	}

	comment := toolResultInto[common.Comment](t, callTool(t, server, "trackflow.add_comment", map[string]any{
		"kind":      "kanban",
		"scope":     project.ID,
		"entity_id": card.ID,
		"body":      "looks good",
	}))
	if comment.Author != "mcp" {
		t.Fatalf("expected default author, got %#v", comment)
	}

	detail := toolResultInto[common.Entity](t, callTool(t, server, "trackflow.get_entity", map[string]any{
		"kind":      "kanban",
		"scope":     project.ID,
		"entity_id": card.ID,
	}))
	if len(detail.Comments) != 1 || len(detail.History) != 3 || !strings.Contains(detail.DescriptionHTML, "<em>draft</em>") {
		t.Fatalf("unexpected detail %#v", detail)
	}

	missing := callTool(t, server, "trackflow.update_entity", map[string]any{
		"kind":      "kanban",
		"scope":     project.ID,
		"entity_id": card.ID,
		"fields":    map[string]any{},
	})
	if !isToolError(missing) || !strings.HasPrefix(toolResultText(t, missing), "invalid_request:") {
		t.Fatalf("expected invalid_request for empty fields, got %#v", missing)
	}
}
