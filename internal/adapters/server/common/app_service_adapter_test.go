package common

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/evanschultz/trackflow/internal/adapters/storage/sqlite"
	"github.com/evanschultz/trackflow/internal/app"
)

// newAdapter builds an adapter over an in-memory store with a controllable clock.
func newAdapter(t *testing.T) (*AppServiceAdapter, *time.Time) {
	t.Helper()
	store, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	seq := 0
	svc := app.NewService(store.Stores(nil), func() string {
		seq++
		return "id-" + strconv.Itoa(seq)
	}, func() time.Time { return now }, app.ServiceConfig{Logger: log.New(io.Discard)})
	return NewAppServiceAdapter(svc), &now
}

func TestAdapterKanbanLifecycle(t *testing.T) {
	adapter, now := newAdapter(t)
	ctx := context.Background()

	project, err := adapter.CreateProject(ctx, "Launch", "")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	ref := BoardRef{Kind: "kanban", Scope: project.ID}
	state, err := adapter.BoardState(ctx, ref)
	if err != nil {
		t.Fatalf("BoardState() error = %v", err)
	}
	if len(state.Columns) != 4 || state.Columns[0].Title != "To Do" {
		t.Fatalf("unexpected seeded columns %#v", state.Columns)
	}

	created, err := adapter.CreateEntity(ctx, ref, state.Columns[0].ID, map[string]string{
		"title":       "Storyboard",
		"description": "needs **review**",
	})
	if err != nil {
		t.Fatalf("CreateEntity() error = %v", err)
	}
	if !strings.Contains(created.DescriptionHTML, "<strong>review</strong>") {
		t.Fatalf("expected rendered markdown, got %q", created.DescriptionHTML)
	}

	*now = now.Add(2 * time.Hour)
	res, err := adapter.MoveEntity(ctx, ref, created.ID, state.Columns[2].ID)
	if err != nil {
		t.Fatalf("MoveEntity() error = %v", err)
	}
	if !res.Moved || res.To != state.Columns[2].ID || res.Entry == nil || res.Entry.Action != "MOVED" {
		t.Fatalf("unexpected move result %#v", res)
	}

	*now = now.Add(30 * time.Minute)
	report, err := adapter.EntityDurations(ctx, ref, created.ID)
	if err != nil {
		t.Fatalf("EntityDurations() error = %v", err)
	}
	if report.CurrentStayMS != (30 * time.Minute).Milliseconds() || report.Lifetime != "2h 30m" {
		t.Fatalf("unexpected durations %#v", report)
	}
	if report.Stages[0].Display != "2h" {
		t.Fatalf("expected first stage 2h, got %#v", report.Stages[0])
	}

	detail, err := adapter.GetEntity(ctx, ref, created.ID)
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}
	if len(detail.History) != 2 || detail.History[0].Action != "MOVED" {
		t.Fatalf("expected newest-first history, got %#v", detail.History)
	}
}

func TestAdapterRejectsBadBoardRefs(t *testing.T) {
	adapter, _ := newAdapter(t)
	ctx := context.Background()

	cases := []struct {
		name string
		ref  BoardRef
		want error
	}{
		{"kind", BoardRef{Kind: "crm"}, ErrInvalidRequest},
		{"scope", BoardRef{Kind: "kanban"}, ErrInvalidRequest},
		{"project", BoardRef{Kind: "kanban", Scope: "missing"}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := adapter.BoardState(ctx, tc.ref); !errors.Is(err, tc.want) {
				t.Fatalf("BoardState() error = %v, want %v", err, tc.want)
			}
		})
	}

	if _, err := adapter.BoardState(ctx, BoardRef{Kind: "Sales"}); err != nil {
		t.Fatalf("expected unscoped sales board, got %v", err)
	}
}

func TestAdapterGestureConflicts(t *testing.T) {
	adapter, _ := newAdapter(t)
	ctx := context.Background()
	ref := BoardRef{Kind: "jobs"}

	state, err := adapter.BoardState(ctx, ref)
	if err != nil {
		t.Fatalf("BoardState() error = %v", err)
	}
	job, err := adapter.CreateEntity(ctx, ref, state.Columns[0].ID, map[string]string{"title": "Spot 30s"})
	if err != nil {
		t.Fatalf("CreateEntity() error = %v", err)
	}

	if err := adapter.StartGesture(ctx, ref, job.ID); err != nil {
		t.Fatalf("StartGesture() error = %v", err)
	}
	if err := adapter.StartGesture(ctx, ref, job.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on second start, got %v", err)
	}
	hover, err := adapter.HoverGesture(ctx, ref, state.Columns[1].ID)
	if err != nil || !hover.Changed {
		t.Fatalf("HoverGesture() = %#v, %v", hover, err)
	}
	if err := adapter.CancelGesture(ctx, ref); err != nil {
		t.Fatalf("CancelGesture() error = %v", err)
	}
	if _, err := adapter.EndGesture(ctx, ref, state.Columns[1].ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict without gesture, got %v", err)
	}

	after, err := adapter.GetEntity(ctx, ref, job.ID)
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}
	if after.ContainerID != state.Columns[0].ID {
		t.Fatalf("expected cancel to restore container, got %q", after.ContainerID)
	}
}

func TestAdapterAttachmentsUnavailableWithoutFileStore(t *testing.T) {
	adapter, _ := newAdapter(t)
	ctx := context.Background()
	ref := BoardRef{Kind: "sales"}

	state, err := adapter.BoardState(ctx, ref)
	if err != nil {
		t.Fatalf("BoardState() error = %v", err)
	}
	client, err := adapter.CreateEntity(ctx, ref, state.Columns[0].ID, map[string]string{"name": "Acme"})
	if err != nil {
		t.Fatalf("CreateEntity() error = %v", err)
	}
	_, err = adapter.AddAttachment(ctx, ref, client.ID, app.AttachmentUpload{
		Name: "brief.pdf",
		Size: 3,
		Body: strings.NewReader("pdf"),
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestMapAppError(t *testing.T) {
	cases := map[string]struct {
		in   error
		want error
	}{
		"not found":   {app.ErrNotFound, ErrNotFound},
		"persistence": {app.ErrPersistence, ErrWritePending},
		"gesture":     {app.ErrNoGesture, ErrConflict},
		"files":       {app.ErrFilesUnavailable, ErrUnavailable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := mapAppError("op", tc.in)
			if !errors.Is(got, tc.want) || !errors.Is(got, tc.in) {
				t.Fatalf("mapAppError() = %v, want %v", got, tc.want)
			}
		})
	}
	if mapAppError("op", nil) != nil {
		t.Fatal("expected nil passthrough")
	}
}
