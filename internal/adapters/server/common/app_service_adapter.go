package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/evanschultz/trackflow/internal/app"
	"github.com/evanschultz/trackflow/internal/board"
	"github.com/evanschultz/trackflow/internal/domain"
)

// BoardService is the app surface the transports drive. *app.Service implements it.
type BoardService interface {
	ListProjects(ctx context.Context) ([]domain.Project, error)
	CreateProject(ctx context.Context, name, description string) (domain.Project, error)
	Board(ctx context.Context, kind domain.Kind, scopeID string) (app.Board, error)
}

// AppServiceAdapter maps transport requests onto board pipelines.
type AppServiceAdapter struct {
	service  BoardService
	markdown goldmark.Markdown
}

// NewAppServiceAdapter constructs one adapter around the app service.
func NewAppServiceAdapter(service BoardService) *AppServiceAdapter {
	return &AppServiceAdapter{
		service:  service,
		markdown: goldmark.New(),
	}
}

// ListProjects lists every project.
func (a *AppServiceAdapter) ListProjects(ctx context.Context) ([]Project, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	projects, err := a.service.ListProjects(ctx)
	if err != nil {
		return nil, mapAppError("list projects", err)
	}
	out := make([]Project, 0, len(projects))
	for _, p := range projects {
		out = append(out, ProjectFrom(p))
	}
	return out, nil
}

// CreateProject creates one project.
func (a *AppServiceAdapter) CreateProject(ctx context.Context, name, description string) (Project, error) {
	if err := a.ready(); err != nil {
		return Project{}, err
	}
	p, err := a.service.CreateProject(ctx, name, description)
	if err != nil {
		return Project{}, mapAppError("create project", err)
	}
	return ProjectFrom(p), nil
}

// BoardState returns every container of a board with its ordered entities.
func (a *AppServiceAdapter) BoardState(ctx context.Context, ref BoardRef) (BoardState, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return BoardState{}, err
	}
	return BoardStateFrom(b.State(), b.Pending()), nil
}

// CreateContainer appends a new stage.
func (a *AppServiceAdapter) CreateContainer(ctx context.Context, ref BoardRef, title, color string) (Container, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return Container{}, err
	}
	c, err := b.CreateContainer(ctx, title, color)
	if c.ID == "" {
		return Container{}, mapAppError("create container", err)
	}
	return ContainerFrom(c), mapAppError("create container", err)
}

// UpdateContainer renames or recolors a stage.
func (a *AppServiceAdapter) UpdateContainer(ctx context.Context, ref BoardRef, id string, patch ContainerPatch) (Container, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return Container{}, err
	}
	if patch.Title == nil && patch.Color == nil {
		return Container{}, fmt.Errorf("title or color is required: %w", ErrInvalidRequest)
	}
	c, err := b.UpdateContainer(ctx, id, app.ContainerPatch{Title: patch.Title, Color: patch.Color})
	if c.ID == "" {
		return Container{}, mapAppError("update container", err)
	}
	return ContainerFrom(c), mapAppError("update container", err)
}

// DeleteContainer removes a stage and cascades its entities.
func (a *AppServiceAdapter) DeleteContainer(ctx context.Context, ref BoardRef, id string) (int, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return 0, err
	}
	removed, err := b.DeleteContainer(ctx, id)
	return removed, mapAppError("delete container", err)
}

// ReorderContainers moves a stage onto the slot of another and returns the new order.
func (a *AppServiceAdapter) ReorderContainers(ctx context.Context, ref BoardRef, id, overID string) ([]Container, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" || strings.TrimSpace(overID) == "" {
		return nil, fmt.Errorf("container id and over_id are required: %w", ErrInvalidRequest)
	}
	_, err = b.ReorderContainers(ctx, id, overID)
	state := b.State()
	out := make([]Container, 0, len(state.Containers))
	for _, cv := range state.Containers {
		out = append(out, ContainerFrom(cv.Container))
	}
	return out, mapAppError("reorder containers", err)
}

// CreateEntity creates an entity at the end of a container.
func (a *AppServiceAdapter) CreateEntity(ctx context.Context, ref BoardRef, containerID string, fields map[string]string) (Entity, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return Entity{}, err
	}
	view, err := b.CreateEntity(ctx, containerID, domain.Patch(fields))
	if view.ID == "" {
		return Entity{}, mapAppError("create entity", err)
	}
	return a.entity(view), mapAppError("create entity", err)
}

// GetEntity returns the full detail of one entity, including rendered markdown.
func (a *AppServiceAdapter) GetEntity(ctx context.Context, ref BoardRef, id string) (Entity, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return Entity{}, err
	}
	view, err := b.Entity(id)
	if err != nil {
		return Entity{}, mapAppError("get entity", err)
	}
	return a.entity(view), nil
}

// UpdateEntity applies field edits.
func (a *AppServiceAdapter) UpdateEntity(ctx context.Context, ref BoardRef, id string, fields map[string]string) (Entity, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return Entity{}, err
	}
	if len(fields) == 0 {
		return Entity{}, fmt.Errorf("fields are required: %w", ErrInvalidRequest)
	}
	view, err := b.UpdateEntity(ctx, id, domain.Patch(fields))
	if view.ID == "" {
		return Entity{}, mapAppError("update entity", err)
	}
	return a.entity(view), mapAppError("update entity", err)
}

// DeleteEntity removes one entity.
func (a *AppServiceAdapter) DeleteEntity(ctx context.Context, ref BoardRef, id string) error {
	b, err := a.board(ctx, ref)
	if err != nil {
		return err
	}
	return mapAppError("delete entity", b.DeleteEntity(ctx, id))
}

// EntityDurations reports the stage durations of one entity.
func (a *AppServiceAdapter) EntityDurations(ctx context.Context, ref BoardRef, id string) (DurationReport, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return DurationReport{}, err
	}
	report, err := b.Durations(id)
	if err != nil {
		return DurationReport{}, mapAppError("entity durations", err)
	}
	return DurationReportFrom(report), nil
}

// AddComment appends a comment to an entity.
func (a *AppServiceAdapter) AddComment(ctx context.Context, ref BoardRef, id, body, author string) (Comment, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return Comment{}, err
	}
	c, err := b.AddComment(ctx, id, body, author)
	if c.ID == "" {
		return Comment{}, mapAppError("add comment", err)
	}
	return CommentFrom(c), mapAppError("add comment", err)
}

// AddAttachment uploads a file and attaches it to an entity.
func (a *AppServiceAdapter) AddAttachment(ctx context.Context, ref BoardRef, id string, upload app.AttachmentUpload) (Attachment, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return Attachment{}, err
	}
	att, err := b.AddAttachment(ctx, id, upload)
	if att.ID == "" {
		return Attachment{}, mapAppError("add attachment", err)
	}
	return AttachmentFrom(att), mapAppError("add attachment", err)
}

// OpenAttachment streams an attachment payload. Callers close the reader.
func (a *AppServiceAdapter) OpenAttachment(ctx context.Context, ref BoardRef, id, attachmentID string) (io.ReadCloser, Attachment, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return nil, Attachment{}, err
	}
	body, att, err := b.OpenAttachment(ctx, id, attachmentID)
	if err != nil {
		return nil, Attachment{}, mapAppError("open attachment", err)
	}
	return body, AttachmentFrom(att), nil
}

// StartGesture begins dragging an entity.
func (a *AppServiceAdapter) StartGesture(ctx context.Context, ref BoardRef, entityID string) error {
	b, err := a.board(ctx, ref)
	if err != nil {
		return err
	}
	return mapAppError("start gesture", b.StartGesture(entityID))
}

// HoverGesture previews the active gesture over a target.
func (a *AppServiceAdapter) HoverGesture(ctx context.Context, ref BoardRef, overID string) (HoverResult, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return HoverResult{}, err
	}
	changed, err := b.Hover(overID)
	if err != nil {
		return HoverResult{}, mapAppError("hover gesture", err)
	}
	return HoverResult{Changed: changed}, nil
}

// EndGesture drops the active gesture. An empty overID cancels the move.
func (a *AppServiceAdapter) EndGesture(ctx context.Context, ref BoardRef, overID string) (MoveResult, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return MoveResult{}, err
	}
	res, err := b.EndGesture(ctx, overID)
	if err != nil && res.EntityID == "" {
		return MoveResult{}, mapAppError("end gesture", err)
	}
	return MoveResultFrom(res), mapAppError("end gesture", err)
}

// CancelGesture abandons the active gesture.
func (a *AppServiceAdapter) CancelGesture(ctx context.Context, ref BoardRef) error {
	b, err := a.board(ctx, ref)
	if err != nil {
		return err
	}
	return mapAppError("cancel gesture", b.CancelGesture(ctx))
}

// MoveEntity runs a whole gesture in one call.
func (a *AppServiceAdapter) MoveEntity(ctx context.Context, ref BoardRef, entityID, overID string) (MoveResult, error) {
	b, err := a.board(ctx, ref)
	if err != nil {
		return MoveResult{}, err
	}
	if strings.TrimSpace(entityID) == "" {
		return MoveResult{}, fmt.Errorf("entity_id is required: %w", ErrInvalidRequest)
	}
	res, err := b.Move(ctx, entityID, overID)
	if err != nil && res.EntityID == "" {
		return MoveResult{}, mapAppError("move entity", err)
	}
	return MoveResultFrom(res), mapAppError("move entity", err)
}

// RenderMarkdown converts entity markdown into HTML.
func (a *AppServiceAdapter) RenderMarkdown(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := a.markdown.Convert([]byte(src), &buf); err != nil {
		return ""
	}
	return buf.String()
}

func (a *AppServiceAdapter) entity(view app.EntityView) Entity {
	out := EntityFrom(view, true)
	out.DescriptionHTML = a.RenderMarkdown(view.Markdown)
	return out
}

// board parses the kind and resolves the matching pipeline.
func (a *AppServiceAdapter) board(ctx context.Context, ref BoardRef) (app.Board, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	kind, err := domain.ParseKind(ref.Kind)
	if err != nil {
		return nil, fmt.Errorf("board kind %q: %w", ref.Kind, errors.Join(ErrInvalidRequest, err))
	}
	if kind.Scoped() && strings.TrimSpace(ref.Scope) == "" {
		return nil, fmt.Errorf("scope is required for %s boards: %w", kind, ErrInvalidRequest)
	}
	b, err := a.service.Board(ctx, kind, ref.Scope)
	if err != nil {
		return nil, mapAppError("resolve board", err)
	}
	return b, nil
}

func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	return nil
}

// mapAppError maps app/domain errors into transport-layer error sentinels.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrNotFound), errors.Is(err, board.ErrUnknownEntity):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrPersistence):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrWritePending, err))
	case errors.Is(err, app.ErrGestureInProgress),
		errors.Is(err, app.ErrNoGesture),
		errors.Is(err, board.ErrDoubleTransition),
		errors.Is(err, board.ErrGestureFinished):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, app.ErrFilesUnavailable):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnavailable, err))
	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidTitle),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidPosition),
		errors.Is(err, domain.ErrInvalidContainerID),
		errors.Is(err, domain.ErrInvalidClientType),
		errors.Is(err, domain.ErrInvalidValue),
		errors.Is(err, domain.ErrInvalidBody),
		errors.Is(err, domain.ErrInvalidAttachment):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
