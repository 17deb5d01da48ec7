package app

import (
	"context"
	"io"
	"slices"
	"time"

	"github.com/evanschultz/trackflow/internal/board"
	"github.com/evanschultz/trackflow/internal/domain"
)

// Record is the entity contract a board pipeline hosts.
type Record interface {
	board.Entity
	Annotate() *domain.Annotations
	Label() string
	Markdown() string
	Fields() map[string]string
	ApplyPatch(domain.Patch, time.Time) ([]string, error)
}

// Board is the kind-agnostic surface adapters drive. Every pipeline implements it.
type Board interface {
	Kind() domain.Kind
	ScopeID() string
	State() BoardState
	Entity(id string) (EntityView, error)
	Durations(id string) (DurationReport, error)

	CreateEntity(ctx context.Context, containerID string, fields domain.Patch) (EntityView, error)
	UpdateEntity(ctx context.Context, id string, patch domain.Patch) (EntityView, error)
	DeleteEntity(ctx context.Context, id string) error
	AddComment(ctx context.Context, id, body, author string) (domain.Comment, error)
	AddAttachment(ctx context.Context, id string, in AttachmentUpload) (domain.Attachment, error)
	OpenAttachment(ctx context.Context, id, attachmentID string) (io.ReadCloser, domain.Attachment, error)

	CreateContainer(ctx context.Context, title, color string) (domain.Container, error)
	UpdateContainer(ctx context.Context, id string, in ContainerPatch) (domain.Container, error)
	DeleteContainer(ctx context.Context, id string) (int, error)
	ReorderContainers(ctx context.Context, id, overID string) ([]domain.Container, error)

	StartGesture(entityID string) error
	Hover(overID string) (bool, error)
	EndGesture(ctx context.Context, overID string) (MoveResult, error)
	CancelGesture(ctx context.Context) error
	Move(ctx context.Context, entityID, overID string) (MoveResult, error)

	Flush(ctx context.Context) error
	Pending() int
}

// AttachmentUpload describes one file to attach.
type AttachmentUpload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ContainerPatch carries optional container edits.
type ContainerPatch struct {
	Title *string
	Color *string
}

// EntityView is a read model of one entity for adapters.
type EntityView struct {
	Kind               domain.Kind
	ID                 string
	ContainerID        string
	ContainerTitle     string
	Position           int
	Label              string
	Markdown           string
	Fields             map[string]string
	EnteredContainerAt time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	History            []domain.LogEntry
	Comments           []domain.Comment
	Attachments        []domain.Attachment
}

// ContainerView is one column of a board together with its ordered entities.
type ContainerView struct {
	Container domain.Container
	Entities  []EntityView
}

// BoardState is a read model of a full board.
type BoardState struct {
	Kind       domain.Kind
	ScopeID    string
	Containers []ContainerView
	// Dragging names the entity of the active gesture, when one is in progress.
	Dragging string
}

// MoveResult reports the outcome of a drop.
type MoveResult struct {
	EntityID string
	From     string
	To       string
	Moved    bool
	Entry    *domain.LogEntry
	Entity   EntityView
}

// StageDuration is the time an entity spent in one container.
type StageDuration struct {
	ContainerID string
	Title       string
	Total       time.Duration
	Current     bool
}

// DurationReport summarizes stage durations for one entity.
type DurationReport struct {
	EntityID    string
	ContainerID string
	CurrentStay time.Duration
	Lifetime    time.Duration
	Stages      []StageDuration
}

func viewOf[E Record](kind domain.Kind, ent E, titles map[string]string) EntityView {
	tr := ent.Track()
	notes := ent.Annotate()
	return EntityView{
		Kind:               kind,
		ID:                 tr.ID,
		ContainerID:        tr.ContainerID,
		ContainerTitle:     titles[tr.ContainerID],
		Position:           tr.Position,
		Label:              ent.Label(),
		Markdown:           ent.Markdown(),
		Fields:             ent.Fields(),
		EnteredContainerAt: tr.EnteredContainerAt,
		CreatedAt:          tr.CreatedAt,
		UpdatedAt:          tr.UpdatedAt,
		History:            slices.Clone(tr.History),
		Comments:           slices.Clone(notes.Comments),
		Attachments:        slices.Clone(notes.Attachments),
	}
}

func durationsOf(tr *domain.Tracking, containers []domain.Container, now time.Time) DurationReport {
	report := DurationReport{
		EntityID:    tr.ID,
		ContainerID: tr.ContainerID,
		CurrentStay: board.CurrentStay(tr, now),
		Lifetime:    board.Lifetime(tr, now),
		Stages:      make([]StageDuration, 0, len(containers)),
	}
	seen := map[string]struct{}{}
	for _, c := range containers {
		seen[c.ID] = struct{}{}
		report.Stages = append(report.Stages, StageDuration{
			ContainerID: c.ID,
			Title:       c.Title,
			Total:       board.TotalInContainer(tr, c.ID, now),
			Current:     c.ID == tr.ContainerID,
		})
	}
	orphaned := make([]string, 0)
	for id := range tr.TimeInContainer {
		if _, ok := seen[id]; !ok {
			orphaned = append(orphaned, id)
		}
	}
	slices.Sort(orphaned)
	for _, id := range orphaned {
		report.Stages = append(report.Stages, StageDuration{
			ContainerID: id,
			Title:       "?",
			Total:       tr.TimeInContainer[id],
		})
	}
	return report
}
