// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"errors"
	"time"

	"github.com/evanschultz/trackflow/internal/app"
	"github.com/evanschultz/trackflow/internal/domain"
)

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrConflict reports requests that clash with the current gesture state.
var ErrConflict = errors.New("conflict")

// ErrUnavailable reports an optional backend that is not configured.
var ErrUnavailable = errors.New("unavailable")

// ErrWritePending reports a change that was applied but whose write is queued for retry.
var ErrWritePending = errors.New("write pending")

// BoardRef addresses one board.
type BoardRef struct {
	Kind  string
	Scope string
}

// Project is the transport view of a project.
type Project struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Container is the transport view of one stage.
type Container struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	ScopeID   string    `json:"scope_id,omitempty"`
	Title     string    `json:"title"`
	Color     string    `json:"color,omitempty"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LogEntry is the transport view of one history entry.
type LogEntry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details"`
}

// Comment is the transport view of one comment.
type Comment struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment is the transport view of one attachment.
type Attachment struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entity is the transport view of one card, client or job.
type Entity struct {
	Kind               string            `json:"kind"`
	ID                 string            `json:"id"`
	ContainerID        string            `json:"container_id"`
	ContainerTitle     string            `json:"container_title,omitempty"`
	Position           int               `json:"position"`
	Label              string            `json:"label"`
	Description        string            `json:"description,omitempty"`
	DescriptionHTML    string            `json:"description_html,omitempty"`
	Fields             map[string]string `json:"fields"`
	EnteredContainerAt time.Time         `json:"entered_container_at"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	History            []LogEntry        `json:"history,omitempty"`
	Comments           []Comment         `json:"comments,omitempty"`
	Attachments        []Attachment      `json:"attachments,omitempty"`
}

// Column is one container with its ordered entities.
type Column struct {
	Container
	Entities []Entity `json:"entities"`
}

// BoardState is the transport view of a whole board.
type BoardState struct {
	Kind     string   `json:"kind"`
	ScopeID  string   `json:"scope_id,omitempty"`
	Columns  []Column `json:"columns"`
	Dragging string   `json:"dragging,omitempty"`
	Pending  int      `json:"pending_writes"`
}

// MoveResult is the transport view of a completed drop.
type MoveResult struct {
	EntityID string    `json:"entity_id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Moved    bool      `json:"moved"`
	Entry    *LogEntry `json:"entry,omitempty"`
	Entity   *Entity   `json:"entity,omitempty"`
}

// HoverResult reports whether a hover changed the preview.
type HoverResult struct {
	Changed bool `json:"changed"`
}

// StageDuration is the time spent in one stage.
type StageDuration struct {
	ContainerID string `json:"container_id"`
	Title       string `json:"title"`
	TotalMS     int64  `json:"total_ms"`
	Display     string `json:"display"`
	Current     bool   `json:"current,omitempty"`
}

// DurationReport is the transport view of an entity's stage durations.
type DurationReport struct {
	EntityID      string          `json:"entity_id"`
	ContainerID   string          `json:"container_id"`
	CurrentStayMS int64           `json:"current_stay_ms"`
	CurrentStay   string          `json:"current_stay"`
	LifetimeMS    int64           `json:"lifetime_ms"`
	Lifetime      string          `json:"lifetime"`
	Stages        []StageDuration `json:"stages"`
}

// ContainerPatch carries optional container edits.
type ContainerPatch struct {
	Title *string `json:"title,omitempty"`
	Color *string `json:"color,omitempty"`
}

// ProjectFrom maps a domain project.
func ProjectFrom(p domain.Project) Project {
	return Project{
		ID:          p.ID,
		Slug:        p.Slug,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// ContainerFrom maps a domain container.
func ContainerFrom(c domain.Container) Container {
	return Container{
		ID:        c.ID,
		Kind:      string(c.Kind),
		ScopeID:   c.ScopeID,
		Title:     c.Title,
		Color:     c.Color,
		Order:     c.Order,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// LogEntryFrom maps a history entry.
func LogEntryFrom(e domain.LogEntry) LogEntry {
	return LogEntry{
		ID:        e.ID,
		Action:    string(e.Action),
		Timestamp: e.Timestamp,
		Details:   e.Details,
	}
}

// CommentFrom maps a comment.
func CommentFrom(c domain.Comment) Comment {
	return Comment{ID: c.ID, Body: c.Body, Author: c.Author, CreatedAt: c.CreatedAt}
}

// AttachmentFrom maps an attachment. The object key stays internal.
func AttachmentFrom(a domain.Attachment) Attachment {
	return Attachment{
		ID:          a.ID,
		Type:        string(a.Type),
		Name:        a.Name,
		ContentType: a.ContentType,
		Size:        a.Size,
		CreatedAt:   a.CreatedAt,
	}
}

// EntityFrom maps an entity view. Summary views omit history and annotations.
func EntityFrom(v app.EntityView, full bool) Entity {
	out := Entity{
		Kind:               string(v.Kind),
		ID:                 v.ID,
		ContainerID:        v.ContainerID,
		ContainerTitle:     v.ContainerTitle,
		Position:           v.Position,
		Label:              v.Label,
		Description:        v.Markdown,
		Fields:             v.Fields,
		EnteredContainerAt: v.EnteredContainerAt,
		CreatedAt:          v.CreatedAt,
		UpdatedAt:          v.UpdatedAt,
	}
	if !full {
		return out
	}
	out.History = make([]LogEntry, 0, len(v.History))
	for _, e := range v.History {
		out.History = append(out.History, LogEntryFrom(e))
	}
	for _, c := range v.Comments {
		out.Comments = append(out.Comments, CommentFrom(c))
	}
	for _, a := range v.Attachments {
		out.Attachments = append(out.Attachments, AttachmentFrom(a))
	}
	return out
}

// BoardStateFrom maps a board read model.
func BoardStateFrom(s app.BoardState, pending int) BoardState {
	out := BoardState{
		Kind:     string(s.Kind),
		ScopeID:  s.ScopeID,
		Columns:  make([]Column, 0, len(s.Containers)),
		Dragging: s.Dragging,
		Pending:  pending,
	}
	for _, cv := range s.Containers {
		col := Column{Container: ContainerFrom(cv.Container), Entities: make([]Entity, 0, len(cv.Entities))}
		for _, ev := range cv.Entities {
			col.Entities = append(col.Entities, EntityFrom(ev, false))
		}
		out.Columns = append(out.Columns, col)
	}
	return out
}

// MoveResultFrom maps a drop outcome.
func MoveResultFrom(r app.MoveResult) MoveResult {
	out := MoveResult{EntityID: r.EntityID, From: r.From, To: r.To, Moved: r.Moved}
	if r.Entry != nil {
		entry := LogEntryFrom(*r.Entry)
		out.Entry = &entry
	}
	if r.Entity.ID != "" {
		ent := EntityFrom(r.Entity, false)
		out.Entity = &ent
	}
	return out
}

// DurationReportFrom maps a duration report.
func DurationReportFrom(r app.DurationReport) DurationReport {
	out := DurationReport{
		EntityID:      r.EntityID,
		ContainerID:   r.ContainerID,
		CurrentStayMS: r.CurrentStay.Milliseconds(),
		CurrentStay:   domain.FormatDuration(r.CurrentStay),
		LifetimeMS:    r.Lifetime.Milliseconds(),
		Lifetime:      domain.FormatDuration(r.Lifetime),
		Stages:        make([]StageDuration, 0, len(r.Stages)),
	}
	for _, s := range r.Stages {
		out.Stages = append(out.Stages, StageDuration{
			ContainerID: s.ContainerID,
			Title:       s.Title,
			TotalMS:     s.Total.Milliseconds(),
			Display:     domain.FormatDuration(s.Total),
			Current:     s.Current,
		})
	}
	return out
}
