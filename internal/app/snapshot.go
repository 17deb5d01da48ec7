package app

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/evanschultz/trackflow/internal/domain"
)

// SnapshotVersion defines a package constant value.
const SnapshotVersion = "trackflow.snapshot.v1"

// Snapshot is a portable copy of every board.
type Snapshot struct {
	Version    string              `json:"version" yaml:"version"`
	ExportedAt time.Time           `json:"exported_at" yaml:"exported_at"`
	Projects   []SnapshotProject   `json:"projects" yaml:"projects"`
	Containers []SnapshotContainer `json:"containers" yaml:"containers"`
	Entities   []SnapshotEntity    `json:"entities" yaml:"entities"`
}

// SnapshotProject represents snapshot project data used by this package.
type SnapshotProject struct {
	ID          string    `json:"id" yaml:"id"`
	Slug        string    `json:"slug" yaml:"slug"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// SnapshotContainer represents one stage in a snapshot.
type SnapshotContainer struct {
	ID        string      `json:"id" yaml:"id"`
	Kind      domain.Kind `json:"kind" yaml:"kind"`
	ScopeID   string      `json:"scope_id,omitempty" yaml:"scope_id,omitempty"`
	Title     string      `json:"title" yaml:"title"`
	Color     string      `json:"color,omitempty" yaml:"color,omitempty"`
	Order     int         `json:"order" yaml:"order"`
	CreatedAt time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" yaml:"updated_at"`
}

// SnapshotEntity represents one card, client or job in a snapshot.
type SnapshotEntity struct {
	Kind               domain.Kind          `json:"kind" yaml:"kind"`
	ID                 string               `json:"id" yaml:"id"`
	ContainerID        string               `json:"container_id" yaml:"container_id"`
	Position           int                  `json:"position" yaml:"position"`
	Fields             map[string]string    `json:"fields" yaml:"fields"`
	EnteredContainerAt time.Time            `json:"entered_container_at" yaml:"entered_container_at"`
	TimeInContainerMS  map[string]int64     `json:"time_in_container_ms" yaml:"time_in_container_ms"`
	History            []SnapshotLogEntry   `json:"history" yaml:"history"`
	Comments           []SnapshotComment    `json:"comments,omitempty" yaml:"comments,omitempty"`
	Attachments        []SnapshotAttachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	CreatedAt          time.Time            `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at" yaml:"updated_at"`
}

// SnapshotLogEntry represents one audit entry in a snapshot.
type SnapshotLogEntry struct {
	ID        string           `json:"id" yaml:"id"`
	Action    domain.LogAction `json:"action" yaml:"action"`
	Timestamp time.Time        `json:"timestamp" yaml:"timestamp"`
	Details   string           `json:"details" yaml:"details"`
}

// SnapshotComment represents one comment in a snapshot.
type SnapshotComment struct {
	ID        string    `json:"id" yaml:"id"`
	Body      string    `json:"body" yaml:"body"`
	Author    string    `json:"author" yaml:"author"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// SnapshotAttachment represents one attachment reference in a snapshot.
type SnapshotAttachment struct {
	ID          string                `json:"id" yaml:"id"`
	Type        domain.AttachmentType `json:"type" yaml:"type"`
	Name        string                `json:"name" yaml:"name"`
	ObjectKey   string                `json:"object_key" yaml:"object_key"`
	ContentType string                `json:"content_type" yaml:"content_type"`
	Size        int64                 `json:"size" yaml:"size"`
	CreatedAt   time.Time             `json:"created_at" yaml:"created_at"`
}

// ExportSnapshot copies every project board plus the sales and jobs pipelines.
func (s *Service) ExportSnapshot(ctx context.Context) (Snapshot, error) {
	projects, err := s.stores.Projects.ListProjects(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: s.clock().UTC(),
		Projects:   make([]SnapshotProject, 0, len(projects)),
		Containers: make([]SnapshotContainer, 0),
		Entities:   make([]SnapshotEntity, 0),
	}
	for _, project := range projects {
		snap.Projects = append(snap.Projects, SnapshotProject{
			ID:          project.ID,
			Slug:        project.Slug,
			Name:        project.Name,
			Description: project.Description,
			CreatedAt:   project.CreatedAt,
			UpdatedAt:   project.UpdatedAt,
		})
		p, err := s.Cards(ctx, project.ID)
		if err != nil {
			return Snapshot{}, err
		}
		appendPipeline(&snap, p)
	}
	if s.stores.Clients != nil {
		p, err := s.Clients(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		appendPipeline(&snap, p)
	}
	if s.stores.Jobs != nil {
		p, err := s.Jobs(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		appendPipeline(&snap, p)
	}
	snap.sort()
	return snap, nil
}

// ImportSnapshot upserts every record of a snapshot and reloads the boards.
func (s *Service) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	snap.sort()

	for _, sp := range snap.Projects {
		project := domain.Project{
			ID:          strings.TrimSpace(sp.ID),
			Slug:        sp.Slug,
			Name:        strings.TrimSpace(sp.Name),
			Description: sp.Description,
			CreatedAt:   sp.CreatedAt.UTC(),
			UpdatedAt:   sp.UpdatedAt.UTC(),
		}
		if err := s.stores.Projects.UpsertProject(ctx, project); err != nil {
			return fmt.Errorf("import project %q: %w", project.ID, err)
		}
	}
	for _, sc := range snap.Containers {
		if err := s.importContainer(ctx, sc); err != nil {
			return err
		}
	}
	for _, se := range snap.Entities {
		var err error
		switch se.Kind {
		case domain.KindKanban:
			err = importEntity(ctx, s.stores.Cards, newCard, se)
		case domain.KindSales:
			err = importEntity(ctx, s.stores.Clients, newClient, se)
		case domain.KindJobs:
			err = importEntity(ctx, s.stores.Jobs, newJob, se)
		}
		if err != nil {
			return fmt.Errorf("import entity %q: %w", se.ID, err)
		}
	}
	s.forget()
	s.logger.Info("snapshot imported", "projects", len(snap.Projects), "containers", len(snap.Containers), "entities", len(snap.Entities))
	return nil
}

func (s *Service) importContainer(ctx context.Context, sc SnapshotContainer) error {
	c := domain.Container{
		ID:        strings.TrimSpace(sc.ID),
		Kind:      domain.NormalizeKind(sc.Kind),
		ScopeID:   strings.TrimSpace(sc.ScopeID),
		Title:     strings.TrimSpace(sc.Title),
		Color:     sc.Color,
		Order:     sc.Order,
		CreatedAt: sc.CreatedAt.UTC(),
		UpdatedAt: sc.UpdatedAt.UTC(),
	}
	var err error
	switch c.Kind {
	case domain.KindKanban:
		err = s.stores.Cards.UpsertContainer(ctx, c)
	case domain.KindSales:
		err = s.stores.Clients.UpsertContainer(ctx, c)
	case domain.KindJobs:
		err = s.stores.Jobs.UpsertContainer(ctx, c)
	}
	if err != nil {
		return fmt.Errorf("import container %q: %w", c.ID, err)
	}
	return nil
}

func importEntity[E Record](ctx context.Context, store RecordStore[E], factory Factory[E], se SnapshotEntity) error {
	if store == nil {
		return fmt.Errorf("no store for %s entities", se.Kind)
	}
	logID := se.ID + "-import"
	if len(se.History) > 0 {
		logID = se.History[len(se.History)-1].ID
	}
	ent, err := factory(NewEntityInput{
		ID:          se.ID,
		ContainerID: se.ContainerID,
		ScopeID:     se.Fields["project_id"],
		LogID:       logID,
		Fields:      domain.Patch(se.Fields),
	}, se.CreatedAt)
	if err != nil {
		return err
	}
	tr := ent.Track()
	tr.Position = se.Position
	tr.EnteredContainerAt = se.EnteredContainerAt.UTC()
	tr.CreatedAt = se.CreatedAt.UTC()
	tr.UpdatedAt = se.UpdatedAt.UTC()
	tr.TimeInContainer = make(map[string]time.Duration, len(se.TimeInContainerMS))
	for id, ms := range se.TimeInContainerMS {
		tr.TimeInContainer[id] = time.Duration(ms) * time.Millisecond
	}
	tr.History = make([]domain.LogEntry, 0, len(se.History))
	for _, h := range se.History {
		tr.History = append(tr.History, domain.LogEntry{ID: h.ID, Action: h.Action, Timestamp: h.Timestamp.UTC(), Details: h.Details})
	}
	notes := ent.Annotate()
	notes.Comments = make([]domain.Comment, 0, len(se.Comments))
	for _, c := range se.Comments {
		notes.Comments = append(notes.Comments, domain.Comment{ID: c.ID, Body: c.Body, Author: c.Author, CreatedAt: c.CreatedAt.UTC()})
	}
	notes.Attachments = make([]domain.Attachment, 0, len(se.Attachments))
	for _, a := range se.Attachments {
		notes.Attachments = append(notes.Attachments, domain.Attachment{
			ID:          a.ID,
			Type:        a.Type,
			Name:        a.Name,
			ObjectKey:   a.ObjectKey,
			ContentType: a.ContentType,
			Size:        a.Size,
			CreatedAt:   a.CreatedAt.UTC(),
		})
	}
	return store.UpsertEntity(ctx, ent)
}

func appendPipeline[E Record](snap *Snapshot, p *Pipeline[E]) {
	for _, c := range p.State().Containers {
		snap.Containers = append(snap.Containers, SnapshotContainer{
			ID:        c.Container.ID,
			Kind:      c.Container.Kind,
			ScopeID:   c.Container.ScopeID,
			Title:     c.Container.Title,
			Color:     c.Container.Color,
			Order:     c.Container.Order,
			CreatedAt: c.Container.CreatedAt,
			UpdatedAt: c.Container.UpdatedAt,
		})
	}
	for _, ent := range p.Entities() {
		snap.Entities = append(snap.Entities, snapshotEntity(p.Kind(), ent))
	}
}

func snapshotEntity[E Record](kind domain.Kind, ent E) SnapshotEntity {
	tr := ent.Track()
	notes := ent.Annotate()
	out := SnapshotEntity{
		Kind:               kind,
		ID:                 tr.ID,
		ContainerID:        tr.ContainerID,
		Position:           tr.Position,
		Fields:             ent.Fields(),
		EnteredContainerAt: tr.EnteredContainerAt,
		TimeInContainerMS:  make(map[string]int64, len(tr.TimeInContainer)),
		History:            make([]SnapshotLogEntry, 0, len(tr.History)),
		CreatedAt:          tr.CreatedAt,
		UpdatedAt:          tr.UpdatedAt,
	}
	for id, d := range tr.TimeInContainer {
		out.TimeInContainerMS[id] = d.Milliseconds()
	}
	for _, h := range tr.History {
		out.History = append(out.History, SnapshotLogEntry{ID: h.ID, Action: h.Action, Timestamp: h.Timestamp, Details: h.Details})
	}
	for _, c := range notes.Comments {
		out.Comments = append(out.Comments, SnapshotComment{ID: c.ID, Body: c.Body, Author: c.Author, CreatedAt: c.CreatedAt})
	}
	for _, a := range notes.Attachments {
		out.Attachments = append(out.Attachments, SnapshotAttachment{
			ID:          a.ID,
			Type:        a.Type,
			Name:        a.Name,
			ObjectKey:   a.ObjectKey,
			ContentType: a.ContentType,
			Size:        a.Size,
			CreatedAt:   a.CreatedAt,
		})
	}
	return out
}

// Validate validates the requested operation.
func (s *Snapshot) Validate() error {
	if s.Version != "" && s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %q", s.Version)
	}

	projectIDs := map[string]struct{}{}
	for i, p := range s.Projects {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("projects[%d].id is required", i)
		}
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("projects[%d].name is required", i)
		}
		if _, exists := projectIDs[p.ID]; exists {
			return fmt.Errorf("duplicate project id: %q", p.ID)
		}
		projectIDs[p.ID] = struct{}{}
	}

	containerKinds := map[string]domain.Kind{}
	for i, c := range s.Containers {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("containers[%d].id is required", i)
		}
		kind, err := domain.ParseKind(string(c.Kind))
		if err != nil {
			return fmt.Errorf("containers[%d].kind invalid: %q", i, c.Kind)
		}
		if strings.TrimSpace(c.Title) == "" {
			return fmt.Errorf("containers[%d].title is required", i)
		}
		if kind.Scoped() {
			if _, ok := projectIDs[c.ScopeID]; !ok {
				return fmt.Errorf("containers[%d] references unknown project %q", i, c.ScopeID)
			}
		}
		if _, exists := containerKinds[c.ID]; exists {
			return fmt.Errorf("duplicate container id: %q", c.ID)
		}
		containerKinds[c.ID] = kind
	}

	entityIDs := map[string]struct{}{}
	for i, e := range s.Entities {
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("entities[%d].id is required", i)
		}
		kind, err := domain.ParseKind(string(e.Kind))
		if err != nil {
			return fmt.Errorf("entities[%d].kind invalid: %q", i, e.Kind)
		}
		containerKind, ok := containerKinds[e.ContainerID]
		if !ok {
			return fmt.Errorf("entities[%d] references unknown container %q", i, e.ContainerID)
		}
		if containerKind != kind {
			return fmt.Errorf("entities[%d] kind %q does not match container kind %q", i, kind, containerKind)
		}
		if e.CreatedAt.IsZero() {
			return fmt.Errorf("entities[%d] timestamps are required", i)
		}
		for id, ms := range e.TimeInContainerMS {
			if ms < 0 {
				return fmt.Errorf("entities[%d].time_in_container_ms[%s] must be >= 0", i, id)
			}
		}
		if _, exists := entityIDs[e.ID]; exists {
			return fmt.Errorf("duplicate entity id: %q", e.ID)
		}
		entityIDs[e.ID] = struct{}{}
	}
	return nil
}

// sort orders snapshot records deterministically.
func (s *Snapshot) sort() {
	slices.SortFunc(s.Projects, func(a, b SnapshotProject) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	slices.SortFunc(s.Containers, func(a, b SnapshotContainer) int {
		return cmp.Or(
			strings.Compare(string(a.Kind), string(b.Kind)),
			strings.Compare(a.ScopeID, b.ScopeID),
			cmp.Compare(a.Order, b.Order),
			strings.Compare(a.ID, b.ID),
		)
	})
	slices.SortFunc(s.Entities, func(a, b SnapshotEntity) int {
		return cmp.Or(
			strings.Compare(string(a.Kind), string(b.Kind)),
			strings.Compare(a.ContainerID, b.ContainerID),
			cmp.Compare(a.Position, b.Position),
			strings.Compare(a.ID, b.ID),
		)
	})
}

// SnapshotFormat selects the encoding of an exported snapshot.
type SnapshotFormat string

// SnapshotFormat values.
const (
	SnapshotFormatJSON SnapshotFormat = "json"
	SnapshotFormatYAML SnapshotFormat = "yaml"
)

// ParseSnapshotFormat resolves a format name, accepting "yml".
func ParseSnapshotFormat(raw string) (SnapshotFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "json":
		return SnapshotFormatJSON, nil
	case "yaml", "yml":
		return SnapshotFormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported snapshot format %q", raw)
	}
}

// EncodeSnapshot writes a snapshot in the requested format.
func EncodeSnapshot(w io.Writer, snap Snapshot, format SnapshotFormat) error {
	switch format {
	case SnapshotFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode yaml snapshot: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode json snapshot: %w", err)
		}
		return nil
	}
}

// DecodeSnapshot reads a snapshot in the requested format.
func DecodeSnapshot(r io.Reader, format SnapshotFormat) (Snapshot, error) {
	var snap Snapshot
	switch format {
	case SnapshotFormatYAML:
		if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
			return Snapshot{}, fmt.Errorf("decode yaml snapshot: %w", err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&snap); err != nil {
			return Snapshot{}, fmt.Errorf("decode json snapshot: %w", err)
		}
	}
	return snap, nil
}

