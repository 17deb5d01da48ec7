package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/evanschultz/trackflow/internal/board"
	"github.com/evanschultz/trackflow/internal/domain"
)

// NewEntityInput carries the values a factory needs to build an entity.
type NewEntityInput struct {
	ID          string
	ContainerID string
	ScopeID     string
	LogID       string
	Fields      domain.Patch
}

// DefaultGestureTimeout is how long a gesture may sit idle before another
// gesture on the same board is allowed to cancel it.
const DefaultGestureTimeout = 2 * time.Minute

// Factory builds a new entity of one kind.
type Factory[E Record] func(in NewEntityInput, now time.Time) (E, error)

// Pipeline hosts one board: it owns the ordering engine, serializes every
// event against it, applies changes in memory first and then writes them to
// the record store. Failed writes and deletes stay queued until Flush succeeds.
type Pipeline[E Record] struct {
	mu          sync.Mutex
	kind        domain.Kind
	scopeID     string
	store       RecordStore[E]
	files       FileStore
	factory     Factory[E]
	engine      *board.Engine[E]
	gesture     *board.Gesture[E]
	gestureSeen time.Time
	gestureIdle time.Duration
	idGen       IDGenerator
	clock       Clock
	logger      *log.Logger

	dirtyEntities     map[string]struct{}
	dirtyContainers   map[string]struct{}
	deletedEntities   map[string]struct{}
	deletedContainers map[string]struct{}
}

// PipelineConfig holds the collaborators of a pipeline.
type PipelineConfig[E Record] struct {
	Kind    domain.Kind
	ScopeID string
	Store   RecordStore[E]
	Files   FileStore
	Factory Factory[E]
	IDGen   IDGenerator
	LogID   IDGenerator
	Clock   Clock
	Logger  *log.Logger
	// Templates seed an empty board.
	Templates []StageTemplate
	// GestureTimeout bounds how long an idle gesture blocks the board.
	// Zero or negative selects DefaultGestureTimeout.
	GestureTimeout time.Duration
}

var (
	_ Board = (*Pipeline[*domain.Card])(nil)
	_ Board = (*Pipeline[*domain.Client])(nil)
	_ Board = (*Pipeline[*domain.Job])(nil)
)

// LoadPipeline reads a board from the store, seeding template stages when it has none.
func LoadPipeline[E Record](ctx context.Context, cfg PipelineConfig[E]) (*Pipeline[E], error) {
	if cfg.Store == nil || cfg.Factory == nil {
		return nil, fmt.Errorf("load %s pipeline: store and factory are required", cfg.Kind)
	}
	if cfg.IDGen == nil {
		cfg.IDGen = uuid.NewString
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	// Stored durations have millisecond precision, so every timestamp does too.
	wall := cfg.Clock
	cfg.Clock = func() time.Time { return wall().Truncate(time.Millisecond) }
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.GestureTimeout <= 0 {
		cfg.GestureTimeout = DefaultGestureTimeout
	}

	containers, err := cfg.Store.ListContainers(ctx, cfg.ScopeID)
	if err != nil {
		return nil, fmt.Errorf("list %s containers: %w", cfg.Kind, err)
	}
	if len(containers) == 0 {
		containers, err = seedContainers(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	entities, err := cfg.Store.ListEntities(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list %s entities: %w", cfg.Kind, err)
	}

	return &Pipeline[E]{
		kind:              cfg.Kind,
		scopeID:           cfg.ScopeID,
		store:             cfg.Store,
		files:             cfg.Files,
		factory:           cfg.Factory,
		engine:            board.NewEngine(containers, entities, board.NewTracker(board.Clock(cfg.Clock), board.IDGenerator(cfg.LogID))),
		gestureIdle:       cfg.GestureTimeout,
		idGen:             cfg.IDGen,
		clock:             cfg.Clock,
		logger:            cfg.Logger.With("board", string(cfg.Kind)),
		dirtyEntities:     map[string]struct{}{},
		dirtyContainers:   map[string]struct{}{},
		deletedEntities:   map[string]struct{}{},
		deletedContainers: map[string]struct{}{},
	}, nil
}

// seedContainers creates the template stages of an empty board.
func seedContainers[E Record](ctx context.Context, cfg PipelineConfig[E]) ([]domain.Container, error) {
	now := cfg.Clock()
	out := make([]domain.Container, 0, len(cfg.Templates))
	for idx, tpl := range cfg.Templates {
		c, err := domain.NewContainer(domain.ContainerInput{
			ID:      cfg.IDGen(),
			Kind:    cfg.Kind,
			ScopeID: cfg.ScopeID,
			Title:   tpl.Title,
			Color:   tpl.Color,
			Order:   idx,
		}, now)
		if err != nil {
			return nil, fmt.Errorf("create default stage %q: %w", tpl.Title, err)
		}
		if err := cfg.Store.UpsertContainer(ctx, c); err != nil {
			return nil, fmt.Errorf("persist default stage %q: %w", tpl.Title, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Kind returns the board kind.
func (p *Pipeline[E]) Kind() domain.Kind {
	return p.kind
}

// ScopeID returns the project scope, empty for global boards.
func (p *Pipeline[E]) ScopeID() string {
	return p.scopeID
}

// State returns the full board read model.
func (p *Pipeline[E]) State() BoardState {
	p.mu.Lock()
	defer p.mu.Unlock()

	titles := p.engine.Titles()
	state := BoardState{Kind: p.kind, ScopeID: p.scopeID}
	for _, c := range p.engine.Containers() {
		view := ContainerView{Container: c, Entities: []EntityView{}}
		for _, ent := range p.engine.EntitiesIn(c.ID) {
			view.Entities = append(view.Entities, viewOf(p.kind, ent, titles))
		}
		state.Containers = append(state.Containers, view)
	}
	if p.gesture != nil {
		state.Dragging = p.gesture.EntityID()
	}
	return state
}

// Entities returns the live entities in board order.
func (p *Pipeline[E]) Entities() []E {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Entities()
}

// Entity returns a read model of one entity.
func (p *Pipeline[E]) Entity(id string) (EntityView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ent, ok := p.engine.Entity(id)
	if !ok {
		return EntityView{}, ErrNotFound
	}
	return viewOf(p.kind, ent, p.engine.Titles()), nil
}

// Durations reports per-stage durations of one entity.
func (p *Pipeline[E]) Durations(id string) (DurationReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ent, ok := p.engine.Entity(id)
	if !ok {
		return DurationReport{}, ErrNotFound
	}
	return durationsOf(ent.Track(), p.engine.Containers(), p.clock()), nil
}

// CreateEntity builds an entity at the end of containerID.
func (p *Pipeline[E]) CreateEntity(ctx context.Context, containerID string, fields domain.Patch) (EntityView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.engine.Container(containerID); !ok {
		return EntityView{}, fmt.Errorf("container %q: %w", containerID, ErrNotFound)
	}
	ent, err := p.factory(NewEntityInput{
		ID:          p.idGen(),
		ContainerID: containerID,
		ScopeID:     p.scopeID,
		LogID:       p.engine.Tracker().NewID(),
		Fields:      fields,
	}, p.clock())
	if err != nil {
		return EntityView{}, err
	}
	if !p.engine.AddEntity(ent) {
		return EntityView{}, fmt.Errorf("add entity %q: %w", ent.Track().ID, domain.ErrInvalidID)
	}
	view := viewOf(p.kind, ent, p.engine.Titles())
	p.logger.Info("entity created", "entity_id", view.ID, "container_id", containerID)
	return view, p.persist(ctx, []string{view.ID}, nil)
}

// UpdateEntity applies field edits and records an UPDATED entry when anything changed.
func (p *Pipeline[E]) UpdateEntity(ctx context.Context, id string, patch domain.Patch) (EntityView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ent, ok := p.engine.Entity(id)
	if !ok {
		return EntityView{}, ErrNotFound
	}
	now := p.clock()
	changed, err := ent.ApplyPatch(patch, now)
	if err != nil {
		return EntityView{}, err
	}
	if len(changed) == 0 {
		return viewOf(p.kind, ent, p.engine.Titles()), nil
	}
	ent.Track().Prepend(domain.LogEntry{
		ID:        p.engine.Tracker().NewID(),
		Action:    domain.LogActionUpdated,
		Timestamp: now.UTC(),
		Details:   "Updated " + strings.Join(changed, ", "),
	})
	return viewOf(p.kind, ent, p.engine.Titles()), p.persist(ctx, []string{id}, nil)
}

// DeleteEntity removes an entity and its stored attachments.
func (p *Pipeline[E]) DeleteEntity(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.engine.Entity(id); !ok {
		return ErrNotFound
	}
	var touched []string
	if p.gesture != nil && p.gesture.EntityID() == id {
		touched, _ = p.gesture.Cancel()
		p.gesture = nil
	}
	ent, _ := p.engine.RemoveEntity(id)
	delete(p.dirtyEntities, id)
	p.deletedEntities[id] = struct{}{}
	p.removeObjects(ctx, ent)
	p.logger.Info("entity deleted", "entity_id", id)
	for _, sib := range p.engine.EntitiesIn(ent.Track().ContainerID) {
		touched = append(touched, sib.Track().ID)
	}
	return p.persist(ctx, touched, nil)
}

// AddComment appends a comment and a COMMENT_ADDED entry.
func (p *Pipeline[E]) AddComment(ctx context.Context, id, body, author string) (domain.Comment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ent, ok := p.engine.Entity(id)
	if !ok {
		return domain.Comment{}, ErrNotFound
	}
	now := p.clock()
	comment, err := domain.NewComment(p.idGen(), body, author, now)
	if err != nil {
		return domain.Comment{}, err
	}
	notes := ent.Annotate()
	notes.Comments = append(notes.Comments, comment)
	ent.Track().Prepend(domain.LogEntry{
		ID:        p.engine.Tracker().NewID(),
		Action:    domain.LogActionCommentAdded,
		Timestamp: now.UTC(),
		Details:   fmt.Sprintf("Commented: %q", comment.Summary()),
	})
	return comment, p.persist(ctx, []string{id}, nil)
}

// AddAttachment uploads a file to object storage and records it on the entity.
func (p *Pipeline[E]) AddAttachment(ctx context.Context, id string, in AttachmentUpload) (domain.Attachment, error) {
	if p.files == nil {
		return domain.Attachment{}, ErrFilesUnavailable
	}
	p.mu.Lock()
	_, ok := p.engine.Entity(id)
	p.mu.Unlock()
	if !ok {
		return domain.Attachment{}, ErrNotFound
	}

	attachmentID := p.idGen()
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(in.Name), "\\", "/"))
	key := path.Join(string(p.kind), id, attachmentID+"-"+name)
	now := p.clock()
	att, err := domain.NewAttachment(attachmentID, name, key, in.ContentType, in.Size, now)
	if err != nil {
		return domain.Attachment{}, err
	}
	if err := p.files.PutObject(ctx, key, in.Body, in.Size, att.ContentType); err != nil {
		return domain.Attachment{}, fmt.Errorf("upload attachment %q: %w", name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ent, ok := p.engine.Entity(id)
	if !ok {
		// Deleted while uploading.
		_ = p.files.DeleteObject(ctx, key)
		return domain.Attachment{}, ErrNotFound
	}
	notes := ent.Annotate()
	notes.Attachments = append(notes.Attachments, att)
	ent.Track().Prepend(domain.LogEntry{
		ID:        p.engine.Tracker().NewID(),
		Action:    domain.LogActionAttachmentAdded,
		Timestamp: now.UTC(),
		Details:   "Uploaded " + att.Name,
	})
	p.logger.Info("attachment stored", "entity_id", id, "object_key", key, "size", att.Size)
	return att, p.persist(ctx, []string{id}, nil)
}

// OpenAttachment streams a stored attachment.
func (p *Pipeline[E]) OpenAttachment(ctx context.Context, id, attachmentID string) (io.ReadCloser, domain.Attachment, error) {
	if p.files == nil {
		return nil, domain.Attachment{}, ErrFilesUnavailable
	}
	p.mu.Lock()
	ent, ok := p.engine.Entity(id)
	var att domain.Attachment
	found := false
	if ok {
		idx := slices.IndexFunc(ent.Annotate().Attachments, func(a domain.Attachment) bool { return a.ID == attachmentID })
		if idx >= 0 {
			att, found = ent.Annotate().Attachments[idx], true
		}
	}
	p.mu.Unlock()
	if !found {
		return nil, domain.Attachment{}, ErrNotFound
	}
	body, err := p.files.GetObject(ctx, att.ObjectKey)
	if err != nil {
		return nil, domain.Attachment{}, fmt.Errorf("open attachment %q: %w", att.ID, err)
	}
	return body, att, nil
}

// CreateContainer appends a new stage.
func (p *Pipeline[E]) CreateContainer(ctx context.Context, title, color string) (domain.Container, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := domain.NewContainer(domain.ContainerInput{
		ID:      p.idGen(),
		Kind:    p.kind,
		ScopeID: p.scopeID,
		Title:   title,
		Color:   color,
	}, p.clock())
	if err != nil {
		return domain.Container{}, err
	}
	c = p.engine.AddContainer(c)
	return c, p.persist(ctx, nil, []domain.Container{c})
}

// UpdateContainer renames or recolors a stage.
func (p *Pipeline[E]) UpdateContainer(ctx context.Context, id string, in ContainerPatch) (domain.Container, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.engine.Container(id)
	if !ok {
		return domain.Container{}, ErrNotFound
	}
	now := p.clock()
	if in.Title != nil {
		if err := c.Rename(*in.Title, now); err != nil {
			return domain.Container{}, err
		}
	}
	if in.Color != nil {
		c.SetColor(*in.Color, now)
	}
	p.engine.UpdateContainer(c)
	return c, p.persist(ctx, nil, []domain.Container{c})
}

// DeleteContainer removes a stage and every entity inside it. It returns the
// number of cascaded entities.
func (p *Pipeline[E]) DeleteContainer(ctx context.Context, id string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.engine.Container(id); !ok {
		return 0, ErrNotFound
	}
	var touched []string
	if p.gesture != nil {
		touched, _ = p.gesture.Cancel()
		p.gesture = nil
	}
	removed, _ := p.engine.DeleteContainer(id)
	for _, ent := range removed {
		entID := ent.Track().ID
		delete(p.dirtyEntities, entID)
		p.deletedEntities[entID] = struct{}{}
		p.removeObjects(ctx, ent)
	}
	delete(p.dirtyContainers, id)
	p.deletedContainers[id] = struct{}{}
	p.logger.Info("container deleted", "container_id", id, "cascaded", len(removed))
	return len(removed), p.persist(ctx, touched, p.engine.Containers())
}

// ReorderContainers moves a stage onto the slot of another and persists every changed order.
func (p *Pipeline[E]) ReorderContainers(ctx context.Context, id, overID string) ([]domain.Container, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := p.engine.ReorderContainers(id, overID, p.clock())
	if len(changed) == 0 {
		return nil, nil
	}
	return changed, p.persist(ctx, nil, changed)
}

// StartGesture begins dragging an entity.
func (p *Pipeline[E]) StartGesture(entityID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.expireGesture()
	if p.gesture != nil {
		return ErrGestureInProgress
	}
	g, err := p.engine.Begin(entityID)
	if err != nil {
		if errors.Is(err, board.ErrUnknownEntity) {
			return ErrNotFound
		}
		return err
	}
	p.gesture = g
	p.gestureSeen = p.clock()
	p.logger.Debug("gesture started", "entity_id", entityID, "origin", g.Origin())
	return nil
}

// Hover previews the active gesture over a target.
func (p *Pipeline[E]) Hover(overID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gesture == nil {
		return false, ErrNoGesture
	}
	p.gestureSeen = p.clock()
	return p.gesture.Hover(overID), nil
}

// EndGesture drops the active gesture on overID and persists the result.
func (p *Pipeline[E]) EndGesture(ctx context.Context, overID string) (MoveResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gesture == nil {
		return MoveResult{}, ErrNoGesture
	}
	g := p.gesture
	p.gesture = nil
	return p.finish(ctx, g, overID)
}

// CancelGesture abandons the active gesture, rewinds its previews and
// persists any rank the rewind changed.
func (p *Pipeline[E]) CancelGesture(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gesture == nil {
		return ErrNoGesture
	}
	touched, err := p.gesture.Cancel()
	p.gesture = nil
	if err != nil {
		return err
	}
	if len(touched) == 0 {
		return nil
	}
	return p.persist(ctx, touched, nil)
}

// expireGesture cancels a gesture idle for longer than the timeout. Rewound
// ranks are queued for the next Flush. Callers hold mu.
func (p *Pipeline[E]) expireGesture() {
	if p.gesture == nil || p.clock().Sub(p.gestureSeen) < p.gestureIdle {
		return
	}
	entityID := p.gesture.EntityID()
	touched, _ := p.gesture.Cancel()
	p.gesture = nil
	for _, id := range touched {
		p.dirtyEntities[id] = struct{}{}
	}
	p.logger.Warn("idle gesture cancelled", "entity_id", entityID, "idle", p.gestureIdle)
}

// Move performs a whole gesture in one call.
func (p *Pipeline[E]) Move(ctx context.Context, entityID, overID string) (MoveResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.expireGesture()
	if p.gesture != nil {
		return MoveResult{}, ErrGestureInProgress
	}
	g, err := p.engine.Begin(entityID)
	if err != nil {
		return MoveResult{}, ErrNotFound
	}
	return p.finish(ctx, g, overID)
}

// finish commits a gesture and writes every touched entity. Callers hold mu.
func (p *Pipeline[E]) finish(ctx context.Context, g *board.Gesture[E], overID string) (MoveResult, error) {
	commit, err := g.End(overID)
	if err != nil {
		return MoveResult{}, err
	}
	result := MoveResult{
		EntityID: commit.EntityID,
		From:     commit.From,
		To:       commit.To,
		Moved:    commit.Moved(),
		Entry:    commit.Transition,
	}
	ent, ok := p.engine.Entity(commit.EntityID)
	if !ok {
		return result, nil
	}
	result.Entity = viewOf(p.kind, ent, p.engine.Titles())
	if result.Moved {
		p.logger.Info("entity moved", "entity_id", commit.EntityID, "from", commit.From, "to", commit.To)
	}
	if len(commit.Touched) == 0 {
		return result, nil
	}
	return result, p.persist(ctx, commit.Touched, nil)
}

// Flush retries every queued write.
func (p *Pipeline[E]) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entityIDs := make([]string, 0, len(p.dirtyEntities))
	for id := range p.dirtyEntities {
		entityIDs = append(entityIDs, id)
	}
	slices.Sort(entityIDs)
	containers := make([]domain.Container, 0, len(p.dirtyContainers))
	for id := range p.dirtyContainers {
		if c, ok := p.engine.Container(id); ok {
			containers = append(containers, c)
		} else {
			delete(p.dirtyContainers, id)
		}
	}
	if len(entityIDs) == 0 && len(containers) == 0 && len(p.deletedEntities) == 0 && len(p.deletedContainers) == 0 {
		return nil
	}
	p.logger.Debug("flushing queued writes",
		"entities", len(entityIDs),
		"containers", len(containers),
		"deletes", len(p.deletedEntities)+len(p.deletedContainers),
	)
	return p.persist(ctx, entityIDs, containers)
}

// Pending returns how many writes are queued for retry.
func (p *Pipeline[E]) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending()
}

func (p *Pipeline[E]) pending() int {
	return len(p.dirtyEntities) + len(p.dirtyContainers) + len(p.deletedEntities) + len(p.deletedContainers)
}

// persist writes entities and containers, queueing failures for Flush. Callers hold mu.
func (p *Pipeline[E]) persist(ctx context.Context, entityIDs []string, containers []domain.Container) error {
	if err := p.write(ctx, entityIDs, containers); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// write performs the store calls behind persist. Queued deletes go first,
// then containers, then entities.
func (p *Pipeline[E]) write(ctx context.Context, entityIDs []string, containers []domain.Container) error {
	var errs []error
	for _, id := range slices.Sorted(maps.Keys(p.deletedEntities)) {
		if err := p.store.DeleteEntity(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete entity %q: %w", id, err))
			continue
		}
		delete(p.deletedEntities, id)
	}
	for _, id := range slices.Sorted(maps.Keys(p.deletedContainers)) {
		if err := p.store.DeleteContainer(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete container %q: %w", id, err))
			continue
		}
		delete(p.deletedContainers, id)
	}
	for _, c := range containers {
		if err := p.store.UpsertContainer(ctx, c); err != nil {
			p.dirtyContainers[c.ID] = struct{}{}
			errs = append(errs, fmt.Errorf("upsert container %q: %w", c.ID, err))
			continue
		}
		delete(p.dirtyContainers, c.ID)
	}
	for _, id := range entityIDs {
		ent, ok := p.engine.Entity(id)
		if !ok {
			delete(p.dirtyEntities, id)
			continue
		}
		if err := p.store.UpsertEntity(ctx, ent); err != nil {
			p.dirtyEntities[id] = struct{}{}
			errs = append(errs, fmt.Errorf("upsert entity %q: %w", id, err))
			continue
		}
		delete(p.dirtyEntities, id)
	}
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	p.logger.Warn("write failed; queued for retry", "err", err, "pending", p.pending())
	return err
}

// removeObjects deletes stored attachment payloads of a removed entity.
func (p *Pipeline[E]) removeObjects(ctx context.Context, ent E) {
	if p.files == nil {
		return
	}
	for _, att := range ent.Annotate().Attachments {
		if err := p.files.DeleteObject(ctx, att.ObjectKey); err != nil {
			p.logger.Warn("attachment cleanup failed", "object_key", att.ObjectKey, "err", err)
		}
	}
}
