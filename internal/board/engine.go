package board

import (
	"cmp"
	"slices"
	"time"

	"github.com/evanschultz/trackflow/internal/domain"
)

// Engine owns the ordered containers and the ordered entity list of one board.
// Container membership is derived from each entity's ContainerID; entity order
// within a container is the order of the shared list. Engine is not safe for
// concurrent use; the hosting context serializes access.
type Engine[E Entity] struct {
	containers []domain.Container
	entities   []E
	tracker    *Tracker
}

// Commit describes the outcome of a finished move.
type Commit struct {
	EntityID string
	From     string
	To       string
	// Transition is set when the entity changed container during the gesture.
	Transition *domain.LogEntry
	// Touched lists every entity whose container or rank changed.
	Touched []string
}

// Moved reports whether the commit was a genuine container transition.
func (c Commit) Moved() bool {
	return c.Transition != nil
}

// NewEngine constructs an engine over loaded state. Containers are ordered by
// Order and entities by Position; entities whose container is unknown are dropped.
func NewEngine[E Entity](containers []domain.Container, entities []E, tracker *Tracker) *Engine[E] {
	if tracker == nil {
		tracker = NewTracker(nil, nil)
	}
	cs := slices.Clone(containers)
	slices.SortStableFunc(cs, func(a, b domain.Container) int {
		return cmp.Compare(a.Order, b.Order)
	})
	known := make(map[string]struct{}, len(cs))
	for _, c := range cs {
		known[c.ID] = struct{}{}
	}
	es := make([]E, 0, len(entities))
	for _, e := range entities {
		if _, ok := known[e.Track().ContainerID]; ok {
			es = append(es, e)
		}
	}
	slices.SortStableFunc(es, func(a, b E) int {
		return cmp.Compare(a.Track().Position, b.Track().Position)
	})
	return &Engine[E]{containers: cs, entities: es, tracker: tracker}
}

// Tracker returns the stage-duration tracker bound to this engine.
func (e *Engine[E]) Tracker() *Tracker {
	return e.tracker
}

// Containers returns the containers in board order.
func (e *Engine[E]) Containers() []domain.Container {
	return slices.Clone(e.containers)
}

// Entities returns every entity in list order.
func (e *Engine[E]) Entities() []E {
	return slices.Clone(e.entities)
}

// EntitiesIn returns the ordered entities of one container.
func (e *Engine[E]) EntitiesIn(containerID string) []E {
	out := make([]E, 0)
	for _, ent := range e.entities {
		if ent.Track().ContainerID == containerID {
			out = append(out, ent)
		}
	}
	return out
}

// Entity resolves an entity by id.
func (e *Engine[E]) Entity(id string) (E, bool) {
	idx := e.entityIndex(id)
	if idx < 0 {
		var zero E
		return zero, false
	}
	return e.entities[idx], true
}

// Container resolves a container by id.
func (e *Engine[E]) Container(id string) (domain.Container, bool) {
	idx := e.containerIndex(id)
	if idx < 0 {
		return domain.Container{}, false
	}
	return e.containers[idx], true
}

// Titles maps container ids to their titles.
func (e *Engine[E]) Titles() map[string]string {
	out := make(map[string]string, len(e.containers))
	for _, c := range e.containers {
		out[c.ID] = c.Title
	}
	return out
}

// PreviewMove provisionally places entityID relative to overID during a drag.
// It never touches stage tracking and ignores ids that do not resolve.
func (e *Engine[E]) PreviewMove(entityID, overID string) bool {
	if entityID == "" || overID == "" || entityID == overID {
		return false
	}
	active := e.entityIndex(entityID)
	if active < 0 {
		return false
	}
	tr := e.entities[active].Track()

	if over := e.entityIndex(overID); over >= 0 {
		target := e.entities[over].Track().ContainerID
		if target != tr.ContainerID {
			tr.ContainerID = target
			// The dragged entity lands ahead of the target; index 0 clamps.
			e.entities = arrayMove(e.entities, active, max(over-1, 0))
			return true
		}
		if active == over {
			return false
		}
		e.entities = arrayMove(e.entities, active, over)
		return true
	}

	if e.containerIndex(overID) >= 0 && tr.ContainerID != overID {
		tr.ContainerID = overID
		return true
	}
	return false
}

// CommitMove finalizes a move. The transition decision compares the resolved
// final container against originalContainerID, the container captured when the
// gesture began, because previews may already have relocated the entity.
func (e *Engine[E]) CommitMove(entityID, overID, originalContainerID string) (Commit, bool) {
	active := e.entityIndex(entityID)
	if active < 0 {
		return Commit{}, false
	}
	tr := e.entities[active].Track()
	final := e.resolveContainer(overID, tr.ContainerID)

	if final != tr.ContainerID {
		// No preview reached this target; place the entity now.
		e.PreviewMove(entityID, overID)
	}
	commit := Commit{EntityID: entityID, From: originalContainerID, To: final}
	if final != originalContainerID && originalContainerID != "" {
		entry := e.tracker.RecordTransition(tr, originalContainerID, final, e.Titles(), e.tracker.Now())
		commit.Transition = &entry
	}
	commit.Touched = e.renumber(entityID, originalContainerID, final)
	return commit, true
}

// ReorderContainers moves containerID to the slot of overContainerID and
// renumbers Order. Entities are never touched.
func (e *Engine[E]) ReorderContainers(containerID, overContainerID string, now time.Time) []domain.Container {
	if containerID == overContainerID {
		return nil
	}
	from := e.containerIndex(containerID)
	to := e.containerIndex(overContainerID)
	if from < 0 || to < 0 {
		return nil
	}
	e.containers = arrayMove(e.containers, from, to)
	changed := make([]domain.Container, 0, len(e.containers))
	for idx := range e.containers {
		if e.containers[idx].Order == idx {
			continue
		}
		_ = e.containers[idx].SetOrder(idx, now)
		changed = append(changed, e.containers[idx])
	}
	return changed
}

// AddContainer appends a container at the end of the board.
func (e *Engine[E]) AddContainer(c domain.Container) domain.Container {
	c.Order = len(e.containers)
	e.containers = append(e.containers, c)
	return c
}

// UpdateContainer replaces a container's metadata in place, keeping its slot.
func (e *Engine[E]) UpdateContainer(c domain.Container) bool {
	idx := e.containerIndex(c.ID)
	if idx < 0 {
		return false
	}
	c.Order = e.containers[idx].Order
	e.containers[idx] = c
	return true
}

// DeleteContainer removes a container and cascades to every entity inside it.
func (e *Engine[E]) DeleteContainer(containerID string) ([]E, bool) {
	idx := e.containerIndex(containerID)
	if idx < 0 {
		return nil, false
	}
	e.containers = slices.Delete(e.containers, idx, idx+1)
	for i := range e.containers {
		e.containers[i].Order = i
	}
	removed := make([]E, 0)
	e.entities = slices.DeleteFunc(e.entities, func(ent E) bool {
		if ent.Track().ContainerID == containerID {
			removed = append(removed, ent)
			return true
		}
		return false
	})
	return removed, true
}

// AddEntity appends an entity at the end of its container.
func (e *Engine[E]) AddEntity(ent E) bool {
	tr := ent.Track()
	if e.containerIndex(tr.ContainerID) < 0 || e.entityIndex(tr.ID) >= 0 {
		return false
	}
	tr.Position = len(e.EntitiesIn(tr.ContainerID))
	e.entities = append(e.entities, ent)
	return true
}

// RemoveEntity deletes an entity from the list.
func (e *Engine[E]) RemoveEntity(entityID string) (E, bool) {
	idx := e.entityIndex(entityID)
	if idx < 0 {
		var zero E
		return zero, false
	}
	ent := e.entities[idx]
	e.entities = slices.Delete(e.entities, idx, idx+1)
	e.renumber("", ent.Track().ContainerID)
	return ent, true
}

// Snapshot captures entity order and membership for a later Restore.
func (e *Engine[E]) Snapshot() Snapshot {
	s := Snapshot{order: make([]string, 0, len(e.entities)), placement: make(map[string]placement, len(e.entities))}
	for _, ent := range e.entities {
		tr := ent.Track()
		s.order = append(s.order, tr.ID)
		s.placement[tr.ID] = placement{containerID: tr.ContainerID, position: tr.Position}
	}
	return s
}

// Restore rewinds entity order and membership to a snapshot. Entities created
// after the snapshot keep their place at the end; deleted ones stay deleted.
// Every container is renumbered afterwards; the returned ids are the entities
// whose Position differs from the snapshot.
func (e *Engine[E]) Restore(s Snapshot) []string {
	byID := make(map[string]E, len(e.entities))
	for _, ent := range e.entities {
		byID[idOf(ent)] = ent
	}
	out := make([]E, 0, len(e.entities))
	for _, id := range s.order {
		ent, ok := byID[id]
		if !ok {
			continue
		}
		p := s.placement[id]
		if e.containerIndex(p.containerID) < 0 {
			continue
		}
		tr := ent.Track()
		tr.ContainerID = p.containerID
		tr.Position = p.position
		out = append(out, ent)
		delete(byID, id)
	}
	for _, ent := range e.entities {
		if _, ok := byID[idOf(ent)]; ok {
			out = append(out, ent)
		}
	}
	e.entities = out

	containerIDs := make([]string, 0, len(e.containers))
	for _, c := range e.containers {
		containerIDs = append(containerIDs, c.ID)
	}
	return e.renumber("", containerIDs...)
}

// Snapshot is an opaque copy of entity order and membership.
type Snapshot struct {
	order     []string
	placement map[string]placement
}

type placement struct {
	containerID string
	position    int
}

// resolveContainer maps an over target to the container it designates.
func (e *Engine[E]) resolveContainer(overID, fallback string) string {
	if overID == "" {
		return fallback
	}
	if e.containerIndex(overID) >= 0 {
		return overID
	}
	if idx := e.entityIndex(overID); idx >= 0 {
		return e.entities[idx].Track().ContainerID
	}
	return fallback
}

// renumber rewrites Position within the given containers and returns the ids
// whose position changed, always including mustInclude when non-empty.
func (e *Engine[E]) renumber(mustInclude string, containerIDs ...string) []string {
	seen := map[string]struct{}{}
	touched := make([]string, 0)
	if mustInclude != "" {
		touched = append(touched, mustInclude)
		seen[mustInclude] = struct{}{}
	}
	for _, containerID := range containerIDs {
		for pos, ent := range e.EntitiesIn(containerID) {
			tr := ent.Track()
			if tr.Position == pos {
				continue
			}
			tr.Position = pos
			if _, ok := seen[tr.ID]; ok {
				continue
			}
			seen[tr.ID] = struct{}{}
			touched = append(touched, tr.ID)
		}
	}
	return touched
}

func (e *Engine[E]) entityIndex(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(e.entities, func(ent E) bool { return idOf(ent) == id })
}

func (e *Engine[E]) containerIndex(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(e.containers, func(c domain.Container) bool { return c.ID == id })
}

// arrayMove removes the element at from and reinserts it at to.
func arrayMove[T any](s []T, from, to int) []T {
	if from == to || from < 0 || from >= len(s) {
		return s
	}
	item := s[from]
	s = slices.Delete(s, from, from+1)
	to = min(max(to, 0), len(s))
	return slices.Insert(s, to, item)
}
