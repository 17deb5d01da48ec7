package board

// Gesture tracks one drag interaction from start to drop. It records the
// entity's container at Begin so the commit can tell a genuine transition
// from previews that already relocated the entity.
type Gesture[E Entity] struct {
	engine   *Engine[E]
	entityID string
	origin   string
	snapshot Snapshot
	lastOver string
	finished bool
}

// Begin starts a gesture for entityID.
func (e *Engine[E]) Begin(entityID string) (*Gesture[E], error) {
	ent, ok := e.Entity(entityID)
	if !ok {
		return nil, ErrUnknownEntity
	}
	return &Gesture[E]{
		engine:   e,
		entityID: entityID,
		origin:   ent.Track().ContainerID,
		snapshot: e.Snapshot(),
	}, nil
}

// EntityID returns the dragged entity.
func (g *Gesture[E]) EntityID() string {
	return g.entityID
}

// Origin returns the container the entity occupied when the gesture began.
func (g *Gesture[E]) Origin() string {
	return g.origin
}

// Finished reports whether the gesture was dropped or cancelled.
func (g *Gesture[E]) Finished() bool {
	return g.finished
}

// Hover applies a preview for the current over target. Repeated hovers over the
// same target are ignored so that a still pointer does not oscillate the list.
func (g *Gesture[E]) Hover(overID string) bool {
	if g.finished || overID == g.lastOver {
		return false
	}
	g.lastOver = overID
	return g.engine.PreviewMove(g.entityID, overID)
}

// End drops the entity on overID. Dropping on nothing, or on an id that no
// longer resolves, rewinds every preview of this gesture.
func (g *Gesture[E]) End(overID string) (Commit, error) {
	if g.finished {
		return Commit{}, ErrDoubleTransition
	}
	g.finished = true
	if overID == "" || !g.engine.resolves(overID) {
		touched := g.engine.Restore(g.snapshot)
		return Commit{EntityID: g.entityID, From: g.origin, To: g.origin, Touched: touched}, nil
	}
	if overID != g.lastOver {
		g.engine.PreviewMove(g.entityID, overID)
	}
	commit, ok := g.engine.CommitMove(g.entityID, overID, g.origin)
	if !ok {
		// The dragged entity was deleted mid-gesture.
		return Commit{EntityID: g.entityID, From: g.origin}, nil
	}
	return commit, nil
}

// Cancel abandons the gesture and rewinds every preview. It returns the
// entities whose rank changed relative to the pre-drag state, which happens
// when entities were created or removed while the gesture was open.
func (g *Gesture[E]) Cancel() ([]string, error) {
	if g.finished {
		return nil, ErrGestureFinished
	}
	g.finished = true
	return g.engine.Restore(g.snapshot), nil
}

// resolves reports whether id names a live entity or container.
func (e *Engine[E]) resolves(id string) bool {
	return e.entityIndex(id) >= 0 || e.containerIndex(id) >= 0
}
