package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evanschultz/trackflow/internal/board"
	"github.com/evanschultz/trackflow/internal/domain"
)

var errStoreDown = errors.New("store down")

type fakeProjects struct {
	projects map[string]domain.Project
}

func (f *fakeProjects) UpsertProject(_ context.Context, p domain.Project) error {
	f.projects[p.ID] = p
	return nil
}

func (f *fakeProjects) GetProject(_ context.Context, id string) (domain.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return domain.Project{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeProjects) ListProjects(context.Context) ([]domain.Project, error) {
	out := make([]domain.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Project) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

type fakeRecords[E board.Entity] struct {
	mu         sync.Mutex
	fail       bool
	containers map[string]domain.Container
	entities   map[string]E
	upserts    int
}

func newFakeRecords[E board.Entity]() *fakeRecords[E] {
	return &fakeRecords[E]{containers: map[string]domain.Container{}, entities: map[string]E{}}
}

func (f *fakeRecords[E]) ListContainers(_ context.Context, scopeID string) ([]domain.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Container, 0)
	for _, c := range f.containers {
		if c.ScopeID == scopeID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRecords[E]) ListEntities(_ context.Context, containerIDs []string) ([]E, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]E, 0)
	for _, e := range f.entities {
		if slices.Contains(containerIDs, e.Track().ContainerID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRecords[E]) UpsertContainer(_ context.Context, c domain.Container) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	f.containers[c.ID] = c
	return nil
}

func (f *fakeRecords[E]) UpsertEntity(_ context.Context, e E) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	f.upserts++
	f.entities[e.Track().ID] = e
	return nil
}

func (f *fakeRecords[E]) DeleteContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeRecords[E]) DeleteEntity(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	delete(f.entities, id)
	return nil
}

func (f *fakeRecords[E]) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

type fakeFiles struct {
	objects map[string][]byte
}

func (f *fakeFiles) PutObject(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeFiles) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeFiles) DeleteObject(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

type fixture struct {
	svc     *Service
	now     time.Time
	cards   *fakeRecords[*domain.Card]
	clients *fakeRecords[*domain.Client]
	jobs    *fakeRecords[*domain.Job]
	files   *fakeFiles
	stores  Stores
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		cards:   newFakeRecords[*domain.Card](),
		clients: newFakeRecords[*domain.Client](),
		jobs:    newFakeRecords[*domain.Job](),
		files:   &fakeFiles{objects: map[string][]byte{}},
	}
	f.stores = Stores{
		Projects: &fakeProjects{projects: map[string]domain.Project{}},
		Cards:    f.cards,
		Clients:  f.clients,
		Jobs:     f.jobs,
		Files:    f.files,
	}
	seq := 0
	idGen := func() string {
		seq++
		return "id-" + strconv.Itoa(seq)
	}
	f.svc = NewService(f.stores, idGen, func() time.Time { return f.now }, ServiceConfig{})
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// kanban returns the default project board and its seeded stage ids.
func (f *fixture) kanban(t *testing.T) (*Pipeline[*domain.Card], []string) {
	t.Helper()
	project, err := f.svc.EnsureDefaultProject(context.Background())
	if err != nil {
		t.Fatalf("EnsureDefaultProject() error = %v", err)
	}
	p, err := f.svc.Cards(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("Cards() error = %v", err)
	}
	return p, stageIDs(p.State())
}

func stageIDs(state BoardState) []string {
	out := make([]string, 0, len(state.Containers))
	for _, c := range state.Containers {
		out = append(out, c.Container.ID)
	}
	return out
}

func entityIDs(state BoardState, containerID string) []string {
	out := []string{}
	for _, c := range state.Containers {
		if c.Container.ID != containerID {
			continue
		}
		for _, e := range c.Entities {
			out = append(out, e.ID)
		}
	}
	return out
}

func TestEnsureDefaultProject(t *testing.T) {
	f := newFixture(t)
	first, err := f.svc.EnsureDefaultProject(context.Background())
	if err != nil {
		t.Fatalf("EnsureDefaultProject() error = %v", err)
	}
	if first.Name != "Inbox" || first.Slug != "inbox" {
		t.Fatalf("unexpected default project %#v", first)
	}
	second, err := f.svc.EnsureDefaultProject(context.Background())
	if err != nil {
		t.Fatalf("EnsureDefaultProject() second error = %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing project reused, got %q and %q", first.ID, second.ID)
	}
}

func TestBoardSeedsTemplateStages(t *testing.T) {
	f := newFixture(t)
	p, stages := f.kanban(t)
	if len(stages) != 4 {
		t.Fatalf("expected 4 seeded stages, got %d", len(stages))
	}
	state := p.State()
	titles := []string{}
	for _, c := range state.Containers {
		titles = append(titles, c.Container.Title)
	}
	if !slices.Equal(titles, []string{"To Do", "In Progress", "Review", "Approved"}) {
		t.Fatalf("unexpected stage titles %v", titles)
	}
	if len(f.cards.containers) != 4 {
		t.Fatalf("expected seeded stages persisted, got %d", len(f.cards.containers))
	}

	sales, err := f.svc.Board(context.Background(), domain.KindSales, "")
	if err != nil {
		t.Fatalf("Board(sales) error = %v", err)
	}
	if got := sales.State().Containers[0].Container; got.Title != "Lead" || got.Color != "blue" {
		t.Fatalf("unexpected first sales stage %#v", got)
	}
}

func TestBoardResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Board(ctx, domain.Kind("crm"), ""); !errors.Is(err, domain.ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
	if _, err := f.svc.Board(ctx, domain.KindKanban, " "); !errors.Is(err, domain.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID for missing scope, got %v", err)
	}
	if _, err := f.svc.Board(ctx, domain.KindKanban, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown project, got %v", err)
	}
	jobs, err := f.svc.Board(ctx, domain.KindJobs, "")
	if err != nil {
		t.Fatalf("Board(jobs) error = %v", err)
	}
	again, _ := f.svc.Board(ctx, domain.KindJobs, "")
	if jobs != again {
		t.Fatal("expected cached pipeline to be reused")
	}
}

func TestPipelineGestureLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, stages := f.kanban(t)

	a, err := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "Write brief"})
	if err != nil {
		t.Fatalf("CreateEntity() error = %v", err)
	}
	b, err := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "Book studio"})
	if err != nil {
		t.Fatalf("CreateEntity() error = %v", err)
	}
	if a.Position != 0 || b.Position != 1 {
		t.Fatalf("unexpected positions %d/%d", a.Position, b.Position)
	}

	if err := p.StartGesture(a.ID); err != nil {
		t.Fatalf("StartGesture() error = %v", err)
	}
	if err := p.StartGesture(b.ID); !errors.Is(err, ErrGestureInProgress) {
		t.Fatalf("expected ErrGestureInProgress, got %v", err)
	}
	if _, err := p.Move(ctx, b.ID, stages[1]); !errors.Is(err, ErrGestureInProgress) {
		t.Fatalf("expected Move to respect active gesture, got %v", err)
	}
	if state := p.State(); state.Dragging != a.ID {
		t.Fatalf("expected dragging %q, got %q", a.ID, state.Dragging)
	}
	moved, err := p.Hover(stages[2])
	if err != nil || !moved {
		t.Fatalf("Hover() = %v, %v", moved, err)
	}
	if _, err := p.Hover(stages[2]); err != nil {
		t.Fatalf("Hover() repeat error = %v", err)
	}

	f.advance(90 * time.Minute)
	res, err := p.EndGesture(ctx, stages[2])
	if err != nil {
		t.Fatalf("EndGesture() error = %v", err)
	}
	if !res.Moved || res.From != stages[0] || res.To != stages[2] {
		t.Fatalf("unexpected move result %#v", res)
	}
	if res.Entry == nil || res.Entry.Details != "Moved from To Do to Review" {
		t.Fatalf("unexpected transition entry %#v", res.Entry)
	}
	if _, err := p.EndGesture(ctx, stages[2]); !errors.Is(err, ErrNoGesture) {
		t.Fatalf("expected ErrNoGesture, got %v", err)
	}

	stored := f.cards.entities[a.ID]
	if stored.ContainerID != stages[2] || stored.TimeInContainer[stages[0]] != 90*time.Minute {
		t.Fatalf("unexpected stored tracking %#v", stored.Tracking)
	}
	if stored.History[0].Action != domain.LogActionMoved || len(stored.History) != 2 {
		t.Fatalf("unexpected stored history %#v", stored.History)
	}
	if got := entityIDs(p.State(), stages[0]); !slices.Equal(got, []string{b.ID}) {
		t.Fatalf("expected source renumbered, got %v", got)
	}
	if f.cards.entities[b.ID].Position != 0 {
		t.Fatalf("expected sibling position persisted as 0, got %d", f.cards.entities[b.ID].Position)
	}
}

func TestPipelineCancelAndEmptyDrop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, stages := f.kanban(t)
	a, _ := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "A"})
	b, _ := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "B"})

	if err := p.CancelGesture(ctx); !errors.Is(err, ErrNoGesture) {
		t.Fatalf("expected ErrNoGesture, got %v", err)
	}
	if err := p.StartGesture(b.ID); err != nil {
		t.Fatalf("StartGesture() error = %v", err)
	}
	_, _ = p.Hover(a.ID)
	if err := p.CancelGesture(ctx); err != nil {
		t.Fatalf("CancelGesture() error = %v", err)
	}
	if got := entityIDs(p.State(), stages[0]); !slices.Equal(got, []string{a.ID, b.ID}) {
		t.Fatalf("expected cancel to restore order, got %v", got)
	}

	if err := p.StartGesture(a.ID); err != nil {
		t.Fatalf("StartGesture() error = %v", err)
	}
	_, _ = p.Hover(stages[3])
	res, err := p.EndGesture(ctx, "")
	if err != nil {
		t.Fatalf("EndGesture() error = %v", err)
	}
	if res.Moved || res.Entity.ContainerID != stages[0] {
		t.Fatalf("expected empty drop to restore, got %#v", res)
	}
	if err := p.StartGesture("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPipelineDurations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, stages := f.kanban(t)
	a, _ := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "A"})

	f.advance(2 * time.Hour)
	if _, err := p.Move(ctx, a.ID, stages[1]); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	f.advance(30 * time.Minute)
	report, err := p.Durations(a.ID)
	if err != nil {
		t.Fatalf("Durations() error = %v", err)
	}
	if report.CurrentStay != 30*time.Minute || report.Lifetime != 150*time.Minute {
		t.Fatalf("unexpected report %#v", report)
	}
	if report.Stages[0].Total != 2*time.Hour || !report.Stages[1].Current || report.Stages[1].Total != 30*time.Minute {
		t.Fatalf("unexpected stage totals %#v", report.Stages)
	}
	if _, err := p.Durations("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPipelineUpdateCommentAndAttachment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, stages := f.kanban(t)
	a, _ := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "A"})

	view, err := p.UpdateEntity(ctx, a.ID, domain.Patch{"title": "A2", "description": "longer"})
	if err != nil {
		t.Fatalf("UpdateEntity() error = %v", err)
	}
	if view.Label != "A2" || view.History[0].Details != "Updated title, description" {
		t.Fatalf("unexpected update view %#v", view.History[0])
	}
	unchanged, err := p.UpdateEntity(ctx, a.ID, domain.Patch{"title": "A2"})
	if err != nil || len(unchanged.History) != len(view.History) {
		t.Fatalf("expected no-op update to skip history, got %d entries err %v", len(unchanged.History), err)
	}
	if _, err := p.UpdateEntity(ctx, a.ID, domain.Patch{"title": " "}); !errors.Is(err, domain.ErrInvalidTitle) {
		t.Fatalf("expected ErrInvalidTitle, got %v", err)
	}

	if _, err := p.AddComment(ctx, a.ID, "Client approved the first cut of the reel", ""); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	att, err := p.AddAttachment(ctx, a.ID, AttachmentUpload{Name: "../frame.png", Size: 4, Body: strings.NewReader("png!")})
	if err != nil {
		t.Fatalf("AddAttachment() error = %v", err)
	}
	if att.Type != domain.AttachmentTypeImage || att.Name != "frame.png" {
		t.Fatalf("unexpected attachment %#v", att)
	}
	if _, ok := f.files.objects[att.ObjectKey]; !ok {
		t.Fatalf("expected object %q stored", att.ObjectKey)
	}
	body, got, err := p.OpenAttachment(ctx, a.ID, att.ID)
	if err != nil {
		t.Fatalf("OpenAttachment() error = %v", err)
	}
	data, _ := io.ReadAll(body)
	_ = body.Close()
	if string(data) != "png!" || got.ID != att.ID {
		t.Fatalf("unexpected attachment payload %q", data)
	}

	final, _ := p.Entity(a.ID)
	actions := []domain.LogAction{}
	for _, h := range final.History {
		actions = append(actions, h.Action)
	}
	want := []domain.LogAction{domain.LogActionAttachmentAdded, domain.LogActionCommentAdded, domain.LogActionUpdated, domain.LogActionCreated}
	if !slices.Equal(actions, want) {
		t.Fatalf("unexpected history actions %v", actions)
	}
	if final.History[1].Details != `Commented: "Client approved the ..."` {
		t.Fatalf("unexpected comment details %q", final.History[1].Details)
	}

	if err := p.DeleteEntity(ctx, a.ID); err != nil {
		t.Fatalf("DeleteEntity() error = %v", err)
	}
	if len(f.files.objects) != 0 {
		t.Fatalf("expected attachment objects removed, got %d", len(f.files.objects))
	}
	if _, ok := f.cards.entities[a.ID]; ok {
		t.Fatal("expected entity deleted from store")
	}
}

func TestPipelineAttachmentWithoutFileStore(t *testing.T) {
	f := newFixture(t)
	f.stores.Files = nil
	svc := NewService(f.stores, nil, nil, ServiceConfig{})
	jobs, err := svc.Jobs(context.Background())
	if err != nil {
		t.Fatalf("Jobs() error = %v", err)
	}
	if _, err := jobs.AddAttachment(context.Background(), "x", AttachmentUpload{Name: "a.txt"}); !errors.Is(err, ErrFilesUnavailable) {
		t.Fatalf("expected ErrFilesUnavailable, got %v", err)
	}
}

func TestPipelineDeleteContainerCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, stages := f.kanban(t)
	a, _ := p.CreateEntity(ctx, stages[1], domain.Patch{"title": "A"})
	b, _ := p.CreateEntity(ctx, stages[2], domain.Patch{"title": "B"})
	if _, err := p.AddAttachment(ctx, a.ID, AttachmentUpload{Name: "notes.txt", Size: 2, Body: strings.NewReader("hi")}); err != nil {
		t.Fatalf("AddAttachment() error = %v", err)
	}
	if err := p.StartGesture(b.ID); err != nil {
		t.Fatalf("StartGesture() error = %v", err)
	}

	removed, err := p.DeleteContainer(ctx, stages[1])
	if err != nil {
		t.Fatalf("DeleteContainer() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 cascaded entity, got %d", removed)
	}
	if p.State().Dragging != "" {
		t.Fatal("expected active gesture cancelled")
	}
	if _, ok := f.cards.entities[a.ID]; ok {
		t.Fatal("expected cascaded entity deleted from store")
	}
	if len(f.files.objects) != 0 {
		t.Fatal("expected cascaded attachment removed")
	}
	if _, ok := f.cards.containers[stages[1]]; ok {
		t.Fatal("expected container deleted from store")
	}
	for idx, id := range []string{stages[0], stages[2], stages[3]} {
		if f.cards.containers[id].Order != idx {
			t.Fatalf("expected container %q order %d, got %d", id, idx, f.cards.containers[id].Order)
		}
	}
	if _, err := p.DeleteContainer(ctx, stages[1]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPipelineContainerEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, stages := f.kanban(t)

	created, err := p.CreateContainer(ctx, "Delivered", "green")
	if err != nil {
		t.Fatalf("CreateContainer() error = %v", err)
	}
	if created.Order != 4 || created.ScopeID != p.ScopeID() {
		t.Fatalf("unexpected created container %#v", created)
	}
	title := "Client Review"
	updated, err := p.UpdateContainer(ctx, stages[2], ContainerPatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateContainer() error = %v", err)
	}
	if updated.Title != title || updated.Order != 2 {
		t.Fatalf("unexpected updated container %#v", updated)
	}

	changed, err := p.ReorderContainers(ctx, created.ID, stages[0])
	if err != nil {
		t.Fatalf("ReorderContainers() error = %v", err)
	}
	if len(changed) != 5 {
		t.Fatalf("expected every container reordered, got %d", len(changed))
	}
	if got := stageIDs(p.State()); !slices.Equal(got, append([]string{created.ID}, stages...)) {
		t.Fatalf("unexpected stage order %v", got)
	}
	if f.cards.containers[created.ID].Order != 0 || f.cards.containers[stages[3]].Order != 4 {
		t.Fatal("expected reordered containers persisted")
	}
	none, err := p.ReorderContainers(ctx, created.ID, created.ID)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected self reorder to be a no-op, got %v %v", none, err)
	}
}

func TestPipelineQueuesFailedWritesUntilFlush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, stages := f.kanban(t)
	a, _ := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "A"})

	f.cards.setFail(true)
	f.advance(time.Minute)
	res, err := p.Move(ctx, a.ID, stages[1])
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if !res.Moved {
		t.Fatal("expected optimistic move to be applied")
	}
	if view, _ := p.Entity(a.ID); view.ContainerID != stages[1] {
		t.Fatalf("expected in-memory state kept, got %q", view.ContainerID)
	}
	if f.svc.Pending() == 0 {
		t.Fatal("expected queued writes")
	}
	if err := f.svc.Flush(ctx); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected Flush to keep failing, got %v", err)
	}

	f.cards.setFail(false)
	if err := f.svc.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if f.svc.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d", f.svc.Pending())
	}
	if f.cards.entities[a.ID].ContainerID != stages[1] {
		t.Fatal("expected flushed move in store")
	}
}

func TestPipelineQueuesFailedDeletesUntilFlush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, stages := f.kanban(t)
	a, _ := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "A"})
	b, _ := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "B"})
	c, _ := p.CreateEntity(ctx, stages[1], domain.Patch{"title": "C"})

	f.cards.setFail(true)
	if err := p.DeleteEntity(ctx, a.ID); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	removed, err := p.DeleteContainer(ctx, stages[1])
	if !errors.Is(err, ErrPersistence) || removed != 1 {
		t.Fatalf("expected queued cascade of 1, got %d %v", removed, err)
	}
	if _, err := p.Entity(a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a gone from memory, got %v", err)
	}
	if f.svc.Pending() < 4 {
		t.Fatalf("expected deletes and renumbered sibling queued, got %d", f.svc.Pending())
	}
	if _, ok := f.cards.entities[a.ID]; !ok {
		t.Fatal("expected failed delete to leave the stored row")
	}

	f.cards.setFail(false)
	if err := f.svc.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if f.svc.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d", f.svc.Pending())
	}
	if _, ok := f.cards.entities[a.ID]; ok {
		t.Fatal("expected flushed entity delete")
	}
	if _, ok := f.cards.entities[c.ID]; ok {
		t.Fatal("expected flushed cascade delete")
	}
	if _, ok := f.cards.containers[stages[1]]; ok {
		t.Fatal("expected flushed container delete")
	}
	if f.cards.entities[b.ID].Position != 0 {
		t.Fatalf("expected sibling rank persisted as 0, got %d", f.cards.entities[b.ID].Position)
	}

	reloaded, err := LoadPipeline(ctx, PipelineConfig[*domain.Card]{
		Kind:    domain.KindKanban,
		ScopeID: p.ScopeID(),
		Store:   f.cards,
		Factory: newCard,
	})
	if err != nil {
		t.Fatalf("LoadPipeline() error = %v", err)
	}
	state := reloaded.State()
	if len(state.Containers) != 3 {
		t.Fatalf("expected deleted stage to stay deleted, got %d stages", len(state.Containers))
	}
	if got := entityIDs(state, stages[0]); !slices.Equal(got, []string{b.ID}) {
		t.Fatalf("expected deleted entity to stay deleted, got %v", got)
	}
}

func TestPipelineCancelPersistsRanksOfEntitiesCreatedMidGesture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, stages := f.kanban(t)
	a, _ := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "A"})
	_, _ = p.CreateEntity(ctx, stages[0], domain.Patch{"title": "B"})
	_, _ = p.CreateEntity(ctx, stages[0], domain.Patch{"title": "C"})

	assertUniqueStoredRanks := func(containerID string) {
		t.Helper()
		seen := map[int]string{}
		for id, e := range f.cards.entities {
			if e.ContainerID != containerID {
				continue
			}
			if prev, ok := seen[e.Position]; ok {
				t.Fatalf("duplicate stored position %d: %s and %s", e.Position, prev, id)
			}
			seen[e.Position] = id
		}
	}

	if err := p.StartGesture(a.ID); err != nil {
		t.Fatalf("StartGesture() error = %v", err)
	}
	_, _ = p.Hover(stages[1])
	n, err := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "N"})
	if err != nil {
		t.Fatalf("CreateEntity() error = %v", err)
	}
	if err := p.CancelGesture(ctx); err != nil {
		t.Fatalf("CancelGesture() error = %v", err)
	}
	if f.cards.entities[n.ID].Position != 3 {
		t.Fatalf("expected n persisted at 3, got %d", f.cards.entities[n.ID].Position)
	}
	assertUniqueStoredRanks(stages[0])

	if err := p.StartGesture(a.ID); err != nil {
		t.Fatalf("StartGesture() error = %v", err)
	}
	_, _ = p.Hover(stages[2])
	m, _ := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "M"})
	if _, err := p.EndGesture(ctx, ""); err != nil {
		t.Fatalf("EndGesture() error = %v", err)
	}
	if f.cards.entities[m.ID].Position != 4 {
		t.Fatalf("expected m persisted at 4, got %d", f.cards.entities[m.ID].Position)
	}
	assertUniqueStoredRanks(stages[0])
}

func TestPipelineExpiresIdleGesture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, stages := f.kanban(t)
	a, _ := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "A"})
	b, _ := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "B"})

	if err := p.StartGesture(a.ID); err != nil {
		t.Fatalf("StartGesture() error = %v", err)
	}
	f.advance(DefaultGestureTimeout - time.Second)
	_, _ = p.Hover(stages[1])
	f.advance(DefaultGestureTimeout - time.Second)
	if err := p.StartGesture(b.ID); !errors.Is(err, ErrGestureInProgress) {
		t.Fatalf("expected hover to keep the gesture alive, got %v", err)
	}

	f.advance(2 * time.Second)
	res, err := p.Move(ctx, b.ID, stages[2])
	if err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if !res.Moved {
		t.Fatalf("expected move after expiry, got %#v", res)
	}
	if view, _ := p.Entity(a.ID); view.ContainerID != stages[0] {
		t.Fatalf("expected expired gesture rewound to origin, got %q", view.ContainerID)
	}
	if _, err := p.Hover(stages[3]); !errors.Is(err, ErrNoGesture) {
		t.Fatalf("expected ErrNoGesture after expiry, got %v", err)
	}
}

func TestPipelineTimestampsUseMillisecondPrecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, stages := f.kanban(t)

	f.advance(700 * time.Microsecond)
	a, _ := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "A"})
	if a.CreatedAt.Nanosecond()%int(time.Millisecond) != 0 {
		t.Fatalf("expected millisecond created_at, got %v", a.CreatedAt)
	}
	f.advance(2500 * time.Microsecond)
	if _, err := p.Move(ctx, a.ID, stages[1]); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	stored := f.cards.entities[a.ID]
	if stored.TimeInContainer[stages[0]] != 3*time.Millisecond {
		t.Fatalf("expected 3ms in first stage, got %v", stored.TimeInContainer[stages[0]])
	}
	if stored.EnteredContainerAt.Sub(stored.CreatedAt) != stored.TimeInContainer[stages[0]] {
		t.Fatalf("expected stay to match stored duration, got %v", stored.EnteredContainerAt.Sub(stored.CreatedAt))
	}
}

func TestRunFlusherRetriesInBackground(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, stages := f.kanban(t)
	f.cards.setFail(true)
	if _, err := p.CreateEntity(ctx, stages[0], domain.Patch{"title": "A"}); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	f.cards.setFail(false)

	done := make(chan struct{})
	go func() {
		f.svc.RunFlusher(ctx, 5*time.Millisecond)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for f.svc.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected background flush to drain the queue")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestSalesAndJobsBoards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sales, err := f.svc.Clients(ctx)
	if err != nil {
		t.Fatalf("Clients() error = %v", err)
	}
	lead := stageIDs(sales.State())[0]
	client, err := sales.CreateEntity(ctx, lead, domain.Patch{"name": "Ana", "company": "Acme", "client_type": "anunciante"})
	if err != nil {
		t.Fatalf("CreateEntity(client) error = %v", err)
	}
	if client.Label != "Ana (Acme)" || client.Kind != domain.KindSales {
		t.Fatalf("unexpected client view %#v", client)
	}
	if _, err := sales.CreateEntity(ctx, lead, domain.Patch{"name": "Bo", "client_type": "robot"}); !errors.Is(err, domain.ErrInvalidClientType) {
		t.Fatalf("expected ErrInvalidClientType, got %v", err)
	}

	jobs, err := f.svc.Jobs(ctx)
	if err != nil {
		t.Fatalf("Jobs() error = %v", err)
	}
	first := stageIDs(jobs.State())[0]
	if _, err := jobs.CreateEntity(ctx, first, domain.Patch{"title": "Spot", "value": "abc"}); !errors.Is(err, domain.ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	job, err := jobs.CreateEntity(ctx, first, domain.Patch{"title": "Spot", "value": "1500.5", "client_id": client.ID})
	if err != nil {
		t.Fatalf("CreateEntity(job) error = %v", err)
	}
	if job.Fields["value"] != "1500.5" || job.Fields["client_id"] != client.ID {
		t.Fatalf("unexpected job fields %#v", job.Fields)
	}
	if _, err := jobs.CreateEntity(ctx, "missing", domain.Patch{"title": "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown container, got %v", err)
	}
}
