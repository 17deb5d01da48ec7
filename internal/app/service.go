package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/evanschultz/trackflow/internal/domain"
)

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// StageTemplate describes one default stage of a new board.
type StageTemplate struct {
	Title string
	Color string
}

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	StageTemplates map[domain.Kind][]StageTemplate
	LogIDGen       IDGenerator
	Logger         *log.Logger
	// GestureTimeout is passed to every pipeline; zero uses DefaultGestureTimeout.
	GestureTimeout time.Duration
}

// Stores bundles the persistence collaborators of the service.
type Stores struct {
	Projects ProjectStore
	Cards    RecordStore[*domain.Card]
	Clients  RecordStore[*domain.Client]
	Jobs     RecordStore[*domain.Job]
	Files    FileStore
}

// Service is the hosting context of every board. It lazily loads one pipeline
// per project kanban board plus the global sales and jobs pipelines.
type Service struct {
	stores    Stores
	idGen     IDGenerator
	logIDGen  IDGenerator
	clock     Clock
	logger    *log.Logger
	templates map[domain.Kind][]StageTemplate
	// gestureIdle is the pipeline gesture timeout.
	gestureIdle time.Duration

	mu      sync.Mutex
	cards   map[string]*Pipeline[*domain.Card]
	clients *Pipeline[*domain.Client]
	jobs    *Pipeline[*domain.Job]
}

// NewService constructs a new value for this package.
func NewService(stores Stores, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = uuid.NewString
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	templates := DefaultStageTemplates()
	for kind, tpls := range cfg.StageTemplates {
		if clean := sanitizeStageTemplates(tpls); len(clean) > 0 {
			templates[kind] = clean
		}
	}
	return &Service{
		stores:      stores,
		idGen:       idGen,
		logIDGen:    cfg.LogIDGen,
		clock:       clock,
		logger:      cfg.Logger,
		templates:   templates,
		gestureIdle: cfg.GestureTimeout,
		cards:       map[string]*Pipeline[*domain.Card]{},
	}
}

// DefaultStageTemplates returns the stages seeded into empty boards.
func DefaultStageTemplates() map[domain.Kind][]StageTemplate {
	return map[domain.Kind][]StageTemplate{
		domain.KindKanban: {
			{Title: "To Do"},
			{Title: "In Progress"},
			{Title: "Review"},
			{Title: "Approved"},
		},
		domain.KindSales: {
			{Title: "Lead", Color: "blue"},
			{Title: "Contacted", Color: "purple"},
			{Title: "Proposal", Color: "amber"},
			{Title: "Won", Color: "green"},
		},
		domain.KindJobs: {
			{Title: "To Do"},
			{Title: "In Progress"},
			{Title: "Review"},
			{Title: "Approved"},
		},
	}
}

// sanitizeStageTemplates drops blank and duplicate titles.
func sanitizeStageTemplates(in []StageTemplate) []StageTemplate {
	out := make([]StageTemplate, 0, len(in))
	seen := map[string]struct{}{}
	for _, tpl := range in {
		tpl.Title = strings.TrimSpace(tpl.Title)
		tpl.Color = strings.TrimSpace(tpl.Color)
		if tpl.Title == "" {
			continue
		}
		key := strings.ToLower(tpl.Title)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tpl)
	}
	return out
}

// EnsureDefaultProject ensures default project.
func (s *Service) EnsureDefaultProject(ctx context.Context) (domain.Project, error) {
	projects, err := s.stores.Projects.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) > 0 {
		return projects[0], nil
	}
	return s.CreateProject(ctx, "Inbox", "Default project")
}

// CreateProject creates a project. Its kanban board is seeded on first load.
func (s *Service) CreateProject(ctx context.Context, name, description string) (domain.Project, error) {
	project, err := domain.NewProject(s.idGen(), name, description, s.clock())
	if err != nil {
		return domain.Project{}, err
	}
	if err := s.stores.Projects.UpsertProject(ctx, project); err != nil {
		return domain.Project{}, err
	}
	s.logger.Info("project created", "project_id", project.ID, "slug", project.Slug)
	return project, nil
}

// ListProjects lists every project.
func (s *Service) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return s.stores.Projects.ListProjects(ctx)
}

// Board resolves the board of a kind. Kanban boards require a project scope.
func (s *Service) Board(ctx context.Context, kind domain.Kind, scopeID string) (Board, error) {
	var (
		b   Board
		err error
	)
	switch domain.NormalizeKind(kind) {
	case domain.KindKanban:
		var p *Pipeline[*domain.Card]
		p, err = s.Cards(ctx, scopeID)
		b = p
	case domain.KindSales:
		var p *Pipeline[*domain.Client]
		p, err = s.Clients(ctx)
		b = p
	case domain.KindJobs:
		var p *Pipeline[*domain.Job]
		p, err = s.Jobs(ctx)
		b = p
	default:
		return nil, domain.ErrInvalidKind
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Cards returns the kanban pipeline of one project.
func (s *Service) Cards(ctx context.Context, projectID string) (*Pipeline[*domain.Card], error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.cards[projectID]; ok {
		return p, nil
	}
	if _, err := s.stores.Projects.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("project %q: %w", projectID, err)
	}
	p, err := LoadPipeline(ctx, PipelineConfig[*domain.Card]{
		Kind:      domain.KindKanban,
		ScopeID:   projectID,
		Store:     s.stores.Cards,
		Files:     s.stores.Files,
		Factory:   newCard,
		IDGen:     s.idGen,
		LogID:     s.logIDGen,
		Clock:     s.clock,
		Logger:    s.logger,
		Templates: s.templates[domain.KindKanban],

		GestureTimeout: s.gestureIdle,
	})
	if err != nil {
		return nil, err
	}
	s.cards[projectID] = p
	return p, nil
}

// Clients returns the sales pipeline.
func (s *Service) Clients(ctx context.Context) (*Pipeline[*domain.Client], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients != nil {
		return s.clients, nil
	}
	p, err := LoadPipeline(ctx, PipelineConfig[*domain.Client]{
		Kind:      domain.KindSales,
		Store:     s.stores.Clients,
		Files:     s.stores.Files,
		Factory:   newClient,
		IDGen:     s.idGen,
		LogID:     s.logIDGen,
		Clock:     s.clock,
		Logger:    s.logger,
		Templates: s.templates[domain.KindSales],

		GestureTimeout: s.gestureIdle,
	})
	if err != nil {
		return nil, err
	}
	s.clients = p
	return p, nil
}

// Jobs returns the jobs pipeline.
func (s *Service) Jobs(ctx context.Context) (*Pipeline[*domain.Job], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs != nil {
		return s.jobs, nil
	}
	p, err := LoadPipeline(ctx, PipelineConfig[*domain.Job]{
		Kind:      domain.KindJobs,
		Store:     s.stores.Jobs,
		Files:     s.stores.Files,
		Factory:   newJob,
		IDGen:     s.idGen,
		LogID:     s.logIDGen,
		Clock:     s.clock,
		Logger:    s.logger,
		Templates: s.templates[domain.KindJobs],

		GestureTimeout: s.gestureIdle,
	})
	if err != nil {
		return nil, err
	}
	s.jobs = p
	return p, nil
}

// Flush retries queued writes on every loaded board.
func (s *Service) Flush(ctx context.Context) error {
	var errs []error
	for _, b := range s.loaded() {
		if err := b.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush %s board: %w", b.Kind(), err))
		}
	}
	return errors.Join(errs...)
}

// Pending returns the number of queued writes across loaded boards.
func (s *Service) Pending() int {
	total := 0
	for _, b := range s.loaded() {
		total += b.Pending()
	}
	return total
}

// RunFlusher retries queued writes every interval until ctx ends.
func (s *Service) RunFlusher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Pending() == 0 {
				continue
			}
			if err := s.Flush(ctx); err != nil {
				s.logger.Warn("background flush failed", "err", err)
			}
		}
	}
}

// forget drops every cached pipeline so the next access reloads from storage.
func (s *Service) forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = map[string]*Pipeline[*domain.Card]{}
	s.clients = nil
	s.jobs = nil
}

func (s *Service) loaded() []Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Board, 0, len(s.cards)+2)
	for _, p := range s.cards {
		out = append(out, p)
	}
	if s.clients != nil {
		out = append(out, s.clients)
	}
	if s.jobs != nil {
		out = append(out, s.jobs)
	}
	return out
}

func newCard(in NewEntityInput, now time.Time) (*domain.Card, error) {
	return domain.NewCard(domain.CardInput{
		ID:          in.ID,
		ProjectID:   in.ScopeID,
		ContainerID: in.ContainerID,
		Title:       in.Fields["title"],
		Description: in.Fields["description"],
	}, in.LogID, now)
}

func newClient(in NewEntityInput, now time.Time) (*domain.Client, error) {
	return domain.NewClient(domain.ClientInput{
		ID:          in.ID,
		ContainerID: in.ContainerID,
		Name:        in.Fields["name"],
		Company:     in.Fields["company"],
		Email:       in.Fields["email"],
		Phone:       in.Fields["phone"],
		Notes:       in.Fields["notes"],
		ClientType:  domain.ClientType(in.Fields["client_type"]),
	}, in.LogID, now)
}

func newJob(in NewEntityInput, now time.Time) (*domain.Job, error) {
	value := 0.0
	if raw := strings.TrimSpace(in.Fields["value"]); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, domain.ErrInvalidValue
		}
		value = parsed
	}
	return domain.NewJob(domain.JobInput{
		ID:          in.ID,
		ContainerID: in.ContainerID,
		Title:       in.Fields["title"],
		Description: in.Fields["description"],
		Value:       value,
		ClientID:    in.Fields["client_id"],
		ProjectID:   in.Fields["project_id"],
		Agency:      in.Fields["agencia"],
		Producer:    in.Fields["produtora"],
	}, in.LogID, now)
}
