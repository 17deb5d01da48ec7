package app

import (
	"context"
	"io"

	"github.com/evanschultz/trackflow/internal/board"
	"github.com/evanschultz/trackflow/internal/domain"
)

// RecordStore persists the containers and entities of one board kind.
type RecordStore[E board.Entity] interface {
	ListContainers(ctx context.Context, scopeID string) ([]domain.Container, error)
	ListEntities(ctx context.Context, containerIDs []string) ([]E, error)
	UpsertContainer(ctx context.Context, c domain.Container) error
	UpsertEntity(ctx context.Context, e E) error
	DeleteContainer(ctx context.Context, id string) error
	DeleteEntity(ctx context.Context, id string) error
}

// ProjectStore persists projects that scope kanban boards.
type ProjectStore interface {
	UpsertProject(context.Context, domain.Project) error
	GetProject(context.Context, string) (domain.Project, error)
	ListProjects(context.Context) ([]domain.Project, error)
}

// FileStore holds attachment payloads.
type FileStore interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, key string) error
}
