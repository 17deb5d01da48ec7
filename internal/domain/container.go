package domain

import (
	"strings"
	"time"
)

// Container represents one stage (column) of a board.
type Container struct {
	ID        string
	Kind      Kind
	ScopeID   string
	Title     string
	Color     string
	Order     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ContainerInput holds input values for container creation.
type ContainerInput struct {
	ID      string
	Kind    Kind
	ScopeID string
	Title   string
	Color   string
	Order   int
}

// NewContainer constructs a validated container.
func NewContainer(in ContainerInput, now time.Time) (Container, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.ScopeID = strings.TrimSpace(in.ScopeID)
	in.Title = strings.TrimSpace(in.Title)
	in.Color = strings.TrimSpace(in.Color)
	if in.ID == "" {
		return Container{}, ErrInvalidID
	}
	kind, err := ParseKind(string(in.Kind))
	if err != nil {
		return Container{}, err
	}
	if kind.Scoped() && in.ScopeID == "" {
		return Container{}, ErrInvalidID
	}
	if in.Title == "" {
		return Container{}, ErrInvalidTitle
	}
	if in.Order < 0 {
		return Container{}, ErrInvalidPosition
	}

	return Container{
		ID:        in.ID,
		Kind:      kind,
		ScopeID:   in.ScopeID,
		Title:     in.Title,
		Color:     in.Color,
		Order:     in.Order,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// Rename changes the container title.
func (c *Container) Rename(title string, now time.Time) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrInvalidTitle
	}
	c.Title = title
	c.UpdatedAt = now.UTC()
	return nil
}

// SetColor updates the display color.
func (c *Container) SetColor(color string, now time.Time) {
	c.Color = strings.TrimSpace(color)
	c.UpdatedAt = now.UTC()
}

// SetOrder handles set order.
func (c *Container) SetOrder(order int, now time.Time) error {
	if order < 0 {
		return ErrInvalidPosition
	}
	c.Order = order
	c.UpdatedAt = now.UTC()
	return nil
}
