package domain

import (
	"strings"
	"time"
)

// Card represents one kanban card inside a project board.
type Card struct {
	Tracking
	Annotations
	ProjectID   string
	Title       string
	Description string
}

// CardInput holds input values for card creation.
type CardInput struct {
	ID          string
	ProjectID   string
	ContainerID string
	Title       string
	Description string
}

// NewCard constructs a card entering its first column.
func NewCard(in CardInput, logID string, now time.Time) (*Card, error) {
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.Title = strings.TrimSpace(in.Title)
	if in.ProjectID == "" {
		return nil, ErrInvalidID
	}
	if in.Title == "" {
		return nil, ErrInvalidTitle
	}
	tracking, err := NewTracking(in.ID, in.ContainerID, logID, "Card created", now)
	if err != nil {
		return nil, err
	}
	return &Card{
		Tracking:    tracking,
		ProjectID:   in.ProjectID,
		Title:       in.Title,
		Description: strings.TrimSpace(in.Description),
	}, nil
}

// Label returns the display title.
func (c *Card) Label() string {
	return c.Title
}

// Markdown returns the long-form description.
func (c *Card) Markdown() string {
	return c.Description
}

// ApplyPatch updates editable card fields and reports which ones changed.
func (c *Card) ApplyPatch(p Patch, now time.Time) ([]string, error) {
	var changed []string
	if title, ok := p.value("title"); ok {
		if title == "" {
			return nil, ErrInvalidTitle
		}
		if title != c.Title {
			c.Title = title
			changed = append(changed, "title")
		}
	}
	if desc, ok := p.value("description"); ok && desc != c.Description {
		c.Description = desc
		changed = append(changed, "description")
	}
	if len(changed) > 0 {
		c.UpdatedAt = now.UTC()
	}
	return changed, nil
}

// Fields returns the kind-specific editable fields.
func (c *Card) Fields() map[string]string {
	return map[string]string{
		"project_id":  c.ProjectID,
		"title":       c.Title,
		"description": c.Description,
	}
}
