package domain

import (
	"strconv"
	"strings"
	"time"
)

// Job represents one production job in the jobs pipeline.
type Job struct {
	Tracking
	Annotations
	Title       string
	Description string
	Value       float64
	ClientID    string
	ProjectID   string
	Agency      string
	Producer    string
}

// JobInput holds input values for job creation.
type JobInput struct {
	ID          string
	ContainerID string
	Title       string
	Description string
	Value       float64
	ClientID    string
	ProjectID   string
	Agency      string
	Producer    string
}

// NewJob constructs a job entering its first jobs stage.
func NewJob(in JobInput, logID string, now time.Time) (*Job, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, ErrInvalidTitle
	}
	if in.Value < 0 {
		return nil, ErrInvalidValue
	}
	tracking, err := NewTracking(in.ID, in.ContainerID, logID, "Job created", now)
	if err != nil {
		return nil, err
	}
	return &Job{
		Tracking:    tracking,
		Title:       in.Title,
		Description: strings.TrimSpace(in.Description),
		Value:       in.Value,
		ClientID:    strings.TrimSpace(in.ClientID),
		ProjectID:   strings.TrimSpace(in.ProjectID),
		Agency:      strings.TrimSpace(in.Agency),
		Producer:    strings.TrimSpace(in.Producer),
	}, nil
}

// Label returns the display title.
func (j *Job) Label() string {
	return j.Title
}

// Markdown returns the job description.
func (j *Job) Markdown() string {
	return j.Description
}

// ApplyPatch updates editable job fields and reports which ones changed.
func (j *Job) ApplyPatch(p Patch, now time.Time) ([]string, error) {
	var changed []string
	if title, ok := p.value("title"); ok {
		if title == "" {
			return nil, ErrInvalidTitle
		}
		if title != j.Title {
			j.Title = title
			changed = append(changed, "title")
		}
	}
	if raw, ok := p.value("value"); ok {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value < 0 {
			return nil, ErrInvalidValue
		}
		if value != j.Value {
			j.Value = value
			changed = append(changed, "value")
		}
	}
	for _, field := range []struct {
		key string
		dst *string
	}{
		{"description", &j.Description},
		{"client_id", &j.ClientID},
		{"project_id", &j.ProjectID},
		{"agencia", &j.Agency},
		{"produtora", &j.Producer},
	} {
		if v, ok := p.value(field.key); ok && v != *field.dst {
			*field.dst = v
			changed = append(changed, field.key)
		}
	}
	if len(changed) > 0 {
		j.UpdatedAt = now.UTC()
	}
	return changed, nil
}

// Fields returns the kind-specific editable fields.
func (j *Job) Fields() map[string]string {
	return map[string]string{
		"title":       j.Title,
		"description": j.Description,
		"value":       strconv.FormatFloat(j.Value, 'f', -1, 64),
		"client_id":   j.ClientID,
		"project_id":  j.ProjectID,
		"agencia":     j.Agency,
		"produtora":   j.Producer,
	}
}
