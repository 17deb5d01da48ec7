package domain

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// LogAction describes what an audit log entry records.
type LogAction string

// LogAction values.
const (
	LogActionCreated         LogAction = "CREATED"
	LogActionMoved           LogAction = "MOVED"
	LogActionCommentAdded    LogAction = "COMMENT_ADDED"
	LogActionAttachmentAdded LogAction = "ATTACHMENT_ADDED"
	LogActionUpdated         LogAction = "UPDATED"
)

// LogEntry represents one immutable audit record on an entity.
type LogEntry struct {
	ID        string
	Action    LogAction
	Timestamp time.Time
	Details   string
}

// Tracking holds the container membership and stage-duration bookkeeping
// shared by every movable entity. It is embedded by Card, Client and Job.
type Tracking struct {
	ID                 string
	ContainerID        string
	Position           int
	EnteredContainerAt time.Time
	// TimeInContainer excludes the stay in the current container.
	TimeInContainer map[string]time.Duration
	// History is ordered newest first.
	History   []LogEntry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTracking constructs tracking state for an entity entering its first container.
func NewTracking(id, containerID, logID, createdDetails string, now time.Time) (Tracking, error) {
	id = strings.TrimSpace(id)
	containerID = strings.TrimSpace(containerID)
	logID = strings.TrimSpace(logID)
	if id == "" || logID == "" {
		return Tracking{}, ErrInvalidID
	}
	if containerID == "" {
		return Tracking{}, ErrInvalidContainerID
	}
	if strings.TrimSpace(createdDetails) == "" {
		createdDetails = "created"
	}
	ts := now.UTC()
	return Tracking{
		ID:                 id,
		ContainerID:        containerID,
		EnteredContainerAt: ts,
		TimeInContainer:    map[string]time.Duration{containerID: 0},
		History: []LogEntry{{
			ID:        logID,
			Action:    LogActionCreated,
			Timestamp: ts,
			Details:   createdDetails,
		}},
		CreatedAt: ts,
		UpdatedAt: ts,
	}, nil
}

// Track exposes the tracking state so embedding types satisfy the board entity contract.
func (t *Tracking) Track() *Tracking {
	return t
}

// Prepend records an entry at the head of the history.
func (t *Tracking) Prepend(entry LogEntry) {
	t.History = slices.Insert(t.History, 0, entry)
	t.UpdatedAt = entry.Timestamp.UTC()
}

// Accumulated returns the time recorded for containerID, excluding any active stay.
func (t *Tracking) Accumulated(containerID string) time.Duration {
	return t.TimeInContainer[containerID]
}

// CloneTracking returns a deep copy of the tracking state.
func CloneTracking(t Tracking) Tracking {
	out := t
	out.TimeInContainer = maps.Clone(t.TimeInContainer)
	if out.TimeInContainer == nil {
		out.TimeInContainer = map[string]time.Duration{}
	}
	out.History = slices.Clone(t.History)
	return out
}
