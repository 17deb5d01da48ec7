package board

import (
	"fmt"
	"time"

	"github.com/evanschultz/trackflow/internal/domain"
)

// unknownTitle stands in for a container that no longer resolves.
const unknownTitle = "?"

// Tracker accumulates time spent per container and writes MOVED audit entries.
// It is the only writer of TimeInContainer and of MOVED history entries.
type Tracker struct {
	clock Clock
	newID IDGenerator
}

// NewTracker constructs a tracker. Nil collaborators fall back to the wall clock and ULID ids.
func NewTracker(clock Clock, newID IDGenerator) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = NewLogID
	}
	return &Tracker{clock: clock, newID: newID}
}

// Now returns the tracker's current time in UTC, truncated to the
// millisecond precision durations are stored with.
func (t *Tracker) Now() time.Time {
	return t.clock().UTC().Truncate(time.Millisecond)
}

// NewID returns a fresh id from the tracker's generator.
func (t *Tracker) NewID() string {
	return t.newID()
}

// RecordTransition closes the stay in from, opens a stay in to and prepends a MOVED entry.
// It must run exactly once per genuine transition; calling it twice double counts.
func (t *Tracker) RecordTransition(tr *domain.Tracking, from, to string, titles map[string]string, now time.Time) domain.LogEntry {
	now = now.UTC().Truncate(time.Millisecond)
	elapsed := now.Sub(tr.EnteredContainerAt).Truncate(time.Millisecond)
	if elapsed < 0 {
		elapsed = 0
	}
	if tr.TimeInContainer == nil {
		tr.TimeInContainer = map[string]time.Duration{}
	}
	tr.TimeInContainer[from] += elapsed
	tr.EnteredContainerAt = now
	tr.ContainerID = to

	entry := domain.LogEntry{
		ID:        t.newID(),
		Action:    domain.LogActionMoved,
		Timestamp: now,
		Details:   fmt.Sprintf("Moved from %s to %s", titleOr(titles, from), titleOr(titles, to)),
	}
	tr.Prepend(entry)
	return entry
}

// CurrentStay returns the time accrued in the active container.
func CurrentStay(tr *domain.Tracking, now time.Time) time.Duration {
	stay := now.Sub(tr.EnteredContainerAt)
	if stay < 0 {
		return 0
	}
	return stay
}

// TotalInContainer returns accumulated time in containerID, including the active stay
// when the entity currently sits there.
func TotalInContainer(tr *domain.Tracking, containerID string, now time.Time) time.Duration {
	total := tr.TimeInContainer[containerID]
	if tr.ContainerID == containerID {
		total += CurrentStay(tr, now)
	}
	return total
}

// Lifetime returns the time since the entity was created.
func Lifetime(tr *domain.Tracking, now time.Time) time.Duration {
	life := now.Sub(tr.CreatedAt)
	if life < 0 {
		return 0
	}
	return life
}

func titleOr(titles map[string]string, id string) string {
	if title, ok := titles[id]; ok && title != "" {
		return title
	}
	return unknownTitle
}
