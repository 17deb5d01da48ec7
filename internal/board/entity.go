package board

import (
	"crypto/rand"
	"time"

	"github.com/evanschultz/trackflow/internal/domain"
	"github.com/oklog/ulid/v2"
)

// Entity is anything that lives in a board container and carries stage tracking.
// Cards, clients and jobs satisfy it through their embedded domain.Tracking.
type Entity interface {
	Track() *domain.Tracking
}

// IDGenerator returns a fresh unique identifier.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// NewLogID returns a lexically sortable id for audit log entries.
func NewLogID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

func idOf[E Entity](e E) string {
	return e.Track().ID
}
