package domain

import (
	"slices"
	"strings"
)

// Kind identifies one of the boards hosted by the application.
type Kind string

// Kind values.
const (
	KindKanban Kind = "kanban"
	KindSales  Kind = "sales"
	KindJobs   Kind = "jobs"
)

// validKinds stores every supported board kind.
var validKinds = []Kind{KindKanban, KindSales, KindJobs}

// Kinds returns the supported board kinds in display order.
func Kinds() []Kind {
	return slices.Clone(validKinds)
}

// NormalizeKind canonicalizes a board kind value.
func NormalizeKind(kind Kind) Kind {
	return Kind(strings.TrimSpace(strings.ToLower(string(kind))))
}

// ParseKind validates and canonicalizes a raw board kind.
func ParseKind(raw string) (Kind, error) {
	kind := NormalizeKind(Kind(raw))
	if !slices.Contains(validKinds, kind) {
		return "", ErrInvalidKind
	}
	return kind, nil
}

// Scoped reports whether containers of this kind belong to a project.
func (k Kind) Scoped() bool {
	return k == KindKanban
}
