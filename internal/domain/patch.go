package domain

import "strings"

// Patch carries raw field edits keyed by field name.
type Patch map[string]string

// value returns the trimmed value for key and whether it was supplied.
func (p Patch) value(key string) (string, bool) {
	raw, ok := p[key]
	if !ok {
		return "", false
	}
	return strings.TrimSpace(raw), true
}
