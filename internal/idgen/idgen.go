// Package idgen produces opaque stable identifiers for tasks and broker
// submissions.
package idgen

import "github.com/google/uuid"

// New returns a new random identifier string.
func New() string {
	return uuid.New().String()
}

// NewPrefixed returns a new identifier with a human-readable prefix, used
// for submission ids so log lines are greppable by kind (e.g. "sub-...").
func NewPrefixed(prefix string) string {
	return prefix + "-" + uuid.New().String()
}
