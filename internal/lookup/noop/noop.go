// Package noop provides a lookup that answers without touching any external
// service, for development wiring and smoke tests.
package noop

import (
	"context"

	"github.com/ozgrid/bulkcheck/internal/check"
)

// Lookup always reports the configured status.
type Lookup struct {
	Status check.Status
}

// New returns a Lookup that reports every subject as unavailable.
func New() *Lookup {
	return &Lookup{Status: check.StatusUnavailable}
}

// Lookup implements check.Lookup.
func (l *Lookup) Lookup(_ context.Context, _ check.Subject) (check.Status, string, error) {
	status := l.Status
	if status == "" {
		status = check.StatusUnavailable
	}
	return status, "noop", nil
}
