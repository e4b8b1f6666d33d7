// Package check defines core types shared across the bulk-check subsystems.
package check

import (
	"time"

	"github.com/ozgrid/bulkcheck/internal/geo"
)

// Status is the outcome of an availability lookup for a subject.
type Status string

// Status values persisted in the result store.
const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
)

// Subject is one address to be evaluated. Equality is by Key only.
type Subject struct {
	Key     string  `json:"key"`
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// NewSubject builds a Subject with its normalized dedup key.
func NewSubject(address string, lat, lon float64) Subject {
	return Subject{
		Key:     geo.NormalizeAddress(address),
		Address: address,
		Lat:     lat,
		Lon:     lon,
	}
}

// EvaluationRecord is persisted once per subject on its first successful check.
type EvaluationRecord struct {
	Subject    Subject   `json:"subject"`
	Status     Status    `json:"status"`
	StatusText string    `json:"status_text,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	Method     string    `json:"method,omitempty"`
}

// Available reports whether the record marks the subject as serviceable.
func (r EvaluationRecord) Available() bool {
	return r.Status == StatusAvailable
}

// FailureEntry records a subject that exhausted its retry budget in a run.
type FailureEntry struct {
	Subject       Subject   `json:"subject"`
	Kind          ErrorKind `json:"kind"`
	Attempts      int       `json:"attempts"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
}
