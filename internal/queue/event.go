// Package queue defines message payloads exchanged over the message broker
// and the consumer that records them.
package queue

import "time"

// CertificationQueue is the durable queue certification events go to.
const CertificationQueue = "certification.events"

// Event types.
const (
	EventSubmitted = "certification.submitted"
	EventApproved  = "certification.approved"
	EventDeleted   = "certification.deleted"
)

// CertificationEvent is published after a certification lifecycle change
// commits.  It carries enough to log or notify without reading the
// database.
type CertificationEvent struct {
	Type            string    `json:"type"`
	CertificationID string    `json:"certification_id"`
	Title           string    `json:"title"`
	StudentID       string    `json:"student_id"`
	FacultyID       string    `json:"faculty_id,omitempty"`
	ActorID         string    `json:"actor_id"`
	OccurredAt      time.Time `json:"occurred_at"`
}
