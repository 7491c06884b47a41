package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEntry records the before/after state of a mutation
type AuditEntry struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	Subject     string // "obligation", "schedule_entry", "document", "alert"
	SubjectID   uuid.UUID
	Action      string
	Before      json.RawMessage
	After       json.RawMessage
	At          time.Time
}

// EventType names a domain event
type EventType string

const (
	EventScheduleGenerated   EventType = "schedule.generated"
	EventObligationCancelled EventType = "obligation.cancelled"
	EventObligationCompleted EventType = "obligation.completed"
	EventEntryLinked         EventType = "schedule_entry.linked"
	EventEntryUnlinked       EventType = "schedule_entry.unlinked"
	EventDocumentPaid        EventType = "document.paid"
	EventAlertOpened         EventType = "alert.opened"
	EventAlertResolved       EventType = "alert.resolved"
)

// Event is a domain event published after a successful mutation
type Event struct {
	ID          uuid.UUID         `json:"id"`
	Type        EventType         `json:"type"`
	WorkspaceID uuid.UUID         `json:"workspace_id"`
	SubjectID   uuid.UUID         `json:"subject_id"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// NewEvent builds an event with a fresh id
func NewEvent(t EventType, workspaceID, subjectID uuid.UUID, at time.Time, attrs map[string]string) Event {
	return Event{
		ID:          uuid.New(),
		Type:        t,
		WorkspaceID: workspaceID,
		SubjectID:   subjectID,
		OccurredAt:  at,
		Attributes:  attrs,
	}
}
