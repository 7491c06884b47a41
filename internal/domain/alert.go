package domain

import (
	"time"

	"github.com/google/uuid"
)

// AlertType identifies the rule that produced an alert
type AlertType string

const (
	AlertTypeOverdueEntry             AlertType = "OVERDUE_ENTRY"
	AlertTypeUpcomingDue              AlertType = "UPCOMING_DUE"
	AlertTypeDocumentOverdue          AlertType = "DOCUMENT_OVERDUE"
	AlertTypeNegativeProjection       AlertType = "NEGATIVE_PROJECTED_CASHFLOW"
	AlertTypeUnreconciledTransactions AlertType = "UNRECONCILED_TRANSACTIONS"
)

// AutoResolvable reports whether an open alert of this type resolves by
// itself once the condition stops being proposed.
func (t AlertType) AutoResolvable() bool {
	switch t {
	case AlertTypeOverdueEntry, AlertTypeUpcomingDue, AlertTypeDocumentOverdue, AlertTypeUnreconciledTransactions:
		return true
	default:
		return false
	}
}

// AlertSeverity ranks alerts for presentation
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// AlertState is the lifecycle state of a persisted alert
type AlertState string

const (
	AlertStateOpen      AlertState = "OPEN"
	AlertStateDismissed AlertState = "DISMISSED"
	AlertStateSnoozed   AlertState = "SNOOZED"
	AlertStateResolved  AlertState = "RESOLVED"
)

// Drilldown points the presentation layer at the view explaining an alert
type Drilldown struct {
	Path   string            `json:"path"`
	Params map[string]string `json:"params,omitempty"`
}

// AlertRecord is the persisted, fingerprint-deduplicated form of an alert
type AlertRecord struct {
	ID           uuid.UUID
	WorkspaceID  uuid.UUID
	Fingerprint  string // unique per workspace
	Type         AlertType
	Severity     AlertSeverity
	Message      string
	EntityID     *uuid.UUID
	Drilldown    *Drilldown
	State        AlertState
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
	SnoozedUntil *time.Time
	ResolvedAt   *time.Time
}

// AlertFilter selects alert records
type AlertFilter struct {
	WorkspaceID uuid.UUID
	EntityID    *uuid.UUID
	Severities  []AlertSeverity
	States      []AlertState
}

// Matches applies the filter to a single record (used by in-memory stores)
func (f AlertFilter) Matches(a *AlertRecord) bool {
	if f.WorkspaceID != uuid.Nil && a.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.EntityID != nil && (a.EntityID == nil || *a.EntityID != *f.EntityID) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, a.Severity) {
		return false
	}
	if len(f.States) > 0 && !containsState(f.States, a.State) {
		return false
	}
	return true
}

func containsSeverity(list []AlertSeverity, s AlertSeverity) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsState(list []AlertState, s AlertState) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
