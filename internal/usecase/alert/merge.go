package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/simaogato/obligations-backend/internal/domain"
)

// Outcome tells the caller what Merge decided and which write it needs
type Outcome int

const (
	// OutcomeUnchanged needs no write
	OutcomeUnchanged Outcome = iota
	// OutcomeInserted needs a Create
	OutcomeInserted
	// OutcomeRefreshed updated an OPEN record
	OutcomeRefreshed
	// OutcomeTouched only moved last-seen of a DISMISSED or RESOLVED record
	OutcomeTouched
	// OutcomeReopened woke a SNOOZED record whose deadline passed
	OutcomeReopened
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeTouched:
		return "touched"
	case OutcomeReopened:
		return "reopened"
	default:
		return "unchanged"
	}
}

// Merge folds a proposal into the stored record of its fingerprint and
// returns the next record. existing is never modified; nil means no record.
//   - none: insert OPEN
//   - OPEN: refresh message, severity and last-seen
//   - DISMISSED, RESOLVED: refresh last-seen only, never reopen
//   - SNOOZED: reopen once the deadline passed, otherwise leave untouched
func Merge(existing *domain.AlertRecord, p Proposal, now time.Time) (*domain.AlertRecord, Outcome) {
	now = now.UTC()
	if existing == nil {
		return &domain.AlertRecord{
			ID:          uuid.New(),
			WorkspaceID: p.WorkspaceID,
			Fingerprint: p.Fingerprint,
			Type:        p.Type,
			Severity:    p.Severity,
			Message:     p.Message,
			EntityID:    p.EntityID,
			Drilldown:   p.Drilldown,
			State:       domain.AlertStateOpen,
			FirstSeenAt: now,
			LastSeenAt:  now,
		}, OutcomeInserted
	}

	next := *existing
	switch existing.State {
	case domain.AlertStateOpen:
		refresh(&next, p, now)
		return &next, OutcomeRefreshed
	case domain.AlertStateDismissed, domain.AlertStateResolved:
		next.LastSeenAt = now
		return &next, OutcomeTouched
	case domain.AlertStateSnoozed:
		if existing.SnoozedUntil != nil && now.Before(*existing.SnoozedUntil) {
			return &next, OutcomeUnchanged
		}
		refresh(&next, p, now)
		next.State = domain.AlertStateOpen
		next.SnoozedUntil = nil
		return &next, OutcomeReopened
	default:
		return &next, OutcomeUnchanged
	}
}

func refresh(a *domain.AlertRecord, p Proposal, now time.Time) {
	a.Message = p.Message
	a.Severity = p.Severity
	a.Drilldown = p.Drilldown
	if p.EntityID != nil {
		a.EntityID = p.EntityID
	}
	a.LastSeenAt = now
}
