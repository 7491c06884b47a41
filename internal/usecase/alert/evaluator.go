package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
	"github.com/simaogato/obligations-backend/internal/usecase/cashflow"
)

const overdueCriticalDays = 30

// Snapshot is the schedule and ledger state one evaluation reads
type Snapshot struct {
	WorkspaceID  uuid.UUID
	Now          time.Time
	Entries      []*domain.ScheduleEntry     // PLANNED entries due up to the upcoming window
	Documents    []*domain.AggregateDocument // SENT documents without payment
	Unreconciled []*domain.Transaction       // transactions no entry references
	Projections  []*cashflow.Projection      // one per currency
}

// Proposal is an alert the evaluator wants to exist
type Proposal struct {
	WorkspaceID uuid.UUID
	Fingerprint string
	Type        domain.AlertType
	Severity    domain.AlertSeverity
	Message     string
	EntityID    *uuid.UUID
	Drilldown   *domain.Drilldown
}

// Fingerprint derives the deduplication key of an alert
func Fingerprint(t domain.AlertType, scope, bucket string) string {
	sum := sha256.Sum256([]byte(string(t) + "|" + scope + "|" + bucket))
	return hex.EncodeToString(sum[:])
}

// Evaluator turns a snapshot into proposals. It holds no state and never
// touches storage.
type Evaluator struct {
	Tuning config.AlertTuning
}

// NewEvaluator creates a new Evaluator instance
func NewEvaluator(tuning config.AlertTuning) *Evaluator {
	return &Evaluator{Tuning: tuning}
}

// Evaluate runs every rule over the snapshot. The result order is deterministic.
func (e *Evaluator) Evaluate(s Snapshot) []Proposal {
	today := day(s.Now)
	proposals := make([]Proposal, 0)
	proposals = append(proposals, e.entryRules(s, today)...)
	proposals = append(proposals, e.documentRule(s, today)...)
	proposals = append(proposals, e.projectionRule(s)...)
	proposals = append(proposals, e.unreconciledRule(s, today)...)
	return proposals
}

// entryRules covers OVERDUE_ENTRY and UPCOMING_DUE. The bucket is the due
// date so a rescheduled entry produces a fresh alert.
func (e *Evaluator) entryRules(s Snapshot, today time.Time) []Proposal {
	entries := append([]*domain.ScheduleEntry(nil), s.Entries...)
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].DueDate.Equal(entries[j].DueDate) {
			return entries[i].DueDate.Before(entries[j].DueDate)
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})

	horizon := today.AddDate(0, 0, e.Tuning.UpcomingDays)
	var out []Proposal
	for _, entry := range entries {
		if entry.Status != domain.EntryStatusPlanned {
			continue
		}
		due := day(entry.DueDate)
		bucket := due.Format(time.DateOnly)
		entityID := entry.EntityID
		drill := &domain.Drilldown{
			Path: "/obligations/" + entry.ObligationID.String() + "/schedule",
			Params: map[string]string{
				"entry_id": entry.ID.String(),
			},
		}

		switch {
		case due.Before(today):
			late := domain.DaysApart(due, today)
			severity := domain.SeverityWarning
			if late > overdueCriticalDays {
				severity = domain.SeverityCritical
			}
			out = append(out, Proposal{
				WorkspaceID: s.WorkspaceID,
				Fingerprint: Fingerprint(domain.AlertTypeOverdueEntry, entry.ID.String(), bucket),
				Type:        domain.AlertTypeOverdueEntry,
				Severity:    severity,
				Message:     fmt.Sprintf("Installment %d of %s %s was due on %s (%d days overdue)", entry.Sequence, money(entry.Amount, entry.Currency), entry.Currency, bucket, late),
				EntityID:    &entityID,
				Drilldown:   drill,
			})
		case !due.After(horizon):
			out = append(out, Proposal{
				WorkspaceID: s.WorkspaceID,
				Fingerprint: Fingerprint(domain.AlertTypeUpcomingDue, entry.ID.String(), bucket),
				Type:        domain.AlertTypeUpcomingDue,
				Severity:    domain.SeverityInfo,
				Message:     fmt.Sprintf("Installment %d of %s %s is due on %s", entry.Sequence, money(entry.Amount, entry.Currency), entry.Currency, bucket),
				EntityID:    &entityID,
				Drilldown:   drill,
			})
		}
	}
	return out
}

func (e *Evaluator) documentRule(s Snapshot, today time.Time) []Proposal {
	docs := append([]*domain.AggregateDocument(nil), s.Documents...)
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID.String() < docs[j].ID.String() })

	var out []Proposal
	for _, d := range docs {
		if d.Status != domain.DocumentStatusSent || d.TransactionID != nil {
			continue
		}
		due := day(d.DueDate)
		if !due.Before(today) {
			continue
		}
		bucket := due.Format(time.DateOnly)
		out = append(out, Proposal{
			WorkspaceID: s.WorkspaceID,
			Fingerprint: Fingerprint(domain.AlertTypeDocumentOverdue, d.ID.String(), bucket),
			Type:        domain.AlertTypeDocumentOverdue,
			Severity:    domain.SeverityWarning,
			Message:     fmt.Sprintf("Document %s of %s %s was due on %s and is unpaid", d.Number, money(d.Total, d.Currency), d.Currency, bucket),
			Drilldown: &domain.Drilldown{
				Path:   "/documents/" + d.ID.String(),
				Params: map[string]string{"obligation_id": d.ObligationID.String()},
			},
		})
	}
	return out
}

// projectionRule proposes one alert per currency, bucketed by the first
// month whose closing balance goes negative.
func (e *Evaluator) projectionRule(s Snapshot) []Proposal {
	projections := append([]*cashflow.Projection(nil), s.Projections...)
	sort.Slice(projections, func(i, j int) bool { return projections[i].Currency < projections[j].Currency })

	var out []Proposal
	for _, p := range projections {
		month, ok := p.FirstNegative()
		if !ok {
			continue
		}
		bucket := month.Start.Format("2006-01")
		out = append(out, Proposal{
			WorkspaceID: s.WorkspaceID,
			Fingerprint: Fingerprint(domain.AlertTypeNegativeProjection, p.Currency, bucket),
			Type:        domain.AlertTypeNegativeProjection,
			Severity:    domain.SeverityCritical,
			Message:     fmt.Sprintf("Projected %s balance turns negative in %s (%s)", p.Currency, bucket, money(month.Closing, p.Currency)),
			Drilldown: &domain.Drilldown{
				Path:   "/cashflow",
				Params: map[string]string{"currency": p.Currency, "month": bucket},
			},
		})
	}
	return out
}

// unreconciledRule groups aged unlinked transactions per entity, bucketed by
// ISO week so a backlog surfaces again each week it persists.
func (e *Evaluator) unreconciledRule(s Snapshot, today time.Time) []Proposal {
	counts := make(map[uuid.UUID]int)
	for _, tx := range s.Unreconciled {
		if tx.ReversalOf != nil {
			continue
		}
		if domain.DaysApart(day(tx.Date), today) < e.Tuning.UnreconciledMinAge || tx.Date.After(today) {
			continue
		}
		counts[tx.EntityID]++
	}

	entities := make([]uuid.UUID, 0, len(counts))
	for id := range counts {
		entities = append(entities, id)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].String() < entities[j].String() })

	year, week := today.ISOWeek()
	bucket := fmt.Sprintf("%d-W%02d", year, week)

	var out []Proposal
	for _, id := range entities {
		entityID := id
		out = append(out, Proposal{
			WorkspaceID: s.WorkspaceID,
			Fingerprint: Fingerprint(domain.AlertTypeUnreconciledTransactions, id.String(), bucket),
			Type:        domain.AlertTypeUnreconciledTransactions,
			Severity:    domain.SeverityWarning,
			Message:     fmt.Sprintf("%d transactions older than %d days are not reconciled", counts[id], e.Tuning.UnreconciledMinAge),
			EntityID:    &entityID,
			Drilldown: &domain.Drilldown{
				Path:   "/reconciliation",
				Params: map[string]string{"entity_id": id.String()},
			},
		})
	}
	return out
}

// money prints an amount with the minor unit digits of its currency
func money(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(domain.CurrencyExponent(currency))
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
