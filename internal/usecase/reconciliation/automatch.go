package reconciliation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
)

// Score weights of the auto-matcher
const (
	ScoreAmount = 50
	ScoreDate   = 30
	ScoreEntity = 20
)

// Evidence records which criteria a candidate pair satisfied
type Evidence struct {
	AmountMatch bool            `json:"amount_match"`
	DateMatch   bool            `json:"date_match"`
	EntityMatch bool            `json:"entity_match"`
	AmountDelta decimal.Decimal `json:"amount_delta"`
	DayDistance int             `json:"day_distance"`
}

// Candidate is a scored (entry, transaction) pair
type Candidate struct {
	EntryID       uuid.UUID `json:"entry_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Confidence    int       `json:"confidence"`
	Evidence      Evidence  `json:"evidence"`
	DueDate       time.Time `json:"due_date"`
	Selected      bool      `json:"selected"`
}

// MatchResult holds every scored candidate and the greedy selection
type MatchResult struct {
	Candidates []Candidate
	Selected   []Candidate
}

// ItemFailure is one candidate that could not be applied
type ItemFailure struct {
	EntryID       uuid.UUID
	TransactionID uuid.UUID
	Err           error
}

// ApplyResult summarises a batch of applied matches
type ApplyResult struct {
	Applied  int
	Skipped  int
	Failures []ItemFailure
}

// AutoMatch scores unlinked PLANNED entries of a workspace against unlinked
// transactions. Entries bundled in an open document settle through the
// document and are left out. When txs is nil every unlinked transaction of the workspace
// is considered.
// Logic:
//  1. +50 amount within AmountToleranceMinor, +30 date within DateWindowDays, +20 same entity
//  2. Keep pairs scoring above zero, sort by confidence descending
//  3. Greedy pass: accept a pair when neither side was accepted before
func (s *ReconciliationService) AutoMatch(ctx context.Context, workspaceID uuid.UUID, txs []*domain.Transaction) (*MatchResult, error) {
	const op = "reconciliation.AutoMatch"

	ctx, span := tracer.Start(ctx, "reconciliation.autoMatch")
	defer span.End()
	span.SetAttributes(attribute.String("workspace_id", workspaceID.String()))

	if err := domain.CheckScope(ctx, op, workspaceID); err != nil {
		return nil, err
	}

	entries, err := s.EntryRepo.List(ctx, domain.EntryFilter{
		WorkspaceID: workspaceID,
		Statuses:    []domain.EntryStatus{domain.EntryStatusPlanned},
		Unlinked:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule entries: %w", err)
	}
	entries, err = s.withoutBundled(ctx, entries)
	if err != nil {
		return nil, err
	}

	unlinked, err := s.TransactionRepo.ListUnlinked(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlinked transactions: %w", err)
	}
	if txs != nil {
		available := make(map[uuid.UUID]bool, len(unlinked))
		for _, tx := range unlinked {
			available[tx.ID] = true
		}
		filtered := make([]*domain.Transaction, 0, len(txs))
		for _, tx := range txs {
			if tx.WorkspaceID == workspaceID && available[tx.ID] {
				filtered = append(filtered, tx)
			}
		}
		unlinked = filtered
	}

	candidates := Score(entries, unlinked, s.Tuning)
	result := Select(candidates)

	span.SetAttributes(
		attribute.Int("entries", len(entries)),
		attribute.Int("transactions", len(unlinked)),
		attribute.Int("candidates", len(result.Candidates)),
		attribute.Int("selected", len(result.Selected)),
	)
	return result, nil
}

func (s *ReconciliationService) withoutBundled(ctx context.Context, entries []*domain.ScheduleEntry) ([]*domain.ScheduleEntry, error) {
	if s.DocumentRepo == nil || len(entries) == 0 {
		return entries, nil
	}
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	docs, err := s.DocumentRepo.ListOpenByEntries(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to check document bundles: %w", err)
	}
	if len(docs) == 0 {
		return entries, nil
	}
	bundled := make(map[uuid.UUID]bool)
	for _, d := range docs {
		for _, id := range d.EntryIDs {
			bundled[id] = true
		}
	}
	kept := make([]*domain.ScheduleEntry, 0, len(entries))
	for _, e := range entries {
		if !bundled[e.ID] {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

// Score computes every candidate pair with a positive confidence
func Score(entries []*domain.ScheduleEntry, txs []*domain.Transaction, tuning config.MatchingTuning) []Candidate {
	var candidates []Candidate
	for _, e := range entries {
		exp := domain.CurrencyExponent(e.Currency)
		for _, tx := range txs {
			if tx.Currency != e.Currency {
				continue
			}
			ev := Evidence{
				AmountDelta: e.SignedAmount().Sub(tx.Amount).Abs(),
				DayDistance: domain.DaysApart(e.DueDate, tx.Date),
				EntityMatch: e.EntityID == tx.EntityID,
			}
			ev.AmountMatch = domain.WithinMinorUnits(e.SignedAmount(), tx.Amount, tuning.AmountToleranceMinor, exp)
			ev.DateMatch = ev.DayDistance <= tuning.DateWindowDays

			confidence := 0
			if ev.AmountMatch {
				confidence += ScoreAmount
			}
			if ev.DateMatch {
				confidence += ScoreDate
			}
			if ev.EntityMatch {
				confidence += ScoreEntity
			}
			if confidence == 0 {
				continue
			}
			candidates = append(candidates, Candidate{
				EntryID:       e.ID,
				TransactionID: tx.ID,
				Confidence:    confidence,
				Evidence:      ev,
				DueDate:       e.DueDate,
			})
		}
	}
	sortCandidates(candidates)
	return candidates
}

// Select runs the greedy one-to-one assignment over sorted candidates
func Select(candidates []Candidate) *MatchResult {
	result := &MatchResult{Candidates: make([]Candidate, len(candidates))}
	copy(result.Candidates, candidates)
	sortCandidates(result.Candidates)

	usedEntries := make(map[uuid.UUID]bool)
	usedTxs := make(map[uuid.UUID]bool)
	for i := range result.Candidates {
		c := &result.Candidates[i]
		if usedEntries[c.EntryID] || usedTxs[c.TransactionID] {
			continue
		}
		c.Selected = true
		usedEntries[c.EntryID] = true
		usedTxs[c.TransactionID] = true
		result.Selected = append(result.Selected, *c)
	}
	return result
}

// DefaultThreshold asks ApplyAutoMatches for the tuned auto-apply threshold
const DefaultThreshold = -1

// ApplyAutoMatches links candidates at or above threshold in descending
// confidence order. A negative threshold (DefaultThreshold) uses the tuned
// default; zero applies every candidate.
// Failures are logged and collected; they never abort the batch.
func (s *ReconciliationService) ApplyAutoMatches(ctx context.Context, candidates []Candidate, threshold int) *ApplyResult {
	if threshold < 0 {
		threshold = s.Tuning.AutoApplyThreshold
	}

	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sortCandidates(ordered)

	result := &ApplyResult{}
	usedEntries := make(map[uuid.UUID]bool)
	usedTxs := make(map[uuid.UUID]bool)
	for _, c := range ordered {
		if c.Confidence < threshold {
			continue
		}
		if usedEntries[c.EntryID] || usedTxs[c.TransactionID] {
			result.Skipped++
			continue
		}
		if _, err := s.Link(ctx, c.EntryID, c.TransactionID); err != nil {
			config.LogError(s.Logger, "reconciliation", "ApplyAutoMatches", "failed to apply match",
				map[string]any{"entry_id": c.EntryID.String(), "transaction_id": c.TransactionID.String(), "confidence": c.Confidence}, err)
			result.Failures = append(result.Failures, ItemFailure{EntryID: c.EntryID, TransactionID: c.TransactionID, Err: err})
			continue
		}
		usedEntries[c.EntryID] = true
		usedTxs[c.TransactionID] = true
		result.Applied++
	}
	return result
}

// sortCandidates orders by confidence desc, then day distance, amount delta,
// due date and ids so the order is deterministic
func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		a, b := c[i], c[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Evidence.DayDistance != b.Evidence.DayDistance {
			return a.Evidence.DayDistance < b.Evidence.DayDistance
		}
		if cmp := a.Evidence.AmountDelta.Cmp(b.Evidence.AmountDelta); cmp != 0 {
			return cmp < 0
		}
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.EntryID != b.EntryID {
			return a.EntryID.String() < b.EntryID.String()
		}
		return a.TransactionID.String() < b.TransactionID.String()
	})
}
