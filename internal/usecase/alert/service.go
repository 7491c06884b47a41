package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
	"github.com/simaogato/obligations-backend/internal/usecase/audit"
	"github.com/simaogato/obligations-backend/internal/usecase/cashflow"
)

var tracer = otel.Tracer("github.com/simaogato/obligations-backend/internal/usecase/alert")

var stateTransitions = map[domain.AlertState][]domain.AlertState{
	domain.AlertStateOpen:      {domain.AlertStateDismissed, domain.AlertStateSnoozed, domain.AlertStateResolved},
	domain.AlertStateSnoozed:   {domain.AlertStateDismissed, domain.AlertStateOpen},
	domain.AlertStateDismissed: {domain.AlertStateOpen},
	domain.AlertStateResolved:  {domain.AlertStateOpen},
}

// ItemFailure is one proposal or record a sweep could not persist
type ItemFailure struct {
	Fingerprint string
	Err         error
}

// SweepResult summarises one workspace sweep
type SweepResult struct {
	WorkspaceID uuid.UUID
	Proposed    int
	Inserted    int
	Refreshed   int
	Touched     int
	Reopened    int
	Resolved    int
	Failures    []ItemFailure
}

// TenantFailure is a workspace whose sweep failed as a whole
type TenantFailure struct {
	WorkspaceID uuid.UUID
	Err         error
}

// SweepAllResult summarises a multi-tenant sweep
type SweepAllResult struct {
	Results  []*SweepResult
	Failures []TenantFailure
}

// AlertService evaluates alert rules and persists their outcome with
// fingerprint deduplication.
type AlertService struct {
	AlertRepo       domain.AlertRepository
	ObligationRepo  domain.ObligationRepository
	EntryRepo       domain.ScheduleEntryRepository
	DocumentRepo    domain.DocumentRepository
	TransactionRepo domain.TransactionRepository
	Cashflow        *cashflow.CashflowService
	Evaluator       *Evaluator
	Tuning          config.AlertTuning
	Recorder        *audit.Recorder
	Logger          *logrus.Logger
	Now             func() time.Time
}

// NewAlertService creates a new AlertService instance
func NewAlertService(
	alertRepo domain.AlertRepository,
	obligationRepo domain.ObligationRepository,
	entryRepo domain.ScheduleEntryRepository,
	documentRepo domain.DocumentRepository,
	transactionRepo domain.TransactionRepository,
	tuning config.AlertTuning,
	recorder *audit.Recorder,
	logger *logrus.Logger,
) *AlertService {
	if logger == nil {
		logger = config.NewDiscardLogger()
	}
	return &AlertService{
		AlertRepo:       alertRepo,
		ObligationRepo:  obligationRepo,
		EntryRepo:       entryRepo,
		DocumentRepo:    documentRepo,
		TransactionRepo: transactionRepo,
		Cashflow:        cashflow.NewCashflowService(entryRepo, transactionRepo),
		Evaluator:       NewEvaluator(tuning),
		Tuning:          tuning,
		Recorder:        recorder,
		Logger:          logger,
		Now:             time.Now,
	}
}

// Sweep evaluates the workspace and upserts every proposal
// Logic:
//  1. Load the snapshot (planned entries, unpaid documents, unlinked transactions, projections)
//  2. Evaluate the rules
//  3. Merge each proposal into the record of its fingerprint; a failing proposal is logged and skipped
func (s *AlertService) Sweep(ctx context.Context, workspaceID uuid.UUID, now time.Time) (*SweepResult, error) {
	const op = "alert.Sweep"

	if err := domain.CheckScope(ctx, op, workspaceID); err != nil {
		return nil, err
	}

	snapshot, err := s.snapshot(ctx, workspaceID, now)
	if err != nil {
		return nil, err
	}
	proposals := s.Evaluator.Evaluate(snapshot)

	result := &SweepResult{WorkspaceID: workspaceID, Proposed: len(proposals)}
	for _, p := range proposals {
		outcome, err := s.upsert(ctx, p, now)
		if err != nil {
			config.LogError(s.Logger, "alert", "Sweep", "failed to upsert alert",
				map[string]string{"workspace_id": workspaceID.String(), "type": string(p.Type), "fingerprint": p.Fingerprint}, err)
			result.Failures = append(result.Failures, ItemFailure{Fingerprint: p.Fingerprint, Err: err})
			continue
		}
		switch outcome {
		case OutcomeInserted:
			result.Inserted++
		case OutcomeRefreshed:
			result.Refreshed++
		case OutcomeTouched:
			result.Touched++
		case OutcomeReopened:
			result.Reopened++
		}
	}
	return result, nil
}

// ResolveStale resolves OPEN alerts of auto-resolvable types whose last
// sighting is older than the inactivity window. Returns the number resolved.
func (s *AlertService) ResolveStale(ctx context.Context, workspaceID uuid.UUID, now time.Time) (int, error) {
	const op = "alert.ResolveStale"

	if err := domain.CheckScope(ctx, op, workspaceID); err != nil {
		return 0, err
	}

	open, err := s.AlertRepo.List(ctx, domain.AlertFilter{WorkspaceID: workspaceID, States: []domain.AlertState{domain.AlertStateOpen}})
	if err != nil {
		return 0, fmt.Errorf("failed to list open alerts: %w", err)
	}

	cutoff := now.UTC().Add(-s.Tuning.StaleAfter)
	resolved := 0
	for _, a := range open {
		if !a.Type.AutoResolvable() || !a.LastSeenAt.Before(cutoff) {
			continue
		}
		before := *a
		at := now.UTC()
		a.State = domain.AlertStateResolved
		a.ResolvedAt = &at
		if err := s.AlertRepo.Update(ctx, a); err != nil {
			config.LogError(s.Logger, "alert", "ResolveStale", "failed to resolve alert", a.ID.String(), err)
			continue
		}
		resolved++
		s.Recorder.Record(ctx, workspaceID, "alert", a.ID, "resolve_stale", before, a)
		s.Recorder.Emit(ctx, domain.EventAlertResolved, workspaceID, a.ID, map[string]string{"type": string(a.Type)})
	}
	return resolved, nil
}

// SweepAll runs Sweep then ResolveStale for each workspace with bounded
// concurrency. An empty list sweeps every workspace owning obligations.
// A failing workspace is recorded and never stops the others.
func (s *AlertService) SweepAll(ctx context.Context, workspaceIDs []uuid.UUID, now time.Time) (*SweepAllResult, error) {
	ctx, span := tracer.Start(ctx, "alert.sweepAll")
	defer span.End()

	if len(workspaceIDs) == 0 {
		ids, err := s.ObligationRepo.ListWorkspaceIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list workspaces: %w", err)
		}
		workspaceIDs = ids
	}
	span.SetAttributes(attribute.Int("workspaces", len(workspaceIDs)))

	limit := s.Tuning.SweepConcurrency
	if limit < 1 {
		limit = 1
	}

	var (
		mu  sync.Mutex
		out = &SweepAllResult{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range workspaceIDs {
		workspaceID := id
		g.Go(func() error {
			tenantCtx := domain.WithWorkspace(gctx, workspaceID)
			result, err := s.Sweep(tenantCtx, workspaceID, now)
			if err == nil {
				result.Resolved, err = s.ResolveStale(tenantCtx, workspaceID, now)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				config.LogError(s.Logger, "alert", "SweepAll", "workspace sweep failed", workspaceID.String(), err)
				out.Failures = append(out.Failures, TenantFailure{WorkspaceID: workspaceID, Err: err})
				return nil
			}
			out.Results = append(out.Results, result)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out.Results, func(i, j int) bool {
		return out.Results[i].WorkspaceID.String() < out.Results[j].WorkspaceID.String()
	})
	sort.Slice(out.Failures, func(i, j int) bool {
		return out.Failures[i].WorkspaceID.String() < out.Failures[j].WorkspaceID.String()
	})
	span.SetAttributes(attribute.Int("failed", len(out.Failures)))
	return out, nil
}

// Dismiss hides an alert until it is explicitly reopened
func (s *AlertService) Dismiss(ctx context.Context, id uuid.UUID) (*domain.AlertRecord, error) {
	return s.transition(ctx, "alert.Dismiss", id, domain.AlertStateDismissed, func(a *domain.AlertRecord) {
		a.SnoozedUntil = nil
	})
}

// Snooze hides an OPEN alert until the deadline; the next sweep after it reopens the alert
func (s *AlertService) Snooze(ctx context.Context, id uuid.UUID, until time.Time) (*domain.AlertRecord, error) {
	const op = "alert.Snooze"
	if !until.After(s.Now()) {
		return nil, domain.E(op, domain.ErrInvalidDate, "snooze deadline must be in the future")
	}
	deadline := until.UTC()
	return s.transition(ctx, op, id, domain.AlertStateSnoozed, func(a *domain.AlertRecord) {
		a.SnoozedUntil = &deadline
	})
}

// Reopen moves a dismissed, snoozed or resolved alert back to OPEN
func (s *AlertService) Reopen(ctx context.Context, id uuid.UUID) (*domain.AlertRecord, error) {
	return s.transition(ctx, "alert.Reopen", id, domain.AlertStateOpen, func(a *domain.AlertRecord) {
		a.SnoozedUntil = nil
		a.ResolvedAt = nil
	})
}

// List retrieves alert records matching the filter
func (s *AlertService) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.AlertRecord, error) {
	if ws, ok := domain.WorkspaceFromContext(ctx); ok {
		if filter.WorkspaceID != uuid.Nil && filter.WorkspaceID != ws {
			return []*domain.AlertRecord{}, nil
		}
		filter.WorkspaceID = ws
	}
	alerts, err := s.AlertRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

func (s *AlertService) transition(ctx context.Context, op string, id uuid.UUID, to domain.AlertState, mutate func(*domain.AlertRecord)) (*domain.AlertRecord, error) {
	a, err := s.AlertRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(op, domain.ErrNotFound, "alert %s", id)
		}
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	if err := domain.CheckScope(ctx, op, a.WorkspaceID); err != nil {
		return nil, err
	}
	if !canTransition(a.State, to) {
		return nil, domain.E(op, domain.ErrInvalidTransition, "alert %s -> %s", a.State, to)
	}

	before := *a
	a.State = to
	mutate(a)
	if err := s.AlertRepo.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}
	s.Recorder.Record(ctx, a.WorkspaceID, "alert", a.ID, string(to), before, a)
	if to == domain.AlertStateOpen {
		s.Recorder.Emit(ctx, domain.EventAlertOpened, a.WorkspaceID, a.ID, map[string]string{"type": string(a.Type), "reason": "reopened"})
	}
	return a, nil
}

// upsert merges a proposal into storage. A concurrent insert of the same
// fingerprint surfaces as ErrConflict and is merged once more against the
// winner's record.
func (s *AlertService) upsert(ctx context.Context, p Proposal, now time.Time) (Outcome, error) {
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.AlertRepo.GetByFingerprint(ctx, p.WorkspaceID, p.Fingerprint)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return OutcomeUnchanged, fmt.Errorf("failed to load alert: %w", err)
		}
		if err != nil {
			existing = nil
		}

		next, outcome := Merge(existing, p, now)
		switch outcome {
		case OutcomeUnchanged:
			return outcome, nil
		case OutcomeInserted:
			if err := s.AlertRepo.Create(ctx, next); err != nil {
				if errors.Is(err, domain.ErrConflict) {
					continue
				}
				return OutcomeUnchanged, fmt.Errorf("failed to create alert: %w", err)
			}
		default:
			if err := s.AlertRepo.Update(ctx, next); err != nil {
				return OutcomeUnchanged, fmt.Errorf("failed to update alert: %w", err)
			}
		}

		if outcome == OutcomeInserted || outcome == OutcomeReopened {
			s.Recorder.Emit(ctx, domain.EventAlertOpened, next.WorkspaceID, next.ID, map[string]string{
				"type":     string(next.Type),
				"severity": string(next.Severity),
				"reason":   outcome.String(),
			})
		}
		return outcome, nil
	}
	return OutcomeUnchanged, domain.E("alert.upsert", domain.ErrConflict, "fingerprint %s kept changing", p.Fingerprint)
}

func (s *AlertService) snapshot(ctx context.Context, workspaceID uuid.UUID, now time.Time) (Snapshot, error) {
	snap := Snapshot{WorkspaceID: workspaceID, Now: now}

	horizon := day(now).AddDate(0, 0, s.Tuning.UpcomingDays+1).Add(-time.Nanosecond)
	entries, err := s.EntryRepo.List(ctx, domain.EntryFilter{
		WorkspaceID: workspaceID,
		Statuses:    []domain.EntryStatus{domain.EntryStatusPlanned},
		DueTo:       &horizon,
	})
	if err != nil {
		return snap, fmt.Errorf("failed to list planned entries: %w", err)
	}
	snap.Entries = entries

	if s.DocumentRepo != nil {
		docs, err := s.DocumentRepo.List(ctx, domain.DocumentFilter{
			WorkspaceID: workspaceID,
			Statuses:    []domain.DocumentStatus{domain.DocumentStatusSent},
			Unpaid:      true,
		})
		if err != nil {
			return snap, fmt.Errorf("failed to list documents: %w", err)
		}
		snap.Documents = docs
	}

	unlinked, err := s.TransactionRepo.ListUnlinked(ctx, workspaceID)
	if err != nil {
		return snap, fmt.Errorf("failed to list unlinked transactions: %w", err)
	}
	snap.Unreconciled = unlinked

	if s.Cashflow != nil && s.Tuning.ProjectionMonths > 0 {
		currencies, err := s.currencies(ctx, workspaceID)
		if err != nil {
			return snap, err
		}
		for _, currency := range currencies {
			p, err := s.Cashflow.Project(ctx, workspaceID, currency, now, s.Tuning.ProjectionMonths)
			if err != nil {
				return snap, fmt.Errorf("failed to project %s cashflow: %w", currency, err)
			}
			snap.Projections = append(snap.Projections, p)
		}
	}
	return snap, nil
}

// currencies lists the currencies of the workspace's live obligations
func (s *AlertService) currencies(ctx context.Context, workspaceID uuid.UUID) ([]string, error) {
	obligations, err := s.ObligationRepo.List(ctx, workspaceID,
		domain.ObligationStatusDraft, domain.ObligationStatusPlanned, domain.ObligationStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list obligations: %w", err)
	}
	seen := make(map[string]bool)
	var out []string
	for _, o := range obligations {
		if !seen[o.Currency] {
			seen[o.Currency] = true
			out = append(out, o.Currency)
		}
	}
	sort.Strings(out)
	return out, nil
}

func canTransition(from, to domain.AlertState) bool {
	for _, s := range stateTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
