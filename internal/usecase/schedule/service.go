package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
	"github.com/simaogato/obligations-backend/internal/usecase/audit"
	"github.com/simaogato/obligations-backend/internal/usecase/saga"
)

var tracer = otel.Tracer("github.com/simaogato/obligations-backend/internal/usecase/schedule")

// CreateObligationInput represents the input for creating an obligation with its schedule
type CreateObligationInput struct {
	WorkspaceID    uuid.UUID  `validate:"required"`
	Kind           string     `validate:"required,oneof=COMMITMENT CONTRACT"`
	Direction      string     `validate:"required,oneof=PAYABLE RECEIVABLE"`
	EntityID       uuid.UUID  `validate:"required"`
	CounterpartyID *uuid.UUID `validate:"required_if=Kind CONTRACT"`
	AccountID      *uuid.UUID
	Description    string `validate:"max=500"`
	Currency       string `validate:"required,len=3,uppercase"`
	AmountBasis    string `validate:"required,oneof=TOTAL MONTHLY"`
	TotalAmount    decimal.Decimal
	MonthlyAmount  decimal.Decimal
	AdjustmentRate *decimal.Decimal
	StartDate      time.Time `validate:"required"`
	EndDate        *time.Time
	Recurrence     string `validate:"required,oneof=NONE MONTHLY QUARTERLY YEARLY"`
	Status         string `validate:"omitempty,oneof=DRAFT PLANNED ACTIVE"`
}

// ScheduleService materialises obligations into schedule entries
type ScheduleService struct {
	ObligationRepo domain.ObligationRepository
	EntryRepo      domain.ScheduleEntryRepository
	DocumentRepo   domain.DocumentRepository // optional: guards bundled entries on recalculation
	Locker         domain.Locker
	LockTTL        time.Duration
	Recorder       *audit.Recorder
	Logger         *logrus.Logger
	Validate       *validator.Validate
	Now            func() time.Time
}

// NewScheduleService creates a new ScheduleService instance
func NewScheduleService(obligationRepo domain.ObligationRepository, entryRepo domain.ScheduleEntryRepository, locker domain.Locker, recorder *audit.Recorder, logger *logrus.Logger) *ScheduleService {
	if logger == nil {
		logger = config.NewDiscardLogger()
	}
	return &ScheduleService{
		ObligationRepo: obligationRepo,
		EntryRepo:      entryRepo,
		Locker:         locker,
		LockTTL:        30 * time.Second,
		Recorder:       recorder,
		Logger:         logger,
		Validate:       validator.New(),
		Now:            time.Now,
	}
}

func lockKey(obligationID uuid.UUID) string {
	return "obligation:" + obligationID.String()
}

// CreateWithSchedule creates an obligation and generates its schedule
// Logic:
//  1. Validate the input (struct tags, then domain rules)
//  2. Saga step "create obligation", undone by deleting it
//  3. Saga step "generate schedule"
//
// Either both the obligation and its entries exist afterwards, or neither.
func (s *ScheduleService) CreateWithSchedule(ctx context.Context, input CreateObligationInput) (*domain.Obligation, []*domain.ScheduleEntry, error) {
	const op = "schedule.CreateWithSchedule"

	if err := s.Validate.Struct(input); err != nil {
		return nil, nil, domain.E(op, domain.ErrInvalidInput, "%s", err.Error())
	}
	if ws, ok := domain.WorkspaceFromContext(ctx); ok && ws != input.WorkspaceID {
		return nil, nil, domain.E(op, domain.ErrInvalidInput, "workspace does not match caller scope")
	}

	now := s.Now().UTC()
	status := domain.ObligationStatus(input.Status)
	if status == "" {
		status = domain.ObligationStatusPlanned
	}
	o := &domain.Obligation{
		ID:             uuid.New(),
		WorkspaceID:    input.WorkspaceID,
		Kind:           domain.ObligationKind(input.Kind),
		Direction:      domain.Direction(input.Direction),
		EntityID:       input.EntityID,
		CounterpartyID: input.CounterpartyID,
		AccountID:      input.AccountID,
		Description:    input.Description,
		Currency:       input.Currency,
		AmountBasis:    domain.AmountBasis(input.AmountBasis),
		TotalAmount:    input.TotalAmount,
		MonthlyAmount:  input.MonthlyAmount,
		AdjustmentRate: input.AdjustmentRate,
		StartDate:      input.StartDate,
		EndDate:        input.EndDate,
		Recurrence:     domain.Recurrence(input.Recurrence),
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.Validate(); err != nil {
		if errors.Is(err, domain.ErrInvalidAmount) || errors.Is(err, domain.ErrInvalidDate) {
			return nil, nil, domain.E(op, err)
		}
		return nil, nil, domain.E(op, domain.ErrInvalidInput, "%s", err.Error())
	}

	var entries []*domain.ScheduleEntry
	tx := saga.New(op, s.Logger).
		Add("create obligation",
			func(ctx context.Context) error { return s.ObligationRepo.Create(ctx, o) },
			func(ctx context.Context) error { return s.ObligationRepo.Delete(ctx, o.ID) }).
		Add("generate schedule",
			func(ctx context.Context) error {
				var err error
				entries, err = s.generate(ctx, o, false)
				return err
			}, nil)

	if err := tx.Run(ctx); err != nil {
		return nil, nil, err
	}

	s.Recorder.Record(ctx, o.WorkspaceID, "obligation", o.ID, "create", nil, o)
	return o, entries, nil
}

// Generate materialises the schedule of an existing obligation
// Logic:
//  1. Serialise on the obligation lock
//  2. Fail with ErrAlreadyGenerated when any non-cancelled entry exists
//  3. Compute dates and amounts, persist all entries as PLANNED in one batch
//  4. A failure after the batch cancels the new entries; on a fresh obligation
//     the obligation is deleted as well
func (s *ScheduleService) Generate(ctx context.Context, obligationID uuid.UUID) ([]*domain.ScheduleEntry, error) {
	const op = "schedule.Generate"

	var entries []*domain.ScheduleEntry
	err := domain.RunLocked(ctx, s.Locker, lockKey(obligationID), s.LockTTL, func() error {
		o, err := s.loadObligation(ctx, op, obligationID)
		if err != nil {
			return err
		}
		all, err := s.EntryRepo.List(ctx, domain.EntryFilter{ObligationID: &o.ID})
		if err != nil {
			return fmt.Errorf("failed to list schedule entries: %w", err)
		}
		entries, err = s.generate(ctx, o, len(all) == 0)
		return err
	})
	return entries, err
}

func (s *ScheduleService) generate(ctx context.Context, o *domain.Obligation, rollbackParent bool) ([]*domain.ScheduleEntry, error) {
	const op = "schedule.Generate"

	ctx, span := tracer.Start(ctx, "schedule.generate")
	defer span.End()
	span.SetAttributes(attribute.String("obligation_id", o.ID.String()))

	if o.IsTerminal() {
		return nil, domain.E(op, domain.ErrInvalidTransition, "obligation is %s", o.Status)
	}

	live, err := s.EntryRepo.List(ctx, domain.EntryFilter{
		ObligationID: &o.ID,
		Statuses:     liveStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule entries: %w", err)
	}
	if len(live) > 0 {
		return nil, domain.E(op, domain.ErrAlreadyGenerated, "obligation %s", o.ID)
	}

	plan, openEnded, err := Plan(o)
	if err != nil {
		return nil, err
	}
	if openEnded {
		config.LogWarn(s.Logger, "schedule", "Generate", "recurring obligation has no end date; generated a single entry",
			map[string]string{"obligation_id": o.ID.String(), "recurrence": string(o.Recurrence)})
	}

	now := s.Now().UTC()
	entries := toEntries(o, plan, now)
	if err := s.EntryRepo.CreateBatch(ctx, entries); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.E(op, domain.ErrAlreadyGenerated, "obligation %s", o.ID)
		}
		if rollbackParent {
			if delErr := s.ObligationRepo.Delete(context.WithoutCancel(ctx), o.ID); delErr != nil {
				config.LogError(s.Logger, "schedule", "Generate", "failed to roll back obligation", o.ID.String(), delErr)
			}
		}
		return nil, fmt.Errorf("failed to persist schedule entries: %w", err)
	}

	if o.AmountBasis == domain.AmountBasisMonthly {
		previousTotal, previousUpdated := o.TotalAmount, o.UpdatedAt
		o.TotalAmount = sumInstallments(plan)
		o.UpdatedAt = now
		if err := s.ObligationRepo.Update(ctx, o); err != nil {
			o.TotalAmount, o.UpdatedAt = previousTotal, previousUpdated
			s.discardEntries(ctx, o, entries, now)
			if rollbackParent {
				if delErr := s.ObligationRepo.Delete(context.WithoutCancel(ctx), o.ID); delErr != nil {
					config.LogError(s.Logger, "schedule", "Generate", "failed to roll back obligation", o.ID.String(), delErr)
				}
			}
			return nil, fmt.Errorf("failed to update obligation total: %w", err)
		}
	}

	s.Recorder.Emit(ctx, domain.EventScheduleGenerated, o.WorkspaceID, o.ID, map[string]string{
		"entries": strconv.Itoa(len(entries)),
		"total":   o.TotalAmount.String(),
	})
	return entries, nil
}

// discardEntries cancels a freshly persisted batch whose generation failed
func (s *ScheduleService) discardEntries(ctx context.Context, o *domain.Obligation, entries []*domain.ScheduleEntry, at time.Time) {
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	if err := s.EntryRepo.SetStatus(context.WithoutCancel(ctx), ids, domain.EntryStatusCancelled, at); err != nil {
		config.LogError(s.Logger, "schedule", "Generate", "failed to discard schedule entries", o.ID.String(), err)
	}
}

// Recalculate rebuilds the unsettled part of a schedule
// Logic:
//  1. Cancel every PLANNED entry (undo: restore them to PLANNED)
//  2. Skip due dates already covered by a settled entry
//  3. TOTAL basis: allocate total minus settled amounts over the remaining dates
//     MONTHLY basis: price the remaining dates and refresh the obligation total
//  4. Persist the new PLANNED entries
//
// Settled entries are never modified.
func (s *ScheduleService) Recalculate(ctx context.Context, obligationID uuid.UUID) ([]*domain.ScheduleEntry, error) {
	const op = "schedule.Recalculate"

	var created []*domain.ScheduleEntry
	err := domain.RunLocked(ctx, s.Locker, lockKey(obligationID), s.LockTTL, func() error {
		o, err := s.loadObligation(ctx, op, obligationID)
		if err != nil {
			return err
		}
		created, err = s.recalculate(ctx, o)
		return err
	})
	return created, err
}

// RecalculateLocked is Recalculate for callers already holding the obligation lock
func (s *ScheduleService) RecalculateLocked(ctx context.Context, o *domain.Obligation) ([]*domain.ScheduleEntry, error) {
	return s.recalculate(ctx, o)
}

func (s *ScheduleService) recalculate(ctx context.Context, o *domain.Obligation) ([]*domain.ScheduleEntry, error) {
	const op = "schedule.Recalculate"

	ctx, span := tracer.Start(ctx, "schedule.recalculate")
	defer span.End()
	span.SetAttributes(attribute.String("obligation_id", o.ID.String()))

	if o.IsTerminal() {
		return nil, domain.E(op, domain.ErrInvalidTransition, "obligation is %s", o.Status)
	}

	all, err := s.EntryRepo.List(ctx, domain.EntryFilter{ObligationID: &o.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule entries: %w", err)
	}

	var settled, planned []*domain.ScheduleEntry
	usedSeq := make(map[int]bool)
	maxSeq := 0
	for _, e := range all {
		if e.Sequence > maxSeq {
			maxSeq = e.Sequence
		}
		switch {
		case e.Status.IsSettled():
			settled = append(settled, e)
			usedSeq[e.Sequence] = true
		case e.Status == domain.EntryStatusPlanned:
			planned = append(planned, e)
		}
	}

	if s.DocumentRepo != nil && len(planned) > 0 {
		ids := make([]uuid.UUID, len(planned))
		for i, e := range planned {
			ids[i] = e.ID
		}
		docs, err := s.DocumentRepo.ListOpenByEntries(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to check bundled entries: %w", err)
		}
		for _, d := range docs {
			if d.Status != domain.DocumentStatusPaid {
				return nil, domain.E(op, domain.ErrEntryBundled, "document %s", d.Number)
			}
		}
	}

	dates, openEnded, err := DueDates(o)
	if err != nil {
		return nil, err
	}
	if openEnded {
		config.LogWarn(s.Logger, "schedule", "Recalculate", "recurring obligation has no end date; using a single entry",
			map[string]string{"obligation_id": o.ID.String()})
	}

	covered := make(map[string]bool, len(settled))
	for _, e := range settled {
		covered[dayKey(e.DueDate)] = true
	}
	var remaining []time.Time
	var sequences []int
	next := maxSeq
	for i, d := range dates {
		if covered[dayKey(d)] {
			continue
		}
		seq := i + 1
		if usedSeq[seq] {
			next++
			seq = next
		}
		usedSeq[seq] = true
		remaining = append(remaining, d)
		sequences = append(sequences, seq)
	}

	settledSum := domain.SumAmounts(settled)
	remainingTotal := o.TotalAmount.Sub(settledSum)
	if o.AmountBasis == domain.AmountBasisTotal {
		switch {
		case len(remaining) == 0 && !remainingTotal.IsZero():
			return nil, domain.E(op, domain.ErrInvalidAmount, "no unsettled dates left to carry %s", remainingTotal)
		case len(remaining) > 0 && !remainingTotal.IsPositive():
			return nil, domain.E(op, domain.ErrInvalidAmount, "total %s does not exceed settled amount %s", o.TotalAmount, settledSum)
		}
	}

	plan, err := planFor(o, remaining, sequences, remainingTotal)
	if err != nil {
		return nil, err
	}

	now := s.Now().UTC()
	created := toEntries(o, plan, now)
	previousTotal := o.TotalAmount
	var cancelled []uuid.UUID

	tx := saga.New(op, s.Logger).
		Add("cancel planned entries",
			func(ctx context.Context) error {
				var err error
				cancelled, err = s.EntryRepo.CancelPlanned(ctx, o.ID, now)
				return err
			},
			func(ctx context.Context) error {
				if len(cancelled) == 0 {
					return nil
				}
				return s.EntryRepo.SetStatus(ctx, cancelled, domain.EntryStatusPlanned, now)
			}).
		Add("create entries",
			func(ctx context.Context) error {
				if len(created) == 0 {
					return nil
				}
				return s.EntryRepo.CreateBatch(ctx, created)
			},
			func(ctx context.Context) error {
				ids := make([]uuid.UUID, len(created))
				for i, e := range created {
					ids[i] = e.ID
				}
				return s.EntryRepo.SetStatus(ctx, ids, domain.EntryStatusCancelled, now)
			}).
		Add("refresh total",
			func(ctx context.Context) error {
				if o.AmountBasis != domain.AmountBasisMonthly {
					return nil
				}
				o.TotalAmount = settledSum.Add(sumInstallments(plan))
				o.UpdatedAt = now
				return s.ObligationRepo.Update(ctx, o)
			}, nil)

	if err := tx.Run(ctx); err != nil {
		o.TotalAmount = previousTotal
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.E(op, domain.ErrAlreadyGenerated, "obligation %s", o.ID)
		}
		return nil, err
	}

	s.Recorder.Record(ctx, o.WorkspaceID, "obligation", o.ID, "recalculate",
		map[string]any{"cancelled": cancelled, "total": previousTotal},
		map[string]any{"created": len(created), "total": o.TotalAmount})
	s.Recorder.Emit(ctx, domain.EventScheduleGenerated, o.WorkspaceID, o.ID, map[string]string{
		"entries":     strconv.Itoa(len(created)),
		"recalculate": "true",
	})
	return created, nil
}

func (s *ScheduleService) loadObligation(ctx context.Context, op string, id uuid.UUID) (*domain.Obligation, error) {
	o, err := s.ObligationRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(op, domain.ErrNotFound, "obligation %s", id)
		}
		return nil, fmt.Errorf("failed to load obligation: %w", err)
	}
	if err := domain.CheckScope(ctx, op, o.WorkspaceID); err != nil {
		return nil, err
	}
	return o, nil
}

var liveStatuses = []domain.EntryStatus{
	domain.EntryStatusPlanned,
	domain.EntryStatusRealized,
	domain.EntryStatusReceived,
	domain.EntryStatusPaid,
}
