package obligation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
	"github.com/simaogato/obligations-backend/internal/usecase/audit"
	"github.com/simaogato/obligations-backend/internal/usecase/saga"
	"github.com/simaogato/obligations-backend/internal/usecase/schedule"
)

// UpdateAmountInput carries the new amount for the obligation's basis
type UpdateAmountInput struct {
	TotalAmount   *decimal.Decimal // TOTAL basis
	MonthlyAmount *decimal.Decimal // MONTHLY basis
}

// ObligationService governs the obligation lifecycle and its cascades
type ObligationService struct {
	ObligationRepo domain.ObligationRepository
	EntryRepo      domain.ScheduleEntryRepository
	DocumentRepo   domain.DocumentRepository
	Scheduler      *schedule.ScheduleService
	Locker         domain.Locker
	LockTTL        time.Duration
	Recorder       *audit.Recorder
	Logger         *logrus.Logger
	Now            func() time.Time
}

// NewObligationService creates a new ObligationService instance.
// Repositories and locker are shared with the scheduler.
func NewObligationService(scheduler *schedule.ScheduleService, documentRepo domain.DocumentRepository, recorder *audit.Recorder, logger *logrus.Logger) *ObligationService {
	if logger == nil {
		logger = config.NewDiscardLogger()
	}
	return &ObligationService{
		ObligationRepo: scheduler.ObligationRepo,
		EntryRepo:      scheduler.EntryRepo,
		DocumentRepo:   documentRepo,
		Scheduler:      scheduler,
		Locker:         scheduler.Locker,
		LockTTL:        scheduler.LockTTL,
		Recorder:       recorder,
		Logger:         logger,
		Now:            time.Now,
	}
}

// Get retrieves an obligation within the caller's workspace
func (s *ObligationService) Get(ctx context.Context, id uuid.UUID) (*domain.Obligation, error) {
	return s.load(ctx, "obligation.Get", id)
}

// List retrieves the obligations of a workspace
func (s *ObligationService) List(ctx context.Context, workspaceID uuid.UUID, statuses ...domain.ObligationStatus) ([]*domain.Obligation, error) {
	if ws, ok := domain.WorkspaceFromContext(ctx); ok && ws != workspaceID {
		return []*domain.Obligation{}, nil
	}
	obligations, err := s.ObligationRepo.List(ctx, workspaceID, statuses...)
	if err != nil {
		return nil, fmt.Errorf("failed to list obligations: %w", err)
	}
	return obligations, nil
}

// ListEntries retrieves schedule entries by obligation, due date range,
// status or entity. A scoped caller only ever sees its own workspace.
func (s *ObligationService) ListEntries(ctx context.Context, filter domain.EntryFilter) ([]*domain.ScheduleEntry, error) {
	if ws, ok := domain.WorkspaceFromContext(ctx); ok {
		if filter.WorkspaceID != uuid.Nil && filter.WorkspaceID != ws {
			return []*domain.ScheduleEntry{}, nil
		}
		filter.WorkspaceID = ws
	}
	if filter.DueFrom != nil && filter.DueTo != nil && filter.DueTo.Before(*filter.DueFrom) {
		return nil, domain.E("obligation.ListEntries", domain.ErrInvalidDate, "due range is reversed")
	}
	entries, err := s.EntryRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule entries: %w", err)
	}
	return entries, nil
}

// Activate moves a DRAFT or PLANNED obligation to ACTIVE
func (s *ObligationService) Activate(ctx context.Context, id uuid.UUID) (*domain.Obligation, error) {
	const op = "obligation.Activate"

	var result *domain.Obligation
	err := domain.RunLocked(ctx, s.Locker, lockKey(id), s.LockTTL, func() error {
		o, err := s.load(ctx, op, id)
		if err != nil {
			return err
		}
		if err := domain.CheckObligationTransition(op, o.Status, domain.ObligationStatusActive); err != nil {
			return err
		}
		result, err = s.setStatus(ctx, o, domain.ObligationStatusActive, "activate")
		return err
	})
	return result, err
}

// Complete closes an ACTIVE obligation
// Logic:
//  1. ACTIVE -> COMPLETED must be a legal transition
//  2. No schedule entry may still be PLANNED
func (s *ObligationService) Complete(ctx context.Context, id uuid.UUID) (*domain.Obligation, error) {
	const op = "obligation.Complete"

	var result *domain.Obligation
	err := domain.RunLocked(ctx, s.Locker, lockKey(id), s.LockTTL, func() error {
		o, err := s.load(ctx, op, id)
		if err != nil {
			return err
		}
		if err := domain.CheckObligationTransition(op, o.Status, domain.ObligationStatusCompleted); err != nil {
			return err
		}
		planned, err := s.EntryRepo.List(ctx, domain.EntryFilter{
			ObligationID: &o.ID,
			Statuses:     []domain.EntryStatus{domain.EntryStatusPlanned},
		})
		if err != nil {
			return fmt.Errorf("failed to list schedule entries: %w", err)
		}
		if len(planned) > 0 {
			return domain.E(op, domain.ErrPlannedEntries, "%d entries still planned", len(planned))
		}
		result, err = s.setStatus(ctx, o, domain.ObligationStatusCompleted, "complete")
		if err == nil {
			s.Recorder.Emit(ctx, domain.EventObligationCompleted, o.WorkspaceID, o.ID, nil)
		}
		return err
	})
	return result, err
}

// Cancel cancels an obligation and cascades to its schedule
// Logic:
//  1. Reject when any entry is settled (ErrSettledEntries)
//  2. Saga: cancel every PLANNED entry (undo: back to PLANNED)
//  3. Saga: cancel open DRAFT/SENT documents of the obligation (undo: restore status)
//  4. Saga: mark the obligation CANCELLED
func (s *ObligationService) Cancel(ctx context.Context, id uuid.UUID) (*domain.Obligation, error) {
	const op = "obligation.Cancel"

	var result *domain.Obligation
	err := domain.RunLocked(ctx, s.Locker, lockKey(id), s.LockTTL, func() error {
		o, err := s.load(ctx, op, id)
		if err != nil {
			return err
		}
		if err := domain.CheckObligationTransition(op, o.Status, domain.ObligationStatusCancelled); err != nil {
			return err
		}

		settled, err := s.EntryRepo.List(ctx, domain.EntryFilter{
			ObligationID: &o.ID,
			Statuses:     []domain.EntryStatus{domain.EntryStatusRealized, domain.EntryStatusReceived, domain.EntryStatusPaid},
		})
		if err != nil {
			return fmt.Errorf("failed to list schedule entries: %w", err)
		}
		if len(settled) > 0 {
			return domain.E(op, domain.ErrSettledEntries, "%d entries settled", len(settled))
		}

		var docs []*domain.AggregateDocument
		if s.DocumentRepo != nil {
			docs, err = s.DocumentRepo.List(ctx, domain.DocumentFilter{
				ObligationID: &o.ID,
				Statuses:     []domain.DocumentStatus{domain.DocumentStatusDraft, domain.DocumentStatusSent},
			})
			if err != nil {
				return fmt.Errorf("failed to list documents: %w", err)
			}
		}

		now := s.Now().UTC()
		before := *o
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
			Add("cancel documents",
				func(ctx context.Context) error {
					for _, d := range docs {
						updated := *d
						updated.Status = domain.DocumentStatusCancelled
						updated.UpdatedAt = now
						if err := s.DocumentRepo.Update(ctx, &updated); err != nil {
							return err
						}
					}
					return nil
				},
				func(ctx context.Context) error {
					var errs []error
					for _, d := range docs {
						errs = append(errs, s.DocumentRepo.Update(ctx, d))
					}
					return errors.Join(errs...)
				}).
			Add("cancel obligation",
				func(ctx context.Context) error {
					o.Status = domain.ObligationStatusCancelled
					o.UpdatedAt = now
					return s.ObligationRepo.Update(ctx, o)
				}, nil)

		if err := tx.Run(ctx); err != nil {
			return err
		}

		s.Recorder.Record(ctx, o.WorkspaceID, "obligation", o.ID, "cancel", before, o)
		s.Recorder.Emit(ctx, domain.EventObligationCancelled, o.WorkspaceID, o.ID, map[string]string{
			"cancelled_entries":   strconv.Itoa(len(cancelled)),
			"cancelled_documents": strconv.Itoa(len(docs)),
		})
		result = o
		return nil
	})
	return result, err
}

// UpdateAmount changes the amount of an obligation and rebuilds its schedule
// Logic:
//  1. Reject when any entry is settled: the total is frozen from then on
//  2. Saga: persist the new amount (undo: restore the previous amounts)
//  3. Saga: recalculate the schedule
func (s *ObligationService) UpdateAmount(ctx context.Context, id uuid.UUID, input UpdateAmountInput) (*domain.Obligation, []*domain.ScheduleEntry, error) {
	const op = "obligation.UpdateAmount"

	var result *domain.Obligation
	var entries []*domain.ScheduleEntry
	err := domain.RunLocked(ctx, s.Locker, lockKey(id), s.LockTTL, func() error {
		o, err := s.load(ctx, op, id)
		if err != nil {
			return err
		}
		if o.IsTerminal() {
			return domain.E(op, domain.ErrInvalidTransition, "obligation is %s", o.Status)
		}

		settled, err := s.EntryRepo.List(ctx, domain.EntryFilter{
			ObligationID: &o.ID,
			Statuses:     []domain.EntryStatus{domain.EntryStatusRealized, domain.EntryStatusReceived, domain.EntryStatusPaid},
		})
		if err != nil {
			return fmt.Errorf("failed to list schedule entries: %w", err)
		}
		if len(settled) > 0 {
			return domain.E(op, domain.ErrSettledEntries, "amount is frozen once an entry is settled")
		}

		before := *o
		switch o.AmountBasis {
		case domain.AmountBasisTotal:
			if input.TotalAmount == nil {
				return domain.E(op, domain.ErrInvalidInput, "total amount required for the TOTAL basis")
			}
			o.TotalAmount = *input.TotalAmount
		case domain.AmountBasisMonthly:
			if input.MonthlyAmount == nil {
				return domain.E(op, domain.ErrInvalidInput, "monthly amount required for the MONTHLY basis")
			}
			o.MonthlyAmount = *input.MonthlyAmount
		}
		if err := o.Validate(); err != nil {
			return domain.E(op, domain.ErrInvalidAmount, "%s", err.Error())
		}
		o.UpdatedAt = s.Now().UTC()

		tx := saga.New(op, s.Logger).
			Add("update amount",
				func(ctx context.Context) error { return s.ObligationRepo.Update(ctx, o) },
				func(ctx context.Context) error { return s.ObligationRepo.Update(ctx, &before) }).
			Add("recalculate schedule",
				func(ctx context.Context) error {
					var err error
					entries, err = s.Scheduler.RecalculateLocked(ctx, o)
					return err
				}, nil)
		if err := tx.Run(ctx); err != nil {
			return err
		}

		s.Recorder.Record(ctx, o.WorkspaceID, "obligation", o.ID, "update_amount", before, o)
		result = o
		return nil
	})
	return result, entries, err
}

func (s *ObligationService) setStatus(ctx context.Context, o *domain.Obligation, status domain.ObligationStatus, action string) (*domain.Obligation, error) {
	before := *o
	o.Status = status
	o.UpdatedAt = s.Now().UTC()
	if err := s.ObligationRepo.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to update obligation: %w", err)
	}
	s.Recorder.Record(ctx, o.WorkspaceID, "obligation", o.ID, action, before, o)
	return o, nil
}

func (s *ObligationService) load(ctx context.Context, op string, id uuid.UUID) (*domain.Obligation, error) {
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

// lockKey matches the scheduler's key so lifecycle changes and
// regeneration of one obligation never interleave
func lockKey(id uuid.UUID) string {
	return "obligation:" + id.String()
}
