package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
	"github.com/simaogato/obligations-backend/internal/usecase/audit"
	"github.com/simaogato/obligations-backend/internal/usecase/saga"
)

var tracer = otel.Tracer("github.com/simaogato/obligations-backend/internal/usecase/reconciliation")

// RealizeOverrides replaces values copied from the schedule entry when
// posting its transaction
type RealizeOverrides struct {
	Amount      *decimal.Decimal // absolute; the entry direction gives the sign
	Date        *time.Time
	Description *string
	AccountID   *uuid.UUID
}

// ReconciliationService links schedule entries to ledger transactions
type ReconciliationService struct {
	ObligationRepo  domain.ObligationRepository
	EntryRepo       domain.ScheduleEntryRepository
	TransactionRepo domain.TransactionRepository
	DocumentRepo    domain.DocumentRepository // optional: keeps bundled entries out of direct links
	Locker          domain.Locker
	LockTTL         time.Duration
	Tuning          config.MatchingTuning
	Recorder        *audit.Recorder
	Logger          *logrus.Logger
	Now             func() time.Time
}

// NewReconciliationService creates a new ReconciliationService instance
func NewReconciliationService(
	obligationRepo domain.ObligationRepository,
	entryRepo domain.ScheduleEntryRepository,
	transactionRepo domain.TransactionRepository,
	locker domain.Locker,
	recorder *audit.Recorder,
	logger *logrus.Logger,
) *ReconciliationService {
	if logger == nil {
		logger = config.NewDiscardLogger()
	}
	return &ReconciliationService{
		ObligationRepo:  obligationRepo,
		EntryRepo:       entryRepo,
		TransactionRepo: transactionRepo,
		Locker:          locker,
		LockTTL:         30 * time.Second,
		Tuning:          config.DefaultTuning().Matching,
		Recorder:        recorder,
		Logger:          logger,
		Now:             time.Now,
	}
}

// Link settles a schedule entry with a ledger transaction
// Logic:
//  1. Serialise on the owning obligation, then the entry, then the transaction
//  2. Same pair already linked: return the entry unchanged
//  3. Entry linked elsewhere -> ErrAlreadyLinked; transaction linked elsewhere -> ErrTransactionLinked
//  4. Entry bundled in an open aggregate document -> ErrEntryBundled
//  5. Entry must be PLANNED under a live obligation; it moves to the settled status of its obligation
func (s *ReconciliationService) Link(ctx context.Context, entryID, transactionID uuid.UUID) (*domain.ScheduleEntry, error) {
	const op = "reconciliation.Link"

	// an entry never changes obligation, so the key can be read unlocked
	entry, err := s.loadEntry(ctx, op, entryID)
	if err != nil {
		return nil, err
	}

	var result *domain.ScheduleEntry
	err = domain.RunLocked(ctx, s.Locker, obligationKey(entry.ObligationID), s.LockTTL, func() error {
		return domain.RunLocked(ctx, s.Locker, entryKey(entryID), s.LockTTL, func() error {
			return domain.RunLocked(ctx, s.Locker, transactionKey(transactionID), s.LockTTL, func() error {
				var err error
				result, err = s.link(ctx, op, entryID, transactionID)
				return err
			})
		})
	})
	return result, err
}

func (s *ReconciliationService) link(ctx context.Context, op string, entryID, transactionID uuid.UUID) (*domain.ScheduleEntry, error) {
	entry, err := s.loadEntry(ctx, op, entryID)
	if err != nil {
		return nil, err
	}
	tx, err := s.loadTransaction(ctx, op, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.WorkspaceID != entry.WorkspaceID {
		return nil, domain.E(op, domain.ErrNotFound, "transaction %s", transactionID)
	}

	if entry.TransactionID != nil {
		if *entry.TransactionID == transactionID {
			return entry, nil
		}
		return nil, domain.E(op, domain.ErrAlreadyLinked, "entry %s", entry.ID)
	}

	linked, err := s.EntryRepo.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check transaction links: %w", err)
	}
	if len(linked) > 0 {
		return nil, domain.E(op, domain.ErrTransactionLinked, "transaction %s", transactionID)
	}
	if err := s.checkLinkable(ctx, op, tx); err != nil {
		return nil, err
	}
	if tx.Currency != entry.Currency {
		return nil, domain.E(op, domain.ErrInvalidInput, "currency %s does not match entry currency %s", tx.Currency, entry.Currency)
	}
	if err := s.checkUnbundled(ctx, op, entry.ID); err != nil {
		return nil, err
	}

	o, err := s.ObligationRepo.GetByID(ctx, entry.ObligationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load obligation: %w", err)
	}
	if o.IsTerminal() {
		return nil, domain.E(op, domain.ErrInvalidTransition, "obligation is %s", o.Status)
	}
	settled := o.SettledStatus()
	if err := domain.CheckEntryTransition(op, entry.Status, settled); err != nil {
		return nil, err
	}

	before := *entry
	now := s.Now().UTC()
	entry.Status = settled
	entry.TransactionID = &transactionID
	entry.LinkSource = domain.LinkSourceDirect
	entry.SettledAt = &now
	entry.UpdatedAt = now
	if err := s.EntryRepo.Update(ctx, entry); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.E(op, domain.ErrTransactionLinked, "transaction %s", transactionID)
		}
		return nil, fmt.Errorf("failed to update schedule entry: %w", err)
	}

	s.Recorder.Record(ctx, entry.WorkspaceID, "schedule_entry", entry.ID, "link", before, entry)
	s.Recorder.Emit(ctx, domain.EventEntryLinked, entry.WorkspaceID, entry.ID, map[string]string{
		"transaction_id": transactionID.String(),
		"obligation_id":  entry.ObligationID.String(),
		"status":         string(settled),
	})
	return entry, nil
}

// checkUnbundled rejects entries claimed by a document that is not cancelled
func (s *ReconciliationService) checkUnbundled(ctx context.Context, op string, entryID uuid.UUID) error {
	if s.DocumentRepo == nil {
		return nil
	}
	docs, err := s.DocumentRepo.ListOpenByEntries(ctx, []uuid.UUID{entryID})
	if err != nil {
		return fmt.Errorf("failed to check document bundles: %w", err)
	}
	if len(docs) > 0 {
		return domain.E(op, domain.ErrEntryBundled, "entry %s is bundled in document %s", entryID, docs[0].Number)
	}
	return nil
}

// checkLinkable rejects reversals and reversed originals
func (s *ReconciliationService) checkLinkable(ctx context.Context, op string, tx *domain.Transaction) error {
	if tx.ReversalOf != nil {
		return domain.E(op, domain.ErrInvalidInput, "transaction %s is a reversal", tx.ID)
	}
	_, err := s.TransactionRepo.GetReversal(ctx, tx.ID)
	switch {
	case err == nil:
		return domain.E(op, domain.ErrInvalidInput, "transaction %s has been reversed", tx.ID)
	case errors.Is(err, domain.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("failed to check reversal: %w", err)
	}
}

// Unlink returns a settled entry to PLANNED and clears its link.
// Entries settled through an aggregate document are released by the
// document, not individually. Entries of a completed or cancelled
// obligation stay settled.
func (s *ReconciliationService) Unlink(ctx context.Context, entryID uuid.UUID) (*domain.ScheduleEntry, error) {
	const op = "reconciliation.Unlink"

	current, err := s.loadEntry(ctx, op, entryID)
	if err != nil {
		return nil, err
	}

	var result *domain.ScheduleEntry
	err = domain.RunLocked(ctx, s.Locker, obligationKey(current.ObligationID), s.LockTTL, func() error {
		return domain.RunLocked(ctx, s.Locker, entryKey(entryID), s.LockTTL, func() error {
			var err error
			result, err = s.unlink(ctx, op, entryID)
			return err
		})
	})
	return result, err
}

func (s *ReconciliationService) unlink(ctx context.Context, op string, entryID uuid.UUID) (*domain.ScheduleEntry, error) {
	entry, err := s.loadEntry(ctx, op, entryID)
	if err != nil {
		return nil, err
	}
	if !entry.Status.IsSettled() {
		return nil, domain.E(op, domain.ErrInvalidTransition, "schedule entry %s cannot be unlinked", entry.Status)
	}
	if entry.LinkSource == domain.LinkSourceDocument {
		return nil, domain.E(op, domain.ErrInvalidTransition, "schedule entry is settled through an aggregate document")
	}

	o, err := s.ObligationRepo.GetByID(ctx, entry.ObligationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load obligation: %w", err)
	}
	if o.IsTerminal() {
		return nil, domain.E(op, domain.ErrInvalidTransition, "obligation is %s", o.Status)
	}

	before := *entry
	previous := entry.TransactionID
	entry.Status = domain.EntryStatusPlanned
	entry.TransactionID = nil
	entry.LinkSource = ""
	entry.SettledAt = nil
	entry.UpdatedAt = s.Now().UTC()
	if err := s.EntryRepo.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to update schedule entry: %w", err)
	}

	attrs := map[string]string{"obligation_id": entry.ObligationID.String()}
	if previous != nil {
		attrs["transaction_id"] = previous.String()
	}
	s.Recorder.Record(ctx, entry.WorkspaceID, "schedule_entry", entry.ID, "unlink", before, entry)
	s.Recorder.Emit(ctx, domain.EventEntryUnlinked, entry.WorkspaceID, entry.ID, attrs)
	return entry, nil
}

// RealizeToLedger posts a transaction for a planned entry and links it
// Logic:
//  1. Entry must be PLANNED, unlinked and outside any open document
//  2. Saga step "post transaction": signed amount, due date, description,
//     entity and account copied from the entry, overrides applied.
//     Undo posts a reversal; the original is never deleted.
//  3. Saga step "link"
func (s *ReconciliationService) RealizeToLedger(ctx context.Context, entryID uuid.UUID, overrides RealizeOverrides) (*domain.Transaction, *domain.ScheduleEntry, error) {
	const op = "reconciliation.RealizeToLedger"

	entry, err := s.loadEntry(ctx, op, entryID)
	if err != nil {
		return nil, nil, err
	}
	if entry.TransactionID != nil {
		return nil, nil, domain.E(op, domain.ErrAlreadyLinked, "entry %s", entry.ID)
	}
	if entry.Status != domain.EntryStatusPlanned {
		return nil, nil, domain.E(op, domain.ErrInvalidTransition, "schedule entry %s cannot be realized", entry.Status)
	}
	if err := s.checkUnbundled(ctx, op, entry.ID); err != nil {
		return nil, nil, err
	}
	o, err := s.ObligationRepo.GetByID(ctx, entry.ObligationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load obligation: %w", err)
	}
	if o.IsTerminal() {
		return nil, nil, domain.E(op, domain.ErrInvalidTransition, "obligation is %s", o.Status)
	}

	tx := s.transactionFor(o, entry, overrides)
	if err := tx.Validate(); err != nil {
		if errors.Is(err, domain.ErrInvalidAmount) {
			return nil, nil, domain.E(op, err)
		}
		return nil, nil, domain.E(op, domain.ErrInvalidInput, "%s", err.Error())
	}

	var linked *domain.ScheduleEntry
	steps := saga.New(op, s.Logger).
		Add("post transaction",
			func(ctx context.Context) error { return s.TransactionRepo.Create(ctx, tx) },
			func(ctx context.Context) error {
				reversal := tx.Reversal(s.Now().UTC(), "Reversal: realization of entry "+entry.ID.String()+" failed")
				return s.TransactionRepo.Create(ctx, reversal)
			}).
		Add("link",
			func(ctx context.Context) error {
				var err error
				linked, err = s.Link(ctx, entry.ID, tx.ID)
				return err
			}, nil)

	if err := steps.Run(ctx); err != nil {
		return nil, nil, err
	}
	return tx, linked, nil
}

func (s *ReconciliationService) transactionFor(o *domain.Obligation, entry *domain.ScheduleEntry, overrides RealizeOverrides) *domain.Transaction {
	txType := domain.TransactionTypeExpense
	if entry.Direction == domain.DirectionReceivable {
		txType = domain.TransactionTypeIncome
	}

	amount := entry.Amount
	if overrides.Amount != nil {
		amount = overrides.Amount.Abs()
	}
	if entry.Direction == domain.DirectionPayable {
		amount = amount.Neg()
	}

	date := entry.DueDate
	if overrides.Date != nil {
		date = *overrides.Date
	}

	description := o.Description
	if description == "" {
		description = fmt.Sprintf("Installment %d", entry.Sequence)
	}
	if overrides.Description != nil {
		description = *overrides.Description
	}

	accountID := o.AccountID
	if overrides.AccountID != nil {
		accountID = overrides.AccountID
	}

	return &domain.Transaction{
		ID:          uuid.New(),
		WorkspaceID: entry.WorkspaceID,
		EntityID:    entry.EntityID,
		AccountID:   accountID,
		Type:        txType,
		Amount:      amount,
		Currency:    entry.Currency,
		Date:        date,
		Description: description,
		Source:      domain.SourceManual,
		CreatedAt:   s.Now().UTC(),
	}
}

func (s *ReconciliationService) loadEntry(ctx context.Context, op string, id uuid.UUID) (*domain.ScheduleEntry, error) {
	entry, err := s.EntryRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(op, domain.ErrNotFound, "schedule entry %s", id)
		}
		return nil, fmt.Errorf("failed to load schedule entry: %w", err)
	}
	if err := domain.CheckScope(ctx, op, entry.WorkspaceID); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *ReconciliationService) loadTransaction(ctx context.Context, op string, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.TransactionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(op, domain.ErrNotFound, "transaction %s", id)
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if err := domain.CheckScope(ctx, op, tx.WorkspaceID); err != nil {
		return nil, err
	}
	return tx, nil
}

// obligationKey is shared with the obligation and schedule services
func obligationKey(id uuid.UUID) string {
	return "obligation:" + id.String()
}

func entryKey(id uuid.UUID) string {
	return "entry:" + id.String()
}

func transactionKey(id uuid.UUID) string {
	return "transaction:" + id.String()
}
