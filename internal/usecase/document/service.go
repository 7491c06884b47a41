package document

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

	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
	"github.com/simaogato/obligations-backend/internal/usecase/audit"
	"github.com/simaogato/obligations-backend/internal/usecase/saga"
)

// CreateDocumentInput represents the input for bundling entries into a document
type CreateDocumentInput struct {
	ObligationID uuid.UUID   `validate:"required"`
	Number       string      `validate:"max=64"`
	EntryIDs     []uuid.UUID `validate:"required,min=1"`
	IssueDate    time.Time   `validate:"required"`
	DueDate      time.Time   `validate:"required"`
}

// DocumentService manages aggregate documents (debit notes) and their
// reconciliation against incoming payments
type DocumentService struct {
	DocumentRepo    domain.DocumentRepository
	ObligationRepo  domain.ObligationRepository
	EntryRepo       domain.ScheduleEntryRepository
	TransactionRepo domain.TransactionRepository
	Locker          domain.Locker
	LockTTL         time.Duration
	Tuning          config.DocumentTuning
	Recorder        *audit.Recorder
	Logger          *logrus.Logger
	Validate        *validator.Validate
	Now             func() time.Time
}

// NewDocumentService creates a new DocumentService instance
func NewDocumentService(
	documentRepo domain.DocumentRepository,
	obligationRepo domain.ObligationRepository,
	entryRepo domain.ScheduleEntryRepository,
	transactionRepo domain.TransactionRepository,
	locker domain.Locker,
	recorder *audit.Recorder,
	logger *logrus.Logger,
) *DocumentService {
	if logger == nil {
		logger = config.NewDiscardLogger()
	}
	return &DocumentService{
		DocumentRepo:    documentRepo,
		ObligationRepo:  obligationRepo,
		EntryRepo:       entryRepo,
		TransactionRepo: transactionRepo,
		Locker:          locker,
		LockTTL:         30 * time.Second,
		Tuning:          config.DefaultTuning().Documents,
		Recorder:        recorder,
		Logger:          logger,
		Validate:        validator.New(),
		Now:             time.Now,
	}
}

// Create bundles receivable entries of one contract into a DRAFT document
// Logic:
//  1. The obligation must be a live receivable contract
//  2. Every entry must belong to it, be PLANNED and unlinked
//  3. No entry may already sit in another non-cancelled document
//  4. Total is the sum of the bundled entries
func (s *DocumentService) Create(ctx context.Context, input CreateDocumentInput) (*domain.AggregateDocument, error) {
	const op = "document.Create"

	if err := s.Validate.Struct(input); err != nil {
		return nil, domain.E(op, domain.ErrInvalidInput, "%s", err.Error())
	}

	o, err := s.ObligationRepo.GetByID(ctx, input.ObligationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(op, domain.ErrNotFound, "obligation %s", input.ObligationID)
		}
		return nil, fmt.Errorf("failed to load obligation: %w", err)
	}
	if err := domain.CheckScope(ctx, op, o.WorkspaceID); err != nil {
		return nil, err
	}
	if o.Kind != domain.ObligationKindContract || o.Direction != domain.DirectionReceivable {
		return nil, domain.E(op, domain.ErrInvalidInput, "only receivable contracts issue documents")
	}
	if o.IsTerminal() {
		return nil, domain.E(op, domain.ErrInvalidTransition, "obligation is %s", o.Status)
	}

	var doc *domain.AggregateDocument
	// shares the scheduler's key: a recalculation must not run mid-bundle
	err = domain.RunLocked(ctx, s.Locker, "obligation:"+o.ID.String(), s.LockTTL, func() error {
		total := decimal.Zero
		for _, id := range input.EntryIDs {
			e, err := s.EntryRepo.GetByID(ctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return domain.E(op, domain.ErrNotFound, "schedule entry %s", id)
				}
				return fmt.Errorf("failed to load schedule entry: %w", err)
			}
			if e.ObligationID != o.ID {
				return domain.E(op, domain.ErrInvalidInput, "schedule entry %s belongs to another obligation", id)
			}
			if e.Status != domain.EntryStatusPlanned || e.IsLinked() {
				return domain.E(op, domain.ErrInvalidTransition, "schedule entry %s is %s", id, e.Status)
			}
			total = total.Add(e.Amount)
		}

		open, err := s.DocumentRepo.ListOpenByEntries(ctx, input.EntryIDs)
		if err != nil {
			return fmt.Errorf("failed to check bundled entries: %w", err)
		}
		if len(open) > 0 {
			return domain.E(op, domain.ErrEntryBundled, "document %s", open[0].Number)
		}

		now := s.Now().UTC()
		doc = &domain.AggregateDocument{
			ID:           uuid.New(),
			WorkspaceID:  o.WorkspaceID,
			ObligationID: o.ID,
			Number:       input.Number,
			EntryIDs:     input.EntryIDs,
			Total:        total,
			Currency:     o.Currency,
			IssueDate:    input.IssueDate,
			DueDate:      input.DueDate,
			Status:       domain.DocumentStatusDraft,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if doc.Number == "" {
			doc.Number = fmt.Sprintf("DN-%s-%s", input.IssueDate.Format("20060102"), doc.ID.String()[:8])
		}
		if err := doc.Validate(); err != nil {
			if errors.Is(err, domain.ErrInvalidDate) || errors.Is(err, domain.ErrInvalidAmount) {
				return domain.E(op, err)
			}
			return domain.E(op, domain.ErrInvalidInput, "%s", err.Error())
		}
		if err := s.DocumentRepo.Create(ctx, doc); err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Recorder.Record(ctx, doc.WorkspaceID, "document", doc.ID, "create", nil, doc)
	return doc, nil
}

// Get retrieves a document within the caller's workspace
func (s *DocumentService) Get(ctx context.Context, id uuid.UUID) (*domain.AggregateDocument, error) {
	return s.load(ctx, "document.Get", id)
}

// List retrieves documents matching the filter
func (s *DocumentService) List(ctx context.Context, filter domain.DocumentFilter) ([]*domain.AggregateDocument, error) {
	if ws, ok := domain.WorkspaceFromContext(ctx); ok {
		if filter.WorkspaceID != uuid.Nil && filter.WorkspaceID != ws {
			return []*domain.AggregateDocument{}, nil
		}
		filter.WorkspaceID = ws
	}
	docs, err := s.DocumentRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// Send issues a DRAFT document to the counterparty
func (s *DocumentService) Send(ctx context.Context, id uuid.UUID) (*domain.AggregateDocument, error) {
	return s.transition(ctx, "document.Send", id, domain.DocumentStatusSent, "send")
}

// Cancel withdraws a DRAFT or SENT document and releases its entries
func (s *DocumentService) Cancel(ctx context.Context, id uuid.UUID) (*domain.AggregateDocument, error) {
	return s.transition(ctx, "document.Cancel", id, domain.DocumentStatusCancelled, "cancel")
}

func (s *DocumentService) transition(ctx context.Context, op string, id uuid.UUID, to domain.DocumentStatus, action string) (*domain.AggregateDocument, error) {
	var result *domain.AggregateDocument
	err := domain.RunLocked(ctx, s.Locker, documentKey(id), s.LockTTL, func() error {
		doc, err := s.load(ctx, op, id)
		if err != nil {
			return err
		}
		if err := domain.CheckDocumentTransition(op, doc.Status, to); err != nil {
			return err
		}
		before := *doc
		doc.Status = to
		doc.UpdatedAt = s.Now().UTC()
		if err := s.DocumentRepo.Update(ctx, doc); err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}
		s.Recorder.Record(ctx, doc.WorkspaceID, "document", doc.ID, action, before, doc)
		result = doc
		return nil
	})
	return result, err
}

// FindCandidates returns SENT, unpaid documents whose total lies within the
// amount tolerance of amount and whose due date lies within the date window
func (s *DocumentService) FindCandidates(ctx context.Context, workspaceID uuid.UUID, amount decimal.Decimal, on time.Time) ([]*domain.AggregateDocument, error) {
	const op = "document.FindCandidates"

	if err := domain.CheckScope(ctx, op, workspaceID); err != nil {
		return nil, err
	}
	docs, err := s.DocumentRepo.List(ctx, domain.DocumentFilter{
		WorkspaceID: workspaceID,
		Statuses:    []domain.DocumentStatus{domain.DocumentStatusSent},
		Unpaid:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	amount = amount.Abs()
	candidates := make([]*domain.AggregateDocument, 0)
	for _, d := range docs {
		exp := domain.CurrencyExponent(d.Currency)
		if !domain.WithinMinorUnits(d.Total, amount, s.Tuning.AmountToleranceMinor, exp) {
			continue
		}
		if domain.DaysApart(d.DueDate, on) > s.Tuning.DateWindowDays {
			continue
		}
		candidates = append(candidates, d)
	}
	return candidates, nil
}

// Reconcile settles a document and every bundled entry with one inbound transaction
// Logic:
//  1. PAID documents fail with ErrDocumentAlreadyPaid
//  2. The transaction must be inbound and not linked to anything yet
//  3. Saga: settle every entry with link source DOCUMENT (undo: restore the entries)
//  4. Saga: mark the document PAID and attach the transaction
func (s *DocumentService) Reconcile(ctx context.Context, documentID, transactionID uuid.UUID) (*domain.AggregateDocument, error) {
	const op = "document.Reconcile"

	var result *domain.AggregateDocument
	err := domain.RunLocked(ctx, s.Locker, documentKey(documentID), s.LockTTL, func() error {
		return domain.RunLocked(ctx, s.Locker, "transaction:"+transactionID.String(), s.LockTTL, func() error {
			var err error
			result, err = s.reconcile(ctx, op, documentID, transactionID)
			return err
		})
	})
	return result, err
}

func (s *DocumentService) reconcile(ctx context.Context, op string, documentID, transactionID uuid.UUID) (*domain.AggregateDocument, error) {
	doc, err := s.load(ctx, op, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == domain.DocumentStatusPaid {
		return nil, domain.E(op, domain.ErrDocumentAlreadyPaid, "document %s", doc.Number)
	}
	if err := domain.CheckDocumentTransition(op, doc.Status, domain.DocumentStatusPaid); err != nil {
		return nil, err
	}

	tx, err := s.TransactionRepo.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(op, domain.ErrNotFound, "transaction %s", transactionID)
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if tx.WorkspaceID != doc.WorkspaceID {
		return nil, domain.E(op, domain.ErrNotFound, "transaction %s", transactionID)
	}
	if !tx.Type.IsInbound() {
		return nil, domain.E(op, domain.ErrNotInbound, "transaction type %s", tx.Type)
	}
	if tx.ReversalOf != nil {
		return nil, domain.E(op, domain.ErrInvalidInput, "transaction %s is a reversal", tx.ID)
	}
	linked, err := s.EntryRepo.ListByTransaction(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check transaction links: %w", err)
	}
	if len(linked) > 0 {
		return nil, domain.E(op, domain.ErrTransactionLinked, "transaction %s", tx.ID)
	}
	if !domain.WithinMinorUnits(doc.Total, tx.Amount.Abs(), s.Tuning.AmountToleranceMinor, domain.CurrencyExponent(doc.Currency)) {
		config.LogWarn(s.Logger, "document", "Reconcile", "payment amount differs from document total",
			map[string]string{"document_id": doc.ID.String(), "total": doc.Total.String(), "amount": tx.Amount.String()})
	}

	o, err := s.ObligationRepo.GetByID(ctx, doc.ObligationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load obligation: %w", err)
	}
	settled := o.SettledStatus()

	entries := make([]*domain.ScheduleEntry, 0, len(doc.EntryIDs))
	for _, id := range doc.EntryIDs {
		e, err := s.EntryRepo.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load schedule entry %s: %w", id, err)
		}
		if err := domain.CheckEntryTransition(op, e.Status, settled); err != nil {
			return nil, err
		}
		if e.IsLinked() {
			return nil, domain.E(op, domain.ErrAlreadyLinked, "entry %s", e.ID)
		}
		entries = append(entries, e)
	}

	now := s.Now().UTC()
	before := *doc
	var updated []domain.ScheduleEntry

	steps := saga.New(op, s.Logger).
		Add("settle entries",
			func(ctx context.Context) error {
				for _, e := range entries {
					original := *e
					e.Status = settled
					e.TransactionID = &transactionID
					e.LinkSource = domain.LinkSourceDocument
					e.SettledAt = &now
					e.UpdatedAt = now
					if err := s.EntryRepo.Update(ctx, e); err != nil {
						return err
					}
					updated = append(updated, original)
				}
				return nil
			},
			func(ctx context.Context) error {
				var errs []error
				for i := range updated {
					errs = append(errs, s.EntryRepo.Update(ctx, &updated[i]))
				}
				return errors.Join(errs...)
			}).
		Add("mark paid",
			func(ctx context.Context) error {
				doc.Status = domain.DocumentStatusPaid
				doc.TransactionID = &transactionID
				doc.UpdatedAt = now
				return s.DocumentRepo.Update(ctx, doc)
			}, nil)

	if err := steps.Run(ctx); err != nil {
		return nil, err
	}

	s.Recorder.Record(ctx, doc.WorkspaceID, "document", doc.ID, "reconcile", before, doc)
	s.Recorder.Emit(ctx, domain.EventDocumentPaid, doc.WorkspaceID, doc.ID, map[string]string{
		"transaction_id": transactionID.String(),
		"entries":        strconv.Itoa(len(entries)),
	})
	return doc, nil
}

func (s *DocumentService) load(ctx context.Context, op string, id uuid.UUID) (*domain.AggregateDocument, error) {
	doc, err := s.DocumentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(op, domain.ErrNotFound, "document %s", id)
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if err := domain.CheckScope(ctx, op, doc.WorkspaceID); err != nil {
		return nil, err
	}
	return doc, nil
}

func documentKey(id uuid.UUID) string {
	return "document:" + id.String()
}
