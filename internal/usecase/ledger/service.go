package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
	"github.com/simaogato/obligations-backend/internal/usecase/duplicate"
)

// RecordTransactionInput represents the input for posting a manual transaction
type RecordTransactionInput struct {
	WorkspaceID uuid.UUID
	EntityID    uuid.UUID
	AccountID   *uuid.UUID
	Type        domain.TransactionType
	Amount      decimal.Decimal // absolute; the type gives the sign
	Currency    string
	Date        time.Time
	Description string
}

// IngestInput carries a batch of normalised import candidates for one account
type IngestInput struct {
	WorkspaceID    uuid.UUID
	EntityID       uuid.UUID
	AccountID      *uuid.UUID
	Candidates     []duplicate.Candidate
	SkipDuplicates bool
}

// ExternalItem is one transaction of the external sync feed
type ExternalItem struct {
	ExternalID  string
	Date        time.Time
	Description string
	Amount      decimal.Decimal // signed
	Currency    string
	Type        domain.TransactionType
}

// SyncInput carries a page of the external sync feed for one account
type SyncInput struct {
	WorkspaceID uuid.UUID
	EntityID    uuid.UUID
	AccountID   *uuid.UUID
	Items       []ExternalItem
}

// ItemFailure is one batch item that could not be posted
type ItemFailure struct {
	Index int
	Err   error
}

// IngestResult summarises an import batch
type IngestResult struct {
	Posted   []*domain.Transaction
	Flags    []duplicate.Flag
	Skipped  int
	Failures []ItemFailure
}

// SyncResult summarises a sync page
type SyncResult struct {
	Created  int
	Existing int
	Failures []ItemFailure
}

// LedgerService posts and corrects ledger transactions.
// Posted transactions are immutable: corrections are reversals.
type LedgerService struct {
	TransactionRepo domain.TransactionRepository
	EntryRepo       domain.ScheduleEntryRepository
	Detector        *duplicate.Detector
	Logger          *logrus.Logger
	Now             func() time.Time
}

// NewLedgerService creates a new LedgerService instance
func NewLedgerService(transactionRepo domain.TransactionRepository, entryRepo domain.ScheduleEntryRepository, detector *duplicate.Detector, logger *logrus.Logger) *LedgerService {
	if logger == nil {
		logger = config.NewDiscardLogger()
	}
	return &LedgerService{
		TransactionRepo: transactionRepo,
		EntryRepo:       entryRepo,
		Detector:        detector,
		Logger:          logger,
		Now:             time.Now,
	}
}

// Record posts a manual transaction
// Logic:
//  1. Amount must be positive; the sign follows the type (inbound positive)
//  2. Validate and save using TransactionRepo.Create
func (s *LedgerService) Record(ctx context.Context, input RecordTransactionInput) (*domain.Transaction, error) {
	const op = "ledger.Record"

	if !input.Amount.IsPositive() {
		return nil, domain.E(op, domain.ErrInvalidAmount)
	}
	if ws, ok := domain.WorkspaceFromContext(ctx); ok && ws != input.WorkspaceID {
		return nil, domain.E(op, domain.ErrInvalidInput, "workspace does not match caller scope")
	}

	amount := input.Amount
	if !input.Type.IsInbound() {
		amount = amount.Neg()
	}
	tx := &domain.Transaction{
		ID:          uuid.New(),
		WorkspaceID: input.WorkspaceID,
		EntityID:    input.EntityID,
		AccountID:   input.AccountID,
		Type:        input.Type,
		Amount:      amount,
		Currency:    input.Currency,
		Date:        input.Date,
		Description: input.Description,
		Source:      domain.SourceManual,
		CreatedAt:   s.Now().UTC(),
	}
	if err := s.post(ctx, op, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Reverse posts the compensating transaction of id. The original is left untouched.
// Linked transactions must be unlinked first.
func (s *LedgerService) Reverse(ctx context.Context, id uuid.UUID, description string) (*domain.Transaction, error) {
	const op = "ledger.Reverse"

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
	if tx.ReversalOf != nil {
		return nil, domain.E(op, domain.ErrInvalidInput, "a reversal cannot be reversed")
	}
	if _, err := s.TransactionRepo.GetReversal(ctx, id); err == nil {
		return nil, domain.E(op, domain.ErrConflict, "transaction %s already reversed", id)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check reversal: %w", err)
	}
	if s.EntryRepo != nil {
		linked, err := s.EntryRepo.ListByTransaction(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to check transaction links: %w", err)
		}
		if len(linked) > 0 {
			return nil, domain.E(op, domain.ErrTransactionLinked, "unlink the schedule entries first")
		}
	}

	if description == "" {
		description = "Reversal: " + tx.Description
	}
	reversal := tx.Reversal(s.Now().UTC(), description)
	if err := s.TransactionRepo.Create(ctx, reversal); err != nil {
		return nil, fmt.Errorf("failed to post reversal: %w", err)
	}
	return reversal, nil
}

// List retrieves transactions matching the filter
func (s *LedgerService) List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	if ws, ok := domain.WorkspaceFromContext(ctx); ok {
		if filter.WorkspaceID != uuid.Nil && filter.WorkspaceID != ws {
			return []*domain.Transaction{}, nil
		}
		filter.WorkspaceID = ws
	}
	txs, err := s.TransactionRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// Ingest posts a batch of import candidates
// Logic:
//  1. Flag duplicates against the account and within the batch
//  2. Skip flagged candidates when SkipDuplicates is set, otherwise keep them
//  3. Post the rest with source IMPORT; one failing candidate never stops the batch
func (s *LedgerService) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	const op = "ledger.Ingest"

	if ws, ok := domain.WorkspaceFromContext(ctx); ok && ws != input.WorkspaceID {
		return nil, domain.E(op, domain.ErrInvalidInput, "workspace does not match caller scope")
	}

	result := &IngestResult{}
	if s.Detector != nil {
		flags, err := s.Detector.Detect(ctx, input.WorkspaceID, input.AccountID, input.Candidates)
		if err != nil {
			return nil, err
		}
		result.Flags = flags
	}

	for i, c := range input.Candidates {
		if result.Flags != nil && result.Flags[i].Duplicate && input.SkipDuplicates {
			result.Skipped++
			continue
		}
		tx := &domain.Transaction{
			ID:          uuid.New(),
			WorkspaceID: input.WorkspaceID,
			EntityID:    input.EntityID,
			AccountID:   input.AccountID,
			Type:        typeFor(c.Type, c.Amount),
			Amount:      c.Amount,
			Currency:    c.Currency,
			Date:        c.Date,
			Description: c.Description,
			Source:      domain.SourceImport,
			CreatedAt:   s.Now().UTC(),
		}
		if err := s.post(ctx, op, tx); err != nil {
			config.LogError(s.Logger, "ledger", "Ingest", "failed to post import candidate",
				map[string]any{"index": i, "description": c.Description}, err)
			result.Failures = append(result.Failures, ItemFailure{Index: i, Err: err})
			continue
		}
		result.Posted = append(result.Posted, tx)
	}
	return result, nil
}

// SyncExternal posts feed items not seen before. Items whose external id is
// already known for the workspace are counted as existing, so replaying a
// page is harmless.
func (s *LedgerService) SyncExternal(ctx context.Context, input SyncInput) (*SyncResult, error) {
	const op = "ledger.SyncExternal"

	if ws, ok := domain.WorkspaceFromContext(ctx); ok && ws != input.WorkspaceID {
		return nil, domain.E(op, domain.ErrInvalidInput, "workspace does not match caller scope")
	}

	result := &SyncResult{}
	for i, item := range input.Items {
		if item.ExternalID == "" {
			result.Failures = append(result.Failures, ItemFailure{Index: i, Err: domain.E(op, domain.ErrInvalidInput, "external id is required")})
			continue
		}

		_, err := s.TransactionRepo.GetByExternalID(ctx, input.WorkspaceID, item.ExternalID)
		if err == nil {
			result.Existing++
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			config.LogError(s.Logger, "ledger", "SyncExternal", "failed to look up external id", item.ExternalID, err)
			result.Failures = append(result.Failures, ItemFailure{Index: i, Err: err})
			continue
		}

		externalID := item.ExternalID
		tx := &domain.Transaction{
			ID:          uuid.New(),
			WorkspaceID: input.WorkspaceID,
			EntityID:    input.EntityID,
			AccountID:   input.AccountID,
			Type:        typeFor(item.Type, item.Amount),
			Amount:      item.Amount,
			Currency:    item.Currency,
			Date:        item.Date,
			Description: item.Description,
			Source:      domain.SourceExternalSync,
			ExternalID:  &externalID,
			CreatedAt:   s.Now().UTC(),
		}
		if err := s.post(ctx, op, tx); err != nil {
			// a concurrent sync won the insert
			if errors.Is(err, domain.ErrConflict) {
				result.Existing++
				continue
			}
			config.LogError(s.Logger, "ledger", "SyncExternal", "failed to post feed item", item.ExternalID, err)
			result.Failures = append(result.Failures, ItemFailure{Index: i, Err: err})
			continue
		}
		result.Created++
	}
	return result, nil
}

func (s *LedgerService) post(ctx context.Context, op string, tx *domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		if errors.Is(err, domain.ErrInvalidAmount) {
			return domain.E(op, err)
		}
		return domain.E(op, domain.ErrInvalidInput, "%s", err.Error())
	}
	if err := s.TransactionRepo.Create(ctx, tx); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.E(op, domain.ErrConflict, "transaction %s", tx.ID)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// typeFor keeps an explicit type and otherwise derives INCOME or EXPENSE from the sign
func typeFor(t domain.TransactionType, amount decimal.Decimal) domain.TransactionType {
	if t != "" {
		return t
	}
	if amount.IsPositive() {
		return domain.TransactionTypeIncome
	}
	return domain.TransactionTypeExpense
}
