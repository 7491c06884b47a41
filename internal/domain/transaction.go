package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of ledger movement
type TransactionType string

const (
	TransactionTypeIncome      TransactionType = "INCOME"
	TransactionTypeExpense     TransactionType = "EXPENSE"
	TransactionTypeTransferIn  TransactionType = "TRANSFER_IN"
	TransactionTypeTransferOut TransactionType = "TRANSFER_OUT"
	TransactionTypeRefundIn    TransactionType = "REFUND_IN"
	TransactionTypeRefundOut   TransactionType = "REFUND_OUT"
)

// IsInbound reports whether money flows into the entity
func (t TransactionType) IsInbound() bool {
	return t == TransactionTypeIncome || t == TransactionTypeTransferIn || t == TransactionTypeRefundIn
}

// Inverse returns the type a reversal of this type carries
func (t TransactionType) Inverse() TransactionType {
	switch t {
	case TransactionTypeIncome:
		return TransactionTypeRefundOut
	case TransactionTypeExpense:
		return TransactionTypeRefundIn
	case TransactionTypeTransferIn:
		return TransactionTypeTransferOut
	case TransactionTypeTransferOut:
		return TransactionTypeTransferIn
	case TransactionTypeRefundIn:
		return TransactionTypeRefundOut
	default:
		return TransactionTypeRefundIn
	}
}

// TransactionSource tags where a transaction came from
type TransactionSource string

const (
	SourceManual       TransactionSource = "MANUAL"
	SourceImport       TransactionSource = "IMPORT"
	SourceExternalSync TransactionSource = "EXTERNAL_SYNC"
)

// Transaction represents a posted ledger movement.
// Immutable once posted: corrections are new transactions with ReversalOf set.
type Transaction struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	EntityID    uuid.UUID
	AccountID   *uuid.UUID
	Type        TransactionType
	Amount      decimal.Decimal // SIGNED: positive inbound, negative outbound
	Currency    string
	Date        time.Time
	Description string
	Source      TransactionSource
	ExternalID  *string    // set by external sync, unique per workspace
	ReversalOf  *uuid.UUID // back-reference for reversal entries
	CreatedAt   time.Time
}

// Validate ensures the transaction adheres to domain rules
func (t *Transaction) Validate() error {
	if t.EntityID == uuid.Nil {
		return errors.New("transaction must reference an entity")
	}
	if t.Date.IsZero() {
		return errors.New("transaction date is required")
	}
	if t.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if _, ok := ToMinorUnits(t.Amount, CurrencyExponent(t.Currency)); !ok {
		return ErrInvalidAmount
	}

	switch t.Type {
	case TransactionTypeIncome, TransactionTypeExpense,
		TransactionTypeTransferIn, TransactionTypeTransferOut,
		TransactionTypeRefundIn, TransactionTypeRefundOut:
	default:
		return errors.New("unknown transaction type")
	}

	// The sign must agree with the flow direction of the type
	if t.Type.IsInbound() != t.Amount.IsPositive() {
		return errors.New("transaction amount sign does not match its type")
	}

	switch t.Source {
	case SourceManual, SourceImport, SourceExternalSync:
	default:
		return errors.New("transaction source must be MANUAL, IMPORT or EXTERNAL_SYNC")
	}
	if t.Source == SourceExternalSync && (t.ExternalID == nil || *t.ExternalID == "") {
		return errors.New("externally synced transaction must carry an external id")
	}

	return nil
}

// Reversal builds the compensating transaction for t
func (t *Transaction) Reversal(now time.Time, description string) *Transaction {
	original := t.ID
	return &Transaction{
		ID:          uuid.New(),
		WorkspaceID: t.WorkspaceID,
		EntityID:    t.EntityID,
		AccountID:   t.AccountID,
		Type:        t.Type.Inverse(),
		Amount:      t.Amount.Neg(),
		Currency:    t.Currency,
		Date:        now,
		Description: description,
		Source:      SourceManual,
		ReversalOf:  &original,
		CreatedAt:   now,
	}
}

// TransactionFilter selects ledger transactions
type TransactionFilter struct {
	WorkspaceID uuid.UUID
	AccountID   *uuid.UUID
	EntityID    *uuid.UUID
	DateFrom    *time.Time
	DateTo      *time.Time
	Limit       int
	Offset      int
}
