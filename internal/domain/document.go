package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DocumentStatus is the lifecycle state of an aggregate document
type DocumentStatus string

const (
	DocumentStatusDraft     DocumentStatus = "DRAFT"
	DocumentStatusSent      DocumentStatus = "SENT"
	DocumentStatusPaid      DocumentStatus = "PAID"
	DocumentStatusCancelled DocumentStatus = "CANCELLED"
)

// AggregateDocument bundles several receivable schedule entries of one
// contract into a single payable unit (debit note).
type AggregateDocument struct {
	ID            uuid.UUID
	WorkspaceID   uuid.UUID
	ObligationID  uuid.UUID
	Number        string
	EntryIDs      []uuid.UUID
	Total         decimal.Decimal // sum of bundled entries
	Currency      string
	IssueDate     time.Time
	DueDate       time.Time
	Status        DocumentStatus
	TransactionID *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate ensures the document adheres to domain rules
func (d *AggregateDocument) Validate() error {
	if len(d.EntryIDs) == 0 {
		return errors.New("document must bundle at least one schedule entry")
	}
	seen := make(map[uuid.UUID]bool, len(d.EntryIDs))
	for _, id := range d.EntryIDs {
		if seen[id] {
			return errors.New("document bundles the same schedule entry twice")
		}
		seen[id] = true
	}
	if !d.Total.IsPositive() {
		return ErrInvalidAmount
	}
	if d.DueDate.Before(d.IssueDate) {
		return ErrInvalidDate
	}
	return nil
}

// IsOpen reports whether the document still claims its entries
func (d *AggregateDocument) IsOpen() bool {
	return d.Status != DocumentStatusCancelled
}
