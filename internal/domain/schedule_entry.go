package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryStatus is the lifecycle state of a schedule entry
type EntryStatus string

const (
	EntryStatusPlanned   EntryStatus = "PLANNED"
	EntryStatusRealized  EntryStatus = "REALIZED"
	EntryStatusReceived  EntryStatus = "RECEIVED"
	EntryStatusPaid      EntryStatus = "PAID"
	EntryStatusCancelled EntryStatus = "CANCELLED"
)

// IsSettled reports whether the status means the entry has been realized
func (s EntryStatus) IsSettled() bool {
	return s == EntryStatusRealized || s == EntryStatusReceived || s == EntryStatusPaid
}

// LinkSource records how an entry got its transaction link
type LinkSource string

const (
	LinkSourceDirect   LinkSource = "DIRECT"   // strict 1:1 link
	LinkSourceDocument LinkSource = "DOCUMENT" // many entries to one transaction via an aggregate document
)

// ScheduleEntry is one dated, amount-bearing installment of an obligation
type ScheduleEntry struct {
	ID            uuid.UUID
	ObligationID  uuid.UUID
	WorkspaceID   uuid.UUID
	EntityID      uuid.UUID
	Sequence      int // 1-based, chronological
	DueDate       time.Time
	Amount        decimal.Decimal // absolute value; the obligation direction gives the sign
	Currency      string
	Direction     Direction
	Status        EntryStatus
	TransactionID *uuid.UUID
	LinkSource    LinkSource
	SettledAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsLinked reports whether the entry references a transaction
func (e *ScheduleEntry) IsLinked() bool {
	return e.TransactionID != nil
}

// SignedAmount returns the amount with the sign a ledger transaction would carry
func (e *ScheduleEntry) SignedAmount() decimal.Decimal {
	if e.Direction == DirectionPayable {
		return e.Amount.Neg()
	}
	return e.Amount
}

// EntryFilter selects schedule entries. Zero values mean "no filter".
type EntryFilter struct {
	WorkspaceID  uuid.UUID
	ObligationID *uuid.UUID
	EntityID     *uuid.UUID
	Statuses     []EntryStatus
	DueFrom      *time.Time
	DueTo        *time.Time
	Unlinked     bool
}

// Matches applies the filter to a single entry (used by in-memory stores)
func (f EntryFilter) Matches(e *ScheduleEntry) bool {
	if f.WorkspaceID != uuid.Nil && e.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.ObligationID != nil && e.ObligationID != *f.ObligationID {
		return false
	}
	if f.EntityID != nil && e.EntityID != *f.EntityID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if e.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.DueFrom != nil && e.DueDate.Before(*f.DueFrom) {
		return false
	}
	if f.DueTo != nil && e.DueDate.After(*f.DueTo) {
		return false
	}
	if f.Unlinked && e.TransactionID != nil {
		return false
	}
	return true
}

// SumAmounts adds the amounts of non-cancelled entries
func SumAmounts(entries []*ScheduleEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Status == EntryStatusCancelled {
			continue
		}
		total = total.Add(e.Amount)
	}
	return total
}
