package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ObligationKind distinguishes single-entity commitments from counterparty contracts
type ObligationKind string

const (
	ObligationKindCommitment ObligationKind = "COMMITMENT"
	ObligationKindContract   ObligationKind = "CONTRACT"
)

// Direction is the flow of money the obligation produces
type Direction string

const (
	DirectionPayable    Direction = "PAYABLE"
	DirectionReceivable Direction = "RECEIVABLE"
)

// Recurrence is the calendar step between two schedule entries
type Recurrence string

const (
	RecurrenceNone      Recurrence = "NONE"
	RecurrenceMonthly   Recurrence = "MONTHLY"
	RecurrenceQuarterly Recurrence = "QUARTERLY"
	RecurrenceYearly    Recurrence = "YEARLY"
)

// Months returns the number of calendar months in one step (0 for NONE)
func (r Recurrence) Months() int {
	switch r {
	case RecurrenceMonthly:
		return 1
	case RecurrenceQuarterly:
		return 3
	case RecurrenceYearly:
		return 12
	default:
		return 0
	}
}

// AmountBasis tells the schedule generator how to derive installment amounts
type AmountBasis string

const (
	// AmountBasisTotal splits TotalAmount across all generated dates.
	AmountBasisTotal AmountBasis = "TOTAL"
	// AmountBasisMonthly charges MonthlyAmount per month covered by each step.
	AmountBasisMonthly AmountBasis = "MONTHLY"
)

// ObligationStatus is the lifecycle state of an obligation
type ObligationStatus string

const (
	ObligationStatusDraft     ObligationStatus = "DRAFT"
	ObligationStatusPlanned   ObligationStatus = "PLANNED"
	ObligationStatusActive    ObligationStatus = "ACTIVE"
	ObligationStatusCompleted ObligationStatus = "COMPLETED"
	ObligationStatusCancelled ObligationStatus = "CANCELLED"
)

// Obligation is a commitment or contract that materialises into schedule entries
type Obligation struct {
	ID             uuid.UUID
	WorkspaceID    uuid.UUID
	Kind           ObligationKind
	Direction      Direction
	EntityID       uuid.UUID
	CounterpartyID *uuid.UUID // contracts only
	AccountID      *uuid.UUID
	Description    string
	Currency       string
	AmountBasis    AmountBasis
	TotalAmount    decimal.Decimal
	MonthlyAmount  decimal.Decimal
	AdjustmentRate *decimal.Decimal // yearly percentage, contracts on the MONTHLY basis
	StartDate      time.Time
	EndDate        *time.Time
	Recurrence     Recurrence
	Status         ObligationStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate ensures the obligation adheres to domain rules
func (o *Obligation) Validate() error {
	if o.Kind != ObligationKindCommitment && o.Kind != ObligationKindContract {
		return errors.New("obligation kind must be COMMITMENT or CONTRACT")
	}
	if o.Direction != DirectionPayable && o.Direction != DirectionReceivable {
		return errors.New("obligation direction must be PAYABLE or RECEIVABLE")
	}
	if o.Kind == ObligationKindContract && o.CounterpartyID == nil {
		return errors.New("contract must reference a counterparty")
	}
	if o.Currency == "" {
		return errors.New("obligation currency cannot be empty")
	}
	if o.StartDate.IsZero() {
		return errors.New("obligation start date is required")
	}
	if o.EndDate != nil && o.EndDate.Before(o.StartDate) {
		return ErrInvalidDate
	}
	switch o.Recurrence {
	case RecurrenceNone, RecurrenceMonthly, RecurrenceQuarterly, RecurrenceYearly:
	default:
		return errors.New("obligation recurrence must be NONE, MONTHLY, QUARTERLY or YEARLY")
	}

	exp := CurrencyExponent(o.Currency)
	switch o.AmountBasis {
	case AmountBasisTotal:
		if _, ok := ToMinorUnits(o.TotalAmount, exp); !ok || !o.TotalAmount.IsPositive() {
			return ErrInvalidAmount
		}
	case AmountBasisMonthly:
		if _, ok := ToMinorUnits(o.MonthlyAmount, exp); !ok || !o.MonthlyAmount.IsPositive() {
			return ErrInvalidAmount
		}
	default:
		return errors.New("obligation amount basis must be TOTAL or MONTHLY")
	}

	if o.AdjustmentRate != nil {
		if o.Kind != ObligationKindContract || o.AmountBasis != AmountBasisMonthly {
			return errors.New("adjustment rate only applies to contracts on the MONTHLY basis")
		}
		if o.AdjustmentRate.LessThan(decimal.NewFromInt(-100)) {
			return errors.New("adjustment rate cannot be below -100 percent")
		}
	}

	return nil
}

// SettledStatus is the status a schedule entry takes once realized
func (o *Obligation) SettledStatus() EntryStatus {
	if o.Kind == ObligationKindCommitment {
		return EntryStatusRealized
	}
	if o.Direction == DirectionReceivable {
		return EntryStatusReceived
	}
	return EntryStatusPaid
}

// IsTerminal reports whether the obligation accepts no further transitions
func (o *Obligation) IsTerminal() bool {
	return o.Status == ObligationStatusCompleted || o.Status == ObligationStatusCancelled
}
