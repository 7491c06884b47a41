package cashflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simaogato/obligations-backend/internal/domain"
)

// Month aggregates the flows of one calendar month
type Month struct {
	Start           time.Time
	PlannedIncome   decimal.Decimal
	PlannedExpense  decimal.Decimal
	RealizedIncome  decimal.Decimal
	RealizedExpense decimal.Decimal
	Net             decimal.Decimal
	Closing         decimal.Decimal // opening balance plus every net up to this month
}

// Projection is the monthly cashflow outlook of a workspace in one currency
type Projection struct {
	WorkspaceID uuid.UUID
	Currency    string
	Opening     decimal.Decimal
	Months      []Month
}

// FirstNegative returns the first month closing below zero
func (p *Projection) FirstNegative() (*Month, bool) {
	for i := range p.Months {
		if p.Months[i].Closing.IsNegative() {
			return &p.Months[i], true
		}
	}
	return nil, false
}

// CashflowService projects planned and realized flows per month
type CashflowService struct {
	EntryRepo       domain.ScheduleEntryRepository
	TransactionRepo domain.TransactionRepository
}

// NewCashflowService creates a new CashflowService instance
func NewCashflowService(entryRepo domain.ScheduleEntryRepository, transactionRepo domain.TransactionRepository) *CashflowService {
	return &CashflowService{
		EntryRepo:       entryRepo,
		TransactionRepo: transactionRepo,
	}
}

// Project builds the outlook for months calendar months starting with the month of from
// Logic:
//   - Opening: signed sum of every transaction dated before the first month
//   - Realized: posted transactions, inbound as income, outbound as expense
//   - Planned: PLANNED entries by due date; overdue ones land in the first month
//   - Closing: opening plus the running net
func (s *CashflowService) Project(ctx context.Context, workspaceID uuid.UUID, currency string, from time.Time, months int) (*Projection, error) {
	const op = "cashflow.Project"

	if months < 1 {
		return nil, domain.E(op, domain.ErrInvalidInput, "months must be at least 1")
	}
	if err := domain.CheckScope(ctx, op, workspaceID); err != nil {
		return nil, err
	}

	start := monthStart(from)
	end := start.AddDate(0, months, 0)
	beforeStart := start.Add(-time.Nanosecond)
	lastInstant := end.Add(-time.Nanosecond)

	p := &Projection{WorkspaceID: workspaceID, Currency: currency, Opening: decimal.Zero, Months: make([]Month, months)}
	for i := range p.Months {
		p.Months[i] = Month{Start: start.AddDate(0, i, 0)}
	}

	history, err := s.TransactionRepo.List(ctx, domain.TransactionFilter{WorkspaceID: workspaceID, DateTo: &beforeStart})
	if err != nil {
		return nil, fmt.Errorf("failed to list past transactions: %w", err)
	}
	for _, tx := range history {
		if tx.Currency == currency {
			p.Opening = p.Opening.Add(tx.Amount)
		}
	}

	txs, err := s.TransactionRepo.List(ctx, domain.TransactionFilter{WorkspaceID: workspaceID, DateFrom: &start, DateTo: &lastInstant})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	for _, tx := range txs {
		if tx.Currency != currency {
			continue
		}
		m := &p.Months[monthIndex(start, tx.Date)]
		if tx.Amount.IsPositive() {
			m.RealizedIncome = m.RealizedIncome.Add(tx.Amount)
		} else {
			m.RealizedExpense = m.RealizedExpense.Add(tx.Amount.Abs())
		}
	}

	planned, err := s.EntryRepo.List(ctx, domain.EntryFilter{
		WorkspaceID: workspaceID,
		Statuses:    []domain.EntryStatus{domain.EntryStatusPlanned},
		DueTo:       &lastInstant,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list planned entries: %w", err)
	}
	for _, e := range planned {
		if e.Currency != currency {
			continue
		}
		idx := 0
		if !e.DueDate.Before(start) {
			idx = monthIndex(start, e.DueDate)
		}
		m := &p.Months[idx]
		if e.Direction == domain.DirectionReceivable {
			m.PlannedIncome = m.PlannedIncome.Add(e.Amount)
		} else {
			m.PlannedExpense = m.PlannedExpense.Add(e.Amount)
		}
	}

	running := p.Opening
	for i := range p.Months {
		m := &p.Months[i]
		m.Net = m.RealizedIncome.Sub(m.RealizedExpense).Add(m.PlannedIncome).Sub(m.PlannedExpense)
		running = running.Add(m.Net)
		m.Closing = running
	}
	return p, nil
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func monthIndex(start, t time.Time) int {
	t = t.UTC()
	return (t.Year()-start.Year())*12 + int(t.Month()) - int(start.Month())
}
