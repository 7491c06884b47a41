package schedule

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simaogato/obligations-backend/internal/domain"
	"github.com/simaogato/obligations-backend/internal/usecase/allocator"
	"github.com/simaogato/obligations-backend/internal/usecase/recurrence"
)

var hundred = decimal.NewFromInt(100)

// Installment is one planned (date, amount) pair before persistence
type Installment struct {
	Sequence int
	DueDate  time.Time
	Amount   decimal.Decimal
}

// DueDates returns the obligation's full date series.
// openEnded is true when a recurring obligation had no end date and was
// collapsed to its start date.
func DueDates(o *domain.Obligation) (dates []time.Time, openEnded bool, err error) {
	dates, err = recurrence.Generate(o.StartDate, o.EndDate, o.Recurrence)
	if err != nil {
		return nil, false, err
	}
	return dates, o.Recurrence != domain.RecurrenceNone && o.EndDate == nil, nil
}

// Plan computes the installments of a fresh schedule
// Logic:
//   - TOTAL basis: split TotalAmount across all dates with the allocator
//   - MONTHLY basis: each date carries MonthlyAmount times the months of one
//     step, indexed yearly by AdjustmentRate for contracts
func Plan(o *domain.Obligation) ([]Installment, bool, error) {
	dates, openEnded, err := DueDates(o)
	if err != nil {
		return nil, false, err
	}
	sequences := make([]int, len(dates))
	for i := range dates {
		sequences[i] = i + 1
	}
	plan, err := planFor(o, dates, sequences, o.TotalAmount)
	return plan, openEnded, err
}

// planFor prices the given dates. total is only used on the TOTAL basis.
func planFor(o *domain.Obligation, dates []time.Time, sequences []int, total decimal.Decimal) ([]Installment, error) {
	if len(dates) == 0 {
		return []Installment{}, nil
	}

	exp := domain.CurrencyExponent(o.Currency)
	amounts := make([]decimal.Decimal, len(dates))

	switch o.AmountBasis {
	case domain.AmountBasisTotal:
		parts, err := allocator.Allocate(total, len(dates), exp)
		if err != nil {
			return nil, err
		}
		amounts = parts
	case domain.AmountBasisMonthly:
		for i, d := range dates {
			amount, err := PeriodAmount(o, d)
			if err != nil {
				return nil, err
			}
			amounts[i] = amount
		}
	default:
		return nil, domain.E("schedule.Plan", domain.ErrInvalidInput, "unknown amount basis %q", o.AmountBasis)
	}

	plan := make([]Installment, len(dates))
	for i := range dates {
		plan[i] = Installment{Sequence: sequences[i], DueDate: dates[i], Amount: amounts[i]}
	}
	return plan, nil
}

// PeriodAmount is the MONTHLY-basis amount due on date.
// The adjustment compounds once per full year elapsed since the start date.
func PeriodAmount(o *domain.Obligation, date time.Time) (decimal.Decimal, error) {
	months := o.Recurrence.Months()
	if months == 0 {
		months = 1
	}
	exp := domain.CurrencyExponent(o.Currency)
	amount := o.MonthlyAmount.Mul(decimal.NewFromInt(int64(months)))

	if o.AdjustmentRate != nil && o.Kind == domain.ObligationKindContract {
		factor := decimal.NewFromInt(1).Add(o.AdjustmentRate.Div(hundred))
		for years := recurrence.MonthsBetween(o.StartDate, date) / 12; years > 0; years-- {
			amount = amount.Mul(factor)
		}
	}

	amount = amount.Round(exp)
	if !amount.IsPositive() {
		return decimal.Zero, domain.E("schedule.PeriodAmount", domain.ErrInvalidAmount, "period amount on %s is not positive", date.Format(time.DateOnly))
	}
	return amount, nil
}

// toEntries materialises installments as PLANNED entries of o
func toEntries(o *domain.Obligation, plan []Installment, now time.Time) []*domain.ScheduleEntry {
	entries := make([]*domain.ScheduleEntry, len(plan))
	for i, p := range plan {
		entries[i] = &domain.ScheduleEntry{
			ID:           uuid.New(),
			ObligationID: o.ID,
			WorkspaceID:  o.WorkspaceID,
			EntityID:     o.EntityID,
			Sequence:     p.Sequence,
			DueDate:      p.DueDate,
			Amount:       p.Amount,
			Currency:     o.Currency,
			Direction:    o.Direction,
			Status:       domain.EntryStatusPlanned,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}
	return entries
}

func sumInstallments(plan []Installment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range plan {
		total = total.Add(p.Amount)
	}
	return total
}

func dayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
