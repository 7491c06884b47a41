package allocator

import (
	"github.com/shopspring/decimal"
	"github.com/simaogato/obligations-backend/internal/domain"
)

// Allocate splits a total amount into count installments
// Logic:
//  1. Convert the total to integer minor units of the currency exponent
//  2. Give every part the floor quotient total / count
//  3. Hand the remainder out one minor unit at a time to the first parts
//
// Safety: Ensures the parts sum to the total exactly (no penny lost)
func Allocate(total decimal.Decimal, count int, exponent int32) ([]decimal.Decimal, error) {
	const op = "allocator.Allocate"

	if count < 1 {
		return nil, domain.E(op, domain.ErrInvalidAmount, "installment count must be at least 1, got %d", count)
	}
	if !total.IsPositive() {
		return nil, domain.E(op, domain.ErrInvalidAmount, "total must be positive")
	}
	units, ok := domain.ToMinorUnits(total, exponent)
	if !ok {
		return nil, domain.E(op, domain.ErrInvalidAmount, "total %s is not a whole number of minor units within range", total)
	}

	n := int64(count)
	quotient := units / n
	remainder := units % n

	parts := make([]decimal.Decimal, count)
	sum := int64(0)
	for i := range parts {
		u := quotient
		if int64(i) < remainder {
			u++
		}
		parts[i] = domain.FromMinorUnits(u, exponent)
		sum += u
	}

	// Safety check: Ensure total allocation equals total amount exactly
	if sum != units {
		return nil, domain.E(op, domain.ErrInvalidAmount, "allocation does not sum to total")
	}

	return parts, nil
}
