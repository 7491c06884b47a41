package allocator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/obligations-backend/internal/domain"
)

func sum(parts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, p := range parts {
		total = total.Add(p)
	}
	return total
}

func TestAllocate_ThreeInstallmentsScenario(t *testing.T) {
	// 1000.00 in 3 installments: 333.34, 333.33, 333.33
	parts, err := Allocate(decimal.RequireFromString("1000.00"), 3, 2)

	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.True(t, parts[0].Equal(decimal.RequireFromString("333.34")), "first part takes the extra cent")
	assert.True(t, parts[1].Equal(decimal.RequireFromString("333.33")))
	assert.True(t, parts[2].Equal(decimal.RequireFromString("333.33")))
	assert.True(t, sum(parts).Equal(decimal.RequireFromString("1000.00")), "Total allocated should equal total amount")
}

func TestAllocate_SumAndSpreadProperty(t *testing.T) {
	totals := []string{"0.01", "0.07", "1.00", "99.99", "1000.00", "12345.67", "0.10"}
	for _, raw := range totals {
		total := decimal.RequireFromString(raw)
		for count := 1; count <= 13; count++ {
			parts, err := Allocate(total, count, 2)
			require.NoError(t, err)
			require.Len(t, parts, count)
			assert.True(t, sum(parts).Equal(total), "sum mismatch for %s/%d", raw, count)

			minPart, maxPart := parts[0], parts[0]
			for _, p := range parts {
				minPart = decimal.Min(minPart, p)
				maxPart = decimal.Max(maxPart, p)
			}
			assert.True(t, maxPart.Sub(minPart).LessThanOrEqual(decimal.RequireFromString("0.01")),
				"spread above one minor unit for %s/%d", raw, count)
		}
	}
}

func TestAllocate_ZeroExponentCurrency(t *testing.T) {
	parts, err := Allocate(decimal.NewFromInt(1000), 3, 0)

	require.NoError(t, err)
	assert.True(t, parts[0].Equal(decimal.NewFromInt(334)))
	assert.True(t, parts[1].Equal(decimal.NewFromInt(333)))
	assert.True(t, parts[2].Equal(decimal.NewFromInt(333)))
}

func TestAllocate_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		total string
		count int
	}{
		{name: "zero total", total: "0", count: 3},
		{name: "negative total", total: "-10.00", count: 2},
		{name: "zero count", total: "10.00", count: 0},
		{name: "sub-cent precision", total: "10.005", count: 2},
		{name: "minor units overflow int64", total: "100000000000000000.00", count: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts, err := Allocate(decimal.RequireFromString(tt.total), tt.count, 2)
			assert.Nil(t, parts)
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
}
