package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/obligations-backend/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func TestGenerate_MonthlyInclusiveBounds(t *testing.T) {
	dates, err := Generate(date(2024, 1, 15), ptr(date(2024, 3, 15)), domain.RecurrenceMonthly)

	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2024, 1, 15), date(2024, 2, 15), date(2024, 3, 15)}, dates)
}

func TestGenerate_EndOfMonthClampingDoesNotDrift(t *testing.T) {
	dates, err := Generate(date(2023, 1, 31), ptr(date(2023, 5, 31)), domain.RecurrenceMonthly)

	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(2023, 1, 31),
		date(2023, 2, 28),
		date(2023, 3, 31),
		date(2023, 4, 30),
		date(2023, 5, 31),
	}, dates)

	leap, err := Generate(date(2024, 1, 31), ptr(date(2024, 2, 29)), domain.RecurrenceMonthly)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 29), leap[1])
}

func TestGenerate_QuarterlyAndYearly(t *testing.T) {
	q, err := Generate(date(2024, 1, 10), ptr(date(2024, 12, 31)), domain.RecurrenceQuarterly)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2024, 1, 10), date(2024, 4, 10), date(2024, 7, 10), date(2024, 10, 10)}, q)

	y, err := Generate(date(2024, 2, 29), ptr(date(2026, 3, 1)), domain.RecurrenceYearly)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2024, 2, 29), date(2025, 2, 28), date(2026, 2, 28)}, y)
}

func TestGenerate_SingleDate(t *testing.T) {
	start := date(2024, 6, 1)

	dates, err := Generate(start, ptr(date(2025, 6, 1)), domain.RecurrenceNone)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{start}, dates)

	dates, err = Generate(start, nil, domain.RecurrenceMonthly)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{start}, dates)

	dates, err = Generate(start, ptr(start), domain.RecurrenceMonthly)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{start}, dates)
}

func TestGenerate_Properties(t *testing.T) {
	start := date(2020, 8, 31)
	end := date(2027, 2, 1)
	for _, unit := range []domain.Recurrence{domain.RecurrenceMonthly, domain.RecurrenceQuarterly, domain.RecurrenceYearly} {
		first, err := Generate(start, &end, unit)
		require.NoError(t, err)
		second, err := Generate(start, &end, unit)
		require.NoError(t, err)

		assert.Equal(t, first, second, "deterministic")
		assert.Equal(t, start, first[0], "first date is start")
		for i, d := range first {
			assert.False(t, d.After(end), "within end")
			if i > 0 {
				assert.True(t, d.After(first[i-1]), "strictly increasing")
			}
		}
		assert.True(t, AddMonths(start, len(first)*unit.Months()).After(end), "next date beyond end")
	}
}

func TestGenerate_Errors(t *testing.T) {
	_, err := Generate(date(2024, 5, 1), ptr(date(2024, 4, 1)), domain.RecurrenceMonthly)
	assert.ErrorIs(t, err, domain.ErrInvalidDate)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = Generate(date(2000, 1, 1), ptr(date(2100, 1, 1)), domain.RecurrenceMonthly)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = Generate(date(2024, 1, 1), ptr(date(2024, 6, 1)), domain.Recurrence("WEEKLY"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestMonthsBetween(t *testing.T) {
	assert.Equal(t, 0, MonthsBetween(date(2024, 1, 1), date(2024, 1, 31)))
	assert.Equal(t, 14, MonthsBetween(date(2024, 11, 30), date(2026, 1, 1)))
}
