package cashflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/obligations-backend/internal/adapter/repository/memory"
	"github.com/simaogato/obligations-backend/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seed(t *testing.T, store *memory.Store, ws uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	entity := uuid.New()
	txs := []*domain.Transaction{
		{ID: uuid.New(), WorkspaceID: ws, EntityID: entity, Type: domain.TransactionTypeIncome, Amount: dec("1000"), Currency: "EUR", Date: date(2025, 2, 20), Source: domain.SourceManual},
		{ID: uuid.New(), WorkspaceID: ws, EntityID: entity, Type: domain.TransactionTypeExpense, Amount: dec("-300"), Currency: "EUR", Date: date(2025, 3, 5), Source: domain.SourceManual},
		{ID: uuid.New(), WorkspaceID: ws, EntityID: entity, Type: domain.TransactionTypeIncome, Amount: dec("200"), Currency: "EUR", Date: date(2025, 3, 25), Source: domain.SourceManual},
		{ID: uuid.New(), WorkspaceID: ws, EntityID: entity, Type: domain.TransactionTypeIncome, Amount: dec("999"), Currency: "USD", Date: date(2025, 3, 25), Source: domain.SourceManual},
	}
	for _, tx := range txs {
		require.NoError(t, store.Transactions().Create(ctx, tx))
	}

	obligation := uuid.New()
	entries := []*domain.ScheduleEntry{
		{ID: uuid.New(), ObligationID: obligation, WorkspaceID: ws, Sequence: 1, DueDate: date(2025, 2, 15), Amount: dec("50"), Currency: "EUR", Direction: domain.DirectionPayable, Status: domain.EntryStatusPlanned},
		{ID: uuid.New(), ObligationID: obligation, WorkspaceID: ws, Sequence: 2, DueDate: date(2025, 4, 15), Amount: dec("1500"), Currency: "EUR", Direction: domain.DirectionPayable, Status: domain.EntryStatusPlanned},
		{ID: uuid.New(), ObligationID: obligation, WorkspaceID: ws, Sequence: 3, DueDate: date(2025, 4, 20), Amount: dec("400"), Currency: "EUR", Direction: domain.DirectionReceivable, Status: domain.EntryStatusPlanned},
		{ID: uuid.New(), ObligationID: obligation, WorkspaceID: ws, Sequence: 4, DueDate: date(2025, 7, 1), Amount: dec("999"), Currency: "EUR", Direction: domain.DirectionPayable, Status: domain.EntryStatusPlanned},
		{ID: uuid.New(), ObligationID: obligation, WorkspaceID: ws, Sequence: 5, DueDate: date(2025, 3, 1), Amount: dec("300"), Currency: "EUR", Direction: domain.DirectionPayable, Status: domain.EntryStatusRealized},
	}
	require.NoError(t, store.Entries().CreateBatch(ctx, entries))
}

func TestProject(t *testing.T) {
	store := memory.NewStore()
	ws := uuid.New()
	seed(t, store, ws)
	svc := NewCashflowService(store.Entries(), store.Transactions())

	p, err := svc.Project(context.Background(), ws, "EUR", date(2025, 3, 10), 3)

	require.NoError(t, err)
	assert.True(t, p.Opening.Equal(dec("1000")))
	require.Len(t, p.Months, 3)

	march := p.Months[0]
	assert.Equal(t, date(2025, 3, 1), march.Start)
	assert.True(t, march.RealizedIncome.Equal(dec("200")))
	assert.True(t, march.RealizedExpense.Equal(dec("300")))
	assert.True(t, march.PlannedExpense.Equal(dec("50")), "overdue planned entries land in the first month")
	assert.True(t, march.Closing.Equal(dec("850")))

	april := p.Months[1]
	assert.True(t, april.PlannedExpense.Equal(dec("1500")))
	assert.True(t, april.PlannedIncome.Equal(dec("400")))
	assert.True(t, april.Closing.Equal(dec("-250")))

	may := p.Months[2]
	assert.True(t, may.Net.IsZero())
	assert.True(t, may.Closing.Equal(dec("-250")))

	negative, ok := p.FirstNegative()
	require.True(t, ok)
	assert.Equal(t, date(2025, 4, 1), negative.Start)
}

func TestProject_Validation(t *testing.T) {
	store := memory.NewStore()
	svc := NewCashflowService(store.Entries(), store.Transactions())
	ws := uuid.New()

	_, err := svc.Project(context.Background(), ws, "EUR", date(2025, 3, 1), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Project(domain.WithWorkspace(context.Background(), uuid.New()), ws, "EUR", date(2025, 3, 1), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
