package schedule

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/obligations-backend/internal/adapter/lock"
	"github.com/simaogato/obligations-backend/internal/adapter/repository/memory"
	"github.com/simaogato/obligations-backend/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func newService(store *memory.Store) *ScheduleService {
	svc := NewScheduleService(store.Obligations(), store.Entries(), lock.NewLocalLocker(), nil, nil)
	svc.DocumentRepo = store.Documents()
	svc.Now = func() time.Time { return date(2025, 1, 1) }
	return svc
}

func commitmentInput(workspaceID uuid.UUID) CreateObligationInput {
	return CreateObligationInput{
		WorkspaceID: workspaceID,
		Kind:        "COMMITMENT",
		Direction:   "PAYABLE",
		EntityID:    uuid.New(),
		Description: "Laptop in installments",
		Currency:    "EUR",
		AmountBasis: "TOTAL",
		TotalAmount: decimal.RequireFromString("1000.00"),
		StartDate:   date(2025, 1, 1),
		EndDate:     ptr(date(2025, 3, 1)),
		Recurrence:  "MONTHLY",
	}
}

func TestCreateWithSchedule_ThreeInstallmentScenario(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	o, entries, err := svc.CreateWithSchedule(ctx, commitmentInput(uuid.New()))

	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.ObligationStatusPlanned, o.Status)

	expected := []string{"333.34", "333.33", "333.33"}
	total := decimal.Zero
	for i, e := range entries {
		assert.Equal(t, i+1, e.Sequence)
		assert.Equal(t, date(2025, time.Month(i+1), 1), e.DueDate)
		assert.True(t, e.Amount.Equal(decimal.RequireFromString(expected[i])), "entry %d amount %s", i, e.Amount)
		assert.Equal(t, domain.EntryStatusPlanned, e.Status)
		assert.Equal(t, o.EntityID, e.EntityID)
		total = total.Add(e.Amount)
	}
	assert.True(t, total.Equal(decimal.RequireFromString("1000.00")))

	stored, err := store.Entries().List(ctx, domain.EntryFilter{ObligationID: &o.ID})
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestGenerate_TwiceFailsWithAlreadyGenerated(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	o, _, err := svc.CreateWithSchedule(ctx, commitmentInput(uuid.New()))
	require.NoError(t, err)

	_, err = svc.Generate(ctx, o.ID)

	assert.ErrorIs(t, err, domain.ErrAlreadyGenerated)
	assert.Equal(t, domain.KindIntegrity, domain.KindOf(err))
}

func TestGenerate_ConcurrentCallsProduceOneSchedule(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	o := &domain.Obligation{
		ID: uuid.New(), WorkspaceID: uuid.New(), Kind: domain.ObligationKindCommitment,
		Direction: domain.DirectionPayable, EntityID: uuid.New(), Currency: "EUR",
		AmountBasis: domain.AmountBasisTotal, TotalAmount: decimal.NewFromInt(600),
		StartDate: date(2025, 1, 1), EndDate: ptr(date(2025, 6, 1)),
		Recurrence: domain.RecurrenceMonthly, Status: domain.ObligationStatusActive,
	}
	require.NoError(t, store.Obligations().Create(ctx, o))

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, already := 0, 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Generate(ctx, o.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, domain.ErrAlreadyGenerated) {
				already++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 5, already)
	entries, err := store.Entries().List(ctx, domain.EntryFilter{ObligationID: &o.ID})
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}

func TestGenerate_OpenEndedRecurrenceYieldsSingleEntryWithWarning(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	hook := test.NewLocal(logger)
	svc.Logger = logger

	input := commitmentInput(uuid.New())
	input.EndDate = nil

	_, entries, err := svc.CreateWithSchedule(ctx, input)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Amount.Equal(decimal.RequireFromString("1000.00")))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestCreateWithSchedule_MonthlyBasisWithAdjustmentIndex(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	input := CreateObligationInput{
		WorkspaceID:    uuid.New(),
		Kind:           "CONTRACT",
		Direction:      "RECEIVABLE",
		EntityID:       uuid.New(),
		CounterpartyID: ptr(uuid.New()),
		Currency:       "EUR",
		AmountBasis:    "MONTHLY",
		MonthlyAmount:  decimal.NewFromInt(100),
		AdjustmentRate: ptr(decimal.NewFromInt(10)),
		StartDate:      date(2024, 1, 1),
		EndDate:        ptr(date(2025, 12, 31)),
		Recurrence:     "QUARTERLY",
		Status:         "ACTIVE",
	}

	o, entries, err := svc.CreateWithSchedule(ctx, input)

	require.NoError(t, err)
	require.Len(t, entries, 8)
	for i, e := range entries {
		want := decimal.NewFromInt(300)
		if i >= 4 {
			want = decimal.NewFromInt(330)
		}
		assert.True(t, e.Amount.Equal(want), "entry %d amount %s", i, e.Amount)
	}
	assert.True(t, o.TotalAmount.Equal(decimal.NewFromInt(2520)))

	stored, err := store.Obligations().GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(decimal.NewFromInt(2520)))
}

func TestCreateWithSchedule_ValidationErrors(t *testing.T) {
	ctx := context.Background()
	svc := newService(memory.NewStore())

	contract := commitmentInput(uuid.New())
	contract.Kind = "CONTRACT"
	_, _, err := svc.CreateWithSchedule(ctx, contract)
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "contract without counterparty")

	subCent := commitmentInput(uuid.New())
	subCent.TotalAmount = decimal.RequireFromString("10.005")
	_, _, err = svc.CreateWithSchedule(ctx, subCent)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	backwards := commitmentInput(uuid.New())
	backwards.EndDate = ptr(date(2024, 1, 1))
	_, _, err = svc.CreateWithSchedule(ctx, backwards)
	assert.ErrorIs(t, err, domain.ErrInvalidDate)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

type failingEntries struct {
	*memory.ScheduleEntryRepository
	err error
}

func (f *failingEntries) CreateBatch(ctx context.Context, entries []*domain.ScheduleEntry) error {
	return f.err
}

func TestCreateWithSchedule_RollsBackObligationWhenEntriesFail(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)
	svc.EntryRepo = &failingEntries{ScheduleEntryRepository: store.Entries(), err: errors.New("connection reset")}

	workspaceID := uuid.New()
	_, _, err := svc.CreateWithSchedule(ctx, commitmentInput(workspaceID))

	assert.Error(t, err)
	obligations, listErr := store.Obligations().List(ctx, workspaceID)
	require.NoError(t, listErr)
	assert.Empty(t, obligations, "obligation must not survive a failed schedule")
}

func TestGenerate_FreshObligationDeletedWhenEntriesFail(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)
	svc.EntryRepo = &failingEntries{ScheduleEntryRepository: store.Entries(), err: errors.New("connection reset")}

	o := &domain.Obligation{
		ID: uuid.New(), WorkspaceID: uuid.New(), Kind: domain.ObligationKindCommitment,
		Direction: domain.DirectionPayable, EntityID: uuid.New(), Currency: "EUR",
		AmountBasis: domain.AmountBasisTotal, TotalAmount: decimal.NewFromInt(100),
		StartDate: date(2025, 1, 1), Recurrence: domain.RecurrenceNone, Status: domain.ObligationStatusPlanned,
	}
	require.NoError(t, store.Obligations().Create(ctx, o))

	_, err := svc.Generate(ctx, o.ID)

	assert.Error(t, err)
	_, err = store.Obligations().GetByID(ctx, o.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type failingObligationUpdates struct {
	*memory.ObligationRepository
	err error
}

func (f *failingObligationUpdates) Update(ctx context.Context, o *domain.Obligation) error {
	return f.err
}

func monthlyInput(workspaceID uuid.UUID) CreateObligationInput {
	return CreateObligationInput{
		WorkspaceID:    workspaceID,
		Kind:           "CONTRACT",
		Direction:      "PAYABLE",
		EntityID:       uuid.New(),
		CounterpartyID: ptr(uuid.New()),
		Currency:       "EUR",
		AmountBasis:    "MONTHLY",
		MonthlyAmount:  decimal.NewFromInt(250),
		StartDate:      date(2025, 1, 1),
		EndDate:        ptr(date(2025, 3, 1)),
		Recurrence:     "MONTHLY",
		Status:         "ACTIVE",
	}
}

func TestCreateWithSchedule_TotalRefreshFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)
	svc.ObligationRepo = &failingObligationUpdates{ObligationRepository: store.Obligations(), err: errors.New("connection reset")}

	workspaceID := uuid.New()
	_, _, err := svc.CreateWithSchedule(ctx, monthlyInput(workspaceID))

	assert.ErrorContains(t, err, "connection reset")
	obligations, err := store.Obligations().List(ctx, workspaceID)
	require.NoError(t, err)
	assert.Empty(t, obligations)
	entries, err := store.Entries().List(ctx, domain.EntryFilter{WorkspaceID: workspaceID})
	require.NoError(t, err)
	assert.Empty(t, entries, "no schedule entry may outlive its obligation")
}

func TestGenerate_TotalRefreshFailureCancelsBatch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	o, _, err := svc.CreateWithSchedule(ctx, monthlyInput(uuid.New()))
	require.NoError(t, err)
	_, err = store.Entries().CancelPlanned(ctx, o.ID, date(2025, 1, 1))
	require.NoError(t, err)

	svc.ObligationRepo = &failingObligationUpdates{ObligationRepository: store.Obligations(), err: errors.New("connection reset")}
	_, err = svc.Generate(ctx, o.ID)
	require.Error(t, err)

	live, err := store.Entries().List(ctx, domain.EntryFilter{ObligationID: &o.ID, Statuses: liveStatuses})
	require.NoError(t, err)
	assert.Empty(t, live)

	stored, err := store.Obligations().GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(decimal.NewFromInt(750)))

	// a later attempt starts from a clean slate
	svc.ObligationRepo = store.Obligations()
	entries, err := svc.Generate(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestGenerate_OtherWorkspaceIsNotFound(t *testing.T) {
	store := memory.NewStore()
	svc := newService(store)
	o, _, err := svc.CreateWithSchedule(context.Background(), commitmentInput(uuid.New()))
	require.NoError(t, err)

	ctx := domain.WithWorkspace(context.Background(), uuid.New())
	_, err = svc.Recalculate(ctx, o.ID)

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecalculate_KeepsSettledHistory(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	input := commitmentInput(uuid.New())
	input.TotalAmount = decimal.NewFromInt(1200)
	input.EndDate = ptr(date(2025, 4, 1))
	o, entries, err := svc.CreateWithSchedule(ctx, input)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// settle the first installment
	first := entries[0]
	first.Status = domain.EntryStatusRealized
	first.TransactionID = ptr(uuid.New())
	first.LinkSource = domain.LinkSourceDirect
	require.NoError(t, store.Entries().Update(ctx, first))

	o.TotalAmount = decimal.NewFromInt(1500)
	require.NoError(t, store.Obligations().Update(ctx, o))

	created, err := svc.Recalculate(ctx, o.ID)

	require.NoError(t, err)
	require.Len(t, created, 3)
	for _, e := range created {
		assert.True(t, e.Amount.Equal(decimal.NewFromInt(400)), "got %s", e.Amount)
		assert.NotEqual(t, date(2025, 1, 1), e.DueDate)
	}

	settled, err := store.Entries().GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusRealized, settled.Status)
	assert.True(t, settled.Amount.Equal(decimal.NewFromInt(300)))

	live, err := store.Entries().List(ctx, domain.EntryFilter{ObligationID: &o.ID, Statuses: liveStatuses})
	require.NoError(t, err)
	assert.Len(t, live, 4)
	assert.True(t, domain.SumAmounts(live).Equal(decimal.NewFromInt(1500)))

	cancelled, err := store.Entries().List(ctx, domain.EntryFilter{
		ObligationID: &o.ID,
		Statuses:     []domain.EntryStatus{domain.EntryStatusCancelled},
	})
	require.NoError(t, err)
	assert.Len(t, cancelled, 3)
}

func TestRecalculate_RejectsTotalBelowSettled(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	o, entries, err := svc.CreateWithSchedule(ctx, commitmentInput(uuid.New()))
	require.NoError(t, err)
	entries[0].Status = domain.EntryStatusRealized
	require.NoError(t, store.Entries().Update(ctx, entries[0]))

	o.TotalAmount = decimal.NewFromInt(100)
	require.NoError(t, store.Obligations().Update(ctx, o))

	_, err = svc.Recalculate(ctx, o.ID)

	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	planned, err := store.Entries().List(ctx, domain.EntryFilter{
		ObligationID: &o.ID,
		Statuses:     []domain.EntryStatus{domain.EntryStatusPlanned},
	})
	require.NoError(t, err)
	assert.Len(t, planned, 2, "planned entries untouched on failure")
}

func TestPeriodAmount_IgnoresAdjustmentForCommitments(t *testing.T) {
	o := &domain.Obligation{
		Kind:           domain.ObligationKindCommitment,
		Currency:       "EUR",
		MonthlyAmount:  decimal.RequireFromString("49.99"),
		AdjustmentRate: ptr(decimal.NewFromInt(5)),
		StartDate:      date(2020, 1, 1),
		Recurrence:     domain.RecurrenceMonthly,
	}

	amount, err := PeriodAmount(o, date(2024, 6, 1))

	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.RequireFromString("49.99")))
}
