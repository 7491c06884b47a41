package reconciliation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
)

func TestAutoMatch_PerfectPairScoresHundred(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, entries := f.obligation(t, "100.00")
	tx := f.transaction(t, "-100.00", date(2025, 1, 1), f.entityID)

	result, err := f.svc.AutoMatch(ctx, f.workspaceID, nil)

	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	c := result.Candidates[0]
	assert.Equal(t, 100, c.Confidence)
	assert.Equal(t, entries[0].ID, c.EntryID)
	assert.Equal(t, tx.ID, c.TransactionID)
	assert.True(t, c.Evidence.AmountMatch)
	assert.True(t, c.Evidence.DateMatch)
	assert.True(t, c.Evidence.EntityMatch)
	assert.Equal(t, 0, c.Evidence.DayDistance)
	require.Len(t, result.Selected, 1)

	for _, threshold := range []int{1, 50, 80, 100} {
		applied := f.svc.ApplyAutoMatches(ctx, result.Selected, threshold)
		assert.Equal(t, 1, applied.Applied, "threshold %d", threshold)
		assert.Empty(t, applied.Failures)
	}
}

func TestScore_Weights(t *testing.T) {
	entity := uuid.New()
	entry := &domain.ScheduleEntry{
		ID: uuid.New(), EntityID: entity, DueDate: date(2025, 3, 10),
		Amount: decimal.RequireFromString("80.00"), Currency: "EUR", Direction: domain.DirectionPayable,
	}
	tuning := config.DefaultTuning().Matching

	tests := []struct {
		name     string
		tx       *domain.Transaction
		expected int
	}{
		{"amount only", &domain.Transaction{ID: uuid.New(), EntityID: uuid.New(), Amount: decimal.RequireFromString("-80.00"), Currency: "EUR", Date: date(2025, 5, 1)}, 50},
		{"date only", &domain.Transaction{ID: uuid.New(), EntityID: uuid.New(), Amount: decimal.RequireFromString("-81.00"), Currency: "EUR", Date: date(2025, 3, 17)}, 30},
		{"entity only", &domain.Transaction{ID: uuid.New(), EntityID: entity, Amount: decimal.RequireFromString("-12.00"), Currency: "EUR", Date: date(2025, 6, 1)}, 20},
		{"amount and date", &domain.Transaction{ID: uuid.New(), EntityID: uuid.New(), Amount: decimal.RequireFromString("-80.00"), Currency: "EUR", Date: date(2025, 3, 3)}, 80},
		{"opposite sign does not match amount", &domain.Transaction{ID: uuid.New(), EntityID: uuid.New(), Amount: decimal.RequireFromString("80.00"), Currency: "EUR", Date: date(2025, 3, 10)}, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates := Score([]*domain.ScheduleEntry{entry}, []*domain.Transaction{tt.tx}, tuning)
			require.Len(t, candidates, 1)
			assert.Equal(t, tt.expected, candidates[0].Confidence)
		})
	}

	t.Run("no criteria means no candidate", func(t *testing.T) {
		tx := &domain.Transaction{ID: uuid.New(), EntityID: uuid.New(), Amount: decimal.RequireFromString("-1.00"), Currency: "EUR", Date: date(2026, 1, 1)}
		assert.Empty(t, Score([]*domain.ScheduleEntry{entry}, []*domain.Transaction{tx}, tuning))
	})

	t.Run("currency mismatch is skipped", func(t *testing.T) {
		tx := &domain.Transaction{ID: uuid.New(), EntityID: entity, Amount: decimal.RequireFromString("-80.00"), Currency: "USD", Date: date(2025, 3, 10)}
		assert.Empty(t, Score([]*domain.ScheduleEntry{entry}, []*domain.Transaction{tx}, tuning))
	})

	t.Run("tolerance widens the amount criterion", func(t *testing.T) {
		loose := tuning
		loose.AmountToleranceMinor = 100
		tx := &domain.Transaction{ID: uuid.New(), EntityID: uuid.New(), Amount: decimal.RequireFromString("-81.00"), Currency: "EUR", Date: date(2025, 9, 1)}
		candidates := Score([]*domain.ScheduleEntry{entry}, []*domain.Transaction{tx}, loose)
		require.Len(t, candidates, 1)
		assert.Equal(t, 50, candidates[0].Confidence)
	})
}

func TestSelect_GreedyIsOneToOne(t *testing.T) {
	e1, e2 := uuid.New(), uuid.New()
	t1, t2 := uuid.New(), uuid.New()
	candidates := []Candidate{
		{EntryID: e1, TransactionID: t2, Confidence: 50},
		{EntryID: e1, TransactionID: t1, Confidence: 100},
		{EntryID: e2, TransactionID: t1, Confidence: 80},
		{EntryID: e2, TransactionID: t2, Confidence: 70},
	}

	result := Select(candidates)

	require.Len(t, result.Candidates, 4)
	assert.Equal(t, 100, result.Candidates[0].Confidence)
	require.Len(t, result.Selected, 2)
	assert.Equal(t, e1, result.Selected[0].EntryID)
	assert.Equal(t, t1, result.Selected[0].TransactionID)
	assert.Equal(t, e2, result.Selected[1].EntryID)
	assert.Equal(t, t2, result.Selected[1].TransactionID)
}

func TestSelect_TieBreakPrefersCloserDates(t *testing.T) {
	e1 := uuid.New()
	far := Candidate{EntryID: e1, TransactionID: uuid.New(), Confidence: 80, Evidence: Evidence{DayDistance: 5}}
	near := Candidate{EntryID: e1, TransactionID: uuid.New(), Confidence: 80, Evidence: Evidence{DayDistance: 1}}

	result := Select([]Candidate{far, near})

	require.Len(t, result.Selected, 1)
	assert.Equal(t, near.TransactionID, result.Selected[0].TransactionID)
}

func TestAutoMatch_SkipsLinkedAndForeignTransactions(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, entries := f.obligation(t, "100.00", "100.00")
	linked := f.transaction(t, "-100.00", date(2025, 1, 1), f.entityID)
	_, err := f.svc.Link(ctx, entries[0].ID, linked.ID)
	require.NoError(t, err)

	foreign := &domain.Transaction{
		ID: uuid.New(), WorkspaceID: uuid.New(), EntityID: f.entityID, Type: domain.TransactionTypeExpense,
		Amount: decimal.RequireFromString("-100.00"), Currency: "EUR", Date: date(2025, 2, 1), Source: domain.SourceManual,
	}
	require.NoError(t, f.store.Transactions().Create(ctx, foreign))

	result, err := f.svc.AutoMatch(ctx, f.workspaceID, []*domain.Transaction{linked, foreign})

	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
}

func TestApplyAutoMatches_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, entries := f.obligation(t, "100.00", "200.00")
	f.transaction(t, "-100.00", date(2025, 1, 1), f.entityID)
	tx2 := f.transaction(t, "-200.00", date(2025, 2, 1), f.entityID)

	result, err := f.svc.AutoMatch(ctx, f.workspaceID, nil)
	require.NoError(t, err)
	require.Len(t, result.Selected, 2)

	// a manual link races the batch
	manual := f.transaction(t, "-100.00", date(2025, 1, 2), uuid.New())
	_, err = f.svc.Link(ctx, entries[0].ID, manual.ID)
	require.NoError(t, err)

	applied := f.svc.ApplyAutoMatches(ctx, result.Selected, 80)

	assert.Equal(t, 1, applied.Applied)
	require.Len(t, applied.Failures, 1)
	assert.Equal(t, entries[0].ID, applied.Failures[0].EntryID)
	assert.ErrorIs(t, applied.Failures[0].Err, domain.ErrAlreadyLinked)

	stored, err := f.store.Entries().GetByID(ctx, entries[1].ID)
	require.NoError(t, err)
	assert.Equal(t, tx2.ID, *stored.TransactionID)
}

func TestApplyAutoMatches_BelowThresholdIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, entries := f.obligation(t, "100.00")
	f.transaction(t, "-100.00", date(2025, 4, 1), uuid.New())

	result, err := f.svc.AutoMatch(ctx, f.workspaceID, nil)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, 50, result.Candidates[0].Confidence)

	applied := f.svc.ApplyAutoMatches(ctx, result.Candidates, DefaultThreshold)

	assert.Equal(t, 0, applied.Applied)
	stored, err := f.store.Entries().GetByID(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusPlanned, stored.Status)
}

func TestApplyAutoMatches_ZeroThresholdAppliesEveryCandidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, entries := f.obligation(t, "100.00")
	tx := f.transaction(t, "-100.00", date(2025, 4, 1), uuid.New())

	result, err := f.svc.AutoMatch(ctx, f.workspaceID, nil)
	require.NoError(t, err)
	require.Len(t, result.Selected, 1)
	assert.Equal(t, 50, result.Selected[0].Confidence)

	applied := f.svc.ApplyAutoMatches(ctx, result.Selected, 0)

	assert.Equal(t, 1, applied.Applied)
	stored, err := f.store.Entries().GetByID(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, *stored.TransactionID)
}
