package duplicate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/obligations-backend/internal/adapter/repository/memory"
	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"payment", "acme", "corp"}, Tokens("PAYMENT ACME CORP"))
	assert.Equal(t, []string{"cafe", "lisboa", "lda"}, Tokens("Café  de Lisboa, Lda"))
	assert.Equal(t, []string{"rent"}, Tokens("RENT rent Rent"))
	assert.Empty(t, Tokens("to of a"))
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "Netflix subscription", "NETFLIX SUBSCRIPTION", 1, 1},
		{"abbreviation", "PAYMENT ACME CORP", "PYMT ACME CORP", 0.7, 1},
		{"accents", "Pagamento Água", "PAGAMENTO AGUA", 1, 1},
		{"typo", "Electricity invoice", "Electricty invoice", 1, 1},
		{"half overlap", "Transfer savings account", "Transfer salary", 0.2, 0.3},
		{"unrelated", "Groceries market", "Gym membership", 0, 0},
		{"empty", "", "", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := Similarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, sim, tt.min)
			assert.LessOrEqual(t, sim, tt.max)
		})
	}
}

func TestSimilarity_IsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"PAYMENT ACME CORP", "PYMT ACME CORP"},
		{"Transfer savings account", "Transfer salary"},
		{"Café Central", "cafe central lisbon"},
	}
	for _, p := range pairs {
		assert.InDelta(t, Similarity(p[0], p[1]), Similarity(p[1], p[0]), 1e-9, "%q vs %q", p[0], p[1])
	}
}

func TestDetect_PaymentPymtScenario(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	detector := NewDetector(store.Transactions(), config.DefaultTuning().Duplicates, nil)
	account := uuid.New()

	candidates := []Candidate{
		{Date: date(2025, 3, 10), Description: "PAYMENT ACME CORP", Amount: decimal.RequireFromString("-120.00"), Currency: "EUR", Type: domain.TransactionTypeExpense},
		{Date: date(2025, 3, 11), Description: "PYMT ACME CORP", Amount: decimal.RequireFromString("-120.00"), Currency: "EUR", Type: domain.TransactionTypeExpense},
	}

	flags, err := detector.Detect(ctx, uuid.New(), &account, candidates)

	require.NoError(t, err)
	require.Len(t, flags, 2)
	assert.False(t, flags[0].Duplicate)
	assert.True(t, flags[1].Duplicate)
	assert.Equal(t, 0, flags[1].MatchedCandidate)
	assert.GreaterOrEqual(t, flags[1].Similarity, 0.7)
	// 0.5 base + 0.2 same amount + 0.2 x similarity, dates differ
	assert.InDelta(t, 0.7+0.2*flags[1].Similarity, flags[1].Confidence, 1e-9)
}

func TestDetect_AgainstPostedTransactions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	workspaceID := uuid.New()
	account := uuid.New()
	posted := &domain.Transaction{
		ID: uuid.New(), WorkspaceID: workspaceID, EntityID: uuid.New(), AccountID: &account,
		Type: domain.TransactionTypeExpense, Amount: decimal.RequireFromString("-49.90"), Currency: "EUR",
		Date: date(2025, 4, 2), Description: "Vodafone Portugal", Source: domain.SourceImport,
	}
	require.NoError(t, store.Transactions().Create(ctx, posted))
	detector := NewDetector(store.Transactions(), config.DefaultTuning().Duplicates, nil)

	flags, err := detector.Detect(ctx, workspaceID, &account, []Candidate{
		{Date: date(2025, 4, 2), Description: "VODAFONE PORTUGAL", Amount: decimal.RequireFromString("-49.90"), Currency: "EUR"},
		{Date: date(2025, 4, 9), Description: "VODAFONE PORTUGAL", Amount: decimal.RequireFromString("-49.90"), Currency: "EUR"},
		{Date: date(2025, 4, 2), Description: "VODAFONE PORTUGAL", Amount: decimal.RequireFromString("-49.91"), Currency: "EUR"},
	})

	require.NoError(t, err)
	require.Len(t, flags, 3)

	assert.True(t, flags[0].Duplicate)
	require.NotNil(t, flags[0].MatchedTransactionID)
	assert.Equal(t, posted.ID, *flags[0].MatchedTransactionID)
	assert.InDelta(t, 1.0, flags[0].Confidence, 1e-9, "capped at 1")

	assert.False(t, flags[1].Duplicate, "seven days apart exceeds the date tolerance")
	assert.False(t, flags[2].Duplicate, "one cent over the amount tolerance")
}

func TestCompare_Tolerances(t *testing.T) {
	tuning := config.DefaultTuning().Duplicates
	tuning.AmountToleranceMinor = 5
	detector := NewDetector(nil, tuning, nil)

	base := Candidate{Date: date(2025, 1, 10), Description: "Uber trip Lisbon", Amount: decimal.RequireFromString("-12.30"), Currency: "EUR"}

	_, conf, ok := detector.Compare(base, Candidate{Date: date(2025, 1, 13), Description: "UBER TRIP LISBON", Amount: decimal.RequireFromString("-12.34"), Currency: "EUR"})
	assert.True(t, ok)
	assert.InDelta(t, 0.7, conf, 1e-9)

	_, _, ok = detector.Compare(base, Candidate{Date: date(2025, 1, 14), Description: "UBER TRIP LISBON", Amount: decimal.RequireFromString("-12.30"), Currency: "EUR"})
	assert.False(t, ok)

	_, _, ok = detector.Compare(base, Candidate{Date: date(2025, 1, 10), Description: "UBER TRIP LISBON", Amount: decimal.RequireFromString("-12.30"), Currency: "USD"})
	assert.False(t, ok)

	sim, _, ok := detector.Compare(base, Candidate{Date: date(2025, 1, 10), Description: "Bolt ride Porto", Amount: decimal.RequireFromString("-12.30"), Currency: "EUR"})
	assert.False(t, ok)
	assert.Zero(t, sim)
}
