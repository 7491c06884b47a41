package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTransaction_Validate(t *testing.T) {
	externalID := "bank-123"
	tests := []struct {
		name    string
		tx      Transaction
		wantErr bool
		errMsg  string
	}{
		{
			name: "Inbound income with positive amount should pass",
			tx: Transaction{
				EntityID: uuid.New(),
				Type:     TransactionTypeIncome,
				Amount:   decimal.NewFromInt(500),
				Currency: "EUR",
				Date:     time.Now(),
				Source:   SourceManual,
			},
			wantErr: false,
		},
		{
			name: "Expense with negative amount should pass",
			tx: Transaction{
				EntityID: uuid.New(),
				Type:     TransactionTypeExpense,
				Amount:   decimal.RequireFromString("-12.34"),
				Currency: "EUR",
				Date:     time.Now(),
				Source:   SourceImport,
			},
			wantErr: false,
		},
		{
			name: "Expense with positive amount should fail",
			tx: Transaction{
				EntityID: uuid.New(),
				Type:     TransactionTypeExpense,
				Amount:   decimal.NewFromInt(10),
				Currency: "EUR",
				Date:     time.Now(),
				Source:   SourceManual,
			},
			wantErr: true,
			errMsg:  "transaction amount sign does not match its type",
		},
		{
			name: "Sub-cent amount should fail",
			tx: Transaction{
				EntityID: uuid.New(),
				Type:     TransactionTypeIncome,
				Amount:   decimal.RequireFromString("10.001"),
				Currency: "EUR",
				Date:     time.Now(),
				Source:   SourceManual,
			},
			wantErr: true,
			errMsg:  ErrInvalidAmount.Error(),
		},
		{
			name: "Zero amount should fail",
			tx: Transaction{
				EntityID: uuid.New(),
				Type:     TransactionTypeIncome,
				Amount:   decimal.Zero,
				Currency: "EUR",
				Date:     time.Now(),
				Source:   SourceManual,
			},
			wantErr: true,
			errMsg:  ErrInvalidAmount.Error(),
		},
		{
			name: "External sync without external id should fail",
			tx: Transaction{
				EntityID: uuid.New(),
				Type:     TransactionTypeIncome,
				Amount:   decimal.NewFromInt(10),
				Currency: "EUR",
				Date:     time.Now(),
				Source:   SourceExternalSync,
			},
			wantErr: true,
			errMsg:  "externally synced transaction must carry an external id",
		},
		{
			name: "External sync with external id should pass",
			tx: Transaction{
				EntityID:   uuid.New(),
				Type:       TransactionTypeIncome,
				Amount:     decimal.NewFromInt(10),
				Currency:   "EUR",
				Date:       time.Now(),
				Source:     SourceExternalSync,
				ExternalID: &externalID,
			},
			wantErr: false,
		},
		{
			name: "Missing entity should fail",
			tx: Transaction{
				Type:     TransactionTypeIncome,
				Amount:   decimal.NewFromInt(10),
				Currency: "EUR",
				Date:     time.Now(),
				Source:   SourceManual,
			},
			wantErr: true,
			errMsg:  "transaction must reference an entity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransaction_Reversal(t *testing.T) {
	accountID := uuid.New()
	original := &Transaction{
		ID:          uuid.New(),
		WorkspaceID: uuid.New(),
		EntityID:    uuid.New(),
		AccountID:   &accountID,
		Type:        TransactionTypeExpense,
		Amount:      decimal.RequireFromString("-80.50"),
		Currency:    "EUR",
		Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Source:      SourceManual,
	}
	now := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	rev := original.Reversal(now, "reversal")

	assert.NotEqual(t, original.ID, rev.ID)
	assert.Equal(t, TransactionTypeRefundIn, rev.Type)
	assert.True(t, rev.Amount.Equal(decimal.RequireFromString("80.50")))
	assert.Equal(t, original.ID, *rev.ReversalOf)
	assert.Equal(t, original.WorkspaceID, rev.WorkspaceID)
	assert.Equal(t, now, rev.Date)
	assert.NoError(t, rev.Validate())

	// original untouched
	assert.True(t, original.Amount.Equal(decimal.RequireFromString("-80.50")))
	assert.Nil(t, original.ReversalOf)
}

func TestToMinorUnits(t *testing.T) {
	units, ok := ToMinorUnits(decimal.RequireFromString("1000.00"), 2)
	assert.True(t, ok)
	assert.Equal(t, int64(100000), units)

	_, ok = ToMinorUnits(decimal.RequireFromString("0.005"), 2)
	assert.False(t, ok)

	units, ok = ToMinorUnits(decimal.NewFromInt(1500), CurrencyExponent("JPY"))
	assert.True(t, ok)
	assert.Equal(t, int64(1500), units)

	assert.Equal(t, int32(3), CurrencyExponent("kwd"))
	assert.Equal(t, DefaultCurrencyExponent, CurrencyExponent("EUR"))
	assert.True(t, FromMinorUnits(33334, 2).Equal(decimal.RequireFromString("333.34")))
	assert.True(t, WithinMinorUnits(decimal.RequireFromString("10.00"), decimal.RequireFromString("10.01"), 1, 2))
	assert.False(t, WithinMinorUnits(decimal.RequireFromString("10.00"), decimal.RequireFromString("10.02"), 1, 2))
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, CanTransitionObligation(ObligationStatusDraft, ObligationStatusActive))
	assert.True(t, CanTransitionObligation(ObligationStatusActive, ObligationStatusCompleted))
	assert.False(t, CanTransitionObligation(ObligationStatusCompleted, ObligationStatusActive))
	assert.False(t, CanTransitionObligation(ObligationStatusCancelled, ObligationStatusPlanned))
	assert.False(t, CanTransitionObligation(ObligationStatusDraft, ObligationStatusCompleted))

	assert.True(t, CanTransitionEntry(EntryStatusPlanned, EntryStatusPaid))
	assert.False(t, CanTransitionEntry(EntryStatusPaid, EntryStatusPlanned))
	assert.False(t, CanTransitionEntry(EntryStatusCancelled, EntryStatusPlanned))

	assert.True(t, CanTransitionDocument(DocumentStatusSent, DocumentStatusPaid))
	assert.False(t, CanTransitionDocument(DocumentStatusDraft, DocumentStatusPaid))
	assert.False(t, CanTransitionDocument(DocumentStatusPaid, DocumentStatusCancelled))

	err := CheckEntryTransition("test", EntryStatusCancelled, EntryStatusRealized)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, KindState, KindOf(err))
}

func TestErrorKinds(t *testing.T) {
	err := E("schedule.Generate", ErrAlreadyGenerated, "obligation %d", 7)
	assert.ErrorIs(t, err, ErrAlreadyGenerated)
	assert.Equal(t, KindIntegrity, KindOf(err))
	assert.Equal(t, "schedule.Generate: schedule already generated: obligation 7", err.Error())

	assert.Equal(t, KindNotFound, KindOf(E("x", ErrNotFound)))
	assert.Equal(t, ErrorKind(""), KindOf(assert.AnError))
	assert.Nil(t, E("x", nil))
}

func TestObligation_SettledStatus(t *testing.T) {
	o := &Obligation{Kind: ObligationKindCommitment, Direction: DirectionPayable}
	assert.Equal(t, EntryStatusRealized, o.SettledStatus())

	o = &Obligation{Kind: ObligationKindContract, Direction: DirectionReceivable}
	assert.Equal(t, EntryStatusReceived, o.SettledStatus())

	o = &Obligation{Kind: ObligationKindContract, Direction: DirectionPayable}
	assert.Equal(t, EntryStatusPaid, o.SettledStatus())
}

func TestCheckScope(t *testing.T) {
	owner := uuid.New()
	assert.NoError(t, CheckScope(t.Context(), "op", owner))
	assert.NoError(t, CheckScope(WithWorkspace(t.Context(), owner), "op", owner))

	err := CheckScope(WithWorkspace(t.Context(), uuid.New()), "op", owner)
	assert.ErrorIs(t, err, ErrNotFound)
}
