package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/obligations-backend/internal/adapter/events"
	"github.com/simaogato/obligations-backend/internal/adapter/lock"
	"github.com/simaogato/obligations-backend/internal/adapter/repository/memory"
	"github.com/simaogato/obligations-backend/internal/domain"
	"github.com/simaogato/obligations-backend/internal/usecase/audit"
	"github.com/simaogato/obligations-backend/internal/usecase/document"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MockTransactionRepository is a mock implementation of TransactionRepository for testing
type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) GetByExternalID(ctx context.Context, workspaceID uuid.UUID, externalID string) (*domain.Transaction, error) {
	args := m.Called(ctx, workspaceID, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) GetReversal(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*domain.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) ListUnlinked(ctx context.Context, workspaceID uuid.UUID) ([]*domain.Transaction, error) {
	args := m.Called(ctx, workspaceID)
	return args.Get(0).([]*domain.Transaction), args.Error(1)
}

// failingUpdates lets every entry write fail
type failingUpdates struct {
	*memory.ScheduleEntryRepository
}

func (f *failingUpdates) Update(ctx context.Context, e *domain.ScheduleEntry) error {
	return errors.New("connection reset")
}

type fixture struct {
	store       *memory.Store
	events      *events.Recorder
	svc         *ReconciliationService
	workspaceID uuid.UUID
	entityID    uuid.UUID
}

func newFixture() *fixture {
	store := memory.NewStore()
	published := events.NewRecorder()
	recorder := audit.NewRecorder(store.Audit(), published, nil)
	svc := NewReconciliationService(store.Obligations(), store.Entries(), store.Transactions(), lock.NewLocalLocker(), recorder, nil)
	svc.DocumentRepo = store.Documents()
	svc.Now = func() time.Time { return date(2025, 2, 1) }
	return &fixture{store: store, events: published, svc: svc, workspaceID: uuid.New(), entityID: uuid.New()}
}

// obligation stores a payable commitment with one PLANNED entry per amount,
// due on the first of consecutive months from January 2025
func (f *fixture) obligation(t *testing.T, amounts ...string) (*domain.Obligation, []*domain.ScheduleEntry) {
	t.Helper()
	o := &domain.Obligation{
		ID:          uuid.New(),
		WorkspaceID: f.workspaceID,
		Kind:        domain.ObligationKindCommitment,
		Direction:   domain.DirectionPayable,
		EntityID:    f.entityID,
		Description: "Rent",
		Currency:    "EUR",
		AmountBasis: domain.AmountBasisTotal,
		TotalAmount: decimal.NewFromInt(1),
		StartDate:   date(2025, 1, 1),
		Recurrence:  domain.RecurrenceMonthly,
		Status:      domain.ObligationStatusActive,
	}
	return o, f.persist(t, o, amounts)
}

// receivable stores an active receivable contract, the kind that bundles
// entries into aggregate documents
func (f *fixture) receivable(t *testing.T, amounts ...string) (*domain.Obligation, []*domain.ScheduleEntry) {
	t.Helper()
	counterparty := uuid.New()
	o := &domain.Obligation{
		ID:             uuid.New(),
		WorkspaceID:    f.workspaceID,
		Kind:           domain.ObligationKindContract,
		Direction:      domain.DirectionReceivable,
		EntityID:       f.entityID,
		CounterpartyID: &counterparty,
		Description:    "Service fee",
		Currency:       "EUR",
		AmountBasis:    domain.AmountBasisTotal,
		TotalAmount:    decimal.NewFromInt(1),
		StartDate:      date(2025, 1, 1),
		Recurrence:     domain.RecurrenceMonthly,
		Status:         domain.ObligationStatusActive,
	}
	return o, f.persist(t, o, amounts)
}

func (f *fixture) persist(t *testing.T, o *domain.Obligation, amounts []string) []*domain.ScheduleEntry {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Obligations().Create(ctx, o))

	entries := make([]*domain.ScheduleEntry, len(amounts))
	for i, a := range amounts {
		entries[i] = &domain.ScheduleEntry{
			ID:           uuid.New(),
			ObligationID: o.ID,
			WorkspaceID:  o.WorkspaceID,
			EntityID:     o.EntityID,
			Sequence:     i + 1,
			DueDate:      date(2025, time.Month(i+1), 1),
			Amount:       decimal.RequireFromString(a),
			Currency:     "EUR",
			Direction:    o.Direction,
			Status:       domain.EntryStatusPlanned,
		}
	}
	require.NoError(t, f.store.Entries().CreateBatch(ctx, entries))
	return entries
}

func (f *fixture) income(t *testing.T, amount string, on time.Time) *domain.Transaction {
	t.Helper()
	tx := &domain.Transaction{
		ID:          uuid.New(),
		WorkspaceID: f.workspaceID,
		EntityID:    f.entityID,
		Type:        domain.TransactionTypeIncome,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "EUR",
		Date:        on,
		Description: "Payment",
		Source:      domain.SourceManual,
	}
	require.NoError(t, f.store.Transactions().Create(context.Background(), tx))
	return tx
}

func (f *fixture) transaction(t *testing.T, amount string, on time.Time, entityID uuid.UUID) *domain.Transaction {
	t.Helper()
	tx := &domain.Transaction{
		ID:          uuid.New(),
		WorkspaceID: f.workspaceID,
		EntityID:    entityID,
		Type:        domain.TransactionTypeExpense,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "EUR",
		Date:        on,
		Description: "Transfer",
		Source:      domain.SourceManual,
	}
	require.NoError(t, f.store.Transactions().Create(context.Background(), tx))
	return tx
}

func TestLink_SettlesEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, entries := f.obligation(t, "100.00")
	tx := f.transaction(t, "-100.00", date(2025, 1, 2), f.entityID)

	linked, err := f.svc.Link(ctx, entries[0].ID, tx.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusRealized, linked.Status)
	assert.Equal(t, tx.ID, *linked.TransactionID)
	assert.Equal(t, domain.LinkSourceDirect, linked.LinkSource)
	require.NotNil(t, linked.SettledAt)
	assert.Len(t, f.events.OfType(domain.EventEntryLinked), 1)
	assert.NotEmpty(t, f.store.Audit().Entries())
}

func TestLink_SamePairIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, entries := f.obligation(t, "100.00")
	tx := f.transaction(t, "-100.00", date(2025, 1, 2), f.entityID)

	first, err := f.svc.Link(ctx, entries[0].ID, tx.ID)
	require.NoError(t, err)
	second, err := f.svc.Link(ctx, entries[0].ID, tx.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, *first.SettledAt, *second.SettledAt)
	assert.Len(t, f.events.OfType(domain.EventEntryLinked), 1)
}

func TestLink_TransactionLinkedToAnotherEntryFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, entries := f.obligation(t, "100.00", "100.00")
	tx := f.transaction(t, "-100.00", date(2025, 1, 2), f.entityID)

	_, err := f.svc.Link(ctx, entries[0].ID, tx.ID)
	require.NoError(t, err)

	_, err = f.svc.Link(ctx, entries[1].ID, tx.ID)

	assert.ErrorIs(t, err, domain.ErrTransactionLinked)
	assert.Equal(t, domain.KindIntegrity, domain.KindOf(err))
}

func TestLink_EntryLinkedToAnotherTransactionFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, entries := f.obligation(t, "100.00")
	first := f.transaction(t, "-100.00", date(2025, 1, 2), f.entityID)
	second := f.transaction(t, "-100.00", date(2025, 1, 3), f.entityID)

	_, err := f.svc.Link(ctx, entries[0].ID, first.ID)
	require.NoError(t, err)

	_, err = f.svc.Link(ctx, entries[0].ID, second.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyLinked)
}

func TestLink_RejectsReversalsAndCancelledEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	o, entries := f.obligation(t, "100.00", "100.00")
	tx := f.transaction(t, "-100.00", date(2025, 1, 2), f.entityID)
	reversal := tx.Reversal(date(2025, 1, 5), "undo")
	require.NoError(t, f.store.Transactions().Create(ctx, reversal))

	_, err := f.svc.Link(ctx, entries[0].ID, reversal.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.Link(ctx, entries[0].ID, tx.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "reversed originals are not linkable")

	_, err = f.store.Entries().CancelPlanned(ctx, o.ID, date(2025, 1, 6))
	require.NoError(t, err)
	other := f.transaction(t, "-100.00", date(2025, 2, 2), f.entityID)
	_, err = f.svc.Link(ctx, entries[1].ID, other.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestLink_CrossWorkspaceIsNotFound(t *testing.T) {
	f := newFixture()
	_, entries := f.obligation(t, "100.00")
	tx := f.transaction(t, "-100.00", date(2025, 1, 2), f.entityID)

	_, err := f.svc.Link(domain.WithWorkspace(context.Background(), uuid.New()), entries[0].ID, tx.ID)

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUnlink(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	o, entries := f.obligation(t, "100.00", "100.00")
	tx := f.transaction(t, "-100.00", date(2025, 1, 2), f.entityID)

	_, err := f.svc.Unlink(ctx, entries[0].ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "a planned entry has nothing to unlink")

	_, err = f.svc.Link(ctx, entries[0].ID, tx.ID)
	require.NoError(t, err)

	unlinked, err := f.svc.Unlink(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusPlanned, unlinked.Status)
	assert.Nil(t, unlinked.TransactionID)
	assert.Nil(t, unlinked.SettledAt)
	assert.Len(t, f.events.OfType(domain.EventEntryUnlinked), 1)

	// the transaction is free again
	_, err = f.svc.Link(ctx, entries[1].ID, tx.ID)
	require.NoError(t, err)

	_, err = f.store.Entries().CancelPlanned(ctx, o.ID, date(2025, 1, 6))
	require.NoError(t, err)
	_, err = f.svc.Unlink(ctx, entries[0].ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "cancelled entries never unlink")
}

func TestUnlink_TerminalObligationKeepsEntrySettled(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	o, entries := f.obligation(t, "100.00")
	tx := f.transaction(t, "-100.00", date(2025, 1, 2), f.entityID)
	_, err := f.svc.Link(ctx, entries[0].ID, tx.ID)
	require.NoError(t, err)

	for _, status := range []domain.ObligationStatus{domain.ObligationStatusCompleted, domain.ObligationStatusCancelled} {
		o.Status = status
		require.NoError(t, f.store.Obligations().Update(ctx, o))

		_, err = f.svc.Unlink(ctx, entries[0].ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, "obligation %s", status)

		stored, err := f.store.Entries().GetByID(ctx, entries[0].ID)
		require.NoError(t, err)
		assert.Equal(t, domain.EntryStatusRealized, stored.Status)
		assert.Equal(t, tx.ID, *stored.TransactionID)
	}
	assert.Empty(t, f.events.OfType(domain.EventEntryUnlinked))
}

func TestLink_BundledEntrySettlesOnlyThroughItsDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	o, entries := f.receivable(t, "100.00", "200.00", "100.00")
	documents := document.NewDocumentService(f.store.Documents(), f.store.Obligations(), f.store.Entries(), f.store.Transactions(),
		f.svc.Locker, audit.NewRecorder(f.store.Audit(), f.events, nil), nil)

	doc, err := documents.Create(ctx, document.CreateDocumentInput{
		ObligationID: o.ID,
		Number:       "DN-2025-001",
		EntryIDs:     []uuid.UUID{entries[0].ID, entries[1].ID},
		IssueDate:    date(2025, 1, 1),
		DueDate:      date(2025, 2, 1),
	})
	require.NoError(t, err)
	_, err = documents.Send(ctx, doc.ID)
	require.NoError(t, err)

	partial := f.income(t, "100.00", date(2025, 1, 1))
	_, err = f.svc.Link(ctx, entries[0].ID, partial.ID)
	assert.ErrorIs(t, err, domain.ErrEntryBundled)
	assert.Equal(t, domain.KindIntegrity, domain.KindOf(err))

	_, _, err = f.svc.RealizeToLedger(ctx, entries[1].ID, RealizeOverrides{})
	assert.ErrorIs(t, err, domain.ErrEntryBundled)

	matched, err := f.svc.AutoMatch(ctx, f.workspaceID, nil)
	require.NoError(t, err)
	require.NotEmpty(t, matched.Candidates)
	for _, c := range matched.Candidates {
		assert.Equal(t, entries[2].ID, c.EntryID, "bundled entries are not scored")
	}

	payment := f.income(t, "300.00", date(2025, 2, 1))
	paid, err := documents.Reconcile(ctx, doc.ID, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusPaid, paid.Status)

	for _, e := range entries[:2] {
		stored, err := f.store.Entries().GetByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.EntryStatusReceived, stored.Status)
		assert.Equal(t, domain.LinkSourceDocument, stored.LinkSource)
		assert.Equal(t, payment.ID, *stored.TransactionID)
	}
}

func TestLink_WaitsForObligationLock(t *testing.T) {
	f := newFixture()
	o, entries := f.obligation(t, "100.00")
	tx := f.transaction(t, "-100.00", date(2025, 1, 2), f.entityID)

	// a lifecycle change (Cancel) holds the obligation while it runs
	held, err := f.svc.Locker.Obtain(context.Background(), obligationKey(o.ID), time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.svc.Link(ctx, entries[0].ID, tx.ID)
	assert.ErrorIs(t, err, domain.ErrBusy)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Link(context.Background(), entries[0].ID, tx.ID)
		done <- err
	}()

	_, err = f.store.Entries().CancelPlanned(context.Background(), o.ID, date(2025, 1, 6))
	require.NoError(t, err)
	o.Status = domain.ObligationStatusCancelled
	require.NoError(t, f.store.Obligations().Update(context.Background(), o))
	require.NoError(t, held.Release(context.Background()))

	assert.ErrorIs(t, <-done, domain.ErrInvalidTransition)
	stored, err := f.store.Entries().GetByID(context.Background(), entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusCancelled, stored.Status)
	assert.Nil(t, stored.TransactionID)
}

func TestRealizeToLedger_PostsAndLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, entries := f.obligation(t, "250.00")

	tx, linked, err := f.svc.RealizeToLedger(ctx, entries[0].ID, RealizeOverrides{})

	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeExpense, tx.Type)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("-250.00")))
	assert.Equal(t, date(2025, 1, 1), tx.Date)
	assert.Equal(t, "Rent", tx.Description)
	assert.Equal(t, f.entityID, tx.EntityID)
	assert.Equal(t, tx.ID, *linked.TransactionID)

	stored, err := f.store.Transactions().GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceManual, stored.Source)
}

func TestRealizeToLedger_AppliesOverrides(t *testing.T) {
	f := newFixture()
	_, entries := f.obligation(t, "250.00")
	amount := decimal.RequireFromString("260.00")
	on := date(2025, 1, 4)
	description := "Rent incl. fee"

	tx, _, err := f.svc.RealizeToLedger(context.Background(), entries[0].ID, RealizeOverrides{Amount: &amount, Date: &on, Description: &description})

	require.NoError(t, err)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("-260.00")))
	assert.Equal(t, on, tx.Date)
	assert.Equal(t, description, tx.Description)
}

func TestRealizeToLedger_LinkFailurePostsReversal(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, entries := f.obligation(t, "250.00")
	f.svc.EntryRepo = &failingUpdates{ScheduleEntryRepository: f.store.Entries()}

	_, _, err := f.svc.RealizeToLedger(ctx, entries[0].ID, RealizeOverrides{})
	require.Error(t, err)

	txs, err := f.store.Transactions().List(ctx, domain.TransactionFilter{WorkspaceID: f.workspaceID})
	require.NoError(t, err)
	require.Len(t, txs, 2, "original stays, reversal is posted")

	var original, reversal *domain.Transaction
	for _, tx := range txs {
		if tx.ReversalOf != nil {
			reversal = tx
		} else {
			original = tx
		}
	}
	require.NotNil(t, original)
	require.NotNil(t, reversal)
	assert.Equal(t, original.ID, *reversal.ReversalOf)
	assert.True(t, original.Amount.Add(reversal.Amount).IsZero())

	entry, err := f.store.Entries().GetByID(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusPlanned, entry.Status)
}

func TestRealizeToLedger_PostFailureLeavesEntryPlanned(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, entries := f.obligation(t, "250.00")

	mockTxRepo := new(MockTransactionRepository)
	mockTxRepo.On("Create", ctx, mock.MatchedBy(func(tx *domain.Transaction) bool {
		return tx.Amount.Equal(decimal.RequireFromString("-250.00"))
	})).Return(errors.New("disk full"))
	f.svc.TransactionRepo = mockTxRepo

	_, _, err := f.svc.RealizeToLedger(ctx, entries[0].ID, RealizeOverrides{})

	assert.Error(t, err)
	mockTxRepo.AssertExpectations(t)
	mockTxRepo.AssertNumberOfCalls(t, "Create", 1)

	entry, err := f.store.Entries().GetByID(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusPlanned, entry.Status)
}

func TestRealizeToLedger_RejectsSettledEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, entries := f.obligation(t, "250.00")
	_, _, err := f.svc.RealizeToLedger(ctx, entries[0].ID, RealizeOverrides{})
	require.NoError(t, err)

	_, _, err = f.svc.RealizeToLedger(ctx, entries[0].ID, RealizeOverrides{})

	assert.ErrorIs(t, err, domain.ErrAlreadyLinked)
}
