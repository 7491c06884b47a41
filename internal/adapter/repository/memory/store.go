package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simaogato/obligations-backend/internal/domain"
)

// Store is an in-memory implementation of every repository of the engine.
// It enforces the same uniqueness constraints as the Postgres schema and
// hands out copies so callers cannot mutate stored state.
type Store struct {
	mu           sync.RWMutex
	obligations  map[uuid.UUID]domain.Obligation
	entries      map[uuid.UUID]domain.ScheduleEntry
	transactions map[uuid.UUID]domain.Transaction
	documents    map[uuid.UUID]domain.AggregateDocument
	alerts       map[uuid.UUID]domain.AlertRecord
	audit        []domain.AuditEntry
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		obligations:  make(map[uuid.UUID]domain.Obligation),
		entries:      make(map[uuid.UUID]domain.ScheduleEntry),
		transactions: make(map[uuid.UUID]domain.Transaction),
		documents:    make(map[uuid.UUID]domain.AggregateDocument),
		alerts:       make(map[uuid.UUID]domain.AlertRecord),
	}
}

func (s *Store) Obligations() *ObligationRepository   { return &ObligationRepository{s: s} }
func (s *Store) Entries() *ScheduleEntryRepository    { return &ScheduleEntryRepository{s: s} }
func (s *Store) Transactions() *TransactionRepository { return &TransactionRepository{s: s} }
func (s *Store) Documents() *DocumentRepository       { return &DocumentRepository{s: s} }
func (s *Store) Alerts() *AlertRepository             { return &AlertRepository{s: s} }
func (s *Store) Audit() *AuditRepository              { return &AuditRepository{s: s} }

// ---- obligations ----

type ObligationRepository struct{ s *Store }

func (r *ObligationRepository) Create(ctx context.Context, o *domain.Obligation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.obligations[o.ID]; exists {
		return domain.ErrConflict
	}
	r.s.obligations[o.ID] = *o
	return nil
}

func (r *ObligationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Obligation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	o, ok := r.s.obligations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (r *ObligationRepository) Update(ctx context.Context, o *domain.Obligation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.obligations[o.ID]; !ok {
		return domain.ErrNotFound
	}
	r.s.obligations[o.ID] = *o
	return nil
}

func (r *ObligationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.obligations[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.s.obligations, id)
	// schedule entries cascade with their obligation
	for entryID, e := range r.s.entries {
		if e.ObligationID == id {
			delete(r.s.entries, entryID)
		}
	}
	return nil
}

func (r *ObligationRepository) List(ctx context.Context, workspaceID uuid.UUID, statuses ...domain.ObligationStatus) ([]*domain.Obligation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]*domain.Obligation, 0)
	for _, o := range r.s.obligations {
		if o.WorkspaceID != workspaceID {
			continue
		}
		if len(statuses) > 0 && !hasStatus(statuses, o.Status) {
			continue
		}
		o := o
		result = append(result, &o)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.Before(result[j].StartDate)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (r *ObligationRepository) ListWorkspaceIDs(ctx context.Context) ([]uuid.UUID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	seen := make(map[uuid.UUID]bool)
	ids := make([]uuid.UUID, 0)
	for _, o := range r.s.obligations {
		if !seen[o.WorkspaceID] {
			seen[o.WorkspaceID] = true
			ids = append(ids, o.WorkspaceID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// ---- schedule entries ----

type ScheduleEntryRepository struct{ s *Store }

func (r *ScheduleEntryRepository) CreateBatch(ctx context.Context, entries []*domain.ScheduleEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	// check everything before writing anything
	taken := make(map[uuid.UUID]map[int]bool)
	for _, e := range r.s.entries {
		if e.Status == domain.EntryStatusCancelled {
			continue
		}
		if taken[e.ObligationID] == nil {
			taken[e.ObligationID] = make(map[int]bool)
		}
		taken[e.ObligationID][e.Sequence] = true
	}
	for _, e := range entries {
		if _, exists := r.s.entries[e.ID]; exists {
			return domain.ErrConflict
		}
		if e.Status == domain.EntryStatusCancelled {
			continue
		}
		if taken[e.ObligationID] == nil {
			taken[e.ObligationID] = make(map[int]bool)
		}
		if taken[e.ObligationID][e.Sequence] {
			return domain.ErrConflict
		}
		taken[e.ObligationID][e.Sequence] = true
	}

	for _, e := range entries {
		r.s.entries[e.ID] = *e
	}
	return nil
}

func (r *ScheduleEntryRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduleEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	e, ok := r.s.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (r *ScheduleEntryRepository) List(ctx context.Context, filter domain.EntryFilter) ([]*domain.ScheduleEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]*domain.ScheduleEntry, 0)
	for _, e := range r.s.entries {
		if !filter.Matches(&e) {
			continue
		}
		e := e
		result = append(result, &e)
	}
	sortEntries(result)
	return result, nil
}

func (r *ScheduleEntryRepository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*domain.ScheduleEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]*domain.ScheduleEntry, 0)
	for _, e := range r.s.entries {
		if e.TransactionID != nil && *e.TransactionID == transactionID {
			e := e
			result = append(result, &e)
		}
	}
	sortEntries(result)
	return result, nil
}

func (r *ScheduleEntryRepository) Update(ctx context.Context, e *domain.ScheduleEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.entries[e.ID]; !ok {
		return domain.ErrNotFound
	}
	// partial unique index: one DIRECT link per transaction
	if e.TransactionID != nil && e.LinkSource == domain.LinkSourceDirect {
		for id, other := range r.s.entries {
			if id != e.ID && other.TransactionID != nil && *other.TransactionID == *e.TransactionID &&
				other.LinkSource == domain.LinkSourceDirect {
				return domain.ErrConflict
			}
		}
	}
	r.s.entries[e.ID] = *e
	return nil
}

func (r *ScheduleEntryRepository) CancelPlanned(ctx context.Context, obligationID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ids := make([]uuid.UUID, 0)
	for id, e := range r.s.entries {
		if e.ObligationID != obligationID || e.Status != domain.EntryStatusPlanned {
			continue
		}
		e.Status = domain.EntryStatusCancelled
		e.UpdatedAt = at
		r.s.entries[id] = e
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (r *ScheduleEntryRepository) SetStatus(ctx context.Context, ids []uuid.UUID, status domain.EntryStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, id := range ids {
		if _, ok := r.s.entries[id]; !ok {
			return domain.ErrNotFound
		}
	}
	for _, id := range ids {
		e := r.s.entries[id]
		e.Status = status
		e.UpdatedAt = at
		r.s.entries[id] = e
	}
	return nil
}

// ---- transactions ----

type TransactionRepository struct{ s *Store }

func (r *TransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.transactions[tx.ID]; exists {
		return domain.ErrConflict
	}
	if tx.ExternalID != nil {
		for _, other := range r.s.transactions {
			if other.WorkspaceID == tx.WorkspaceID && other.ExternalID != nil && *other.ExternalID == *tx.ExternalID {
				return domain.ErrConflict
			}
		}
	}
	r.s.transactions[tx.ID] = *tx
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	tx, ok := r.s.transactions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &tx, nil
}

func (r *TransactionRepository) GetByExternalID(ctx context.Context, workspaceID uuid.UUID, externalID string) (*domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, tx := range r.s.transactions {
		if tx.WorkspaceID == workspaceID && tx.ExternalID != nil && *tx.ExternalID == externalID {
			return &tx, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *TransactionRepository) GetReversal(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, tx := range r.s.transactions {
		if tx.ReversalOf != nil && *tx.ReversalOf == id {
			return &tx, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *TransactionRepository) List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]*domain.Transaction, 0)
	for _, tx := range r.s.transactions {
		if !matchesTransaction(filter, &tx) {
			continue
		}
		tx := tx
		result = append(result, &tx)
	}
	sortTransactions(result)

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*domain.Transaction{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *TransactionRepository) ListUnlinked(ctx context.Context, workspaceID uuid.UUID) ([]*domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	linked := make(map[uuid.UUID]bool)
	for _, e := range r.s.entries {
		if e.TransactionID != nil {
			linked[*e.TransactionID] = true
		}
	}
	reversed := make(map[uuid.UUID]bool)
	for _, tx := range r.s.transactions {
		if tx.ReversalOf != nil {
			reversed[*tx.ReversalOf] = true
		}
	}

	result := make([]*domain.Transaction, 0)
	for _, tx := range r.s.transactions {
		if tx.WorkspaceID != workspaceID || linked[tx.ID] || reversed[tx.ID] || tx.ReversalOf != nil {
			continue
		}
		tx := tx
		result = append(result, &tx)
	}
	sortTransactions(result)
	return result, nil
}

// ---- documents ----

type DocumentRepository struct{ s *Store }

func (r *DocumentRepository) Create(ctx context.Context, d *domain.AggregateDocument) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.documents[d.ID]; exists {
		return domain.ErrConflict
	}
	r.s.documents[d.ID] = cloneDocument(*d)
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AggregateDocument, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	d, ok := r.s.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	d = cloneDocument(d)
	return &d, nil
}

func (r *DocumentRepository) Update(ctx context.Context, d *domain.AggregateDocument) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.documents[d.ID]; !ok {
		return domain.ErrNotFound
	}
	r.s.documents[d.ID] = cloneDocument(*d)
	return nil
}

func (r *DocumentRepository) List(ctx context.Context, filter domain.DocumentFilter) ([]*domain.AggregateDocument, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]*domain.AggregateDocument, 0)
	for _, d := range r.s.documents {
		if filter.WorkspaceID != uuid.Nil && d.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if filter.ObligationID != nil && d.ObligationID != *filter.ObligationID {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, d.Status) {
			continue
		}
		if filter.Unpaid && d.TransactionID != nil {
			continue
		}
		d = cloneDocument(d)
		result = append(result, &d)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].DueDate.Equal(result[j].DueDate) {
			return result[i].DueDate.Before(result[j].DueDate)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (r *DocumentRepository) ListOpenByEntries(ctx context.Context, entryIDs []uuid.UUID) ([]*domain.AggregateDocument, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	wanted := make(map[uuid.UUID]bool, len(entryIDs))
	for _, id := range entryIDs {
		wanted[id] = true
	}
	result := make([]*domain.AggregateDocument, 0)
	for _, d := range r.s.documents {
		if !d.IsOpen() {
			continue
		}
		for _, id := range d.EntryIDs {
			if wanted[id] {
				d = cloneDocument(d)
				result = append(result, &d)
				break
			}
		}
	}
	return result, nil
}

// ---- alerts ----

type AlertRepository struct{ s *Store }

func (r *AlertRepository) Create(ctx context.Context, a *domain.AlertRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, other := range r.s.alerts {
		if other.WorkspaceID == a.WorkspaceID && other.Fingerprint == a.Fingerprint {
			return domain.ErrConflict
		}
	}
	r.s.alerts[a.ID] = *a
	return nil
}

func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AlertRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.alerts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (r *AlertRepository) GetByFingerprint(ctx context.Context, workspaceID uuid.UUID, fingerprint string) (*domain.AlertRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, a := range r.s.alerts {
		if a.WorkspaceID == workspaceID && a.Fingerprint == fingerprint {
			return &a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *AlertRepository) Update(ctx context.Context, a *domain.AlertRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.alerts[a.ID]; !ok {
		return domain.ErrNotFound
	}
	r.s.alerts[a.ID] = *a
	return nil
}

func (r *AlertRepository) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.AlertRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]*domain.AlertRecord, 0)
	for _, a := range r.s.alerts {
		if !filter.Matches(&a) {
			continue
		}
		a := a
		result = append(result, &a)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastSeenAt.Equal(result[j].LastSeenAt) {
			return result[i].LastSeenAt.After(result[j].LastSeenAt)
		}
		return result[i].Fingerprint < result[j].Fingerprint
	})
	return result, nil
}

// ---- audit ----

type AuditRepository struct{ s *Store }

func (r *AuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.audit = append(r.s.audit, *entry)
	return nil
}

// Entries returns a copy of the audit trail in append order
func (r *AuditRepository) Entries() []domain.AuditEntry {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	copied := make([]domain.AuditEntry, len(r.s.audit))
	copy(copied, r.s.audit)
	return copied
}

// ---- helpers ----

func hasStatus[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func sortEntries(entries []*domain.ScheduleEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].DueDate.Equal(entries[j].DueDate) {
			return entries[i].DueDate.Before(entries[j].DueDate)
		}
		if entries[i].Sequence != entries[j].Sequence {
			return entries[i].Sequence < entries[j].Sequence
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})
}

func sortTransactions(txs []*domain.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.Before(txs[j].CreatedAt)
		}
		return txs[i].ID.String() < txs[j].ID.String()
	})
}

func matchesTransaction(f domain.TransactionFilter, tx *domain.Transaction) bool {
	if f.WorkspaceID != uuid.Nil && tx.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.AccountID != nil && (tx.AccountID == nil || *tx.AccountID != *f.AccountID) {
		return false
	}
	if f.EntityID != nil && tx.EntityID != *f.EntityID {
		return false
	}
	if f.DateFrom != nil && tx.Date.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && tx.Date.After(*f.DateTo) {
		return false
	}
	return true
}

func cloneDocument(d domain.AggregateDocument) domain.AggregateDocument {
	ids := make([]uuid.UUID, len(d.EntryIDs))
	copy(ids, d.EntryIDs)
	d.EntryIDs = ids
	return d
}

// Compile-time checks: ensure the repositories implement the domain interfaces
var (
	_ domain.ObligationRepository    = (*ObligationRepository)(nil)
	_ domain.ScheduleEntryRepository = (*ScheduleEntryRepository)(nil)
	_ domain.TransactionRepository   = (*TransactionRepository)(nil)
	_ domain.DocumentRepository      = (*DocumentRepository)(nil)
	_ domain.AlertRepository         = (*AlertRepository)(nil)
	_ domain.AuditRepository         = (*AuditRepository)(nil)
)
