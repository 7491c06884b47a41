package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ObligationRepository defines the interface for obligation persistence operations
type ObligationRepository interface {
	// Create creates a new obligation
	Create(ctx context.Context, o *Obligation) error

	// GetByID retrieves an obligation by its ID. Returns ErrNotFound when missing.
	GetByID(ctx context.Context, id uuid.UUID) (*Obligation, error)

	// Update persists status, amounts and dates of an existing obligation
	Update(ctx context.Context, o *Obligation) error

	// Delete physically removes an obligation.
	// Only used to roll back a creation whose schedule could not be generated.
	Delete(ctx context.Context, id uuid.UUID) error

	// List retrieves obligations of a workspace, optionally filtered by status
	List(ctx context.Context, workspaceID uuid.UUID, statuses ...ObligationStatus) ([]*Obligation, error)

	// ListWorkspaceIDs returns every workspace owning at least one obligation
	ListWorkspaceIDs(ctx context.Context) ([]uuid.UUID, error)
}

// ScheduleEntryRepository defines the interface for schedule entry persistence operations
type ScheduleEntryRepository interface {
	// CreateBatch inserts all entries or none.
	// Returns ErrConflict if a non-cancelled entry with the same (obligation, sequence) exists.
	CreateBatch(ctx context.Context, entries []*ScheduleEntry) error

	// GetByID retrieves an entry by its ID. Returns ErrNotFound when missing.
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduleEntry, error)

	// List retrieves entries matching the filter ordered by due date then sequence
	List(ctx context.Context, filter EntryFilter) ([]*ScheduleEntry, error)

	// ListByTransaction retrieves the entries linked to a transaction
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*ScheduleEntry, error)

	// Update persists status and link fields of an entry.
	// Returns ErrConflict if a DIRECT link would reference a transaction already linked.
	Update(ctx context.Context, e *ScheduleEntry) error

	// CancelPlanned moves every PLANNED entry of an obligation to CANCELLED
	// and returns the affected ids
	CancelPlanned(ctx context.Context, obligationID uuid.UUID, at time.Time) ([]uuid.UUID, error)

	// SetStatus forces a status on a set of entries. Used by compensations.
	SetStatus(ctx context.Context, ids []uuid.UUID, status EntryStatus, at time.Time) error
}

// TransactionRepository defines the interface for ledger transaction persistence operations
type TransactionRepository interface {
	// Create posts a new transaction.
	// Returns ErrConflict if the external id is already known for the workspace.
	Create(ctx context.Context, tx *Transaction) error

	// GetByID retrieves a transaction by its ID. Returns ErrNotFound when missing.
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// GetByExternalID retrieves a synced transaction. Returns ErrNotFound when missing.
	GetByExternalID(ctx context.Context, workspaceID uuid.UUID, externalID string) (*Transaction, error)

	// GetReversal retrieves the reversal of a transaction. Returns ErrNotFound when missing.
	GetReversal(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// List retrieves transactions matching the filter ordered by date
	List(ctx context.Context, filter TransactionFilter) ([]*Transaction, error)

	// ListUnlinked retrieves transactions no schedule entry references,
	// excluding reversals and reversed originals
	ListUnlinked(ctx context.Context, workspaceID uuid.UUID) ([]*Transaction, error)
}

// DocumentFilter selects aggregate documents
type DocumentFilter struct {
	WorkspaceID  uuid.UUID
	ObligationID *uuid.UUID
	Statuses     []DocumentStatus
	Unpaid       bool // no transaction attached
}

// DocumentRepository defines the interface for aggregate document persistence operations
type DocumentRepository interface {
	// Create creates a document together with its entry memberships
	Create(ctx context.Context, d *AggregateDocument) error

	// GetByID retrieves a document by its ID. Returns ErrNotFound when missing.
	GetByID(ctx context.Context, id uuid.UUID) (*AggregateDocument, error)

	// Update persists status and transaction link of a document
	Update(ctx context.Context, d *AggregateDocument) error

	// List retrieves documents matching the filter ordered by due date
	List(ctx context.Context, filter DocumentFilter) ([]*AggregateDocument, error)

	// ListOpenByEntries retrieves non-cancelled documents bundling any of the entries
	ListOpenByEntries(ctx context.Context, entryIDs []uuid.UUID) ([]*AggregateDocument, error)
}

// AlertRepository defines the interface for alert record persistence operations
type AlertRepository interface {
	// Create inserts a record. Returns ErrConflict if the fingerprint exists.
	Create(ctx context.Context, a *AlertRecord) error

	// GetByID retrieves a record. Returns ErrNotFound when missing.
	GetByID(ctx context.Context, id uuid.UUID) (*AlertRecord, error)

	// GetByFingerprint retrieves a record. Returns ErrNotFound when missing.
	GetByFingerprint(ctx context.Context, workspaceID uuid.UUID, fingerprint string) (*AlertRecord, error)

	// Update persists the mutable fields of a record
	Update(ctx context.Context, a *AlertRecord) error

	// List retrieves records matching the filter, most recently seen first
	List(ctx context.Context, filter AlertFilter) ([]*AlertRecord, error)
}

// AuditRepository appends audit trail entries
type AuditRepository interface {
	Append(ctx context.Context, entry *AuditEntry) error
}

// EventPublisher emits domain events to interested collaborators
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Lock is a held lock
type Lock interface {
	Release(ctx context.Context) error
}

// Locker serialises operations on one key across processes.
// Obtain returns ErrBusy when the key is held elsewhere.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// RunLocked runs fn while holding key. A nil locker runs fn directly.
func RunLocked(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func() error) error {
	if locker == nil {
		return fn()
	}
	lock, err := locker.Obtain(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()
	return fn()
}
