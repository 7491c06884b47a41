package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/simaogato/obligations-backend/internal/domain"
)

const entryColumns = `id, obligation_id, workspace_id, entity_id, sequence, due_date, amount, currency,
	direction, status, transaction_id, link_source, settled_at, created_at, updated_at`

// scheduleEntryRepository implements domain.ScheduleEntryRepository
type scheduleEntryRepository struct {
	db *DB
}

// NewScheduleEntryRepository creates a new schedule entry repository
func NewScheduleEntryRepository(db *DB) domain.ScheduleEntryRepository {
	return &scheduleEntryRepository{db: db}
}

// CreateBatch inserts all entries in one database transaction
func (r *scheduleEntryRepository) CreateBatch(ctx context.Context, entries []*domain.ScheduleEntry) error {
	insertQuery := `
		INSERT INTO schedule_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	return r.db.inTx(ctx, func(dbTx *sql.Tx) error {
		stmt, err := dbTx.PrepareContext(ctx, insertQuery)
		if err != nil {
			return fmt.Errorf("failed to prepare entry insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			_, err := stmt.ExecContext(ctx,
				e.ID,
				e.ObligationID,
				e.WorkspaceID,
				e.EntityID,
				e.Sequence,
				e.DueDate,
				e.Amount.String(),
				e.Currency,
				string(e.Direction),
				string(e.Status),
				nullUUID(e.TransactionID),
				string(e.LinkSource),
				nullTime(e.SettledAt),
				e.CreatedAt,
				e.UpdatedAt,
			)
			if err != nil {
				return mapWriteError(err, "insert schedule entry")
			}
		}
		return nil
	})
}

// GetByID retrieves an entry by its ID
func (r *scheduleEntryRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduleEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM schedule_entries WHERE id = $1`

	e, err := scanEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapReadError(err, "schedule entry")
	}
	return e, nil
}

// List retrieves entries matching the filter ordered by due date then sequence
func (r *scheduleEntryRepository) List(ctx context.Context, filter domain.EntryFilter) ([]*domain.ScheduleEntry, error) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.WorkspaceID != uuid.Nil {
		add("workspace_id = $%d", filter.WorkspaceID)
	}
	if filter.ObligationID != nil {
		add("obligation_id = $%d", *filter.ObligationID)
	}
	if filter.EntityID != nil {
		add("entity_id = $%d", *filter.EntityID)
	}
	if len(filter.Statuses) > 0 {
		add("status = ANY($%d)", pq.Array(toStrings(filter.Statuses)))
	}
	if filter.DueFrom != nil {
		add("due_date >= $%d", *filter.DueFrom)
	}
	if filter.DueTo != nil {
		add("due_date <= $%d", *filter.DueTo)
	}
	if filter.Unlinked {
		conds = append(conds, "transaction_id IS NULL")
	}

	query := `SELECT ` + entryColumns + ` FROM schedule_entries`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY due_date, sequence, id`

	return r.query(ctx, query, args...)
}

// ListByTransaction retrieves the entries linked to a transaction
func (r *scheduleEntryRepository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*domain.ScheduleEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM schedule_entries WHERE transaction_id = $1 ORDER BY due_date, sequence`
	return r.query(ctx, query, transactionID)
}

// Update persists status and link fields of an entry.
// The partial unique index on DIRECT links reports a double link as ErrConflict.
func (r *scheduleEntryRepository) Update(ctx context.Context, e *domain.ScheduleEntry) error {
	query := `
		UPDATE schedule_entries
		SET status = $2, transaction_id = $3, link_source = $4, settled_at = $5, updated_at = $6
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query,
		e.ID,
		string(e.Status),
		nullUUID(e.TransactionID),
		string(e.LinkSource),
		nullTime(e.SettledAt),
		e.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err, "update schedule entry")
	}
	return expectOne(res, "schedule entry")
}

// CancelPlanned moves every PLANNED entry of an obligation to CANCELLED
func (r *scheduleEntryRepository) CancelPlanned(ctx context.Context, obligationID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE schedule_entries
		SET status = $2, updated_at = $3
		WHERE obligation_id = $1 AND status = $4
		RETURNING id
	`

	rows, err := r.db.QueryContext(ctx, query, obligationID, string(domain.EntryStatusCancelled), at, string(domain.EntryStatusPlanned))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel planned entries: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan cancelled entry id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cancelled entries: %w", err)
	}
	return ids, nil
}

// SetStatus forces a status on a set of entries
func (r *scheduleEntryRepository) SetStatus(ctx context.Context, ids []uuid.UUID, status domain.EntryStatus, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE schedule_entries SET status = $2, updated_at = $3 WHERE id = ANY($1::uuid[])`

	if _, err := r.db.ExecContext(ctx, query, pq.Array(uuidStrings(ids)), string(status), at); err != nil {
		return mapWriteError(err, "set schedule entry status")
	}
	return nil
}

func (r *scheduleEntryRepository) query(ctx context.Context, query string, args ...any) ([]*domain.ScheduleEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule entries: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.ScheduleEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule entry: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule entries: %w", err)
	}
	return result, nil
}

func scanEntry(row rowScanner) (*domain.ScheduleEntry, error) {
	var e domain.ScheduleEntry
	var amountStr string
	var transactionID uuid.NullUUID
	var settledAt sql.NullTime

	err := row.Scan(
		&e.ID,
		&e.ObligationID,
		&e.WorkspaceID,
		&e.EntityID,
		&e.Sequence,
		&e.DueDate,
		&amountStr,
		&e.Currency,
		&e.Direction,
		&e.Status,
		&transactionID,
		&e.LinkSource,
		&settledAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.DueDate = e.DueDate.UTC()
	e.TransactionID = uuidPtr(transactionID)
	e.SettledAt = timePtr(settledAt)
	if e.Amount, err = parseDecimal(amountStr, "amount"); err != nil {
		return nil, err
	}
	return &e, nil
}
