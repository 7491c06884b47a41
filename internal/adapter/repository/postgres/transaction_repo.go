package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/simaogato/obligations-backend/internal/domain"
)

const transactionColumns = `id, workspace_id, entity_id, account_id, type, amount, currency, date,
	description, source, external_id, reversal_of, created_at`

// transactionRepository implements domain.TransactionRepository
type transactionRepository struct {
	db *DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *DB) domain.TransactionRepository {
	return &transactionRepository{db: db}
}

// Create posts a new transaction. A known external id or a second reversal
// of the same original is reported as ErrConflict.
func (r *transactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	var externalID sql.NullString
	if tx.ExternalID != nil {
		externalID = sql.NullString{String: *tx.ExternalID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.WorkspaceID,
		tx.EntityID,
		nullUUID(tx.AccountID),
		string(tx.Type),
		tx.Amount.String(),
		tx.Currency,
		tx.Date,
		tx.Description,
		string(tx.Source),
		externalID,
		nullUUID(tx.ReversalOf),
		tx.CreatedAt,
	)
	if err != nil {
		return mapWriteError(err, "insert transaction")
	}

	return nil
}

// GetByID retrieves a transaction by its ID
func (r *transactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapReadError(err, "transaction")
	}
	return tx, nil
}

// GetByExternalID retrieves a synced transaction
func (r *transactionRepository) GetByExternalID(ctx context.Context, workspaceID uuid.UUID, externalID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE workspace_id = $1 AND external_id = $2`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, workspaceID, externalID))
	if err != nil {
		return nil, mapReadError(err, "transaction by external id")
	}
	return tx, nil
}

// GetReversal retrieves the reversal of a transaction
func (r *transactionRepository) GetReversal(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reversal_of = $1`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapReadError(err, "reversal")
	}
	return tx, nil
}

// List retrieves transactions matching the filter ordered by date
func (r *transactionRepository) List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.WorkspaceID != uuid.Nil {
		add("workspace_id = $%d", filter.WorkspaceID)
	}
	if filter.AccountID != nil {
		add("account_id = $%d", *filter.AccountID)
	}
	if filter.EntityID != nil {
		add("entity_id = $%d", *filter.EntityID)
	}
	if filter.DateFrom != nil {
		add("date >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		add("date <= $%d", *filter.DateTo)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY date, created_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	return r.query(ctx, query, args...)
}

// ListUnlinked retrieves transactions no schedule entry references,
// excluding reversals and reversed originals
func (r *transactionRepository) ListUnlinked(ctx context.Context, workspaceID uuid.UUID) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions t
		WHERE t.workspace_id = $1
		  AND t.reversal_of IS NULL
		  AND NOT EXISTS (SELECT 1 FROM transactions rv WHERE rv.reversal_of = t.id)
		  AND NOT EXISTS (SELECT 1 FROM schedule_entries e WHERE e.transaction_id = t.id)
		  AND NOT EXISTS (SELECT 1 FROM aggregate_documents d WHERE d.transaction_id = t.id)
		ORDER BY t.date, t.created_at, t.id
	`
	return r.query(ctx, query, workspaceID)
}

func (r *transactionRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		result = append(result, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return result, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var accountID, reversalOf uuid.NullUUID
	var amountStr string
	var externalID sql.NullString

	err := row.Scan(
		&tx.ID,
		&tx.WorkspaceID,
		&tx.EntityID,
		&accountID,
		&tx.Type,
		&amountStr,
		&tx.Currency,
		&tx.Date,
		&tx.Description,
		&tx.Source,
		&externalID,
		&reversalOf,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Date = tx.Date.UTC()
	tx.AccountID = uuidPtr(accountID)
	tx.ReversalOf = uuidPtr(reversalOf)
	if externalID.Valid {
		id := externalID.String
		tx.ExternalID = &id
	}
	if tx.Amount, err = parseDecimal(amountStr, "amount"); err != nil {
		return nil, err
	}
	return &tx, nil
}
