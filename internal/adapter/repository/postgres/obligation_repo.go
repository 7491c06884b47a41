package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/simaogato/obligations-backend/internal/domain"
)

const obligationColumns = `id, workspace_id, kind, direction, entity_id, counterparty_id, account_id,
	description, currency, amount_basis, total_amount, monthly_amount, adjustment_rate,
	start_date, end_date, recurrence, status, created_at, updated_at`

// obligationRepository implements domain.ObligationRepository
type obligationRepository struct {
	db *DB
}

// NewObligationRepository creates a new obligation repository
func NewObligationRepository(db *DB) domain.ObligationRepository {
	return &obligationRepository{db: db}
}

// Create creates a new obligation
func (r *obligationRepository) Create(ctx context.Context, o *domain.Obligation) error {
	query := `
		INSERT INTO obligations (` + obligationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	var rate interface{}
	if o.AdjustmentRate != nil {
		rate = o.AdjustmentRate.String()
	}

	_, err := r.db.ExecContext(ctx, query,
		o.ID,
		o.WorkspaceID,
		string(o.Kind),
		string(o.Direction),
		o.EntityID,
		nullUUID(o.CounterpartyID),
		nullUUID(o.AccountID),
		o.Description,
		o.Currency,
		string(o.AmountBasis),
		o.TotalAmount.String(),
		o.MonthlyAmount.String(),
		rate,
		o.StartDate,
		nullTime(o.EndDate),
		string(o.Recurrence),
		string(o.Status),
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err, "create obligation")
	}

	return nil
}

// GetByID retrieves an obligation by its ID
func (r *obligationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM obligations WHERE id = $1`

	o, err := scanObligation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapReadError(err, "obligation")
	}
	return o, nil
}

// Update persists status, amounts and dates of an existing obligation
func (r *obligationRepository) Update(ctx context.Context, o *domain.Obligation) error {
	query := `
		UPDATE obligations
		SET total_amount = $2, monthly_amount = $3, end_date = $4, status = $5, updated_at = $6
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query,
		o.ID,
		o.TotalAmount.String(),
		o.MonthlyAmount.String(),
		nullTime(o.EndDate),
		string(o.Status),
		o.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err, "update obligation")
	}
	return expectOne(res, "obligation")
}

// Delete physically removes an obligation together with its entries
func (r *obligationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM obligations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete obligation: %w", err)
	}
	return expectOne(res, "obligation")
}

// List retrieves obligations of a workspace, optionally filtered by status
func (r *obligationRepository) List(ctx context.Context, workspaceID uuid.UUID, statuses ...domain.ObligationStatus) ([]*domain.Obligation, error) {
	query := `
		SELECT ` + obligationColumns + `
		FROM obligations
		WHERE workspace_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY start_date, id
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID, pq.Array(toStrings(statuses)))
	if err != nil {
		return nil, fmt.Errorf("failed to query obligations: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Obligation, 0)
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan obligation: %w", err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating obligations: %w", err)
	}
	return result, nil
}

// ListWorkspaceIDs returns every workspace owning at least one obligation
func (r *obligationRepository) ListWorkspaceIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT workspace_id FROM obligations ORDER BY workspace_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workspaces: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan workspace id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workspaces: %w", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObligation(row rowScanner) (*domain.Obligation, error) {
	var o domain.Obligation
	var counterpartyID, accountID uuid.NullUUID
	var totalStr, monthlyStr string
	var rateStr sql.NullString
	var endDate sql.NullTime

	err := row.Scan(
		&o.ID,
		&o.WorkspaceID,
		&o.Kind,
		&o.Direction,
		&o.EntityID,
		&counterpartyID,
		&accountID,
		&o.Description,
		&o.Currency,
		&o.AmountBasis,
		&totalStr,
		&monthlyStr,
		&rateStr,
		&o.StartDate,
		&endDate,
		&o.Recurrence,
		&o.Status,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.CounterpartyID = uuidPtr(counterpartyID)
	o.AccountID = uuidPtr(accountID)
	o.EndDate = timePtr(endDate)
	o.StartDate = o.StartDate.UTC()

	if o.TotalAmount, err = parseDecimal(totalStr, "total_amount"); err != nil {
		return nil, err
	}
	if o.MonthlyAmount, err = parseDecimal(monthlyStr, "monthly_amount"); err != nil {
		return nil, err
	}
	if rateStr.Valid {
		rate, err := parseDecimal(rateStr.String, "adjustment_rate")
		if err != nil {
			return nil, err
		}
		o.AdjustmentRate = &rate
	}
	return &o, nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}
