package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/simaogato/obligations-backend/internal/domain"
)

const alertColumns = `id, workspace_id, fingerprint, type, severity, message, entity_id, drilldown,
	state, first_seen_at, last_seen_at, snoozed_until, resolved_at`

// alertRepository implements domain.AlertRepository
type alertRepository struct {
	db *DB
}

// NewAlertRepository creates a new alert record repository
func NewAlertRepository(db *DB) domain.AlertRepository {
	return &alertRepository{db: db}
}

// Create inserts a record; the (workspace, fingerprint) constraint reports duplicates as ErrConflict
func (r *alertRepository) Create(ctx context.Context, a *domain.AlertRecord) error {
	query := `
		INSERT INTO alert_records (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	drilldown, err := marshalDrilldown(a.Drilldown)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query,
		a.ID,
		a.WorkspaceID,
		a.Fingerprint,
		string(a.Type),
		string(a.Severity),
		a.Message,
		nullUUID(a.EntityID),
		drilldown,
		string(a.State),
		a.FirstSeenAt,
		a.LastSeenAt,
		nullTime(a.SnoozedUntil),
		nullTime(a.ResolvedAt),
	)
	if err != nil {
		return mapWriteError(err, "insert alert record")
	}
	return nil
}

// GetByID retrieves a record by its ID
func (r *alertRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AlertRecord, error) {
	query := `SELECT ` + alertColumns + ` FROM alert_records WHERE id = $1`

	a, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapReadError(err, "alert record")
	}
	return a, nil
}

// GetByFingerprint retrieves the record of a fingerprint
func (r *alertRepository) GetByFingerprint(ctx context.Context, workspaceID uuid.UUID, fingerprint string) (*domain.AlertRecord, error) {
	query := `SELECT ` + alertColumns + ` FROM alert_records WHERE workspace_id = $1 AND fingerprint = $2`

	a, err := scanAlert(r.db.QueryRowContext(ctx, query, workspaceID, fingerprint))
	if err != nil {
		return nil, mapReadError(err, "alert record")
	}
	return a, nil
}

// Update persists the mutable fields of a record
func (r *alertRepository) Update(ctx context.Context, a *domain.AlertRecord) error {
	query := `
		UPDATE alert_records
		SET severity = $2, message = $3, entity_id = $4, drilldown = $5, state = $6,
			last_seen_at = $7, snoozed_until = $8, resolved_at = $9
		WHERE id = $1
	`

	drilldown, err := marshalDrilldown(a.Drilldown)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, query,
		a.ID,
		string(a.Severity),
		a.Message,
		nullUUID(a.EntityID),
		drilldown,
		string(a.State),
		a.LastSeenAt,
		nullTime(a.SnoozedUntil),
		nullTime(a.ResolvedAt),
	)
	if err != nil {
		return mapWriteError(err, "update alert record")
	}
	return expectOne(res, "alert record")
}

// List retrieves records matching the filter, most recently seen first
func (r *alertRepository) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.AlertRecord, error) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.WorkspaceID != uuid.Nil {
		add("workspace_id = $%d", filter.WorkspaceID)
	}
	if filter.EntityID != nil {
		add("entity_id = $%d", *filter.EntityID)
	}
	if len(filter.Severities) > 0 {
		add("severity = ANY($%d)", pq.Array(toStrings(filter.Severities)))
	}
	if len(filter.States) > 0 {
		add("state = ANY($%d)", pq.Array(toStrings(filter.States)))
	}

	query := `SELECT ` + alertColumns + ` FROM alert_records`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY last_seen_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert records: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.AlertRecord, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert record: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert records: %w", err)
	}
	return result, nil
}

// marshalDrilldown encodes the JSONB column as text
func marshalDrilldown(d *domain.Drilldown) (any, error) {
	if d == nil {
		return nil, nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode drilldown: %w", err)
	}
	return string(raw), nil
}

func scanAlert(row rowScanner) (*domain.AlertRecord, error) {
	var a domain.AlertRecord
	var entityID uuid.NullUUID
	var drilldown []byte
	var snoozedUntil, resolvedAt sql.NullTime

	err := row.Scan(
		&a.ID,
		&a.WorkspaceID,
		&a.Fingerprint,
		&a.Type,
		&a.Severity,
		&a.Message,
		&entityID,
		&drilldown,
		&a.State,
		&a.FirstSeenAt,
		&a.LastSeenAt,
		&snoozedUntil,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	a.EntityID = uuidPtr(entityID)
	a.SnoozedUntil = timePtr(snoozedUntil)
	a.ResolvedAt = timePtr(resolvedAt)
	a.FirstSeenAt = a.FirstSeenAt.UTC()
	a.LastSeenAt = a.LastSeenAt.UTC()
	if len(drilldown) > 0 {
		var d domain.Drilldown
		if err := json.Unmarshal(drilldown, &d); err != nil {
			return nil, fmt.Errorf("failed to decode drilldown: %w", err)
		}
		a.Drilldown = &d
	}
	return &a, nil
}
