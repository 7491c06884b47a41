package postgres

import (
	"context"
	"fmt"

	"github.com/simaogato/obligations-backend/internal/domain"
)

// auditRepository implements domain.AuditRepository
type auditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit trail repository
func NewAuditRepository(db *DB) domain.AuditRepository {
	return &auditRepository{db: db}
}

// Append adds one audit entry
func (r *auditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (id, workspace_id, subject, subject_id, action, before, after, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.WorkspaceID,
		entry.Subject,
		entry.SubjectID,
		entry.Action,
		nullJSON(entry.Before),
		nullJSON(entry.After),
		entry.At,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
