package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/simaogato/obligations-backend/internal/domain"
)

const documentColumns = `d.id, d.workspace_id, d.obligation_id, d.number, d.total, d.currency,
	d.issue_date, d.due_date, d.status, d.transaction_id, d.created_at, d.updated_at`

// documentRepository implements domain.DocumentRepository
type documentRepository struct {
	db *DB
}

// NewDocumentRepository creates a new aggregate document repository
func NewDocumentRepository(db *DB) domain.DocumentRepository {
	return &documentRepository{db: db}
}

// Create creates a document header with all its entry memberships in a database transaction
func (r *documentRepository) Create(ctx context.Context, d *domain.AggregateDocument) error {
	insertDocQuery := `
		INSERT INTO aggregate_documents (id, workspace_id, obligation_id, number, total, currency,
			issue_date, due_date, status, transaction_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	insertMemberQuery := `
		INSERT INTO document_entries (document_id, entry_id, position)
		VALUES ($1, $2, $3)
	`

	return r.db.inTx(ctx, func(dbTx *sql.Tx) error {
		_, err := dbTx.ExecContext(ctx, insertDocQuery,
			d.ID,
			d.WorkspaceID,
			d.ObligationID,
			d.Number,
			d.Total.String(),
			d.Currency,
			d.IssueDate,
			d.DueDate,
			string(d.Status),
			nullUUID(d.TransactionID),
			d.CreatedAt,
			d.UpdatedAt,
		)
		if err != nil {
			return mapWriteError(err, "insert document")
		}

		for i, entryID := range d.EntryIDs {
			if _, err := dbTx.ExecContext(ctx, insertMemberQuery, d.ID, entryID, i); err != nil {
				return mapWriteError(err, "insert document entry")
			}
		}
		return nil
	})
}

// GetByID retrieves a document by its ID
func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AggregateDocument, error) {
	docs, err := r.query(ctx, `SELECT `+documentColumns+` FROM aggregate_documents d WHERE d.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return docs[0], nil
}

// Update persists status and transaction link of a document
func (r *documentRepository) Update(ctx context.Context, d *domain.AggregateDocument) error {
	query := `
		UPDATE aggregate_documents
		SET status = $2, transaction_id = $3, updated_at = $4
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, d.ID, string(d.Status), nullUUID(d.TransactionID), d.UpdatedAt)
	if err != nil {
		return mapWriteError(err, "update document")
	}
	return expectOne(res, "document")
}

// List retrieves documents matching the filter ordered by due date
func (r *documentRepository) List(ctx context.Context, filter domain.DocumentFilter) ([]*domain.AggregateDocument, error) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.WorkspaceID != uuid.Nil {
		add("d.workspace_id = $%d", filter.WorkspaceID)
	}
	if filter.ObligationID != nil {
		add("d.obligation_id = $%d", *filter.ObligationID)
	}
	if len(filter.Statuses) > 0 {
		add("d.status = ANY($%d)", pq.Array(toStrings(filter.Statuses)))
	}
	if filter.Unpaid {
		conds = append(conds, "d.transaction_id IS NULL")
	}

	query := `SELECT ` + documentColumns + ` FROM aggregate_documents d`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY d.due_date, d.id`
	return r.query(ctx, query, args...)
}

// ListOpenByEntries retrieves non-cancelled documents bundling any of the entries
func (r *documentRepository) ListOpenByEntries(ctx context.Context, entryIDs []uuid.UUID) ([]*domain.AggregateDocument, error) {
	if len(entryIDs) == 0 {
		return []*domain.AggregateDocument{}, nil
	}
	query := `
		SELECT ` + documentColumns + `
		FROM aggregate_documents d
		WHERE d.status <> $2
		  AND EXISTS (SELECT 1 FROM document_entries de WHERE de.document_id = d.id AND de.entry_id = ANY($1::uuid[]))
		ORDER BY d.due_date, d.id
	`
	return r.query(ctx, query, pq.Array(uuidStrings(entryIDs)), string(domain.DocumentStatusCancelled))
}

// query loads document headers, then their memberships in one round trip
func (r *documentRepository) query(ctx context.Context, query string, args ...any) ([]*domain.AggregateDocument, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*domain.AggregateDocument, 0)
	byID := make(map[uuid.UUID]*domain.AggregateDocument)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
		byID[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	if len(docs) == 0 {
		return docs, nil
	}

	ids := make([]uuid.UUID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	memberRows, err := r.db.QueryContext(ctx, `
		SELECT document_id, entry_id
		FROM document_entries
		WHERE document_id = ANY($1::uuid[])
		ORDER BY document_id, position
	`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("failed to query document entries: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var docID, entryID uuid.UUID
		if err := memberRows.Scan(&docID, &entryID); err != nil {
			return nil, fmt.Errorf("failed to scan document entry: %w", err)
		}
		if d, ok := byID[docID]; ok {
			d.EntryIDs = append(d.EntryIDs, entryID)
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document entries: %w", err)
	}
	return docs, nil
}

func scanDocument(row rowScanner) (*domain.AggregateDocument, error) {
	var d domain.AggregateDocument
	var totalStr string
	var transactionID uuid.NullUUID

	err := row.Scan(
		&d.ID,
		&d.WorkspaceID,
		&d.ObligationID,
		&d.Number,
		&totalStr,
		&d.Currency,
		&d.IssueDate,
		&d.DueDate,
		&d.Status,
		&transactionID,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.IssueDate = d.IssueDate.UTC()
	d.DueDate = d.DueDate.UTC()
	d.TransactionID = uuidPtr(transactionID)
	if d.Total, err = parseDecimal(totalStr, "total"); err != nil {
		return nil, err
	}
	return &d, nil
}
