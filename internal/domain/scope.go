package domain

import (
	"context"

	"github.com/google/uuid"
)

type workspaceKey struct{}

// WithWorkspace returns a context scoped to a workspace (tenant)
func WithWorkspace(ctx context.Context, workspaceID uuid.UUID) context.Context {
	return context.WithValue(ctx, workspaceKey{}, workspaceID)
}

// WorkspaceFromContext returns the workspace the caller is scoped to, if any
func WorkspaceFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(workspaceKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// CheckScope hides records of other workspaces behind ErrNotFound.
// An unscoped context (internal sweeps, CLI) sees every workspace.
func CheckScope(ctx context.Context, op string, owner uuid.UUID) error {
	if ws, ok := WorkspaceFromContext(ctx); ok && ws != owner {
		return E(op, ErrNotFound)
	}
	return nil
}
