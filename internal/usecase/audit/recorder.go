package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
)

// Recorder writes the audit trail and publishes domain events.
// Both are fire-and-forget: a failure is logged and never fails the
// mutation that produced it. A nil Recorder does nothing.
type Recorder struct {
	AuditRepo domain.AuditRepository
	Publisher domain.EventPublisher
	Logger    *logrus.Logger
	Now       func() time.Time
}

// NewRecorder creates a new Recorder instance. repo and publisher may be nil.
func NewRecorder(repo domain.AuditRepository, publisher domain.EventPublisher, logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = config.NewDiscardLogger()
	}
	return &Recorder{
		AuditRepo: repo,
		Publisher: publisher,
		Logger:    logger,
		Now:       time.Now,
	}
}

// Record appends a before/after snapshot of a mutated record
func (r *Recorder) Record(ctx context.Context, workspaceID uuid.UUID, subject string, subjectID uuid.UUID, action string, before, after any) {
	if r == nil || r.AuditRepo == nil {
		return
	}
	entry := &domain.AuditEntry{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Subject:     subject,
		SubjectID:   subjectID,
		Action:      action,
		Before:      r.snapshot(before),
		After:       r.snapshot(after),
		At:          r.Now().UTC(),
	}
	if err := r.AuditRepo.Append(ctx, entry); err != nil {
		config.LogError(r.Logger, "audit", "Record", "failed to append audit entry",
			map[string]string{"subject": subject, "subject_id": subjectID.String(), "action": action}, err)
	}
}

// Emit publishes a domain event
func (r *Recorder) Emit(ctx context.Context, eventType domain.EventType, workspaceID, subjectID uuid.UUID, attrs map[string]string) {
	if r == nil || r.Publisher == nil {
		return
	}
	event := domain.NewEvent(eventType, workspaceID, subjectID, r.Now().UTC(), attrs)
	if err := r.Publisher.Publish(ctx, event); err != nil {
		config.LogError(r.Logger, "audit", "Emit", "failed to publish event",
			map[string]string{"type": string(eventType), "subject_id": subjectID.String()}, err)
	}
}

func (r *Recorder) snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		r.Logger.WithError(err).Warn("audit snapshot not serialisable")
		return nil
	}
	return raw
}
