// Package app wires repositories, locks and publishers into the use cases.
package app

import (
	"github.com/sirupsen/logrus"

	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
	"github.com/simaogato/obligations-backend/internal/usecase/alert"
	"github.com/simaogato/obligations-backend/internal/usecase/audit"
	"github.com/simaogato/obligations-backend/internal/usecase/cashflow"
	"github.com/simaogato/obligations-backend/internal/usecase/document"
	"github.com/simaogato/obligations-backend/internal/usecase/duplicate"
	"github.com/simaogato/obligations-backend/internal/usecase/ledger"
	"github.com/simaogato/obligations-backend/internal/usecase/obligation"
	"github.com/simaogato/obligations-backend/internal/usecase/reconciliation"
	"github.com/simaogato/obligations-backend/internal/usecase/schedule"
)

// Repositories is the persistence surface the use cases need
type Repositories struct {
	Obligations  domain.ObligationRepository
	Entries      domain.ScheduleEntryRepository
	Transactions domain.TransactionRepository
	Documents    domain.DocumentRepository
	Alerts       domain.AlertRepository
	Audit        domain.AuditRepository
}

// Services holds every use case, built over one set of repositories
type Services struct {
	Scheduler      *schedule.ScheduleService
	Obligations    *obligation.ObligationService
	Reconciliation *reconciliation.ReconciliationService
	Documents      *document.DocumentService
	Ledger         *ledger.LedgerService
	Detector       *duplicate.Detector
	Cashflow       *cashflow.CashflowService
	Alerts         *alert.AlertService
	Recorder       *audit.Recorder
}

// New builds the services and applies the tuning to each of them
func New(repos Repositories, locker domain.Locker, publisher domain.EventPublisher, tuning config.Tuning, logger *logrus.Logger) *Services {
	if logger == nil {
		logger = config.NewDiscardLogger()
	}
	recorder := audit.NewRecorder(repos.Audit, publisher, logger)
	ttl := tuning.Locks.TTL
	if ttl <= 0 {
		ttl = config.DefaultTuning().Locks.TTL
	}

	scheduler := schedule.NewScheduleService(repos.Obligations, repos.Entries, locker, recorder, logger)
	scheduler.DocumentRepo = repos.Documents
	scheduler.LockTTL = ttl

	obligations := obligation.NewObligationService(scheduler, repos.Documents, recorder, logger)

	reconciler := reconciliation.NewReconciliationService(repos.Obligations, repos.Entries, repos.Transactions, locker, recorder, logger)
	reconciler.DocumentRepo = repos.Documents
	reconciler.Tuning = tuning.Matching
	reconciler.LockTTL = ttl

	documents := document.NewDocumentService(repos.Documents, repos.Obligations, repos.Entries, repos.Transactions, locker, recorder, logger)
	documents.Tuning = tuning.Documents
	documents.LockTTL = ttl

	detector := duplicate.NewDetector(repos.Transactions, tuning.Duplicates, logger)
	ledgerService := ledger.NewLedgerService(repos.Transactions, repos.Entries, detector, logger)

	alerts := alert.NewAlertService(repos.Alerts, repos.Obligations, repos.Entries, repos.Documents, repos.Transactions, tuning.Alerts, recorder, logger)

	return &Services{
		Scheduler:      scheduler,
		Obligations:    obligations,
		Reconciliation: reconciler,
		Documents:      documents,
		Ledger:         ledgerService,
		Detector:       detector,
		Cashflow:       alerts.Cashflow,
		Alerts:         alerts,
		Recorder:       recorder,
	}
}
