package app

import (
	"github.com/simaogato/obligations-backend/internal/adapter/repository/memory"
	"github.com/simaogato/obligations-backend/internal/adapter/repository/postgres"
)

// PostgresRepositories builds every repository over one connection pool
func PostgresRepositories(db *postgres.DB) Repositories {
	return Repositories{
		Obligations:  postgres.NewObligationRepository(db),
		Entries:      postgres.NewScheduleEntryRepository(db),
		Transactions: postgres.NewTransactionRepository(db),
		Documents:    postgres.NewDocumentRepository(db),
		Alerts:       postgres.NewAlertRepository(db),
		Audit:        postgres.NewAuditRepository(db),
	}
}

// MemoryRepositories exposes an in-memory store as Repositories
func MemoryRepositories(store *memory.Store) Repositories {
	return Repositories{
		Obligations:  store.Obligations(),
		Entries:      store.Entries(),
		Transactions: store.Transactions(),
		Documents:    store.Documents(),
		Alerts:       store.Alerts(),
		Audit:        store.Audit(),
	}
}
