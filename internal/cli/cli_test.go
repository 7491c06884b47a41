package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/obligations-backend/internal/adapter/lock"
	"github.com/simaogato/obligations-backend/internal/adapter/repository/memory"
	"github.com/simaogato/obligations-backend/internal/app"
	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
	"github.com/simaogato/obligations-backend/internal/usecase/schedule"
)

func memoryOpener(store *memory.Store) Opener {
	return func(ctx context.Context, cfg *config.Config) (*app.Services, func(), error) {
		return app.New(app.MemoryRepositories(store), lock.NewLocalLocker(), nil, cfg.Tuning, nil), func() {}, nil
	}
}

func execute(t *testing.T, store *memory.Store, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(memoryOpener(store))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seedOverdue(t *testing.T, store *memory.Store) uuid.UUID {
	t.Helper()
	svc := app.New(app.MemoryRepositories(store), lock.NewLocalLocker(), nil, config.DefaultTuning(), nil)
	ws := uuid.New()
	_, _, err := svc.Scheduler.CreateWithSchedule(context.Background(), schedule.CreateObligationInput{
		WorkspaceID: ws,
		Kind:        "COMMITMENT",
		Direction:   "PAYABLE",
		EntityID:    uuid.New(),
		Currency:    "EUR",
		AmountBasis: "TOTAL",
		TotalAmount: decimal.RequireFromString("120"),
		StartDate:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Recurrence:  "NONE",
		Status:      "ACTIVE",
	})
	require.NoError(t, err)
	return ws
}

func TestSweepAlerts_JSON(t *testing.T) {
	store := memory.NewStore()
	ws := seedOverdue(t, store)

	out, err := execute(t, store, "", "sweep-alerts", "--at", "2025-03-10T09:00:00Z", "--format", "json")
	require.NoError(t, err)

	var results []sweepOutput
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, ws.String(), results[0].WorkspaceID)
	// the overdue entry also drives the projection negative
	assert.Equal(t, 2, results[0].Inserted)

	alerts, err := store.Alerts().List(context.Background(), domain.AlertFilter{WorkspaceID: ws})
	require.NoError(t, err)
	types := make([]domain.AlertType, 0, len(alerts))
	for _, a := range alerts {
		types = append(types, a.Type)
	}
	assert.ElementsMatch(t, []domain.AlertType{domain.AlertTypeOverdueEntry, domain.AlertTypeNegativeProjection}, types)

	out, err = execute(t, store, "", "sweep-alerts", "--at", "2025-03-10T10:00:00Z", "--workspace", ws.String())
	require.NoError(t, err)
	assert.Contains(t, out, "inserted=0 refreshed=2")
}

func TestResolveStale_Text(t *testing.T) {
	store := memory.NewStore()
	ws := seedOverdue(t, store)

	_, err := execute(t, store, "", "sweep-alerts", "--at", "2025-03-10T09:00:00Z")
	require.NoError(t, err)

	out, err := execute(t, store, "", "resolve-stale", "--at", "2025-03-20T09:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, ws.String()+"  resolved=1\n", out)
}

func TestDetectDuplicates_Stdin(t *testing.T) {
	store := memory.NewStore()
	input := `[
		{"date": "2025-03-01", "description": "Coffee shop", "amount": "-4.50", "currency": "EUR", "type": "EXPENSE"},
		{"date": "2025-03-01", "description": "Coffee shop", "amount": "-4.50", "currency": "EUR", "type": "EXPENSE"}
	]`

	out, err := execute(t, store, input, "detect-duplicates", "--workspace", uuid.NewString(), "--format", "json")
	require.NoError(t, err)

	var flags []flagOutput
	require.NoError(t, json.Unmarshal([]byte(out), &flags))
	require.Len(t, flags, 2)
	assert.False(t, flags[0].Duplicate)
	assert.True(t, flags[1].Duplicate)
	require.NotNil(t, flags[1].MatchedCandidate)
	assert.Equal(t, 0, *flags[1].MatchedCandidate)
	assert.InDelta(t, 1.0, flags[1].Confidence, 1e-9)
}

func TestRoot_RejectsInvalidInput(t *testing.T) {
	store := memory.NewStore()

	_, err := execute(t, store, "", "sweep-alerts", "--format", "yaml")
	assert.ErrorContains(t, err, "invalid format")

	_, err = execute(t, store, "", "sweep-alerts", "--workspace", "acme")
	assert.ErrorContains(t, err, "invalid workspace")

	_, err = execute(t, store, "", "detect-duplicates")
	assert.Error(t, err)
}
