package grpc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
	"github.com/simaogato/obligations-backend/internal/usecase/alert"
	"github.com/simaogato/obligations-backend/internal/usecase/cashflow"
	"github.com/simaogato/obligations-backend/internal/usecase/document"
	"github.com/simaogato/obligations-backend/internal/usecase/duplicate"
	"github.com/simaogato/obligations-backend/internal/usecase/ledger"
	"github.com/simaogato/obligations-backend/internal/usecase/obligation"
	"github.com/simaogato/obligations-backend/internal/usecase/reconciliation"
	"github.com/simaogato/obligations-backend/internal/usecase/schedule"
)

// Server implements ObligationServiceServer on top of the use cases
type Server struct {
	Scheduler      *schedule.ScheduleService
	Obligations    *obligation.ObligationService
	Reconciliation *reconciliation.ReconciliationService
	Documents      *document.DocumentService
	Ledger         *ledger.LedgerService
	Cashflow       *cashflow.CashflowService
	Alerts         *alert.AlertService
	Logger         *logrus.Logger
}

var _ ObligationServiceServer = (*Server)(nil)

// NewServer creates a new gRPC server instance
func NewServer(
	scheduler *schedule.ScheduleService,
	obligations *obligation.ObligationService,
	reconciler *reconciliation.ReconciliationService,
	documents *document.DocumentService,
	ledgerService *ledger.LedgerService,
	cashflowService *cashflow.CashflowService,
	alerts *alert.AlertService,
	logger *logrus.Logger,
) *Server {
	if logger == nil {
		logger = config.NewDiscardLogger()
	}
	return &Server{
		Scheduler:      scheduler,
		Obligations:    obligations,
		Reconciliation: reconciler,
		Documents:      documents,
		Ledger:         ledgerService,
		Cashflow:       cashflowService,
		Alerts:         alerts,
		Logger:         logger,
	}
}

// CreateObligation handles the CreateObligation RPC
func (s *Server) CreateObligation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	input := schedule.CreateObligationInput{
		WorkspaceID:    workspaceOf(ctx, d),
		Kind:           d.str("kind"),
		Direction:      d.str("direction"),
		EntityID:       d.uuid("entity_id"),
		CounterpartyID: d.optUUID("counterparty_id"),
		AccountID:      d.optUUID("account_id"),
		Description:    d.str("description"),
		Currency:       d.str("currency"),
		AmountBasis:    d.str("amount_basis"),
		TotalAmount:    d.decimal("total_amount"),
		MonthlyAmount:  d.decimal("monthly_amount"),
		AdjustmentRate: d.optDecimal("adjustment_rate"),
		StartDate:      d.date("start_date"),
		EndDate:        d.optDate("end_date"),
		Recurrence:     d.str("recurrence"),
		Status:         d.str("status"),
	}
	if err := d.err(); err != nil {
		return nil, err
	}

	o, entries, err := s.Scheduler.CreateWithSchedule(ctx, input)
	if err != nil {
		return nil, s.fail("CreateObligation", err)
	}
	return toStruct(map[string]any{
		"obligation": obligationMap(o),
		"entries":    list(entries, entryMap),
	})
}

// GetObligation handles the GetObligation RPC
func (s *Server) GetObligation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	id := d.uuid("id")
	if err := d.err(); err != nil {
		return nil, err
	}

	o, err := s.Obligations.Get(ctx, id)
	if err != nil {
		return nil, s.fail("GetObligation", err)
	}
	return toStruct(map[string]any{"obligation": obligationMap(o)})
}

// ListObligations handles the ListObligations RPC
func (s *Server) ListObligations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	workspaceID := workspaceOf(ctx, d)
	statuses := enums[domain.ObligationStatus](d.strs("statuses"))
	if err := d.err(); err != nil {
		return nil, err
	}

	obligations, err := s.Obligations.List(ctx, workspaceID, statuses...)
	if err != nil {
		return nil, s.fail("ListObligations", err)
	}
	return toStruct(map[string]any{"obligations": list(obligations, obligationMap)})
}

// ActivateObligation handles the ActivateObligation RPC
func (s *Server) ActivateObligation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.obligationCall(ctx, req, "ActivateObligation", s.Obligations.Activate)
}

// CompleteObligation handles the CompleteObligation RPC
func (s *Server) CompleteObligation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.obligationCall(ctx, req, "CompleteObligation", s.Obligations.Complete)
}

// CancelObligation handles the CancelObligation RPC
func (s *Server) CancelObligation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.obligationCall(ctx, req, "CancelObligation", s.Obligations.Cancel)
}

func (s *Server) obligationCall(ctx context.Context, req *structpb.Struct, method string, call func(context.Context, uuid.UUID) (*domain.Obligation, error)) (*structpb.Struct, error) {
	d := newDecoder(req)
	id := d.uuid("id")
	if err := d.err(); err != nil {
		return nil, err
	}

	o, err := call(ctx, id)
	if err != nil {
		return nil, s.fail(method, err)
	}
	return toStruct(map[string]any{"obligation": obligationMap(o)})
}

// UpdateObligationAmount handles the UpdateObligationAmount RPC
func (s *Server) UpdateObligationAmount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	id := d.uuid("id")
	input := obligation.UpdateAmountInput{
		TotalAmount:   d.optDecimal("total_amount"),
		MonthlyAmount: d.optDecimal("monthly_amount"),
	}
	if err := d.err(); err != nil {
		return nil, err
	}

	o, entries, err := s.Obligations.UpdateAmount(ctx, id, input)
	if err != nil {
		return nil, s.fail("UpdateObligationAmount", err)
	}
	return toStruct(map[string]any{
		"obligation": obligationMap(o),
		"entries":    list(entries, entryMap),
	})
}

// GenerateSchedule handles the GenerateSchedule RPC
func (s *Server) GenerateSchedule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.scheduleCall(ctx, req, "GenerateSchedule", s.Scheduler.Generate)
}

// RecalculateSchedule handles the RecalculateSchedule RPC
func (s *Server) RecalculateSchedule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.scheduleCall(ctx, req, "RecalculateSchedule", s.Scheduler.Recalculate)
}

func (s *Server) scheduleCall(ctx context.Context, req *structpb.Struct, method string, call func(context.Context, uuid.UUID) ([]*domain.ScheduleEntry, error)) (*structpb.Struct, error) {
	d := newDecoder(req)
	id := d.uuid("obligation_id")
	if err := d.err(); err != nil {
		return nil, err
	}

	entries, err := call(ctx, id)
	if err != nil {
		return nil, s.fail(method, err)
	}
	return toStruct(map[string]any{"entries": list(entries, entryMap)})
}

// ListEntries handles the ListEntries RPC
func (s *Server) ListEntries(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	filter := domain.EntryFilter{
		WorkspaceID:  workspaceOf(ctx, d),
		ObligationID: d.optUUID("obligation_id"),
		EntityID:     d.optUUID("entity_id"),
		Statuses:     enums[domain.EntryStatus](d.strs("statuses")),
		DueFrom:      d.optDate("due_from"),
		DueTo:        d.optDate("due_to"),
		Unlinked:     d.boolean("unlinked"),
	}
	if err := d.err(); err != nil {
		return nil, err
	}

	entries, err := s.Obligations.ListEntries(ctx, filter)
	if err != nil {
		return nil, s.fail("ListEntries", err)
	}
	return toStruct(map[string]any{"entries": list(entries, entryMap)})
}

// LinkEntry handles the LinkEntry RPC
func (s *Server) LinkEntry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	entryID := d.uuid("entry_id")
	transactionID := d.uuid("transaction_id")
	if err := d.err(); err != nil {
		return nil, err
	}

	entry, err := s.Reconciliation.Link(ctx, entryID, transactionID)
	if err != nil {
		return nil, s.fail("LinkEntry", err)
	}
	return toStruct(map[string]any{"entry": entryMap(entry)})
}

// UnlinkEntry handles the UnlinkEntry RPC
func (s *Server) UnlinkEntry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	entryID := d.uuid("entry_id")
	if err := d.err(); err != nil {
		return nil, err
	}

	entry, err := s.Reconciliation.Unlink(ctx, entryID)
	if err != nil {
		return nil, s.fail("UnlinkEntry", err)
	}
	return toStruct(map[string]any{"entry": entryMap(entry)})
}

// RealizeEntry handles the RealizeEntry RPC
func (s *Server) RealizeEntry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	entryID := d.uuid("entry_id")
	overrides := reconciliation.RealizeOverrides{
		Amount:    d.optDecimal("amount"),
		Date:      d.optDate("date"),
		AccountID: d.optUUID("account_id"),
	}
	if d.has("description") {
		description := d.str("description")
		overrides.Description = &description
	}
	if err := d.err(); err != nil {
		return nil, err
	}

	tx, entry, err := s.Reconciliation.RealizeToLedger(ctx, entryID, overrides)
	if err != nil {
		return nil, s.fail("RealizeEntry", err)
	}
	return toStruct(map[string]any{
		"transaction": transactionMap(tx),
		"entry":       entryMap(entry),
	})
}

// AutoMatch handles the AutoMatch RPC. Nothing is linked.
func (s *Server) AutoMatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	workspaceID := workspaceOf(ctx, d)
	if err := d.err(); err != nil {
		return nil, err
	}

	result, err := s.Reconciliation.AutoMatch(ctx, workspaceID, nil)
	if err != nil {
		return nil, s.fail("AutoMatch", err)
	}
	return toStruct(map[string]any{
		"candidates": list(result.Candidates, candidateMap),
		"selected":   list(result.Selected, candidateMap),
	})
}

// ApplyAutoMatches handles the ApplyAutoMatches RPC: it scores the workspace
// and links the selected pairs at or above threshold
func (s *Server) ApplyAutoMatches(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	workspaceID := workspaceOf(ctx, d)
	threshold := reconciliation.DefaultThreshold
	if d.has("threshold") {
		threshold = d.integer("threshold")
	}
	if err := d.err(); err != nil {
		return nil, err
	}

	matched, err := s.Reconciliation.AutoMatch(ctx, workspaceID, nil)
	if err != nil {
		return nil, s.fail("ApplyAutoMatches", err)
	}
	result := s.Reconciliation.ApplyAutoMatches(ctx, matched.Selected, threshold)

	failures := make([]error, 0, len(result.Failures))
	for _, f := range result.Failures {
		failures = append(failures, f.Err)
	}
	return toStruct(map[string]any{
		"applied":  result.Applied,
		"skipped":  result.Skipped,
		"failures": failureList(failures),
	})
}

// CreateDocument handles the CreateDocument RPC
func (s *Server) CreateDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	input := document.CreateDocumentInput{
		ObligationID: d.uuid("obligation_id"),
		Number:       d.str("number"),
		EntryIDs:     d.uuids("entry_ids"),
		IssueDate:    d.date("issue_date"),
		DueDate:      d.date("due_date"),
	}
	if err := d.err(); err != nil {
		return nil, err
	}

	doc, err := s.Documents.Create(ctx, input)
	if err != nil {
		return nil, s.fail("CreateDocument", err)
	}
	return toStruct(map[string]any{"document": documentMap(doc)})
}

// GetDocument handles the GetDocument RPC
func (s *Server) GetDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.documentCall(ctx, req, "GetDocument", s.Documents.Get)
}

// SendDocument handles the SendDocument RPC
func (s *Server) SendDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.documentCall(ctx, req, "SendDocument", s.Documents.Send)
}

// CancelDocument handles the CancelDocument RPC
func (s *Server) CancelDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.documentCall(ctx, req, "CancelDocument", s.Documents.Cancel)
}

func (s *Server) documentCall(ctx context.Context, req *structpb.Struct, method string, call func(context.Context, uuid.UUID) (*domain.AggregateDocument, error)) (*structpb.Struct, error) {
	d := newDecoder(req)
	id := d.uuid("id")
	if err := d.err(); err != nil {
		return nil, err
	}

	doc, err := call(ctx, id)
	if err != nil {
		return nil, s.fail(method, err)
	}
	return toStruct(map[string]any{"document": documentMap(doc)})
}

// ListDocuments handles the ListDocuments RPC
func (s *Server) ListDocuments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	filter := domain.DocumentFilter{
		WorkspaceID:  workspaceOf(ctx, d),
		ObligationID: d.optUUID("obligation_id"),
		Statuses:     enums[domain.DocumentStatus](d.strs("statuses")),
		Unpaid:       d.boolean("unpaid"),
	}
	if err := d.err(); err != nil {
		return nil, err
	}

	docs, err := s.Documents.List(ctx, filter)
	if err != nil {
		return nil, s.fail("ListDocuments", err)
	}
	return toStruct(map[string]any{"documents": list(docs, documentMap)})
}

// FindDocumentCandidates handles the FindDocumentCandidates RPC
func (s *Server) FindDocumentCandidates(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	workspaceID := workspaceOf(ctx, d)
	amount := d.decimal("amount")
	on := d.date("date")
	if err := d.err(); err != nil {
		return nil, err
	}

	docs, err := s.Documents.FindCandidates(ctx, workspaceID, amount, on)
	if err != nil {
		return nil, s.fail("FindDocumentCandidates", err)
	}
	return toStruct(map[string]any{"documents": list(docs, documentMap)})
}

// ReconcileDocument handles the ReconcileDocument RPC
func (s *Server) ReconcileDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	documentID := d.uuid("document_id")
	transactionID := d.uuid("transaction_id")
	if err := d.err(); err != nil {
		return nil, err
	}

	doc, err := s.Documents.Reconcile(ctx, documentID, transactionID)
	if err != nil {
		return nil, s.fail("ReconcileDocument", err)
	}
	return toStruct(map[string]any{"document": documentMap(doc)})
}

// RecordTransaction handles the RecordTransaction RPC
func (s *Server) RecordTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	input := ledger.RecordTransactionInput{
		WorkspaceID: workspaceOf(ctx, d),
		EntityID:    d.uuid("entity_id"),
		AccountID:   d.optUUID("account_id"),
		Type:        domain.TransactionType(d.str("type")),
		Amount:      d.decimal("amount"),
		Currency:    d.str("currency"),
		Date:        d.date("date"),
		Description: d.str("description"),
	}
	if err := d.err(); err != nil {
		return nil, err
	}

	tx, err := s.Ledger.Record(ctx, input)
	if err != nil {
		return nil, s.fail("RecordTransaction", err)
	}
	return toStruct(map[string]any{"transaction": transactionMap(tx)})
}

// ReverseTransaction handles the ReverseTransaction RPC
func (s *Server) ReverseTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	id := d.uuid("id")
	description := d.str("description")
	if err := d.err(); err != nil {
		return nil, err
	}

	tx, err := s.Ledger.Reverse(ctx, id, description)
	if err != nil {
		return nil, s.fail("ReverseTransaction", err)
	}
	return toStruct(map[string]any{"transaction": transactionMap(tx)})
}

// ListTransactions handles the ListTransactions RPC
func (s *Server) ListTransactions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	filter := domain.TransactionFilter{
		WorkspaceID: workspaceOf(ctx, d),
		AccountID:   d.optUUID("account_id"),
		EntityID:    d.optUUID("entity_id"),
		DateFrom:    d.optDate("date_from"),
		DateTo:      d.optDate("date_to"),
		Limit:       d.integer("limit"),
		Offset:      d.integer("offset"),
	}
	if err := d.err(); err != nil {
		return nil, err
	}

	txs, err := s.Ledger.List(ctx, filter)
	if err != nil {
		return nil, s.fail("ListTransactions", err)
	}
	return toStruct(map[string]any{"transactions": list(txs, transactionMap)})
}

// IngestTransactions handles the IngestTransactions RPC
func (s *Server) IngestTransactions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	input := ledger.IngestInput{
		WorkspaceID:    workspaceOf(ctx, d),
		EntityID:       d.uuid("entity_id"),
		AccountID:      d.optUUID("account_id"),
		SkipDuplicates: d.boolean("skip_duplicates"),
	}
	for _, item := range d.structs("candidates") {
		input.Candidates = append(input.Candidates, duplicate.Candidate{
			Date:        item.date("date"),
			Description: item.str("description"),
			Amount:      item.decimal("amount"),
			Currency:    item.str("currency"),
			Type:        domain.TransactionType(item.str("type")),
		})
		d.absorb(item)
	}
	if err := d.err(); err != nil {
		return nil, err
	}

	result, err := s.Ledger.Ingest(ctx, input)
	if err != nil {
		return nil, s.fail("IngestTransactions", err)
	}
	return toStruct(map[string]any{
		"posted":   list(result.Posted, transactionMap),
		"flags":    list(result.Flags, flagMap),
		"skipped":  result.Skipped,
		"failures": ledgerFailures(result.Failures),
	})
}

// SyncExternal handles the SyncExternal RPC
func (s *Server) SyncExternal(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	input := ledger.SyncInput{
		WorkspaceID: workspaceOf(ctx, d),
		EntityID:    d.uuid("entity_id"),
		AccountID:   d.optUUID("account_id"),
	}
	for _, item := range d.structs("items") {
		input.Items = append(input.Items, ledger.ExternalItem{
			ExternalID:  item.str("external_id"),
			Date:        item.date("date"),
			Description: item.str("description"),
			Amount:      item.decimal("amount"),
			Currency:    item.str("currency"),
			Type:        domain.TransactionType(item.str("type")),
		})
		d.absorb(item)
	}
	if err := d.err(); err != nil {
		return nil, err
	}

	result, err := s.Ledger.SyncExternal(ctx, input)
	if err != nil {
		return nil, s.fail("SyncExternal", err)
	}
	return toStruct(map[string]any{
		"created":  result.Created,
		"existing": result.Existing,
		"failures": ledgerFailures(result.Failures),
	})
}

// ProjectCashflow handles the ProjectCashflow RPC
func (s *Server) ProjectCashflow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	workspaceID := workspaceOf(ctx, d)
	currency := d.str("currency")
	from := d.date("from")
	months := d.integer("months")
	if err := d.err(); err != nil {
		return nil, err
	}

	p, err := s.Cashflow.Project(ctx, workspaceID, currency, from, months)
	if err != nil {
		return nil, s.fail("ProjectCashflow", err)
	}
	resp := map[string]any{
		"workspace_id":   p.WorkspaceID.String(),
		"currency":       p.Currency,
		"opening":        p.Opening.String(),
		"months":         list(p.Months, monthMap),
		"first_negative": nil,
	}
	if m, ok := p.FirstNegative(); ok {
		resp["first_negative"] = m.Start.Format("2006-01")
	}
	return toStruct(resp)
}

// ListAlerts handles the ListAlerts RPC
func (s *Server) ListAlerts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	filter := domain.AlertFilter{
		WorkspaceID: workspaceOf(ctx, d),
		EntityID:    d.optUUID("entity_id"),
		Severities:  enums[domain.AlertSeverity](d.strs("severities")),
		States:      enums[domain.AlertState](d.strs("states")),
	}
	if err := d.err(); err != nil {
		return nil, err
	}

	alerts, err := s.Alerts.List(ctx, filter)
	if err != nil {
		return nil, s.fail("ListAlerts", err)
	}
	return toStruct(map[string]any{"alerts": list(alerts, alertMap)})
}

// SweepAlerts handles the SweepAlerts RPC: an on-demand evaluation of one
// workspace followed by the stale pass
func (s *Server) SweepAlerts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	workspaceID := workspaceOf(ctx, d)
	if err := d.err(); err != nil {
		return nil, err
	}

	now := s.Alerts.Now()
	result, err := s.Alerts.Sweep(ctx, workspaceID, now)
	if err != nil {
		return nil, s.fail("SweepAlerts", err)
	}
	resolved, err := s.Alerts.ResolveStale(ctx, workspaceID, now)
	if err != nil {
		return nil, s.fail("SweepAlerts", err)
	}
	result.Resolved = resolved
	return toStruct(sweepMap(result))
}

// DismissAlert handles the DismissAlert RPC
func (s *Server) DismissAlert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.alertCall(ctx, req, "DismissAlert", s.Alerts.Dismiss)
}

// ReopenAlert handles the ReopenAlert RPC
func (s *Server) ReopenAlert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.alertCall(ctx, req, "ReopenAlert", s.Alerts.Reopen)
}

// SnoozeAlert handles the SnoozeAlert RPC. until is an RFC 3339 timestamp.
func (s *Server) SnoozeAlert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := newDecoder(req)
	id := d.uuid("id")
	until := d.date("until")
	if err := d.err(); err != nil {
		return nil, err
	}

	record, err := s.Alerts.Snooze(ctx, id, until)
	if err != nil {
		return nil, s.fail("SnoozeAlert", err)
	}
	return toStruct(map[string]any{"alert": alertMap(record)})
}

func (s *Server) alertCall(ctx context.Context, req *structpb.Struct, method string, call func(context.Context, uuid.UUID) (*domain.AlertRecord, error)) (*structpb.Struct, error) {
	d := newDecoder(req)
	id := d.uuid("id")
	if err := d.err(); err != nil {
		return nil, err
	}

	record, err := call(ctx, id)
	if err != nil {
		return nil, s.fail(method, err)
	}
	return toStruct(map[string]any{"alert": alertMap(record)})
}

// fail logs unexpected errors and maps every error to a status
func (s *Server) fail(method string, err error) error {
	mapped := mapError(err)
	if status.Code(mapped) == codes.Internal {
		config.LogError(s.Logger, "grpc", method, "request failed", nil, err)
	}
	return mapped
}

// workspaceOf reads workspace_id from the request, falling back to the
// workspace bound by WorkspaceInterceptor
func workspaceOf(ctx context.Context, d *decoder) uuid.UUID {
	if d.has("workspace_id") {
		return d.uuid("workspace_id")
	}
	if ws, ok := domain.WorkspaceFromContext(ctx); ok {
		return ws
	}
	d.fail("workspace_id", "required")
	return uuid.Nil
}

func enums[T ~string](values []string) []T {
	if len(values) == 0 {
		return nil
	}
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = T(v)
	}
	return out
}

func ledgerFailures(failures []ledger.ItemFailure) []any {
	out := make([]any, 0, len(failures))
	for _, f := range failures {
		out = append(out, map[string]any{"index": f.Index, "error": f.Err.Error()})
	}
	return out
}

// mapError maps domain errors to gRPC status codes by kind
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, domain.ErrBusy):
		return status.Error(codes.Unavailable, err.Error())
	}

	switch domain.KindOf(err) {
	case domain.KindValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.KindState:
		return status.Error(codes.FailedPrecondition, err.Error())
	case domain.KindIntegrity:
		return status.Error(codes.AlreadyExists, err.Error())
	case domain.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
