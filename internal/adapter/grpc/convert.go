package grpc

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simaogato/obligations-backend/internal/domain"
	"github.com/simaogato/obligations-backend/internal/usecase/alert"
	"github.com/simaogato/obligations-backend/internal/usecase/cashflow"
	"github.com/simaogato/obligations-backend/internal/usecase/duplicate"
	"github.com/simaogato/obligations-backend/internal/usecase/reconciliation"
)

// decoder reads typed fields out of a request struct. The first failure is
// kept and reported by err; later reads return zero values.
type decoder struct {
	fields map[string]*structpb.Value
	first  error
}

func newDecoder(s *structpb.Struct) *decoder {
	if s == nil {
		return &decoder{fields: map[string]*structpb.Value{}}
	}
	return &decoder{fields: s.GetFields()}
}

func (d *decoder) fail(key, format string, args ...any) {
	if d.first == nil {
		d.first = status.Errorf(codes.InvalidArgument, "invalid %s: %s", key, fmt.Sprintf(format, args...))
	}
}

func (d *decoder) err() error { return d.first }

func (d *decoder) has(key string) bool {
	v, ok := d.fields[key]
	if !ok {
		return false
	}
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return !null
}

func (d *decoder) str(key string) string {
	return d.fields[key].GetStringValue()
}

func (d *decoder) boolean(key string) bool {
	return d.fields[key].GetBoolValue()
}

func (d *decoder) integer(key string) int {
	return int(d.fields[key].GetNumberValue())
}

func (d *decoder) uuid(key string) uuid.UUID {
	if !d.has(key) {
		d.fail(key, "required")
		return uuid.Nil
	}
	id, err := uuid.Parse(d.str(key))
	if err != nil {
		d.fail(key, "%v", err)
	}
	return id
}

func (d *decoder) optUUID(key string) *uuid.UUID {
	if !d.has(key) || d.str(key) == "" {
		return nil
	}
	id := d.uuid(key)
	return &id
}

func (d *decoder) uuids(key string) []uuid.UUID {
	values := d.fields[key].GetListValue().GetValues()
	out := make([]uuid.UUID, 0, len(values))
	for i, v := range values {
		id, err := uuid.Parse(v.GetStringValue())
		if err != nil {
			d.fail(fmt.Sprintf("%s[%d]", key, i), "%v", err)
			return nil
		}
		out = append(out, id)
	}
	return out
}

func (d *decoder) strs(key string) []string {
	values := d.fields[key].GetListValue().GetValues()
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, v.GetStringValue())
	}
	return out
}

// decimal accepts strings only so amounts never pass through float64
func (d *decoder) decimal(key string) decimal.Decimal {
	if !d.has(key) {
		return decimal.Zero
	}
	amount, err := decimal.NewFromString(d.str(key))
	if err != nil {
		d.fail(key, "%v", err)
	}
	return amount
}

func (d *decoder) optDecimal(key string) *decimal.Decimal {
	if !d.has(key) {
		return nil
	}
	amount := d.decimal(key)
	return &amount
}

// date accepts a calendar date or an RFC 3339 timestamp
func (d *decoder) date(key string) time.Time {
	raw := d.str(key)
	if raw == "" {
		d.fail(key, "required")
		return time.Time{}
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		d.fail(key, "expected YYYY-MM-DD or RFC 3339")
	}
	return t.UTC()
}

func (d *decoder) optDate(key string) *time.Time {
	if !d.has(key) || d.str(key) == "" {
		return nil
	}
	t := d.date(key)
	return &t
}

func (d *decoder) structs(key string) []*decoder {
	values := d.fields[key].GetListValue().GetValues()
	out := make([]*decoder, 0, len(values))
	for _, v := range values {
		out = append(out, newDecoder(v.GetStructValue()))
	}
	return out
}

// absorb keeps the first error of a nested decoder
func (d *decoder) absorb(nested *decoder) {
	if d.first == nil {
		d.first = nested.first
	}
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return s, nil
}

func list[T any](items []T, encode func(T) map[string]any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, encode(item))
	}
	return out
}

func optString(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func day(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func obligationMap(o *domain.Obligation) map[string]any {
	m := map[string]any{
		"id":              o.ID.String(),
		"workspace_id":    o.WorkspaceID.String(),
		"kind":            string(o.Kind),
		"direction":       string(o.Direction),
		"entity_id":       o.EntityID.String(),
		"counterparty_id": optString(o.CounterpartyID),
		"account_id":      optString(o.AccountID),
		"description":     o.Description,
		"currency":        o.Currency,
		"amount_basis":    string(o.AmountBasis),
		"total_amount":    o.TotalAmount.String(),
		"monthly_amount":  o.MonthlyAmount.String(),
		"start_date":      day(o.StartDate),
		"end_date":        nil,
		"recurrence":      string(o.Recurrence),
		"status":          string(o.Status),
	}
	if o.EndDate != nil {
		m["end_date"] = day(*o.EndDate)
	}
	if o.AdjustmentRate != nil {
		m["adjustment_rate"] = o.AdjustmentRate.String()
	}
	return m
}

func entryMap(e *domain.ScheduleEntry) map[string]any {
	return map[string]any{
		"id":             e.ID.String(),
		"obligation_id":  e.ObligationID.String(),
		"entity_id":      e.EntityID.String(),
		"sequence":       e.Sequence,
		"due_date":       day(e.DueDate),
		"amount":         e.Amount.String(),
		"currency":       e.Currency,
		"direction":      string(e.Direction),
		"status":         string(e.Status),
		"transaction_id": optString(e.TransactionID),
		"link_source":    string(e.LinkSource),
		"settled_at":     optTime(e.SettledAt),
	}
}

func transactionMap(tx *domain.Transaction) map[string]any {
	m := map[string]any{
		"id":          tx.ID.String(),
		"entity_id":   tx.EntityID.String(),
		"account_id":  optString(tx.AccountID),
		"type":        string(tx.Type),
		"amount":      tx.Amount.String(),
		"currency":    tx.Currency,
		"date":        day(tx.Date),
		"description": tx.Description,
		"source":      string(tx.Source),
		"reversal_of": optString(tx.ReversalOf),
	}
	if tx.ExternalID != nil {
		m["external_id"] = *tx.ExternalID
	}
	return m
}

func documentMap(d *domain.AggregateDocument) map[string]any {
	ids := make([]any, 0, len(d.EntryIDs))
	for _, id := range d.EntryIDs {
		ids = append(ids, id.String())
	}
	return map[string]any{
		"id":             d.ID.String(),
		"obligation_id":  d.ObligationID.String(),
		"number":         d.Number,
		"entry_ids":      ids,
		"total":          d.Total.String(),
		"currency":       d.Currency,
		"issue_date":     day(d.IssueDate),
		"due_date":       day(d.DueDate),
		"status":         string(d.Status),
		"transaction_id": optString(d.TransactionID),
	}
}

func candidateMap(c reconciliation.Candidate) map[string]any {
	return map[string]any{
		"entry_id":       c.EntryID.String(),
		"transaction_id": c.TransactionID.String(),
		"confidence":     c.Confidence,
		"selected":       c.Selected,
		"due_date":       day(c.DueDate),
		"evidence": map[string]any{
			"amount_match": c.Evidence.AmountMatch,
			"date_match":   c.Evidence.DateMatch,
			"entity_match": c.Evidence.EntityMatch,
			"amount_delta": c.Evidence.AmountDelta.String(),
			"day_distance": c.Evidence.DayDistance,
		},
	}
}

func alertMap(a *domain.AlertRecord) map[string]any {
	m := map[string]any{
		"id":            a.ID.String(),
		"fingerprint":   a.Fingerprint,
		"type":          string(a.Type),
		"severity":      string(a.Severity),
		"message":       a.Message,
		"entity_id":     optString(a.EntityID),
		"state":         string(a.State),
		"first_seen_at": a.FirstSeenAt.UTC().Format(time.RFC3339),
		"last_seen_at":  a.LastSeenAt.UTC().Format(time.RFC3339),
		"snoozed_until": optTime(a.SnoozedUntil),
		"resolved_at":   optTime(a.ResolvedAt),
		"drilldown":     nil,
	}
	if a.Drilldown != nil {
		params := make(map[string]any, len(a.Drilldown.Params))
		for k, v := range a.Drilldown.Params {
			params[k] = v
		}
		m["drilldown"] = map[string]any{"path": a.Drilldown.Path, "params": params}
	}
	return m
}

func flagMap(f duplicate.Flag) map[string]any {
	m := map[string]any{
		"index":                  f.Index,
		"duplicate":              f.Duplicate,
		"confidence":             f.Confidence,
		"similarity":             f.Similarity,
		"matched_transaction_id": optString(f.MatchedTransactionID),
	}
	if f.MatchedCandidate >= 0 {
		m["matched_candidate"] = f.MatchedCandidate
	}
	return m
}

func monthMap(m cashflow.Month) map[string]any {
	return map[string]any{
		"month":            m.Start.Format("2006-01"),
		"planned_income":   m.PlannedIncome.String(),
		"planned_expense":  m.PlannedExpense.String(),
		"realized_income":  m.RealizedIncome.String(),
		"realized_expense": m.RealizedExpense.String(),
		"net":              m.Net.String(),
		"closing":          m.Closing.String(),
	}
}

func sweepMap(r *alert.SweepResult) map[string]any {
	return map[string]any{
		"workspace_id": r.WorkspaceID.String(),
		"proposed":     r.Proposed,
		"inserted":     r.Inserted,
		"refreshed":    r.Refreshed,
		"touched":      r.Touched,
		"reopened":     r.Reopened,
		"resolved":     r.Resolved,
		"failures":     len(r.Failures),
	}
}

func failureList(errs []error) []any {
	out := make([]any, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}
