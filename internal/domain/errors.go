package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain failures so adapters can map them without
// inspecting messages.
type ErrorKind string

const (
	KindValidation ErrorKind = "VALIDATION"
	KindState      ErrorKind = "STATE"
	KindIntegrity  ErrorKind = "INTEGRITY"
	KindNotFound   ErrorKind = "NOT_FOUND"
)

// Sentinel errors. Wrap them with E to attach the operation name.
var (
	ErrInvalidAmount       = errors.New("amount must be a positive value in whole minor units")
	ErrInvalidDate         = errors.New("invalid date range")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrSettledEntries      = errors.New("obligation has settled schedule entries")
	ErrPlannedEntries      = errors.New("obligation still has planned schedule entries")
	ErrAlreadyGenerated    = errors.New("schedule already generated")
	ErrAlreadyLinked       = errors.New("schedule entry already linked to another transaction")
	ErrTransactionLinked   = errors.New("transaction already linked to another schedule entry")
	ErrDocumentAlreadyPaid = errors.New("document already paid")
	ErrEntryBundled        = errors.New("schedule entry already bundled in an open document")
	ErrNotInbound          = errors.New("transaction is not an inbound flow")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("unique constraint violated")
	ErrBusy                = errors.New("resource is locked by a concurrent operation")
)

var sentinelKinds = map[error]ErrorKind{
	ErrInvalidAmount:       KindValidation,
	ErrInvalidDate:         KindValidation,
	ErrInvalidInput:        KindValidation,
	ErrInvalidTransition:   KindState,
	ErrSettledEntries:      KindState,
	ErrPlannedEntries:      KindState,
	ErrAlreadyGenerated:    KindIntegrity,
	ErrAlreadyLinked:       KindIntegrity,
	ErrTransactionLinked:   KindIntegrity,
	ErrDocumentAlreadyPaid: KindIntegrity,
	ErrEntryBundled:        KindIntegrity,
	ErrNotInbound:          KindValidation,
	ErrNotFound:            KindNotFound,
	ErrConflict:            KindIntegrity,
	ErrBusy:                KindIntegrity,
}

// Error carries the operation that failed, the classification and the cause.
type Error struct {
	Op     string
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps a sentinel (or any error) with an operation name and an optional
// detail. The kind is derived from the innermost known sentinel.
func E(op string, err error, detail ...any) error {
	if err == nil {
		return nil
	}
	e := &Error{Op: op, Err: err, Kind: KindOf(err)}
	if len(detail) > 0 {
		if format, ok := detail[0].(string); ok {
			e.Detail = fmt.Sprintf(format, detail[1:]...)
		}
	}
	return e
}

// KindOf reports the classification of err. Unknown errors have an empty kind.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) && de.Kind != "" {
		return de.Kind
	}
	for sentinel, kind := range sentinelKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}
