package domain

// Transition tables for the three state machines. A status missing from a
// table is terminal.

var obligationTransitions = map[ObligationStatus][]ObligationStatus{
	ObligationStatusDraft:   {ObligationStatusPlanned, ObligationStatusActive, ObligationStatusCancelled},
	ObligationStatusPlanned: {ObligationStatusActive, ObligationStatusCancelled},
	ObligationStatusActive:  {ObligationStatusCompleted, ObligationStatusCancelled},
}

// Settled -> PLANNED is deliberately absent: only the unlink operation may do it.
var entryTransitions = map[EntryStatus][]EntryStatus{
	EntryStatusPlanned: {EntryStatusRealized, EntryStatusReceived, EntryStatusPaid, EntryStatusCancelled},
}

var documentTransitions = map[DocumentStatus][]DocumentStatus{
	DocumentStatusDraft: {DocumentStatusSent, DocumentStatusCancelled},
	DocumentStatusSent:  {DocumentStatusPaid, DocumentStatusCancelled},
}

// CanTransitionObligation reports whether from -> to is legal
func CanTransitionObligation(from, to ObligationStatus) bool {
	return contains(obligationTransitions[from], to)
}

// CanTransitionEntry reports whether from -> to is legal
func CanTransitionEntry(from, to EntryStatus) bool {
	return contains(entryTransitions[from], to)
}

// CanTransitionDocument reports whether from -> to is legal
func CanTransitionDocument(from, to DocumentStatus) bool {
	return contains(documentTransitions[from], to)
}

// CheckObligationTransition returns an ErrInvalidTransition error for illegal moves
func CheckObligationTransition(op string, from, to ObligationStatus) error {
	if !CanTransitionObligation(from, to) {
		return E(op, ErrInvalidTransition, "obligation %s -> %s", from, to)
	}
	return nil
}

// CheckEntryTransition returns an ErrInvalidTransition error for illegal moves
func CheckEntryTransition(op string, from, to EntryStatus) error {
	if !CanTransitionEntry(from, to) {
		return E(op, ErrInvalidTransition, "schedule entry %s -> %s", from, to)
	}
	return nil
}

// CheckDocumentTransition returns an ErrInvalidTransition error for illegal moves
func CheckDocumentTransition(op string, from, to DocumentStatus) error {
	if !CanTransitionDocument(from, to) {
		return E(op, ErrInvalidTransition, "document %s -> %s", from, to)
	}
	return nil
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
