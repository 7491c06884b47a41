package duplicate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
)

// Candidate is a normalised transaction awaiting import
type Candidate struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal // signed like a ledger transaction
	Currency    string
	Type        domain.TransactionType
}

// Flag is the verdict for one candidate. MatchedTransactionID is set when
// the closest record is a posted transaction, MatchedCandidate (>= 0) when
// it is an earlier candidate of the same batch.
type Flag struct {
	Index                int
	Duplicate            bool
	Confidence           float64
	Similarity           float64
	MatchedTransactionID *uuid.UUID
	MatchedCandidate     int
}

// Detector flags import candidates that repeat posted transactions or each other
type Detector struct {
	TransactionRepo domain.TransactionRepository
	Tuning          config.DuplicateTuning
	Logger          *logrus.Logger
}

// NewDetector creates a new Detector instance
func NewDetector(transactionRepo domain.TransactionRepository, tuning config.DuplicateTuning, logger *logrus.Logger) *Detector {
	if logger == nil {
		logger = config.NewDiscardLogger()
	}
	return &Detector{TransactionRepo: transactionRepo, Tuning: tuning, Logger: logger}
}

// Detect returns one flag per candidate, in input order
// Logic:
//  1. Load posted transactions of the account around the candidates' dates
//  2. Compare each candidate with them and with earlier candidates of the batch
//  3. Keep the comparison with the highest confidence
func (d *Detector) Detect(ctx context.Context, workspaceID uuid.UUID, accountID *uuid.UUID, candidates []Candidate) ([]Flag, error) {
	flags := make([]Flag, len(candidates))
	if len(candidates) == 0 {
		return flags, nil
	}

	from, to := candidates[0].Date, candidates[0].Date
	for _, c := range candidates[1:] {
		if c.Date.Before(from) {
			from = c.Date
		}
		if c.Date.After(to) {
			to = c.Date
		}
	}
	window := time.Duration(d.Tuning.DateToleranceDays+1) * 24 * time.Hour
	from, to = from.Add(-window), to.Add(window)

	existing, err := d.TransactionRepo.List(ctx, domain.TransactionFilter{
		WorkspaceID: workspaceID,
		AccountID:   accountID,
		DateFrom:    &from,
		DateTo:      &to,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list account transactions: %w", err)
	}

	for i, c := range candidates {
		flag := Flag{Index: i, MatchedCandidate: -1}
		for _, tx := range existing {
			other := Candidate{Date: tx.Date, Description: tx.Description, Amount: tx.Amount, Currency: tx.Currency, Type: tx.Type}
			if sim, conf, ok := d.Compare(c, other); ok && conf > flag.Confidence {
				id := tx.ID
				flag = Flag{Index: i, Duplicate: true, Confidence: conf, Similarity: sim, MatchedTransactionID: &id, MatchedCandidate: -1}
			}
		}
		for j := 0; j < i; j++ {
			if sim, conf, ok := d.Compare(c, candidates[j]); ok && conf > flag.Confidence {
				flag = Flag{Index: i, Duplicate: true, Confidence: conf, Similarity: sim, MatchedCandidate: j}
			}
		}
		flags[i] = flag
	}
	return flags, nil
}

// Compare scores a pair. ok is false when the pair is not a duplicate.
// Confidence = 0.5 + 0.3 same date + 0.2 same amount + 0.2 x similarity, capped at 1.
func (d *Detector) Compare(a, b Candidate) (similarity, confidence float64, ok bool) {
	if a.Currency != "" && b.Currency != "" && a.Currency != b.Currency {
		return 0, 0, false
	}
	days := domain.DaysApart(a.Date, b.Date)
	if days > d.Tuning.DateToleranceDays {
		return 0, 0, false
	}
	exp := domain.CurrencyExponent(a.Currency)
	if !domain.WithinMinorUnits(a.Amount, b.Amount, d.Tuning.AmountToleranceMinor, exp) {
		return 0, 0, false
	}

	similarity = Similarity(a.Description, b.Description)
	if similarity < d.Tuning.SimilarityThreshold {
		return similarity, 0, false
	}

	confidence = 0.5
	if days == 0 {
		confidence += 0.3
	}
	if a.Amount.Equal(b.Amount) {
		confidence += 0.2
	}
	confidence += 0.2 * similarity
	return similarity, math.Min(confidence, 1), true
}
