package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning groups the matching windows and thresholds of the engine
type Tuning struct {
	Matching   MatchingTuning  `yaml:"matching"`
	Documents  DocumentTuning  `yaml:"documents"`
	Duplicates DuplicateTuning `yaml:"duplicates"`
	Alerts     AlertTuning     `yaml:"alerts"`
	Locks      LockTuning      `yaml:"locks"`
}

type MatchingTuning struct {
	AmountToleranceMinor int64 `yaml:"amount_tolerance_minor"`
	DateWindowDays       int   `yaml:"date_window_days"`
	AutoApplyThreshold   int   `yaml:"auto_apply_threshold"`
}

type DocumentTuning struct {
	AmountToleranceMinor int64 `yaml:"amount_tolerance_minor"`
	DateWindowDays       int   `yaml:"date_window_days"`
}

type DuplicateTuning struct {
	DateToleranceDays    int     `yaml:"date_tolerance_days"`
	AmountToleranceMinor int64   `yaml:"amount_tolerance_minor"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold"`
}

type AlertTuning struct {
	UpcomingDays       int           `yaml:"upcoming_days"`
	UnreconciledMinAge int           `yaml:"unreconciled_min_age_days"`
	ProjectionMonths   int           `yaml:"projection_months"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	SweepConcurrency   int           `yaml:"sweep_concurrency"`
}

type LockTuning struct {
	TTL time.Duration `yaml:"ttl"`
}

// DefaultTuning returns the values used when no tuning file is configured
func DefaultTuning() Tuning {
	return Tuning{
		Matching: MatchingTuning{
			AmountToleranceMinor: 0,
			DateWindowDays:       7,
			AutoApplyThreshold:   80,
		},
		Documents: DocumentTuning{
			AmountToleranceMinor: 1,
			DateWindowDays:       2,
		},
		Duplicates: DuplicateTuning{
			DateToleranceDays:    3,
			AmountToleranceMinor: 0,
			SimilarityThreshold:  0.7,
		},
		Alerts: AlertTuning{
			UpcomingDays:       7,
			UnreconciledMinAge: 14,
			ProjectionMonths:   3,
			StaleAfter:         48 * time.Hour,
			SweepConcurrency:   4,
		},
		Locks: LockTuning{
			TTL: 30 * time.Second,
		},
	}
}

// LoadTuning reads a YAML tuning file over the defaults. An empty path or a
// missing file yields the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("failed to read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("failed to parse tuning file: %w", err)
	}
	if err := t.validate(); err != nil {
		return t, fmt.Errorf("invalid tuning file %s: %w", path, err)
	}
	return t, nil
}

func (t Tuning) validate() error {
	if t.Matching.AmountToleranceMinor < 0 || t.Documents.AmountToleranceMinor < 0 || t.Duplicates.AmountToleranceMinor < 0 {
		return errors.New("amount tolerances cannot be negative")
	}
	if t.Matching.DateWindowDays < 0 || t.Documents.DateWindowDays < 0 || t.Duplicates.DateToleranceDays < 0 {
		return errors.New("date windows cannot be negative")
	}
	if t.Matching.AutoApplyThreshold < 0 || t.Matching.AutoApplyThreshold > 100 {
		return errors.New("auto apply threshold must be within 0..100")
	}
	if t.Duplicates.SimilarityThreshold <= 0 || t.Duplicates.SimilarityThreshold > 1 {
		return errors.New("similarity threshold must be within (0, 1]")
	}
	if t.Alerts.SweepConcurrency < 1 {
		return errors.New("sweep concurrency must be at least 1")
	}
	return nil
}
