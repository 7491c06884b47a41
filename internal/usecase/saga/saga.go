package saga

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Step is one forward action of a saga and the action that reverts it.
// Undo may be nil for steps with nothing to revert.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// Saga runs steps in order and compensates completed steps in reverse order
// when a later step fails
type Saga struct {
	Name   string
	Logger *logrus.Logger
	steps  []Step
}

// New creates an empty saga
func New(name string, logger *logrus.Logger) *Saga {
	return &Saga{Name: name, Logger: logger}
}

// Add appends a step
func (s *Saga) Add(name string, do, undo func(ctx context.Context) error) *Saga {
	s.steps = append(s.steps, Step{Name: name, Do: do, Undo: undo})
	return s
}

// Run executes the saga
// Logic:
//  1. Execute each step's Do in order
//  2. On the first failure, run Undo of every completed step, last first
//  3. Undo failures are logged and never replace the original error
//
// The compensation runs on a context detached from cancellation so a
// cancelled request still gets its rollback.
func (s *Saga) Run(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Do(ctx); err != nil {
			s.compensate(context.WithoutCancel(ctx), i)
			return fmt.Errorf("%s: step %s: %w", s.Name, step.Name, err)
		}
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, failed int) {
	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(ctx); err != nil && s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{
				"module":   "saga",
				"saga":     s.Name,
				"step":     step.Name,
				"funcName": "compensate",
			}).WithError(err).Error("compensation failed")
		}
	}
}
