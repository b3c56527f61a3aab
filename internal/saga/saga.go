// Package saga runs short in-process sagas: an ordered list of steps where a
// failure undoes every completed step in reverse order.
package saga

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status represents the current status of a saga
type Status string

const (
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	// StatusFailed means a compensation step failed and state may be inconsistent
	StatusFailed Status = "failed"
)

// StepStatus represents the status of a saga step
type StepStatus string

const (
	StepStatusCompleted          StepStatus = "completed"
	StepStatusFailed             StepStatus = "failed"
	StepStatusCompensated        StepStatus = "compensated"
	StepStatusCompensationFailed StepStatus = "compensation_failed"
)

// ExecuteFunc performs a step against the saga's shared state
type ExecuteFunc[T any] func(ctx context.Context, state *T) error

// CompensateFunc undoes a completed step
type CompensateFunc[T any] func(ctx context.Context, state *T) error

// Step represents a single step in a saga
type Step[T any] struct {
	Name       string
	Execute    ExecuteFunc[T]
	Compensate CompensateFunc[T]
	Timeout    time.Duration
	// Retries is the number of extra attempts after a failed Execute
	Retries int
	// RetryIf limits which errors are retried. Nil retries all of them.
	RetryIf func(err error) bool
}

// Definition defines a saga with its steps
type Definition[T any] struct {
	Name  string
	Steps []*Step[T]
}

// NewDefinition creates a new saga definition
func NewDefinition[T any](name string) *Definition[T] {
	return &Definition[T]{Name: name}
}

// AddStep adds a step to the saga definition
func (d *Definition[T]) AddStep(step *Step[T]) *Definition[T] {
	if step.Timeout == 0 {
		step.Timeout = 10 * time.Second
	}
	d.Steps = append(d.Steps, step)
	return d
}

// StepResult records what happened to one step
type StepResult struct {
	StepName string        `json:"step_name"`
	Status   StepStatus    `json:"status"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Instance is the record of one saga execution
type Instance struct {
	ID           string        `json:"id"`
	DefinitionID string        `json:"definition_id"`
	Status       Status        `json:"status"`
	StepResults  []*StepResult `json:"step_results"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}

func newInstance(definitionID string) *Instance {
	return &Instance{
		ID:           uuid.New().String(),
		DefinitionID: definitionID,
		Status:       StatusRunning,
		StartedAt:    time.Now(),
	}
}

func (i *Instance) result(stepName string) *StepResult {
	for _, r := range i.StepResults {
		if r.StepName == stepName {
			return r
		}
	}
	return nil
}
