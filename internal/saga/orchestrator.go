package saga

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/rail-reservation/pkg/logger"
	"github.com/prohmpiriya/rail-reservation/pkg/retry"
)

// Orchestrator executes one saga definition
type Orchestrator[T any] struct {
	def    *Definition[T]
	logger *logger.Logger
}

// NewOrchestrator creates a new saga orchestrator. A nil logger discards output.
func NewOrchestrator[T any](def *Definition[T], log *logger.Logger) *Orchestrator[T] {
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator[T]{def: def, logger: log}
}

// Execute runs every step in order. When a step fails the completed steps are
// compensated in reverse and the step's error is returned unchanged.
func (o *Orchestrator[T]) Execute(ctx context.Context, state *T) (*Instance, error) {
	instance := newInstance(o.def.Name)
	log := o.logger.WithContext(ctx).With(
		zap.String("saga_id", instance.ID),
		zap.String("saga", o.def.Name),
	)

	for _, step := range o.def.Steps {
		result, err := o.executeStep(ctx, step, state)
		instance.StepResults = append(instance.StepResults, result)

		if err != nil {
			log.Warn("Saga step failed", zap.String("step", step.Name), zap.Int("attempts", result.Attempts), zap.Error(err))
			instance.Error = err.Error()
			o.compensate(ctx, instance, state, log)
			instance.FinishedAt = time.Now()
			return instance, err
		}
	}

	instance.Status = StatusCompleted
	instance.FinishedAt = time.Now()
	log.Debug("Saga completed", zap.Int("steps", len(o.def.Steps)))
	return instance, nil
}

func (o *Orchestrator[T]) executeStep(ctx context.Context, step *Step[T], state *T) (*StepResult, error) {
	started := time.Now()
	result := &StepResult{StepName: step.Name}

	retrier := retry.New(&retry.Config{
		MaxAttempts:     step.Retries + 1,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
		Multiplier:      2,
		JitterFactor:    0.2,
		RetryIf:         step.RetryIf,
	})

	res := retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
		defer cancel()
		return step.Execute(stepCtx, state)
	})

	result.Attempts = res.Attempts
	result.Duration = time.Since(started)
	if res.Err == nil {
		result.Status = StepStatusCompleted
		return result, nil
	}

	err := res.LastError
	if err == nil {
		err = res.Err
	}
	result.Status = StepStatusFailed
	result.Error = err.Error()
	return result, err
}

// compensate undoes completed steps in reverse order. Compensation runs even
// when the caller's context is already cancelled.
func (o *Orchestrator[T]) compensate(ctx context.Context, instance *Instance, state *T, log *logger.Logger) {
	instance.Status = StatusCompensating
	compCtx := context.WithoutCancel(ctx)

	failed := false
	for i := len(o.def.Steps) - 1; i >= 0; i-- {
		step := o.def.Steps[i]
		result := instance.result(step.Name)
		if result == nil || result.Status != StepStatusCompleted || step.Compensate == nil {
			continue
		}

		stepCtx, cancel := context.WithTimeout(compCtx, step.Timeout)
		err := step.Compensate(stepCtx, state)
		cancel()

		if err != nil {
			failed = true
			result.Status = StepStatusCompensationFailed
			result.Error = fmt.Sprintf("compensation: %v", err)
			log.Error("Saga compensation failed", zap.String("step", step.Name), zap.Error(err))
			continue
		}
		result.Status = StepStatusCompensated
	}

	if failed {
		instance.Status = StatusFailed
		return
	}
	instance.Status = StatusCompensated
}
