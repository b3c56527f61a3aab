package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trace struct {
	calls []string
}

func recordingStep(name string, execErr, compErr error) *Step[trace] {
	return &Step[trace]{
		Name: name,
		Execute: func(ctx context.Context, s *trace) error {
			s.calls = append(s.calls, "exec:"+name)
			return execErr
		},
		Compensate: func(ctx context.Context, s *trace) error {
			s.calls = append(s.calls, "undo:"+name)
			return compErr
		},
	}
}

func TestOrchestrator_AllStepsSucceed(t *testing.T) {
	def := NewDefinition[trace]("booking").
		AddStep(recordingStep("reserve", nil, nil)).
		AddStep(recordingStep("persist", nil, nil))

	state := &trace{}
	instance, err := NewOrchestrator(def, nil).Execute(context.Background(), state)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, instance.Status)
	assert.Equal(t, []string{"exec:reserve", "exec:persist"}, state.calls)
	assert.NotEmpty(t, instance.ID)
}

func TestOrchestrator_CompensatesInReverse(t *testing.T) {
	boom := errors.New("boom")
	def := NewDefinition[trace]("booking").
		AddStep(recordingStep("reserve", nil, nil)).
		AddStep(recordingStep("persist", nil, nil)).
		AddStep(recordingStep("confirm", boom, nil))

	state := &trace{}
	instance, err := NewOrchestrator(def, nil).Execute(context.Background(), state)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusCompensated, instance.Status)
	// The failed step is never compensated
	assert.Equal(t, []string{
		"exec:reserve", "exec:persist", "exec:confirm",
		"undo:persist", "undo:reserve",
	}, state.calls)
	assert.Equal(t, StepStatusFailed, instance.result("confirm").Status)
	assert.Equal(t, StepStatusCompensated, instance.result("reserve").Status)
}

func TestOrchestrator_CompensationFailureMarksFailed(t *testing.T) {
	def := NewDefinition[trace]("booking").
		AddStep(recordingStep("reserve", nil, errors.New("redis down"))).
		AddStep(recordingStep("persist", errors.New("db down"), nil))

	instance, err := NewOrchestrator(def, nil).Execute(context.Background(), &trace{})

	require.Error(t, err)
	assert.Equal(t, StatusFailed, instance.Status)
	assert.Equal(t, StepStatusCompensationFailed, instance.result("reserve").Status)
}

func TestOrchestrator_RetriesOnlyWhatRetryIfAllows(t *testing.T) {
	transient := errors.New("transient")
	fatal := errors.New("fatal")

	tests := []struct {
		name         string
		failWith     error
		wantAttempts int
	}{
		{"transient errors are retried", transient, 3},
		{"other errors fail at once", fatal, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			def := NewDefinition[trace]("retry").AddStep(&Step[trace]{
				Name:    "flaky",
				Retries: 2,
				RetryIf: func(err error) bool { return errors.Is(err, transient) },
				Execute: func(ctx context.Context, s *trace) error {
					attempts++
					return tt.failWith
				},
			})

			instance, err := NewOrchestrator(def, nil).Execute(context.Background(), &trace{})
			assert.ErrorIs(t, err, tt.failWith)
			assert.Equal(t, tt.wantAttempts, attempts)
			assert.Equal(t, tt.wantAttempts, instance.StepResults[0].Attempts)
		})
	}
}

func TestOrchestrator_CompensatesAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	undone := false

	def := NewDefinition[trace]("cancel").
		AddStep(&Step[trace]{
			Name:    "reserve",
			Execute: func(ctx context.Context, s *trace) error { return nil },
			Compensate: func(ctx context.Context, s *trace) error {
				undone = ctx.Err() == nil
				return nil
			},
		}).
		AddStep(&Step[trace]{
			Name: "persist",
			Execute: func(ctx context.Context, s *trace) error {
				cancel()
				return context.Canceled
			},
		})

	_, err := NewOrchestrator(def, nil).Execute(ctx, &trace{})
	require.Error(t, err)
	assert.True(t, undone)
}
