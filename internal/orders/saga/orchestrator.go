package saga

import (
	"context"
	"log"
)

// Metrics counts saga runs and compensation passes. All methods must be
// safe for concurrent use.
type Metrics interface {
	SagaStarted()
	Compensation()
}

// Orchestrator executes a step list in order and unwinds completed steps in
// reverse when a compensatable failure occurs.
type Orchestrator struct {
	logf    func(format string, args ...any)
	metrics Metrics
}

// NewOrchestrator constructs an Orchestrator. metrics may be nil.
func NewOrchestrator(logf func(format string, args ...any), metrics Metrics) *Orchestrator {
	if logf == nil {
		logf = log.Printf
	}
	return &Orchestrator{logf: logf, metrics: metrics}
}

// Run executes steps in order and returns the final context.
//
// Failure handling by tag:
//   - Business: forward execution stops, nothing is compensated, and the
//     context is returned as-is; the failing step has already recorded the
//     business outcome on the order.
//   - Retryable: forward execution stops and the error is returned
//     unchanged; the caller owns retry policy.
//   - Compensate, or any untagged error: completed steps are compensated in
//     strict reverse order. A compensation failure is logged and does not
//     halt the unwind; the final context reflects whatever the
//     compensations achieved.
func (o *Orchestrator) Run(ctx context.Context, steps []Step, sc Context) (Context, error) {
	if o.metrics != nil {
		o.metrics.SagaStarted()
	}
	completed := 0

	for _, step := range steps {
		o.logf("saga: executing step %s", step.Name())

		next, err := step.Execute(ctx, sc)
		sc = next
		if err == nil {
			completed++
			continue
		}

		switch ClassifyError(err) {
		case Business:
			o.logf("saga: business failure at step %s: %v", step.Name(), err)
			return sc, nil
		case Retryable:
			o.logf("saga: retryable failure at step %s: %v", step.Name(), err)
			return sc, err
		default:
			o.logf("saga: compensatable failure at step %s, unwinding %d steps: %v",
				step.Name(), completed, err)
			return o.compensate(ctx, steps, sc, completed-1), nil
		}
	}

	return sc, nil
}

func (o *Orchestrator) compensate(ctx context.Context, steps []Step, sc Context, lastIndex int) Context {
	if o.metrics != nil {
		o.metrics.Compensation()
	}
	for i := lastIndex; i >= 0; i-- {
		step := steps[i]
		o.logf("saga: compensating step %s", step.Name())

		next, err := step.Compensate(ctx, sc)
		sc = next
		if err != nil {
			// Best effort: log and keep unwinding earlier steps.
			o.logf("saga: compensation of step %s failed: %v", step.Name(), err)
		}
	}
	return sc
}
