package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/seantiz/storefleet/internal/invoker"
	"github.com/seantiz/storefleet/internal/kube"
)

// DefaultRolloutTimeout bounds every rollout and pod readiness wait.
const DefaultRolloutTimeout = 600 * time.Second

// Policy decides what a step failure means for the workflow.
type Policy int

const (
	// Fatal failures stop the workflow and fail the store.
	Fatal Policy = iota
	// BestEffort failures are reported and the workflow continues.
	BestEffort
)

func (p Policy) String() string {
	if p == BestEffort {
		return "best-effort"
	}
	return "fatal"
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Target identifies the store a workflow provisions.
type Target struct {
	Name          string
	Namespace     string
	Engine        string
	Host          string
	AdminUser     string
	AdminPassword string
}

// Run is the state of one workflow execution. Steps use it to hand values to
// later steps; it is only touched by the goroutine executing the workflow.
type Run struct {
	Target  Target
	outputs map[string]string
}

// NewRun creates a run for target.
func NewRun(target Target) *Run {
	return &Run{Target: target, outputs: make(map[string]string)}
}

// Set records an output value for later steps.
func (r *Run) Set(key, value string) {
	r.outputs[key] = value
}

// Get returns an output recorded by an earlier step.
func (r *Run) Get(key string) (string, bool) {
	v, ok := r.outputs[key]
	return v, ok
}

// Step is one provisioning operation.
type Step struct {
	Name   string
	Policy Policy
	Run    func(ctx context.Context, run *Run) error
}

// Workflow is the ordered provisioning recipe for one engine.
type Workflow interface {
	// Engine returns the engine tag the workflow is registered under.
	Engine() string

	// Steps returns the provisioning steps in execution order.
	Steps() []Step

	// Uninstall returns the step that removes the engine's workload from a
	// store namespace. The namespace itself is deleted separately.
	Uninstall() Step
}

// Tools are the collaborators shared by every workflow variant.
type Tools struct {
	Invoker        invoker.Invoker
	Kubectl        kube.Kubectl
	Helm           kube.Helm
	Guard          GuardApplier
	RolloutTimeout time.Duration

	// Sleep waits for d or until ctx ends. Nil means SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

// GuardApplier applies the namespace guard policy.
type GuardApplier interface {
	Apply(ctx context.Context, namespace string) error
}

func (t Tools) rolloutTimeout() time.Duration {
	if t.RolloutTimeout > 0 {
		return t.RolloutTimeout
	}
	return DefaultRolloutTimeout
}

func (t Tools) sleep(ctx context.Context, d time.Duration) error {
	if t.Sleep != nil {
		return t.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// run executes cmd and discards its output.
func (t Tools) run(ctx context.Context, cmd invoker.Command) error {
	_, err := t.Invoker.Run(ctx, cmd)
	return err
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StepError is returned by Execute when a Fatal step fails.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// StepResult reports the outcome of one executed step.
type StepResult struct {
	Step     string
	Policy   Policy
	Index    int
	Total    int
	Duration time.Duration
	Err      error
}

// Hooks receive step progress. Either field may be nil.
type Hooks struct {
	OnStart  func(step Step, index, total int)
	OnFinish func(result StepResult)
}

// Execute runs steps strictly in order. A failing Fatal step stops execution
// and is returned as a *StepError; steps after it never start. A failing
// BestEffort step is reported through hooks and execution continues.
func Execute(ctx context.Context, run *Run, steps []Step, hooks Hooks) error {
	total := len(steps)
	for i, step := range steps {
		if hooks.OnStart != nil {
			hooks.OnStart(step, i, total)
		}

		start := time.Now()
		err := step.Run(ctx, run)
		if hooks.OnFinish != nil {
			hooks.OnFinish(StepResult{
				Step:     step.Name,
				Policy:   step.Policy,
				Index:    i,
				Total:    total,
				Duration: time.Since(start),
				Err:      err,
			})
		}

		if err != nil && step.Policy == Fatal {
			return &StepError{Step: step.Name, Err: err}
		}
	}
	return nil
}
