package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/seantiz/storefleet/internal/kube"
	"github.com/seantiz/storefleet/internal/labels"
)

// Step names shared across engines.
const (
	StepNamespace   = "namespace"
	StepGuardPolicy = "guard-policy"
	StepInstall     = "install"
	StepPodsReady   = "pods-ready"
	StepSettle      = "settle"
	StepUninstall   = "uninstall"
)

func storeLabels(t Target) map[string]string {
	return labels.For(t.Name).WithEngine(t.Engine).Build()
}

// namespaceStep creates or updates the labelled store namespace.
func namespaceStep(tools Tools) Step {
	return Step{
		Name:   StepNamespace,
		Policy: Fatal,
		Run: func(ctx context.Context, run *Run) error {
			manifest, err := kube.Marshal(kube.Namespace(run.Target.Namespace, storeLabels(run.Target)))
			if err != nil {
				return err
			}
			return tools.run(ctx, tools.Kubectl.ApplyManifest("", manifest))
		},
	}
}

func guardStep(tools Tools) Step {
	return Step{
		Name:   StepGuardPolicy,
		Policy: Fatal,
		Run: func(ctx context.Context, run *Run) error {
			return tools.Guard.Apply(ctx, run.Target.Namespace)
		},
	}
}

// rolloutStep waits for the resource returned by resource to finish rolling out.
func rolloutStep(tools Tools, name string, resource func(Target) string) Step {
	return Step{
		Name:   name,
		Policy: Fatal,
		Run: func(ctx context.Context, run *Run) error {
			return tools.run(ctx, tools.Kubectl.RolloutStatus(run.Target.Namespace, resource(run.Target), tools.rolloutTimeout()))
		},
	}
}

func podsReadyStep(tools Tools, selector string) Step {
	return Step{
		Name:   StepPodsReady,
		Policy: Fatal,
		Run: func(ctx context.Context, run *Run) error {
			return tools.run(ctx, tools.Kubectl.WaitPodsReady(run.Target.Namespace, selector, tools.rolloutTimeout()))
		},
	}
}

// settleStep gives the workload's internal services time to finish starting
// after its pods report ready.
func settleStep(tools Tools, d time.Duration) Step {
	return Step{
		Name:   StepSettle,
		Policy: Fatal,
		Run: func(ctx context.Context, _ *Run) error {
			if err := tools.sleep(ctx, d); err != nil {
				return fmt.Errorf("settle for %s: %w", d, err)
			}
			return nil
		},
	}
}
