// Package guard applies the resource quota and limit range every store
// namespace runs under.
package guard

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"

	"github.com/seantiz/storefleet/internal/invoker"
	"github.com/seantiz/storefleet/internal/kube"
	"github.com/seantiz/storefleet/internal/labels"
)

// Object names used for the rendered policies.
const (
	QuotaName      = "store-quota"
	LimitRangeName = "store-limits"
)

// Policy configures the guard objects. A non-empty file path takes precedence
// over the rendered defaults for that object.
type Policy struct {
	QuotaFile      string            `yaml:"quotaFile"`
	LimitRangeFile string            `yaml:"limitRangeFile"`
	Quota          map[string]string `yaml:"quota"`
	Limits         map[string]string `yaml:"limits"`
	Requests       map[string]string `yaml:"requests"`
}

// DefaultPolicy returns the quota a single store is expected to fit in.
func DefaultPolicy() Policy {
	return Policy{
		Quota: map[string]string{
			"requests.cpu":           "2",
			"requests.memory":        "4Gi",
			"limits.cpu":             "4",
			"limits.memory":          "8Gi",
			"pods":                   "20",
			"persistentvolumeclaims": "5",
		},
		Limits: map[string]string{
			"cpu":    "500m",
			"memory": "512Mi",
		},
		Requests: map[string]string{
			"cpu":    "100m",
			"memory": "128Mi",
		},
	}
}

// Applier applies a Policy to namespaces.
type Applier struct {
	inv      invoker.Invoker
	kubectl  kube.Kubectl
	policy   Policy
	hard     corev1.ResourceList
	limits   corev1.ResourceList
	requests corev1.ResourceList
}

// NewApplier validates policy and returns an applier issuing commands through inv.
func NewApplier(inv invoker.Invoker, kubectl kube.Kubectl, policy Policy) (*Applier, error) {
	a := &Applier{inv: inv, kubectl: kubectl, policy: policy}

	var err error
	if policy.QuotaFile == "" {
		if a.hard, err = kube.ResourceList(policy.Quota); err != nil {
			return nil, fmt.Errorf("quota: %w", err)
		}
	}
	if policy.LimitRangeFile == "" {
		if a.limits, err = kube.ResourceList(policy.Limits); err != nil {
			return nil, fmt.Errorf("limit range defaults: %w", err)
		}
		if a.requests, err = kube.ResourceList(policy.Requests); err != nil {
			return nil, fmt.Errorf("limit range requests: %w", err)
		}
	}
	return a, nil
}

// Apply applies the quota, then the limit range, to namespace. The two applies
// are independent operations; the first failure is returned.
func (a *Applier) Apply(ctx context.Context, namespace string) error {
	quota, err := a.quotaCommand(namespace)
	if err != nil {
		return err
	}
	if _, err := a.inv.Run(ctx, quota); err != nil {
		return fmt.Errorf("apply resource quota: %w", err)
	}

	limitRange, err := a.limitRangeCommand(namespace)
	if err != nil {
		return err
	}
	if _, err := a.inv.Run(ctx, limitRange); err != nil {
		return fmt.Errorf("apply limit range: %w", err)
	}
	return nil
}

func (a *Applier) quotaCommand(namespace string) (invoker.Command, error) {
	if a.policy.QuotaFile != "" {
		return a.kubectl.ApplyFiles(namespace, a.policy.QuotaFile), nil
	}
	manifest, err := kube.Marshal(kube.ResourceQuota(namespace, QuotaName, managedLabels(), a.hard))
	if err != nil {
		return invoker.Command{}, fmt.Errorf("render resource quota: %w", err)
	}
	return a.kubectl.ApplyManifest(namespace, manifest), nil
}

func (a *Applier) limitRangeCommand(namespace string) (invoker.Command, error) {
	if a.policy.LimitRangeFile != "" {
		return a.kubectl.ApplyFiles(namespace, a.policy.LimitRangeFile), nil
	}
	manifest, err := kube.Marshal(kube.LimitRange(namespace, LimitRangeName, managedLabels(), a.limits, a.requests))
	if err != nil {
		return invoker.Command{}, fmt.Errorf("render limit range: %w", err)
	}
	return a.kubectl.ApplyManifest(namespace, manifest), nil
}

func managedLabels() map[string]string {
	return map[string]string{labels.KeyManagedBy: labels.ManagedBy}
}
