package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"

	"github.com/seantiz/storefleet/internal/invoker/invokertest"
	"github.com/seantiz/storefleet/internal/kube"
)

func TestApplyRendersQuotaThenLimitRange(t *testing.T) {
	fake := invokertest.New()
	a, err := NewApplier(fake, kube.Kubectl{}, DefaultPolicy())
	require.NoError(t, err)

	require.NoError(t, a.Apply(context.Background(), "ns-store-a"))

	cmds := fake.Commands()
	require.Len(t, cmds, 2)
	for _, c := range cmds {
		assert.Equal(t, []string{"apply", "-n", "ns-store-a", "-f", "-"}, c.Args)
	}

	var quota corev1.ResourceQuota
	require.NoError(t, yaml.Unmarshal(cmds[0].Stdin, &quota))
	assert.Equal(t, QuotaName, quota.Name)
	assert.Equal(t, "ns-store-a", quota.Namespace)
	pods := quota.Spec.Hard[corev1.ResourcePods]
	assert.Equal(t, int64(20), pods.Value())

	var lr corev1.LimitRange
	require.NoError(t, yaml.Unmarshal(cmds[1].Stdin, &lr))
	assert.Equal(t, LimitRangeName, lr.Name)
	require.Len(t, lr.Spec.Limits, 1)
	assert.Equal(t, corev1.LimitTypeContainer, lr.Spec.Limits[0].Type)
	mem := lr.Spec.Limits[0].Default[corev1.ResourceMemory]
	assert.Equal(t, "512Mi", mem.String())
}

func TestApplyUsesConfiguredFiles(t *testing.T) {
	fake := invokertest.New()
	a, err := NewApplier(fake, kube.Kubectl{}, Policy{
		QuotaFile:      "k8s-templates/resource-quota.yaml",
		LimitRangeFile: "k8s-templates/limit-range.yaml",
	})
	require.NoError(t, err)

	require.NoError(t, a.Apply(context.Background(), "ns-store-a"))
	assert.Equal(t, []string{
		"kubectl apply -n ns-store-a -f k8s-templates/resource-quota.yaml",
		"kubectl apply -n ns-store-a -f k8s-templates/limit-range.yaml",
	}, fake.Rendered())
}

func TestApplyQuotaFailureStopsBeforeLimitRange(t *testing.T) {
	fake := invokertest.New().Fail("resource-quota.yaml", "forbidden")
	a, err := NewApplier(fake, kube.Kubectl{}, Policy{
		QuotaFile:      "resource-quota.yaml",
		LimitRangeFile: "limit-range.yaml",
	})
	require.NoError(t, err)

	err = a.Apply(context.Background(), "ns-store-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply resource quota")
	assert.Equal(t, 0, fake.Count("limit-range.yaml"))
}

func TestApplyLimitRangeFailure(t *testing.T) {
	fake := invokertest.New().Fail("limit-range.yaml", "boom")
	a, err := NewApplier(fake, kube.Kubectl{}, Policy{QuotaFile: "q.yaml", LimitRangeFile: "limit-range.yaml"})
	require.NoError(t, err)

	err = a.Apply(context.Background(), "ns-store-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply limit range")
}

func TestNewApplierRejectsInvalidQuantities(t *testing.T) {
	p := DefaultPolicy()
	p.Quota["limits.cpu"] = "lots"
	_, err := NewApplier(invokertest.New(), kube.Kubectl{}, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}
