package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/storefleet/internal/invoker/invokertest"
	"github.com/seantiz/storefleet/internal/model"
	"github.com/seantiz/storefleet/internal/workflow"
)

func newWooCommerce(fake *invokertest.Fake) (*workflow.WooCommerce, *stubGuard, *recordSleep) {
	tools, g, s := newTools(fake)
	return workflow.NewWooCommerce(tools, workflow.DefaultWooCommerceConfig()), g, s
}

func stepNames(steps []workflow.Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

func TestWooCommerceStepOrder(t *testing.T) {
	w, _, _ := newWooCommerce(invokertest.New())

	assert.Equal(t, model.EngineWooCommerce, w.Engine())
	assert.Equal(t, []string{
		"namespace", "guard-policy", "install", "rollout-mariadb", "rollout-wordpress",
		"pods-ready", "settle", "woocommerce-plugin", "demo-product", "demo-product-price",
		"cash-on-delivery",
	}, stepNames(w.Steps()))

	for _, s := range w.Steps()[:7] {
		assert.Equal(t, workflow.Fatal, s.Policy, s.Name)
	}
	for _, s := range w.Steps()[7:] {
		assert.Equal(t, workflow.BestEffort, s.Policy, s.Name)
	}
}

func TestWooCommerceHappyPath(t *testing.T) {
	fake := invokertest.New().Respond("--porcelain", "123\n")
	w, g, s := newWooCommerce(fake)

	err := workflow.Execute(context.Background(), workflow.NewRun(testTarget(model.EngineWooCommerce)), w.Steps(), workflow.Hooks{})
	require.NoError(t, err)

	assert.Equal(t, []string{"ns-store-abc"}, g.namespaces)
	assert.Equal(t, []time.Duration{workflow.DefaultSettleDelay}, s.slept)

	rendered := fake.Rendered()
	require.Len(t, rendered, 11)
	assert.Equal(t, "kubectl apply -f -", rendered[0])
	assert.Contains(t, string(fake.Commands()[0].Stdin), "name: ns-store-abc")
	assert.Equal(t, "helm install store-abc ./wordpress --namespace ns-store-abc -f helm-values/values-local.yaml"+
		` --set commonLabels.storefleet\.io/store=store-abc`+
		" --set ingress.hostname=store-abc.localhost"+
		" --set wordpressBlogName=store-abc"+
		" --set wordpressPassword=s3cretPassw0"+
		" --set wordpressUsername=admin", rendered[1])
	assert.Equal(t, "kubectl rollout status statefulset/store-abc-mariadb -n ns-store-abc --timeout=600s", rendered[2])
	assert.Equal(t, "kubectl rollout status deployment/store-abc-wordpress -n ns-store-abc --timeout=600s", rendered[3])
	assert.Equal(t, "kubectl wait --for=condition=ready pod -l app.kubernetes.io/name=wordpress -n ns-store-abc --timeout=600s", rendered[4])
	assert.Equal(t, "kubectl exec -n ns-store-abc deploy/store-abc-wordpress -- wp plugin install woocommerce --activate --allow-root", rendered[5])
	assert.Contains(t, rendered[6], "wp post create --post_type=product --post_title=Demo Product --post_status=publish --porcelain")
	assert.Contains(t, rendered[7], "wp post meta update 123 _regular_price 49.99")
	assert.Contains(t, rendered[8], "wp post meta update 123 _price 49.99")
	assert.Contains(t, rendered[9], "wp post meta update 123 _stock_status instock")
	assert.Contains(t, rendered[10], "wp option update woocommerce_cod_settings")
	assert.Contains(t, rendered[10], `"enabled":"yes"`)
	assert.Contains(t, rendered[10], "--format=json")
}

func TestWooCommerceHelmFailureIsFatal(t *testing.T) {
	fake := invokertest.New().Fail("helm install", "chart not found")
	w, _, s := newWooCommerce(fake)

	err := workflow.Execute(context.Background(), workflow.NewRun(testTarget(model.EngineWooCommerce)), w.Steps(), workflow.Hooks{})

	var stepErr *workflow.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, workflow.StepInstall, stepErr.Step)
	assert.Contains(t, err.Error(), "chart not found")
	assert.Zero(t, fake.Count("rollout status"))
	assert.Empty(t, s.slept)
}

func TestWooCommerceGuardFailureIsFatal(t *testing.T) {
	fake := invokertest.New()
	w, g, _ := newWooCommerce(fake)
	g.err = assert.AnError

	err := workflow.Execute(context.Background(), workflow.NewRun(testTarget(model.EngineWooCommerce)), w.Steps(), workflow.Hooks{})

	var stepErr *workflow.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, workflow.StepGuardPolicy, stepErr.Step)
	assert.Zero(t, fake.Count("helm"))
}

func TestWooCommercePluginFailureIsTolerated(t *testing.T) {
	fake := invokertest.New().
		Fail("wp plugin install", "network unreachable").
		Fail("wp post create", "woocommerce not active")
	w, _, _ := newWooCommerce(fake)

	var failed []string
	err := workflow.Execute(context.Background(), workflow.NewRun(testTarget(model.EngineWooCommerce)), w.Steps(), workflow.Hooks{
		OnFinish: func(r workflow.StepResult) {
			if r.Err != nil {
				failed = append(failed, r.Step)
			}
		},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"woocommerce-plugin", "demo-product", "demo-product-price"}, failed)
	assert.Zero(t, fake.Count("post meta update"))
	assert.Equal(t, 1, fake.Count("wp option update"))
}

func TestWooCommerceEmptyProductIDSkipsPricing(t *testing.T) {
	fake := invokertest.New().Respond("--porcelain", "  \n")
	w, _, _ := newWooCommerce(fake)

	errs := map[string]error{}
	err := workflow.Execute(context.Background(), workflow.NewRun(testTarget(model.EngineWooCommerce)), w.Steps(), workflow.Hooks{
		OnFinish: func(r workflow.StepResult) { errs[r.Step] = r.Err },
	})

	require.NoError(t, err)
	assert.ErrorIs(t, errs[workflow.StepDemoProduct], workflow.ErrNoDemoProduct)
	assert.ErrorIs(t, errs[workflow.StepDemoProductPrice], workflow.ErrNoDemoProduct)
}

func TestWooCommerceSettleHonorsCancellation(t *testing.T) {
	fake := invokertest.New()
	w, _, _ := newWooCommerce(fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := workflow.Execute(ctx, workflow.NewRun(testTarget(model.EngineWooCommerce)), w.Steps(), workflow.Hooks{})

	var stepErr *workflow.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, workflow.StepSettle, stepErr.Step)
	assert.Zero(t, fake.Count("wp "))
}

func TestWooCommerceRolloutTimeoutOverride(t *testing.T) {
	fake := invokertest.New()
	tools, _, _ := newTools(fake)
	tools.RolloutTimeout = 90 * time.Second
	w := workflow.NewWooCommerce(tools, workflow.DefaultWooCommerceConfig())

	require.NoError(t, workflow.Execute(context.Background(), workflow.NewRun(testTarget(model.EngineWooCommerce)), w.Steps(), workflow.Hooks{}))
	assert.Equal(t, 3, fake.Count("--timeout=90s"))
}

func TestWooCommerceUninstall(t *testing.T) {
	fake := invokertest.New()
	w, _, _ := newWooCommerce(fake)

	u := w.Uninstall()
	require.NoError(t, u.Run(context.Background(), workflow.NewRun(testTarget(model.EngineWooCommerce))))
	assert.Equal(t, []string{"helm uninstall store-abc -n ns-store-abc"}, fake.Rendered())
}
