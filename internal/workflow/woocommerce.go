package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/seantiz/storefleet/internal/kube"
	"github.com/seantiz/storefleet/internal/labels"
	"github.com/seantiz/storefleet/internal/model"
)

// WooCommerce step names.
const (
	StepRolloutMariaDB    = "rollout-mariadb"
	StepRolloutWordPress  = "rollout-wordpress"
	StepWooCommercePlugin = "woocommerce-plugin"
	StepDemoProduct       = "demo-product"
	StepDemoProductPrice  = "demo-product-price"
	StepCashOnDelivery    = "cash-on-delivery"
)

const (
	// DefaultSettleDelay is observed once between pod readiness and the
	// post-deploy configuration steps.
	DefaultSettleDelay = 30 * time.Second

	wordpressSelector = "app.kubernetes.io/name=wordpress"
	demoProductTitle  = "Demo Product"
	demoProductPrice  = "49.99"
	codSettings       = `{"enabled":"yes","title":"Cash on Delivery","description":"Pay with cash upon delivery."}`

	outputProductID = "demoProductID"
)

// ErrNoDemoProduct is returned by steps that need the demo product when it
// was not created.
var ErrNoDemoProduct = errors.New("demo product was not created")

// WooCommerceConfig configures the WordPress + WooCommerce workflow.
type WooCommerceConfig struct {
	ChartPath   string        `yaml:"chartPath"`
	ValuesFiles []string      `yaml:"valuesFiles"`
	SettleDelay time.Duration `yaml:"settleDelay"`
}

// DefaultWooCommerceConfig returns the configuration of the reference deployment.
func DefaultWooCommerceConfig() WooCommerceConfig {
	return WooCommerceConfig{
		ChartPath:   "./wordpress",
		ValuesFiles: []string{"helm-values/values-local.yaml"},
		SettleDelay: DefaultSettleDelay,
	}
}

// Compile-time interface satisfaction check.
var _ Workflow = (*WooCommerce)(nil)

// WooCommerce installs WordPress from a Helm chart, then turns it into a
// shop: WooCommerce plugin, one priced demo product, cash on delivery.
type WooCommerce struct {
	tools Tools
	cfg   WooCommerceConfig
}

// NewWooCommerce creates the woocommerce workflow.
func NewWooCommerce(tools Tools, cfg WooCommerceConfig) *WooCommerce {
	return &WooCommerce{tools: tools, cfg: cfg}
}

// Engine implements Workflow.
func (w *WooCommerce) Engine() string {
	return model.EngineWooCommerce
}

// Steps implements Workflow.
func (w *WooCommerce) Steps() []Step {
	return []Step{
		namespaceStep(w.tools),
		guardStep(w.tools),
		{Name: StepInstall, Policy: Fatal, Run: w.install},
		rolloutStep(w.tools, StepRolloutMariaDB, func(t Target) string { return "statefulset/" + t.Name + "-mariadb" }),
		rolloutStep(w.tools, StepRolloutWordPress, func(t Target) string { return "deployment/" + t.Name + "-wordpress" }),
		podsReadyStep(w.tools, wordpressSelector),
		settleStep(w.tools, w.cfg.SettleDelay),
		{Name: StepWooCommercePlugin, Policy: BestEffort, Run: w.installPlugin},
		{Name: StepDemoProduct, Policy: BestEffort, Run: w.createDemoProduct},
		{Name: StepDemoProductPrice, Policy: BestEffort, Run: w.priceDemoProduct},
		{Name: StepCashOnDelivery, Policy: BestEffort, Run: w.enableCashOnDelivery},
	}
}

// Uninstall implements Workflow.
func (w *WooCommerce) Uninstall() Step {
	return Step{
		Name:   StepUninstall,
		Policy: BestEffort,
		Run: func(ctx context.Context, run *Run) error {
			return w.tools.run(ctx, w.tools.Helm.Uninstall(run.Target.Name, run.Target.Namespace))
		},
	}
}

func (w *WooCommerce) install(ctx context.Context, run *Run) error {
	t := run.Target
	return w.tools.run(ctx, w.tools.Helm.Install(t.Name, w.cfg.ChartPath, t.Namespace, w.cfg.ValuesFiles, map[string]string{
		"ingress.hostname":  t.Host,
		"wordpressUsername": t.AdminUser,
		"wordpressPassword": t.AdminPassword,
		"wordpressBlogName": t.Name,
		"commonLabels." + kube.EscapeSetKey(labels.KeyStore): t.Name,
	}))
}

// wp runs a WP-CLI command inside the store's WordPress deployment.
func (w *WooCommerce) wp(ctx context.Context, t Target, args ...string) (string, error) {
	args = append(append([]string{"wp"}, args...), "--allow-root")
	return w.tools.Invoker.Run(ctx, w.tools.Kubectl.Exec(t.Namespace, "deploy/"+t.Name+"-wordpress", args...))
}

func (w *WooCommerce) installPlugin(ctx context.Context, run *Run) error {
	_, err := w.wp(ctx, run.Target, "plugin", "install", "woocommerce", "--activate")
	return err
}

func (w *WooCommerce) createDemoProduct(ctx context.Context, run *Run) error {
	out, err := w.wp(ctx, run.Target, "post", "create",
		"--post_type=product",
		"--post_title="+demoProductTitle,
		"--post_status=publish",
		"--porcelain",
	)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(out)
	if id == "" {
		return ErrNoDemoProduct
	}
	run.Set(outputProductID, id)
	return nil
}

func (w *WooCommerce) priceDemoProduct(ctx context.Context, run *Run) error {
	id, ok := run.Get(outputProductID)
	if !ok {
		return ErrNoDemoProduct
	}
	for _, meta := range [][2]string{
		{"_regular_price", demoProductPrice},
		{"_price", demoProductPrice},
		{"_stock_status", "instock"},
	} {
		if _, err := w.wp(ctx, run.Target, "post", "meta", "update", id, meta[0], meta[1]); err != nil {
			return err
		}
	}
	return nil
}

func (w *WooCommerce) enableCashOnDelivery(ctx context.Context, run *Run) error {
	_, err := w.wp(ctx, run.Target, "option", "update", "woocommerce_cod_settings", codSettings, "--format=json")
	return err
}
