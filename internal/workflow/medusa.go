package workflow

import (
	"context"
	"strings"

	"github.com/seantiz/storefleet/internal/kube"
	"github.com/seantiz/storefleet/internal/model"
)

// Medusa step names.
const (
	StepCredentials     = "credentials"
	StepRolloutPostgres = "rollout-postgres"
	StepRolloutMedusa   = "rollout-medusa"
	StepIngress         = "ingress"
)

const (
	medusaSecretName  = "medusa-admin"
	medusaIngressName = "medusa-ingress"
	medusaSelector    = "app=medusa"
)

// MedusaConfig configures the Postgres + Medusa workflow.
type MedusaConfig struct {
	PostgresManifest string `yaml:"postgresManifest"`
	MedusaManifest   string `yaml:"medusaManifest"`
	IngressClass     string `yaml:"ingressClass"`
	ServiceName      string `yaml:"serviceName"`
	ServicePort      int32  `yaml:"servicePort"`
}

// DefaultMedusaConfig returns the configuration of the reference deployment.
func DefaultMedusaConfig() MedusaConfig {
	return MedusaConfig{
		PostgresManifest: "medusa-chart/postgres.yaml",
		MedusaManifest:   "medusa-chart/medusa.yaml",
		IngressClass:     "traefik",
		ServiceName:      "medusa",
		ServicePort:      80,
	}
}

var _ Workflow = (*Medusa)(nil)

// Medusa deploys Postgres and the Medusa backend from static manifests and
// exposes the backend once it is ready.
type Medusa struct {
	tools Tools
	cfg   MedusaConfig
}

// NewMedusa creates the medusa workflow.
func NewMedusa(tools Tools, cfg MedusaConfig) *Medusa {
	return &Medusa{tools: tools, cfg: cfg}
}

// Engine implements Workflow.
func (m *Medusa) Engine() string {
	return model.EngineMedusa
}

// Steps implements Workflow.
func (m *Medusa) Steps() []Step {
	return []Step{
		namespaceStep(m.tools),
		guardStep(m.tools),
		{Name: StepCredentials, Policy: Fatal, Run: m.credentials},
		{Name: StepInstall, Policy: Fatal, Run: m.install},
		rolloutStep(m.tools, StepRolloutPostgres, func(Target) string { return "deployment/postgres" }),
		rolloutStep(m.tools, StepRolloutMedusa, func(Target) string { return "deployment/medusa" }),
		podsReadyStep(m.tools, medusaSelector),
		{Name: StepIngress, Policy: Fatal, Run: m.ingress},
	}
}

// Uninstall implements Workflow.
func (m *Medusa) Uninstall() Step {
	return Step{
		Name:   StepUninstall,
		Policy: BestEffort,
		Run: func(ctx context.Context, run *Run) error {
			return m.tools.run(ctx, m.tools.Kubectl.DeleteFiles(run.Target.Namespace, m.manifests()...))
		},
	}
}

func (m *Medusa) manifests() []string {
	return []string{m.cfg.PostgresManifest, m.cfg.MedusaManifest}
}

func (m *Medusa) credentials(ctx context.Context, run *Run) error {
	t := run.Target
	manifest, err := kube.Marshal(kube.Secret(t.Namespace, medusaSecretName, storeLabels(t), map[string]string{
		"MEDUSA_ADMIN_EMAIL":    adminEmail(t),
		"MEDUSA_ADMIN_PASSWORD": t.AdminPassword,
	}))
	if err != nil {
		return err
	}
	return m.tools.run(ctx, m.tools.Kubectl.ApplyManifest(t.Namespace, manifest))
}

// adminEmail returns the Medusa admin login. Medusa identifies users by
// email, so a bare user name is qualified with the store's host.
func adminEmail(t Target) string {
	if strings.Contains(t.AdminUser, "@") {
		return t.AdminUser
	}
	return t.AdminUser + "@" + t.Host
}

func (m *Medusa) install(ctx context.Context, run *Run) error {
	return m.tools.run(ctx, m.tools.Kubectl.ApplyFiles(run.Target.Namespace, m.manifests()...))
}

func (m *Medusa) ingress(ctx context.Context, run *Run) error {
	t := run.Target
	manifest, err := kube.Marshal(kube.Ingress(kube.IngressSpec{
		Name:        medusaIngressName,
		Namespace:   t.Namespace,
		ClassName:   m.cfg.IngressClass,
		Host:        t.Host,
		ServiceName: m.cfg.ServiceName,
		ServicePort: m.cfg.ServicePort,
		Labels:      storeLabels(t),
	}))
	if err != nil {
		return err
	}
	return m.tools.run(ctx, m.tools.Kubectl.ApplyManifest(t.Namespace, manifest))
}
