package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/storefleet/internal/admission"
	"github.com/seantiz/storefleet/internal/api"
	"github.com/seantiz/storefleet/internal/config"
	"github.com/seantiz/storefleet/internal/guard"
	"github.com/seantiz/storefleet/internal/invoker"
	"github.com/seantiz/storefleet/internal/kube"
	"github.com/seantiz/storefleet/internal/orchestrator"
	"github.com/seantiz/storefleet/internal/registry"
	"github.com/seantiz/storefleet/internal/workflow"
)

// drainTimeout bounds how long shutdown waits for in-flight workflows.
// Workflows still running after it are recovered as Failed on next start.
const drainTimeout = 30 * time.Second

// ServeOptions holds flags that override the loaded configuration.
type ServeOptions struct {
	Listen   string
	DBDriver string
	DBDSN    string
	LogLevel string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(rootOpts, &ServeOptions{})
}

func newServeCommand(rootOpts *RootOptions, opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the provisioning API server",
		Long: `Run the HTTP API. Configuration is read from defaults, then the
--config file, then STOREFLEET_* environment variables, then flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd, rootOpts.ConfigPath)
			if err != nil {
				return err
			}

			logger := config.NewLogger(os.Stdout, cfg.Level(), cfg.LogFormat)
			return Serve(cmd.Context(), cfg, invoker.NewExec(cfg.Cluster.CommandTimeout), logger)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides listenAddr)")
	cmd.Flags().StringVar(&opts.DBDriver, "db-driver", "", "registry driver: sqlite or postgres")
	cmd.Flags().StringVar(&opts.DBDSN, "db-dsn", "", "registry DSN: SQLite path or Postgres URL")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	return cmd
}

// load reads the configuration at path, applies the flags and validates the
// result once every source has been merged.
func (o *ServeOptions) load(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	o.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// apply copies every flag the user set onto cfg.
func (o *ServeOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr = o.Listen
	}
	if flags.Changed("db-driver") {
		cfg.DB.Driver = o.DBDriver
	}
	if flags.Changed("db-dsn") {
		cfg.DB.DSN = o.DBDSN
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}
}

// Service is the fully wired application.
type Service struct {
	Registry     registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Server       *api.Server
}

// Build opens the registry and wires every component. inv runs the cluster
// commands; the caller owns closing Registry.
func Build(ctx context.Context, cfg *config.Config, inv invoker.Invoker, logger *slog.Logger) (*Service, error) {
	kubectl := kube.Kubectl{Bin: cfg.Cluster.KubectlBin, Kubeconfig: cfg.Cluster.Kubeconfig}
	helm := kube.Helm{Bin: cfg.Cluster.HelmBin, Kubeconfig: cfg.Cluster.Kubeconfig}

	applier, err := guard.NewApplier(inv, kubectl, cfg.Guard)
	if err != nil {
		return nil, fmt.Errorf("guard policy: %w", err)
	}

	gate, err := admission.New(cfg.Admission)
	if err != nil {
		return nil, fmt.Errorf("admission gate: %w", err)
	}

	reg, err := registry.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	tools := workflow.Tools{
		Invoker:        inv,
		Kubectl:        kubectl,
		Helm:           helm,
		Guard:          applier,
		RolloutTimeout: cfg.Cluster.RolloutTimeout,
	}
	catalog := workflow.NewCatalog(
		workflow.NewWooCommerce(tools, cfg.WooCommerce),
		workflow.NewMedusa(tools, cfg.Medusa),
	)

	orch := orchestrator.New(reg, catalog, tools, logger, orchestrator.Config{
		BaseDomain: cfg.BaseDomain,
		AdminUser:  cfg.AdminUser,
	})

	return &Service{
		Registry:     reg,
		Orchestrator: orch,
		Server:       api.NewServer(cfg.ListenAddr, orch, gate, logger),
	}, nil
}

// Serve builds the service and runs it until ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Config, inv invoker.Invoker, logger *slog.Logger) error {
	logger.Info("storefleet: starting",
		"listen_addr", cfg.ListenAddr,
		"db_driver", cfg.DB.Driver,
		"base_domain", cfg.BaseDomain,
	)

	svc, err := Build(ctx, cfg, inv, logger)
	if err != nil {
		return err
	}
	defer svc.Registry.Close()

	if cfg.RecoverOrphans {
		n, err := svc.Orchestrator.FailOrphaned(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Warn("marked orphaned stores failed", "count", n)
		}
	}

	runErr := svc.Server.Run(ctx)

	drained := make(chan struct{})
	go func() {
		svc.Orchestrator.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		logger.Warn("workflows still running at shutdown", "timeout", drainTimeout)
	}

	return runErr
}
