// Package config loads service configuration from defaults, an optional YAML
// file and STOREFLEET_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/seantiz/storefleet/internal/admission"
	"github.com/seantiz/storefleet/internal/guard"
	"github.com/seantiz/storefleet/internal/registry"
	"github.com/seantiz/storefleet/internal/workflow"
)

const (
	defaultListenAddr = ":3001"
	defaultDBDSN      = "storefleet.db"
	defaultBaseDomain = "localhost"
	defaultLogLevel   = "info"
)

// Log formats accepted by NewLogger.
const (
	LogFormatAuto = "auto"
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// DBConfig selects the registry backend.
type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ClusterConfig locates the cluster tooling.
type ClusterConfig struct {
	Kubeconfig string `yaml:"kubeconfig"`
	KubectlBin string `yaml:"kubectlBin"`
	HelmBin    string `yaml:"helmBin"`

	// CommandTimeout bounds every external command. Zero means no bound.
	CommandTimeout time.Duration `yaml:"commandTimeout"`
	RolloutTimeout time.Duration `yaml:"rolloutTimeout"`
}

// Config holds application configuration.
type Config struct {
	ListenAddr     string `yaml:"listenAddr"`
	LogLevel       string `yaml:"logLevel"`
	LogFormat      string `yaml:"logFormat"`
	BaseDomain     string `yaml:"baseDomain"`
	AdminUser      string `yaml:"adminUser"`
	RecoverOrphans bool   `yaml:"recoverOrphans"`

	DB          DBConfig                   `yaml:"db"`
	Cluster     ClusterConfig              `yaml:"cluster"`
	Admission   admission.Config           `yaml:"admission"`
	Guard       guard.Policy               `yaml:"guard"`
	WooCommerce workflow.WooCommerceConfig `yaml:"woocommerce"`
	Medusa      workflow.MedusaConfig      `yaml:"medusa"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ListenAddr:     defaultListenAddr,
		LogLevel:       defaultLogLevel,
		LogFormat:      LogFormatAuto,
		BaseDomain:     defaultBaseDomain,
		RecoverOrphans: true,
		DB: DBConfig{
			Driver: registry.DriverSQLite,
			DSN:    defaultDBDSN,
		},
		Cluster: ClusterConfig{
			RolloutTimeout: workflow.DefaultRolloutTimeout,
		},
		Admission: admission.Config{
			Limit:      admission.DefaultLimit,
			Window:     admission.DefaultWindow,
			MaxClients: admission.DefaultMaxClients,
		},
		Guard:       guard.DefaultPolicy(),
		WooCommerce: workflow.DefaultWooCommerceConfig(),
		Medusa:      workflow.DefaultMedusaConfig(),
	}
}

// Load builds the configuration: defaults, then the YAML file at path if
// path is non-empty, then environment variables. The result is not
// validated; callers apply their own overrides first and then call Validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) mergeFile(path string) error {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listenAddr is required"))
	}
	switch c.DB.Driver {
	case registry.DriverSQLite, registry.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("db.driver %q is not one of %s, %s", c.DB.Driver, registry.DriverSQLite, registry.DriverPostgres))
	}
	if c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn is required"))
	}
	switch c.LogFormat {
	case LogFormatAuto, LogFormatJSON, LogFormatText:
	default:
		errs = append(errs, fmt.Errorf("logFormat %q is not one of auto, json, text", c.LogFormat))
	}
	if c.BaseDomain == "" {
		errs = append(errs, errors.New("baseDomain is required"))
	}
	if c.Cluster.CommandTimeout < 0 {
		errs = append(errs, errors.New("cluster.commandTimeout must not be negative"))
	}
	if c.Cluster.RolloutTimeout <= 0 {
		errs = append(errs, errors.New("cluster.rolloutTimeout must be positive"))
	}
	if c.Admission.Limit <= 0 {
		errs = append(errs, errors.New("admission.limit must be positive"))
	}
	if c.Admission.Window <= 0 {
		errs = append(errs, errors.New("admission.window must be positive"))
	}
	if c.WooCommerce.ChartPath == "" {
		errs = append(errs, errors.New("woocommerce.chartPath is required"))
	}
	if c.WooCommerce.SettleDelay < 0 {
		errs = append(errs, errors.New("woocommerce.settleDelay must not be negative"))
	}
	if c.Medusa.PostgresManifest == "" || c.Medusa.MedusaManifest == "" {
		errs = append(errs, errors.New("medusa.postgresManifest and medusa.medusaManifest are required"))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level.
func (c *Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured logger writing to w at level. The auto
// format writes text to a terminal and JSON otherwise.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == LogFormatText || (format == LogFormatAuto && isTerminal(w)) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
