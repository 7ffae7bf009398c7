package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables. Each overrides the matching file setting.
const (
	envListenAddr       = "STOREFLEET_LISTEN_ADDR"
	envLogLevel         = "STOREFLEET_LOG_LEVEL"
	envLogFormat        = "STOREFLEET_LOG_FORMAT"
	envBaseDomain       = "STOREFLEET_BASE_DOMAIN"
	envAdminUser        = "STOREFLEET_ADMIN_USER"
	envRecoverOrphans   = "STOREFLEET_RECOVER_ORPHANS"
	envDBDriver         = "STOREFLEET_DB_DRIVER"
	envDBDSN            = "STOREFLEET_DB_DSN"
	envKubeconfig       = "STOREFLEET_KUBECONFIG"
	envKubectlBin       = "STOREFLEET_KUBECTL"
	envHelmBin          = "STOREFLEET_HELM"
	envCommandTimeout   = "STOREFLEET_COMMAND_TIMEOUT"
	envRolloutTimeout   = "STOREFLEET_ROLLOUT_TIMEOUT"
	envRateLimit        = "STOREFLEET_RATE_LIMIT"
	envRateWindow       = "STOREFLEET_RATE_WINDOW"
	envQuotaFile        = "STOREFLEET_GUARD_QUOTA_FILE"
	envLimitRangeFile   = "STOREFLEET_GUARD_LIMITRANGE_FILE"
	envWooChart         = "STOREFLEET_WOOCOMMERCE_CHART"
	envWooValues        = "STOREFLEET_WOOCOMMERCE_VALUES"
	envWooSettle        = "STOREFLEET_WOOCOMMERCE_SETTLE_DELAY"
	envMedusaPostgres   = "STOREFLEET_MEDUSA_POSTGRES_MANIFEST"
	envMedusaManifest   = "STOREFLEET_MEDUSA_MANIFEST"
	envMedusaIngressCls = "STOREFLEET_MEDUSA_INGRESS_CLASS"
)

func (c *Config) applyEnv() {
	setString(envListenAddr, &c.ListenAddr)
	setString(envLogLevel, &c.LogLevel)
	setString(envLogFormat, &c.LogFormat)
	setString(envBaseDomain, &c.BaseDomain)
	setString(envAdminUser, &c.AdminUser)
	c.RecoverOrphans = parseBool(envRecoverOrphans, c.RecoverOrphans)

	setString(envDBDriver, &c.DB.Driver)
	setString(envDBDSN, &c.DB.DSN)

	setString(envKubeconfig, &c.Cluster.Kubeconfig)
	setString(envKubectlBin, &c.Cluster.KubectlBin)
	setString(envHelmBin, &c.Cluster.HelmBin)
	c.Cluster.CommandTimeout = parseDuration(envCommandTimeout, c.Cluster.CommandTimeout)
	c.Cluster.RolloutTimeout = parseDuration(envRolloutTimeout, c.Cluster.RolloutTimeout)

	c.Admission.Limit = parseInt(envRateLimit, c.Admission.Limit)
	c.Admission.Window = parseDuration(envRateWindow, c.Admission.Window)

	setString(envQuotaFile, &c.Guard.QuotaFile)
	setString(envLimitRangeFile, &c.Guard.LimitRangeFile)

	setString(envWooChart, &c.WooCommerce.ChartPath)
	if v := os.Getenv(envWooValues); v != "" {
		c.WooCommerce.ValuesFiles = splitList(v)
	}
	c.WooCommerce.SettleDelay = parseDuration(envWooSettle, c.WooCommerce.SettleDelay)

	setString(envMedusaPostgres, &c.Medusa.PostgresManifest)
	setString(envMedusaManifest, &c.Medusa.MedusaManifest)
	setString(envMedusaIngressCls, &c.Medusa.IngressClass)
}

func setString(envVar string, dst *string) {
	if v := os.Getenv(envVar); v != "" {
		*dst = v
	}
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}

	return d
}

func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return i
}

func parseBool(envVar string, defaultVal bool) bool {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}

	return b
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
