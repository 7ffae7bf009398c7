// Package cli defines the storefleet command line.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command. version is reported by the
// version subcommand.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "storefleet",
		Short: "storefleet - e-commerce store provisioning",
		Long: `storefleet provisions isolated WooCommerce and Medusa stores on a
Kubernetes cluster, one namespace per store, and tracks each store's
lifecycle from Provisioning to Ready or Failed.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewVersionCommand(version))

	return cmd
}
