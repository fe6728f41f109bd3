package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Environment defaults for the persistent flags.
const (
	envServer = "LORARELAY_SERVER"
	envToken  = "LORARELAY_TOKEN"

	defaultServer = "http://localhost:8080"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	server string
	token  string
}

func (o *options) client() *client {
	return newClient(o.server, o.token)
}

// NewRootCmd builds the lorarelayctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "lorarelayctl",
		Short:         "Command Line Interface for the LoRa relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr(envServer, defaultServer), "relay management API base URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv(envToken), "bearer token for the management API")

	rootCmd.AddCommand(
		newEndDevicesCmd(opts),
		newBundleCmd(opts),
		newDownlinkCmd(opts),
		newQueuesCmd(opts),
		newGatewaysCmd(opts),
		newTokenCmd(),
	)
	return rootCmd
}

// Execute executes the root CLI command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
