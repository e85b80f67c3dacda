package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	debug      bool
	verbose    bool
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "coinjetd",
	Short: "coinjetd - RCL consensus node",
	Long: `coinjetd runs the round-based RCL (Ripple Consensus Ledger) consensus
algorithm: proposal exchange, position disputes, and validation-quorum
ledger acceptance, independent of any particular transaction-application
or peer-transport implementation.`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable normally suppressed debug logging")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output to console after startup")

	rootCmd.PersistentFlags().Bool("standalone", false, "run as a single-node network with no peers")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// TODO: Initialize configuration using the existing config system
	// This should integrate with internal/config package
}