// Package commands implements vaultd's CLI commands.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "vaultd",
	Short: "vaultd - encrypted file vault server",
	Long: `vaultd accepts client connections over a length-prefixed binary
protocol, exchanges an RSA/AES session key, and stores CRC-verified
encrypted file uploads on disk.

Use "vaultd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; flags and VAULTD_* env vars work without one)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
