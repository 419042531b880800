package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var (
	configPath = "./config/wallet.yaml"
	rootCmd    = &cobra.Command{
		Use:   "walletd",
		Short: "Smart account signing pipeline CLI",
		Long: `CLI to run and inspect the transaction estimation and signing pipeline.

Such as "walletd estimate" to price a transfer on a configured network
or "walletd version" to print the build version.
`,
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/wallet.yaml", "Path to config file")
}
