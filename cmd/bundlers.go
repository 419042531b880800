package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/wallet-core/core/config"
	"github.com/AvaProtocol/wallet-core/metrics"
	"github.com/AvaProtocol/wallet-core/pkg/erc4337/bundler"
	"github.com/AvaProtocol/wallet-core/pkg/logger"
)

var bundlersChainID int64

// bundlersCmd probes every configured bundler endpoint for a network and
// prints its gas price table, so a dead or misconfigured endpoint shows up
// before it costs a user an estimation round.
var bundlersCmd = &cobra.Command{
	Use:   "bundlers",
	Short: "check the configured bundler endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		lgr, err := logger.New("development")
		if err != nil {
			return err
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		network, err := cfg.Network(bundlersChainID)
		if err != nil {
			return err
		}
		if len(network.BundlerURLs) == 0 {
			return fmt.Errorf("network %s has no bundler endpoints configured", network.Name)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		for i, url := range network.BundlerURLs {
			name := fmt.Sprintf("bundler-%d", i)
			client, err := bundler.NewClient(name, url, lgr)
			if err != nil {
				fmt.Printf("%s %s: %v\n", name, url, err)
				continue
			}
			probe := metrics.Instrument(client, metrics.Default())

			prices, err := probe.FetchGasPrices(ctx)
			client.Close()
			if err != nil {
				fmt.Printf("%s %s: %v\n", name, url, err)
				continue
			}
			fmt.Printf("%s %s:\n", name, url)
			for _, tier := range prices.Tiers() {
				fmt.Printf("  %-6s maxFee %s maxPriority %s\n",
					tier.Name, tier.Tier.MaxFeePerGas, tier.Tier.MaxPriorityFeePerGas)
			}
		}
		return nil
	},
}

func init() {
	bundlersCmd.Flags().Int64Var(&bundlersChainID, "chain", 1, "chain id of the configured network")
	rootCmd.AddCommand(bundlersCmd)
}
