package cmd

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/wallet-core/core/accountop"
	"github.com/AvaProtocol/wallet-core/core/config"
	"github.com/AvaProtocol/wallet-core/core/estimation"
	"github.com/AvaProtocol/wallet-core/pkg/logger"
)

var (
	watchChainID int64
	watchFrom    string
	watchTo      string
	watchValue   string
)

// watchCmd keeps re-estimating a transfer on the configured refresh
// interval until interrupted, printing each result. Useful to observe fee
// drift and RPC health.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "re-estimate a transfer periodically",
	RunE: func(cmd *cobra.Command, args []string) error {
		lgr, err := logger.New("development")
		if err != nil {
			return err
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		network, err := cfg.Network(watchChainID)
		if err != nil {
			return err
		}
		client, err := ethclient.Dial(network.RpcURL)
		if err != nil {
			return fmt.Errorf("cannot connect to %s: %w", network.Name, err)
		}
		defer client.Close()

		value, ok := new(big.Int).SetString(watchValue, 10)
		if !ok {
			return fmt.Errorf("malformed value %q, expected wei", watchValue)
		}
		to := common.HexToAddress(watchTo)
		op := &accountop.AccountOp{
			Account: common.HexToAddress(watchFrom),
			ChainID: network.ChainIDBig(),
			Calls:   []accountop.Call{{To: &to, Value: value}},
		}

		interval := time.Duration(cfg.EstimationRefreshSeconds) * time.Second
		refresher, err := estimation.NewRefresher(interval, func(ctx context.Context) {
			result := estimation.EstimateEOA(ctx, client, network, op, func(notice string) {
				lgr.Info(notice)
			}, lgr)
			if result.Failed() {
				lgr.Errorf("estimation failed: %v", result.Err)
				return
			}
			lgr.Infof("gas used %s, nonce %s", result.GasUsed, result.CurrentNonce)
		}, lgr)
		if err != nil {
			return err
		}

		refresher.Start()
		defer refresher.Stop()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		return nil
	},
}

func init() {
	watchCmd.Flags().Int64Var(&watchChainID, "chain", 1, "chain id of the configured network")
	watchCmd.Flags().StringVar(&watchFrom, "from", "", "sender address")
	watchCmd.Flags().StringVar(&watchTo, "to", "", "recipient address")
	watchCmd.Flags().StringVar(&watchValue, "value", "0", "transfer amount in wei")
	rootCmd.AddCommand(watchCmd)
}
