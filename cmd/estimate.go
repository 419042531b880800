package cmd

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/wallet-core/core/accountop"
	"github.com/AvaProtocol/wallet-core/core/config"
	"github.com/AvaProtocol/wallet-core/core/estimation"
	"github.com/AvaProtocol/wallet-core/core/fees"
	"github.com/AvaProtocol/wallet-core/core/services"
	"github.com/AvaProtocol/wallet-core/pkg/eip1559"
	"github.com/AvaProtocol/wallet-core/pkg/logger"
)

var (
	estimateChainID int64
	estimateFrom    string
	estimateTo      string
	estimateValue   string
	moralisAPIKey   string
)

// estimateCmd prices a native transfer on a configured network and prints
// the per-speed fee table. Useful to verify a network's RPC and price feed
// wiring without signing anything.
var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "estimate a native transfer's fee per speed",
	RunE: func(cmd *cobra.Command, args []string) error {
		lgr, err := logger.New("development")
		if err != nil {
			return err
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		network, err := cfg.Network(estimateChainID)
		if err != nil {
			return err
		}

		client, err := ethclient.Dial(network.RpcURL)
		if err != nil {
			return fmt.Errorf("cannot connect to %s: %w", network.Name, err)
		}
		defer client.Close()

		value, ok := new(big.Int).SetString(estimateValue, 10)
		if !ok {
			return fmt.Errorf("malformed value %q, expected wei", estimateValue)
		}
		to := common.HexToAddress(estimateTo)
		op := &accountop.AccountOp{
			Account: common.HexToAddress(estimateFrom),
			ChainID: network.ChainIDBig(),
			Calls:   []accountop.Call{{To: &to, Value: value}},
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		result := estimation.EstimateEOA(ctx, client, network, op, func(notice string) {
			fmt.Println(notice)
		}, lgr)
		if result.Failed() {
			return fmt.Errorf("estimation failed: %w", result.Err)
		}

		recs, err := eip1559.Recommend(ctx, &headerFeeSource{client})
		if err != nil {
			return err
		}

		var prices fees.PriceSource
		if moralisAPIKey != "" {
			source := services.NewMoralisPriceService(moralisAPIKey, lgr)
			prices, err = fees.NewCachedPriceSource(source, 5*time.Minute)
			if err != nil {
				return err
			}
		} else {
			prices = noPrices{}
		}
		calc := fees.NewCalculator(network, prices, nil, lgr)

		fmt.Printf("gas used: %s\n", result.GasUsed)
		for _, opt := range result.FeeOptions {
			speeds, _ := calc.Speeds(ctx, fees.Input{
				Op:              op,
				Estimation:      result,
				Recommendations: recs,
				Option:          opt,
			})
			fmt.Printf("payer %s in %s:\n", opt.Payer.Hex(), opt.Token.Symbol)
			for _, s := range speeds {
				fmt.Printf("  %-6s %s %s (%s USD)\n", s.Kind, s.AmountFormatted, opt.Token.Symbol, s.AmountUSD)
			}
		}
		return nil
	},
}

// headerFeeSource adds the base fee lookup ethclient does not expose
// directly.
type headerFeeSource struct {
	*ethclient.Client
}

func (s *headerFeeSource) BaseFee(ctx context.Context) (*big.Int, error) {
	header, err := s.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	return header.BaseFee, nil
}

// noPrices keeps native-denominated estimation working when no price feed
// key is configured.
type noPrices struct{}

func (noPrices) TokenPriceUSD(context.Context, int64, common.Address) (decimal.Decimal, error) {
	return decimal.Zero, fmt.Errorf("no price feed configured")
}

func init() {
	estimateCmd.Flags().Int64Var(&estimateChainID, "chain", 1, "chain id of the configured network")
	estimateCmd.Flags().StringVar(&estimateFrom, "from", "", "sender address")
	estimateCmd.Flags().StringVar(&estimateTo, "to", "", "recipient address")
	estimateCmd.Flags().StringVar(&estimateValue, "value", "0", "transfer amount in wei")
	estimateCmd.Flags().StringVar(&moralisAPIKey, "moralis-key", "", "Moralis API key for USD amounts")
	rootCmd.AddCommand(estimateCmd)
}
