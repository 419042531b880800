// Package services holds clients for external data providers. Currently
// that is the Moralis Web3 Data API, used as the price feed behind fee
// conversion and USD display.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/AvaProtocol/wallet-core/pkg/logger"
)

const defaultMoralisBaseURL = "https://deep-index.moralis.io/api/v2.2"

// wrappedNative maps a chain id to the wrapped-native contract used for the
// native asset's price lookup, since the API prices contracts, not ETH
// itself.
var wrappedNative = map[int64]common.Address{
	1:        common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), // WETH
	8453:     common.HexToAddress("0x4200000000000000000000000000000000000006"), // WETH on Base
	11155111: common.HexToAddress("0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14"), // WETH on Sepolia
	137:      common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"), // WMATIC
	10:       common.HexToAddress("0x4200000000000000000000000000000000000006"), // WETH on Optimism
	42161:    common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"), // WETH on Arbitrum
}

// moralisChainParam maps a chain id to the API's chain query value.
var moralisChainParam = map[int64]string{
	1:        "eth",
	8453:     "base",
	11155111: "sepolia",
	137:      "polygon",
	10:       "optimism",
	42161:    "arbitrum",
}

type tokenPriceResponse struct {
	TokenSymbol       string  `json:"tokenSymbol"`
	UsdPrice          float64 `json:"usdPrice"`
	UsdPriceFormatted string  `json:"usdPriceFormatted"`
	PossibleSpam      bool    `json:"possibleSpam"`
}

// MoralisPriceService fetches token USD prices from the Moralis API. It
// satisfies the fee calculator's PriceSource; wrap it in a caching layer
// for per-update call volume.
type MoralisPriceService struct {
	baseURL string
	client  *resty.Client
	logger  logger.Logger
}

// NewMoralisPriceService builds a client authenticated with apiKey.
func NewMoralisPriceService(apiKey string, lgr logger.Logger) *MoralisPriceService {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetHeaders(map[string]string{
			"Accept":    "application/json",
			"X-API-Key": apiKey,
		})
	return &MoralisPriceService{
		baseURL: defaultMoralisBaseURL,
		client:  client,
		logger:  logger.EnsureLogger(lgr),
	}
}

// SetBaseURL overrides the API endpoint, for tests and proxies.
func (s *MoralisPriceService) SetBaseURL(url string) {
	s.baseURL = url
}

// TokenPriceUSD returns the USD price of token on chainID. The zero address
// means the native asset and is priced via its wrapped-token contract.
func (s *MoralisPriceService) TokenPriceUSD(ctx context.Context, chainID int64, token common.Address) (decimal.Decimal, error) {
	chain, ok := moralisChainParam[chainID]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price feed for chain %d", chainID)
	}
	if token == (common.Address{}) {
		wrapped, ok := wrappedNative[chainID]
		if !ok {
			return decimal.Zero, fmt.Errorf("no native price contract for chain %d", chainID)
		}
		token = wrapped
	}

	var result tokenPriceResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("chain", chain).
		SetResult(&result).
		Get(fmt.Sprintf("%s/erc20/%s/price", s.baseURL, token.Hex()))
	if err != nil {
		return decimal.Zero, fmt.Errorf("price request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return decimal.Zero, fmt.Errorf("price request for %s returned %s", token.Hex(), resp.Status())
	}
	if result.PossibleSpam {
		return decimal.Zero, fmt.Errorf("token %s is flagged as possible spam, refusing its price", token.Hex())
	}

	// The formatted string keeps full precision; the float field is kept
	// only as a fallback.
	if result.UsdPriceFormatted != "" {
		price, err := decimal.NewFromString(result.UsdPriceFormatted)
		if err == nil {
			return price, nil
		}
		s.logger.Warnf("malformed price %q for %s: %v", result.UsdPriceFormatted, result.TokenSymbol, err)
	}
	return decimal.NewFromFloat(result.UsdPrice), nil
}
