package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenPriceUSD(t *testing.T) {
	var gotPath, gotChain string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotChain = r.URL.Query().Get("chain")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tokenSymbol":"WETH","usdPrice":2000.5,"usdPriceFormatted":"2000.5"}`))
	}))
	defer server.Close()

	svc := NewMoralisPriceService("test-key", nil)
	svc.SetBaseURL(server.URL)

	t.Run("native asset goes through the wrapped contract", func(t *testing.T) {
		price, err := svc.TokenPriceUSD(context.Background(), 1, common.Address{})
		require.NoError(t, err)
		assert.Equal(t, "2000.5", price.String())
		assert.Equal(t, "eth", gotChain)
		assert.True(t, strings.Contains(gotPath, "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"))
	})

	t.Run("erc20 uses the token address", func(t *testing.T) {
		usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
		_, err := svc.TokenPriceUSD(context.Background(), 1, usdc)
		require.NoError(t, err)
		assert.True(t, strings.Contains(gotPath, usdc.Hex()))
	})

	t.Run("unknown chain is rejected", func(t *testing.T) {
		_, err := svc.TokenPriceUSD(context.Background(), 424242, common.Address{})
		assert.Error(t, err)
	})
}

func TestTokenPriceUSDRejectsSpam(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tokenSymbol":"SCAM","usdPrice":99.0,"usdPriceFormatted":"99.0","possibleSpam":true}`))
	}))
	defer server.Close()

	svc := NewMoralisPriceService("test-key", nil)
	svc.SetBaseURL(server.URL)

	_, err := svc.TokenPriceUSD(context.Background(), 1, common.HexToAddress("0x1"))
	assert.Error(t, err)
}
