package fees

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPrices struct {
	calls int
	price decimal.Decimal
}

func (c *countingPrices) TokenPriceUSD(_ context.Context, _ int64, _ common.Address) (decimal.Decimal, error) {
	c.calls++
	return c.price, nil
}

func TestCachedPriceSourceServesRepeatsFromCache(t *testing.T) {
	inner := &countingPrices{price: decimal.RequireFromString("1999.25")}
	cached, err := NewCachedPriceSource(inner, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	first, err := cached.TokenPriceUSD(ctx, 1, weth)
	require.NoError(t, err)
	second, err := cached.TokenPriceUSD(ctx, 1, weth)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.Equal(t, "1999.25", second.String())
	assert.Equal(t, 1, inner.calls)

	// Same token on another network is a distinct entry.
	_, err = cached.TokenPriceUSD(ctx, 8453, weth)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}
