package fees

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PriceSource reports USD prices for fee assets. The zero address stands for
// the chain's native asset.
type PriceSource interface {
	TokenPriceUSD(ctx context.Context, chainID int64, token common.Address) (decimal.Decimal, error)
}

// CachedPriceSource fronts a PriceSource with a TTL cache, so tight
// update loops do not refetch prices that are still fresh.
type CachedPriceSource struct {
	inner PriceSource
	cache *bigcache.BigCache
}

func NewCachedPriceSource(inner PriceSource, ttl time.Duration) (*CachedPriceSource, error) {
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(ttl))
	if err != nil {
		return nil, fmt.Errorf("cannot create price cache: %w", err)
	}
	return &CachedPriceSource{inner: inner, cache: cache}, nil
}

func priceKey(chainID int64, token common.Address) string {
	return fmt.Sprintf("%d:%s", chainID, token.Hex())
}

func (c *CachedPriceSource) TokenPriceUSD(ctx context.Context, chainID int64, token common.Address) (decimal.Decimal, error) {
	key := priceKey(chainID, token)
	if raw, err := c.cache.Get(key); err == nil {
		if price, err := decimal.NewFromString(string(raw)); err == nil {
			return price, nil
		}
	}

	price, err := c.inner.TokenPriceUSD(ctx, chainID, token)
	if err != nil {
		return decimal.Zero, err
	}
	// a failed cache write only costs a refetch
	_ = c.cache.Set(key, []byte(price.String()))
	return price, nil
}
