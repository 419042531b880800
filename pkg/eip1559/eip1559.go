// Package eip1559 derives per-speed gas price recommendations from the
// chain's suggested tip and the next block's base fee.
package eip1559

import (
	"context"
	"math/big"
)

// Speed names, ordered cheapest first.
const (
	Slow   = "slow"
	Medium = "medium"
	Fast   = "fast"
	Ape    = "ape"
)

// FeeSource is the subset of the RPC client the recommendation needs.
type FeeSource interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	// BaseFee returns the next block's base fee, or nil on pre-1559 chains.
	BaseFee(ctx context.Context) (*big.Int, error)
}

// Recommendation is one gas-price tier. On EIP-1559 chains BaseFee and
// PriorityFee are set and GasPrice is their sum; on legacy chains only
// GasPrice is set.
type Recommendation struct {
	Name        string
	BaseFee     *big.Int
	PriorityFee *big.Int
	GasPrice    *big.Int
}

// minTip keeps the priority fee attractive enough for inclusion; bundlers in
// particular drop operations tipping below ~2 gwei.
var minTip = big.NewInt(2_000_000_000)

// speedBumps are percent multipliers applied per tier. The base fee bump
// buys headroom against base fee growth between blocks, the tip bump buys
// priority.
var speedBumps = []struct {
	name    string
	basePct int64
	tipPct  int64
}{
	{Slow, 100, 100},
	{Medium, 115, 125},
	{Fast, 130, 150},
	{Ape, 200, 200},
}

func bump(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(pct))
	return out.Div(out, big.NewInt(100))
}

// Recommend returns the four speed tiers for the network behind src. A nil
// base fee means the chain predates EIP-1559 and the legacy suggested gas
// price is tiered instead.
func Recommend(ctx context.Context, src FeeSource) ([]Recommendation, error) {
	baseFee, err := src.BaseFee(ctx)
	if err != nil {
		return nil, err
	}

	if baseFee == nil {
		gasPrice, err := src.SuggestGasPrice(ctx)
		if err != nil {
			return nil, err
		}
		recs := make([]Recommendation, 0, len(speedBumps))
		for _, s := range speedBumps {
			recs = append(recs, Recommendation{
				Name:     s.name,
				GasPrice: bump(gasPrice, s.tipPct),
			})
		}
		return recs, nil
	}

	tipCap, err := src.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}
	if tipCap.Cmp(minTip) < 0 {
		tipCap = new(big.Int).Set(minTip)
	}

	recs := make([]Recommendation, 0, len(speedBumps))
	for _, s := range speedBumps {
		base := bump(baseFee, s.basePct)
		tip := bump(tipCap, s.tipPct)
		recs = append(recs, Recommendation{
			Name:        s.name,
			BaseFee:     base,
			PriorityFee: tip,
			GasPrice:    new(big.Int).Add(base, tip),
		})
	}
	return recs, nil
}
