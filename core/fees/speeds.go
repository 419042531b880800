// Package fees converts raw gas estimates and price tiers into per-speed,
// per-payment-option fee amounts, including the replace-by-fee bump for
// pending operations.
package fees

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/AvaProtocol/wallet-core/core/accountop"
	"github.com/AvaProtocol/wallet-core/core/config"
	"github.com/AvaProtocol/wallet-core/core/estimation"
	"github.com/AvaProtocol/wallet-core/core/rbfstore"
	"github.com/AvaProtocol/wallet-core/pkg/eip1559"
	"github.com/AvaProtocol/wallet-core/pkg/logger"
)

// DeploySingleton is the shared create2 deployer; calls targeting it burn a
// known extra amount of gas that eth_estimateGas does not attribute.
var DeploySingleton = common.HexToAddress("0xce0042B868300000d44A59004Da54A005ffdcf9f")

// deploySingletonSurcharge covers the deployer's dispatch overhead.
const deploySingletonSurcharge = 31_000

// FeeSpeed is one price tier's computed fee for one payment option.
type FeeSpeed struct {
	Kind                 accountop.SpeedKind
	SimulatedGasLimit    uint64
	Amount               *big.Int
	AmountFormatted      string
	AmountUSD            decimal.Decimal
	GasPrice             *big.Int
	MaxPriorityFeePerGas *big.Int
}

// SpeedsKey is the stable identifier fee speeds are cached under. Entries
// for the same payer, token and RBF situation never need recomputing.
func SpeedsKey(opt accountop.FeePaymentOption, rbf bool) string {
	return fmt.Sprintf("%s:%s:%s:%t:%t",
		opt.Payer.Hex(), opt.Token.Address.Hex(), opt.Token.Symbol, opt.Token.OnGasTank, rbf)
}

// Calculator derives fee speeds. The rbf store is optional; without it no
// replacement bumps are applied.
type Calculator struct {
	network *config.Network
	prices  PriceSource
	rbf     *rbfstore.Store
	logger  logger.Logger
}

func NewCalculator(network *config.Network, prices PriceSource, rbf *rbfstore.Store, lgr logger.Logger) *Calculator {
	return &Calculator{
		network: network,
		prices:  prices,
		rbf:     rbf,
		logger:  logger.EnsureLogger(lgr),
	}
}

// Input is everything one option's speed list depends on.
type Input struct {
	Op              *accountop.AccountOp
	Estimation      *estimation.Result
	Recommendations []eip1559.Recommendation
	Option          accountop.FeePaymentOption
	// UsingPaymaster applies the service surcharge; self-paid 4337 is not
	// upcharged.
	UsingPaymaster bool
}

// Speeds computes the option's per-speed amounts. The second return value
// reports whether an RBF bump was involved, which is part of the cache key.
// An empty list is non-fatal: it means no native-to-token price ratio could
// be derived and the UI should explain that instead of failing the estimate.
func (c *Calculator) Speeds(ctx context.Context, in Input) ([]FeeSpeed, bool) {
	var rec *rbfstore.Record
	if c.rbf != nil && in.Op.ChainID != nil {
		found, ok, err := c.rbf.Get(in.Op.ChainID, in.Option.Payer)
		if err != nil {
			c.logger.Warnf("rbf lookup failed for %s: %v", in.Option.Payer.Hex(), err)
		} else if ok {
			rec = found
		}
	}

	var speeds []FeeSpeed
	if in.Estimation.Erc4337 != nil && in.Option.Role == accountop.RoleERC4337 {
		speeds = c.erc4337Speeds(ctx, in, rec)
	} else {
		speeds = c.legacySpeeds(ctx, in, rec)
	}
	return speeds, rec != nil
}

func speedKind(name string) accountop.SpeedKind {
	switch name {
	case eip1559.Slow:
		return accountop.SpeedSlow
	case eip1559.Medium:
		return accountop.SpeedMedium
	case eip1559.Fast:
		return accountop.SpeedFast
	default:
		return accountop.SpeedApe
	}
}

func (c *Calculator) erc4337Speeds(ctx context.Context, in Input, rec *rbfstore.Record) []FeeSpeed {
	limits := in.Estimation.Erc4337.GasLimits
	if limits == nil || in.Estimation.Erc4337.GasPrices == nil {
		return nil
	}

	gas := new(big.Int).Add(limits.CallGasLimit, limits.PreVerificationGas)
	if in.Option.GasOverhead != nil {
		gas = new(big.Int).Add(gas, in.Option.GasOverhead)
	}

	speeds := make([]FeeSpeed, 0, 4)
	for _, tier := range in.Estimation.Erc4337.GasPrices.Tiers() {
		kind := speedKind(tier.Name)
		price := BumpGasPrice(rec, tier.Tier.MaxFeePerGas, kind)

		amountNative := new(big.Int).Mul(gas, price)
		if in.UsingPaymaster {
			amountNative = applyPercent(amountNative, c.network.FeeIncreasePercent)
		}

		speed, ok := c.finishSpeed(ctx, in.Option, kind, gas, price, tier.Tier.MaxPriorityFeePerGas, amountNative)
		if !ok {
			return nil
		}
		speeds = append(speeds, speed)
	}
	return speeds
}

func (c *Calculator) legacySpeeds(ctx context.Context, in Input, rec *rbfstore.Record) []FeeSpeed {
	gasUsed := in.Estimation.GasUsed
	if gasUsed == nil {
		return nil
	}

	gas := new(big.Int).Set(gasUsed)
	switch in.Option.Role {
	case accountop.RoleSelfEOA:
		if len(in.Op.Calls) == 1 && in.Op.Calls[0].To != nil && *in.Op.Calls[0].To == DeploySingleton {
			gas.Add(gas, big.NewInt(deploySingletonSurcharge))
		}
	default:
		if in.Option.GasOverhead != nil {
			gas.Add(gas, in.Option.GasOverhead)
		}
	}

	speeds := make([]FeeSpeed, 0, len(in.Recommendations))
	for _, r := range in.Recommendations {
		kind := speedKind(r.Name)
		price := BumpGasPrice(rec, r.GasPrice, kind)

		amountNative := new(big.Int).Mul(gas, price)
		if in.Option.AddedNative != nil {
			amountNative.Add(amountNative, in.Option.AddedNative)
		}
		if in.Option.Role == accountop.RoleRelayer {
			amountNative = applyPercent(amountNative, c.network.FeeIncreasePercent)
		}

		speed, ok := c.finishSpeed(ctx, in.Option, kind, gas, price, r.PriorityFee, amountNative)
		if !ok {
			return nil
		}
		speeds = append(speeds, speed)
	}
	return speeds
}

func applyPercent(v *big.Int, percent int64) *big.Int {
	if percent <= 0 {
		return v
	}
	out := new(big.Int).Mul(v, big.NewInt(100+percent))
	return out.Div(out, big.NewInt(100))
}

// finishSpeed converts the native amount into the option's fee token and
// formats it. Identical assets short-circuit to an exact 1:1 conversion, so
// the common native case neither loses precision nor depends on the price
// feed being up.
func (c *Calculator) finishSpeed(
	ctx context.Context,
	opt accountop.FeePaymentOption,
	kind accountop.SpeedKind,
	gas *big.Int,
	price *big.Int,
	priority *big.Int,
	amountNative *big.Int,
) (FeeSpeed, bool) {
	speed := FeeSpeed{
		Kind:              kind,
		SimulatedGasLimit: gas.Uint64(),
		GasPrice:          price,
	}
	if priority != nil {
		speed.MaxPriorityFeePerGas = new(big.Int).Set(priority)
	}

	nativePrice, nativePriceErr := c.prices.TokenPriceUSD(ctx, c.network.ChainID, common.Address{})

	if opt.Token.IsNative() {
		speed.Amount = amountNative
		if nativePriceErr == nil && !nativePrice.IsZero() {
			speed.AmountUSD = decimal.NewFromBigInt(amountNative, -int32(c.network.NativeDecimals)).Mul(nativePrice)
		}
	} else {
		tokenPrice, tokenPriceErr := c.prices.TokenPriceUSD(ctx, c.network.ChainID, opt.Token.Address)
		if nativePriceErr != nil || tokenPriceErr != nil || nativePrice.IsZero() || tokenPrice.IsZero() {
			c.logger.Debugf("no price ratio for fee token %s, skipping its speeds", opt.Token.Symbol)
			return FeeSpeed{}, false
		}
		usd := decimal.NewFromBigInt(amountNative, -int32(c.network.NativeDecimals)).Mul(nativePrice)
		amountToken := usd.Div(tokenPrice).Shift(int32(opt.Token.Decimals)).Ceil()
		speed.Amount = amountToken.BigInt()
		speed.AmountUSD = usd
	}

	speed.AmountFormatted = decimal.NewFromBigInt(speed.Amount, -int32(opt.Token.Decimals)).String()
	return speed, true
}
