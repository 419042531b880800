package fees

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/wallet-core/core/accountop"
	"github.com/AvaProtocol/wallet-core/core/config"
	"github.com/AvaProtocol/wallet-core/core/estimation"
	"github.com/AvaProtocol/wallet-core/core/rbfstore"
	"github.com/AvaProtocol/wallet-core/pkg/eip1559"
	"github.com/AvaProtocol/wallet-core/pkg/erc4337/bundler"
)

type fixedPrices struct {
	native decimal.Decimal
	tokens map[common.Address]decimal.Decimal
	err    error
}

func (f *fixedPrices) TokenPriceUSD(_ context.Context, _ int64, token common.Address) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	if token == (common.Address{}) {
		return f.native, nil
	}
	if p, ok := f.tokens[token]; ok {
		return p, nil
	}
	return decimal.Zero, errors.New("no price")
}

func testNetwork() *config.Network {
	return &config.Network{
		Name:               "sepolia",
		ChainID:            11155111,
		FeeIncreasePercent: 10,
		NativeSymbol:       "ETH",
		NativeDecimals:     18,
	}
}

func nativeOption(payer common.Address) accountop.FeePaymentOption {
	return accountop.FeePaymentOption{
		Payer: payer,
		Role:  accountop.RoleSelfEOA,
		Token: accountop.FeeToken{Symbol: "ETH", Decimals: 18},
	}
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e9))
}

func TestNativeConversionIsExact(t *testing.T) {
	// The common case must not route through the price feed: the amount is
	// gas times price with no rounding, and a dead feed still yields speeds.
	calc := NewCalculator(testNetwork(), &fixedPrices{err: errors.New("feed down")}, nil, nil)

	op := &accountop.AccountOp{ChainID: big.NewInt(11155111)}
	speeds, rbfUsed := calc.Speeds(context.Background(), Input{
		Op:         op,
		Estimation: &estimation.Result{GasUsed: big.NewInt(21000)},
		Recommendations: []eip1559.Recommendation{
			{Name: eip1559.Slow, GasPrice: gwei(50), PriorityFee: gwei(2)},
		},
		Option: nativeOption(common.HexToAddress("0x1")),
	})

	require.Len(t, speeds, 1)
	assert.False(t, rbfUsed)
	assert.Equal(t, "1050000000000000", speeds[0].Amount.String())
	assert.Equal(t, "0.00105", speeds[0].AmountFormatted)
	assert.Equal(t, uint64(21000), speeds[0].SimulatedGasLimit)
	assert.True(t, speeds[0].AmountUSD.IsZero())
}

func TestTokenConversionNeedsBothPrices(t *testing.T) {
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	opt := accountop.FeePaymentOption{
		Payer: common.HexToAddress("0x1"),
		Role:  accountop.RoleRelayer,
		Token: accountop.FeeToken{Address: usdc, Symbol: "USDC", Decimals: 6},
	}
	op := &accountop.AccountOp{ChainID: big.NewInt(11155111)}
	in := Input{
		Op:         op,
		Estimation: &estimation.Result{GasUsed: big.NewInt(100000)},
		Recommendations: []eip1559.Recommendation{
			{Name: eip1559.Medium, GasPrice: gwei(10), PriorityFee: gwei(1)},
		},
		Option: opt,
	}

	t.Run("both prices present converts", func(t *testing.T) {
		prices := &fixedPrices{
			native: decimal.NewFromInt(2000),
			tokens: map[common.Address]decimal.Decimal{usdc: decimal.NewFromInt(1)},
		}
		calc := NewCalculator(testNetwork(), prices, nil, nil)
		speeds, _ := calc.Speeds(context.Background(), in)

		require.Len(t, speeds, 1)
		// 100000 gas * 10 gwei = 0.001 ETH = 2 USD, +10% relayer fee = 2.2 USDC.
		assert.Equal(t, "2200000", speeds[0].Amount.String())
		assert.Equal(t, "2.2", speeds[0].AmountUSD.String())
	})

	t.Run("missing token price yields empty list", func(t *testing.T) {
		prices := &fixedPrices{native: decimal.NewFromInt(2000)}
		calc := NewCalculator(testNetwork(), prices, nil, nil)
		speeds, _ := calc.Speeds(context.Background(), in)
		assert.Empty(t, speeds)
	})
}

func TestRBFBumpFloorsProposedPrice(t *testing.T) {
	store, err := rbfstore.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	payer := common.HexToAddress("0x2")
	chainID := big.NewInt(11155111)
	prev := gwei(100)
	require.NoError(t, store.Put(chainID, payer, rbfstore.Record{GasPrice: prev.String()}))

	calc := NewCalculator(testNetwork(), &fixedPrices{err: errors.New("feed down")}, store, nil)
	speeds, rbfUsed := calc.Speeds(context.Background(), Input{
		Op:         &accountop.AccountOp{ChainID: chainID},
		Estimation: &estimation.Result{GasUsed: big.NewInt(21000)},
		Recommendations: []eip1559.Recommendation{
			// 110% of the pending price is below the 112.5% replacement floor.
			{Name: eip1559.Medium, GasPrice: gwei(110), PriorityFee: gwei(2)},
		},
		Option: nativeOption(payer),
	})

	require.Len(t, speeds, 1)
	assert.True(t, rbfUsed)
	want := new(big.Int).Add(prev, new(big.Int).Div(prev, big.NewInt(8)))
	assert.Equal(t, want, speeds[0].GasPrice)
	assert.Equal(t, new(big.Int).Mul(want, big.NewInt(21000)), speeds[0].Amount)
}

func TestDeploySingletonSurcharge(t *testing.T) {
	calc := NewCalculator(testNetwork(), &fixedPrices{err: errors.New("feed down")}, nil, nil)

	to := DeploySingleton
	speeds, _ := calc.Speeds(context.Background(), Input{
		Op: &accountop.AccountOp{
			ChainID: big.NewInt(11155111),
			Calls:   []accountop.Call{{To: &to, Value: big.NewInt(0), Data: []byte{0x01}}},
		},
		Estimation: &estimation.Result{GasUsed: big.NewInt(90000)},
		Recommendations: []eip1559.Recommendation{
			{Name: eip1559.Fast, GasPrice: gwei(1), PriorityFee: gwei(1)},
		},
		Option: nativeOption(common.HexToAddress("0x1")),
	})

	require.Len(t, speeds, 1)
	assert.Equal(t, uint64(90000+deploySingletonSurcharge), speeds[0].SimulatedGasLimit)
}

func TestErc4337SpeedsUsePaymasterSurchargeOnlyWhenSponsored(t *testing.T) {
	est := &estimation.Result{
		GasUsed: big.NewInt(1),
		Erc4337: &estimation.Erc4337Estimation{
			GasLimits: &bundler.GasEstimation{
				PreVerificationGas:   big.NewInt(50000),
				VerificationGasLimit: big.NewInt(200000),
				CallGasLimit:         big.NewInt(150000),
			},
			GasPrices: &bundler.GasPrices{
				Slow:   bundler.GasPriceTier{MaxFeePerGas: gwei(10), MaxPriorityFeePerGas: gwei(1)},
				Medium: bundler.GasPriceTier{MaxFeePerGas: gwei(12), MaxPriorityFeePerGas: gwei(1)},
				Fast:   bundler.GasPriceTier{MaxFeePerGas: gwei(15), MaxPriorityFeePerGas: gwei(2)},
				Ape:    bundler.GasPriceTier{MaxFeePerGas: gwei(20), MaxPriorityFeePerGas: gwei(3)},
			},
		},
	}
	opt := accountop.FeePaymentOption{
		Payer: common.HexToAddress("0x3"),
		Role:  accountop.RoleERC4337,
		Token: accountop.FeeToken{Symbol: "ETH", Decimals: 18},
	}
	calc := NewCalculator(testNetwork(), &fixedPrices{err: errors.New("feed down")}, nil, nil)
	base := Input{
		Op:         &accountop.AccountOp{ChainID: big.NewInt(11155111)},
		Estimation: est,
		Option:     opt,
	}

	gas := big.NewInt(150000 + 50000)
	plain, _ := calc.Speeds(context.Background(), base)
	require.Len(t, plain, 4)
	assert.Equal(t, new(big.Int).Mul(gas, gwei(10)), plain[0].Amount)
	assert.Equal(t, accountop.SpeedApe, plain[3].Kind)

	sponsored := base
	sponsored.UsingPaymaster = true
	upcharged, _ := calc.Speeds(context.Background(), sponsored)
	require.Len(t, upcharged, 4)
	want := applyPercent(new(big.Int).Mul(gas, gwei(10)), 10)
	assert.Equal(t, want, upcharged[0].Amount)
}

func TestSpeedsKeyIsStablePerOptionAndRBFState(t *testing.T) {
	opt := nativeOption(common.HexToAddress("0x4"))

	assert.Equal(t, SpeedsKey(opt, false), SpeedsKey(opt, false))
	assert.NotEqual(t, SpeedsKey(opt, false), SpeedsKey(opt, true))

	other := opt
	other.Token.OnGasTank = true
	assert.NotEqual(t, SpeedsKey(opt, false), SpeedsKey(other, false))
}

func TestBumpGasPrice(t *testing.T) {
	t.Run("no pending record passes proposal through", func(t *testing.T) {
		p := gwei(30)
		assert.Equal(t, p, BumpGasPrice(nil, p, accountop.SpeedMedium))
	})

	t.Run("ape uses the halving divisor", func(t *testing.T) {
		rec := &rbfstore.Record{GasPrice: gwei(100).String()}
		got := BumpGasPrice(rec, gwei(120), accountop.SpeedApe)
		assert.Equal(t, gwei(150), got)
	})

	t.Run("failed replacement adds one percent of last signed", func(t *testing.T) {
		last := gwei(200)
		rec := &rbfstore.Record{
			GasPrice:                gwei(100).String(),
			LastSignedGasPrice:      last.String(),
			FailedReplacementTooLow: true,
		}
		got := BumpGasPrice(rec, gwei(100), accountop.SpeedMedium)
		// floor is last signed plus its eighth plus one percent
		want := new(big.Int).Add(last, new(big.Int).Div(last, big.NewInt(8)))
		want.Add(want, new(big.Int).Div(last, big.NewInt(100)))
		assert.Equal(t, want, got)
	})
}
