package estimation

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/wallet-core/core/accountop"
	"github.com/AvaProtocol/wallet-core/core/config"
	"github.com/AvaProtocol/wallet-core/core/paymaster"
	"github.com/AvaProtocol/wallet-core/pkg/erc4337/bundler"
	"github.com/AvaProtocol/wallet-core/pkg/erc4337/userop"
)

type fakeProvider struct {
	estimateGas  func(msg ethereum.CallMsg) (uint64, error)
	callContract func(msg ethereum.CallMsg) ([]byte, error)
	nonce        uint64
	nonceErr     error
}

func (f *fakeProvider) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return f.estimateGas(msg)
}

func (f *fakeProvider) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.callContract(msg)
}

func (f *fakeProvider) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return f.nonce, f.nonceErr
}

func simulationOutput(t *testing.T, gasUsed, l1Fee, balance int64) []byte {
	t.Helper()
	out, err := helperABI.Methods["simulate"].Outputs.Pack(
		big.NewInt(gasUsed), big.NewInt(l1Fee), big.NewInt(balance),
	)
	require.NoError(t, err)
	return out
}

func ethNetwork() *config.Network {
	return &config.Network{
		Name:           "ethereum",
		ChainID:        1,
		RpcURL:         "https://rpc.example.org",
		Has1559:        true,
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
		BlockGasLimit:  30_000_000,
	}
}

func transferOp() *accountop.AccountOp {
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	return &accountop.AccountOp{
		Account: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		ChainID: big.NewInt(1),
		Calls:   []accountop.Call{{To: &to, Value: big.NewInt(1000)}},
	}
}

func TestEstimateEOA(t *testing.T) {
	t.Run("plain transfer trusts the direct estimate", func(t *testing.T) {
		provider := &fakeProvider{
			nonce:       5,
			estimateGas: func(msg ethereum.CallMsg) (uint64, error) { return 21000, nil },
			callContract: func(msg ethereum.CallMsg) ([]byte, error) {
				return simulationOutput(t, 26000, 0, 5_000_000), nil
			},
		}

		res := EstimateEOA(context.Background(), provider, ethNetwork(), transferOp(), nil, nil)
		require.False(t, res.Failed())
		assert.Equal(t, big.NewInt(21000), res.GasUsed)
		assert.Equal(t, big.NewInt(5), res.CurrentNonce)

		require.Len(t, res.FeeOptions, 1)
		opt := res.FeeOptions[0]
		assert.Equal(t, accountop.RoleSelfEOA, opt.Role)
		assert.True(t, opt.Token.IsNative())
		assert.Equal(t, big.NewInt(5_000_000), opt.AvailableAmount)
	})

	t.Run("contract call takes the max of both probes", func(t *testing.T) {
		op := transferOp()
		op.Calls[0].Data = []byte{0xa9, 0x05, 0x9c, 0xbb}

		provider := &fakeProvider{
			estimateGas: func(msg ethereum.CallMsg) (uint64, error) { return 48_000, nil },
			callContract: func(msg ethereum.CallMsg) ([]byte, error) {
				return simulationOutput(t, 52_000, 1200, 5_000_000), nil
			},
		}

		res := EstimateEOA(context.Background(), provider, ethNetwork(), op, nil, nil)
		require.False(t, res.Failed())
		assert.Equal(t, big.NewInt(52_000), res.GasUsed)
		assert.Equal(t, big.NewInt(1200), res.FeeOptions[0].AddedNative)
	})

	t.Run("fails closed on batched calls", func(t *testing.T) {
		op := transferOp()
		op.Calls = append(op.Calls, op.Calls[0])

		res := EstimateEOA(context.Background(), &fakeProvider{}, ethNetwork(), op, nil, nil)
		require.True(t, res.Failed())
		assert.Equal(t, BatchNotSupportedError, res.Err.Error())
	})

	t.Run("probe errors surface as the estimation error", func(t *testing.T) {
		provider := &fakeProvider{
			estimateGas: func(msg ethereum.CallMsg) (uint64, error) {
				return 0, errors.New("execution reverted")
			},
			callContract: func(msg ethereum.CallMsg) ([]byte, error) {
				return simulationOutput(t, 21000, 0, 0), nil
			},
		}

		res := EstimateEOA(context.Background(), provider, ethNetwork(), transferOp(), nil, nil)
		require.True(t, res.Failed())
		assert.Contains(t, res.Err.Error(), "reverted")
	})
}

type scriptedBundler struct {
	name      string
	pricesErr error
	estErr    error
	lastOp    *userop.UserOperation
}

func (s *scriptedBundler) Name() string { return s.name }

func (s *scriptedBundler) FetchGasPrices(ctx context.Context) (*bundler.GasPrices, error) {
	if s.pricesErr != nil {
		return nil, s.pricesErr
	}
	tier := func(fee int64) bundler.GasPriceTier {
		return bundler.GasPriceTier{
			MaxFeePerGas:         big.NewInt(fee),
			MaxPriorityFeePerGas: big.NewInt(fee / 10),
		}
	}
	return &bundler.GasPrices{
		Slow: tier(10_000_000_000), Medium: tier(20_000_000_000),
		Fast: tier(30_000_000_000), Ape: tier(45_000_000_000),
	}, nil
}

func (s *scriptedBundler) Estimate(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (*bundler.GasEstimation, error) {
	s.lastOp = op
	if s.estErr != nil {
		return nil, s.estErr
	}
	return &bundler.GasEstimation{
		PreVerificationGas:   big.NewInt(50_000),
		VerificationGasLimit: big.NewInt(400_000),
		CallGasLimit:         big.NewInt(120_000),
	}, nil
}

func (s *scriptedBundler) SendUserOperation(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (string, error) {
	return "0xhash", nil
}

func (s *scriptedBundler) DecodeError(err error) *bundler.DecodedError { return bundler.Decode(err) }

func erc4337Network() *config.Network {
	n := ethNetwork()
	n.Name = "base"
	n.ChainID = 8453
	n.Erc4337 = config.Erc4337{Enabled: true, HasPaymaster: true, Paymaster: "0x4444444444444444444444444444444444444444"}
	return n
}

func feeTokens() []FeeTokenBalance {
	return []FeeTokenBalance{
		{Token: accountop.FeeToken{Symbol: "ETH", Decimals: 18}, Balance: big.NewInt(1_000_000_000_000_000_000)},
		{
			Token: accountop.FeeToken{
				Address:  common.HexToAddress("0x3333333333333333333333333333333333333333"),
				Symbol:   "USDC", Decimals: 6,
			},
			Balance: big.NewInt(250_000_000),
		},
	}
}

func TestEstimate4337(t *testing.T) {
	registry := paymaster.NewFailedRegistry()

	t.Run("success yields gas limits, price table and fee options", func(t *testing.T) {
		sw := bundler.NewSwitcher([]bundler.Bundler{&scriptedBundler{name: "pimlico"}}, nil, nil)
		pm := paymaster.New(erc4337Network(), nil, registry, nil)

		res := Estimate4337(context.Background(), sw, pm, erc4337Network(), transferOp(), feeTokens(), nil, nil)
		require.False(t, res.Failed())
		require.NotNil(t, res.Erc4337)
		assert.Equal(t, big.NewInt(120_000), res.Erc4337.GasLimits.CallGasLimit)
		assert.Equal(t, big.NewInt(20_000_000_000), res.Erc4337.GasPrices.Medium.MaxFeePerGas)

		require.Len(t, res.FeeOptions, 2)
		assert.Nil(t, res.FeeOptions[0].GasOverhead, "native option carries no token overhead")
		assert.Equal(t, feeTokenGasOverhead, res.FeeOptions[1].GasOverhead)
	})

	t.Run("fails over to the next bundler on endpoint errors", func(t *testing.T) {
		broken := &scriptedBundler{name: "broken", pricesErr: errors.New("connection refused")}
		healthy := &scriptedBundler{name: "healthy"}
		sw := bundler.NewSwitcher([]bundler.Bundler{broken, healthy}, nil, nil)
		pm := paymaster.New(erc4337Network(), nil, registry, nil)

		res := Estimate4337(context.Background(), sw, pm, erc4337Network(), transferOp(), feeTokens(), nil, nil)
		require.False(t, res.Failed())
		assert.Equal(t, "healthy", sw.Current().Name())
	})

	t.Run("terminal bundler errors return the formatted message", func(t *testing.T) {
		prefund := &scriptedBundler{name: "only", estErr: errors.New("AA21 didn't pay prefund")}
		sw := bundler.NewSwitcher([]bundler.Bundler{prefund}, nil, nil)
		pm := paymaster.New(erc4337Network(), nil, registry, nil)

		res := Estimate4337(context.Background(), sw, pm, erc4337Network(), transferOp(), feeTokens(), nil, nil)
		require.True(t, res.Failed())
		assert.NotContains(t, res.Err.Error(), "AA21")
	})

	t.Run("invalid nonce is recorded as a non-fatal marker", func(t *testing.T) {
		stale := &scriptedBundler{name: "only", estErr: errors.New("AA25 invalid account nonce")}
		sw := bundler.NewSwitcher([]bundler.Bundler{stale}, nil, nil)
		pm := paymaster.New(erc4337Network(), nil, registry, nil)

		res := Estimate4337(context.Background(), sw, pm, erc4337Network(), transferOp(), feeTokens(), nil, nil)
		require.True(t, res.Failed())
		require.Len(t, res.NonFatalErrors, 1)
		decoded, ok := res.NonFatalErrors[0].(*bundler.DecodedError)
		require.True(t, ok)
		assert.Equal(t, bundler.CauseInvalidNonce, decoded.Cause)
	})

	t.Run("own paymaster estimates price in the fee payment call", func(t *testing.T) {
		scripted := &scriptedBundler{name: "pimlico"}
		sw := bundler.NewSwitcher([]bundler.Bundler{scripted}, nil, nil)
		pm := paymaster.New(erc4337Network(), nil, registry, nil)
		op := transferOp()

		res := Estimate4337(context.Background(), sw, pm, erc4337Network(), op, feeTokens(), nil, nil)
		require.False(t, res.Failed())

		collector := hex.EncodeToString(accountop.FeeCollector.Bytes())
		assert.Contains(t, hex.EncodeToString(scripted.lastOp.CallData), collector)
		assert.Nil(t, op.FeeCall, "the caller's op is left untouched")
	})

	t.Run("self-paid estimates carry no fee call", func(t *testing.T) {
		network := erc4337Network()
		network.Erc4337.HasPaymaster = false

		scripted := &scriptedBundler{name: "pimlico"}
		sw := bundler.NewSwitcher([]bundler.Bundler{scripted}, nil, nil)
		pm := paymaster.New(network, nil, registry, nil)

		res := Estimate4337(context.Background(), sw, pm, network, transferOp(), feeTokens(), nil, nil)
		require.False(t, res.Failed())

		collector := hex.EncodeToString(accountop.FeeCollector.Bytes())
		assert.NotContains(t, hex.EncodeToString(scripted.lastOp.CallData), collector)
	})

	t.Run("token options require a usable paymaster", func(t *testing.T) {
		network := erc4337Network()
		network.Erc4337.HasPaymaster = false

		sw := bundler.NewSwitcher([]bundler.Bundler{&scriptedBundler{name: "pimlico"}}, nil, nil)
		pm := paymaster.New(network, nil, registry, nil)

		res := Estimate4337(context.Background(), sw, pm, network, transferOp(), feeTokens(), nil, nil)
		require.False(t, res.Failed())
		require.Len(t, res.FeeOptions, 1)
		assert.True(t, res.FeeOptions[0].Token.IsNative())
	})
}

type fakeRawCaller struct {
	gasHex string
	err    error
	calls  int
	args   [][]interface{}
}

func (f *fakeRawCaller) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	f.calls++
	f.args = append(f.args, args)
	if f.err != nil {
		return f.err
	}
	*(result.(*string)) = f.gasHex
	return nil
}

func TestEstimateWithProvider(t *testing.T) {
	t.Run("sums per-call estimates", func(t *testing.T) {
		caller := &fakeRawCaller{gasHex: "0x5208"}
		op := transferOp()
		op.Calls = append(op.Calls, op.Calls[0])

		res := EstimateWithProvider(context.Background(), caller, op, nil, nil, nil)
		require.False(t, res.Failed())
		assert.Equal(t, big.NewInt(42000), res.GasUsed)
		assert.Equal(t, 2, caller.calls)
	})

	t.Run("balance override is passed through", func(t *testing.T) {
		caller := &fakeRawCaller{gasHex: "0x5208"}
		res := EstimateWithProvider(context.Background(), caller, transferOp(), &ProviderOptions{
			OverrideSenderBalance: new(big.Int).Lsh(big.NewInt(1), 128),
		}, nil, nil)

		require.False(t, res.Failed())
		require.Len(t, caller.args[0], 3, "override adds the third eth_estimateGas parameter")
	})
}
