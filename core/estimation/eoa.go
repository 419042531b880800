package estimation

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/wallet-core/core/accountop"
	"github.com/AvaProtocol/wallet-core/core/config"
	"github.com/AvaProtocol/wallet-core/metrics"
	"github.com/AvaProtocol/wallet-core/pkg/logger"
	"github.com/AvaProtocol/wallet-core/pkg/retry"
)

// estimationHelper is a stateless helper contract deployed at the same
// address on every supported network. Its simulate() replays the call and
// reports gas used, the L1 data fee on rollups, and the sender's post-call
// balance in one round-trip.
var estimationHelper = common.HexToAddress("0x00000000000000000000000000000000008453Ea")

const estimationHelperABI = `[{"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],"name":"simulate","outputs":[{"name":"gasUsed","type":"uint256"},{"name":"l1Fee","type":"uint256"},{"name":"balance","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var helperABI abi.ABI

func init() {
	var err error
	helperABI, err = abi.JSON(strings.NewReader(estimationHelperABI))
	if err != nil {
		panic(fmt.Errorf("invalid estimation helper ABI: %w", err))
	}
}

// eoaProbe is one probe's contribution to the EOA estimate.
type eoaProbe struct {
	gas     *big.Int
	l1Fee   *big.Int
	balance *big.Int
}

// EstimateEOA estimates a basic-account transaction. Valid only for exactly
// one call; anything else fails closed with a pre-built error result. Two
// probes run in parallel through the retry harness: a direct eth_estimateGas
// and the helper-contract simulation. For plain transfers the direct
// estimate is exact and trusted as-is; for contract calls the maximum of the
// two wins, since either side can undercount on its own.
func EstimateEOA(ctx context.Context, provider Provider, network *config.Network, op *accountop.AccountOp, report func(string), lgr logger.Logger) *Result {
	lgr = logger.EnsureLogger(lgr)

	if len(op.Calls) != 1 {
		return &Result{Err: errors.New(BatchNotSupportedError)}
	}
	call := op.Calls[0]

	nonce, err := provider.NonceAt(ctx, op.Account, nil)
	if err != nil {
		lgr.Errorf("nonce fetch failed for %s: %v", op.Account.Hex(), err)
		return &Result{Err: errors.New(NonceFetchError)}
	}

	factory := func() []retry.Probe[eoaProbe] {
		return []retry.Probe[eoaProbe]{
			func(ctx context.Context) (eoaProbe, error) {
				gas, err := provider.EstimateGas(ctx, ethereum.CallMsg{
					From:  op.Account,
					To:    call.To,
					Value: call.Value,
					Data:  call.Data,
				})
				if err != nil {
					return eoaProbe{}, err
				}
				return eoaProbe{gas: new(big.Int).SetUint64(gas)}, nil
			},
			func(ctx context.Context) (eoaProbe, error) {
				return simulateCall(ctx, provider, op.Account, call)
			},
		}
	}

	m := metrics.Default()
	probes, err := retry.Batch(ctx, estimationTag, factory, report, lgr, &retry.Options{OnRetry: m.IncEstimationRetry})
	if err != nil {
		m.IncEstimation("eoa", "failed")
		return &Result{Err: err}
	}
	m.IncEstimation("eoa", "ok")
	direct, simulated := probes[0], probes[1]

	gasUsed := direct.gas
	if !call.IsPlainTransfer() && simulated.gas.Cmp(gasUsed) > 0 {
		gasUsed = simulated.gas
	}

	nativeOption := accountop.FeePaymentOption{
		Payer: op.Account,
		Role:  accountop.RoleSelfEOA,
		Token: accountop.FeeToken{
			Symbol:   network.NativeSymbol,
			Decimals: network.NativeDecimals,
		},
		AvailableAmount: simulated.balance,
		AddedNative:     simulated.l1Fee,
	}

	return &Result{
		GasUsed:      gasUsed,
		CurrentNonce: new(big.Int).SetUint64(nonce),
		FeeOptions:   []accountop.FeePaymentOption{nativeOption},
	}
}

func simulateCall(ctx context.Context, provider Provider, from common.Address, call accountop.Call) (eoaProbe, error) {
	to := common.Address{}
	if call.To != nil {
		to = *call.To
	}
	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}
	input, err := helperABI.Pack("simulate", from, to, value, call.Data)
	if err != nil {
		return eoaProbe{}, fmt.Errorf("cannot encode simulation input: %w", err)
	}

	helper := estimationHelper
	out, err := provider.CallContract(ctx, ethereum.CallMsg{To: &helper, Data: input}, nil)
	if err != nil {
		return eoaProbe{}, err
	}

	vals, err := helperABI.Unpack("simulate", out)
	if err != nil || len(vals) != 3 {
		return eoaProbe{}, errors.New(SimulationDecodeError)
	}
	gasUsed, ok1 := vals[0].(*big.Int)
	l1Fee, ok2 := vals[1].(*big.Int)
	balance, ok3 := vals[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return eoaProbe{}, errors.New(SimulationDecodeError)
	}
	return eoaProbe{gas: gasUsed, l1Fee: l1Fee, balance: balance}, nil
}
