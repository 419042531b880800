package estimation

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/wallet-core/core/accountop"
	"github.com/AvaProtocol/wallet-core/core/config"
	"github.com/AvaProtocol/wallet-core/core/paymaster"
	"github.com/AvaProtocol/wallet-core/metrics"
	"github.com/AvaProtocol/wallet-core/pkg/erc4337/bundler"
	"github.com/AvaProtocol/wallet-core/pkg/erc4337/userop"
	"github.com/AvaProtocol/wallet-core/pkg/logger"
	"github.com/AvaProtocol/wallet-core/pkg/retry"
)

// Default gas limits for estimation requests. Bundlers replace them with
// their own numbers; they only need to pass the initial sanity checks.
var (
	defaultCallGasLimit         = big.NewInt(200_000)
	defaultVerificationGasLimit = big.NewInt(1_000_000)
	defaultPreVerificationGas   = big.NewInt(50_000)
)

// feeTokenGasOverhead is the extra gas a token fee payment costs on top of
// the operation itself: the ERC-20 transfer plus the paymaster postOp.
var feeTokenGasOverhead = big.NewInt(34_000)

const accountExecuteABI = `[{"inputs":[{"components":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],"name":"calls","type":"tuple[]"}],"name":"executeBatch","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

var executeABI abi.ABI

func init() {
	var err error
	executeABI, err = abi.JSON(strings.NewReader(accountExecuteABI))
	if err != nil {
		panic(fmt.Errorf("invalid account execute ABI: %w", err))
	}
}

type batchedCall struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// BuildCallData packs the batch (plus fee and activator calls, when present)
// into the smart account's executeBatch calldata.
func BuildCallData(op *accountop.AccountOp) ([]byte, error) {
	calls := make([]batchedCall, 0, len(op.Calls)+2)
	appendCall := func(c accountop.Call) {
		to := common.Address{}
		if c.To != nil {
			to = *c.To
		}
		value := c.Value
		if value == nil {
			value = big.NewInt(0)
		}
		calls = append(calls, batchedCall{To: to, Value: value, Data: c.Data})
	}
	if op.ActivatorCall != nil {
		appendCall(*op.ActivatorCall)
	}
	for _, c := range op.Calls {
		appendCall(c)
	}
	if op.FeeCall != nil {
		appendCall(*op.FeeCall)
	}
	return executeABI.Pack("executeBatch", calls)
}

// BuildUserOperation assembles the canonical UserOperation for op with a
// spoofed signature, safe for estimation only.
func BuildUserOperation(op *accountop.AccountOp) (*userop.UserOperation, error) {
	callData, err := BuildCallData(op)
	if err != nil {
		return nil, fmt.Errorf("cannot encode the account call data: %w", err)
	}
	nonce := op.Nonce
	if nonce == nil {
		nonce = big.NewInt(0)
	}
	return &userop.UserOperation{
		Sender:               op.Account,
		Nonce:                new(big.Int).Set(nonce),
		CallData:             callData,
		CallGasLimit:         new(big.Int).Set(defaultCallGasLimit),
		VerificationGasLimit: new(big.Int).Set(defaultVerificationGasLimit),
		PreVerificationGas:   new(big.Int).Set(defaultPreVerificationGas),
		MaxFeePerGas:         big.NewInt(0),
		MaxPriorityFeePerGas: big.NewInt(0),
		Signature:            userop.SpoofSignature(),
	}, nil
}

type bundlerProbe struct {
	prices *bundler.GasPrices
	est    *bundler.GasEstimation
}

// Estimate4337 runs the bundler estimation loop: build the operation, fetch
// the gas price table and the gas limits through the retry harness, and on
// failure decode the bundler error, record non-fatal markers, and fail over
// to the next bundler when the switcher permits it.
func Estimate4337(
	ctx context.Context,
	switcher *bundler.Switcher,
	pm *paymaster.Coordinator,
	network *config.Network,
	op *accountop.AccountOp,
	feeTokens []FeeTokenBalance,
	report func(string),
	lgr logger.Logger,
) *Result {
	lgr = logger.EnsureLogger(lgr)
	m := metrics.Default()

	// The estimate must cover the batch as it will be signed. With the
	// wallet's own paymaster the signed batch carries an extra fee call, so
	// a placeholder one is included here.
	if fc := pm.FeeCallForEstimation(); fc != nil && op.FeeCall == nil {
		shadow := *op
		shadow.FeeCall = fc
		op = &shadow
	}

	uop, err := BuildUserOperation(op)
	if err != nil {
		return &Result{Err: err}
	}
	entryPoint := network.EntryPointAddress()

	stub, err := pm.EstimationData(ctx, uop, entryPoint)
	if err != nil {
		return &Result{Err: err}
	}
	uop.PaymasterAndData = stub

	var nonFatals []error
	for {
		active := switcher.Current()

		factory := func() []retry.Probe[bundlerProbe] {
			return []retry.Probe[bundlerProbe]{
				func(ctx context.Context) (bundlerProbe, error) {
					prices, err := active.FetchGasPrices(ctx)
					if err != nil {
						return bundlerProbe{}, err
					}
					return bundlerProbe{prices: prices}, nil
				},
				func(ctx context.Context) (bundlerProbe, error) {
					est, err := active.Estimate(ctx, uop, entryPoint)
					if err != nil {
						return bundlerProbe{}, err
					}
					return bundlerProbe{est: est}, nil
				},
			}
		}

		probes, err := retry.Batch(ctx, estimationTag, factory, report, lgr, &retry.Options{OnRetry: m.IncEstimationRetry})
		if err != nil {
			decoded := active.DecodeError(err)
			if decoded.NonFatal() {
				nonFatals = append(nonFatals, decoded)
			}
			if switcher.CanSwitch(decoded) {
				m.IncBundlerSwitch(active.Name())
				switcher.Switch()
				continue
			}
			m.IncEstimation("erc4337", "failed")
			return &Result{Err: errors.New(decoded.Message), NonFatalErrors: nonFatals}
		}

		m.IncEstimation("erc4337", "ok")
		prices, est := probes[0].prices, probes[1].est
		return &Result{
			GasUsed:      new(big.Int).Set(est.CallGasLimit),
			CurrentNonce: new(big.Int).Set(uop.Nonce),
			FeeOptions:   feeOptions4337(pm, op, feeTokens),
			Erc4337: &Erc4337Estimation{
				GasLimits: est,
				GasPrices: prices,
			},
			NonFatalErrors: nonFatals,
		}
	}
}

func feeOptions4337(pm *paymaster.Coordinator, op *accountop.AccountOp, feeTokens []FeeTokenBalance) []accountop.FeePaymentOption {
	options := make([]accountop.FeePaymentOption, 0, len(feeTokens))
	for _, ft := range feeTokens {
		// Paying in anything but native requires a paymaster to front the
		// bundler.
		if !ft.Token.IsNative() && !pm.IsUsable() {
			continue
		}
		opt := accountop.FeePaymentOption{
			Payer:           op.Account,
			Role:            accountop.RoleERC4337,
			Token:           ft.Token,
			AvailableAmount: ft.Balance,
		}
		if !ft.Token.IsNative() {
			opt.GasOverhead = new(big.Int).Set(feeTokenGasOverhead)
		}
		options = append(options, opt)
	}
	return options
}
