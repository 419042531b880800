package estimation

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AvaProtocol/wallet-core/core/accountop"
	"github.com/AvaProtocol/wallet-core/metrics"
	"github.com/AvaProtocol/wallet-core/pkg/logger"
	"github.com/AvaProtocol/wallet-core/pkg/retry"
)

// ProviderOptions tunes the generic provider estimation path.
type ProviderOptions struct {
	// OverrideSenderBalance replaces the sender's balance during the
	// estimate, so a zero-balance sender can still be simulated.
	OverrideSenderBalance *big.Int
}

// EstimateWithProvider is the lighter fallback path: a raw eth_estimateGas
// with an optional balance state override, used when full contract
// simulation is unnecessary.
func EstimateWithProvider(ctx context.Context, caller RawCaller, op *accountop.AccountOp, opts *ProviderOptions, report func(string), lgr logger.Logger) *Result {
	lgr = logger.EnsureLogger(lgr)

	if len(op.Calls) == 0 {
		return &Result{Err: fmt.Errorf("nothing to estimate")}
	}

	total := big.NewInt(0)
	factory := func() []retry.Probe[*big.Int] {
		probes := make([]retry.Probe[*big.Int], 0, len(op.Calls))
		for _, call := range op.Calls {
			call := call
			probes = append(probes, func(ctx context.Context) (*big.Int, error) {
				return estimateSingle(ctx, caller, op, call, opts)
			})
		}
		return probes
	}

	m := metrics.Default()
	results, err := retry.Batch(ctx, estimationTag, factory, report, lgr, &retry.Options{OnRetry: m.IncEstimationRetry})
	if err != nil {
		m.IncEstimation("provider", "failed")
		return &Result{Err: err}
	}
	m.IncEstimation("provider", "ok")
	for _, gas := range results {
		total.Add(total, gas)
	}
	return &Result{GasUsed: total}
}

func estimateSingle(ctx context.Context, caller RawCaller, op *accountop.AccountOp, call accountop.Call, opts *ProviderOptions) (*big.Int, error) {
	callObj := map[string]interface{}{
		"from": op.Account.Hex(),
	}
	if call.To != nil {
		callObj["to"] = call.To.Hex()
	}
	if call.Value != nil && call.Value.Sign() > 0 {
		callObj["value"] = hexutil.EncodeBig(call.Value)
	}
	if len(call.Data) > 0 {
		callObj["data"] = hexutil.Encode(call.Data)
	}

	args := []interface{}{callObj, "latest"}
	if opts != nil && opts.OverrideSenderBalance != nil {
		args = append(args, map[string]interface{}{
			op.Account.Hex(): map[string]interface{}{
				"balance": hexutil.EncodeBig(opts.OverrideSenderBalance),
			},
		})
	}

	var gasHex string
	if err := caller.CallContext(ctx, &gasHex, "eth_estimateGas", args...); err != nil {
		return nil, err
	}
	gas, err := hexutil.DecodeBig(gasHex)
	if err != nil {
		return nil, fmt.Errorf("malformed gas estimate %q: %w", gasHex, err)
	}
	return gas, nil
}
