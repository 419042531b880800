// Package estimation implements the three estimation strategies: direct EOA
// probing, the ERC-4337 bundler path, and a lighter generic provider path.
// All of them normalize to the same Result so downstream fee logic is
// estimator-agnostic.
package estimation

import (
	"math/big"

	"github.com/AvaProtocol/wallet-core/core/accountop"
	"github.com/AvaProtocol/wallet-core/pkg/erc4337/bundler"
)

// Erc4337Estimation carries the bundler-reported gas limits and per-speed
// gas price table.
type Erc4337Estimation struct {
	GasLimits *bundler.GasEstimation
	GasPrices *bundler.GasPrices
}

// Result is the normalized outcome of any estimation strategy. Err marks the
// whole estimate as failed; NonFatalErrors carry markers (an out-of-date
// nonce, a missing price) that upstream policy may act on without discarding
// the estimate.
type Result struct {
	GasUsed        *big.Int
	CurrentNonce   *big.Int
	FeeOptions     []accountop.FeePaymentOption
	Erc4337        *Erc4337Estimation
	Err            error
	NonFatalErrors []error
}

// Failed reports whether the estimation as a whole is unusable.
func (r *Result) Failed() bool {
	return r == nil || r.Err != nil
}

// FeeTokenBalance pairs a candidate fee token with the account's balance in
// it, as reported by the portfolio.
type FeeTokenBalance struct {
	Token   accountop.FeeToken
	Balance *big.Int
}
