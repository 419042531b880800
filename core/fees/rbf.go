package fees

import (
	"math/big"

	"github.com/AvaProtocol/wallet-core/core/accountop"
	"github.com/AvaProtocol/wallet-core/core/rbfstore"
)

// rbfDivisors: replacing an "ape" op demands a 50% bump, anything else the
// protocol-minimum 12.5% floor.
func rbfDivisor(newSpeed accountop.SpeedKind) int64 {
	if newSpeed == accountop.SpeedApe {
		return 2
	}
	return 8
}

// BumpGasPrice returns the minimum acceptable replacement gas price given a
// pending unconfirmed op: at least previous × (1 + 1/divisor) and at least
// the freshly proposed price, whichever is higher. When the prior broadcast
// failed with "replacement fee too low", the bump instead starts from the
// last signed price and adds an extra 1%.
func BumpGasPrice(rec *rbfstore.Record, proposed *big.Int, newSpeed accountop.SpeedKind) *big.Int {
	if rec == nil {
		return proposed
	}
	div := big.NewInt(rbfDivisor(newSpeed))

	base := rec.GasPriceBig()
	extra := big.NewInt(0)
	if rec.FailedReplacementTooLow {
		if signed := rec.LastSignedBig(); signed != nil {
			base = signed
			extra = new(big.Int).Div(signed, big.NewInt(100))
		}
	}
	if base == nil {
		return proposed
	}

	min := new(big.Int).Add(base, new(big.Int).Div(base, div))
	min.Add(min, extra)

	if proposed != nil && proposed.Cmp(min) > 0 {
		return proposed
	}
	return min
}
