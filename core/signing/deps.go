package signing

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Signer produces signatures with one key. Implementations may be local
// keys, hardware wallets, or remote signers; the controller does not care.
type Signer interface {
	SignTypedData(ctx context.Context, data []byte) ([]byte, error)
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

// Initer is optionally implemented by signers that need a handle back to
// the controller, e.g. hardware wallets that report progress.
type Initer interface {
	Init(controller *Controller)
}

// Keystore resolves a key reference to a ready Signer.
type Keystore interface {
	GetSigner(addr common.Address, keyType string) (Signer, error)
}

// PortfolioToken is one asset position as the portfolio reports it.
type PortfolioToken struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Amount   decimal.Decimal
	USDValue decimal.Decimal
}

// PortfolioState is a per-account snapshot. Ready is false while the
// portfolio is still loading; consumers must not act on a half-loaded state.
type PortfolioState struct {
	Ready    bool
	TotalUSD decimal.Decimal
	Tokens   []PortfolioToken
}

// Portfolio exposes the latest confirmed state and the simulated pending
// state that includes the effects of this operation.
type Portfolio interface {
	LatestState(account common.Address, chainID int64) PortfolioState
	PendingState(account common.Address, chainID int64) PortfolioState
}
