// Package accountop defines the shared data model of the estimation and
// signing pipeline: the AccountOp call batch, its fee payment, and the fee
// payment options estimation produces.
package accountop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/wallet-core/pkg/erc4337/userop"
)

// SpeedKind is a gas-price tier.
type SpeedKind string

const (
	SpeedSlow   SpeedKind = "slow"
	SpeedMedium SpeedKind = "medium"
	SpeedFast   SpeedKind = "fast"
	SpeedApe    SpeedKind = "ape"
)

// Speeds lists all tiers, cheapest first.
var Speeds = []SpeedKind{SpeedSlow, SpeedMedium, SpeedFast, SpeedApe}

// Call is one call within an AccountOp batch. A nil To means contract
// deployment.
type Call struct {
	To    *common.Address
	Value *big.Int
	Data  []byte
}

// IsPlainTransfer reports whether the call is a bare native transfer, for
// which a direct eth_estimateGas is exact.
func (c *Call) IsPlainTransfer() bool {
	return c.To != nil && len(c.Data) == 0
}

// DeepCopy returns an independent copy of the call.
func (c *Call) DeepCopy() Call {
	cp := Call{}
	if c.To != nil {
		to := *c.To
		cp.To = &to
	}
	if c.Value != nil {
		cp.Value = new(big.Int).Set(c.Value)
	}
	cp.Data = append([]byte(nil), c.Data...)
	return cp
}

// KeyReference points at a key in the external keystore.
type KeyReference struct {
	Address common.Address
	Type    string
}

// GasFeePayment is the single chosen way an AccountOp pays its fee.
type GasFeePayment struct {
	PaidBy               common.Address
	IsERC4337            bool
	IsGasTank            bool
	InToken              common.Address // zero address means the native asset
	Symbol               string
	Amount               *big.Int
	SimulatedGasLimit    uint64
	GasPrice             *big.Int
	MaxPriorityFeePerGas *big.Int
	Speed                SpeedKind
}

func (p *GasFeePayment) DeepCopy() *GasFeePayment {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Amount != nil {
		cp.Amount = new(big.Int).Set(p.Amount)
	}
	if p.GasPrice != nil {
		cp.GasPrice = new(big.Int).Set(p.GasPrice)
	}
	if p.MaxPriorityFeePerGas != nil {
		cp.MaxPriorityFeePerGas = new(big.Int).Set(p.MaxPriorityFeePerGas)
	}
	return &cp
}

// AccountOp is one atomic batch of calls for one account and network with
// one fee payment.
type AccountOp struct {
	Account       common.Address
	ChainID       *big.Int
	Nonce         *big.Int
	Calls         []Call
	GasLimit      uint64
	GasFeePayment *GasFeePayment
	Signature     []byte
	SigningKey    *KeyReference
	FeeCall       *Call
	ActivatorCall *Call
	UserOperation *userop.UserOperation
	Meta          map[string]string
}

// DeepCopy returns a fully independent copy, so a finalized signed result can
// never alias a live, still-mutable AccountOp.
func (op *AccountOp) DeepCopy() *AccountOp {
	cp := &AccountOp{
		Account:  op.Account,
		GasLimit: op.GasLimit,
	}
	if op.ChainID != nil {
		cp.ChainID = new(big.Int).Set(op.ChainID)
	}
	if op.Nonce != nil {
		cp.Nonce = new(big.Int).Set(op.Nonce)
	}
	cp.Calls = make([]Call, len(op.Calls))
	for i := range op.Calls {
		cp.Calls[i] = op.Calls[i].DeepCopy()
	}
	cp.GasFeePayment = op.GasFeePayment.DeepCopy()
	cp.Signature = append([]byte(nil), op.Signature...)
	if op.SigningKey != nil {
		key := *op.SigningKey
		cp.SigningKey = &key
	}
	if op.FeeCall != nil {
		fc := op.FeeCall.DeepCopy()
		cp.FeeCall = &fc
	}
	if op.ActivatorCall != nil {
		ac := op.ActivatorCall.DeepCopy()
		cp.ActivatorCall = &ac
	}
	if op.UserOperation != nil {
		cp.UserOperation = op.UserOperation.DeepCopy()
	}
	if op.Meta != nil {
		cp.Meta = make(map[string]string, len(op.Meta))
		for k, v := range op.Meta {
			cp.Meta[k] = v
		}
	}
	return cp
}

// PayerRole distinguishes who broadcasts and who pays.
type PayerRole string

const (
	// RoleSelfEOA is a basic account paying its own fee in native.
	RoleSelfEOA PayerRole = "eoa"
	// RoleEOAForAccount is an EOA broadcasting and paying for a smart
	// account.
	RoleEOAForAccount PayerRole = "eoaForAccount"
	// RoleRelayer is a relayer-broadcast smart account paying in token or
	// from the gas tank.
	RoleRelayer PayerRole = "relayer"
	// RoleERC4337 is a smart account going through a bundler.
	RoleERC4337 PayerRole = "erc4337"
)

// FeeToken describes an asset a fee can be paid in.
type FeeToken struct {
	Address   common.Address // zero address means native
	Symbol    string
	Decimals  uint8
	OnGasTank bool
}

// IsNative reports whether the token is the chain's native asset.
func (t FeeToken) IsNative() bool {
	return t.Address == (common.Address{})
}

// FeePaymentOption is one way the current AccountOp could pay its fee.
type FeePaymentOption struct {
	Payer           common.Address
	Role            PayerRole
	Token           FeeToken
	AvailableAmount *big.Int
	// AddedNative is a surcharge already denominated in native, e.g. the
	// L1 data fee on rollups.
	AddedNative *big.Int
	// GasOverhead is extra gas the payment mechanism itself costs; nil
	// when the option carries none.
	GasOverhead *big.Int
}
