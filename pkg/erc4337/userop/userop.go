// Package userop holds the EIP-4337 UserOperation structure and its
// JSON-RPC wire form (EntryPoint v0.6, unpacked layout).
package userop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperation is the in-memory representation used while building and
// estimating an operation. All big.Int fields are treated as unsigned.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// Wire is the hex-string JSON shape bundlers and paymaster services expect.
type Wire struct {
	Sender               common.Address `json:"sender"`
	Nonce                string         `json:"nonce"`
	InitCode             string         `json:"initCode"`
	CallData             string         `json:"callData"`
	CallGasLimit         string         `json:"callGasLimit"`
	VerificationGasLimit string         `json:"verificationGasLimit"`
	PreVerificationGas   string         `json:"preVerificationGas"`
	MaxFeePerGas         string         `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string         `json:"maxPriorityFeePerGas"`
	PaymasterAndData     string         `json:"paymasterAndData"`
	Signature            string         `json:"signature"`
}

func hexNum(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return fmt.Sprintf("0x%x", v)
}

func hexBytes(b []byte) string {
	return fmt.Sprintf("0x%x", b)
}

// ToWire converts the operation to its JSON-RPC shape.
func (op *UserOperation) ToWire() Wire {
	return Wire{
		Sender:               op.Sender,
		Nonce:                hexNum(op.Nonce),
		InitCode:             hexBytes(op.InitCode),
		CallData:             hexBytes(op.CallData),
		CallGasLimit:         hexNum(op.CallGasLimit),
		VerificationGasLimit: hexNum(op.VerificationGasLimit),
		PreVerificationGas:   hexNum(op.PreVerificationGas),
		MaxFeePerGas:         hexNum(op.MaxFeePerGas),
		MaxPriorityFeePerGas: hexNum(op.MaxPriorityFeePerGas),
		PaymasterAndData:     hexBytes(op.PaymasterAndData),
		Signature:            hexBytes(op.Signature),
	}
}

// DeepCopy returns an independent copy of the operation.
func (op *UserOperation) DeepCopy() *UserOperation {
	cp := &UserOperation{Sender: op.Sender}
	if op.Nonce != nil {
		cp.Nonce = new(big.Int).Set(op.Nonce)
	}
	if op.CallGasLimit != nil {
		cp.CallGasLimit = new(big.Int).Set(op.CallGasLimit)
	}
	if op.VerificationGasLimit != nil {
		cp.VerificationGasLimit = new(big.Int).Set(op.VerificationGasLimit)
	}
	if op.PreVerificationGas != nil {
		cp.PreVerificationGas = new(big.Int).Set(op.PreVerificationGas)
	}
	if op.MaxFeePerGas != nil {
		cp.MaxFeePerGas = new(big.Int).Set(op.MaxFeePerGas)
	}
	if op.MaxPriorityFeePerGas != nil {
		cp.MaxPriorityFeePerGas = new(big.Int).Set(op.MaxPriorityFeePerGas)
	}
	cp.InitCode = append([]byte(nil), op.InitCode...)
	cp.CallData = append([]byte(nil), op.CallData...)
	cp.PaymasterAndData = append([]byte(nil), op.PaymasterAndData...)
	cp.Signature = append([]byte(nil), op.Signature...)
	return cp
}

// SpoofSignature returns a 65-byte placeholder signature. Bundlers only
// length-check the signature during estimation, so the content does not
// matter; it must never be broadcast.
func SpoofSignature() []byte {
	seed := crypto.Keccak256(common.FromHex("0xdead123"))
	sig := make([]byte, 65)
	copy(sig, seed)
	copy(sig[32:], seed)
	sig[64] = 27
	return sig
}
